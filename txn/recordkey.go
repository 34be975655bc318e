package txn

import (
	"bytes"

	"github.com/google/uuid"
)

// recordKeyPrefix marks a transaction record's raw engine key. It is
// written directly through Engine.Put/Get/Delete rather than through the
// MVCC key encoding in package storage — transaction records have no
// timestamp dimension and are looked up by transaction ID, never scanned
// by range. The prefix avoids the two MVCC separator bytes (0x00, 0x01) so
// a record key can never be misread as a versioned or intent key by the
// MVCC scanner if a scan range happens to span it.
var recordKeyPrefix = []byte("\x7ftxn\x7f")

// RecordKey builds the raw engine key a transaction's Record is stored
// under.
func RecordKey(txnID uuid.UUID) []byte {
	buf := make([]byte, 0, len(recordKeyPrefix)+16)
	buf = append(buf, recordKeyPrefix...)
	buf = append(buf, txnID[:]...)
	return buf
}

// IsRecordKey reports whether key is a transaction record key, for
// callers (e.g. the WAL's restart-recovery walk) that scan the raw
// engine keyspace and must tell record keys apart from MVCC keys
// without going through RecordKey itself.
func IsRecordKey(key []byte) bool {
	return bytes.HasPrefix(key, recordKeyPrefix)
}

// RecordTxnID extracts the transaction ID from a key for which
// IsRecordKey reports true.
func RecordTxnID(key []byte) (uuid.UUID, bool) {
	if !IsRecordKey(key) || len(key) != len(recordKeyPrefix)+16 {
		return uuid.UUID{}, false
	}
	var id uuid.UUID
	copy(id[:], key[len(recordKeyPrefix):])
	return id, true
}
