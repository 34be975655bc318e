// Package wal implements the write-ahead log the underlying engine
// collaborator (spec.md §6) is backed by, adapted from the teacher's
// wal/entry.go + wal/file_manager.go: the on-disk entry format, checksum,
// and sequential file writer/reader are kept; the teacher's multi-file
// rotation/archival and its higher-level transaction-aware RecoveryEngine
// are trimmed, since this engine's recovery only ever needs to replay one
// file's raw engine mutations and then resolve intents against txn
// records — see DESIGN.md for the full trim rationale.
package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// OperationType identifies what an Entry did to the underlying engine.
// Unlike the teacher's Operation (which distinguishes Insert/Update and
// carries an OldValue for logical undo), this engine's mutations are
// already idempotent raw key/value writes or deletes — MVCC versioning
// makes "update" and "insert" indistinguishable at this layer, and
// rollback is handled above the WAL by never writing a commit record for
// an aborted transaction's intents.
type OperationType uint32

const (
	OpPut OperationType = iota + 1
	OpDelete
)

func (o OperationType) String() string {
	switch o {
	case OpPut:
		return "Put"
	case OpDelete:
		return "Delete"
	default:
		return fmt.Sprintf("Unknown(%d)", o)
	}
}

// Entry is a single logged engine mutation: Put or Delete of a raw
// engine key (a versioned MVCC key, an intent key, or a txn record key
// — the WAL doesn't distinguish, it logs whatever the Engine itself
// saw). LSN is assigned by the Manager when the entry is appended.
type Entry struct {
	LSN   uint64
	Op    OperationType
	Key   []byte
	Value []byte
}

// header is the fixed-size prefix of a serialized Entry: LSN(8) +
// Op(4) + KeyLen(4) + ValueLen(4) + Checksum(4), mirroring the teacher's
// WALEntryHeader layout minus the TxnID/Timestamp fields this domain's
// entries don't carry (transaction identity lives in the logged key's
// payload, not the WAL record).
const headerSize = 8 + 4 + 4 + 4 + 4

// Serialize encodes e as header + key + value, with a CRC32 checksum
// over everything but the checksum field itself.
func (e *Entry) Serialize() []byte {
	buf := make([]byte, headerSize+len(e.Key)+len(e.Value))
	binary.LittleEndian.PutUint64(buf[0:8], e.LSN)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(e.Op))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(len(e.Key)))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(len(e.Value)))
	copy(buf[headerSize:], e.Key)
	copy(buf[headerSize+len(e.Key):], e.Value)

	checksum := crc32.ChecksumIEEE(checksumBytes(buf))
	binary.LittleEndian.PutUint32(buf[20:24], checksum)
	return buf
}

// checksumBytes returns buf with the checksum field (bytes 20:24)
// excluded, matching what Serialize computed the checksum over.
func checksumBytes(buf []byte) []byte {
	out := make([]byte, 0, len(buf)-4)
	out = append(out, buf[:20]...)
	out = append(out, buf[24:]...)
	return out
}

// DeserializeEntry parses one Entry from the front of data, returning
// the entry and the number of bytes it consumed. ErrInvalidEntry means
// data doesn't even hold a full header/payload (a torn write at the
// tail of the file, the normal case after an unclean shutdown);
// ErrChecksumMismatch means the payload present is corrupt.
func DeserializeEntry(data []byte) (*Entry, int, error) {
	if len(data) < headerSize {
		return nil, 0, ErrInvalidEntry
	}
	lsn := binary.LittleEndian.Uint64(data[0:8])
	op := OperationType(binary.LittleEndian.Uint32(data[8:12]))
	keyLen := binary.LittleEndian.Uint32(data[12:16])
	valueLen := binary.LittleEndian.Uint32(data[16:20])
	checksum := binary.LittleEndian.Uint32(data[20:24])

	total := headerSize + int(keyLen) + int(valueLen)
	if len(data) < total {
		return nil, 0, ErrInvalidEntry
	}

	actual := crc32.ChecksumIEEE(checksumBytes(data[:total]))
	if actual != checksum {
		return nil, 0, ErrChecksumMismatch
	}

	key := append([]byte(nil), data[headerSize:headerSize+int(keyLen)]...)
	value := append([]byte(nil), data[headerSize+int(keyLen):total]...)
	return &Entry{LSN: lsn, Op: op, Key: key, Value: value}, total, nil
}

// splitEntries decodes every whole Entry present in data, in order,
// stopping (without error) at the first truncated or corrupt record —
// the tail of a log left by a process that died mid-append.
func splitEntries(data []byte) []*Entry {
	var entries []*Entry
	for len(data) > 0 {
		e, n, err := DeserializeEntry(data)
		if err != nil {
			break
		}
		entries = append(entries, e)
		data = data[n:]
	}
	return entries
}
