// Package txn defines the in-memory transaction handle and the on-disk
// transaction record / intent envelope: the "Transaction record & intent
// model" component of the concurrency core.
package txn

import (
	"sync"

	"github.com/google/uuid"

	"mantiskv/hlc"
)

// TxnMetadata identifies a transaction and the timestamp its writes are
// (currently) stamped with. write_timestamp is monotonically non-decreasing
// over a transaction's lifetime — see Txn.BumpWriteTimestamp.
type TxnMetadata struct {
	TxnID          uuid.UUID     `yaml:"txn_id"`
	WriteTimestamp hlc.Timestamp `yaml:"write_timestamp"`
}

// TxnIntent is the envelope advertised to the lock table for a pending
// write: which transaction owns it, and which key it occupies.
type TxnIntent struct {
	TxnMeta TxnMetadata
	Key     []byte
}

// UncommittedValue is what gets written under an intent key: the pending
// value plus enough metadata for a reader to decide whether the intent is
// visible to it.
type UncommittedValue struct {
	Value       []byte      `yaml:"value"`
	TxnMetadata TxnMetadata `yaml:"txn_metadata"`
}

// Status is the lifecycle state of a persisted TxnRecord.
type Status int

const (
	Pending Status = iota
	Committed
	Aborted
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case Committed:
		return "COMMITTED"
	case Aborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// Record is the persisted counterpart of a Txn: created PENDING on begin,
// mutated to COMMITTED or ABORTED exactly once. Terminal states are
// durable and never revert.
type Record struct {
	Status   Status
	Metadata TxnMetadata
}

// Txn is the in-memory handle a request carries. read_timestamp is fixed
// at begin and never changes; write_timestamp (inside Metadata) may be
// bumped forward by write-too-old handling, but read_timestamp <=
// metadata.write_timestamp always holds.
type Txn struct {
	mu             sync.RWMutex
	TxnID          uuid.UUID
	metadata       TxnMetadata
	readTimestamp  hlc.Timestamp
}

// New creates a Txn with the given read and (initial) write timestamps.
// Per the invariant in spec.md §3, readTimestamp must be <= writeTimestamp.
func New(id uuid.UUID, readTimestamp, writeTimestamp hlc.Timestamp) *Txn {
	return &Txn{
		TxnID:         id,
		readTimestamp: readTimestamp,
		metadata: TxnMetadata{
			TxnID:          id,
			WriteTimestamp: writeTimestamp,
		},
	}
}

// ReadTimestamp returns the txn's fixed read timestamp.
func (t *Txn) ReadTimestamp() hlc.Timestamp {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.readTimestamp
}

// Metadata returns a snapshot of the txn's current metadata (including the
// possibly-bumped write timestamp).
func (t *Txn) Metadata() TxnMetadata {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.metadata
}

// WriteTimestamp returns the txn's current write timestamp.
func (t *Txn) WriteTimestamp() hlc.Timestamp {
	return t.Metadata().WriteTimestamp
}

// BumpWriteTimestamp advances metadata.write_timestamp to at least to. It
// never moves write_timestamp backwards; callers (write-too-old handling,
// pushes) pass the floor they want to guarantee.
func (t *Txn) BumpWriteTimestamp(to hlc.Timestamp) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.metadata.WriteTimestamp = hlc.Max(t.metadata.WriteTimestamp, to)
}

// ToIntent builds the TxnIntent envelope this txn would advertise for a
// write to key, at the txn's current metadata.
func (t *Txn) ToIntent(key []byte) TxnIntent {
	return TxnIntent{TxnMeta: t.Metadata(), Key: append([]byte(nil), key...)}
}

// NewIntent builds a TxnIntent directly from components, for reconstructing
// one read back from storage.
func NewIntent(txnID uuid.UUID, writeTimestamp hlc.Timestamp, key []byte) TxnIntent {
	return TxnIntent{
		TxnMeta: TxnMetadata{TxnID: txnID, WriteTimestamp: writeTimestamp},
		Key:     key,
	}
}
