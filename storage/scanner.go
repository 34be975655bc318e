package storage

import (
	"bytes"

	"mantiskv/hlc"
	"mantiskv/txn"
)

// FoundIntent pairs a discovered intent with its pending value, exactly as
// spec.md §4.1 describes the scanner's found_intents output.
type FoundIntent struct {
	Intent txn.TxnIntent
	Value  []byte
}

// Result is one committed (key, value) pair the scanner decided is
// visible at its read timestamp.
type Result struct {
	Key   MVCCKey
	Value []byte
}

// Scanner is the bounded, timestamp-filtered read over an Iterator
// described in spec.md §4.1. Scan does not consult ScannerTxnID: every
// intent, including one the calling transaction itself owns, is reported
// in FoundIntents, and the executor decides how to treat it (see the
// same-txn design note in spec.md §9).
type Scanner struct {
	it              *Iterator
	StartKey        Key
	EndKey          Key // nil => single-key get, end defaults to StartKey
	Timestamp       hlc.Timestamp
	MaxRecordsCount int
	ScannerTxnID    *[16]byte

	Results       []Result
	FoundIntents  []FoundIntent
}

// NewScanner constructs a Scanner. maxRecordsCount <= 0 means unbounded.
func NewScanner(it *Iterator, startKey Key, endKey Key, timestamp hlc.Timestamp, maxRecordsCount int) *Scanner {
	return &Scanner{
		it:              it,
		StartKey:        startKey,
		EndKey:          endKey,
		Timestamp:       timestamp,
		MaxRecordsCount: maxRecordsCount,
	}
}

// Scan runs the algorithm from spec.md §4.1 to completion.
func (s *Scanner) Scan() {
	s.it.SeekGE(MVCCKey{Key: s.StartKey})
	for {
		if s.MaxRecordsCount > 0 && len(s.Results) == s.MaxRecordsCount {
			return
		}
		if !s.it.Valid() {
			return
		}
		current := s.it.CurrentKey()
		if s.EndKey != nil {
			if greater(current.Key, s.EndKey) {
				return
			}
		} else if greater(current.Key, s.StartKey) {
			return
		}
		s.visitCurrentKey()
		s.advanceToNextKey()
	}
}

func greater(a, b Key) bool {
	return bytes.Compare(a, b) > 0
}

// visitCurrentKey tries to add the current user key to the result set,
// exactly following get_current_key in spec.md §4.1 / the original
// storage/mvcc_scanner.rs.
func (s *Scanner) visitCurrentKey() bool {
	current := s.it.CurrentKey()
	if current.IsIntentKey() {
		value, err := txn.DecodeUncommittedValue(s.it.CurrentValue())
		if err != nil {
			// A corrupt intent payload is a storage invariant violation,
			// not a retryable condition.
			panic("storage: undecodable intent value for key " + string(current.Key))
		}
		intent := txn.TxnIntent{TxnMeta: value.TxnMetadata, Key: append([]byte(nil), current.Key...)}
		s.FoundIntents = append(s.FoundIntents, FoundIntent{Intent: intent, Value: value.Value})
		return false
	}

	if s.Timestamp.GreaterEq(current.Timestamp) {
		s.Results = append(s.Results, Result{Key: current, Value: s.it.CurrentValue()})
		return true
	}
	return s.seekOlderVersion(current.Key, s.Timestamp)
}

// seekOlderVersion tries to land on the newest version <= timestamp for
// key and add it, returning whether anything was added.
func (s *Scanner) seekOlderVersion(key Key, timestamp hlc.Timestamp) bool {
	s.it.SeekGE(MVCCKey{Key: key, Timestamp: timestamp})
	if !s.it.Valid() {
		return false
	}
	current := s.it.CurrentKey()
	if !bytes.Equal(current.Key, key) {
		return false
	}
	s.Results = append(s.Results, Result{Key: current, Value: s.it.CurrentValue()})
	return true
}

// advanceToNextKey repeatedly steps the iterator until the user key
// changes, skipping any remaining older versions of the current key.
func (s *Scanner) advanceToNextKey() {
	if !s.it.Valid() {
		return
	}
	current := s.it.CurrentKey()
	for {
		s.it.Next()
		if !s.it.Valid() {
			return
		}
		next := s.it.CurrentKey()
		if !bytes.Equal(current.Key, next.Key) {
			return
		}
	}
}
