// Package execute implements the request executor: the orchestration layer
// that sequences latch acquisition, lock table enqueue, MVCC execution, and
// conflict resolution for a single request, retrying as many times as
// concurrency requires (spec.md §4.4).
package execute

import (
	"mantiskv/hlc"
	"mantiskv/latch"
	"mantiskv/txn"
)

// Kind identifies which operation a Request carries.
type Kind int

const (
	Get Kind = iota
	Put
	BeginTxn
	CommitTxn
	AbortTxn
)

// Request is the sum type the executor dispatches on. Exactly the fields
// relevant to Kind are populated; Txn is required for every Kind, BeginTxn
// included (its record key is derived from Txn.TxnID, so the caller builds
// the fresh Txn before the request).
type Request struct {
	Kind Kind
	Txn  *txn.Txn

	Key   []byte // Get, Put
	Value []byte // Put
}

// Response is the sum type the executor returns.
type Response struct {
	Kind Kind

	Found bool   // Get
	Value []byte // Get

	CommitTimestamp hlc.Timestamp // CommitTxn
	Committed       bool          // CommitTxn: false means the refresh failed and the txn was aborted instead
}

// spans returns the latch spans this request needs, and whether each is a
// read or a write, per spec.md §4.2. writeSetKeys are the keys the
// request's transaction has written: CommitTxn and AbortTxn latch each of
// them exclusively alongside the record key; other kinds ignore them.
func (r Request) spans(writeSetKeys [][]byte) []latch.SpanMode {
	switch r.Kind {
	case Get:
		return []latch.SpanMode{{Span: latch.Span{Start: r.Key, End: r.Key}, Mode: latch.Shared}}
	case Put:
		return []latch.SpanMode{{Span: latch.Span{Start: r.Key, End: r.Key}, Mode: latch.Exclusive}}
	case BeginTxn:
		rk := txn.RecordKey(r.Txn.TxnID)
		return []latch.SpanMode{{Span: latch.Span{Start: rk, End: rk}, Mode: latch.Exclusive}}
	case CommitTxn, AbortTxn:
		rk := txn.RecordKey(r.Txn.TxnID)
		spans := make([]latch.SpanMode, 0, 1+len(writeSetKeys))
		spans = append(spans, latch.SpanMode{Span: latch.Span{Start: rk, End: rk}, Mode: latch.Exclusive})
		for _, k := range writeSetKeys {
			spans = append(spans, latch.SpanMode{Span: latch.Span{Start: k, End: k}, Mode: latch.Exclusive})
		}
		return spans
	default:
		return nil
	}
}

// lockTableKeys returns the point key this request presents to the lock
// table's scan_and_enqueue, and whether it is read-only there. Only Get
// and Put contend there: CommitTxn/AbortTxn resolve locks directly via
// update_locks instead of enqueuing behind themselves.
func (r Request) lockTableKeys() ([][]byte, bool) {
	switch r.Kind {
	case Get:
		return [][]byte{r.Key}, true
	case Put:
		return [][]byte{r.Key}, false
	default:
		return nil, false
	}
}

// dedupeSpans removes duplicate (span, mode) entries, per spec.md §4.2's
// note that a request touching the same key more than once must still
// latch it exactly once.
func dedupeSpans(in []latch.SpanMode) []latch.SpanMode {
	type key struct {
		start, end string
		mode       latch.Mode
	}
	seen := make(map[key]bool, len(in))
	out := make([]latch.SpanMode, 0, len(in))
	for _, sm := range in {
		k := key{string(sm.Span.Start), string(sm.Span.End), sm.Mode}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, sm)
	}
	return out
}
