// Package locktable implements the lock table: long-lived, transaction-
// scoped tracking of write intents and the readers/writers queued behind
// them (spec.md §4.3). Unlike the latch manager, a LockState can outlive
// many requests — it is only cleared when the owning transaction commits
// or aborts.
package locktable

import (
	"sync"

	"github.com/google/uuid"

	"mantiskv/txn"
)

// WaitKind is the state machine a LockTableGuard moves through while
// queued (spec.md §3, LockTableGuard).
type WaitKind int

const (
	DoneWaiting WaitKind = iota
	Waiting
	WaitFor
	WaitForDistinguished
)

// WaitState is a guard's current position in that state machine.
type WaitState struct {
	Kind  WaitKind
	TxnID uuid.UUID // meaningful only for WaitFor / WaitForDistinguished
}

// Guard is the per-request handle the lock table hands back from
// ScanAndEnqueue / AddDiscoveredLock. It is reference-counted across the
// executor and the lock table by identity (GuardID); queues hold the
// pointer, not a copy.
type Guard struct {
	GuardID    uuid.UUID
	Txn        *txn.Txn
	IsReadOnly bool

	mu        sync.Mutex
	state     WaitState
	notifyCh  chan struct{} // closed, then replaced, each time state changes
}

func newGuard(t *txn.Txn, isReadOnly bool) *Guard {
	return &Guard{
		GuardID:    uuid.New(),
		Txn:        t,
		IsReadOnly: isReadOnly,
		state:      WaitState{Kind: DoneWaiting},
		notifyCh:   make(chan struct{}),
	}
}

// State returns the guard's current wait state.
func (g *Guard) State() WaitState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// setState updates the guard's wait state and wakes anyone blocked in
// WaitFor on it.
func (g *Guard) setState(s WaitState) {
	g.mu.Lock()
	g.state = s
	ch := g.notifyCh
	g.notifyCh = make(chan struct{})
	g.mu.Unlock()
	close(ch)
}

func (g *Guard) channel() chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.notifyCh
}

// Request is the minimal view of an in-flight request the lock table
// needs: which transaction issued it, whether it's read-only, and which
// keys it touches.
type Request struct {
	Txn        *txn.Txn
	IsReadOnly bool
	Keys       [][]byte
}

// LockState is the lock-table entry for exactly one key.
type LockState struct {
	mu             sync.Mutex
	holder         *txn.TxnMetadata
	reservation    *Guard
	queuedWriters  []*Guard
	waitingReaders map[uuid.UUID]*Guard
}

func newLockState() *LockState {
	return &LockState{waitingReaders: make(map[uuid.UUID]*Guard)}
}

// isEmptyLocked reports whether the key is garbage-collectable: no
// holder, no reservation, no queued writers, no waiting readers.
func (ls *LockState) isEmptyLocked() bool {
	return ls.holder == nil && ls.reservation == nil && len(ls.queuedWriters) == 0 && len(ls.waitingReaders) == 0
}

// GetHolderTxnID returns the txn ID of the current holder, if any.
func (ls *LockState) GetHolderTxnID() (uuid.UUID, bool) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.holder == nil {
		return uuid.UUID{}, false
	}
	return ls.holder.TxnID, true
}

// QueuedWriterIDs returns the guard IDs queued as writers, in FIFO order.
func (ls *LockState) QueuedWriterIDs() []uuid.UUID {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ids := make([]uuid.UUID, len(ls.queuedWriters))
	for i, g := range ls.queuedWriters {
		ids[i] = g.GuardID
	}
	return ids
}

// WaitingReaderIDs returns the guard IDs of waiting readers, unordered.
func (ls *LockState) WaitingReaderIDs() []uuid.UUID {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(ls.waitingReaders))
	for id := range ls.waitingReaders {
		ids = append(ids, id)
	}
	return ids
}

// ReservationGuardID returns the reservation holder's guard ID, if any.
func (ls *LockState) ReservationGuardID() (uuid.UUID, bool) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.reservation == nil {
		return uuid.UUID{}, false
	}
	return ls.reservation.GuardID, true
}

// LockTable tracks one LockState per locked key.
type LockTable struct {
	mu    sync.Mutex
	locks map[string]*LockState
}

// New constructs an empty lock table.
func New() *LockTable {
	return &LockTable{locks: make(map[string]*LockState)}
}

// GetLockState returns the LockState for key, if one exists.
func (lt *LockTable) GetLockState(key []byte) (*LockState, bool) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	ls, ok := lt.locks[string(key)]
	return ls, ok
}

func (lt *LockTable) getOrCreateLocked(key []byte) *LockState {
	k := string(key)
	ls, ok := lt.locks[k]
	if !ok {
		ls = newLockState()
		lt.locks[k] = ls
	}
	return ls
}

// ScanAndEnqueue implements spec.md §4.3's scan_and_enqueue: build a guard
// for request, then for every key it touches either let it through
// (should_wait=false) or queue it behind the existing holder/reservation.
func (lt *LockTable) ScanAndEnqueue(req Request) (shouldWait bool, guard *Guard) {
	guard = newGuard(req.Txn, req.IsReadOnly)
	anyWait := false
	for _, key := range req.Keys {
		if lt.scanAndEnqueueKey(key, guard) {
			anyWait = true
		}
	}
	if anyWait {
		guard.setState(WaitState{Kind: Waiting})
	} else {
		guard.setState(WaitState{Kind: DoneWaiting})
	}
	return anyWait, guard
}

// scanAndEnqueueKey applies the per-key rules from spec.md §4.3 and
// reports whether this guard had to queue on key.
func (lt *LockTable) scanAndEnqueueKey(key []byte, guard *Guard) bool {
	lt.mu.Lock()
	ls, exists := lt.locks[string(key)]
	lt.mu.Unlock()
	if !exists {
		return false
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	if ls.isEmptyLocked() {
		return false
	}

	if ls.holder != nil {
		if ls.holder.TxnID == guard.Txn.TxnID {
			// This transaction already holds the key (e.g. a retry after a
			// wait, a second write to the same key within one txn, or a read
			// of its own pending write); it does not queue behind itself.
			return false
		}
		if guard.IsReadOnly {
			readTS := guard.Txn.ReadTimestamp()
			if readTS.Less(ls.holder.WriteTimestamp) {
				// Intent is not visible to this reader: do not enqueue, do
				// not wait (spec.md §4.3, read_request_with_smaller_timestamp_than_lock_holder).
				return false
			}
			ls.waitingReaders[guard.GuardID] = guard
			return true
		}
		ls.queuedWriters = append(ls.queuedWriters, guard)
		return true
	}

	if ls.reservation != nil {
		if !guard.IsReadOnly && ls.reservation.Txn.TxnID == guard.Txn.TxnID {
			// Retrying the same request that was just promoted to
			// reservation: it proceeds rather than queuing behind its own
			// reservation (a fresh Guard is minted on every ScanAndEnqueue
			// call, so identity alone can't recognize this).
			return false
		}
		if guard.IsReadOnly {
			readTS := guard.Txn.ReadTimestamp()
			if readTS.GreaterEq(ls.reservation.Txn.WriteTimestamp()) {
				ls.waitingReaders[guard.GuardID] = guard
				return true
			}
			return false
		}
		ls.queuedWriters = append(ls.queuedWriters, guard)
		return true
	}

	return false
}

// AddDiscoveredLock is called by the executor when the MVCC scanner
// surfaces an intent the lock table didn't already know about. It
// creates the LockState with the intent's owner installed as holder, and
// enqueues the discovering guard exactly as ScanAndEnqueue would have.
func (lt *LockTable) AddDiscoveredLock(guard *Guard, intent txn.TxnIntent) {
	lt.mu.Lock()
	ls := lt.getOrCreateLocked(intent.Key)
	lt.mu.Unlock()

	ls.mu.Lock()
	meta := intent.TxnMeta
	ls.holder = &meta
	if guard.IsReadOnly {
		ls.waitingReaders[guard.GuardID] = guard
	} else {
		ls.queuedWriters = append(ls.queuedWriters, guard)
	}
	ls.mu.Unlock()

	guard.setState(WaitState{Kind: Waiting})
}

// AcquireAsHolder installs meta as the holder of key's LockState, creating
// the state if needed. The executor calls this after a Put request's
// ScanAndEnqueue came back with should_wait=false, per spec.md §4.4 —
// registering the write so future readers/writers queue behind it even
// though nothing needed to wait to get here.
func (lt *LockTable) AcquireAsHolder(key []byte, meta txn.TxnMetadata) {
	lt.mu.Lock()
	ls := lt.getOrCreateLocked(key)
	lt.mu.Unlock()

	ls.mu.Lock()
	ls.holder = &meta
	if ls.reservation != nil && ls.reservation.Txn.TxnID == meta.TxnID {
		// The reservation this holder was fulfilling is now subsumed by
		// holder; clear it so isEmptyLocked/UpdateLocks don't see a stale
		// reservation pointing at an already-superseded guard (ScanAndEnqueue
		// mints a fresh Guard per call, so the promoted guard's identity
		// never reappears).
		ls.reservation = nil
	}
	ls.mu.Unlock()
}

// WaitFor blocks until guard's wait state becomes DoneWaiting. It returns
// when update_locks (or Dequeue, on cancellation) flips the guard's
// state; the caller (the executor) is responsible for deciding whether
// that means "retry" or "resolved" — the lock table only exposes the
// notification.
func (lt *LockTable) WaitFor(guard *Guard) {
	for {
		// Read the state and the channel under one lock so a setState
		// between the two cannot swap in a channel that is never closed.
		guard.mu.Lock()
		done := guard.state.Kind == DoneWaiting
		ch := guard.notifyCh
		guard.mu.Unlock()
		if done {
			return
		}
		<-ch
	}
}

// UpdateLocks implements spec.md §4.3's update_locks: called when
// finalizedTxnID commits or aborts. For every LockState it holds, clear
// the holder, wake all waiting readers, promote the next queued writer
// (if any) to reservation, and report whether the LockState is now
// garbage-collectable.
func (lt *LockTable) UpdateLocks(key []byte, finalizedTxnID uuid.UUID) (canGC bool) {
	ls, ok := lt.GetLockState(key)
	if !ok {
		return true
	}

	ls.mu.Lock()
	if ls.holder == nil || ls.holder.TxnID != finalizedTxnID {
		ls.mu.Unlock()
		return false
	}
	ls.holder = nil

	readers := ls.waitingReaders
	ls.waitingReaders = make(map[uuid.UUID]*Guard)

	var promoted *Guard
	if len(ls.queuedWriters) > 0 {
		promoted = ls.queuedWriters[0]
		ls.queuedWriters = ls.queuedWriters[1:]
		ls.reservation = promoted
	}
	gc := ls.isEmptyLocked() && promoted == nil
	ls.mu.Unlock()

	for _, r := range readers {
		r.setState(WaitState{Kind: DoneWaiting})
	}
	if promoted != nil {
		promoted.setState(WaitState{Kind: DoneWaiting})
	}

	if gc {
		lt.mu.Lock()
		delete(lt.locks, string(key))
		lt.mu.Unlock()
		return true
	}
	return false
}

// Dequeue removes guard from whatever queues it occupies across every
// LockState, symmetric to ScanAndEnqueue/AddDiscoveredLock. It is
// idempotent: calling it twice, or on a guard that never queued
// anywhere, is a no-op.
func (lt *LockTable) Dequeue(guard *Guard) {
	lt.mu.Lock()
	states := make([]*LockState, 0, len(lt.locks))
	for _, ls := range lt.locks {
		states = append(states, ls)
	}
	lt.mu.Unlock()

	for _, ls := range states {
		ls.mu.Lock()
		if _, ok := ls.waitingReaders[guard.GuardID]; ok {
			delete(ls.waitingReaders, guard.GuardID)
		}
		for i, w := range ls.queuedWriters {
			if w.GuardID == guard.GuardID {
				ls.queuedWriters = append(ls.queuedWriters[:i], ls.queuedWriters[i+1:]...)
				break
			}
		}
		if ls.reservation != nil && ls.reservation.GuardID == guard.GuardID {
			ls.reservation = nil
		}
		ls.mu.Unlock()
	}
	guard.setState(WaitState{Kind: DoneWaiting})
}
