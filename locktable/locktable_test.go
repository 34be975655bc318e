package locktable

import (
	"testing"

	"github.com/google/uuid"

	"mantiskv/hlc"
	"mantiskv/txn"
)

func testTxn(ts hlc.Timestamp) *txn.Txn {
	return txn.New(uuid.New(), ts, ts)
}

func TestAddDiscoveredLockEmptyTable(t *testing.T) {
	lt := New()
	key := []byte("foo")
	holder := testTxn(hlc.New(1, 1))
	guard := newGuard(testTxn(hlc.New(1, 1)), false)

	lt.AddDiscoveredLock(guard, holder.ToIntent(key))

	if guard.State().Kind != Waiting {
		t.Fatalf("guard state = %v, want Waiting", guard.State().Kind)
	}
	ls, ok := lt.GetLockState(key)
	if !ok {
		t.Fatalf("expected lock state to be created")
	}
	ids := ls.QueuedWriterIDs()
	if len(ids) != 1 || ids[0] != guard.GuardID {
		t.Fatalf("queued writers = %v, want [%v]", ids, guard.GuardID)
	}
	holderID, ok := ls.GetHolderTxnID()
	if !ok || holderID != holder.TxnID {
		t.Fatalf("holder = %v, want %v", holderID, holder.TxnID)
	}
}

func TestAddDiscoveredLockEnqueuesReaderAsWaitingReader(t *testing.T) {
	lt := New()
	key := []byte("foo")
	holder := testTxn(hlc.New(1, 1))
	reader := newGuard(testTxn(hlc.New(1, 1)), true)

	lt.AddDiscoveredLock(reader, holder.ToIntent(key))

	if reader.State().Kind != Waiting {
		t.Fatalf("reader should be Waiting")
	}
	ls, _ := lt.GetLockState(key)
	readers := ls.WaitingReaderIDs()
	if len(readers) != 1 || readers[0] != reader.GuardID {
		t.Fatalf("waiting readers = %v, want [%v]", readers, reader.GuardID)
	}
}

func TestScanAndEnqueueNoLockStateForKey(t *testing.T) {
	lt := New()
	req := Request{Txn: testTxn(hlc.New(1, 2)), Keys: [][]byte{[]byte("foo")}}
	shouldWait, guard := lt.ScanAndEnqueue(req)
	if shouldWait {
		t.Fatalf("expected should_wait=false for unlocked key")
	}
	if guard.State().Kind != DoneWaiting {
		t.Fatalf("guard state = %v, want DoneWaiting", guard.State().Kind)
	}
	if _, ok := lt.GetLockState([]byte("foo")); ok {
		t.Fatalf("scan_and_enqueue must not create a LockState for an unlocked key")
	}
}

func TestScanAndEnqueueQueuesWriteRequestBehindHeldLock(t *testing.T) {
	lt := New()
	key := []byte("foo")
	holder := testTxn(hlc.New(1, 1))
	discoverer := newGuard(testTxn(hlc.New(1, 1)), false)
	lt.AddDiscoveredLock(discoverer, holder.ToIntent(key))

	req := Request{Txn: testTxn(hlc.New(1, 2)), Keys: [][]byte{key}}
	shouldWait, guard := lt.ScanAndEnqueue(req)
	if !shouldWait {
		t.Fatalf("expected should_wait=true behind a held lock")
	}
	if guard.State().Kind != Waiting {
		t.Fatalf("guard state = %v, want Waiting", guard.State().Kind)
	}
	ls, _ := lt.GetLockState(key)
	ids := ls.QueuedWriterIDs()
	if len(ids) != 2 || ids[1] != guard.GuardID {
		t.Fatalf("queued writers = %v", ids)
	}
}

func TestReadRequestWithSmallerTimestampThanLockHolderDoesNotWait(t *testing.T) {
	lt := New()
	key := []byte("foo")
	holder := testTxn(hlc.New(2, 0))
	discoverer := newGuard(testTxn(hlc.New(2, 0)), false)
	lt.AddDiscoveredLock(discoverer, holder.ToIntent(key))

	req := Request{Txn: testTxn(hlc.New(1, 0)), IsReadOnly: true, Keys: [][]byte{key}}
	shouldWait, guard := lt.ScanAndEnqueue(req)
	if shouldWait {
		t.Fatalf("reader below holder's write timestamp must not wait")
	}
	if guard.State().Kind != DoneWaiting {
		t.Fatalf("guard state = %v, want DoneWaiting", guard.State().Kind)
	}
	ls, _ := lt.GetLockState(key)
	if len(ls.WaitingReaderIDs()) != 0 {
		t.Fatalf("reader must not be enqueued")
	}
}

func TestUpdateLocksPromotesQueuedWriterAsReservation(t *testing.T) {
	lt := New()
	key := []byte("foo")
	holder := testTxn(hlc.New(1, 0))
	firstWriter := newGuard(testTxn(hlc.New(1, 0)), false)
	lt.AddDiscoveredLock(firstWriter, holder.ToIntent(key))

	secondWriterTxn := testTxn(hlc.New(1, 1))
	req := Request{Txn: secondWriterTxn, Keys: [][]byte{key}}
	shouldWait, secondGuard := lt.ScanAndEnqueue(req)
	if !shouldWait {
		t.Fatalf("second writer must queue behind the first")
	}

	canGC := lt.UpdateLocks(key, holder.TxnID)
	if canGC {
		t.Fatalf("can_gc should be false: a writer was promoted to reservation")
	}

	ls, _ := lt.GetLockState(key)
	// firstWriter was queued first (by AddDiscoveredLock), so it is the head
	// of the FIFO writer queue and the one promoted.
	resID, ok := ls.ReservationGuardID()
	if !ok || resID != firstWriter.GuardID {
		t.Fatalf("reservation = %v, want %v", resID, firstWriter.GuardID)
	}
	if firstWriter.State().Kind != DoneWaiting {
		t.Fatalf("promoted writer should be DoneWaiting")
	}
	if secondGuard.State().Kind != Waiting {
		t.Fatalf("writer still queued should remain Waiting")
	}
}

func TestUpdateLocksWakesReadersAndAllowsGC(t *testing.T) {
	lt := New()
	key := []byte("foo")
	holder := testTxn(hlc.New(1, 0))
	reader := newGuard(testTxn(hlc.New(2, 0)), true)
	lt.AddDiscoveredLock(reader, holder.ToIntent(key))

	canGC := lt.UpdateLocks(key, holder.TxnID)
	if !canGC {
		t.Fatalf("expected can_gc=true with no queued writers")
	}
	if reader.State().Kind != DoneWaiting {
		t.Fatalf("reader should be woken to DoneWaiting")
	}
	if _, ok := lt.GetLockState(key); ok {
		t.Fatalf("garbage-collectable LockState must be removed")
	}
}

func TestDequeueIsIdempotentAndRemovesFromAllQueues(t *testing.T) {
	lt := New()
	key := []byte("foo")
	holder := testTxn(hlc.New(1, 0))
	writer := newGuard(testTxn(hlc.New(1, 0)), false)
	lt.AddDiscoveredLock(writer, holder.ToIntent(key))

	lt.Dequeue(writer)
	ls, _ := lt.GetLockState(key)
	if len(ls.QueuedWriterIDs()) != 0 {
		t.Fatalf("writer should have been removed from queue")
	}
	// second call must not panic or error
	lt.Dequeue(writer)
	if writer.State().Kind != DoneWaiting {
		t.Fatalf("dequeued guard should be DoneWaiting")
	}
}
