package execute

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"mantiskv/hlc"
	"mantiskv/latch"
	"mantiskv/locktable"
	"mantiskv/storage"
	"mantiskv/txn"
)

func newExecutor(t *testing.T) *Executor {
	t.Helper()
	eng := storage.NewMemEngine(nil)
	if err := eng.Init(t.TempDir()); err != nil {
		t.Fatalf("init engine: %v", err)
	}
	return New(eng, latch.NewManager(), locktable.New())
}

func newTxn(readTS, writeTS hlc.Timestamp) *txn.Txn {
	return txn.New(uuid.New(), readTS, writeTS)
}

func mustRun(t *testing.T, e *Executor, req Request) Response {
	t.Helper()
	resp, err := e.ExecuteRequestWithConcurrencyRetries(context.Background(), req)
	if err != nil {
		t.Fatalf("request %v failed: %v", req.Kind, err)
	}
	return resp
}

func TestPutThenGetSameTxnSeesOwnUncommittedWrite(t *testing.T) {
	e := newExecutor(t)
	tx := newTxn(hlc.New(1, 0), hlc.New(1, 0))
	mustRun(t, e, Request{Kind: BeginTxn, Txn: tx})
	mustRun(t, e, Request{Kind: Put, Txn: tx, Key: []byte("foo"), Value: []byte("bar")})

	resp := mustRun(t, e, Request{Kind: Get, Txn: tx, Key: []byte("foo")})
	if !resp.Found || string(resp.Value) != "bar" {
		t.Fatalf("got found=%v value=%q, want bar", resp.Found, resp.Value)
	}
}

func TestGetWaitsForEarlierUncommittedWriterThenSeesCommit(t *testing.T) {
	e := newExecutor(t)
	writer := newTxn(hlc.New(10, 0), hlc.New(10, 0))
	reader := newTxn(hlc.New(11, 0), hlc.New(11, 0))

	mustRun(t, e, Request{Kind: BeginTxn, Txn: writer})
	mustRun(t, e, Request{Kind: Put, Txn: writer, Key: []byte("foo"), Value: []byte("v1")})

	done := make(chan Response, 1)
	go func() {
		resp, err := e.ExecuteRequestWithConcurrencyRetries(context.Background(), Request{Kind: Get, Txn: reader, Key: []byte("foo")})
		if err != nil {
			t.Error(err)
			return
		}
		done <- resp
	}()

	select {
	case <-done:
		t.Fatal("reader should have blocked behind the uncommitted writer")
	case <-time.After(30 * time.Millisecond):
	}

	mustRun(t, e, Request{Kind: CommitTxn, Txn: writer})

	select {
	case resp := <-done:
		if !resp.Found || string(resp.Value) != "v1" {
			t.Fatalf("got found=%v value=%q, want v1", resp.Found, resp.Value)
		}
	case <-time.After(time.Second):
		t.Fatal("reader never woke after writer committed")
	}
}

func TestGetIgnoresLaterUncommittedIntent(t *testing.T) {
	e := newExecutor(t)
	writer := newTxn(hlc.New(12, 0), hlc.New(12, 0))
	reader := newTxn(hlc.New(10, 0), hlc.New(10, 0))

	mustRun(t, e, Request{Kind: BeginTxn, Txn: writer})
	mustRun(t, e, Request{Kind: Put, Txn: writer, Key: []byte("foo"), Value: []byte("v1")})

	resp := mustRun(t, e, Request{Kind: Get, Txn: reader, Key: []byte("foo")})
	if resp.Found {
		t.Fatalf("reader at ts=10 must not see an intent written at ts=12, got %q", resp.Value)
	}
}

func TestPutBumpsWriteTimestampOnWriteTooOld(t *testing.T) {
	e := newExecutor(t)
	first := newTxn(hlc.New(5, 0), hlc.New(5, 0))
	mustRun(t, e, Request{Kind: BeginTxn, Txn: first})
	mustRun(t, e, Request{Kind: Put, Txn: first, Key: []byte("foo"), Value: []byte("v1")})
	mustRun(t, e, Request{Kind: CommitTxn, Txn: first})

	late := newTxn(hlc.New(3, 0), hlc.New(3, 0))
	mustRun(t, e, Request{Kind: BeginTxn, Txn: late})
	mustRun(t, e, Request{Kind: Put, Txn: late, Key: []byte("foo"), Value: []byte("v2")})

	want := hlc.New(5, 0).NextLogical()
	if got := late.WriteTimestamp(); got != want {
		t.Fatalf("write timestamp = %v, want bumped past committed version: %v", got, want)
	}
}

func TestTwoWritersQueueBehindEachOther(t *testing.T) {
	e := newExecutor(t)
	first := newTxn(hlc.New(1, 0), hlc.New(1, 0))
	second := newTxn(hlc.New(1, 1), hlc.New(1, 1))

	mustRun(t, e, Request{Kind: BeginTxn, Txn: first})
	mustRun(t, e, Request{Kind: BeginTxn, Txn: second})
	mustRun(t, e, Request{Kind: Put, Txn: first, Key: []byte("foo"), Value: []byte("v1")})

	secondDone := make(chan struct{})
	go func() {
		mustRun(t, e, Request{Kind: Put, Txn: second, Key: []byte("foo"), Value: []byte("v2")})
		close(secondDone)
	}()

	select {
	case <-secondDone:
		t.Fatal("second writer should have queued behind the first")
	case <-time.After(30 * time.Millisecond):
	}

	mustRun(t, e, Request{Kind: CommitTxn, Txn: first})

	select {
	case <-secondDone:
	case <-time.After(time.Second):
		t.Fatal("second writer never unblocked after first committed")
	}

	mustRun(t, e, Request{Kind: CommitTxn, Txn: second})
	resp := mustRun(t, e, Request{Kind: Get, Txn: newTxn(hlc.New(100, 0), hlc.New(100, 0)), Key: []byte("foo")})
	if !resp.Found || string(resp.Value) != "v2" {
		t.Fatalf("got found=%v value=%q, want v2", resp.Found, resp.Value)
	}
}

func TestAbortDiscardsIntentAndUnblocksWaiters(t *testing.T) {
	e := newExecutor(t)
	writer := newTxn(hlc.New(1, 0), hlc.New(1, 0))
	reader := newTxn(hlc.New(2, 0), hlc.New(2, 0))

	mustRun(t, e, Request{Kind: BeginTxn, Txn: writer})
	mustRun(t, e, Request{Kind: Put, Txn: writer, Key: []byte("foo"), Value: []byte("v1")})

	done := make(chan Response, 1)
	go func() {
		resp, err := e.ExecuteRequestWithConcurrencyRetries(context.Background(), Request{Kind: Get, Txn: reader, Key: []byte("foo")})
		if err != nil {
			t.Error(err)
			return
		}
		done <- resp
	}()

	time.Sleep(20 * time.Millisecond)
	mustRun(t, e, Request{Kind: AbortTxn, Txn: writer})

	select {
	case resp := <-done:
		if resp.Found {
			t.Fatalf("aborted write must not be visible, got %q", resp.Value)
		}
	case <-time.After(time.Second):
		t.Fatal("reader never woke after writer aborted")
	}
}
