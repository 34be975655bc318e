package latch

import (
	"sync"
	"testing"
	"time"
)

func span(key string) Span {
	return Span{Start: []byte(key), End: []byte(key)}
}

func TestSharedSharedDoNotBlock(t *testing.T) {
	m := NewManager()
	g1 := m.Acquire([]SpanMode{{Span: span("foo"), Mode: Shared}})
	done := make(chan struct{})
	go func() {
		g2 := m.Acquire([]SpanMode{{Span: span("foo"), Mode: Shared}})
		m.Release(g2)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("shared acquire blocked on another shared latch")
	}
	m.Release(g1)
}

func TestExclusiveBlocksOverlapping(t *testing.T) {
	m := NewManager()
	g1 := m.Acquire([]SpanMode{{Span: span("foo"), Mode: Exclusive}})

	acquired := make(chan struct{})
	go func() {
		g2 := m.Acquire([]SpanMode{{Span: span("foo"), Mode: Shared}})
		close(acquired)
		m.Release(g2)
	}()

	select {
	case <-acquired:
		t.Fatal("exclusive latch did not block overlapping shared request")
	case <-time.After(50 * time.Millisecond):
	}

	m.Release(g1)
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter never woke after release")
	}
}

func TestNonOverlappingSpansDoNotBlock(t *testing.T) {
	m := NewManager()
	g1 := m.Acquire([]SpanMode{{Span: span("a"), Mode: Exclusive}})
	done := make(chan struct{})
	go func() {
		g2 := m.Acquire([]SpanMode{{Span: span("z"), Mode: Exclusive}})
		m.Release(g2)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disjoint spans should not block each other")
	}
	m.Release(g1)
}

func TestWriterDoesNotStarveUnderSteadyReaders(t *testing.T) {
	m := NewManager()
	blocker := m.Acquire([]SpanMode{{Span: span("foo"), Mode: Shared}})

	writerDone := make(chan struct{})
	go func() {
		g := m.Acquire([]SpanMode{{Span: span("foo"), Mode: Exclusive}})
		m.Release(g)
		close(writerDone)
	}()

	// give the writer time to enqueue behind the first reader
	time.Sleep(20 * time.Millisecond)

	var wg sync.WaitGroup
	laterReaderBlocked := make(chan struct{}, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		g := m.Acquire([]SpanMode{{Span: span("foo"), Mode: Shared}})
		select {
		case <-writerDone:
		default:
			laterReaderBlocked <- struct{}{}
		}
		m.Release(g)
	}()

	m.Release(blocker)
	wg.Wait()

	select {
	case <-writerDone:
	default:
		t.Fatal("writer starved by later reader")
	}
}
