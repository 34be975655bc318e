// Package latch implements the latch manager: short-lived, request-scoped
// mutual exclusion over key ranges (spec.md §4.2). It knows nothing about
// transactions — only about the lifetime of a single in-flight request.
package latch

import (
	"bytes"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Mode is the access mode a request is requesting over a span.
type Mode int

const (
	Shared Mode = iota
	Exclusive
)

// Span is an inclusive key range [Start, End].
type Span struct {
	Start []byte
	End   []byte
}

// overlaps reports whether s and other share at least one key.
func (s Span) overlaps(other Span) bool {
	return bytes.Compare(s.Start, other.End) <= 0 && bytes.Compare(other.Start, s.End) <= 0
}

// SpanMode pairs a span with the mode a request wants to hold it in.
type SpanMode struct {
	Span Span
	Mode Mode
}

// compatible reports whether two (span, mode) requests can be held
// simultaneously: Shared is compatible with Shared; anything paired with
// Exclusive over an overlapping range is not.
func compatible(a, b SpanMode) bool {
	if !a.Span.overlaps(b.Span) {
		return true
	}
	return a.Mode == Shared && b.Mode == Shared
}

// Guard represents one request's held latches. Release drops all of them.
type Guard struct {
	id    uuid.UUID
	spans []SpanMode
}

type waiter struct {
	ticket uint64
	spans  []SpanMode
}

// Manager is the latch manager. A single Manager instance is shared by
// every request the executor processes; it outlives any individual
// request.
type Manager struct {
	mu         sync.Mutex
	cond       *sync.Cond
	active     map[uuid.UUID][]SpanMode
	waiting    []waiter
	nextTicket uint64
}

// NewManager constructs an empty latch manager.
func NewManager() *Manager {
	m := &Manager{active: make(map[uuid.UUID][]SpanMode)}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Acquire blocks until all of spans are compatible with every latch
// currently held, then grants them atomically as a single Guard. Spans
// are sorted by Start before granting — and before ever being compared
// against other waiters — so that a request that never suspends takes its
// latches in a fixed order, the deadlock-avoidance invariant in spec.md §5.
func (m *Manager) Acquire(spans []SpanMode) *Guard {
	sorted := append([]SpanMode(nil), spans...)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].Span.Start, sorted[j].Span.Start) < 0
	})

	m.mu.Lock()
	defer m.mu.Unlock()

	ticket := m.nextTicket
	m.nextTicket++
	m.waiting = append(m.waiting, waiter{ticket: ticket, spans: sorted})

	for !m.canGrantLocked(ticket, sorted) {
		m.cond.Wait()
	}

	m.removeWaiterLocked(ticket)
	id := uuid.New()
	m.active[id] = sorted
	return &Guard{id: id, spans: sorted}
}

// canGrantLocked reports whether sorted can be granted right now: it must
// be compatible with every currently active guard, and with every
// still-waiting request that arrived earlier (smaller ticket) — the FIFO
// fairness rule that keeps a steady stream of readers from starving a
// waiting writer.
func (m *Manager) canGrantLocked(ticket uint64, sorted []SpanMode) bool {
	for _, held := range m.active {
		if !allCompatible(sorted, held) {
			return false
		}
	}
	for _, w := range m.waiting {
		if w.ticket >= ticket {
			continue
		}
		if !allCompatible(sorted, w.spans) {
			return false
		}
	}
	return true
}

func allCompatible(a, b []SpanMode) bool {
	for _, x := range a {
		for _, y := range b {
			if !compatible(x, y) {
				return false
			}
		}
	}
	return true
}

func (m *Manager) removeWaiterLocked(ticket uint64) {
	for i, w := range m.waiting {
		if w.ticket == ticket {
			m.waiting = append(m.waiting[:i], m.waiting[i+1:]...)
			return
		}
	}
}

// Release drops every span the guard holds and wakes any waiters whose
// request may now be compatible.
func (m *Manager) Release(g *Guard) {
	if g == nil {
		return
	}
	m.mu.Lock()
	delete(m.active, g.id)
	m.mu.Unlock()
	m.cond.Broadcast()
}
