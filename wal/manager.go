package wal

import (
	"bufio"
	"os"
	"path/filepath"
	"sync"
)

// SyncMode controls how aggressively Manager flushes writes to disk,
// the same knob as the teacher's WALFileManagerConfig.SyncMode, trimmed
// to the two modes a single-node embedded engine needs.
type SyncMode int

const (
	// SyncAlways fsyncs after every Append — every commit survives a
	// crash, at the cost of one fsync per write.
	SyncAlways SyncMode = iota
	// SyncNever never fsyncs explicitly, relying on the OS to flush the
	// page cache eventually. Used by tests that don't want fsyncs, and by
	// cmd/mantiskv when durability.sync_on_every_write is false.
	SyncNever
)

// Manager appends Entries to a single log file and assigns LSNs,
// trimmed from the teacher's WALFileManager: no rotation, no archival,
// no background sync goroutine — this engine recovers from one file on
// Open and has no retention policy to enforce (see DESIGN.md).
type Manager struct {
	mu       sync.Mutex
	file     *os.File
	writer   *bufio.Writer
	syncMode SyncMode
	nextLSN  uint64
}

// open creates or appends to the log file at path without replaying it
// — callers needing recovery should go through Recover instead, which
// opens the file, replays it, and returns the resulting Manager.
func open(path string, syncMode SyncMode) (*Manager, uint64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, 0, err
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, 0, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	entries := splitEntries(data)
	var lastLSN uint64
	for _, e := range entries {
		if e.LSN > lastLSN {
			lastLSN = e.LSN
		}
	}
	if _, err := f.Seek(0, os.SEEK_END); err != nil {
		f.Close()
		return nil, 0, err
	}
	m := &Manager{
		file:     f,
		writer:   bufio.NewWriter(f),
		syncMode: syncMode,
		nextLSN:  lastLSN + 1,
	}
	return m, uint64(len(entries)), nil
}

// Append writes op on key/value as the next log entry, assigning it the
// next LSN, and fsyncs immediately if syncMode is SyncAlways.
func (m *Manager) Append(op OperationType, key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := &Entry{LSN: m.nextLSN, Op: op, Key: key, Value: value}
	if _, err := m.writer.Write(e.Serialize()); err != nil {
		return err
	}
	if err := m.writer.Flush(); err != nil {
		return err
	}
	m.nextLSN++
	if m.syncMode == SyncAlways {
		return m.file.Sync()
	}
	return nil
}

// Sync flushes any buffered writes and fsyncs the file.
func (m *Manager) Sync() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writer.Flush(); err != nil {
		return err
	}
	return m.file.Sync()
}

// Close flushes and closes the underlying file.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writer.Flush(); err != nil {
		m.file.Close()
		return err
	}
	return m.file.Close()
}

// NextLSN returns the LSN the next Append will assign.
func (m *Manager) NextLSN() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextLSN
}
