package wal

import (
	"path/filepath"
	"testing"
)

func TestAppendAssignsIncreasingLSNs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")
	m, lsn, err := open(path, SyncNever)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer m.Close()
	if lsn != 0 {
		t.Fatalf("replayed %d entries from an empty file, want 0", lsn)
	}

	if err := m.Append(OpPut, []byte("a"), []byte("1")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := m.Append(OpPut, []byte("b"), []byte("2")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if got := m.NextLSN(); got != 3 {
		t.Fatalf("NextLSN() = %d, want 3", got)
	}
}

func TestReopenContinuesLSNSequence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")
	m1, _, err := open(path, SyncAlways)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := m1.Append(OpPut, []byte("a"), []byte("1")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := m1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	m2, replayed, err := open(path, SyncAlways)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer m2.Close()
	if replayed != 1 {
		t.Fatalf("replayed %d entries on reopen, want 1", replayed)
	}
	if got := m2.NextLSN(); got != 2 {
		t.Fatalf("NextLSN() after reopen = %d, want 2", got)
	}
}
