package storage

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"mantiskv/hlc"
	"mantiskv/txn"
)

func putVersion(t *testing.T, eng *MemEngine, key string, ts hlc.Timestamp, value string) {
	t.Helper()
	mk := MVCCKey{Key: Key(key), Timestamp: ts}
	if err := eng.Put(context.Background(), mk.Encode(), []byte(value)); err != nil {
		t.Fatalf("put: %v", err)
	}
}

func putIntent(t *testing.T, eng *MemEngine, key string, txnID uuid.UUID, writeTS hlc.Timestamp, value string) {
	t.Helper()
	uv := txn.UncommittedValue{Value: []byte(value), TxnMetadata: txn.TxnMetadata{TxnID: txnID, WriteTimestamp: writeTS}}
	encoded, err := txn.EncodeUncommittedValue(uv)
	if err != nil {
		t.Fatalf("encode intent: %v", err)
	}
	if err := eng.Put(context.Background(), EncodeIntentKey(Key(key)), encoded); err != nil {
		t.Fatalf("put intent: %v", err)
	}
}

func newScanner(t *testing.T, eng *MemEngine, start, end string, ts hlc.Timestamp) *Scanner {
	t.Helper()
	eit, err := eng.NewEngineIterator(context.Background())
	if err != nil {
		t.Fatalf("iterator: %v", err)
	}
	var endKey Key
	if end != "" {
		endKey = Key(end)
	}
	return NewScanner(NewIterator(eit), Key(start), endKey, ts, 0)
}

func TestScanGetsNewestVersionAtOrBelowTimestamp(t *testing.T) {
	eng := NewMemEngine(nil)
	eng.Init(t.TempDir())
	putVersion(t, eng, "foo", hlc.New(10, 0), "v10")
	putVersion(t, eng, "foo", hlc.New(20, 0), "v20")

	s := newScanner(t, eng, "foo", "", hlc.New(15, 0))
	s.Scan()

	if len(s.Results) != 1 {
		t.Fatalf("want 1 result, got %d", len(s.Results))
	}
	if string(s.Results[0].Value) != "v10" {
		t.Fatalf("want v10, got %s", s.Results[0].Value)
	}
}

func TestScanSkipsKeyEntirelyIfOnlyNewerVersionsExist(t *testing.T) {
	eng := NewMemEngine(nil)
	eng.Init(t.TempDir())
	putVersion(t, eng, "foo", hlc.New(20, 0), "v20")

	s := newScanner(t, eng, "foo", "", hlc.New(10, 0))
	s.Scan()

	if len(s.Results) != 0 {
		t.Fatalf("want 0 results, got %d", len(s.Results))
	}
}

func TestScanRecordsIntentInsteadOfResult(t *testing.T) {
	eng := NewMemEngine(nil)
	eng.Init(t.TempDir())
	txnID := uuid.New()
	putIntent(t, eng, "foo", txnID, hlc.New(12, 0), "pending")

	s := newScanner(t, eng, "foo", "", hlc.New(20, 0))
	s.Scan()

	if len(s.Results) != 0 {
		t.Fatalf("want 0 results, got %d", len(s.Results))
	}
	if len(s.FoundIntents) != 1 {
		t.Fatalf("want 1 found intent, got %d", len(s.FoundIntents))
	}
	if s.FoundIntents[0].Intent.TxnMeta.TxnID != txnID {
		t.Fatalf("intent txn id mismatch")
	}
}

func TestScanOrdersResultsAcrossKeysAscending(t *testing.T) {
	eng := NewMemEngine(nil)
	eng.Init(t.TempDir())
	putVersion(t, eng, "a", hlc.New(5, 0), "va")
	putVersion(t, eng, "b", hlc.New(5, 0), "vb")
	putVersion(t, eng, "c", hlc.New(5, 0), "vc")

	s := newScanner(t, eng, "a", "z", hlc.New(10, 0))
	s.Scan()

	if len(s.Results) != 3 {
		t.Fatalf("want 3 results, got %d", len(s.Results))
	}
	for i, want := range []string{"a", "b", "c"} {
		if string(s.Results[i].Key.Key) != want {
			t.Fatalf("result %d key = %s, want %s", i, s.Results[i].Key.Key, want)
		}
	}
}

func TestScanMaxRecordsCount(t *testing.T) {
	eng := NewMemEngine(nil)
	eng.Init(t.TempDir())
	putVersion(t, eng, "a", hlc.New(5, 0), "va")
	putVersion(t, eng, "b", hlc.New(5, 0), "vb")

	s := NewScanner(func() *Iterator {
		eit, _ := eng.NewEngineIterator(context.Background())
		return NewIterator(eit)
	}(), Key("a"), Key("z"), hlc.New(10, 0), 1)
	s.Scan()

	if len(s.Results) != 1 {
		t.Fatalf("want 1 result, got %d", len(s.Results))
	}
}
