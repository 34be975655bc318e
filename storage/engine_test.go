package storage

import (
	"context"
	"testing"
)

func TestMemEngineOrderedIteration(t *testing.T) {
	eng := NewMemEngine(nil)
	if err := eng.Init(t.TempDir()); err != nil {
		t.Fatalf("init: %v", err)
	}
	ctx := context.Background()
	for _, k := range []string{"c", "a", "b"} {
		if err := eng.Put(ctx, []byte(k), []byte(k+"-val")); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}

	it, err := eng.NewEngineIterator(ctx)
	if err != nil {
		t.Fatalf("iterator: %v", err)
	}
	defer it.Close()

	it.SeekGE(nil)
	var got []string
	for it.Valid() {
		got = append(got, string(it.Key()))
		it.Next()
	}
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestMemEngineGetNotFound(t *testing.T) {
	eng := NewMemEngine(nil)
	eng.Init(t.TempDir())
	_, ok, err := eng.Get(context.Background(), []byte("missing"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatalf("expected not found")
	}
}

func TestMemEngineRequiresInit(t *testing.T) {
	eng := NewMemEngine(nil)
	if err := eng.Put(context.Background(), []byte("a"), []byte("b")); err != ErrNotInitialized {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestCompressingCodecRoundTrip(t *testing.T) {
	codec := NewCompressingCodec()
	for _, size := range []int{10, 2000, 6000, 20000} {
		data := make([]byte, size)
		for i := range data {
			data[i] = byte(i % 251)
		}
		encoded, err := codec.Encode(data)
		if err != nil {
			t.Fatalf("encode size %d: %v", size, err)
		}
		decoded, err := codec.Decode(encoded)
		if err != nil {
			t.Fatalf("decode size %d: %v", size, err)
		}
		if len(decoded) != len(data) {
			t.Fatalf("size %d: round trip length mismatch got %d want %d", size, len(decoded), len(data))
		}
		for i := range data {
			if decoded[i] != data[i] {
				t.Fatalf("size %d: round trip mismatch at byte %d", size, i)
			}
		}
	}
}
