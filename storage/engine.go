package storage

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrNotInitialized mirrors the teacher storage engine's guard: every
// Engine method requires Init to have run first.
var ErrNotInitialized = errors.New("storage: engine not initialized")

// Engine is the underlying KV store collaborator described in spec.md §6:
// persistent, crash-safe atomic single-key writes plus an ordered
// iterator. The latch manager and lock table never touch it; the executor
// writes, deletes and point-reads intents, versions and txn records through
// Engine directly, and reads versioned data through the MVCC Iterator
// built on top of it.
type Engine interface {
	Init(dataDir string) error
	Close() error

	Put(ctx context.Context, key, value []byte) error
	Get(ctx context.Context, key []byte) ([]byte, bool, error)
	Delete(ctx context.Context, key []byte) error

	// NewEngineIterator returns a cursor ordered by raw key bytes,
	// positioned before the first entry.
	NewEngineIterator(ctx context.Context) (EngineIterator, error)
}

// EngineIterator is the ordered cursor over raw engine bytes that the
// MVCC Iterator seeks and advances.
type EngineIterator interface {
	SeekGE(key []byte)
	Next()
	Valid() bool
	Key() []byte
	Value() []byte
	Close() error
}

// MemEngine is an in-memory, lexicographically-ordered Engine. It plays
// the role the teacher's PureGoStorageEngine plays (storage/storage_pure.go)
// — a dependency-free default — generalized from an unordered map to a
// sorted slice so it can serve seek_ge/next the way a real LSM memtable
// would. An optional codec compresses values above a size threshold before
// they are stored (see compression.go).
type MemEngine struct {
	mu    sync.RWMutex
	keys  [][]byte
	vals  [][]byte
	ready bool
	codec ValueCodec
}

// NewMemEngine constructs a MemEngine. A nil codec disables compression.
func NewMemEngine(codec ValueCodec) *MemEngine {
	if codec == nil {
		codec = NoopCodec{}
	}
	return &MemEngine{codec: codec}
}

func (e *MemEngine) Init(dataDir string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ready = true
	return nil
}

func (e *MemEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ready = false
	e.keys = nil
	e.vals = nil
	return nil
}

func (e *MemEngine) search(key []byte) (int, bool) {
	i := sort.Search(len(e.keys), func(i int) bool { return bytes.Compare(e.keys[i], key) >= 0 })
	if i < len(e.keys) && bytes.Equal(e.keys[i], key) {
		return i, true
	}
	return i, false
}

func (e *MemEngine) Put(ctx context.Context, key, value []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.ready {
		return ErrNotInitialized
	}
	encoded, err := e.codec.Encode(value)
	if err != nil {
		return err
	}
	i, found := e.search(key)
	if found {
		e.vals[i] = encoded
		return nil
	}
	e.keys = append(e.keys, nil)
	e.vals = append(e.vals, nil)
	copy(e.keys[i+1:], e.keys[i:])
	copy(e.vals[i+1:], e.vals[i:])
	e.keys[i] = append([]byte(nil), key...)
	e.vals[i] = encoded
	return nil
}

func (e *MemEngine) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.ready {
		return nil, false, ErrNotInitialized
	}
	i, found := e.search(key)
	if !found {
		return nil, false, nil
	}
	decoded, err := e.codec.Decode(e.vals[i])
	if err != nil {
		return nil, false, err
	}
	return decoded, true, nil
}

func (e *MemEngine) Delete(ctx context.Context, key []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.ready {
		return ErrNotInitialized
	}
	i, found := e.search(key)
	if !found {
		return nil
	}
	e.keys = append(e.keys[:i], e.keys[i+1:]...)
	e.vals = append(e.vals[:i], e.vals[i+1:]...)
	return nil
}

func (e *MemEngine) NewEngineIterator(ctx context.Context) (EngineIterator, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.ready {
		return nil, ErrNotInitialized
	}
	// Snapshot the key/value slices: the underlying KV store is assumed to
	// provide a consistent iteration snapshot for the duration of a scan
	// (spec.md §5).
	keys := append([][]byte(nil), e.keys...)
	vals := append([][]byte(nil), e.vals...)
	return &memEngineIterator{keys: keys, vals: vals, codec: e.codec, pos: -1}, nil
}

type memEngineIterator struct {
	keys  [][]byte
	vals  [][]byte
	codec ValueCodec
	pos   int
}

func (it *memEngineIterator) SeekGE(key []byte) {
	it.pos = sort.Search(len(it.keys), func(i int) bool { return bytes.Compare(it.keys[i], key) >= 0 })
}

func (it *memEngineIterator) Next() {
	if it.pos < len(it.keys) {
		it.pos++
	}
}

func (it *memEngineIterator) Valid() bool {
	return it.pos >= 0 && it.pos < len(it.keys)
}

func (it *memEngineIterator) Key() []byte {
	return it.keys[it.pos]
}

func (it *memEngineIterator) Value() []byte {
	decoded, err := it.codec.Decode(it.vals[it.pos])
	if err != nil {
		return nil
	}
	return decoded
}

func (it *memEngineIterator) Close() error {
	it.keys = nil
	it.vals = nil
	return nil
}
