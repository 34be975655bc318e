// Package db implements the database façade (spec.md §4.5): transaction
// registry plus a manually-advanced clock sitting on top of the executor.
// It is the only entry point a caller outside this module is expected to
// use directly.
package db

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"mantiskv/dberrors"
	"mantiskv/dblog"
	"mantiskv/execute"
	"mantiskv/hlc"
	"mantiskv/latch"
	"mantiskv/locktable"
	"mantiskv/storage"
	"mantiskv/txn"
	"mantiskv/wal"
)

// DB is a single-node transactional key/value database: MVCC storage,
// latch and lock table concurrency control, and a request executor,
// wrapped in the begin/read/write/commit/abort API described in spec.md §6.
type DB struct {
	executor *execute.Executor
	engine   storage.Engine
	logger   *dblog.Logger

	mu          sync.RWMutex
	currentTime hlc.Timestamp
	txns        map[uuid.UUID]*txn.Txn
}

// Open creates a DB backed by an in-memory, compressing-codec engine
// fronted by a write-ahead log rooted at dataDir: on restart, dataDir's
// wal.log is replayed and its intents resolved against their
// transaction records before the DB becomes usable (spec.md §6's
// restart contract).
func Open(dataDir string) (*DB, error) {
	engine := wal.NewEngine(storage.NewMemEngine(storage.NewCompressingCodec()), wal.SyncAlways)
	return New(engine, dataDir)
}

// New wraps engine (already constructed, not yet initialized) in a DB,
// calling Init(dataDir) on it.
func New(engine storage.Engine, dataDir string) (*DB, error) {
	if err := engine.Init(dataDir); err != nil {
		return nil, dberrors.Storage("engine init", err)
	}
	return &DB{
		executor:    execute.New(engine, latch.NewManager(), locktable.New()),
		engine:      engine,
		logger:      dblog.New(dblog.Error+1, nil).WithComponent("db"),
		currentTime: hlc.New(10, 0),
		txns:        make(map[uuid.UUID]*txn.Txn),
	}, nil
}

// WithLogger attaches l, tagged with the "db" component, as the
// destination for this façade's and its executor's lifecycle events.
func (db *DB) WithLogger(l *dblog.Logger) *DB {
	db.logger = l.WithComponent("db")
	db.executor = db.executor.WithLogger(l)
	return db
}

// Close releases the underlying engine.
func (db *DB) Close() error {
	return db.engine.Close()
}

// SetTime overrides the façade's current time, for deterministic tests
// driving the literal scenarios in spec.md §8.
func (db *DB) SetTime(ts hlc.Timestamp) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.currentTime = ts
}

// Now returns the façade's current time.
func (db *DB) Now() hlc.Timestamp {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.currentTime
}

// BeginTxn starts a transaction at the façade's current time.
func (db *DB) BeginTxn(ctx context.Context) (uuid.UUID, error) {
	return db.BeginTxnWithTimestamp(ctx, db.Now())
}

// BeginTxnWithTimestamp starts a transaction pinned to an explicit
// timestamp, bypassing the façade's clock — used by tests that need a
// transaction's read timestamp to differ from "now" at commit time.
func (db *DB) BeginTxnWithTimestamp(ctx context.Context, ts hlc.Timestamp) (uuid.UUID, error) {
	t := txn.New(uuid.New(), ts, ts)
	db.mu.Lock()
	db.txns[t.TxnID] = t
	db.mu.Unlock()

	if _, err := db.executor.ExecuteRequestWithConcurrencyRetries(ctx, execute.Request{Kind: execute.BeginTxn, Txn: t}); err != nil {
		db.mu.Lock()
		delete(db.txns, t.TxnID)
		db.mu.Unlock()
		return uuid.Nil, err
	}
	db.logger.Debugf("transaction begin", map[string]interface{}{"txn_id": t.TxnID, "read_timestamp": ts.String()})
	return t.TxnID, nil
}

func (db *DB) getTxn(txnID uuid.UUID) (*txn.Txn, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	t, ok := db.txns[txnID]
	if !ok {
		return nil, fmt.Errorf("db: no active transaction %s", txnID)
	}
	return t, nil
}

// Write stores value under key as part of txnID's pending writes.
func (db *DB) Write(ctx context.Context, key string, value []byte, txnID uuid.UUID) error {
	t, err := db.getTxn(txnID)
	if err != nil {
		return err
	}
	_, err = db.executor.ExecuteRequestWithConcurrencyRetries(ctx, execute.Request{
		Kind: execute.Put, Txn: t, Key: []byte(key), Value: value,
	})
	return err
}

// Read fetches the value visible to txnID at its read timestamp.
func (db *DB) Read(ctx context.Context, key string, txnID uuid.UUID) ([]byte, bool, error) {
	t, err := db.getTxn(txnID)
	if err != nil {
		return nil, false, err
	}
	resp, err := db.executor.ExecuteRequestWithConcurrencyRetries(ctx, execute.Request{
		Kind: execute.Get, Txn: t, Key: []byte(key),
	})
	if err != nil {
		return nil, false, err
	}
	return resp.Value, resp.Found, nil
}

// CommitTxn finalizes txnID. committed is false if the commit-time read
// refresh failed and the transaction was aborted instead (spec.md §9).
func (db *DB) CommitTxn(ctx context.Context, txnID uuid.UUID) (commitTimestamp hlc.Timestamp, committed bool, err error) {
	t, err := db.getTxn(txnID)
	if err != nil {
		return hlc.Timestamp{}, false, err
	}
	resp, err := db.executor.ExecuteRequestWithConcurrencyRetries(ctx, execute.Request{Kind: execute.CommitTxn, Txn: t})
	db.mu.Lock()
	delete(db.txns, txnID)
	db.mu.Unlock()
	if err != nil {
		return hlc.Timestamp{}, false, err
	}
	db.logger.Debugf("transaction commit", map[string]interface{}{"txn_id": txnID, "committed": resp.Committed})
	return resp.CommitTimestamp, resp.Committed, nil
}

// AbortTxn discards txnID's pending writes.
func (db *DB) AbortTxn(ctx context.Context, txnID uuid.UUID) error {
	t, err := db.getTxn(txnID)
	if err != nil {
		return err
	}
	_, err = db.executor.ExecuteRequestWithConcurrencyRetries(ctx, execute.Request{Kind: execute.AbortTxn, Txn: t})
	db.mu.Lock()
	delete(db.txns, txnID)
	db.mu.Unlock()
	db.logger.Debugf("transaction abort", map[string]interface{}{"txn_id": txnID})
	return err
}

// WriteJSON is a convenience wrapper that marshals value as JSON before
// writing it, mirroring the serde-generic write() the façade was
// originally grounded on (original_source/src/db/db.rs).
func WriteJSON[T any](ctx context.Context, d *DB, key string, value T, txnID uuid.UUID) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("db: marshal value for %q: %w", key, err)
	}
	return d.Write(ctx, key, data, txnID)
}

// ReadJSON is the read-side counterpart of WriteJSON.
func ReadJSON[T any](ctx context.Context, d *DB, key string, txnID uuid.UUID) (T, bool, error) {
	var zero T
	raw, found, err := d.Read(ctx, key, txnID)
	if err != nil || !found {
		return zero, found, err
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return zero, false, fmt.Errorf("db: unmarshal value for %q: %w", key, err)
	}
	return v, true, nil
}
