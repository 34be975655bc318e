package wal

import (
	"context"
	"path/filepath"

	"mantiskv/storage"
)

// Engine wraps a storage.Engine with write-ahead logging: every Put and
// Delete is appended to the log before it reaches the wrapped engine,
// and Init replays (and resolves) whatever the log already held —
// this is the "durable recovery" collaborator spec.md §6 describes as
// out of scope for the MVCC core itself but assumed to exist underneath
// it. Reads and iteration pass straight through to the wrapped engine
// via the embedded interface.
type Engine struct {
	storage.Engine
	syncMode SyncMode
	mgr      *Manager
}

// NewEngine wraps inner with a WAL stored at <dataDir>/wal.log once
// Init is called.
func NewEngine(inner storage.Engine, syncMode SyncMode) *Engine {
	return &Engine{Engine: inner, syncMode: syncMode}
}

func (e *Engine) Init(dataDir string) error {
	if err := e.Engine.Init(dataDir); err != nil {
		return err
	}
	mgr, err := Recover(context.Background(), filepath.Join(dataDir, "wal.log"), e.Engine, e.syncMode)
	if err != nil {
		return err
	}
	e.mgr = mgr
	return nil
}

func (e *Engine) Put(ctx context.Context, key, value []byte) error {
	if err := e.mgr.Append(OpPut, key, value); err != nil {
		return err
	}
	return e.Engine.Put(ctx, key, value)
}

func (e *Engine) Delete(ctx context.Context, key []byte) error {
	if err := e.mgr.Append(OpDelete, key, nil); err != nil {
		return err
	}
	return e.Engine.Delete(ctx, key)
}

func (e *Engine) Close() error {
	if e.mgr != nil {
		if err := e.mgr.Close(); err != nil {
			e.Engine.Close()
			return err
		}
	}
	return e.Engine.Close()
}
