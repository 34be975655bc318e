package execute

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"mantiskv/dberrors"
	"mantiskv/dblog"
	"mantiskv/hlc"
	"mantiskv/latch"
	"mantiskv/locktable"
	"mantiskv/storage"
	"mantiskv/txn"
)

// Executor sequences every request through latch acquisition, lock table
// enqueue, and MVCC execution, retrying as needed until it resolves
// cleanly (spec.md §4.4). One Executor is shared by every transaction
// against a single Engine.
type Executor struct {
	engine  storage.Engine
	latches *latch.Manager
	locks   *locktable.LockTable
	logger  *dblog.Logger

	mu        sync.Mutex
	writeSets map[uuid.UUID]map[string][]byte
	readSets  map[uuid.UUID]map[string][]byte
}

// New constructs an Executor over engine, sharing latches and locks with
// any other Executor that must serialize against the same keyspace. Log
// entries are discarded until WithLogger is called.
func New(engine storage.Engine, latches *latch.Manager, locks *locktable.LockTable) *Executor {
	return &Executor{
		engine:    engine,
		latches:   latches,
		locks:     locks,
		logger:    dblog.New(dblog.Error+1, nil), // above Error: effectively silent
		writeSets: make(map[uuid.UUID]map[string][]byte),
		readSets:  make(map[uuid.UUID]map[string][]byte),
	}
}

// WithLogger attaches l, tagged with the "execute" component, as the
// destination for this executor's request lifecycle events (lock waits,
// retries, commits, aborts — spec.md's ambient logging expansion).
func (e *Executor) WithLogger(l *dblog.Logger) *Executor {
	e.logger = l.WithComponent("execute")
	return e
}

// ExecuteRequestWithConcurrencyRetries dispatches req to the handler for
// its Kind. The Get and Put handlers each own a retry loop — latch/lock-table
// contention is resolved request-kind by request-kind because the spans a
// request needs (and whether it waits at all) differ by kind. BeginTxn,
// CommitTxn and AbortTxn only take latches and never enqueue in the lock
// table, so they run once.
func (e *Executor) ExecuteRequestWithConcurrencyRetries(ctx context.Context, req Request) (Response, error) {
	switch req.Kind {
	case Get:
		return e.executeGet(ctx, req)
	case Put:
		return e.executePut(ctx, req)
	case BeginTxn:
		return e.executeBeginTxn(ctx, req)
	case CommitTxn:
		return e.executeCommitTxn(ctx, req)
	case AbortTxn:
		return e.executeAbortTxn(ctx, req)
	default:
		return Response{}, fmt.Errorf("execute: unknown request kind %v", req.Kind)
	}
}

func (e *Executor) executeGet(ctx context.Context, req Request) (Response, error) {
	for {
		spans := dedupeSpans(req.spans(nil))
		latchGuard := e.latches.Acquire(spans)
		keys, readOnly := req.lockTableKeys()
		shouldWait, lockGuard := e.locks.ScanAndEnqueue(locktable.Request{Txn: req.Txn, IsReadOnly: readOnly, Keys: keys})
		if shouldWait {
			e.latches.Release(latchGuard)
			e.logger.Debugf("lock wait entered", map[string]interface{}{"txn_id": req.Txn.TxnID, "key": string(req.Key), "kind": "get"})
			e.locks.WaitFor(lockGuard)
			continue
		}

		it, err := e.newIterator(ctx)
		if err != nil {
			e.latches.Release(latchGuard)
			return Response{}, err
		}
		scanner := storage.NewScanner(it, storage.Key(req.Key), nil, req.Txn.ReadTimestamp(), 1)
		scanner.Scan()
		it.Close()

		if len(scanner.FoundIntents) > 0 {
			found := scanner.FoundIntents[0]

			if found.Intent.TxnMeta.TxnID == req.Txn.TxnID {
				// A transaction always sees its own uncommitted writes.
				e.latches.Release(latchGuard)
				e.recordRead(req.Txn.TxnID, req.Key)
				return Response{Kind: Get, Found: true, Value: found.Value}, nil
			}

			if found.Intent.TxnMeta.WriteTimestamp.LessEq(req.Txn.ReadTimestamp()) {
				// Conflict: release latches before pushing — push may block
				// waiting for the other transaction to finalize, and that
				// transaction's own commit needs this same latch span.
				e.latches.Release(latchGuard)
				e.logger.Debugf("retry after push", map[string]interface{}{"txn_id": req.Txn.TxnID, "key": string(req.Key), "blocking_txn_id": found.Intent.TxnMeta.TxnID})
				if err := e.push(ctx, found.Intent, lockGuard); err != nil {
					return Response{}, err
				}
				continue
			}

			// Intent belongs to a later, not-yet-visible write: skip it and
			// read the newest committed version at or below the read
			// timestamp beneath it, if there is one.
			older, err := e.newIterator(ctx)
			if err != nil {
				e.latches.Release(latchGuard)
				return Response{}, err
			}
			older.SeekGE(storage.MVCCKey{Key: storage.Key(req.Key), Timestamp: req.Txn.ReadTimestamp()})
			var value []byte
			visible := false
			if older.Valid() {
				if cur := older.CurrentKey(); string(cur.Key) == string(req.Key) && !cur.IsIntentKey() {
					value, visible = older.CurrentValue(), true
				}
			}
			older.Close()
			e.latches.Release(latchGuard)
			e.recordRead(req.Txn.TxnID, req.Key)
			return Response{Kind: Get, Found: visible, Value: value}, nil
		}

		e.latches.Release(latchGuard)
		e.recordRead(req.Txn.TxnID, req.Key)
		if len(scanner.Results) == 0 {
			return Response{Kind: Get, Found: false}, nil
		}
		return Response{Kind: Get, Found: true, Value: scanner.Results[0].Value}, nil
	}
}

// push resolves a found intent that blocks a read: if the owning
// transaction already finalized, roll the intent forward (commit) or back
// (abort) and let the caller retry immediately; if it's still pending,
// register the discovery with the lock table and block until it
// finalizes (spec.md §4.3 add_discovered_lock, §4.4 Get's push bullet).
func (e *Executor) push(ctx context.Context, intent txn.TxnIntent, guard *locktable.Guard) error {
	rec, ok, err := e.readTxnRecord(ctx, intent.TxnMeta.TxnID)
	if err != nil {
		return err
	}
	if !ok || rec.Status == txn.Aborted {
		e.logger.Debugf("push resolved finalized intent", map[string]interface{}{"blocking_txn_id": intent.TxnMeta.TxnID, "key": string(intent.Key), "status": "aborted"})
		return e.resolveIntent(ctx, intent.Key, intent.TxnMeta.TxnID, hlc.Timestamp{}, false)
	}
	if rec.Status == txn.Committed {
		e.logger.Debugf("push resolved finalized intent", map[string]interface{}{"blocking_txn_id": intent.TxnMeta.TxnID, "key": string(intent.Key), "status": "committed"})
		return e.resolveIntent(ctx, intent.Key, intent.TxnMeta.TxnID, rec.Metadata.WriteTimestamp, true)
	}
	e.logger.Debugf("push blocked on pending transaction", map[string]interface{}{"blocking_txn_id": intent.TxnMeta.TxnID, "key": string(intent.Key)})
	e.locks.AddDiscoveredLock(guard, intent)
	e.locks.WaitFor(guard)
	return nil
}

func (e *Executor) executePut(ctx context.Context, req Request) (Response, error) {
	for {
		spans := dedupeSpans(req.spans(nil))
		latchGuard := e.latches.Acquire(spans)
		keys, readOnly := req.lockTableKeys()
		shouldWait, lockGuard := e.locks.ScanAndEnqueue(locktable.Request{Txn: req.Txn, IsReadOnly: readOnly, Keys: keys})
		if shouldWait {
			e.latches.Release(latchGuard)
			e.logger.Debugf("lock wait entered", map[string]interface{}{"txn_id": req.Txn.TxnID, "key": string(req.Key), "kind": "put"})
			e.locks.WaitFor(lockGuard)
			continue
		}

		it, err := e.newIterator(ctx)
		if err != nil {
			e.latches.Release(latchGuard)
			return Response{}, err
		}
		latest, _, found := storage.LatestVersion(it, storage.Key(req.Key))
		it.Close()
		if found && latest.Timestamp.Greater(req.Txn.WriteTimestamp()) {
			// Write-too-old: a newer committed version already exists. Bump
			// this transaction's write timestamp past it instead of failing
			// outright (spec.md §4.4 Put's bullet, §9 open question).
			bumped := latest.Timestamp.NextLogical()
			e.logger.Infof("write too old, bumping write timestamp", map[string]interface{}{
				"txn_id": req.Txn.TxnID, "key": string(req.Key),
				"from": req.Txn.WriteTimestamp().String(), "to": bumped.String(),
			})
			req.Txn.BumpWriteTimestamp(bumped)
		}

		uv := txn.UncommittedValue{Value: req.Value, TxnMetadata: req.Txn.Metadata()}
		encoded, err := txn.EncodeUncommittedValue(uv)
		if err != nil {
			e.latches.Release(latchGuard)
			return Response{}, err
		}
		if err := e.engine.Put(ctx, storage.EncodeIntentKey(storage.Key(req.Key)), encoded); err != nil {
			e.latches.Release(latchGuard)
			return Response{}, err
		}
		e.locks.AcquireAsHolder(req.Key, req.Txn.Metadata())
		e.recordWrite(req.Txn.TxnID, req.Key)
		e.latches.Release(latchGuard)
		return Response{Kind: Put}, nil
	}
}

func (e *Executor) executeBeginTxn(ctx context.Context, req Request) (Response, error) {
	spans := dedupeSpans(req.spans(nil))
	latchGuard := e.latches.Acquire(spans)
	defer e.latches.Release(latchGuard)

	rec := txn.Record{Status: txn.Pending, Metadata: req.Txn.Metadata()}
	encoded, err := txn.EncodeRecord(rec)
	if err != nil {
		return Response{}, err
	}
	if err := e.engine.Put(ctx, txn.RecordKey(req.Txn.TxnID), encoded); err != nil {
		return Response{}, err
	}
	return Response{Kind: BeginTxn}, nil
}

func (e *Executor) executeCommitTxn(ctx context.Context, req Request) (Response, error) {
	writeKeys := e.writeSetKeys(req.Txn.TxnID)
	readKeys := e.readSetKeys(req.Txn.TxnID)
	spans := dedupeSpans(req.spans(writeKeys))
	latchGuard := e.latches.Acquire(spans)
	defer e.latches.Release(latchGuard)

	commitTS := req.Txn.WriteTimestamp()

	// Read refresh: if the write timestamp moved past the read timestamp
	// (a write-too-old bump somewhere in this transaction), any key this
	// transaction read must not have acquired a newer committed version in
	// between, or the read result it already returned would be stale.
	// Resolves the open question in spec.md §9 — the original executor
	// left this unimplemented.
	refreshOK := true
	if commitTS.Greater(req.Txn.ReadTimestamp()) {
		for _, key := range readKeys {
			it, err := e.newIterator(ctx)
			if err != nil {
				return Response{}, err
			}
			// Newest version at or below commitTS; a newer one above
			// commitTS must not hide it.
			it.SeekGE(storage.MVCCKey{Key: storage.Key(key), Timestamp: commitTS})
			stale := false
			if it.Valid() {
				cur := it.CurrentKey()
				stale = string(cur.Key) == string(key) && !cur.IsIntentKey() && cur.Timestamp.Greater(req.Txn.ReadTimestamp())
			}
			it.Close()
			if stale {
				refreshOK = false
				break
			}
		}
	}

	if !refreshOK {
		e.logger.Infof("abort", map[string]interface{}{"txn_id": req.Txn.TxnID, "reason": "read refresh failed on commit"})
		if err := e.finalize(ctx, req.Txn.TxnID, txn.Aborted, hlc.Timestamp{}, writeKeys); err != nil {
			return Response{}, err
		}
		e.clearSets(req.Txn.TxnID)
		return Response{Kind: CommitTxn, Committed: false}, nil
	}

	if err := e.finalize(ctx, req.Txn.TxnID, txn.Committed, commitTS, writeKeys); err != nil {
		return Response{}, err
	}
	e.logger.Infof("commit", map[string]interface{}{"txn_id": req.Txn.TxnID, "commit_timestamp": commitTS.String(), "write_keys": len(writeKeys)})
	e.clearSets(req.Txn.TxnID)
	return Response{Kind: CommitTxn, CommitTimestamp: commitTS, Committed: true}, nil
}

func (e *Executor) executeAbortTxn(ctx context.Context, req Request) (Response, error) {
	writeKeys := e.writeSetKeys(req.Txn.TxnID)
	spans := dedupeSpans(req.spans(writeKeys))
	latchGuard := e.latches.Acquire(spans)
	defer e.latches.Release(latchGuard)

	if err := e.finalize(ctx, req.Txn.TxnID, txn.Aborted, hlc.Timestamp{}, writeKeys); err != nil {
		return Response{}, err
	}
	e.logger.Infof("abort", map[string]interface{}{"txn_id": req.Txn.TxnID, "reason": "client request"})
	e.clearSets(req.Txn.TxnID)
	return Response{Kind: AbortTxn}, nil
}

// finalize persists the transaction record's terminal status and rolls
// every key in its write set forward (commit) or back (abort), per
// spec.md §4.3/§4.4. Caller holds the latches covering every key passed.
func (e *Executor) finalize(ctx context.Context, txnID uuid.UUID, status txn.Status, commitTS hlc.Timestamp, writeKeys [][]byte) error {
	if status == txn.Committed && commitTS == (hlc.Timestamp{}) {
		dberrors.Invariant("finalize", "committing a transaction with a zero commit timestamp")
	}
	rec := txn.Record{Status: status, Metadata: txn.TxnMetadata{TxnID: txnID, WriteTimestamp: commitTS}}
	encoded, err := txn.EncodeRecord(rec)
	if err != nil {
		return err
	}
	if err := e.engine.Put(ctx, txn.RecordKey(txnID), encoded); err != nil {
		return err
	}
	for _, key := range writeKeys {
		if err := e.resolveIntent(ctx, key, txnID, commitTS, status == txn.Committed); err != nil {
			return err
		}
	}
	return nil
}

// resolveIntent replaces the intent at key, owned by intentTxnID, with
// either a committed version at commitTS (committed=true) or nothing
// (committed=false), then notifies the lock table. It is a no-op if the
// intent was already resolved by someone else.
func (e *Executor) resolveIntent(ctx context.Context, key []byte, intentTxnID uuid.UUID, commitTS hlc.Timestamp, committed bool) error {
	intentKey := storage.EncodeIntentKey(storage.Key(key))
	raw, ok, err := e.engine.Get(ctx, intentKey)
	if err != nil {
		return err
	}
	if !ok {
		e.locks.UpdateLocks(key, intentTxnID)
		return nil
	}
	uv, err := txn.DecodeUncommittedValue(raw)
	if err != nil {
		return err
	}
	if uv.TxnMetadata.TxnID != intentTxnID {
		return nil
	}
	if err := e.engine.Delete(ctx, intentKey); err != nil {
		return err
	}
	if committed {
		mvccKey := storage.MVCCKey{Key: storage.Key(key), Timestamp: commitTS}
		if err := e.engine.Put(ctx, mvccKey.Encode(), uv.Value); err != nil {
			return err
		}
	}
	e.locks.UpdateLocks(key, intentTxnID)
	return nil
}

func (e *Executor) readTxnRecord(ctx context.Context, txnID uuid.UUID) (txn.Record, bool, error) {
	raw, ok, err := e.engine.Get(ctx, txn.RecordKey(txnID))
	if err != nil || !ok {
		return txn.Record{}, ok, err
	}
	rec, err := txn.DecodeRecord(raw)
	return rec, true, err
}

func (e *Executor) newIterator(ctx context.Context) (*storage.Iterator, error) {
	ei, err := e.engine.NewEngineIterator(ctx)
	if err != nil {
		return nil, err
	}
	return storage.NewIterator(ei), nil
}

func (e *Executor) recordWrite(id uuid.UUID, key []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.writeSets[id] == nil {
		e.writeSets[id] = make(map[string][]byte)
	}
	e.writeSets[id][string(key)] = append([]byte(nil), key...)
}

func (e *Executor) recordRead(id uuid.UUID, key []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.readSets[id] == nil {
		e.readSets[id] = make(map[string][]byte)
	}
	e.readSets[id][string(key)] = append([]byte(nil), key...)
}

func (e *Executor) writeSetKeys(id uuid.UUID) [][]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([][]byte, 0, len(e.writeSets[id]))
	for _, k := range e.writeSets[id] {
		out = append(out, k)
	}
	return out
}

func (e *Executor) readSetKeys(id uuid.UUID) [][]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([][]byte, 0, len(e.readSets[id]))
	for _, k := range e.readSets[id] {
		out = append(out, k)
	}
	return out
}

func (e *Executor) clearSets(id uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.writeSets, id)
	delete(e.readSets, id)
}
