package wal

import (
	"context"
	"os"

	"mantiskv/storage"
	"mantiskv/txn"
)

// Recover replays the log file at path into engine, then resolves every
// intent left behind against its transaction record, per spec.md §6's
// restart contract: an intent whose owning transaction committed is
// promoted to a versioned value at the commit timestamp, an intent
// whose transaction aborted (or whose record is simply missing — it
// never got past BeginTxn) is discarded, and an intent whose
// transaction is still Pending is left exactly as it was, for a future
// reader to push the same way it would push any other live intent. It
// returns a Manager ready to log further mutations, continuing the LSN
// sequence from what it replayed — grounded on the teacher's
// RecoveryEngine.Recover, trimmed to this one linear pass (no WAL
// segment files, no crash-detection sentinel file, no progress channel).
func Recover(ctx context.Context, path string, engine storage.Engine, syncMode SyncMode) (*Manager, error) {
	if data, err := os.ReadFile(path); err == nil {
		for _, e := range splitEntries(data) {
			switch e.Op {
			case OpPut:
				if err := engine.Put(ctx, e.Key, e.Value); err != nil {
					return nil, err
				}
			case OpDelete:
				if err := engine.Delete(ctx, e.Key); err != nil {
					return nil, err
				}
			}
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	if err := resolvePendingIntents(ctx, engine); err != nil {
		return nil, err
	}

	m, _, err := open(path, syncMode)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// resolvePendingIntents walks every raw key the engine holds looking
// for intent keys, and finalizes each one against its transaction
// record's terminal status.
func resolvePendingIntents(ctx context.Context, engine storage.Engine) error {
	it, err := engine.NewEngineIterator(ctx)
	if err != nil {
		return err
	}
	defer it.Close()

	var intentKeys []storage.MVCCKey
	for it.SeekGE(nil); it.Valid(); it.Next() {
		raw := append([]byte(nil), it.Key()...)
		if txn.IsRecordKey(raw) {
			continue
		}
		mk, ok := storage.Decode(raw)
		if ok && mk.IsIntentKey() {
			intentKeys = append(intentKeys, mk)
		}
	}

	for _, mk := range intentKeys {
		if err := resolveIntentAtRestart(ctx, engine, mk.Key); err != nil {
			return err
		}
	}
	return nil
}

func resolveIntentAtRestart(ctx context.Context, engine storage.Engine, key storage.Key) error {
	intentKey := storage.EncodeIntentKey(key)
	raw, ok, err := engine.Get(ctx, intentKey)
	if err != nil || !ok {
		return err
	}
	uv, err := txn.DecodeUncommittedValue(raw)
	if err != nil {
		return err
	}

	recRaw, ok, err := engine.Get(ctx, txn.RecordKey(uv.TxnMetadata.TxnID))
	if err != nil {
		return err
	}
	if !ok {
		// The transaction never reached a terminal record (it died
		// between Put and BeginTxn's own record write, or the record
		// itself was lost) — treat the same as abort.
		return engine.Delete(ctx, intentKey)
	}
	rec, err := txn.DecodeRecord(recRaw)
	if err != nil {
		return err
	}

	switch rec.Status {
	case txn.Committed:
		mvccKey := storage.MVCCKey{Key: key, Timestamp: rec.Metadata.WriteTimestamp}
		if err := engine.Put(ctx, mvccKey.Encode(), uv.Value); err != nil {
			return err
		}
		return engine.Delete(ctx, intentKey)
	case txn.Aborted:
		return engine.Delete(ctx, intentKey)
	default:
		// Pending: leave it for a live reader to push.
		return nil
	}
}
