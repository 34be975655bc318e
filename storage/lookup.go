package storage

import "bytes"

// LatestVersion seeks to the newest entry for key — skipping its intent
// slot if one is present — and reports the committed version immediately
// beneath it, if any. The executor uses this for the write-too-old check
// on Put (spec.md §4.4): it needs the newest committed timestamp for a key
// regardless of what timestamp the writing transaction is asking for.
func LatestVersion(it *Iterator, key Key) (MVCCKey, []byte, bool) {
	it.SeekGE(MVCCKey{Key: key})
	if it.Valid() {
		current := it.CurrentKey()
		if current.IsIntentKey() && bytes.Equal(current.Key, key) {
			it.Next()
		}
	}
	if !it.Valid() {
		return MVCCKey{}, nil, false
	}
	current := it.CurrentKey()
	if !bytes.Equal(current.Key, key) {
		return MVCCKey{}, nil, false
	}
	return current, it.CurrentValue(), true
}
