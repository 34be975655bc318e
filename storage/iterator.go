package storage

// Iterator is an ordered cursor over MVCCKeys, built directly on top of an
// Engine's raw-byte iterator. It is the "MVCC iterator" component of
// spec.md §4.1: SeekGE/Next/Valid/CurrentKey/CurrentValue, nothing more —
// all read semantics (visibility, intents) live one layer up, in Scanner.
type Iterator struct {
	it EngineIterator
}

// NewIterator wraps an engine's raw iterator as an MVCC iterator.
func NewIterator(it EngineIterator) *Iterator {
	return &Iterator{it: it}
}

// SeekGE positions the iterator at the least MVCCKey >= target.
func (i *Iterator) SeekGE(target MVCCKey) {
	i.it.SeekGE(encodeSeekTarget(target))
	i.skipNonMVCC()
}

// skipNonMVCC steps past raw entries that do not decode as MVCC keys
// (transaction record keys share the engine's keyspace).
func (i *Iterator) skipNonMVCC() {
	for i.it.Valid() {
		if _, ok := Decode(i.it.Key()); ok {
			return
		}
		i.it.Next()
	}
}

// encodeSeekTarget encodes target the way Encode/EncodeIntentKey would,
// except a target with a zero timestamp seeks to the intent key itself
// (rather than to whatever versioned key a zero timestamp would imply),
// which is what scanning a user key from its start requires.
func encodeSeekTarget(target MVCCKey) []byte {
	if target.IsIntentKey() {
		return EncodeIntentKey(target.Key)
	}
	return target.Encode()
}

// Next advances the iterator to the next MVCC entry.
func (i *Iterator) Next() {
	i.it.Next()
	i.skipNonMVCC()
}

// Valid reports whether the iterator is positioned on an entry.
func (i *Iterator) Valid() bool {
	return i.it.Valid()
}

// CurrentKey decodes the MVCCKey at the iterator's current position. The
// caller must check Valid first.
func (i *Iterator) CurrentKey() MVCCKey {
	key, ok := Decode(i.it.Key())
	if !ok {
		panic("storage: iterator positioned on undecodable key")
	}
	return key
}

// CurrentValue returns the raw bytes at the iterator's current position.
func (i *Iterator) CurrentValue() []byte {
	return i.it.Value()
}

// Close releases the underlying engine iterator.
func (i *Iterator) Close() error {
	return i.it.Close()
}
