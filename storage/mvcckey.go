// Package storage implements the MVCC key/value codec, the ordered
// iterator over the underlying KV engine, and the bounded, timestamp
// filtered scanner built on top of it.
package storage

import (
	"bytes"
	"encoding/binary"

	"mantiskv/hlc"
)

// Key is an opaque, lexicographically ordered user key.
type Key []byte

func (k Key) String() string {
	return string(k)
}

// separator bytes distinguishing an intent key from a versioned key for
// the same user key. The intent separator must sort before the versioned
// separator so that an intent key for user_key precedes every versioned
// key for that same user_key (spec data model, §3) — note this is the
// opposite assignment spec.md §6 suggests (0x00 for versioned, 0x01 for
// intent), which would invert the required ordering.
const (
	intentSeparator    byte = 0x00
	versionedSeparator byte = 0x01
)

// MVCCKey is a (user key, timestamp) pair. Comparison is user key ascending,
// timestamp descending, so that seeking to (user_key, T) lands on the
// newest version with ts <= T.
type MVCCKey struct {
	Key       Key
	Timestamp hlc.Timestamp
}

// IsIntentKey reports whether this MVCCKey in fact represents the intent
// slot for its user key (Timestamp is meaningless for those).
func (k MVCCKey) IsIntentKey() bool {
	return k.Timestamp == hlc.Timestamp{}
}

// Encode serializes an MVCCKey to its on-disk byte representation.
func (k MVCCKey) Encode() []byte {
	buf := make([]byte, 0, len(k.Key)+1+12+4)
	buf = append(buf, k.Key...)
	buf = append(buf, versionedSeparator)
	buf = appendDescTimestamp(buf, k.Timestamp)
	buf = appendKeyLen(buf, len(k.Key))
	return buf
}

// EncodeIntentKey serializes the distinguished intent key for userKey.
func EncodeIntentKey(userKey Key) []byte {
	buf := make([]byte, 0, len(userKey)+1+4)
	buf = append(buf, userKey...)
	buf = append(buf, intentSeparator)
	buf = appendKeyLen(buf, len(userKey))
	return buf
}

// keyLenSize is the width of the trailing user-key-length field that lets
// Decode locate the separator byte by a fixed offset from the end of the
// buffer, instead of scanning for a byte value equal to intentSeparator or
// versionedSeparator: the bit-complemented timestamp suffix appendDescTimestamp
// writes can itself legitimately contain either of those byte values
// (whenever a raw Wall or Logical byte is 0xFF or 0xFE), so a scan over the
// whole buffer can find that spurious, later match instead of the real
// separator.
const keyLenSize = 4

func appendKeyLen(buf []byte, n int) []byte {
	var tmp [keyLenSize]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(n))
	return append(buf, tmp[:]...)
}

// appendDescTimestamp appends a timestamp encoded so that larger
// timestamps sort first under plain byte comparison: every bit is
// complemented before encoding, turning ascending binary order into
// descending order.
func appendDescTimestamp(buf []byte, ts hlc.Timestamp) []byte {
	var tmp [12]byte
	binary.BigEndian.PutUint64(tmp[0:8], ^ts.Wall)
	binary.BigEndian.PutUint32(tmp[8:12], ^ts.Logical)
	return append(buf, tmp[:]...)
}

// Decode parses the on-disk byte representation produced by Encode or
// EncodeIntentKey back into an MVCCKey. ok is false if data is malformed.
//
// The separator's position is read from the trailing keyLen field rather
// than located by scanning, since the separator byte value can also occur
// inside the preceding timestamp suffix.
func Decode(data []byte) (MVCCKey, bool) {
	if len(data) < keyLenSize {
		return MVCCKey{}, false
	}
	trailer := data[len(data)-keyLenSize:]
	body := data[:len(data)-keyLenSize]
	keyLen := binary.BigEndian.Uint32(trailer)
	if uint64(keyLen) >= uint64(len(body)) {
		return MVCCKey{}, false
	}
	sepPos := int(keyLen)
	sep := body[sepPos]
	userKey := append(Key(nil), body[:sepPos]...)
	rest := body[sepPos+1:]

	switch sep {
	case intentSeparator:
		if len(rest) != 0 {
			return MVCCKey{}, false
		}
		return MVCCKey{Key: userKey}, true
	case versionedSeparator:
		if len(rest) != 12 {
			return MVCCKey{}, false
		}
		wall := ^binary.BigEndian.Uint64(rest[0:8])
		logical := ^binary.BigEndian.Uint32(rest[8:12])
		return MVCCKey{Key: userKey, Timestamp: hlc.New(wall, logical)}, true
	default:
		return MVCCKey{}, false
	}
}

// Compare orders two MVCCKeys: user key ascending, timestamp descending,
// with the intent key (zero timestamp) special-cased to sort before every
// versioned key of the same user key, as the descending-timestamp rule
// alone would place it last.
func Compare(a, b MVCCKey) int {
	if c := bytes.Compare(a.Key, b.Key); c != 0 {
		return c
	}
	aIntent, bIntent := a.IsIntentKey(), b.IsIntentKey()
	switch {
	case aIntent && bIntent:
		return 0
	case aIntent:
		return -1
	case bIntent:
		return 1
	case a.Timestamp == b.Timestamp:
		return 0
	case a.Timestamp.Greater(b.Timestamp):
		return -1
	default:
		return 1
	}
}
