package storage

import (
	"bytes"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// ValueCodec transforms values on the way into and out of an Engine. It
// never sees keys, and so never MVCC timestamps — only the opaque value
// bytes stored under any key (versioned values, intent payloads and txn
// records alike) — so it cannot affect the invariants the concurrency core
// relies on, only storage footprint.
type ValueCodec interface {
	Encode(value []byte) ([]byte, error)
	Decode(stored []byte) ([]byte, error)
}

// NoopCodec stores values unmodified.
type NoopCodec struct{}

func (NoopCodec) Encode(value []byte) ([]byte, error) { return value, nil }
func (NoopCodec) Decode(stored []byte) ([]byte, error) { return stored, nil }

// The leading tag byte marks whether (and how) a stored value was
// compressed, so Decode can tell a short raw value apart from a short
// compressed one.
const (
	tagRaw      byte = 0
	tagLZ4      byte = 1
	tagSnappy   byte = 2
	tagZSTD     byte = 3
)

// CompressingCodec compresses values at or above MinSize, picking the
// algorithm by size the way the teacher's SizeBasedPolicy does
// (advanced/compression/engine.go): Snappy below 4KiB, LZ4 below 10KiB
// (fast), ZSTD for anything larger (better ratio). Values below MinSize are
// stored raw.
type CompressingCodec struct {
	MinSize int

	zstdEnc *zstd.Encoder
	zstdDec *zstd.Decoder
}

// NewCompressingCodec constructs a codec with the teacher's 1KiB default
// threshold (advanced/compression/engine.go's SizeBasedPolicy{MinSize: 1024}).
func NewCompressingCodec() *CompressingCodec {
	return &CompressingCodec{MinSize: 1024}
}

func (c *CompressingCodec) Encode(value []byte) ([]byte, error) {
	if len(value) < c.MinSize {
		return append([]byte{tagRaw}, value...), nil
	}
	if len(value) < 4*1024 {
		return append([]byte{tagSnappy}, snappy.Encode(nil, value)...), nil
	}
	if len(value) < 10*1024 {
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(value); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return append([]byte{tagLZ4}, buf.Bytes()...), nil
	}
	if c.zstdEnc == nil {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		c.zstdEnc = enc
	}
	return append([]byte{tagZSTD}, c.zstdEnc.EncodeAll(value, nil)...), nil
}

func (c *CompressingCodec) Decode(stored []byte) ([]byte, error) {
	if len(stored) == 0 {
		return stored, nil
	}
	tag, body := stored[0], stored[1:]
	switch tag {
	case tagRaw:
		return body, nil
	case tagLZ4:
		r := lz4.NewReader(bytes.NewReader(body))
		return io.ReadAll(r)
	case tagSnappy:
		return snappy.Decode(nil, body)
	case tagZSTD:
		if c.zstdDec == nil {
			dec, err := zstd.NewReader(nil)
			if err != nil {
				return nil, err
			}
			c.zstdDec = dec
		}
		return c.zstdDec.DecodeAll(body, nil)
	default:
		return body, nil
	}
}
