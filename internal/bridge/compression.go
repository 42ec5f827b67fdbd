package bridge

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compressor implements one algorithm-tagged byte transform applied
// after envelope construction on the sender and reversed on the
// receiver (spec §4.2, §4.3 step 3).
type Compressor interface {
	// Tag is the gst.compression value this codec answers to.
	Tag() string
	Compress(payload []byte, level int) ([]byte, error)
	Decompress(payload []byte) ([]byte, error)
}

// CompressionNone is the explicit no-op tag. It is never written to
// the wire (the envelope simply omits gst.compression), but is useful
// as a registry entry so callers can look it up uniformly.
const CompressionNone = "none"

// Registry maps a gst.compression tag to its Compressor. A Subscriber
// configured with a Registry missing a tag treats that tag as "not
// compiled in" (spec §4.4 step 3, KindFeatureMissing) even though the
// algorithm exists elsewhere in this binary — this is how S6 (§8.6)
// is exercised in tests without real build tags.
type Registry map[string]Compressor

// DefaultRegistry returns every compression algorithm this module
// ships: zstd (github.com/klauspost/compress/zstd), lz4
// (github.com/pierrec/lz4/v4) and gzip (compress/gzip, the standard
// library — no third-party gzip codec appears anywhere in the
// reference corpus).
func DefaultRegistry() Registry {
	return Registry{
		zstdCompressor{}.Tag(): zstdCompressor{},
		lz4Compressor{}.Tag():  lz4Compressor{},
		gzipCompressor{}.Tag(): gzipCompressor{},
	}
}

type zstdCompressor struct{}

func (zstdCompressor) Tag() string { return "zstd" }

func (zstdCompressor) Compress(payload []byte, level int) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstdLevel(level)))
	if err != nil {
		return nil, fmt.Errorf("zstd: new writer: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(payload, nil), nil
}

func (zstdCompressor) Decompress(payload []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd: new reader: %w", err)
	}
	defer dec.Close()
	out, err := dec.DecodeAll(payload, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd: decode: %w", err)
	}
	return out, nil
}

func zstdLevel(level int) zstd.EncoderLevel {
	switch {
	case level <= 1:
		return zstd.SpeedFastest
	case level <= 4:
		return zstd.SpeedDefault
	case level <= 7:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}

type lz4Compressor struct{}

func (lz4Compressor) Tag() string { return "lz4" }

func (lz4Compressor) Compress(payload []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	opts := []lz4.Option{lz4.CompressionLevelOption(lz4Level(level))}
	if err := w.Apply(opts...); err != nil {
		return nil, fmt.Errorf("lz4: apply options: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return nil, fmt.Errorf("lz4: write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("lz4: close: %w", err)
	}
	return buf.Bytes(), nil
}

func (lz4Compressor) Decompress(payload []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(payload))
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("lz4: read: %w", err)
	}
	return out, nil
}

func lz4Level(level int) lz4.CompressionLevel {
	switch {
	case level <= 1:
		return lz4.Fast
	case level <= 3:
		return lz4.Level1
	case level <= 5:
		return lz4.Level5
	case level <= 7:
		return lz4.Level7
	default:
		return lz4.Level9
	}
}

type gzipCompressor struct{}

func (gzipCompressor) Tag() string { return "gzip" }

func (gzipCompressor) Compress(payload []byte, level int) ([]byte, error) {
	if level < gzip.HuffmanOnly || level > gzip.BestCompression {
		level = gzip.DefaultCompression
	}
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("gzip: new writer: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return nil, fmt.Errorf("gzip: write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzip: close: %w", err)
	}
	return buf.Bytes(), nil
}

func (gzipCompressor) Decompress(payload []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("gzip: new reader: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gzip: read: %w", err)
	}
	return out, nil
}
