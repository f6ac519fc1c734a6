// Package compression provides row block codecs for spilled grid tables.
// A disk store compresses each encoded row block independently, so every
// codec here works on whole byte slices and is safe for concurrent use by
// the store's writer and its readers.
//
// # Algorithm Selection
//
//   - Snappy/S2: Best for speed, moderate compression
//   - LZ4: Extremely fast, decent compression
//   - Zstd: Best compression ratio, good speed
//   - Gzip: Wide compatibility, good compression
//
// # Basic Usage
//
//	comp, err := compression.NewCompressor(&compression.Config{
//	    Algorithm: compression.Snappy,
//	    Level:     compression.Default,
//	})
//
//	compressed, err := comp.Compress(block)
//	original, err := comp.Decompress(compressed)
package compression

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm represents a compression algorithm.
type Algorithm string

const (
	// None represents no compression
	None Algorithm = "none"
	// Gzip represents gzip compression
	Gzip Algorithm = "gzip"
	// Snappy represents snappy compression
	Snappy Algorithm = "snappy"
	// LZ4 represents lz4 compression
	LZ4 Algorithm = "lz4"
	// Zstd represents zstandard compression
	Zstd Algorithm = "zstd"
	// S2 represents s2 compression (Snappy compatible)
	S2 Algorithm = "s2"
)

// Level represents compression level, controlling the trade-off between
// compression speed and compression ratio.
type Level int

const (
	// Fastest prioritizes speed over compression ratio.
	Fastest Level = 1
	// Default balances speed and compression.
	Default Level = 5
	// Better improves compression at cost of speed.
	Better Level = 7
	// Best maximizes compression ratio.
	Best Level = 9
)

// Compressor compresses and decompresses whole blocks.
// All implementations are safe for concurrent use.
type Compressor interface {
	// Compress returns the compressed form of data. data is not modified.
	Compress(data []byte) ([]byte, error)

	// Decompress returns the original bytes of a block produced by Compress.
	Decompress(data []byte) ([]byte, error)

	// Algorithm returns the compression algorithm used.
	Algorithm() Algorithm
}

// Config represents compressor configuration.
type Config struct {
	Algorithm Algorithm // Compression algorithm to use
	Level     Level     // Compression level
}

// ParseAlgorithm maps a configuration string to an Algorithm. The empty
// string means None.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch a := Algorithm(name); a {
	case "":
		return None, nil
	case None, Gzip, Snappy, LZ4, Zstd, S2:
		return a, nil
	default:
		return "", fmt.Errorf("unsupported compression algorithm: %s", name)
	}
}

// NewCompressor creates a new compressor based on the provided configuration.
// A nil config yields the no-op compressor.
func NewCompressor(config *Config) (Compressor, error) {
	if config == nil {
		return noneCompressor{}, nil
	}

	switch config.Algorithm {
	case None, "":
		return noneCompressor{}, nil
	case Gzip:
		return newGzipCompressor(config.Level), nil
	case Snappy:
		return snappyCompressor{}, nil
	case LZ4:
		return &lz4Compressor{level: mapLZ4Level(config.Level)}, nil
	case Zstd:
		return newZstdCompressor(config.Level), nil
	case S2:
		return s2Compressor{}, nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", config.Algorithm)
	}
}

type noneCompressor struct{}

func (noneCompressor) Compress(data []byte) ([]byte, error)   { return data, nil }
func (noneCompressor) Decompress(data []byte) ([]byte, error) { return data, nil }
func (noneCompressor) Algorithm() Algorithm                   { return None }

type gzipCompressor struct {
	writerPool sync.Pool
	readerPool sync.Pool
}

func newGzipCompressor(level Level) *gzipCompressor {
	gl := mapGzipLevel(level)
	gc := &gzipCompressor{}
	gc.writerPool.New = func() interface{} {
		w, _ := gzip.NewWriterLevel(nil, gl)
		return w
	}
	gc.readerPool.New = func() interface{} {
		return new(gzip.Reader)
	}
	return gc
}

func (gc *gzipCompressor) Algorithm() Algorithm { return Gzip }

func (gc *gzipCompressor) Compress(data []byte) ([]byte, error) {
	w := gc.writerPool.Get().(*gzip.Writer)
	defer gc.writerPool.Put(w)

	var buf bytes.Buffer
	w.Reset(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gc *gzipCompressor) Decompress(data []byte) ([]byte, error) {
	r := gc.readerPool.Get().(*gzip.Reader)
	defer gc.readerPool.Put(r)

	if err := r.Reset(bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

type snappyCompressor struct{}

func (snappyCompressor) Algorithm() Algorithm { return Snappy }

func (snappyCompressor) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (snappyCompressor) Decompress(data []byte) ([]byte, error) {
	return snappy.Decode(nil, data)
}

type s2Compressor struct{}

func (s2Compressor) Algorithm() Algorithm { return S2 }

func (s2Compressor) Compress(data []byte) ([]byte, error) {
	return s2.Encode(nil, data), nil
}

func (s2Compressor) Decompress(data []byte) ([]byte, error) {
	return s2.Decode(nil, data)
}

type lz4Compressor struct {
	level lz4.CompressionLevel
}

func (lc *lz4Compressor) Algorithm() Algorithm { return LZ4 }

func (lc *lz4Compressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if err := w.Apply(lz4.CompressionLevelOption(lc.level)); err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (lc *lz4Compressor) Decompress(data []byte) ([]byte, error) {
	return io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
}

type zstdCompressor struct {
	encoderPool sync.Pool
	decoderPool sync.Pool
}

func newZstdCompressor(level Level) *zstdCompressor {
	zl := mapZstdLevel(level)
	zc := &zstdCompressor{}
	zc.encoderPool.New = func() interface{} {
		enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zl))
		return enc
	}
	zc.decoderPool.New = func() interface{} {
		dec, _ := zstd.NewReader(nil)
		return dec
	}
	return zc
}

func (zc *zstdCompressor) Algorithm() Algorithm { return Zstd }

func (zc *zstdCompressor) Compress(data []byte) ([]byte, error) {
	enc := zc.encoderPool.Get().(*zstd.Encoder)
	defer zc.encoderPool.Put(enc)
	return enc.EncodeAll(data, nil), nil
}

func (zc *zstdCompressor) Decompress(data []byte) ([]byte, error) {
	dec := zc.decoderPool.Get().(*zstd.Decoder)
	defer zc.decoderPool.Put(dec)
	return dec.DecodeAll(data, nil)
}

func mapGzipLevel(level Level) int {
	switch level {
	case Fastest:
		return gzip.BestSpeed
	case Best:
		return gzip.BestCompression
	default:
		return gzip.DefaultCompression
	}
}

func mapLZ4Level(level Level) lz4.CompressionLevel {
	switch level {
	case Fastest:
		return lz4.Fast
	case Best:
		return lz4.Level9
	default:
		return lz4.Level5
	}
}

func mapZstdLevel(level Level) zstd.EncoderLevel {
	switch level {
	case Fastest:
		return zstd.SpeedFastest
	case Better:
		return zstd.SpeedBetterCompression
	case Best:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}
