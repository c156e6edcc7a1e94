// Package export compresses finished table files and publishes them to
// object stores.
//
// Only files whose status is terminal (COMPLETED or PARTIAL) are exported;
// a file still being written yields a retryable unavailable error.
//
// # Basic Usage
//
//	// Compress a finished table next to the original
//	out, err := export.Compress(ctx, "objects.tbl", "", export.Options{Algorithm: export.Zstd})
//
//	// Publish it to S3 and GCS concurrently
//	s3p, _ := export.NewS3Publisher(ctx, cfg.Export.S3)
//	results, err := export.PublishAll(ctx, out.Path, s3p, gcsp)
//
// # Algorithm Selection
//
//   - Snappy/S2: fastest, moderate ratio
//   - LZ4: very fast, decent ratio
//   - Zstd: best ratio, good speed
//   - Gzip/Deflate: widest compatibility
package export

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm represents a compression algorithm.
type Algorithm string

const (
	// None copies the table unchanged
	None Algorithm = "none"
	// Gzip represents gzip compression
	Gzip Algorithm = "gzip"
	// Snappy represents framed snappy compression
	Snappy Algorithm = "snappy"
	// LZ4 represents lz4 frame compression
	LZ4 Algorithm = "lz4"
	// Zstd represents zstandard compression
	Zstd Algorithm = "zstd"
	// S2 represents s2 compression (Snappy compatible)
	S2 Algorithm = "s2"
	// Deflate represents raw deflate compression
	Deflate Algorithm = "deflate"
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

// Algorithms lists the supported algorithms.
func Algorithms() []Algorithm {
	return []Algorithm{None, Gzip, Snappy, LZ4, Zstd, S2, Deflate}
}

// ParseAlgorithm resolves a configured algorithm name. Empty means None.
func ParseAlgorithm(s string) (Algorithm, error) {
	a := Algorithm(strings.ToLower(strings.TrimSpace(s)))
	if a == "" {
		return None, nil
	}
	for _, known := range Algorithms() {
		if a == known {
			return a, nil
		}
	}
	return "", fmt.Errorf("unsupported compression algorithm: %s", s)
}

// Extension is the file suffix appended to compressed tables.
func (a Algorithm) Extension() string {
	switch a {
	case Gzip:
		return ".gz"
	case Snappy:
		return ".sz"
	case LZ4:
		return ".lz4"
	case Zstd:
		return ".zst"
	case S2:
		return ".s2"
	case Deflate:
		return ".deflate"
	default:
		return ""
	}
}

// AlgorithmForPath infers the algorithm from a file name suffix.
func AlgorithmForPath(path string) Algorithm {
	ext := filepath.Ext(path)
	for _, a := range Algorithms() {
		if a != None && a.Extension() == ext {
			return a
		}
	}
	return None
}

// ContentEncoding is the HTTP content encoding recorded on published objects.
func (a Algorithm) ContentEncoding() string {
	switch a {
	case Gzip:
		return "gzip"
	case Zstd:
		return "zstd"
	case Deflate:
		return "deflate"
	default:
		return ""
	}
}

// NewWriter wraps dst so bytes written are compressed with a at level. The
// returned writer must be closed to flush the final frame; closing does not
// close dst.
func NewWriter(dst io.Writer, a Algorithm, level Level) (io.WriteCloser, error) {
	switch a {
	case None, "":
		return nopWriteCloser{dst}, nil
	case Gzip:
		return gzip.NewWriterLevel(dst, mapGzipLevel(level))
	case Snappy:
		return snappy.NewBufferedWriter(dst), nil
	case LZ4:
		w := lz4.NewWriter(dst)
		if err := w.Apply(lz4.CompressionLevelOption(mapLZ4Level(level))); err != nil {
			return nil, err
		}
		return w, nil
	case Zstd:
		return zstd.NewWriter(dst, zstd.WithEncoderLevel(mapZstdLevel(level)))
	case S2:
		return s2.NewWriter(dst, s2WriterOptions(level)...), nil
	case Deflate:
		return flate.NewWriter(dst, mapDeflateLevel(level))
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", a)
	}
}

// NewReader decompresses src. Closing the reader does not close src.
func NewReader(src io.Reader, a Algorithm) (io.ReadCloser, error) {
	switch a {
	case None, "":
		return io.NopCloser(src), nil
	case Gzip:
		return gzip.NewReader(src)
	case Snappy:
		return io.NopCloser(snappy.NewReader(src)), nil
	case LZ4:
		return io.NopCloser(lz4.NewReader(src)), nil
	case Zstd:
		dec, err := zstd.NewReader(src)
		if err != nil {
			return nil, err
		}
		return dec.IOReadCloser(), nil
	case S2:
		return io.NopCloser(s2.NewReader(src)), nil
	case Deflate:
		return flate.NewReader(src), nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", a)
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// Helper functions to map compression levels

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

func mapDeflateLevel(level Level) int {
	switch level {
	case Fastest:
		return flate.BestSpeed
	case Best:
		return flate.BestCompression
	default:
		return flate.DefaultCompression
	}
}

func s2WriterOptions(level Level) []s2.WriterOption {
	switch level {
	case Better:
		return []s2.WriterOption{s2.WriterBetterCompression()}
	case Best:
		return []s2.WriterOption{s2.WriterBestCompression()}
	default:
		return nil
	}
}
