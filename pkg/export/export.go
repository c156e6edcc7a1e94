package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/ajitpratap0/ipactable/pkg/errors"
	"github.com/ajitpratap0/ipactable/pkg/logger"
	"github.com/ajitpratap0/ipactable/pkg/metrics"
	"github.com/ajitpratap0/ipactable/pkg/table"
)

// Options configures Compress.
type Options struct {
	Algorithm Algorithm
	Level     Level
	Logger    *zap.Logger
}

// Artifact describes an exported table file.
type Artifact struct {
	// Path of the exported file
	Path      string    `json:"path"`
	Algorithm Algorithm `json:"algorithm"`
	// Status of the table when it was exported
	Status table.Status `json:"status"`
	Rows   int          `json:"rows"`
	// Size of the exported file and of the source table in bytes
	Size       int64 `json:"size"`
	SourceSize int64 `json:"source_size"`
}

// Compress writes a compressed copy of the table at src. An empty dst places
// the copy next to src with the algorithm's extension. The copy is written
// to a temporary name and renamed into place, so dst never holds a partial
// export.
func Compress(ctx context.Context, src, dst string, opts Options) (*Artifact, error) {
	log := opts.Logger
	if log == nil {
		log = logger.WithContext(ctx)
	}
	timer := metrics.NewTimer("export")
	defer timer.ObserveDuration()

	def, err := table.GetMetaInfo(src)
	if err != nil {
		return nil, err
	}
	status := def.Status()
	if !status.Terminal() {
		return nil, errors.Wrap(table.ErrNotYetAvailable, errors.ErrorTypeUnavailable,
			"table is still being written").WithDetail("path", src)
	}
	if dst == "" {
		dst = src + opts.Algorithm.Extension()
	}
	if dst == src {
		return nil, errors.New(errors.ErrorTypeValidation, "export destination equals source")
	}

	in, err := os.Open(src)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to open table")
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to create export directory")
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".*.tmp")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to create export file")
	}
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	w, err := NewWriter(tmp, opts.Algorithm, opts.Level)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid compression settings")
	}
	n, err := io.Copy(w, &contextReader{ctx: ctx, r: in})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to compress table")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to finish compressed stream")
	}
	if err := tmp.Sync(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to sync export")
	}
	info, err := tmp.Stat()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to stat export")
	}
	if err := tmp.Close(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to close export")
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to move export into place")
	}
	committed = true

	art := &Artifact{
		Path:       dst,
		Algorithm:  opts.Algorithm,
		Status:     status,
		Rows:       def.RowCount,
		Size:       info.Size(),
		SourceSize: n,
	}
	log.Info("table exported",
		zap.String("table", src),
		zap.String("path", dst),
		zap.String("algorithm", string(art.Algorithm)),
		zap.String("status", string(status)),
		zap.Int("rows", art.Rows),
		zap.Int64("source_bytes", n),
		zap.Int64("bytes", art.Size),
		zap.String("ratio", ratio(art.Size, n)))
	return art, nil
}

// Open returns a reader over the decompressed content of an exported file.
// The algorithm is inferred from the file extension.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to open export")
	}
	r, err := NewReader(f, AlgorithmForPath(path))
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to read export")
	}
	return &readCloser{ReadCloser: r, file: f}, nil
}

type readCloser struct {
	io.ReadCloser
	file *os.File
}

func (r *readCloser) Close() error {
	err := r.ReadCloser.Close()
	if cerr := r.file.Close(); err == nil {
		err = cerr
	}
	return err
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func ratio(compressed, original int64) string {
	if original == 0 {
		return "n/a"
	}
	return fmt.Sprintf("%.2f%%", float64(compressed)/float64(original)*100)
}
