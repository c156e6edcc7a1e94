package table

import (
	"context"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/ipactable/pkg/errors"
	"github.com/ajitpratap0/ipactable/pkg/metrics"
)

// rows fetched per ReadAt by TableSource
const sourceChunkRows = 256

// TableSource reads the rows of an existing table file in order. Row.Index
// is the absolute row index in the file. Malformed rows are logged and
// skipped. In follow mode the source keeps polling a file that is still
// IN_PROGRESS until it reaches a terminal status.
type TableSource struct {
	f      *os.File
	def    *TableDef
	codec  *Codec
	next   int
	chunk  []byte
	first  int // row index of chunk[0]
	rows   int // whole rows in chunk
	follow bool
	poll   time.Duration
	log    *zap.Logger
}

// OpenTableSource opens the table file at path for sequential reading.
func OpenTableSource(path string, opts ...Option) (*TableSource, error) {
	o := newOptions(opts)
	f, err := os.Open(path) //nolint:gosec // G304: path is chosen by the caller
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(err, errors.ErrorTypeNotFound, "table file not found")
		}
		return nil, errors.Wrap(err, errors.ErrorTypeSetup, "failed to open source table")
	}
	def, err := readMetaFile(f)
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeSetup, "failed to read source table header")
	}
	s := &TableSource{
		f:      f,
		def:    def,
		follow: o.follow,
		poll:   o.pollInterval,
		log:    o.logger.With(zap.String("source", path)),
	}
	if def.Known() {
		s.codec = NewCodec(def)
	}
	return s, nil
}

// Def returns the source table definition.
func (s *TableSource) Def() *TableDef {
	return s.def
}

// Columns implements ColumnSource.
func (s *TableSource) Columns() []Column {
	return s.def.Columns
}

// Next returns the next row, or io.EOF at the end of the table.
func (s *TableSource) Next(ctx context.Context) (Row, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Row{}, err
		}
		if s.next < s.first+s.rows {
			line := s.chunk[(s.next-s.first)*s.def.LineWidth : (s.next-s.first+1)*s.def.LineWidth]
			idx := s.next
			s.next++
			row, err := s.codec.Decode(line)
			if err != nil {
				metrics.DecodeErrors.Inc()
				s.log.Warn("skipping malformed row", zap.Int("row", idx), zap.Error(err))
				continue
			}
			row.Index = idx
			metrics.RowsRead.WithLabelValues(metrics.OpScan).Inc()
			return row, nil
		}

		// status before size: once terminal, the size is final
		status := StatusCompleted
		if s.follow {
			st, err := ReadStatus(s.f)
			if err != nil && !errors.Is(err, ErrNotYetAvailable) {
				return Row{}, err
			}
			if err == nil {
				status = st
			} else {
				status = StatusInProgress
			}
		}
		n, err := s.fill()
		if err != nil {
			return Row{}, err
		}
		if n > 0 {
			continue
		}
		if status.Terminal() {
			return Row{}, io.EOF
		}
		select {
		case <-ctx.Done():
			return Row{}, ctx.Err()
		case <-time.After(s.poll):
		}
	}
}

// fill reads the next chunk of whole rows and returns how many it holds.
func (s *TableSource) fill() (int, error) {
	if !s.def.Known() {
		def, err := readMetaFile(s.f)
		if err != nil {
			return 0, err
		}
		if !def.Known() {
			return 0, nil
		}
		s.def = def
		s.codec = NewCodec(def)
	}
	size := sourceChunkRows * s.def.LineWidth
	if cap(s.chunk) < size {
		s.chunk = make([]byte, size)
	}
	s.chunk = s.chunk[:size]
	n, err := s.f.ReadAt(s.chunk, s.def.RowOffset(s.next))
	if err != nil && err != io.EOF {
		return 0, errors.Wrap(err, errors.ErrorTypeFile, "failed to read source rows")
	}
	s.first = s.next
	s.rows = n / s.def.LineWidth
	return s.rows, nil
}

// Close releases the file.
func (s *TableSource) Close() error {
	return s.f.Close()
}
