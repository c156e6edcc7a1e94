package table

import (
	"io"
	"os"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/ipactable/pkg/errors"
	"github.com/ajitpratap0/ipactable/pkg/metrics"
	"github.com/ajitpratap0/ipactable/pkg/mmap"
	"github.com/ajitpratap0/ipactable/pkg/pool"
)

// Reader gives random access to the rows of a table file by computing byte
// offsets from the header. It never writes and tolerates a file that is still
// being appended to: only whole lines are ever decoded. A Reader is safe for
// concurrent use.
type Reader struct {
	f *os.File
	// data serves row reads: f itself, or a mapping of a finalized file
	data          io.ReaderAt
	mapped        *mmap.File
	seekThreshold int
	log           *zap.Logger

	mu  sync.Mutex
	def *TableDef
}

// OpenReader opens the table file at path.
func OpenReader(path string, opts ...Option) (*Reader, error) {
	o := newOptions(opts)
	f, err := os.Open(path) //nolint:gosec // G304: path is chosen by the caller
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(err, errors.ErrorTypeNotFound, "table file not found")
		}
		return nil, errors.Wrap(err, errors.ErrorTypeSetup, "failed to open table file")
	}
	def, err := readMetaFile(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	r := &Reader{
		f:             f,
		data:          f,
		def:           def,
		seekThreshold: o.seekThreshold,
		log:           o.logger.With(zap.String("table", path)),
	}
	if o.mmap {
		r.mapFinalized()
	}
	return r, nil
}

// mapFinalized maps the file when its status is terminal. Any failure leaves
// the reader on plain file reads.
func (r *Reader) mapFinalized() {
	if !mmap.Supported || !r.def.Known() {
		return
	}
	status, err := ReadStatus(r.f)
	if err != nil || !status.Terminal() {
		return
	}
	m, err := mmap.Map(r.f)
	if err != nil {
		r.log.Debug("reading without memory mapping", zap.Error(err))
		return
	}
	_ = m.Advise(mmap.Random)
	// the mapping fixes the visible size
	d := *r.def
	d.SetFileSize(m.Len())
	r.def = &d
	r.mapped = m
	r.data = m
}

// Def returns the definition as of the last refresh.
func (r *Reader) Def() *TableDef {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.def
}

// Refresh re-derives the row count from the current file size, re-reading the
// header while the line width is still unknown.
func (r *Reader) Refresh() (*TableDef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mapped != nil {
		return r.def, nil
	}
	if !r.def.Known() {
		def, err := readMetaFile(r.f)
		if err != nil {
			return nil, err
		}
		r.def = def
		return def, nil
	}
	info, err := r.f.Stat()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to stat table file")
	}
	d := *r.def
	d.SetFileSize(info.Size())
	r.def = &d
	return r.def, nil
}

// Status reads the current status line.
func (r *Reader) Status() (Status, error) {
	return ReadStatus(r.f)
}

// snapshot reads the status and then the row count. Reading the status first
// guarantees that a terminal status comes with the final row count.
func (r *Reader) snapshot() (Status, *TableDef, error) {
	status, err := r.Status()
	if err != nil {
		if !errors.Is(err, ErrNotYetAvailable) {
			return "", nil, err
		}
		status = StatusInProgress
	}
	def, err := r.Refresh()
	if err != nil {
		return "", nil, err
	}
	return status, def, nil
}

// ReadRange returns up to count rows starting at row start. Fewer rows are
// returned when the file ends early. A start at or beyond the visible end of
// a file that is still IN_PROGRESS returns ErrNotYetAvailable; for a finalized
// file it returns no rows.
func (r *Reader) ReadRange(start, count int) ([]Row, error) {
	if start < 0 || count < 0 {
		return nil, errors.Newf(errors.ErrorTypeValidation, "invalid range start=%d count=%d", start, count)
	}
	status, def, err := r.snapshot()
	if err != nil {
		return nil, err
	}
	if !def.Known() || start >= def.RowCount {
		if status == StatusInProgress {
			return nil, errors.Wrap(ErrNotYetAvailable, errors.ErrorTypeUnavailable, "range beyond visible rows").
				WithDetail("start", start).WithDetail("rows", def.RowCount)
		}
		return nil, nil
	}
	if count > def.RowCount-start {
		count = def.RowCount - start
	}

	codec := NewCodec(def)
	size := int64(count) * int64(def.LineWidth)
	if r.mapped != nil {
		r.mapped.Prefetch(def.RowOffset(start), size)
	}
	br := pool.GetReader(io.NewSectionReader(r.data, def.RowOffset(start), size))
	defer pool.PutReader(br)
	line := pool.GetBuffer(def.LineWidth)
	defer pool.PutBuffer(line)
	rows := make([]Row, 0, count)
	for i := 0; i < count; i++ {
		if _, err := io.ReadFull(br, line); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to read rows")
		}
		row, err := codec.Decode(line)
		if err != nil {
			metrics.DecodeErrors.Inc()
			r.log.Warn("skipping malformed row", zap.Int("row", start+i), zap.Error(err))
			continue
		}
		row.Index = start + i
		rows = append(rows, row)
	}
	metrics.RowsRead.WithLabelValues(metrics.OpRange).Add(float64(len(rows)))
	return rows, nil
}

// Cells holds a sparse set of cell values keyed by row index then column name.
type Cells struct {
	Values map[int]map[string]any
	// Pending lists requested rows not yet written to a file that is still
	// IN_PROGRESS. Callers may retry them later.
	Pending []int
	// Decoded is the number of data lines read and decoded.
	Decoded int
}

// Get returns the value of one cell.
func (c *Cells) Get(row int, column string) (any, bool) {
	m, ok := c.Values[row]
	if !ok {
		return nil, false
	}
	v, ok := m[column]
	return v, ok
}

// Len returns the number of cells held.
func (c *Cells) Len() int {
	n := 0
	for _, m := range c.Values {
		n += len(m)
	}
	return n
}

// ReadCells returns the named columns of the given rows. Indices are sorted
// and de-duplicated; each line is reached by seeking when the gap from the
// previous one exceeds the seek threshold and by skipping forward otherwise.
// Only the requested columns are decoded. Indices beyond the end of a
// finalized file are omitted; beyond the visible end of an IN_PROGRESS file
// they are listed in Pending.
func (r *Reader) ReadCells(indices []int, columns []string) (*Cells, error) {
	status, def, err := r.snapshot()
	if err != nil {
		return nil, err
	}
	cols := make([]int, len(columns))
	for i, name := range columns {
		if cols[i] = def.ColumnIndex(name); cols[i] < 0 {
			return nil, errors.Wrap(ErrUnknownColumn, errors.ErrorTypeValidation, name)
		}
	}
	sorted := uniqueSorted(indices)
	out := &Cells{Values: make(map[int]map[string]any, len(sorted))}
	if len(sorted) == 0 {
		return out, nil
	}
	if !def.Known() {
		if status == StatusInProgress {
			out.Pending = sorted
		}
		return out, nil
	}

	codec := NewCodec(def)
	sr := io.NewSectionReader(r.data, def.DataStart, int64(def.RowCount)*int64(def.LineWidth))
	br := pool.GetReader(sr)
	defer pool.PutReader(br)
	line := pool.GetBuffer(def.LineWidth)
	defer pool.PutBuffer(line)
	pos := 0 // row index at the reader position
	for _, idx := range sorted {
		if idx >= def.RowCount {
			if status == StatusInProgress {
				out.Pending = append(out.Pending, idx)
			}
			continue
		}
		if gap := idx - pos; gap > r.seekThreshold {
			if _, err := sr.Seek(int64(idx)*int64(def.LineWidth), io.SeekStart); err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to seek")
			}
			br.Reset(sr)
		} else if gap > 0 {
			if _, err := br.Discard(gap * def.LineWidth); err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to skip rows")
			}
		}
		if _, err := io.ReadFull(br, line); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to read row")
		}
		pos = idx + 1
		out.Decoded++
		values, err := codec.DecodeColumns(line, cols)
		if err != nil {
			metrics.DecodeErrors.Inc()
			r.log.Warn("skipping malformed row", zap.Int("row", idx), zap.Error(err))
			continue
		}
		m := make(map[string]any, len(columns))
		for i, name := range columns {
			m[name] = values[i]
		}
		out.Values[idx] = m
	}
	metrics.RowsRead.WithLabelValues(metrics.OpCells).Add(float64(out.Decoded))
	return out, nil
}

func uniqueSorted(in []int) []int {
	out := make([]int, 0, len(in))
	for _, i := range in {
		if i >= 0 {
			out = append(out, i)
		}
	}
	sort.Ints(out)
	n := 0
	for i, v := range out {
		if i == 0 || v != out[n-1] {
			out[n] = v
			n++
		}
	}
	return out[:n]
}

// Mapped reports whether rows are read from a memory mapping.
func (r *Reader) Mapped() bool {
	return r.mapped != nil
}

// Close releases the file and its mapping.
func (r *Reader) Close() error {
	var err error
	if r.mapped != nil {
		err = r.mapped.Close()
	}
	if cerr := r.f.Close(); err == nil {
		err = cerr
	}
	return err
}
