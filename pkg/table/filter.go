package table

import (
	"context"

	"github.com/ajitpratap0/ipactable/pkg/errors"
)

// Predicate selects rows. index is the row's absolute index in the source.
type Predicate func(row Row, index int) bool

// Filter copies the rows of the table at srcPath that match pred to a new
// table at dstPath, using the same prefetch and handoff behavior as Stream.
// The output always carries a ROW_IDX column: the source's own ROW_IDX value
// when it has one, otherwise the source row index. WithColumns limits the
// output columns and WithFollow lets the filter consume a source that is
// still IN_PROGRESS. A nil predicate keeps every row.
func Filter(ctx context.Context, srcPath, dstPath string, pred Predicate, opts ...Option) (*Result, error) {
	o := newOptions(opts)
	src, err := OpenTableSource(srcPath, opts...)
	if err != nil {
		return nil, err
	}
	fs, err := newFilteringSource(src, pred, o.columns)
	if err != nil {
		_ = src.Close()
		return nil, err
	}
	return Stream(ctx, dstPath, fs.def, fs, opts...)
}

type filteringSource struct {
	src  *TableSource
	pred Predicate
	def  *TableDef
	proj []int
	// rowID is the position of ROW_IDX in the source, or -1 to synthesize it
	rowID    int
	appendID bool
}

func newFilteringSource(src *TableSource, pred Predicate, columns []string) (*filteringSource, error) {
	in := src.Def()
	names := columns
	if !in.HasRowID() && len(columns) > 0 {
		names = make([]string, 0, len(columns))
		for _, c := range columns {
			if c != RowIDColumn {
				names = append(names, c)
			}
		}
	}
	projected, proj, err := in.Project(names...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSetup, "invalid filter columns")
	}
	out := projected.WithRowID()
	return &filteringSource{
		src:      src,
		pred:     pred,
		def:      out,
		proj:     proj,
		rowID:    in.ColumnIndex(RowIDColumn),
		appendID: !projected.HasRowID(),
	}, nil
}

func (s *filteringSource) Columns() []Column {
	return s.def.Columns
}

func (s *filteringSource) Next(ctx context.Context) (Row, error) {
	for {
		row, err := s.src.Next(ctx)
		if err != nil {
			return Row{}, err
		}
		if s.pred != nil && !s.pred(row, row.Index) {
			continue
		}
		values := make([]any, 0, len(s.def.Columns))
		for _, i := range s.proj {
			values = append(values, row.Values[i])
		}
		if s.appendID {
			if s.rowID >= 0 {
				values = append(values, row.Values[s.rowID])
			} else {
				values = append(values, int64(row.Index))
			}
		}
		return NewRow(s.def, values...), nil
	}
}

func (s *filteringSource) Close() error {
	return s.src.Close()
}
