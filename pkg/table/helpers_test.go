package table

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testDef(t *testing.T) *TableDef {
	t.Helper()
	def, err := NewTableDef([]Column{
		{Name: "id", Type: TypeLong},
		{Name: "ra", Type: TypeDouble},
		{Name: "dec", Type: TypeDouble},
		{Name: "name", Type: TypeChar, Width: 12},
		{Name: "flag", Type: TypeInt},
	}, Attribute{Key: "fixlen", Value: "T"})
	require.NoError(t, err)
	return def
}

func testValues(i int) []any {
	return []any{int64(i), float64(i) * 1.5, -float64(i) / 3, fmt.Sprintf("obj %d", i), int64(i % 2)}
}

func testRows(n int) [][]any {
	rows := make([][]any, n)
	for i := range rows {
		rows[i] = testValues(i)
	}
	return rows
}

// sliceSource yields fixed rows and optionally fails at errAt.
type sliceSource struct {
	def    *TableDef
	rows   [][]any
	i      int
	errAt  int
	err    error
	mu     sync.Mutex
	closed bool
}

func newSliceSource(def *TableDef, rows [][]any) *sliceSource {
	return &sliceSource{def: def, rows: rows, errAt: -1}
}

func (s *sliceSource) Next(ctx context.Context) (Row, error) {
	if err := ctx.Err(); err != nil {
		return Row{}, err
	}
	if s.i == s.errAt {
		return Row{}, s.err
	}
	if s.i >= len(s.rows) {
		return Row{}, io.EOF
	}
	r := NewRow(s.def, s.rows[s.i]...)
	s.i++
	return r, nil
}

func (s *sliceSource) Columns() []Column {
	return s.def.Columns
}

func (s *sliceSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *sliceSource) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// gatedSource yields the first open rows freely and blocks before each
// further row until the gate is released.
type gatedSource struct {
	*sliceSource
	open int
	gate chan struct{}
}

func newGatedSource(def *TableDef, rows [][]any, open int) *gatedSource {
	return &gatedSource{sliceSource: newSliceSource(def, rows), open: open, gate: make(chan struct{})}
}

func (g *gatedSource) Next(ctx context.Context) (Row, error) {
	if g.i >= g.open {
		select {
		case <-g.gate:
		case <-ctx.Done():
			return Row{}, ctx.Err()
		}
	}
	return g.sliceSource.Next(ctx)
}

func (g *gatedSource) release() {
	close(g.gate)
}

// pacedSource waits before each row and gives up when the ctx passed to Next
// is done.
type pacedSource struct {
	*sliceSource
	delay time.Duration
}

func (p *pacedSource) Next(ctx context.Context) (Row, error) {
	select {
	case <-time.After(p.delay):
	case <-ctx.Done():
		return Row{}, ctx.Err()
	}
	return p.sliceSource.Next(ctx)
}

// writeTable writes a finished table with n test rows and returns its path.
func writeTable(t *testing.T, n int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "table.tbl")
	w, err := Create(path, testDef(t), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	for _, v := range testRows(n) {
		require.NoError(t, w.WriteRow(NewRow(w.Def(), v...)))
	}
	_, err = w.Finish(StatusCompleted)
	require.NoError(t, err)
	return path
}
