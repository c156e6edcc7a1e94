package source

import (
	"context"
	"io"
	"time"

	"github.com/ajitpratap0/ipactable/pkg/errors"
	"github.com/ajitpratap0/ipactable/pkg/table"
)

// base holds the definition shared by all producers.
type base struct {
	def *table.TableDef
}

func newBase(cols []table.Column) (base, error) {
	def, err := table.NewTableDef(cols)
	if err != nil {
		return base{}, err
	}
	return base{def: def}, nil
}

// Columns implements table.ColumnSource.
func (b base) Columns() []table.Column {
	return b.def.Columns
}

func (b base) row(values []any) table.Row {
	return table.NewRow(b.def, values...)
}

// Slice yields rows held in memory.
type Slice struct {
	base
	rows [][]any
	next int
}

// NewSlice creates a producer over rows. Each row must hold one value per column.
func NewSlice(cols []table.Column, rows [][]any) (*Slice, error) {
	b, err := newBase(cols)
	if err != nil {
		return nil, err
	}
	return &Slice{base: b, rows: rows}, nil
}

// Next implements table.Source.
func (s *Slice) Next(ctx context.Context) (table.Row, error) {
	if err := ctx.Err(); err != nil {
		return table.Row{}, err
	}
	if s.next >= len(s.rows) {
		return table.Row{}, io.EOF
	}
	r := s.row(s.rows[s.next])
	s.next++
	return r, nil
}

// Close implements table.Source.
func (s *Slice) Close() error {
	return nil
}

// Channel yields rows sent by another goroutine. The producer closes the
// rows channel when done and may report a failure on errs.
type Channel struct {
	base
	rows <-chan []any
	errs <-chan error
	done chan struct{}
}

// NewChannel creates a producer reading from rows and errs. errs may be nil.
func NewChannel(cols []table.Column, rows <-chan []any, errs <-chan error) (*Channel, error) {
	b, err := newBase(cols)
	if err != nil {
		return nil, err
	}
	return &Channel{base: b, rows: rows, errs: errs, done: make(chan struct{})}, nil
}

// Next implements table.Source.
func (c *Channel) Next(ctx context.Context) (table.Row, error) {
	select {
	case <-ctx.Done():
		return table.Row{}, ctx.Err()
	case err, ok := <-c.errs:
		if ok && err != nil {
			return table.Row{}, errors.Wrap(err, errors.ErrorTypeProducer, "row channel failed")
		}
		// errs closed without error: only rows remain
		c.errs = nil
		return c.Next(ctx)
	case values, ok := <-c.rows:
		if !ok {
			return table.Row{}, io.EOF
		}
		return c.row(values), nil
	}
}

// Done is closed when the consumer closes the source. Producers select on it
// to stop sending.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Close implements table.Source.
func (c *Channel) Close() error {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	return nil
}

// normalize converts driver values to the types the row codec understands.
func normalize(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case int32:
		return int64(t)
	case float32:
		return float64(t)
	default:
		return v
	}
}
