package source

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/ajitpratap0/ipactable/pkg/errors"
	"github.com/ajitpratap0/ipactable/pkg/table"
)

// DefaultSampleRows is the number of leading rows used to infer column types.
const DefaultSampleRows = 100

// minCharWidth keeps inferred text columns from being narrower than a short word.
const minCharWidth = 8

// CSV yields the records of a delimited text file. The first record names the
// columns; types and widths are inferred from the leading rows unless
// Config.Columns is set.
type CSV struct {
	base
	file    *os.File
	reader  *csv.Reader
	pending [][]string
	line    int
}

// OpenCSV opens path and reads the header and the type sample.
func OpenCSV(path string, cfg Config) (*CSV, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSetup, "failed to open CSV file")
	}
	src, err := newCSV(f, cfg)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	src.file = f
	return src, nil
}

// NewCSV reads CSV records from r. The caller owns r.
func NewCSV(r io.Reader, cfg Config) (*CSV, error) {
	return newCSV(r, cfg)
}

func newCSV(r io.Reader, cfg Config) (*CSV, error) {
	reader := csv.NewReader(r)
	if cfg.Delimiter != 0 {
		reader.Comma = cfg.Delimiter
	}
	reader.TrimLeadingSpace = true
	reader.ReuseRecord = false

	header, err := reader.Read()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSetup, "failed to read CSV header")
	}
	reader.FieldsPerRecord = len(header)

	src := &CSV{reader: reader, line: 1}

	cols := cfg.Columns
	if len(cols) == 0 {
		sample := cfg.SampleRows
		if sample <= 0 {
			sample = DefaultSampleRows
		}
		for len(src.pending) < sample {
			rec, err := reader.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeSetup, "failed to read CSV sample")
			}
			src.pending = append(src.pending, rec)
		}
		cols = inferColumns(header, func(yield func(col int, v string)) {
			for _, rec := range src.pending {
				for i, v := range rec {
					yield(i, v)
				}
			}
		})
	}

	src.base, err = newBase(cols)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSetup, "invalid CSV header")
	}
	if len(cols) != len(header) {
		return nil, errors.New(errors.ErrorTypeSetup,
			fmt.Sprintf("CSV has %d columns, %d configured", len(header), len(cols)))
	}
	return src, nil
}

// Next implements table.Source.
func (c *CSV) Next(ctx context.Context) (table.Row, error) {
	if err := ctx.Err(); err != nil {
		return table.Row{}, err
	}

	var rec []string
	if len(c.pending) > 0 {
		rec, c.pending = c.pending[0], c.pending[1:]
	} else {
		var err error
		rec, err = c.reader.Read()
		if err == io.EOF {
			return table.Row{}, io.EOF
		}
		if err != nil {
			return table.Row{}, errors.Wrap(err, errors.ErrorTypeProducer, fmt.Sprintf("CSV record after line %d", c.line))
		}
	}
	c.line++

	values := make([]any, len(rec))
	for i, v := range rec {
		values[i] = parseText(v, c.def.Columns[i].Type)
	}
	return c.row(values), nil
}

// Close implements table.Source.
func (c *CSV) Close() error {
	if c.file == nil {
		return nil
	}
	err := c.file.Close()
	c.file = nil
	return err
}

// inferColumns picks the narrowest type that parses every non-empty sample
// value of each column.
func inferColumns(names []string, sample func(yield func(col int, v string))) []table.Column {
	type stats struct {
		notInt, notFloat, notBool bool
		seen                      bool
		width                     int
	}
	st := make([]stats, len(names))
	sample(func(i int, v string) {
		if i >= len(st) {
			return
		}
		v = strings.TrimSpace(v)
		if len(v) > st[i].width {
			st[i].width = len(v)
		}
		if v == "" {
			return
		}
		st[i].seen = true
		if _, err := strconv.ParseInt(v, 10, 64); err != nil {
			st[i].notInt = true
		}
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			st[i].notFloat = true
		}
		if _, err := strconv.ParseBool(v); err != nil || isDigits(v) {
			st[i].notBool = true
		}
	})

	cols := make([]table.Column, len(names))
	for i, name := range names {
		col := table.Column{Name: strings.TrimSpace(name), Type: table.TypeChar}
		s := st[i]
		switch {
		case !s.seen:
		case !s.notInt:
			col.Type = table.TypeLong
		case !s.notFloat:
			col.Type = table.TypeDouble
		case !s.notBool:
			col.Type = table.TypeBoolean
		}
		if col.Type == table.TypeChar {
			col.Width = max(s.width, minCharWidth)
		}
		cols[i] = col
	}
	return cols
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// parseText converts a text cell to the value type of t. Empty cells are
// null. Cells that do not parse are passed through as text and rejected by
// the row codec.
func parseText(v string, t table.DataType) any {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	switch t {
	case table.TypeInt, table.TypeLong:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	case table.TypeFloat, table.TypeDouble:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	case table.TypeBoolean:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return v
}
