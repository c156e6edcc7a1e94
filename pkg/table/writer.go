package table

import (
	"bufio"
	"bytes"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/ajitpratap0/ipactable/pkg/errors"
)

// Writer appends rows to a new table file. A Writer has exactly one owner at a
// time; it is not safe for concurrent use.
type Writer struct {
	f     *os.File
	bw    *bufio.Writer
	codec *Codec
	def   *TableDef
	path  string
	rows  int
	buf   []byte
	done  bool
}

// Create creates the file at path, replacing any existing file, and writes
// the IN_PROGRESS status line, the attributes and the column header lines.
// On failure no file is left behind.
func Create(path string, def *TableDef, opts ...Option) (*Writer, error) {
	o := newOptions(opts)
	out, err := layout(def, o)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSetup, "invalid table definition")
	}
	header := encodeHeader(out, o.terminator)
	out.DataStart = int64(len(header))

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeSetup, "failed to create table directory")
		}
	}
	// an existing file is unlinked, not truncated, so open readers and
	// memory mappings of it keep their content
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, errors.ErrorTypeSetup, "failed to replace table file").
			WithDetail("path", path)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, o.mode) //nolint:gosec // G304: path is chosen by the caller
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSetup, "failed to create table file").
			WithDetail("path", path)
	}
	if _, err := f.Write(header); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, errors.Wrap(err, errors.ErrorTypeSetup, "failed to write table header").
			WithDetail("path", path)
	}
	if abs, err := filepath.Abs(path); err == nil {
		out.Source = abs
	}
	return &Writer{
		f:     f,
		bw:    bufio.NewWriterSize(f, 64*1024),
		codec: NewCodec(out),
		def:   out,
		path:  path,
	}, nil
}

// layout copies def with widths fitted, null strings filled in and the
// line geometry set for the given terminator.
func layout(def *TableDef, o *options) (*TableDef, error) {
	if def == nil || len(def.Columns) == 0 {
		return nil, ErrNoColumns
	}
	cols := make([]Column, len(def.Columns))
	for i, c := range def.Columns {
		c.Type = ResolveType(string(c.Type))
		if c.NullString == "" {
			c.NullString = o.nullString
		}
		c.Width = c.fitWidth()
		cols[i] = c
	}
	attrs := make([]Attribute, 0, len(def.Attributes)+1)
	attrs = append(attrs, Attribute{Key: statusKey, Value: string(StatusInProgress)})
	for _, a := range def.Attributes {
		if !a.Comment && (a.Key == statusKey || isDescKey(a.Key)) {
			continue
		}
		attrs = append(attrs, a)
	}
	for _, c := range cols {
		if c.Desc != "" {
			attrs = append(attrs, Attribute{Key: descKey(c.Name), Value: c.Desc})
		}
	}
	out, err := NewTableDef(cols, attrs...)
	if err != nil {
		return nil, err
	}
	out.LineSepLen = len(o.terminator)
	out.LineWidth = out.DataWidth() + out.LineSepLen
	return out, nil
}

func isDescKey(key string) bool {
	return strings.HasPrefix(key, "col.") && strings.HasSuffix(key, ".desc")
}

// encodeHeader renders the status line, key/value attributes, comments and
// column header lines. The unit line is written when a column has a unit or
// the null line is needed; the null line when a column's null string differs
// from DefaultNullString.
func encodeHeader(def *TableDef, term string) []byte {
	var b bytes.Buffer
	b.Write(statusLine(StatusInProgress))
	b.WriteString(term)
	for _, a := range def.Attributes {
		if a.Comment || a.Key == statusKey {
			continue
		}
		b.WriteString(a.String())
		b.WriteString(term)
	}
	for _, a := range def.Attributes {
		if a.Comment {
			b.WriteString(a.String())
			b.WriteString(term)
		}
	}

	var needUnit, needNull bool
	for _, c := range def.Columns {
		needUnit = needUnit || c.Unit != ""
		needNull = needNull || c.NullString != DefaultNullString
	}
	writeHeaderLine(&b, def.Columns, term, func(c Column) string { return c.Name })
	writeHeaderLine(&b, def.Columns, term, func(c Column) string { return string(c.Type) })
	if needUnit || needNull {
		writeHeaderLine(&b, def.Columns, term, func(c Column) string { return c.Unit })
	}
	if needNull {
		writeHeaderLine(&b, def.Columns, term, func(c Column) string { return c.NullString })
	}
	return b.Bytes()
}

func writeHeaderLine(b *bytes.Buffer, cols []Column, term string, field func(Column) string) {
	for _, c := range cols {
		s := field(c)
		b.WriteByte('|')
		b.WriteString(s)
		for n := c.Width - len(s); n > 0; n-- {
			b.WriteByte(' ')
		}
	}
	b.WriteByte('|')
	b.WriteString(term)
}

// Def returns the definition as written, including the line geometry.
func (w *Writer) Def() *TableDef {
	return w.def
}

// Path returns the destination path.
func (w *Writer) Path() string {
	return w.path
}

// Rows returns the number of rows written.
func (w *Writer) Rows() int {
	return w.rows
}

// WriteRow encodes and buffers one row. A row that cannot be encoded is not
// written and a validation error is returned; the writer stays usable.
func (w *Writer) WriteRow(row Row) error {
	if w.done {
		return errors.New(errors.ErrorTypeFile, "writer is closed")
	}
	line, err := w.codec.AppendEncode(w.buf[:0], row.Values)
	if err != nil {
		return err
	}
	w.buf = line
	if _, err := w.bw.Write(line); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to append row")
	}
	w.rows++
	return nil
}

// Flush writes buffered rows to the file so readers can see them.
func (w *Writer) Flush() error {
	if w.done {
		return nil
	}
	if err := w.bw.Flush(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to flush rows")
	}
	return nil
}

// Finish flushes buffered rows, writes the final status and closes the file.
// If the flush fails the status is downgraded to PARTIAL. Finish returns the
// status actually written.
func (w *Writer) Finish(s Status) (Status, error) {
	if w.done {
		return s, errors.New(errors.ErrorTypeFile, "writer is closed")
	}
	w.done = true
	var errs []error
	if err := w.bw.Flush(); err != nil {
		errs = append(errs, errors.Wrap(err, errors.ErrorTypeFile, "failed to flush rows"))
		s = StatusPartial
	}
	if err := WriteStatus(w.f, s); err != nil {
		errs = append(errs, err)
	}
	if err := w.f.Close(); err != nil {
		errs = append(errs, errors.Wrap(err, errors.ErrorTypeFile, "failed to close table file"))
	}
	return s, stderrors.Join(errs...)
}

// closed reports whether Finish has run.
func (w *Writer) closed() bool {
	return w.done
}
