package table

import (
	"fmt"
	"strings"

	"github.com/ajitpratap0/ipactable/pkg/errors"
)

// Status is the load state recorded in a table file's status line.
type Status string

const (
	// StatusInProgress means rows may still be appended.
	StatusInProgress Status = "IN_PROGRESS"
	// StatusCompleted means the producer was drained and no more rows will be appended.
	StatusCompleted Status = "COMPLETED"
	// StatusPartial means writing stopped early because the producer failed
	// or the background worker was cancelled. No more rows will be appended.
	StatusPartial Status = "PARTIAL"
)

// Terminal reports whether no more rows will be appended.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusPartial
}

// ParseStatus parses a status field value, ignoring surrounding padding.
func ParseStatus(v string) (Status, error) {
	switch s := Status(strings.TrimSpace(v)); s {
	case StatusInProgress, StatusCompleted, StatusPartial:
		return s, nil
	default:
		return "", errors.Newf(errors.ErrorTypeValidation, "unknown table status %q", v)
	}
}

// RowIDColumn is the name of the row identity column. When present its value
// traces a row back to its position in the table it was derived from.
const RowIDColumn = "ROW_IDX"

// Attribute is a header line of the form `\key = value`, `\type key = value`
// or a comment `\ text`.
type Attribute struct {
	Type    string
	Key     string
	Value   string
	Comment bool
}

// String formats the attribute as a header line without terminator.
func (a Attribute) String() string {
	if a.Comment {
		return `\ ` + cleanValue(a.Value)
	}
	if a.Type != "" {
		return fmt.Sprintf(`\%s %s = %s`, a.Type, a.Key, cleanValue(a.Value))
	}
	return fmt.Sprintf(`\%s = %s`, a.Key, cleanValue(a.Value))
}

// ParseAttribute parses a header line beginning with a backslash. A line
// without '=' is a comment. It returns false for lines that are not
// attribute lines.
func ParseAttribute(line string) (Attribute, bool) {
	if !strings.HasPrefix(line, `\`) {
		return Attribute{}, false
	}
	body := strings.TrimRight(line[1:], "\r\n")
	eq := strings.IndexByte(body, '=')
	if eq < 0 || strings.HasPrefix(body, " ") {
		return Attribute{Comment: true, Value: strings.TrimSpace(body)}, true
	}
	left := strings.Fields(body[:eq])
	value := strings.TrimSpace(body[eq+1:])
	switch len(left) {
	case 1:
		return Attribute{Key: left[0], Value: value}, true
	case 2:
		return Attribute{Type: left[0], Key: left[1], Value: value}, true
	default:
		return Attribute{Comment: true, Value: strings.TrimSpace(body)}, true
	}
}

// TableDef describes a table file: its columns, attributes and the byte
// layout that makes offset arithmetic possible. A TableDef read from a file
// that has no complete data row yet has LineWidth 0; its RowCount is then
// unknown rather than zero.
type TableDef struct {
	Columns    []Column
	Attributes []Attribute

	// LineWidth is the byte width of every data line including its terminator.
	LineWidth int
	// LineSepLen is 1 for "\n" and 2 for "\r\n"; 0 when not yet detected.
	LineSepLen int
	// DataStart is the byte offset of the first data row.
	DataStart int64
	// RowCount is derived from the file size; valid only when LineWidth > 0.
	RowCount int
	// Source is the absolute path the definition was read from.
	Source string

	index map[string]int
}

// NewTableDef validates the columns, fills in missing widths and returns a
// definition ready to be written.
func NewTableDef(cols []Column, attrs ...Attribute) (*TableDef, error) {
	if len(cols) == 0 {
		return nil, errors.Wrap(ErrNoColumns, errors.ErrorTypeValidation, "invalid table definition")
	}
	def := &TableDef{
		Columns:    make([]Column, len(cols)),
		Attributes: append([]Attribute(nil), attrs...),
	}
	for i, c := range cols {
		if strings.TrimSpace(c.Name) == "" {
			return nil, errors.Newf(errors.ErrorTypeValidation, "column %d has no name", i)
		}
		if strings.ContainsAny(c.Name, "| \t\r\n") {
			return nil, errors.Newf(errors.ErrorTypeValidation, "column name %q contains a reserved character", c.Name)
		}
		c.Type = ResolveType(string(c.Type))
		c.Width = c.fitWidth()
		def.Columns[i] = c
	}
	if err := def.buildIndex(); err != nil {
		return nil, err
	}
	return def, nil
}

func (d *TableDef) buildIndex() error {
	d.index = make(map[string]int, len(d.Columns))
	for i, c := range d.Columns {
		if _, dup := d.index[c.Name]; dup {
			return errors.Wrap(ErrDuplicateColumn, errors.ErrorTypeValidation, c.Name)
		}
		d.index[c.Name] = i
	}
	return nil
}

// ColumnIndex returns the position of the named column or -1.
func (d *TableDef) ColumnIndex(name string) int {
	if d.index == nil {
		_ = d.buildIndex()
	}
	if i, ok := d.index[name]; ok {
		return i
	}
	return -1
}

// Column returns the named column.
func (d *TableDef) Column(name string) (Column, bool) {
	i := d.ColumnIndex(name)
	if i < 0 {
		return Column{}, false
	}
	return d.Columns[i], true
}

// ColumnNames returns the column names in order.
func (d *TableDef) ColumnNames() []string {
	names := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		names[i] = c.Name
	}
	return names
}

// Attribute returns the value of the last attribute with the given key.
func (d *TableDef) Attribute(key string) (string, bool) {
	for i := len(d.Attributes) - 1; i >= 0; i-- {
		a := d.Attributes[i]
		if !a.Comment && a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}

// Status returns the status recorded in the header when the definition was
// read. Definitions without a status line are static files and report
// StatusCompleted.
func (d *TableDef) Status() Status {
	v, ok := d.Attribute(statusKey)
	if !ok {
		return StatusCompleted
	}
	s, err := ParseStatus(v)
	if err != nil {
		return StatusCompleted
	}
	return s
}

// Known reports whether the line width has been determined.
func (d *TableDef) Known() bool {
	return d.LineWidth > 0
}

// HasRowID reports whether the table carries a row identity column.
func (d *TableDef) HasRowID() bool {
	return d.ColumnIndex(RowIDColumn) >= 0
}

// WithRowID returns a copy of the definition with a ROW_IDX column appended
// when it is absent. Layout fields are reset since the copy describes a new file.
func (d *TableDef) WithRowID() *TableDef {
	cols := append([]Column(nil), d.Columns...)
	if !d.HasRowID() {
		rid := Column{Name: RowIDColumn, Type: TypeLong}
		rid.Width = rid.fitWidth()
		cols = append(cols, rid)
	}
	out := &TableDef{Columns: cols, Attributes: append([]Attribute(nil), d.Attributes...)}
	_ = out.buildIndex()
	return out
}

// Project returns a copy of the definition restricted to the named columns,
// in the given order.
func (d *TableDef) Project(names ...string) (*TableDef, []int, error) {
	if len(names) == 0 {
		idx := make([]int, len(d.Columns))
		for i := range idx {
			idx[i] = i
		}
		out := &TableDef{Columns: append([]Column(nil), d.Columns...), Attributes: append([]Attribute(nil), d.Attributes...)}
		_ = out.buildIndex()
		return out, idx, nil
	}
	cols := make([]Column, 0, len(names))
	idx := make([]int, 0, len(names))
	for _, n := range names {
		i := d.ColumnIndex(n)
		if i < 0 {
			return nil, nil, errors.Wrap(ErrUnknownColumn, errors.ErrorTypeValidation, n)
		}
		cols = append(cols, d.Columns[i])
		idx = append(idx, i)
	}
	out := &TableDef{Columns: cols, Attributes: append([]Attribute(nil), d.Attributes...)}
	if err := out.buildIndex(); err != nil {
		return nil, nil, err
	}
	return out, idx, nil
}

// DataWidth is the byte width of a data line without its terminator.
func (d *TableDef) DataWidth() int {
	w := 1
	for _, c := range d.Columns {
		w += c.Width + 1
	}
	return w
}

// RowOffset is the byte offset of the given row.
func (d *TableDef) RowOffset(row int) int64 {
	return d.DataStart + int64(row)*int64(d.LineWidth)
}

// Row is one table row. Values are positional and follow the column order of
// the definition the row was created from. Index is the absolute row index
// within the file, or -1 when the row has not been placed in a file.
type Row struct {
	Index  int
	Values []any

	names map[string]int
}

// NewRow creates a row for the given definition.
func NewRow(def *TableDef, values ...any) Row {
	if def.index == nil {
		_ = def.buildIndex()
	}
	return Row{Index: -1, Values: values, names: def.index}
}

// Get returns the value of the named column.
func (r Row) Get(name string) (any, bool) {
	i, ok := r.names[name]
	if !ok || i >= len(r.Values) {
		return nil, false
	}
	return r.Values[i], true
}

// At returns the value at column position i.
func (r Row) At(i int) any {
	if i < 0 || i >= len(r.Values) {
		return nil
	}
	return r.Values[i]
}

// Set replaces the value of the named column.
func (r Row) Set(name string, v any) bool {
	i, ok := r.names[name]
	if !ok || i >= len(r.Values) {
		return false
	}
	r.Values[i] = v
	return true
}

// Map returns the row as a column name to value map.
func (r Row) Map() map[string]any {
	m := make(map[string]any, len(r.names))
	for name, i := range r.names {
		if i < len(r.Values) {
			m[name] = r.Values[i]
		}
	}
	return m
}

// bind attaches the column name index of def to the row.
func (r Row) bind(def *TableDef) Row {
	if def.index == nil {
		_ = def.buildIndex()
	}
	r.names = def.index
	return r
}
