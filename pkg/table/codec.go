package table

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ajitpratap0/ipactable/pkg/errors"
)

// DefaultNullString is the cell text for nil values when a column does not
// declare its own.
const DefaultNullString = "null"

// Codec converts between rows and fixed-width data lines for one table
// definition. A data line is, for every column, a space followed by the cell
// padded to the column width, then a trailing space and the terminator. It has
// the same length as a header line. Numbers are right aligned and everything
// else left aligned.
//
// Decoded values are int64 for int and long columns, float64 for float and
// double, bool for boolean, string for char and date, and nil for null cells.
//
// A cell whose trimmed text equals the column's null string is a null cell,
// so a char value spelled like the null string (or padded with spaces) reads
// back as nil. Leading and trailing spaces of char values are not kept.
// Char values longer than the column are cut at a UTF-8 rune boundary.
type Codec struct {
	def        *TableDef
	nullString string
	terminator string
	offsets    []int
	width      int
}

// NewCodec creates a codec for def. The terminator follows the definition's
// detected line separator and defaults to "\n".
func NewCodec(def *TableDef) *Codec {
	c := &Codec{
		def:        def,
		nullString: DefaultNullString,
		terminator: "\n",
		offsets:    make([]int, len(def.Columns)),
	}
	if def.LineSepLen == 2 {
		c.terminator = "\r\n"
	}
	pos := 1
	for i, col := range def.Columns {
		c.offsets[i] = pos
		pos += col.Width + 1
	}
	c.width = pos
	return c
}

// Terminator returns the line terminator appended by Encode.
func (c *Codec) Terminator() string {
	return c.terminator
}

func (c *Codec) nullFor(col Column) string {
	if col.NullString != "" {
		return col.NullString
	}
	return c.nullString
}

// Encode formats values as a complete data line including the terminator.
func (c *Codec) Encode(values []any) ([]byte, error) {
	return c.AppendEncode(make([]byte, 0, c.width+len(c.terminator)), values)
}

// AppendEncode appends the encoded line to dst. On error dst is returned
// unchanged up to its original length.
func (c *Codec) AppendEncode(dst []byte, values []any) ([]byte, error) {
	if len(values) != len(c.def.Columns) {
		return dst, errors.Newf(errors.ErrorTypeValidation,
			"row has %d values, table has %d columns", len(values), len(c.def.Columns))
	}
	start := len(dst)
	for i, col := range c.def.Columns {
		s, err := c.formatCell(col, values[i])
		if err != nil {
			return dst[:start], err
		}
		if len(s) > col.Width {
			if col.Type.Numeric() {
				return dst[:start], errors.Newf(errors.ErrorTypeValidation,
					"value %q does not fit column %s of width %d", s, col.Name, col.Width)
			}
			cut := col.Width
			for cut > 0 && !utf8.RuneStart(s[cut]) {
				cut--
			}
			s = s[:cut]
		}
		dst = append(dst, ' ')
		pad := col.Width - len(s)
		if col.Type.Numeric() {
			dst = appendSpaces(dst, pad)
			dst = append(dst, s...)
		} else {
			dst = append(dst, s...)
			dst = appendSpaces(dst, pad)
		}
	}
	dst = append(dst, ' ')
	dst = append(dst, c.terminator...)
	return dst, nil
}

func appendSpaces(dst []byte, n int) []byte {
	for ; n > 0; n-- {
		dst = append(dst, ' ')
	}
	return dst
}

func (c *Codec) formatCell(col Column, v any) (string, error) {
	if v == nil {
		return c.nullFor(col), nil
	}
	switch col.Type {
	case TypeInt, TypeLong:
		n, err := toInt64(v)
		if err != nil {
			return "", errors.Wrap(err, errors.ErrorTypeValidation, "column "+col.Name)
		}
		return strconv.FormatInt(n, 10), nil
	case TypeFloat, TypeDouble:
		f, err := toFloat64(v)
		if err != nil {
			return "", errors.Wrap(err, errors.ErrorTypeValidation, "column "+col.Name)
		}
		return FormatFloat(f), nil
	case TypeBoolean:
		b, err := toBool(v)
		if err != nil {
			return "", errors.Wrap(err, errors.ErrorTypeValidation, "column "+col.Name)
		}
		return strconv.FormatBool(b), nil
	default:
		return cleanValue(toString(v)), nil
	}
}

// Decode parses a complete data line. The terminator is optional; the line
// must otherwise have exactly the width declared by the header.
func (c *Codec) Decode(line []byte) (Row, error) {
	body, err := c.body(line)
	if err != nil {
		return Row{}, err
	}
	values := make([]any, len(c.def.Columns))
	for i := range c.def.Columns {
		if values[i], err = c.decodeCell(body, i); err != nil {
			return Row{}, err
		}
	}
	return NewRow(c.def, values...), nil
}

// DecodeColumns parses only the cells at the given column positions and
// returns them in the same order.
func (c *Codec) DecodeColumns(line []byte, cols []int) ([]any, error) {
	body, err := c.body(line)
	if err != nil {
		return nil, err
	}
	values := make([]any, len(cols))
	for j, i := range cols {
		if i < 0 || i >= len(c.def.Columns) {
			return nil, errors.Newf(errors.ErrorTypeValidation, "column position %d out of range", i)
		}
		if values[j], err = c.decodeCell(body, i); err != nil {
			return nil, err
		}
	}
	return values, nil
}

func (c *Codec) body(line []byte) ([]byte, error) {
	n := len(line)
	if n > 0 && line[n-1] == '\n' {
		n--
		if n > 0 && line[n-1] == '\r' {
			n--
		}
	}
	body := line[:n]
	if len(body) != c.width {
		return nil, errors.Wrap(ErrMalformedRow, errors.ErrorTypeDecode,
			fmt.Sprintf("line width %d, expected %d", len(body), c.width))
	}
	if body[0] != ' ' {
		return nil, errors.Wrap(ErrMalformedRow, errors.ErrorTypeDecode, "line does not start with a cell separator")
	}
	return body, nil
}

func (c *Codec) decodeCell(body []byte, i int) (any, error) {
	col := c.def.Columns[i]
	off := c.offsets[i]
	cell := strings.TrimSpace(string(body[off : off+col.Width]))
	if cell == c.nullFor(col) {
		return nil, nil
	}
	switch col.Type {
	case TypeInt, TypeLong:
		if cell == "" {
			return nil, nil
		}
		n, err := strconv.ParseInt(cell, 10, 64)
		if err != nil {
			return nil, errors.Wrap(ErrMalformedRow, errors.ErrorTypeDecode,
				fmt.Sprintf("column %s: %q is not an integer", col.Name, cell))
		}
		return n, nil
	case TypeFloat, TypeDouble:
		if cell == "" {
			return nil, nil
		}
		f, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			return nil, errors.Wrap(ErrMalformedRow, errors.ErrorTypeDecode,
				fmt.Sprintf("column %s: %q is not a number", col.Name, cell))
		}
		return f, nil
	case TypeBoolean:
		if cell == "" {
			return nil, nil
		}
		b, err := strconv.ParseBool(cell)
		if err != nil {
			return nil, errors.Wrap(ErrMalformedRow, errors.ErrorTypeDecode,
				fmt.Sprintf("column %s: %q is not a boolean", col.Name, cell))
		}
		return b, nil
	default:
		return cell, nil
	}
}

// FormatFloat formats f with the fewest digits that parse back to the same value.
func FormatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Inf"
	case math.IsInf(f, -1):
		return "-Inf"
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// cleanValue keeps cell and attribute text on a single line.
func cleanValue(s string) string {
	if !strings.ContainsAny(s, "\r\n") {
		return s
	}
	s = strings.ReplaceAll(s, "\r", "")
	return strings.ReplaceAll(s, "\n", " ")
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case time.Time:
		return t.Format(time.RFC3339)
	case float64:
		return FormatFloat(t)
	case float32:
		return FormatFloat(float64(t))
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(v)
	}
}

func toInt64(v any) (int64, error) {
	switch t := v.(type) {
	case int:
		return int64(t), nil
	case int8:
		return int64(t), nil
	case int16:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case int64:
		return t, nil
	case uint:
		return int64(t), nil
	case uint8:
		return int64(t), nil
	case uint16:
		return int64(t), nil
	case uint32:
		return int64(t), nil
	case uint64:
		if t > math.MaxInt64 {
			return 0, fmt.Errorf("%d overflows int64", t)
		}
		return int64(t), nil
	case float32:
		return floatToInt(float64(t))
	case float64:
		return floatToInt(t)
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(t), 10, 64)
	case []byte:
		return strconv.ParseInt(strings.TrimSpace(string(t)), 10, 64)
	default:
		return 0, fmt.Errorf("cannot convert %T to an integer", v)
	}
}

func floatToInt(f float64) (int64, error) {
	if f != math.Trunc(f) || f > math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("%v is not an integer", f)
	}
	return int64(f), nil
}

func toFloat64(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(t), 64)
	case []byte:
		return strconv.ParseFloat(strings.TrimSpace(string(t)), 64)
	default:
		n, err := toInt64(v)
		if err != nil {
			return 0, fmt.Errorf("cannot convert %T to a number", v)
		}
		return float64(n), nil
	}
}

func toBool(v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		return strconv.ParseBool(strings.TrimSpace(t))
	default:
		n, err := toInt64(v)
		if err != nil {
			return false, fmt.Errorf("cannot convert %T to a boolean", v)
		}
		return n != 0, nil
	}
}
