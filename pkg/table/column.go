package table

import "strings"

// DataType is the declared type tag of a column as it appears in the type
// header line.
type DataType string

// Type tags understood by the codec.
const (
	TypeChar    DataType = "char"
	TypeInt     DataType = "int"
	TypeLong    DataType = "long"
	TypeFloat   DataType = "float"
	TypeDouble  DataType = "double"
	TypeBoolean DataType = "boolean"
	TypeDate    DataType = "date"
)

// ResolveType maps a type descriptor, including common abbreviations, to a
// type tag. Unknown descriptors are treated as char.
func ResolveType(s string) DataType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "i", "int", "integer", "short":
		return TypeInt
	case "l", "long":
		return TypeLong
	case "f", "float", "real":
		return TypeFloat
	case "d", "double", "r":
		return TypeDouble
	case "b", "bool", "boolean":
		return TypeBoolean
	case "date", "datetime", "timestamp":
		return TypeDate
	default:
		return TypeChar
	}
}

// Numeric reports whether values of this type are numbers.
func (t DataType) Numeric() bool {
	switch t {
	case TypeInt, TypeLong, TypeFloat, TypeDouble:
		return true
	}
	return false
}

// defaultWidth is used when a column declares no width.
func (t DataType) defaultWidth() int {
	switch t {
	case TypeInt:
		return 11
	case TypeLong:
		return 20
	case TypeFloat, TypeDouble:
		return 24
	case TypeBoolean:
		return 5
	case TypeDate:
		return 25
	default:
		return 30
	}
}

// Column describes one fixed-width column.
type Column struct {
	Name string
	Type DataType
	// Width is the number of characters reserved for cell values.
	Width int
	Unit  string
	// NullString is the cell text that decodes to nil. Empty means the codec default.
	NullString string
	Desc       string
}

// fitWidth returns the width needed to hold the column's header segments.
func (c Column) fitWidth() int {
	w := c.Width
	if w <= 0 {
		w = c.Type.defaultWidth()
	}
	for _, s := range []string{c.Name, string(c.Type), c.Unit, c.NullString} {
		if len(s) > w {
			w = len(s)
		}
	}
	return w
}

// descKey is the attribute key carrying a column description.
func descKey(name string) string {
	return "col." + name + ".desc"
}
