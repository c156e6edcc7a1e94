package source

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	gojson "github.com/goccy/go-json"

	"github.com/ajitpratap0/ipactable/pkg/errors"
	"github.com/ajitpratap0/ipactable/pkg/table"
)

// JSONLines yields one row per JSON object in a stream of objects. Without
// Config.Columns the columns are the sorted union of keys in the leading
// objects.
type JSONLines struct {
	base
	file    *os.File
	dec     *gojson.Decoder
	pending []map[string]any
	count   int
}

// OpenJSONLines opens path and reads the column sample.
func OpenJSONLines(path string, cfg Config) (*JSONLines, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSetup, "failed to open JSON file")
	}
	src, err := newJSONLines(f, cfg)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	src.file = f
	return src, nil
}

// NewJSONLines reads objects from r. The caller owns r.
func NewJSONLines(r io.Reader, cfg Config) (*JSONLines, error) {
	return newJSONLines(r, cfg)
}

func newJSONLines(r io.Reader, cfg Config) (*JSONLines, error) {
	dec := gojson.NewDecoder(r)
	dec.UseNumber()
	src := &JSONLines{dec: dec}

	cols := cfg.Columns
	if len(cols) == 0 {
		sample := cfg.SampleRows
		if sample <= 0 {
			sample = DefaultSampleRows
		}
		keys := make(map[string]struct{})
		for len(src.pending) < sample {
			obj, err := src.decode()
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeSetup, "failed to read JSON sample")
			}
			for k := range obj {
				keys[k] = struct{}{}
			}
			src.pending = append(src.pending, obj)
		}
		if len(keys) == 0 {
			return nil, errors.New(errors.ErrorTypeSetup, "no JSON objects to derive columns from")
		}
		names := make([]string, 0, len(keys))
		for k := range keys {
			names = append(names, k)
		}
		sort.Strings(names)
		cols = inferColumns(names, func(yield func(int, string)) {
			for _, obj := range src.pending {
				for i, name := range names {
					if v, ok := obj[name]; ok && v != nil {
						yield(i, jsonText(v))
					}
				}
			}
		})
	}

	var err error
	src.base, err = newBase(cols)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSetup, "invalid JSON columns")
	}
	return src, nil
}

func (j *JSONLines) decode() (map[string]any, error) {
	var obj map[string]any
	if err := j.dec.Decode(&obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// Next implements table.Source.
func (j *JSONLines) Next(ctx context.Context) (table.Row, error) {
	if err := ctx.Err(); err != nil {
		return table.Row{}, err
	}

	var obj map[string]any
	if len(j.pending) > 0 {
		obj, j.pending = j.pending[0], j.pending[1:]
	} else {
		var err error
		obj, err = j.decode()
		if err == io.EOF {
			return table.Row{}, io.EOF
		}
		if err != nil {
			return table.Row{}, errors.Wrap(err, errors.ErrorTypeProducer, fmt.Sprintf("JSON object %d", j.count+1))
		}
	}
	j.count++

	values := make([]any, len(j.def.Columns))
	for i, col := range j.def.Columns {
		v, ok := obj[col.Name]
		if !ok || v == nil {
			continue
		}
		values[i] = jsonValue(v, col.Type)
	}
	return j.row(values), nil
}

// Close implements table.Source.
func (j *JSONLines) Close() error {
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}

type jsonNumber interface {
	Int64() (int64, error)
	Float64() (float64, error)
	String() string
}

func jsonValue(v any, t table.DataType) any {
	switch n := v.(type) {
	case jsonNumber:
		switch t {
		case table.TypeInt, table.TypeLong:
			if i, err := n.Int64(); err == nil {
				return i
			}
		case table.TypeFloat, table.TypeDouble:
			if f, err := n.Float64(); err == nil {
				return f
			}
		}
		return n.String()
	case string:
		return parseText(n, t)
	case bool:
		return n
	default:
		return jsonText(v)
	}
}

// jsonText renders a decoded value as cell text. Nested values keep their
// JSON form.
func jsonText(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case jsonNumber:
		return t.String()
	case bool:
		return fmt.Sprint(t)
	default:
		b, err := gojson.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return strings.TrimSpace(string(b))
	}
}
