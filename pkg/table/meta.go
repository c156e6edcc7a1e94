package table

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ajitpratap0/ipactable/pkg/errors"
)

// header line positions
const (
	headerName = iota
	headerType
	headerUnit
	headerNull
)

// ReadMeta parses the attribute and column header lines at the start of r.
// The first line that is neither an attribute nor a header line is the first
// data row. Its length, when it is terminated, becomes the line width. A file
// with no complete data row yet yields LineWidth 0: the row count is then
// unknown, not zero.
//
// RowCount is not set; use SetFileSize or GetMetaInfo.
func ReadMeta(r io.Reader) (*TableDef, error) {
	br := bufio.NewReader(r)
	def := &TableDef{}
	var headers [][]string
	var widths []int
	var offset int64

	for {
		line, err := br.ReadString('\n')
		if err != nil && err != io.EOF {
			return nil, errors.Wrap(err, errors.ErrorTypeSetup, "failed to read table header")
		}
		if line == "" {
			def.DataStart = offset
			break
		}
		start := offset
		offset += int64(len(line))
		terminated := strings.HasSuffix(line, "\n")
		text := strings.TrimRight(line, "\r\n")

		switch {
		case strings.TrimSpace(text) == "" && (len(headers) == 0 || text == ""):
			// blank line
		case strings.HasPrefix(text, `\`) && len(headers) == 0:
			if a, ok := ParseAttribute(text); ok {
				def.Attributes = append(def.Attributes, a)
			}
		case strings.HasPrefix(text, "|"):
			if !terminated {
				// header line still being written
				def.DataStart = start
				return finishMeta(def, headers, widths)
			}
			segs, w := splitHeader(text)
			if len(headers) == 0 {
				widths = w
			}
			headers = append(headers, segs)
			def.LineSepLen = len(line) - len(text)
		default:
			def.DataStart = start
			if terminated {
				def.LineWidth = len(line)
				def.LineSepLen = len(line) - len(text)
			}
			return finishMeta(def, headers, widths)
		}
		if err == io.EOF {
			def.DataStart = offset
			break
		}
	}
	return finishMeta(def, headers, widths)
}

// splitHeader splits `|a  |b   |` into trimmed names and raw segment widths.
func splitHeader(text string) ([]string, []int) {
	parts := strings.Split(text, "|")
	// drop the empty piece before the leading pipe and after the trailing one
	parts = parts[1:]
	if n := len(parts); n > 0 && strings.TrimSpace(parts[n-1]) == "" {
		parts = parts[:n-1]
	}
	names := make([]string, len(parts))
	widths := make([]int, len(parts))
	for i, p := range parts {
		names[i] = strings.TrimSpace(p)
		widths[i] = len(p)
	}
	return names, widths
}

func finishMeta(def *TableDef, headers [][]string, widths []int) (*TableDef, error) {
	if len(headers) == 0 {
		return nil, errors.Wrap(ErrNoColumns, errors.ErrorTypeSetup, "no column header line")
	}
	cols := make([]Column, len(headers[headerName]))
	for i, name := range headers[headerName] {
		cols[i] = Column{Name: name, Width: widths[i], Type: TypeChar}
		if len(headers) > headerType && i < len(headers[headerType]) {
			cols[i].Type = ResolveType(headers[headerType][i])
		}
		if len(headers) > headerUnit && i < len(headers[headerUnit]) {
			cols[i].Unit = headers[headerUnit][i]
		}
		if len(headers) > headerNull && i < len(headers[headerNull]) {
			cols[i].NullString = headers[headerNull][i]
		}
		if d, ok := def.Attribute(descKey(name)); ok {
			cols[i].Desc = d
		}
	}
	def.Columns = cols
	if err := def.buildIndex(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSetup, "invalid column header")
	}
	return def, nil
}

// SetFileSize derives the row count from the size of the file. Only whole
// lines are counted.
func (d *TableDef) SetFileSize(size int64) {
	if d.LineWidth <= 0 || size <= d.DataStart {
		d.RowCount = 0
		return
	}
	d.RowCount = int((size - d.DataStart) / int64(d.LineWidth))
}

// GetMetaInfo reads the table definition of the file at path, including its
// current row count.
func GetMetaInfo(path string) (*TableDef, error) {
	f, err := os.Open(path) //nolint:gosec // G304: path is chosen by the caller
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(err, errors.ErrorTypeNotFound, "table file not found")
		}
		return nil, errors.Wrap(err, errors.ErrorTypeSetup, "failed to open table file")
	}
	defer f.Close()
	return readMetaFile(f)
}

func readMetaFile(f *os.File) (*TableDef, error) {
	def, err := ReadMeta(io.NewSectionReader(f, 0, 1<<62))
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to stat table file")
	}
	def.SetFileSize(info.Size())
	if abs, err := filepath.Abs(f.Name()); err == nil {
		def.Source = abs
	} else {
		def.Source = f.Name()
	}
	return def, nil
}
