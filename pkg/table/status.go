package table

import (
	"bytes"
	"io"
	"os"

	"github.com/ajitpratap0/ipactable/pkg/errors"
)

// The status line is always the first line of a file written by this package:
//
//	\STATUS = IN_PROGRESS
//
// The value field is padded to statusFieldLen so rewriting it is a single
// fixed-size overwrite that never changes the file length.
const (
	statusKey      = "STATUS"
	statusPrefix   = `\` + statusKey + " = "
	statusFieldLen = len(StatusInProgress)
	statusLineLen  = len(statusPrefix) + statusFieldLen
)

// StatusFile is the handle WriteStatus operates on. *os.File satisfies it.
type StatusFile interface {
	io.ReaderAt
	io.WriterAt
}

func statusField(s Status) []byte {
	field := bytes.Repeat([]byte{' '}, statusFieldLen)
	copy(field, string(s))
	return field
}

// statusLine returns the status line without terminator.
func statusLine(s Status) []byte {
	return append([]byte(statusPrefix), statusField(s)...)
}

// ReadStatus reads the status line at the start of r. A file that does not
// begin with a status line is a static file and reports StatusCompleted.
func ReadStatus(r io.ReaderAt) (Status, error) {
	buf := make([]byte, statusLineLen)
	n, err := r.ReadAt(buf, 0)
	if err != nil && err != io.EOF {
		return "", errors.Wrap(err, errors.ErrorTypeFile, "failed to read status line")
	}
	buf = buf[:n]
	if n < len(statusPrefix) {
		if bytes.HasPrefix([]byte(statusPrefix), buf) {
			return "", errors.Wrap(ErrNotYetAvailable, errors.ErrorTypeUnavailable, "status line not written yet")
		}
		return StatusCompleted, nil
	}
	if !bytes.HasPrefix(buf, []byte(statusPrefix)) {
		return StatusCompleted, nil
	}
	if n < statusLineLen {
		return "", errors.Wrap(ErrNotYetAvailable, errors.ErrorTypeUnavailable, "status line not written yet")
	}
	return ParseStatus(string(buf[len(statusPrefix):]))
}

// ReadStatusFile reads the status of the table file at path.
func ReadStatusFile(path string) (Status, error) {
	f, err := os.Open(path) //nolint:gosec // G304: path is chosen by the caller
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.Wrap(err, errors.ErrorTypeNotFound, "table file not found")
		}
		return "", errors.Wrap(err, errors.ErrorTypeFile, "failed to open table file")
	}
	defer f.Close()
	return ReadStatus(f)
}

// WriteStatus overwrites the status field in place. Only the current owner of
// the file's write handle may call it. Writing the current value again leaves
// the file unchanged; changing a terminal status returns ErrStatusFinal.
func WriteStatus(f StatusFile, s Status) error {
	if _, err := ParseStatus(string(s)); err != nil {
		return err
	}
	buf := make([]byte, len(statusPrefix))
	if _, err := f.ReadAt(buf, 0); err != nil {
		return errors.Wrap(ErrNoStatusLine, errors.ErrorTypeFile, err.Error())
	}
	if !bytes.Equal(buf, []byte(statusPrefix)) {
		return ErrNoStatusLine
	}
	cur, err := ReadStatus(f)
	if err != nil {
		return err
	}
	if cur.Terminal() && cur != s {
		return errors.Wrap(ErrStatusFinal, errors.ErrorTypeConflict, "cannot change "+string(cur)+" to "+string(s))
	}
	if _, err := f.WriteAt(statusField(s), int64(len(statusPrefix))); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write status")
	}
	return nil
}
