package table

import "github.com/ajitpratap0/ipactable/pkg/errors"

var (
	// ErrNotYetAvailable is returned for rows beyond the visible end of a file
	// that is still IN_PROGRESS. Callers should retry later.
	ErrNotYetAvailable = errors.New(errors.ErrorTypeUnavailable, "rows not yet available")
	// ErrStatusFinal is returned when changing a terminal status.
	ErrStatusFinal = errors.New(errors.ErrorTypeConflict, "status is final")
	// ErrMalformedRow is returned when a data line does not match the header layout.
	ErrMalformedRow = errors.New(errors.ErrorTypeDecode, "malformed row")
	// ErrNoColumns is returned for a definition without columns.
	ErrNoColumns = errors.New(errors.ErrorTypeValidation, "table has no columns")
	// ErrDuplicateColumn is returned when two columns share a name.
	ErrDuplicateColumn = errors.New(errors.ErrorTypeValidation, "duplicate column")
	// ErrUnknownColumn is returned when a named column does not exist.
	ErrUnknownColumn = errors.New(errors.ErrorTypeNotFound, "unknown column")
	// ErrNoStatusLine is returned when writing the status of a file that has none.
	ErrNoStatusLine = errors.New(errors.ErrorTypeValidation, "file has no status line")
)
