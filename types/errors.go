package types

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Error classes. Every error produced by the migration core carries exactly
// one of these marks; callers classify with errors.Is.
var (
	ErrGraph      = errors.New("graph error")
	ErrSchema     = errors.New("schema error")
	ErrConversion = errors.New("conversion error")
	ErrAction     = errors.New("action error")
)

// GraphErrorf reports a cycle, an unknown migration, an unreachable target or a held lock.
func GraphErrorf(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrGraph)
}

// SchemaErrorf reports a malformed or inconsistent schema state.
func SchemaErrorf(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrSchema)
}

// ConversionErrorf reports a missing converter or a value that failed conversion.
func ConversionErrorf(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrConversion)
}

// WrapActionError wraps a storage failure. Errors that are already
// classified keep their class.
func WrapActionError(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	wrapped := errors.Wrapf(err, format, args...)
	if Classified(err) {
		return wrapped
	}
	return errors.Mark(wrapped, ErrAction)
}

// Classified reports whether err already carries one of the core marks.
func Classified(err error) bool {
	return errors.Is(err, ErrGraph) || errors.Is(err, ErrSchema) ||
		errors.Is(err, ErrConversion) || errors.Is(err, ErrAction)
}

// RecordError identifies the stored record that made a conversion fail.
type RecordError struct {
	Collection string
	ID         any
	Path       string
	Err        error
}

// NewRecordError builds a RecordError marked as a conversion error.
func NewRecordError(collection string, id any, path string, err error) *RecordError {
	if !errors.Is(err, ErrConversion) {
		err = errors.Mark(err, ErrConversion)
	}
	return &RecordError{Collection: collection, ID: id, Path: path, Err: err}
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("%s: record %v, field %s: %v", e.Collection, e.ID, e.Path, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

// Process exit codes.
const (
	ExitOK         = 0
	ExitOther      = 1
	ExitGraph      = 2
	ExitSchema     = 3
	ExitConversion = 4
	ExitStorage    = 5
)

// ExitCode maps an error to the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrGraph):
		return ExitGraph
	case errors.Is(err, ErrSchema):
		return ExitSchema
	case errors.Is(err, ErrConversion):
		return ExitConversion
	case errors.Is(err, ErrAction):
		return ExitStorage
	default:
		return ExitOther
	}
}
