package apperr

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidPackage = errors.New("not a valid package")
	ErrNoSpace        = errors.New("no space left on device")
)

// ImportError is the single reporting type for import failures that aborted the merge.
// The destination collection is left in its pre-import state.
type ImportError struct {
	Msg string
	Err error
}

func (e *ImportError) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	return e.Msg + ": " + e.Err.Error()
}

func (e *ImportError) Unwrap() error { return e.Err }

// NewImportError wraps err with a human-readable message.
func NewImportError(msg string, err error) *ImportError {
	return &ImportError{Msg: msg, Err: err}
}
