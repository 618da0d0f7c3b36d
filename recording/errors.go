package recording

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrAlreadyArmed is returned by Arm when a session is writing or still finishing.
	ErrAlreadyArmed = errors.New("recording already armed")
	// ErrAllocationFailed is returned by Arm when the output target cannot be cleared or opened.
	ErrAllocationFailed = errors.New("cannot allocate output")
)

// A WriterError is a failure of a Writer operation. Kind is ErrAlreadyArmed or
// ErrAllocationFailed for Arm failures, and nil for failures of an open session.
type WriterError struct {
	Op   string
	Kind error
	Err  error
}

func (e *WriterError) Error() string {
	switch {
	case e.Kind != nil && e.Err != nil:
		return fmt.Sprintf("recording %s: %v: %v", e.Op, e.Kind, e.Err)
	case e.Kind != nil:
		return fmt.Sprintf("recording %s: %v", e.Op, e.Kind)
	default:
		return fmt.Sprintf("recording %s: %v", e.Op, e.Err)
	}
}

// Unwrap lets errors.Is match both the kind and the underlying cause.
func (e *WriterError) Unwrap() []error {
	var errs []error
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// IsWriterError reports whether err is or wraps a *WriterError.
func IsWriterError(err error) bool {
	var we *WriterError
	return errors.As(err, &we)
}
