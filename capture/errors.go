package capture

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrInvalidState is returned when an operation is not valid in the source's current state,
	// e.g. reconfiguring while capturing.
	ErrInvalidState = errors.New("invalid state")
	// ErrUnsupportedFormat is returned when the device cannot produce the requested configuration.
	ErrUnsupportedFormat = errors.New("unsupported format")
	// ErrDeviceClosed is returned by every operation after Close.
	ErrDeviceClosed = errors.New("device has been closed")
)

// DeviceError is a configuration or device level failure. It is fatal to the capture session:
// the controller stops capture and reports it rather than retrying.
type DeviceError struct {
	Op  string
	Err error
}

// NewDeviceError wraps err as a DeviceError for the named operation.
func NewDeviceError(op string, err error) *DeviceError {
	return &DeviceError{Op: op, Err: err}
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("camera %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *DeviceError) Unwrap() error {
	return e.Err
}

// IsDeviceError reports whether err is or wraps a DeviceError.
func IsDeviceError(err error) bool {
	var devErr *DeviceError
	return errors.As(err, &devErr)
}
