package warren

import (
	"errors"
	"fmt"

	"github.com/warrendb/warren/boundary"
)

var (
	// ErrHandleCreation is returned when a handle-producing boundary call
	// reports no error yet yields the sentinel handle. The boundary's error
	// convention does not guarantee a non-sentinel handle on all failure
	// paths, so this case is fabricated locally.
	ErrHandleCreation = errors.New("boundary returned neither an error nor a handle")

	// ErrEmptyResult is returned when the engine signals success on a
	// result-bearing call but returns no payload. This is a protocol
	// violation, not a silent success.
	ErrEmptyResult = errors.New("boundary returned success without a result payload")
)

// BoundaryError wraps an engine-reported failure. Message carries the
// engine's error text verbatim so callers can inspect engine-specific
// detail; this layer never rewrites or retries.
type BoundaryError struct {
	Op      string
	Message string
}

func (e *BoundaryError) Error() string {
	return e.Op + ": " + e.Message
}

// OpenError is returned by Open when the engine cannot be opened at the
// requested data directory.
type OpenError struct {
	Dir string
	Err error
}

func (e *OpenError) Unwrap() error {
	return e.Err
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("opening engine at %s: %v", e.Dir, e.Err)
}

// DecodeError indicates that a result payload crossed the boundary but was
// not of the shape this layer expects. It is distinct from BoundaryError:
// it means a contract mismatch between the two sides, not a data-level
// failure reported by the engine.
type DecodeError struct {
	Data []byte
	Err  error
	Msg  string
}

func decodeErrf(data []byte, err error, format string, args ...any) error {
	return &DecodeError{data, err, fmt.Sprintf(format, args...)}
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func (e *DecodeError) Error() string {
	const maxShown = 96
	data := e.Data
	ellipsis := ""
	if len(data) > maxShown {
		data, ellipsis = data[:maxShown], "..."
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v: %q%s", e.Msg, e.Err, data, ellipsis)
	}
	return fmt.Sprintf("%s: %q%s", e.Msg, data, ellipsis)
}

// takeErr is the single point where the boundary's error convention becomes
// a Go error: a non-nil error buffer fails the operation, and the buffer is
// released after its message is copied. No boundary call has succeeded while
// its error slot is non-empty, even if it also produced a result.
func takeErr(op string, errb *boundary.Buf) error {
	if errb == nil {
		return nil
	}
	return &BoundaryError{Op: op, Message: errb.Take()}
}

// takeHandle applies takeErr and then the sentinel-handle rule.
func takeHandle(op string, h boundary.Handle, errb *boundary.Buf) (boundary.Handle, error) {
	if err := takeErr(op, errb); err != nil {
		return boundary.None, err
	}
	if h == boundary.None {
		return boundary.None, fmt.Errorf("%s: %w", op, ErrHandleCreation)
	}
	return h, nil
}
