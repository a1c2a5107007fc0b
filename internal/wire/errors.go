package wire

import (
	"errors"
	"fmt"
)

// ProtocolError reports a malformed or unknown envelope. It is fatal to the
// connection that produced it: the stream cannot be resynchronized.
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func protoErr(op string, format string, args ...any) error {
	return &ProtocolError{Op: op, Err: fmt.Errorf(format, args...)}
}

// IsProtocolError reports whether err is or wraps a ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
