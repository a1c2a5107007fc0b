package target

import (
	"errors"
	"fmt"
	"strings"

	"github.com/coral-mesh/remoteprof/internal/wire"
)

// ErrClosed is returned by commands issued on, or pending when, a target
// that has been torn down.
var ErrClosed = errors.New("target closed")

// StateError reports a command issued in a state that does not allow it.
// The command is never sent and the target state is unchanged.
type StateError struct {
	Op    string
	State State
	Want  []State
}

func (e *StateError) Error() string {
	want := make([]string, len(e.Want))
	for i, s := range e.Want {
		want[i] = s.String()
	}
	return fmt.Sprintf("%s: target is %s, want %s", e.Op, e.State, strings.Join(want, " or "))
}

// TransportError reports a failed read or write on the target connection.
// The target is torn down when one occurs.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RemoteError is a failure reported by the target in a command response.
type RemoteError struct {
	Command wire.CommandType
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s failed on target: %s", e.Command, e.Message)
}

// IsStateError reports whether err is or wraps a StateError.
func IsStateError(err error) bool {
	var se *StateError
	return errors.As(err, &se)
}

// IsTransportError reports whether err is or wraps a TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
