package story

import (
	"errors"
	"fmt"

	"github.com/coral-mesh/remoteprof/internal/wire"
)

// SequencingError rejects a single story event that violates the
// recording's event order. The stream continues.
type SequencingError struct {
	Event       wire.EventKind
	RecordingID string
	Reason      string
}

func (e *SequencingError) Error() string {
	return fmt.Sprintf("sequencing error: %s on recording %q: %s", e.Event, e.RecordingID, e.Reason)
}

func seqErr(kind wire.EventKind, recordingID, format string, args ...any) error {
	return &SequencingError{Event: kind, RecordingID: recordingID, Reason: fmt.Sprintf(format, args...)}
}

// DecodeError reports a payload that cannot be mapped to an entity, such
// as a missing required field or a descriptor for the wrong entity.
type DecodeError struct {
	Event  wire.EventKind
	Entity string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s (%s): %v", e.Event, e.Entity, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsSequencingError reports whether err is or wraps a SequencingError.
func IsSequencingError(err error) bool {
	var se *SequencingError
	return errors.As(err, &se)
}

// IsDecodeError reports whether err is or wraps a DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}
