package wire

import (
	"github.com/coral-mesh/remoteprof/internal/schema"
)

// Envelope is one command on the wire.
//
// Host requests carry a sequence number that the target echoes back in its
// response. Story events are sent by the target unsolicited and leave Seq at
// zero.
type Envelope struct {
	Type     CommandType
	Seq      uint64
	Response bool

	// Event is set only for CommandProfilingStoryEvent.
	Event EventKind

	Payload *Map
	Schema  *schema.Descriptor

	// Configuration is the opaque profiling configuration sent with
	// CommandStartProfilingWithConfiguration.
	Configuration []byte

	// Error carries a failure reported by the remote side in a response.
	Error string

	// StopRecording and IsRootGroup are decode-critical arguments of
	// updateRecording and pushSampleGroup, carried outside the payload.
	StopRecording *bool
	IsRootGroup   *bool
}

// NewRequest builds a host request.
func NewRequest(t CommandType, seq uint64) *Envelope {
	return &Envelope{Type: t, Seq: seq}
}

// Reply builds the response envelope for a request.
func (e *Envelope) Reply() *Envelope {
	return &Envelope{Type: e.Type, Seq: e.Seq, Response: true}
}

// NewStoryEvent builds a ProfilingStoryEvent envelope.
func NewStoryEvent(kind EventKind, payload *Map, desc *schema.Descriptor) *Envelope {
	return &Envelope{
		Type:    CommandProfilingStoryEvent,
		Event:   kind,
		Payload: payload,
		Schema:  desc,
	}
}

// BoolPtr returns a pointer to b.
func BoolPtr(b bool) *bool { return &b }
