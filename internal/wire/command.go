// Package wire implements the remote profiling command envelope and its
// length-prefixed binary framing.
//
// Payloads are generic ordered maps of tagged values plus an optional
// schema.Descriptor, so that producers and consumers built from different
// schema revisions can still exchange story events.
package wire

import "strconv"

// CommandType is the closed set of commands exchanged with a target.
type CommandType uint8

const (
	CommandPing CommandType = iota
	CommandGetDeviceInfo
	CommandStartProfilingWithConfiguration
	CommandProfilingStoryEvent
	CommandStopProfiling

	commandTypeCount
)

var commandNames = [...]string{
	CommandPing:                            "Ping",
	CommandGetDeviceInfo:                   "GetDeviceInfo",
	CommandStartProfilingWithConfiguration: "StartProfilingWithConfiguration",
	CommandProfilingStoryEvent:             "ProfilingStoryEvent",
	CommandStopProfiling:                   "StopProfiling",
}

// Valid reports whether c is a known command.
func (c CommandType) Valid() bool { return c < commandTypeCount }

func (c CommandType) String() string {
	if c.Valid() {
		return commandNames[c]
	}
	return "Command(" + strconv.Itoa(int(c)) + ")"
}

// EventKind discriminates ProfilingStoryEvent payloads.
// Zero is reserved so that a missing discriminator is detectable.
type EventKind uint8

const (
	EventUnknown EventKind = iota
	EventCreateRecording
	EventUpdateRecording
	EventPushSampleGroup
	EventPopSampleGroup
	EventCreatedOrUpdatedThreadInfo
	EventAddPerformanceSample
	EventAddRNPerformanceSample
	EventStartRequestWithNetworkSample
	EventFinishWithResponseForNetworkSample
	EventAddLogSample
	EventAddTag

	eventKindCount
)

var eventNames = [...]string{
	EventUnknown:                            "unknown",
	EventCreateRecording:                    "createRecording",
	EventUpdateRecording:                    "updateRecording",
	EventPushSampleGroup:                    "pushSampleGroup",
	EventPopSampleGroup:                     "popSampleGroup",
	EventCreatedOrUpdatedThreadInfo:         "createdOrUpdatedThreadInfo",
	EventAddPerformanceSample:               "addPerformanceSample",
	EventAddRNPerformanceSample:             "addRNPerformanceSample",
	EventStartRequestWithNetworkSample:      "startRequestWithNetworkSample",
	EventFinishWithResponseForNetworkSample: "finishWithResponseForNetworkSample",
	EventAddLogSample:                       "addLogSample",
	EventAddTag:                             "addTag",
}

// Valid reports whether k names one of the eleven story events.
func (k EventKind) Valid() bool { return k > EventUnknown && k < eventKindCount }

func (k EventKind) String() string {
	if k < eventKindCount {
		return eventNames[k]
	}
	return "event(" + strconv.Itoa(int(k)) + ")"
}

// EventKinds returns every valid story event kind in protocol order.
func EventKinds() []EventKind {
	kinds := make([]EventKind, 0, eventKindCount-1)
	for k := EventCreateRecording; k < eventKindCount; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}
