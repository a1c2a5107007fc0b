package story

import (
	"context"
	"errors"
	"fmt"

	"github.com/coral-mesh/remoteprof/internal/schema"
	"github.com/coral-mesh/remoteprof/internal/wire"
)

// Decoder is the consumer side of the story event stream. Every event is
// delivered inside a WillDecodeStoryEvent / DidDecodeStoryEvent bracket; the
// context returned by WillDecodeStoryEvent is passed to the event method and
// to DidDecodeStoryEvent.
//
// Payloads are generic maps interpreted through the accompanying schema
// descriptor, which may be nil when the producer sent none.
type Decoder interface {
	WillDecodeStoryEvent(ctx context.Context) (context.Context, error)
	// DidDecodeStoryEvent ends the bracket. decodeErr is the error returned
	// by the event method, if any.
	DidDecodeStoryEvent(ctx context.Context, decodeErr error) error

	CreateRecording(ctx context.Context, payload *wire.Map, desc *schema.Descriptor) error
	UpdateRecording(ctx context.Context, payload *wire.Map, stopRecording *bool, desc *schema.Descriptor) error
	PushSampleGroup(ctx context.Context, payload *wire.Map, isRootGroup *bool, desc *schema.Descriptor) error
	PopSampleGroup(ctx context.Context, payload *wire.Map, desc *schema.Descriptor) error
	CreatedOrUpdatedThreadInfo(ctx context.Context, payload *wire.Map, desc *schema.Descriptor) error
	AddPerformanceSample(ctx context.Context, payload *wire.Map, desc *schema.Descriptor) error
	AddRNPerformanceSample(ctx context.Context, payload *wire.Map, desc *schema.Descriptor) error
	StartRequest(ctx context.Context, payload *wire.Map, desc *schema.Descriptor) error
	FinishWithResponse(ctx context.Context, payload *wire.Map, desc *schema.Descriptor) error
	AddLogSample(ctx context.Context, payload *wire.Map, desc *schema.Descriptor) error
	AddTag(ctx context.Context, payload *wire.Map, desc *schema.Descriptor) error
}

// Event is one decoded ProfilingStoryEvent.
type Event struct {
	Kind          wire.EventKind
	Payload       *wire.Map
	Schema        *schema.Descriptor
	StopRecording *bool
	IsRootGroup   *bool
}

// EventFromEnvelope extracts the story event carried by env.
func EventFromEnvelope(env *wire.Envelope) (Event, error) {
	if env.Type != wire.CommandProfilingStoryEvent {
		return Event{}, fmt.Errorf("envelope %s is not a story event", env.Type)
	}
	if !env.Event.Valid() {
		return Event{}, &DecodeError{Event: env.Event, Err: errUnknownEvent}
	}
	return Event{
		Kind:          env.Event,
		Payload:       env.Payload,
		Schema:        env.Schema,
		StopRecording: env.StopRecording,
		IsRootGroup:   env.IsRootGroup,
	}, nil
}

var (
	errUnknownEvent = errors.New("unknown story event kind")
	errEmptyPayload = errors.New("empty payload")
)

// Dispatch delivers ev to dec inside the decode bracket. DidDecodeStoryEvent
// runs even when the event method fails or panics. The event method's error
// takes precedence over the bracket's.
func Dispatch(ctx context.Context, dec Decoder, ev Event) error {
	if !ev.Kind.Valid() {
		return &DecodeError{Event: ev.Kind, Err: errUnknownEvent}
	}

	ctx, err := dec.WillDecodeStoryEvent(ctx)
	if err != nil {
		return fmt.Errorf("begin %s: %w", ev.Kind, err)
	}

	opErr := invoke(ctx, dec, ev)
	if didErr := dec.DidDecodeStoryEvent(ctx, opErr); didErr != nil && opErr == nil {
		return fmt.Errorf("finish %s: %w", ev.Kind, didErr)
	}
	return opErr
}

func invoke(ctx context.Context, dec Decoder, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("decoder panic in %s: %v", ev.Kind, r)
		}
	}()

	switch ev.Kind {
	case wire.EventCreateRecording:
		return dec.CreateRecording(ctx, ev.Payload, ev.Schema)
	case wire.EventUpdateRecording:
		return dec.UpdateRecording(ctx, ev.Payload, ev.StopRecording, ev.Schema)
	case wire.EventPushSampleGroup:
		return dec.PushSampleGroup(ctx, ev.Payload, ev.IsRootGroup, ev.Schema)
	case wire.EventPopSampleGroup:
		return dec.PopSampleGroup(ctx, ev.Payload, ev.Schema)
	case wire.EventCreatedOrUpdatedThreadInfo:
		return dec.CreatedOrUpdatedThreadInfo(ctx, ev.Payload, ev.Schema)
	case wire.EventAddPerformanceSample:
		return dec.AddPerformanceSample(ctx, ev.Payload, ev.Schema)
	case wire.EventAddRNPerformanceSample:
		return dec.AddRNPerformanceSample(ctx, ev.Payload, ev.Schema)
	case wire.EventStartRequestWithNetworkSample:
		return dec.StartRequest(ctx, ev.Payload, ev.Schema)
	case wire.EventFinishWithResponseForNetworkSample:
		return dec.FinishWithResponse(ctx, ev.Payload, ev.Schema)
	case wire.EventAddLogSample:
		return dec.AddLogSample(ctx, ev.Payload, ev.Schema)
	case wire.EventAddTag:
		return dec.AddTag(ctx, ev.Payload, ev.Schema)
	}
	return &DecodeError{Event: ev.Kind, Err: errUnknownEvent}
}

// RecordingKey returns the recording an event belongs to, used to keep the
// events of one recording in order. It is empty when the payload names none.
func RecordingKey(ev Event) string {
	if ev.Payload == nil {
		return ""
	}
	a := recordingField
	if ev.Kind == wire.EventCreateRecording || ev.Kind == wire.EventUpdateRecording {
		a = idField
	}
	for _, key := range append([]string{a.name}, a.aliases...) {
		if v, ok := ev.Payload.Get(key); ok {
			if s, ok := v.AsString(); ok {
				return s
			}
		}
	}
	return ""
}

// mapper turns payloads into readers, resolving descriptor field names
// through a fingerprint-keyed plan cache.
type mapper struct {
	plans *planCache
}

func newMapper() *mapper {
	return &mapper{plans: newPlanCache()}
}

// read prepares a reader for entity. accept lists the descriptor entity
// names valid for the event; an empty descriptor entity is accepted.
func (mp *mapper) read(kind wire.EventKind, entity string, payload *wire.Map, desc *schema.Descriptor, accept ...string) (*reader, error) {
	if payload == nil || payload.Len() == 0 {
		return nil, &DecodeError{Event: kind, Entity: entity, Err: errEmptyPayload}
	}
	resolved := entity
	if desc != nil && desc.Entity != "" {
		ok := false
		for _, name := range append([]string{entity}, accept...) {
			if desc.Entity == name {
				ok = true
				resolved = name
				break
			}
		}
		if !ok {
			return nil, &DecodeError{Event: kind, Entity: entity,
				Err: fmt.Errorf("descriptor describes %q", desc.Entity)}
		}
	}
	p, err := mp.plans.get(resolved, desc)
	if err != nil {
		return nil, &DecodeError{Event: kind, Entity: resolved, Err: err}
	}
	return newReader(payload, resolved, p), nil
}

// need marks names as required for this read.
func (r *reader) need(names ...string) {
	for _, name := range names {
		if r.err != nil {
			return
		}
		if !r.has(name) {
			r.err = fmt.Errorf("missing required field %q", name)
		}
	}
}

func (r *reader) check(kind wire.EventKind, entity string) error {
	if r.err != nil {
		return &DecodeError{Event: kind, Entity: entity, Err: r.err}
	}
	return nil
}

func recordingFrom(r *reader) *Recording {
	rec := &Recording{ID: r.str("id")}
	mergeRecording(r, rec)
	return rec
}

// mergeRecording overwrites the fields present in the payload.
func mergeRecording(r *reader, rec *Recording) {
	if r.has("name") {
		rec.Name = r.str("name")
	}
	if r.has("startTimestamp") {
		rec.StartTime = r.time("startTimestamp")
	}
	if r.has("endTimestamp") {
		rec.EndTime = r.optTime("endTimestamp")
	}
	if r.has("appName") {
		rec.AppName = r.str("appName")
	}
	if r.has("deviceName") {
		rec.DeviceName = r.str("deviceName")
	}
	if r.has("deviceOS") {
		rec.DeviceOS = r.str("deviceOS")
	}
	if r.has("deviceOSType") {
		rec.DeviceOSType = r.osType("deviceOSType")
	}
}

func groupFrom(r *reader) *SampleGroup {
	return &SampleGroup{
		ID:            r.str("id"),
		RecordingID:   r.str("recordingID"),
		ParentGroupID: r.str("parentGroupID"),
		Name:          r.str("name"),
		StartTime:     r.time("timestamp"),
		EndTime:       r.optTime("closeTimestamp"),
		ThreadNumber:  r.int("threadNumber"),
	}
}

func threadFrom(r *reader) *ThreadInfo {
	return &ThreadInfo{
		RecordingID: r.str("recordingID"),
		Number:      r.int("number"),
		Name:        r.str("name"),
	}
}

func performanceFrom(r *reader, advanced bool) *PerformanceSample {
	s := &PerformanceSample{
		ID:            r.str("id"),
		RecordingID:   r.str("recordingID"),
		ParentGroupID: r.str("parentGroupID"),
		Timestamp:     r.time("timestamp"),
		ThreadNumber:  r.int("threadNumber"),
		CPUUsage:      r.float("cpuUsage"),
		MemoryUsage:   r.int("memoryUsage"),
		FPS:           r.float("fps"),
		DiskReads:     r.int("diskReads"),
		DiskWrites:    r.int("diskWrites"),
		Advanced:      advanced,
	}
	if advanced {
		s.ThreadCount = r.int("threadCount")
		s.HeaviestThreadNumber = r.optInt("heaviestThreadNumber")
		s.HeaviestStackTrace = r.strings("heaviestStackTrace")
	}
	return s
}

func rnPerformanceFrom(r *reader) *RNPerformanceSample {
	return &RNPerformanceSample{
		ID:                        r.str("id"),
		RecordingID:               r.str("recordingID"),
		ParentGroupID:             r.str("parentGroupID"),
		Timestamp:                 r.time("timestamp"),
		CPUUsage:                  r.float("cpuUsage"),
		BridgeJSToNativeCallCount: r.int("bridgeJSToNativeCallCount"),
		BridgeNativeToJSCallCount: r.int("bridgeNativeToJSCallCount"),
		BridgeJSToNativeDataSize:  r.int("bridgeJSToNativeDataSize"),
		BridgeNativeToJSDataSize:  r.int("bridgeNativeToJSDataSize"),
	}
}

func requestFrom(r *reader) *NetworkSample {
	return &NetworkSample{
		ID:                r.str("id"),
		RecordingID:       r.str("recordingID"),
		ParentGroupID:     r.str("parentGroupID"),
		Timestamp:         r.time("timestamp"),
		URL:               r.str("url"),
		Method:            r.str("method"),
		RequestHeaders:    r.stringMap("requestHeaders"),
		RequestDataLength: r.int("requestDataLength"),
		State:             NetworkStarted,
	}
}

// mergeResponse copies the response half of a finishWithResponse payload.
func mergeResponse(r *reader, n *NetworkSample) {
	n.ResponseTimestamp = r.optTime("responseTimestamp")
	n.ResponseStatusCode = r.int("responseStatusCode")
	n.ResponseMIMEType = r.str("responseMIMEType")
	n.ResponseHeaders = r.stringMap("responseHeaders")
	n.ResponseDataLength = r.int("responseDataLength")
	n.ResponseError = r.str("responseError")
	n.State = NetworkFinished
}

func logFrom(r *reader) *LogSample {
	return &LogSample{
		ID:            r.str("id"),
		RecordingID:   r.str("recordingID"),
		ParentGroupID: r.str("parentGroupID"),
		Timestamp:     r.time("timestamp"),
		Level:         r.str("level"),
		Subsystem:     r.str("subsystem"),
		Category:      r.str("category"),
		Line:          r.str("line"),
	}
}

func tagFrom(r *reader) *Tag {
	return &Tag{
		ID:            r.str("id"),
		RecordingID:   r.str("recordingID"),
		ParentGroupID: r.str("parentGroupID"),
		Timestamp:     r.time("timestamp"),
		Name:          r.str("name"),
	}
}
