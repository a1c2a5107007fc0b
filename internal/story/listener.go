package story

import (
	"time"

	"github.com/coral-mesh/remoteprof/internal/schema"
	"github.com/coral-mesh/remoteprof/internal/wire"
)

// Listener is the producer side of the story event stream: one typed method
// per event, called by the profiled process as the recording unfolds.
type Listener interface {
	CreateRecording(r *Recording) error
	UpdateRecording(r *Recording, stopRecording bool) error
	PushSampleGroup(g *SampleGroup, isRootGroup bool) error
	PopSampleGroup(g *SampleGroup) error
	CreatedOrUpdatedThreadInfo(t *ThreadInfo) error
	AddPerformanceSample(s *PerformanceSample) error
	AddRNPerformanceSample(s *RNPerformanceSample) error
	StartRequest(n *NetworkSample) error
	FinishWithResponse(n *NetworkSample) error
	AddLogSample(l *LogSample) error
	AddTag(t *Tag) error
}

// Emitter receives encoded story event envelopes.
type Emitter interface {
	Emit(env *wire.Envelope) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(env *wire.Envelope) error

func (f EmitterFunc) Emit(env *wire.Envelope) error { return f(env) }

// Encoder implements Listener by turning each event into a
// ProfilingStoryEvent envelope carrying a generic payload and the built-in
// schema descriptor of the entity.
type Encoder struct {
	emit        Emitter
	descriptors map[string]*schema.Descriptor
}

var _ Listener = (*Encoder)(nil)

// NewEncoder returns an Encoder that hands envelopes to emit.
func NewEncoder(emit Emitter) *Encoder {
	descriptors := make(map[string]*schema.Descriptor)
	for _, entity := range schema.Entities() {
		descriptors[entity] = schema.Builtin(entity)
	}
	return &Encoder{emit: emit, descriptors: descriptors}
}

func (e *Encoder) send(kind wire.EventKind, entity string, payload *wire.Map) *wire.Envelope {
	return wire.NewStoryEvent(kind, payload, e.descriptors[entity])
}

func (e *Encoder) CreateRecording(r *Recording) error {
	return e.emit.Emit(e.send(wire.EventCreateRecording, schema.EntityRecording, encodeRecording(r)))
}

func (e *Encoder) UpdateRecording(r *Recording, stopRecording bool) error {
	env := e.send(wire.EventUpdateRecording, schema.EntityRecording, encodeRecording(r))
	env.StopRecording = wire.BoolPtr(stopRecording)
	return e.emit.Emit(env)
}

func (e *Encoder) PushSampleGroup(g *SampleGroup, isRootGroup bool) error {
	env := e.send(wire.EventPushSampleGroup, schema.EntitySampleGroup, encodeGroup(g))
	env.IsRootGroup = wire.BoolPtr(isRootGroup)
	return e.emit.Emit(env)
}

func (e *Encoder) PopSampleGroup(g *SampleGroup) error {
	return e.emit.Emit(e.send(wire.EventPopSampleGroup, schema.EntitySampleGroup, encodeGroup(g)))
}

func (e *Encoder) CreatedOrUpdatedThreadInfo(t *ThreadInfo) error {
	m := wire.NewMap().
		Set("recordingID", wire.String(t.RecordingID)).
		Set("number", wire.Int(t.Number))
	if t.Name != "" {
		m.Set("name", wire.String(t.Name))
	}
	return e.emit.Emit(e.send(wire.EventCreatedOrUpdatedThreadInfo, schema.EntityThreadInfo, m))
}

func (e *Encoder) AddPerformanceSample(s *PerformanceSample) error {
	entity := schema.EntityPerformanceSample
	if s.Advanced {
		entity = schema.EntityAdvancedPerformanceSample
	}
	return e.emit.Emit(e.send(wire.EventAddPerformanceSample, entity, encodePerformance(s)))
}

func (e *Encoder) AddRNPerformanceSample(s *RNPerformanceSample) error {
	m := sampleMap(s.ID, s.RecordingID, s.ParentGroupID, s.Timestamp).
		Set("cpuUsage", wire.Float(s.CPUUsage)).
		Set("bridgeJSToNativeCallCount", wire.Int(s.BridgeJSToNativeCallCount)).
		Set("bridgeNativeToJSCallCount", wire.Int(s.BridgeNativeToJSCallCount)).
		Set("bridgeJSToNativeDataSize", wire.Int(s.BridgeJSToNativeDataSize)).
		Set("bridgeNativeToJSDataSize", wire.Int(s.BridgeNativeToJSDataSize))
	return e.emit.Emit(e.send(wire.EventAddRNPerformanceSample, schema.EntityRNPerformanceSample, m))
}

func (e *Encoder) StartRequest(n *NetworkSample) error {
	return e.emit.Emit(e.send(wire.EventStartRequestWithNetworkSample, schema.EntityNetworkSample, encodeNetwork(n)))
}

func (e *Encoder) FinishWithResponse(n *NetworkSample) error {
	done := *n
	done.State = NetworkFinished
	return e.emit.Emit(e.send(wire.EventFinishWithResponseForNetworkSample, schema.EntityNetworkSample, encodeNetwork(&done)))
}

func (e *Encoder) AddLogSample(l *LogSample) error {
	m := sampleMap(l.ID, l.RecordingID, l.ParentGroupID, l.Timestamp).
		Set("line", wire.String(l.Line))
	setString(m, "level", l.Level)
	setString(m, "subsystem", l.Subsystem)
	setString(m, "category", l.Category)
	return e.emit.Emit(e.send(wire.EventAddLogSample, schema.EntityLogSample, m))
}

func (e *Encoder) AddTag(t *Tag) error {
	m := sampleMap(t.ID, t.RecordingID, t.ParentGroupID, t.Timestamp).
		Set("name", wire.String(t.Name))
	return e.emit.Emit(e.send(wire.EventAddTag, schema.EntityTag, m))
}

func setString(m *wire.Map, key, s string) {
	if s != "" {
		m.Set(key, wire.String(s))
	}
}

func sampleMap(id, recordingID, parent string, ts time.Time) *wire.Map {
	m := wire.NewMap().
		Set("id", wire.String(id)).
		Set("recordingID", wire.String(recordingID))
	setString(m, "parentGroupID", parent)
	if !ts.IsZero() {
		m.Set("timestamp", wire.Time(ts))
	}
	return m
}

func encodeRecording(r *Recording) *wire.Map {
	m := wire.NewMap().Set("id", wire.String(r.ID))
	setString(m, "name", r.Name)
	if !r.StartTime.IsZero() {
		m.Set("startTimestamp", wire.Time(r.StartTime))
	}
	if r.EndTime != nil {
		m.Set("endTimestamp", wire.Time(*r.EndTime))
	}
	setString(m, "appName", r.AppName)
	setString(m, "deviceName", r.DeviceName)
	setString(m, "deviceOS", r.DeviceOS)
	if r.DeviceOSType != OSUnknown {
		m.Set("deviceOSType", wire.Int(int64(r.DeviceOSType)))
	}
	return m
}

func encodeGroup(g *SampleGroup) *wire.Map {
	m := wire.NewMap().
		Set("id", wire.String(g.ID)).
		Set("recordingID", wire.String(g.RecordingID))
	setString(m, "parentGroupID", g.ParentGroupID)
	m.Set("name", wire.String(g.Name))
	if !g.StartTime.IsZero() {
		m.Set("timestamp", wire.Time(g.StartTime))
	}
	if g.EndTime != nil {
		m.Set("closeTimestamp", wire.Time(*g.EndTime))
	}
	if g.ThreadNumber != 0 {
		m.Set("threadNumber", wire.Int(g.ThreadNumber))
	}
	return m
}

func encodePerformance(s *PerformanceSample) *wire.Map {
	m := sampleMap(s.ID, s.RecordingID, s.ParentGroupID, s.Timestamp)
	if s.ThreadNumber != 0 {
		m.Set("threadNumber", wire.Int(s.ThreadNumber))
	}
	m.Set("cpuUsage", wire.Float(s.CPUUsage)).
		Set("memoryUsage", wire.Int(s.MemoryUsage)).
		Set("fps", wire.Float(s.FPS)).
		Set("diskReads", wire.Int(s.DiskReads)).
		Set("diskWrites", wire.Int(s.DiskWrites))
	if !s.Advanced {
		return m
	}
	m.Set("threadCount", wire.Int(s.ThreadCount))
	if s.HeaviestThreadNumber != nil {
		m.Set("heaviestThreadNumber", wire.Int(*s.HeaviestThreadNumber))
	}
	if len(s.HeaviestStackTrace) > 0 {
		m.Set("heaviestStackTrace", wire.Strings(s.HeaviestStackTrace))
	}
	return m
}

func encodeNetwork(n *NetworkSample) *wire.Map {
	m := sampleMap(n.ID, n.RecordingID, n.ParentGroupID, n.Timestamp).
		Set("url", wire.String(n.URL))
	setString(m, "method", n.Method)
	if len(n.RequestHeaders) > 0 {
		m.Set("requestHeaders", wire.MapValue(wire.FromStringMap(n.RequestHeaders)))
	}
	m.Set("requestDataLength", wire.Int(n.RequestDataLength))
	if n.ResponseTimestamp != nil {
		m.Set("responseTimestamp", wire.Time(*n.ResponseTimestamp))
	}
	if n.State == NetworkFinished {
		m.Set("responseStatusCode", wire.Int(n.ResponseStatusCode))
		setString(m, "responseMIMEType", n.ResponseMIMEType)
		if len(n.ResponseHeaders) > 0 {
			m.Set("responseHeaders", wire.MapValue(wire.FromStringMap(n.ResponseHeaders)))
		}
		m.Set("responseDataLength", wire.Int(n.ResponseDataLength))
		setString(m, "responseError", n.ResponseError)
	}
	return m
}
