package story

import (
	"fmt"
	"sync"
	"time"

	"github.com/coral-mesh/remoteprof/internal/schema"
	"github.com/coral-mesh/remoteprof/internal/wire"
)

// accessor maps one promoted field to the payload keys that may carry it.
// Aliases cover names used by older producers.
type accessor struct {
	name     string
	aliases  []string
	typ      schema.FieldType
	required bool
}

func field(name string, t schema.FieldType, aliases ...string) accessor {
	return accessor{name: name, typ: t, aliases: aliases}
}

func required(name string, t schema.FieldType, aliases ...string) accessor {
	return accessor{name: name, typ: t, aliases: aliases, required: true}
}

var (
	idField        = required("id", schema.TypeString, "identifier")
	recordingField = required("recordingID", schema.TypeString, "recordingId", "recording")
	parentField    = field("parentGroupID", schema.TypeString, "parentGroupId", "parentGroup")
	timestampField = required("timestamp", schema.TypeTime, "time")
	threadField    = field("threadNumber", schema.TypeInt, "thread")
)

// tables lists the accessors per decoded entity. Keys are the entity names
// of schema.Builtin.
var tables = map[string][]accessor{
	schema.EntityRecording: {
		idField,
		field("name", schema.TypeString),
		field("startTimestamp", schema.TypeTime, "startTime", "timestamp"),
		field("endTimestamp", schema.TypeTime, "endTime", "closeTimestamp"),
		field("appName", schema.TypeString),
		field("deviceName", schema.TypeString),
		field("deviceOS", schema.TypeString, "deviceOSVersion"),
		field("deviceOSType", schema.TypeInt, "osType"),
		field("stopRecording", schema.TypeBool, "stopped"),
	},
	schema.EntitySampleGroup: {
		idField, recordingField, parentField,
		field("name", schema.TypeString),
		field("timestamp", schema.TypeTime, "startTimestamp", "time"),
		field("closeTimestamp", schema.TypeTime, "endTimestamp"),
		threadField,
		field("isRootGroup", schema.TypeBool, "root"),
	},
	schema.EntityThreadInfo: {
		recordingField,
		required("number", schema.TypeInt, "threadNumber"),
		field("name", schema.TypeString),
	},
	schema.EntityPerformanceSample: {
		idField, recordingField, parentField, timestampField, threadField,
		field("cpuUsage", schema.TypeFloat, "cpu"),
		field("memoryUsage", schema.TypeInt, "memUsage", "memory"),
		field("fps", schema.TypeFloat),
		field("diskReads", schema.TypeInt),
		field("diskWrites", schema.TypeInt),
		field("threadCount", schema.TypeInt),
		field("heaviestThreadNumber", schema.TypeInt),
		field("heaviestStackTrace", schema.TypeList, "stackTrace"),
	},
	schema.EntityRNPerformanceSample: {
		idField, recordingField, parentField, timestampField,
		field("cpuUsage", schema.TypeFloat, "cpu"),
		field("bridgeJSToNativeCallCount", schema.TypeInt),
		field("bridgeNativeToJSCallCount", schema.TypeInt),
		field("bridgeJSToNativeDataSize", schema.TypeInt),
		field("bridgeNativeToJSDataSize", schema.TypeInt),
	},
	schema.EntityNetworkSample: {
		idField, recordingField, parentField,
		field("timestamp", schema.TypeTime, "time"),
		field("url", schema.TypeString, "URL"),
		field("method", schema.TypeString, "httpMethod"),
		field("requestHeaders", schema.TypeMap),
		field("requestDataLength", schema.TypeInt),
		field("responseTimestamp", schema.TypeTime),
		field("responseStatusCode", schema.TypeInt, "statusCode"),
		field("responseMIMEType", schema.TypeString, "mimeType"),
		field("responseHeaders", schema.TypeMap),
		field("responseDataLength", schema.TypeInt),
		field("responseError", schema.TypeString, "error"),
	},
	schema.EntityLogSample: {
		idField, recordingField, parentField, timestampField,
		field("level", schema.TypeString),
		field("subsystem", schema.TypeString),
		field("category", schema.TypeString),
		field("line", schema.TypeString, "message"),
	},
	schema.EntityTag: {
		idField, recordingField, parentField, timestampField,
		field("name", schema.TypeString),
	},
}

// tableFor maps the advanced performance entity onto the shared table.
func tableFor(entity string) []accessor {
	if entity == schema.EntityAdvancedPerformanceSample {
		return tables[schema.EntityPerformanceSample]
	}
	return tables[entity]
}

// compatible reports whether a declared field type can be coerced into the
// accessor type.
func compatible(want, declared schema.FieldType) bool {
	if declared == schema.TypeUnknown || want == declared {
		return true
	}
	switch want {
	case schema.TypeString:
		return declared != schema.TypeList && declared != schema.TypeMap
	case schema.TypeInt, schema.TypeFloat:
		return declared == schema.TypeInt || declared == schema.TypeFloat ||
			declared == schema.TypeBool || declared == schema.TypeString || declared == schema.TypeTime
	case schema.TypeBool:
		return declared == schema.TypeInt
	case schema.TypeTime:
		return declared == schema.TypeInt || declared == schema.TypeFloat || declared == schema.TypeString
	}
	return false
}

// plan is the resolved key for every accessor of one (entity, descriptor)
// pair. An empty key means the descriptor does not declare the field and the
// reader falls back to probing the payload.
type plan struct {
	keys map[string]string
}

type planKey struct {
	entity      string
	fingerprint uint64
}

// planCache memoizes plans by descriptor fingerprint so repeated events of
// the same shape skip descriptor resolution.
type planCache struct {
	mu    sync.RWMutex
	plans map[planKey]*plan
}

func newPlanCache() *planCache {
	return &planCache{plans: make(map[planKey]*plan)}
}

func (c *planCache) get(entity string, d *schema.Descriptor) (*plan, error) {
	key := planKey{entity: entity, fingerprint: d.Fingerprint()}
	c.mu.RLock()
	p, ok := c.plans[key]
	c.mu.RUnlock()
	if ok {
		return p, nil
	}

	p, err := buildPlan(entity, d)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.plans[key] = p
	c.mu.Unlock()
	return p, nil
}

func (c *planCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.plans)
}

func buildPlan(entity string, d *schema.Descriptor) (*plan, error) {
	table := tableFor(entity)
	p := &plan{keys: make(map[string]string, len(table))}
	for _, a := range table {
		if d == nil {
			continue
		}
		for _, name := range append([]string{a.name}, a.aliases...) {
			f, ok := d.Field(name)
			if !ok {
				continue
			}
			if !compatible(a.typ, f.Type) {
				return nil, fmt.Errorf("field %q declared as %s, want %s", name, f.Type, a.typ)
			}
			p.keys[a.name] = name
			break
		}
	}
	return p, nil
}

// reader extracts typed fields from a payload following a plan. The first
// failure sticks in err and later reads return zero values.
type reader struct {
	entity string
	m      *wire.Map
	plan   *plan
	fields map[string]accessor
	err    error
}

func newReader(m *wire.Map, entity string, p *plan) *reader {
	table := tableFor(entity)
	fields := make(map[string]accessor, len(table))
	for _, a := range table {
		fields[a.name] = a
	}
	return &reader{entity: entity, m: m, plan: p, fields: fields}
}

func (r *reader) probe(name string) (wire.Value, bool) {
	a, ok := r.fields[name]
	if !ok {
		panic("story: no accessor for field " + name)
	}
	if key := r.plan.keys[name]; key != "" {
		if v, ok := r.m.Get(key); ok && !v.IsNull() {
			return v, true
		}
	}
	for _, key := range append([]string{a.name}, a.aliases...) {
		if v, ok := r.m.Get(key); ok && !v.IsNull() {
			return v, true
		}
	}
	return wire.Value{}, false
}

func (r *reader) lookup(name string) (wire.Value, bool) {
	v, ok := r.probe(name)
	if !ok && r.fields[name].required && r.err == nil {
		r.err = fmt.Errorf("missing required field %q", name)
	}
	return v, ok
}

func (r *reader) fail(name string, v wire.Value) {
	if r.err == nil {
		r.err = fmt.Errorf("field %q: cannot use %s value as %s", name, v.Kind(), r.fields[name].typ)
	}
}

func (r *reader) has(name string) bool {
	_, ok := r.probe(name)
	return ok
}

func (r *reader) str(name string) string {
	v, ok := r.lookup(name)
	if !ok {
		return ""
	}
	s, ok := v.AsString()
	if !ok {
		r.fail(name, v)
	}
	return s
}

func (r *reader) int(name string) int64 {
	v, ok := r.lookup(name)
	if !ok {
		return 0
	}
	i, ok := v.AsInt()
	if !ok {
		r.fail(name, v)
	}
	return i
}

func (r *reader) optInt(name string) *int64 {
	if !r.has(name) {
		return nil
	}
	i := r.int(name)
	return &i
}

func (r *reader) float(name string) float64 {
	v, ok := r.lookup(name)
	if !ok {
		return 0
	}
	f, ok := v.AsFloat()
	if !ok {
		r.fail(name, v)
	}
	return f
}

func (r *reader) bool(name string) (bool, bool) {
	v, ok := r.lookup(name)
	if !ok {
		return false, false
	}
	b, ok := v.AsBool()
	if !ok {
		r.fail(name, v)
		return false, false
	}
	return b, true
}

func (r *reader) time(name string) time.Time {
	v, ok := r.lookup(name)
	if !ok {
		return time.Time{}
	}
	t, ok := v.AsTime()
	if !ok {
		r.fail(name, v)
	}
	return t
}

func (r *reader) optTime(name string) *time.Time {
	if !r.has(name) {
		return nil
	}
	t := r.time(name)
	return &t
}

func (r *reader) strings(name string) []string {
	v, ok := r.lookup(name)
	if !ok {
		return nil
	}
	list, ok := v.AsList()
	if !ok {
		r.fail(name, v)
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.AsString()
		if !ok {
			r.fail(name, item)
			return nil
		}
		out = append(out, s)
	}
	return out
}

func (r *reader) stringMap(name string) map[string]string {
	v, ok := r.lookup(name)
	if !ok {
		return nil
	}
	m, ok := v.AsMap()
	if !ok {
		r.fail(name, v)
		return nil
	}
	return m.StringMap()
}

// osType accepts either the numeric enum or a platform name.
func (r *reader) osType(name string) OSType {
	v, ok := r.lookup(name)
	if !ok {
		return OSUnknown
	}
	if v.Kind() == wire.KindString {
		s, _ := v.AsString()
		return ParseOSType(s)
	}
	i, ok := v.AsInt()
	if !ok {
		r.fail(name, v)
		return OSUnknown
	}
	return ParseOSType(fmt.Sprint(i))
}
