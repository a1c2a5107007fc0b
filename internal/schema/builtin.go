package schema

// Entity names used by the current producer.
const (
	EntityRecording                 = "Recording"
	EntitySampleGroup               = "SampleGroup"
	EntityThreadInfo                = "ThreadInfo"
	EntityPerformanceSample         = "PerformanceSample"
	EntityAdvancedPerformanceSample = "AdvancedPerformanceSample"
	EntityRNPerformanceSample       = "ReactNativePerformanceSample"
	EntityNetworkSample             = "NetworkSample"
	EntityLogSample                 = "LogSample"
	EntityTag                       = "Tag"
)

// CurrentVersion is the schema revision emitted by this build's producer.
const CurrentVersion uint32 = 1

func req(name string, t FieldType) Field { return Field{Name: name, Type: t} }
func opt(name string, t FieldType) Field { return Field{Name: name, Type: t, Optional: true} }

// sampleBase is shared by every sample-like entity.
func sampleBase() []Field {
	return []Field{
		req("id", TypeString),
		req("recordingID", TypeString),
		opt("parentGroupID", TypeString),
		req("timestamp", TypeTime),
	}
}

func performanceFields() []Field {
	return append(sampleBase(),
		opt("threadNumber", TypeInt),
		req("cpuUsage", TypeFloat),
		req("memoryUsage", TypeInt),
		opt("fps", TypeFloat),
		opt("diskReads", TypeInt),
		opt("diskWrites", TypeInt),
	)
}

var builtins = map[string]*Descriptor{
	EntityRecording: {
		Entity:  EntityRecording,
		Version: CurrentVersion,
		Fields: []Field{
			req("id", TypeString),
			opt("name", TypeString),
			req("startTimestamp", TypeTime),
			opt("endTimestamp", TypeTime),
			opt("appName", TypeString),
			opt("deviceName", TypeString),
			opt("deviceOS", TypeString),
			opt("deviceOSType", TypeInt),
		},
	},
	EntitySampleGroup: {
		Entity:  EntitySampleGroup,
		Version: CurrentVersion,
		Fields: []Field{
			req("id", TypeString),
			req("recordingID", TypeString),
			opt("parentGroupID", TypeString),
			req("name", TypeString),
			req("timestamp", TypeTime),
			opt("closeTimestamp", TypeTime),
			opt("threadNumber", TypeInt),
		},
	},
	EntityThreadInfo: {
		Entity:  EntityThreadInfo,
		Version: CurrentVersion,
		Fields: []Field{
			req("recordingID", TypeString),
			req("number", TypeInt),
			opt("name", TypeString),
		},
	},
	EntityPerformanceSample: {
		Entity:  EntityPerformanceSample,
		Version: CurrentVersion,
		Fields:  performanceFields(),
	},
	EntityAdvancedPerformanceSample: {
		Entity:  EntityAdvancedPerformanceSample,
		Version: CurrentVersion,
		Fields: append(performanceFields(),
			opt("threadCount", TypeInt),
			opt("heaviestThreadNumber", TypeInt),
			opt("heaviestStackTrace", TypeList),
		),
	},
	EntityRNPerformanceSample: {
		Entity:  EntityRNPerformanceSample,
		Version: CurrentVersion,
		Fields: append(sampleBase(),
			req("cpuUsage", TypeFloat),
			opt("bridgeJSToNativeCallCount", TypeInt),
			opt("bridgeNativeToJSCallCount", TypeInt),
			opt("bridgeJSToNativeDataSize", TypeInt),
			opt("bridgeNativeToJSDataSize", TypeInt),
		),
	},
	EntityNetworkSample: {
		Entity:  EntityNetworkSample,
		Version: CurrentVersion,
		Fields: append(sampleBase(),
			req("url", TypeString),
			opt("method", TypeString),
			opt("requestHeaders", TypeMap),
			opt("requestDataLength", TypeInt),
			opt("responseTimestamp", TypeTime),
			opt("responseStatusCode", TypeInt),
			opt("responseMIMEType", TypeString),
			opt("responseHeaders", TypeMap),
			opt("responseDataLength", TypeInt),
			opt("responseError", TypeString),
		),
	},
	EntityLogSample: {
		Entity:  EntityLogSample,
		Version: CurrentVersion,
		Fields: append(sampleBase(),
			opt("level", TypeString),
			opt("subsystem", TypeString),
			opt("category", TypeString),
			req("line", TypeString),
		),
	},
	EntityTag: {
		Entity:  EntityTag,
		Version: CurrentVersion,
		Fields: append(sampleBase(),
			req("name", TypeString),
		),
	},
}

// Builtin returns a copy of the current producer's descriptor for entity,
// or nil when the entity is unknown.
func Builtin(entity string) *Descriptor {
	return builtins[entity].Clone()
}

// Entities returns the names of all built-in entities.
func Entities() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	return names
}
