package story

import (
	"strconv"
	"strings"
	"time"
)

// OSType is the platform kind of a profiled device.
type OSType int

const (
	OSUnknown OSType = iota
	OSiOS
	OSAndroid
	OSMacOS
	OSLinux
	OSWindows
)

var osTypeNames = map[OSType]string{
	OSUnknown: "unknown",
	OSiOS:     "ios",
	OSAndroid: "android",
	OSMacOS:   "macos",
	OSLinux:   "linux",
	OSWindows: "windows",
}

func (o OSType) String() string {
	if name, ok := osTypeNames[o]; ok {
		return name
	}
	return "os(" + strconv.Itoa(int(o)) + ")"
}

// ParseOSType accepts a platform name (case-insensitive, "darwin" is macOS)
// or a decimal enum value. Anything else is OSUnknown.
func ParseOSType(s string) OSType {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "darwin" {
		return OSMacOS
	}
	for t, name := range osTypeNames {
		if name == s {
			return t
		}
	}
	if n, err := strconv.Atoi(s); err == nil {
		if _, ok := osTypeNames[OSType(n)]; ok {
			return OSType(n)
		}
	}
	return OSUnknown
}

// Recording is one profiling session.
type Recording struct {
	ID           string     `json:"id"`
	Name         string     `json:"name,omitempty"`
	StartTime    time.Time  `json:"startTime"`
	EndTime      *time.Time `json:"endTime,omitempty"`
	Stopped      bool       `json:"stopped"`
	AppName      string     `json:"appName,omitempty"`
	DeviceName   string     `json:"deviceName,omitempty"`
	DeviceOS     string     `json:"deviceOS,omitempty"`
	DeviceOSType OSType     `json:"deviceOSType"`
}

// SampleGroup is a named timing span. Groups form a tree per recording,
// linked by ParentGroupID; the root group has an empty parent.
type SampleGroup struct {
	ID            string     `json:"id"`
	RecordingID   string     `json:"recordingID"`
	ParentGroupID string     `json:"parentGroupID,omitempty"`
	Name          string     `json:"name"`
	StartTime     time.Time  `json:"startTime"`
	EndTime       *time.Time `json:"endTime,omitempty"`
	IsRootGroup   bool       `json:"isRootGroup"`
	ThreadNumber  int64      `json:"threadNumber,omitempty"`
	Depth         int64      `json:"depth"`
}

// Closed reports whether the span has been popped.
func (g *SampleGroup) Closed() bool { return g.EndTime != nil }

// ThreadInfo identifies one thread of the target, keyed by
// (RecordingID, Number).
type ThreadInfo struct {
	RecordingID string `json:"recordingID"`
	Number      int64  `json:"number"`
	Name        string `json:"name,omitempty"`
}

// PerformanceSample is a point-in-time resource measurement. Advanced
// samples additionally carry thread and stack information.
type PerformanceSample struct {
	ID            string    `json:"id"`
	RecordingID   string    `json:"recordingID"`
	ParentGroupID string    `json:"parentGroupID,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	ThreadNumber  int64     `json:"threadNumber,omitempty"`
	CPUUsage      float64   `json:"cpuUsage"`
	MemoryUsage   int64     `json:"memoryUsage"`
	FPS           float64   `json:"fps,omitempty"`
	DiskReads     int64     `json:"diskReads,omitempty"`
	DiskWrites    int64     `json:"diskWrites,omitempty"`

	Advanced             bool     `json:"advanced"`
	ThreadCount          int64    `json:"threadCount,omitempty"`
	HeaviestThreadNumber *int64   `json:"heaviestThreadNumber,omitempty"`
	HeaviestStackTrace   []string `json:"heaviestStackTrace,omitempty"`
}

// RNPerformanceSample measures a React Native JS thread and bridge.
type RNPerformanceSample struct {
	ID                        string    `json:"id"`
	RecordingID               string    `json:"recordingID"`
	ParentGroupID             string    `json:"parentGroupID,omitempty"`
	Timestamp                 time.Time `json:"timestamp"`
	CPUUsage                  float64   `json:"cpuUsage"`
	BridgeJSToNativeCallCount int64     `json:"bridgeJSToNativeCallCount"`
	BridgeNativeToJSCallCount int64     `json:"bridgeNativeToJSCallCount"`
	BridgeJSToNativeDataSize  int64     `json:"bridgeJSToNativeDataSize"`
	BridgeNativeToJSDataSize  int64     `json:"bridgeNativeToJSDataSize"`
}

// NetworkState is the lifecycle of a NetworkSample.
type NetworkState string

const (
	NetworkStarted  NetworkState = "started"
	NetworkFinished NetworkState = "finished"
)

// NetworkSample is a request and, once finished, its response.
type NetworkSample struct {
	ID                 string            `json:"id"`
	RecordingID        string            `json:"recordingID"`
	ParentGroupID      string            `json:"parentGroupID,omitempty"`
	Timestamp          time.Time         `json:"timestamp"`
	URL                string            `json:"url"`
	Method             string            `json:"method,omitempty"`
	RequestHeaders     map[string]string `json:"requestHeaders,omitempty"`
	RequestDataLength  int64             `json:"requestDataLength,omitempty"`
	State              NetworkState      `json:"state"`
	ResponseTimestamp  *time.Time        `json:"responseTimestamp,omitempty"`
	ResponseStatusCode int64             `json:"responseStatusCode,omitempty"`
	ResponseMIMEType   string            `json:"responseMIMEType,omitempty"`
	ResponseHeaders    map[string]string `json:"responseHeaders,omitempty"`
	ResponseDataLength int64             `json:"responseDataLength,omitempty"`
	ResponseError      string            `json:"responseError,omitempty"`
}

// Duration returns the request duration, or zero while the request is open.
func (n *NetworkSample) Duration() time.Duration {
	if n.ResponseTimestamp == nil {
		return 0
	}
	return n.ResponseTimestamp.Sub(n.Timestamp)
}

// LogSample is a single log line.
type LogSample struct {
	ID            string    `json:"id"`
	RecordingID   string    `json:"recordingID"`
	ParentGroupID string    `json:"parentGroupID,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	Level         string    `json:"level,omitempty"`
	Subsystem     string    `json:"subsystem,omitempty"`
	Category      string    `json:"category,omitempty"`
	Line          string    `json:"line"`
}

// Tag is a named marker on the timeline.
type Tag struct {
	ID            string    `json:"id"`
	RecordingID   string    `json:"recordingID"`
	ParentGroupID string    `json:"parentGroupID,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	Name          string    `json:"name"`
}
