package target

import (
	"github.com/coral-mesh/remoteprof/internal/story"
	"github.com/coral-mesh/remoteprof/internal/wire"
)

// Promoted device info keys.
const (
	KeyAppName      = "appName"
	KeyDeviceName   = "deviceName"
	KeyDeviceOS     = "deviceOS"
	KeyDeviceOSType = "deviceOSType"
)

// DeviceInfo is the metadata a target reports in response to GetDeviceInfo.
// Values holds every key the target sent; the promoted keys are also
// extracted into typed fields.
type DeviceInfo struct {
	Values       *wire.Map
	AppName      string
	DeviceName   string
	DeviceOS     string
	DeviceOSType story.OSType
}

func parseDeviceInfo(m *wire.Map) DeviceInfo {
	if m == nil {
		m = wire.NewMap()
	}
	info := DeviceInfo{Values: m}
	info.AppName = stringKey(m, KeyAppName)
	info.DeviceName = stringKey(m, KeyDeviceName)
	info.DeviceOS = stringKey(m, KeyDeviceOS)

	// deviceOSType arrives either as the enum value or as a platform name.
	info.DeviceOSType = story.ParseOSType(stringKey(m, KeyDeviceOSType))
	return info
}

func stringKey(m *wire.Map, key string) string {
	v, ok := m.Get(key)
	if !ok {
		return ""
	}
	s, _ := v.AsString()
	return s
}
