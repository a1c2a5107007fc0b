package target

// State is a position in the target connection lifecycle.
type State int32

const (
	StateDiscovered State = iota
	StateResolved
	StateDeviceInfoLoaded
	StateRecording
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateDiscovered:
		return "discovered"
	case StateResolved:
		return "resolved"
	case StateDeviceInfoLoaded:
		return "device_info_loaded"
	case StateRecording:
		return "recording"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
