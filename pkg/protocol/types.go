package protocol

// DeviceType classifies a capture device. Remote devices receive
// session commands over the device link; local webcams are driven
// through coordinator callbacks instead.
type DeviceType string

// Device type constants.
const (
	DeviceAndroid DeviceType = "android"
	DeviceWebcam  DeviceType = "webcam"
	DeviceShimmer DeviceType = "shimmer"
)

// Remote reports whether devices of this type are commanded over the
// device link.
func (t DeviceType) Remote() bool {
	return t != DeviceWebcam
}

// DeviceSyncState represents the clock-sync state of a registered device.
type DeviceSyncState string

// Device sync state constants. A device in StateError must pass
// through StateSyncing again before it can become StateSynchronized.
const (
	StateDisconnected DeviceSyncState = "disconnected"
	StateSyncing      DeviceSyncState = "syncing"
	StateSynchronized DeviceSyncState = "synchronized"
	StateError        DeviceSyncState = "error"
)

// Valid reports whether s is one of the known device sync states.
func (s DeviceSyncState) Valid() bool {
	switch s {
	case StateDisconnected, StateSyncing, StateSynchronized, StateError:
		return true
	default:
		return false
	}
}

// SessionSyncState represents a device's position in the session
// synchronizer's recovery state machine.
type SessionSyncState string

// Session sync state constants.
const (
	SessionIdle         SessionSyncState = "idle"
	SessionSyncing      SessionSyncState = "syncing"
	SessionSynchronized SessionSyncState = "synchronized"
	SessionDisconnected SessionSyncState = "disconnected"
	SessionRecovering   SessionSyncState = "recovering"
	SessionError        SessionSyncState = "error"
)

// Priority classifies a queued outbound message. Delivery order is
// FIFO regardless of priority; the field is carried and reported so a
// future scheduler can act on it.
type Priority int

// Priority levels.
const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// String returns the lowercase name of the priority level.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}
