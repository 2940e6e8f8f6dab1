package protocol

import "fmt"

// DeviceUnreachableError represents a device communication failure.
// It enables typed error discrimination for device connectivity issues.
type DeviceUnreachableError struct {
	DeviceID string
	Reason   string // human-readable failure reason (e.g. "write timeout")
}

func (e *DeviceUnreachableError) Error() string {
	return fmt.Sprintf("device %s unreachable: %s", e.DeviceID, e.Reason)
}

// SessionExistsError is returned when a session ID collides with an
// active session.
type SessionExistsError struct {
	SessionID string
}

func (e *SessionExistsError) Error() string {
	return fmt.Sprintf("session %s already active", e.SessionID)
}

// SessionNotFoundError is returned when an operation names an unknown
// session.
type SessionNotFoundError struct {
	SessionID string
}

func (e *SessionNotFoundError) Error() string {
	return fmt.Sprintf("session %s not found", e.SessionID)
}
