// Package protocol defines the wire types shared by the vitalsync
// coordinator, the time server, and connected capture devices.
//
// Device-link messages are a tagged union: Type selects which payload
// pointer is set. Unknown types are ignored by both sides so that old
// devices can talk to newer coordinators.
package protocol

// MessageType discriminates the device-link message union.
type MessageType string

// Device-link message type constants.
const (
	MsgHello       MessageType = "HELLO"        // device announces itself after connecting
	MsgSyncProbe   MessageType = "SYNC_PROBE"   // coordinator asks the device to echo a timestamp
	MsgSyncReply   MessageType = "SYNC_REPLY"   // device answer to a SYNC_PROBE
	MsgStartRecord MessageType = "START_RECORD" // coordinator starts a recording session
	MsgStopRecord  MessageType = "STOP_RECORD"  // coordinator stops a recording session
	MsgFrameStat   MessageType = "FRAME_STAT"   // periodic device frame counter
	MsgStatus      MessageType = "STATUS"       // device status update
	MsgAck         MessageType = "ACK"          // generic acknowledgement
)

// Message is the device-link envelope. Timestamp is the sender's
// wall-clock time in seconds since the Unix epoch; the coordinator uses
// it to estimate the device's clock offset, so every device-originated
// message should carry it.
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp float64     `json:"timestamp,omitempty"`
	SessionID string      `json:"session_id,omitempty"`

	Hello       *HelloPayload       `json:"hello,omitempty"`
	SyncProbe   *SyncProbePayload   `json:"sync_probe,omitempty"`
	SyncReply   *SyncReplyPayload   `json:"sync_reply,omitempty"`
	StartRecord *StartRecordPayload `json:"start_record,omitempty"`
	StopRecord  *StopRecordPayload  `json:"stop_record,omitempty"`
	FrameStat   *FrameStatPayload   `json:"frame_stat,omitempty"`
	Status      *StatusPayload      `json:"status,omitempty"`
	Ack         *AckPayload         `json:"ack,omitempty"`
}

// HelloPayload announces a newly connected device.
type HelloPayload struct {
	DeviceID     string     `json:"device_id"`
	DeviceType   DeviceType `json:"device_type"`
	Capabilities []string   `json:"capabilities,omitempty"`
}

// SyncProbePayload carries the coordinator's reference timestamp.
type SyncProbePayload struct {
	MasterTimestamp float64 `json:"master_timestamp"`
	Sequence        int     `json:"sequence"`
}

// SyncReplyPayload is the device's answer to a SYNC_PROBE.
type SyncReplyPayload struct {
	DeviceID        string  `json:"device_id"`
	DeviceTimestamp float64 `json:"device_timestamp"`
	Sequence        int     `json:"sequence"`
}

// StartRecordPayload starts recording on a device. MasterTimestamp is
// the shared session start instant; every device in the session
// receives the identical value.
type StartRecordPayload struct {
	SessionID       string            `json:"session_id"`
	MasterTimestamp float64           `json:"master_timestamp"`
	Options         map[string]string `json:"options,omitempty"`
}

// StopRecordPayload stops recording on a device.
type StopRecordPayload struct {
	SessionID       string  `json:"session_id"`
	MasterTimestamp float64 `json:"master_timestamp"`
}

// FrameStatPayload reports the device's captured-frame counter.
type FrameStatPayload struct {
	DeviceID   string `json:"device_id"`
	FrameCount int64  `json:"frame_count"`
}

// StatusPayload is a periodic device status update.
type StatusPayload struct {
	DeviceID   string `json:"device_id"`
	Recording  bool   `json:"recording"`
	FrameCount int64  `json:"frame_count,omitempty"`
	BatteryPct int    `json:"battery_pct,omitempty"`
}

// AckPayload acknowledges a sequenced message.
type AckPayload struct {
	Sequence int  `json:"sequence"`
	OK       bool `json:"ok"`
}

// DeviceID extracts the device ID from any message payload that
// carries one, or "" if none does.
func (m Message) DeviceID() string {
	switch {
	case m.Hello != nil:
		return m.Hello.DeviceID
	case m.SyncReply != nil:
		return m.SyncReply.DeviceID
	case m.FrameStat != nil:
		return m.FrameStat.DeviceID
	case m.Status != nil:
		return m.Status.DeviceID
	default:
		return ""
	}
}
