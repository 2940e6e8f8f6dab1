package protocol_test

import (
	"encoding/json"
	"testing"

	"vitalsync/pkg/protocol"
)

func TestMessageTypes(t *testing.T) {
	t.Parallel()

	// All expected message type constants must be defined.
	types := []protocol.MessageType{
		protocol.MsgHello,
		protocol.MsgSyncProbe,
		protocol.MsgSyncReply,
		protocol.MsgStartRecord,
		protocol.MsgStopRecord,
		protocol.MsgFrameStat,
		protocol.MsgStatus,
		protocol.MsgAck,
	}

	expected := []string{
		"HELLO",
		"SYNC_PROBE",
		"SYNC_REPLY",
		"START_RECORD",
		"STOP_RECORD",
		"FRAME_STAT",
		"STATUS",
		"ACK",
	}

	for i, mt := range types {
		if string(mt) != expected[i] {
			t.Errorf("expected %q, got %q", expected[i], mt)
		}
	}
}

func TestMessageJSONRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		msg  protocol.Message
	}{
		{
			name: "HELLO",
			msg: protocol.Message{
				Type:      protocol.MsgHello,
				Timestamp: 1000.5,
				Hello: &protocol.HelloPayload{
					DeviceID:   "phone-1",
					DeviceType: protocol.DeviceAndroid,
				},
			},
		},
		{
			name: "SYNC_PROBE",
			msg: protocol.Message{
				Type: protocol.MsgSyncProbe,
				SyncProbe: &protocol.SyncProbePayload{
					MasterTimestamp: 1234.0,
					Sequence:        7,
				},
			},
		},
		{
			name: "START_RECORD",
			msg: protocol.Message{
				Type:      protocol.MsgStartRecord,
				SessionID: "sess-1",
				StartRecord: &protocol.StartRecordPayload{
					SessionID:       "sess-1",
					MasterTimestamp: 99.25,
					Options:         map[string]string{"resolution": "1080p"},
				},
			},
		},
		{
			name: "STOP_RECORD",
			msg: protocol.Message{
				Type:      protocol.MsgStopRecord,
				SessionID: "sess-1",
				StopRecord: &protocol.StopRecordPayload{
					SessionID:       "sess-1",
					MasterTimestamp: 105.0,
				},
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			data, err := json.Marshal(tt.msg)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			var got protocol.Message
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got.Type != tt.msg.Type {
				t.Errorf("type: expected %q, got %q", tt.msg.Type, got.Type)
			}
			if got.SessionID != tt.msg.SessionID {
				t.Errorf("session: expected %q, got %q", tt.msg.SessionID, got.SessionID)
			}
		})
	}
}

func TestMessageDeviceID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		msg  protocol.Message
		want string
	}{
		{
			name: "hello carries device id",
			msg: protocol.Message{
				Type:  protocol.MsgHello,
				Hello: &protocol.HelloPayload{DeviceID: "phone-1"},
			},
			want: "phone-1",
		},
		{
			name: "sync reply carries device id",
			msg: protocol.Message{
				Type:      protocol.MsgSyncReply,
				SyncReply: &protocol.SyncReplyPayload{DeviceID: "phone-2"},
			},
			want: "phone-2",
		},
		{
			name: "ack has none",
			msg:  protocol.Message{Type: protocol.MsgAck, Ack: &protocol.AckPayload{Sequence: 1}},
			want: "",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.msg.DeviceID(); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestTimeSyncResponseJSONFields(t *testing.T) {
	t.Parallel()

	resp := protocol.TimeSyncResponse{
		Type:              protocol.TypeTimeSyncResponse,
		ServerTimestamp:   2000.5,
		RequestTimestamp:  2000.0,
		ReceiveTimestamp:  2000.4,
		ResponseTimestamp: 2000.6,
		ServerPrecisionMs: 1.5,
		Sequence:          3,
		ServerTimeMs:      2000500,
	}

	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	// Wire field names are part of the device contract.
	for _, field := range []string{
		"type", "server_timestamp", "request_timestamp",
		"receive_timestamp", "response_timestamp",
		"server_precision_ms", "sequence", "server_time_ms",
	} {
		if _, ok := raw[field]; !ok {
			t.Errorf("response missing wire field %q", field)
		}
	}
}
