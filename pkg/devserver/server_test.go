package devserver //nolint:testpackage

import (
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"vitalsync/pkg/protocol"
)

// recordingEvents captures coordinator callbacks.
type recordingEvents struct {
	mu           sync.Mutex
	connected    []string
	disconnected []string
	messages     []protocol.Message
}

func (e *recordingEvents) HandleDeviceConnected(deviceID string, _ protocol.DeviceType) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connected = append(e.connected, deviceID)
}

func (e *recordingEvents) HandleDeviceDisconnected(deviceID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.disconnected = append(e.disconnected, deviceID)
}

func (e *recordingEvents) HandleDeviceMessage(_ string, msg protocol.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.messages = append(e.messages, msg)
}

// recordingRecovery captures session synchronizer callbacks.
type recordingRecovery struct {
	mu        sync.Mutex
	recovered []string
	dropped   []string
}

func (r *recordingRecovery) HandleDeviceDisconnected(deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropped = append(r.dropped, deviceID)
}

func (r *recordingRecovery) RecoverSession(deviceID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recovered = append(r.recovered, deviceID)
	return 0
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, cond func() bool, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func startServer(t *testing.T, events Events, recovery Recovery) (*Server, string) {
	t.Helper()
	srv := New(Config{}, events, recovery, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	return srv, wsURL
}

func dial(t *testing.T, wsURL, deviceID string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	hello := protocol.Message{
		Type:  protocol.MsgHello,
		Hello: &protocol.HelloPayload{DeviceID: deviceID, DeviceType: protocol.DeviceAndroid},
	}
	if err := ws.WriteJSON(hello); err != nil {
		t.Fatalf("hello: %v", err)
	}
	return ws
}

func TestHandshakeAndMessageRouting(t *testing.T) {
	t.Parallel()

	events := &recordingEvents{}
	srv, wsURL := startServer(t, events, nil)
	ws := dial(t, wsURL, "phone-1")

	waitFor(t, func() bool {
		events.mu.Lock()
		defer events.mu.Unlock()
		return len(events.connected) == 1
	}, time.Second)

	reply := protocol.Message{
		Type:      protocol.MsgSyncReply,
		Timestamp: 1234.5,
		SyncReply: &protocol.SyncReplyPayload{DeviceID: "phone-1", DeviceTimestamp: 1234.5, Sequence: 7},
	}
	if err := ws.WriteJSON(reply); err != nil {
		t.Fatalf("write: %v", err)
	}

	waitFor(t, func() bool {
		events.mu.Lock()
		defer events.mu.Unlock()
		return len(events.messages) == 1
	}, time.Second)

	events.mu.Lock()
	got := events.messages[0]
	events.mu.Unlock()
	if got.Type != protocol.MsgSyncReply || got.SyncReply.Sequence != 7 {
		t.Errorf("unexpected routed message: %+v", got)
	}

	if conns := srv.Connected(); len(conns) != 1 || conns[0] != "phone-1" {
		t.Errorf("expected phone-1 connected, got %v", conns)
	}
}

func TestSendDeliversToDevice(t *testing.T) {
	t.Parallel()

	events := &recordingEvents{}
	srv, wsURL := startServer(t, events, nil)
	ws := dial(t, wsURL, "phone-1")

	waitFor(t, func() bool {
		events.mu.Lock()
		defer events.mu.Unlock()
		return len(events.connected) == 1
	}, time.Second)

	cmd := protocol.Message{
		Type:        protocol.MsgStartRecord,
		SessionID:   "sess-1",
		StartRecord: &protocol.StartRecordPayload{SessionID: "sess-1", MasterTimestamp: 42.0},
	}
	if err := srv.Send("phone-1", cmd); err != nil {
		t.Fatalf("send: %v", err)
	}

	// The coordinator's initial probe may arrive first.
	for {
		var got protocol.Message
		_ = ws.SetReadDeadline(time.Now().Add(time.Second))
		if err := ws.ReadJSON(&got); err != nil {
			t.Fatalf("read: %v", err)
		}
		if got.Type != protocol.MsgStartRecord {
			continue
		}
		if got.StartRecord.MasterTimestamp != 42.0 {
			t.Errorf("expected master timestamp 42.0, got %v", got.StartRecord.MasterTimestamp)
		}
		return
	}
}

func TestSendToUnknownDeviceFails(t *testing.T) {
	t.Parallel()

	srv, _ := startServer(t, &recordingEvents{}, nil)
	err := srv.Send("ghost", protocol.Message{Type: protocol.MsgSyncProbe})
	if err == nil {
		t.Fatal("expected error for unknown device")
	}
	var unreachable *protocol.DeviceUnreachableError
	if !errors.As(err, &unreachable) {
		t.Fatalf("expected DeviceUnreachableError, got %T", err)
	}
	if unreachable.DeviceID != "ghost" {
		t.Errorf("expected device id in error, got %q", unreachable.DeviceID)
	}
}

func TestDisconnectNotifiesHandlers(t *testing.T) {
	t.Parallel()

	events := &recordingEvents{}
	recovery := &recordingRecovery{}
	_, wsURL := startServer(t, events, recovery)
	ws := dial(t, wsURL, "phone-1")

	waitFor(t, func() bool {
		events.mu.Lock()
		defer events.mu.Unlock()
		return len(events.connected) == 1
	}, time.Second)

	ws.Close()

	waitFor(t, func() bool {
		events.mu.Lock()
		defer events.mu.Unlock()
		return len(events.disconnected) == 1
	}, time.Second)
	waitFor(t, func() bool {
		recovery.mu.Lock()
		defer recovery.mu.Unlock()
		return len(recovery.dropped) == 1
	}, time.Second)
}

func TestReconnectTriggersRecovery(t *testing.T) {
	t.Parallel()

	events := &recordingEvents{}
	recovery := &recordingRecovery{}
	_, wsURL := startServer(t, events, recovery)

	ws := dial(t, wsURL, "phone-1")
	waitFor(t, func() bool {
		events.mu.Lock()
		defer events.mu.Unlock()
		return len(events.connected) == 1
	}, time.Second)
	ws.Close()
	waitFor(t, func() bool {
		events.mu.Lock()
		defer events.mu.Unlock()
		return len(events.disconnected) == 1
	}, time.Second)

	dial(t, wsURL, "phone-1")
	waitFor(t, func() bool {
		recovery.mu.Lock()
		defer recovery.mu.Unlock()
		return len(recovery.recovered) == 2
	}, time.Second)

	recovery.mu.Lock()
	defer recovery.mu.Unlock()
	if recovery.recovered[0] != "phone-1" || recovery.recovered[1] != "phone-1" {
		t.Errorf("expected recovery on each connect, got %v", recovery.recovered)
	}
}

func TestHandshakeRejectsNonHello(t *testing.T) {
	t.Parallel()

	events := &recordingEvents{}
	_, wsURL := startServer(t, events, nil)

	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()
	if err := ws.WriteJSON(protocol.Message{Type: protocol.MsgStatus}); err != nil {
		t.Fatalf("write: %v", err)
	}

	// Server closes the socket without registering the device.
	_ = ws.SetReadDeadline(time.Now().Add(time.Second))
	if _, _, err := ws.ReadMessage(); err == nil {
		t.Fatal("expected connection closed after bad handshake")
	}
	events.mu.Lock()
	defer events.mu.Unlock()
	if len(events.connected) != 0 {
		t.Errorf("bad handshake must not register a device, got %v", events.connected)
	}
}
