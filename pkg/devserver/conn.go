package devserver

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"vitalsync/pkg/protocol"
)

// deviceConn wraps one device websocket. All writes go through the
// outbound channel so only the write loop touches the socket for
// sends.
type deviceConn struct {
	deviceID string
	ws       *websocket.Conn
	cfg      Config
	log      *slog.Logger

	out chan protocol.Message

	closeOnce sync.Once
	closed    chan struct{}
}

func newDeviceConn(deviceID string, ws *websocket.Conn, cfg Config, log *slog.Logger) *deviceConn {
	return &deviceConn{
		deviceID: deviceID,
		ws:       ws,
		cfg:      cfg,
		log:      log,
		out:      make(chan protocol.Message, cfg.SendBuffer),
		closed:   make(chan struct{}),
	}
}

// send queues one outbound message. A full queue counts as
// unreachable rather than blocking the caller.
func (dc *deviceConn) send(msg protocol.Message) error {
	select {
	case <-dc.closed:
		return &protocol.DeviceUnreachableError{DeviceID: dc.deviceID, Reason: "connection closed"}
	case dc.out <- msg:
		return nil
	default:
		return &protocol.DeviceUnreachableError{DeviceID: dc.deviceID, Reason: "send queue full"}
	}
}

// writeLoop drains the outbound queue and keeps the socket alive with
// pings.
func (dc *deviceConn) writeLoop() {
	ticker := time.NewTicker(dc.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-dc.closed:
			return
		case msg := <-dc.out:
			_ = dc.ws.SetWriteDeadline(time.Now().Add(dc.cfg.WriteTimeout))
			if err := dc.ws.WriteJSON(msg); err != nil {
				dc.log.Warn("devserver: write failed", "device", dc.deviceID, "error", err)
				dc.close()
				return
			}
		case <-ticker.C:
			_ = dc.ws.SetWriteDeadline(time.Now().Add(dc.cfg.WriteTimeout))
			if err := dc.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				dc.close()
				return
			}
		}
	}
}

func (dc *deviceConn) close() {
	dc.closeOnce.Do(func() {
		close(dc.closed)
		_ = dc.ws.Close()
	})
}
