// Package devserver is the websocket front door for capture devices.
// Each device opens one websocket, identifies itself with a HELLO
// message, and from then on exchanges line-level protocol messages
// with the coordinator. The server implements the coordinator's
// DeviceLink so outbound commands ride the same connection.
package devserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"vitalsync/pkg/protocol"
)

// Events receives device lifecycle and message callbacks. The
// coordinator is the production implementation.
type Events interface {
	HandleDeviceConnected(deviceID string, deviceType protocol.DeviceType)
	HandleDeviceDisconnected(deviceID string)
	HandleDeviceMessage(deviceID string, msg protocol.Message)
}

// Recovery is notified when a known device drops and reconnects so
// queued messages can be replayed. The session synchronizer is the
// production implementation; nil disables recovery.
type Recovery interface {
	HandleDeviceDisconnected(deviceID string)
	RecoverSession(deviceID string) int
}

// Config holds Server configuration.
type Config struct {
	HelloTimeout time.Duration // How long a fresh connection may take to identify itself (default 10s).
	WriteTimeout time.Duration // Per-message write deadline (default 10s).
	PingInterval time.Duration // Keepalive ping cadence (default 30s).
	SendBuffer   int           // Outbound queue depth per device (default 64).
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.HelloTimeout == 0 {
		out.HelloTimeout = 10 * time.Second
	}
	if out.WriteTimeout == 0 {
		out.WriteTimeout = 10 * time.Second
	}
	if out.PingInterval == 0 {
		out.PingInterval = 30 * time.Second
	}
	if out.SendBuffer == 0 {
		out.SendBuffer = 64
	}
	return out
}

// Server upgrades device websockets and routes their messages.
type Server struct {
	cfg      Config
	events   Events
	recovery Recovery
	log      *slog.Logger

	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[string]*deviceConn
	seen  map[string]bool // devices that have connected at least once

	// statusFn, when set, is served as JSON at /status.
	statusFn func() any
}

// New creates a Server. recovery may be nil.
func New(cfg Config, events Events, recovery Recovery, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		cfg:      cfg.withDefaults(),
		events:   events,
		recovery: recovery,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns: make(map[string]*deviceConn),
		seen:  make(map[string]bool),
	}
}

// SetStatusFunc installs the payload source for the /status endpoint.
func (s *Server) SetStatusFunc(fn func() any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusFn = fn
}

// SetRecovery installs the recovery hook. Must be called before the
// server starts accepting connections.
func (s *Server) SetRecovery(r Recovery) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recovery = r
}

func (s *Server) recoveryHook() Recovery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recovery
}

// Handler returns the HTTP mux exposing /ws and /status.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/status", s.handleStatus)
	return mux
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	fn := s.statusFn
	s.mu.Unlock()
	if fn == nil {
		http.Error(w, "status unavailable", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(fn()); err != nil {
		s.log.Warn("devserver: status encode failed", "error", err)
	}
}

// handleWS upgrades the connection and runs the device handshake: the
// first message must be a HELLO naming the device; anything else
// closes the socket.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("devserver: upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	_ = ws.SetReadDeadline(time.Now().Add(s.cfg.HelloTimeout))
	var hello protocol.Message
	if err := ws.ReadJSON(&hello); err != nil || hello.Type != protocol.MsgHello || hello.Hello == nil || hello.Hello.DeviceID == "" {
		s.log.Warn("devserver: handshake failed", "remote", r.RemoteAddr)
		_ = ws.Close()
		return
	}
	_ = ws.SetReadDeadline(time.Time{})

	deviceID := hello.Hello.DeviceID
	deviceType := hello.Hello.DeviceType

	dc := newDeviceConn(deviceID, ws, s.cfg, s.log)

	s.mu.Lock()
	if old, ok := s.conns[deviceID]; ok {
		old.close()
	}
	s.conns[deviceID] = dc
	reconnect := s.seen[deviceID]
	s.seen[deviceID] = true
	s.mu.Unlock()

	s.log.Info("devserver: device connected",
		"device", deviceID, "type", deviceType, "remote", r.RemoteAddr, "reconnect", reconnect)

	s.events.HandleDeviceConnected(deviceID, deviceType)
	// Recovery runs on every connect: a device pre-declared in the
	// profiles can have a backlog waiting before its first connection.
	if recovery := s.recoveryHook(); recovery != nil {
		if n := recovery.RecoverSession(deviceID); n > 0 {
			s.log.Info("devserver: replayed queued messages", "device", deviceID, "count", n)
		}
	}

	go dc.writeLoop()
	s.readLoop(dc)
}

// readLoop consumes a device's inbound messages until the socket
// drops. Runs on the connection's HTTP handler goroutine, so each
// device's messages reach the coordinator in arrival order.
func (s *Server) readLoop(dc *deviceConn) {
	defer func() {
		dc.close()
		s.mu.Lock()
		if s.conns[dc.deviceID] == dc {
			delete(s.conns, dc.deviceID)
		}
		s.mu.Unlock()

		s.log.Warn("devserver: device disconnected", "device", dc.deviceID)
		s.events.HandleDeviceDisconnected(dc.deviceID)
		if recovery := s.recoveryHook(); recovery != nil {
			recovery.HandleDeviceDisconnected(dc.deviceID)
		}
	}()

	for {
		var msg protocol.Message
		if err := dc.ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warn("devserver: read error", "device", dc.deviceID, "error", err)
			}
			return
		}
		s.events.HandleDeviceMessage(dc.deviceID, msg)
	}
}

// Send queues a message for a connected device. Implements the
// coordinator's DeviceLink.
func (s *Server) Send(deviceID string, msg protocol.Message) error {
	s.mu.Lock()
	dc, ok := s.conns[deviceID]
	s.mu.Unlock()
	if !ok {
		return &protocol.DeviceUnreachableError{DeviceID: deviceID, Reason: "not connected"}
	}
	return dc.send(msg)
}

// Connected returns the IDs of currently connected devices.
func (s *Server) Connected() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.conns))
	for id := range s.conns {
		out = append(out, id)
	}
	return out
}

// Close drops every device connection.
func (s *Server) Close() {
	s.mu.Lock()
	conns := make([]*deviceConn, 0, len(s.conns))
	for _, dc := range s.conns {
		conns = append(conns, dc)
	}
	s.mu.Unlock()
	for _, dc := range conns {
		dc.close()
	}
}
