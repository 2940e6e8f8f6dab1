// Package timeserver implements the time-sync service capture devices
// use to measure their clock offset from the reference clock. The
// protocol is deliberately minimal: one JSON request and one JSON
// response per TCP connection, then the server closes it.
package timeserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"vitalsync/pkg/protocol"
)

// Clock supplies reference-corrected timestamps. *clockref.Tracker
// satisfies it.
type Clock interface {
	Timestamp() float64
	PrecisionMs() float64
}

// Config holds Server configuration.
type Config struct {
	Port           int           // TCP port to listen on.
	Workers        int           // Connection worker pool size (default 10).
	ReadTimeout    time.Duration // Per-connection read deadline (default 5s).
	AcceptTimeout  time.Duration // Accept deadline for responsive shutdown (default 1s).
	MaxRespHistory int           // Response-time window size (default 100).
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Workers == 0 {
		out.Workers = 10
	}
	if out.ReadTimeout == 0 {
		out.ReadTimeout = 5 * time.Second
	}
	if out.AcceptTimeout == 0 {
		out.AcceptTimeout = 1 * time.Second
	}
	if out.MaxRespHistory == 0 {
		out.MaxRespHistory = 100
	}
	return out
}

// Server answers time-sync requests against a reference clock and
// keeps rolling service statistics.
type Server struct {
	cfg   Config
	clock Clock
	log   *slog.Logger

	listener net.Listener
	connCh   chan net.Conn
	stopCh   chan struct{}
	wg       sync.WaitGroup

	stats serverStats

	// nowFunc allows tests to control time.
	nowFunc func() time.Time
}

// New creates a Server. It does not listen until Start is called.
func New(cfg Config, clock Clock, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	resolved := cfg.withDefaults()
	srv := &Server{
		cfg:     resolved,
		clock:   clock,
		log:     log,
		connCh:  make(chan net.Conn, resolved.Workers),
		stopCh:  make(chan struct{}),
		nowFunc: time.Now,
	}
	srv.stats.init(resolved.MaxRespHistory)
	return srv
}

// Start binds the listener and launches the accept loop and worker
// pool. A bind failure aborts startup and is returned to the caller;
// everything after that is absorbed and logged.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("listen tcp :%d: %w", s.cfg.Port, err)
	}
	s.listener = ln

	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}

	s.wg.Add(1)
	go s.acceptLoop(ln)

	s.log.Info("timeserver: listening", "addr", ln.Addr().String(), "workers", s.cfg.Workers)
	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop closes the listener, drains in-flight connections, and waits
// for the worker pool to exit.
func (s *Server) Stop() {
	close(s.stopCh)
	if s.listener != nil {
		_ = s.listener.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.log.Warn("timeserver: workers did not drain within timeout")
	}
}

// acceptLoop accepts connections with a short deadline so shutdown is
// never blocked on Accept, and hands each connection to the pool.
func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	defer close(s.connCh)

	tcpLn, _ := ln.(*net.TCPListener)
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		if tcpLn != nil {
			_ = tcpLn.SetDeadline(s.nowFunc().Add(s.cfg.AcceptTimeout))
		}
		conn, err := ln.Accept()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			select {
			case <-s.stopCh:
				// Listener closed during shutdown, not an error.
			default:
				s.log.Warn("timeserver: accept failed", "error", err)
			}
			return
		}

		select {
		case s.connCh <- conn:
		case <-s.stopCh:
			_ = conn.Close()
			return
		}
	}
}

// worker serves connections from the pool channel until it is closed.
func (s *Server) worker() {
	defer s.wg.Done()
	for conn := range s.connCh {
		s.handleConn(conn)
	}
}

// handleConn serves exactly one time-sync exchange. Malformed JSON or
// an unexpected type drops the connection without a response.
func (s *Server) handleConn(conn net.Conn) {
	defer func() { _ = conn.Close() }()

	start := s.nowFunc()
	receiveTS := s.clock.Timestamp()

	_ = conn.SetReadDeadline(start.Add(s.cfg.ReadTimeout))

	var req protocol.TimeSyncRequest
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		return
	}
	if req.Type != protocol.TypeTimeSyncRequest {
		return
	}

	serverTS := s.clock.Timestamp()
	resp := protocol.TimeSyncResponse{
		Type:              protocol.TypeTimeSyncResponse,
		ServerTimestamp:   serverTS,
		RequestTimestamp:  req.Timestamp,
		ReceiveTimestamp:  receiveTS,
		ResponseTimestamp: s.clock.Timestamp(),
		ServerPrecisionMs: s.clock.PrecisionMs(),
		Sequence:          req.Sequence,
		ServerTimeMs:      int64(serverTS * 1000),
	}

	_ = conn.SetWriteDeadline(s.nowFunc().Add(s.cfg.ReadTimeout))
	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		s.log.Warn("timeserver: write response failed", "client", req.ClientID, "error", err)
		return
	}

	s.stats.record(req.ClientID, s.nowFunc(), s.nowFunc().Sub(start))
}
