// Package sessionsync keeps recording sessions consistent across
// device disconnects. Messages addressed to an offline device are
// queued per device in FIFO order and replayed when it reconnects;
// devices that stay offline past a cutoff are pruned along with their
// queues.
package sessionsync

import (
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"vitalsync/pkg/protocol"
)

// Sender delivers a message to a connected device. The production
// implementation is the device link; tests use fakes.
type Sender interface {
	Send(deviceID string, msg protocol.Message) error
}

// Config holds Synchronizer configuration.
type Config struct {
	MaxRetries      int           // Delivery retries per queued message after the initial attempt (default 3).
	OfflineCutoff   time.Duration // Devices offline longer than this are pruned (default 5m).
	PruneInterval   time.Duration // How often the prune loop runs (default 30s).
	ReplayBaseDelay time.Duration // Initial backoff between delivery retries (default 100ms).
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.MaxRetries == 0 {
		out.MaxRetries = 3
	}
	if out.OfflineCutoff == 0 {
		out.OfflineCutoff = 5 * time.Minute
	}
	if out.PruneInterval == 0 {
		out.PruneInterval = 30 * time.Second
	}
	if out.ReplayBaseDelay == 0 {
		out.ReplayBaseDelay = 100 * time.Millisecond
	}
	return out
}

// QueuedMessage is one message awaiting delivery to an offline device.
// Priority is recorded for diagnostics but does not affect delivery
// order: queues drain strictly FIFO.
type QueuedMessage struct {
	DeviceID    string
	Message     protocol.Message
	Priority    protocol.Priority
	EnqueueTime time.Time
	Retries     int
}

// deviceState is the synchronizer's view of one device.
type deviceState struct {
	id           string
	syncState    protocol.SessionSyncState
	lastSeen     time.Time
	offlineSince time.Time
	queue        []QueuedMessage
}

// Stats counts synchronizer activity since creation.
type Stats struct {
	Queued   int64
	Replayed int64
	Dropped  int64
	Pruned   int64
}

// Synchronizer tracks device connectivity and owns the per-device
// offline queues.
type Synchronizer struct {
	cfg    Config
	sender Sender
	log    *slog.Logger

	mu      sync.Mutex
	devices map[string]*deviceState
	stats   Stats

	stopCh chan struct{}
	doneCh chan struct{}

	// nowFunc allows tests to control time.
	nowFunc func() time.Time
}

// New creates a Synchronizer. Call Start to run the prune loop.
func New(cfg Config, sender Sender, log *slog.Logger) *Synchronizer {
	if log == nil {
		log = slog.Default()
	}
	return &Synchronizer{
		cfg:     cfg.withDefaults(),
		sender:  sender,
		log:     log,
		devices: make(map[string]*deviceState),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		nowFunc: time.Now,
	}
}

// Start launches the periodic prune loop.
func (s *Synchronizer) Start() {
	go func() {
		defer close(s.doneCh)
		ticker := time.NewTicker(s.cfg.PruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.pruneOffline()
			}
		}
	}()
}

// Stop signals the prune loop and waits up to 5s for it to exit.
func (s *Synchronizer) Stop() {
	close(s.stopCh)
	select {
	case <-s.doneCh:
	case <-time.After(5 * time.Second):
		s.log.Warn("sessionsync: prune loop did not stop within timeout")
	}
}

// RegisterDevice marks a device known and synchronized. Safe to call
// repeatedly; an existing device keeps its queue.
func (s *Synchronizer) RegisterDevice(deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registerLocked(deviceID)
}

func (s *Synchronizer) registerLocked(deviceID string) *deviceState {
	d, ok := s.devices[deviceID]
	if !ok {
		d = &deviceState{id: deviceID, syncState: protocol.SessionSynchronized}
		s.devices[deviceID] = d
	}
	d.lastSeen = s.nowFunc()
	return d
}

// QueueMessage enqueues a message for a device, registering the device
// first if it is unknown. Queues are FIFO; the priority is stored but
// never reorders delivery.
func (s *Synchronizer) QueueMessage(deviceID string, msg protocol.Message, priority protocol.Priority) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.registerLocked(deviceID)
	d.queue = append(d.queue, QueuedMessage{
		DeviceID:    deviceID,
		Message:     msg,
		Priority:    priority,
		EnqueueTime: s.nowFunc(),
	})
	s.stats.Queued++
}

// HandleDeviceDisconnected records the moment a device went offline.
// Its queue is preserved for replay on reconnect.
func (s *Synchronizer) HandleDeviceDisconnected(deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[deviceID]
	if !ok {
		return
	}
	d.syncState = protocol.SessionDisconnected
	d.offlineSince = s.nowFunc()
	s.log.Warn("sessionsync: device offline", "device", deviceID, "queued", len(d.queue))
}

// RecoverSession handles a device reconnect: it reports how long the
// device was offline, replays its queued messages in FIFO order, and
// returns the number delivered. Each message gets one attempt plus up
// to MaxRetries exponential-backoff retries and is dropped with a log
// line if delivery still fails; a dropped message never blocks the
// rest of the queue. The resulting sync state is readable through
// DeviceState.
func (s *Synchronizer) RecoverSession(deviceID string) int {
	s.mu.Lock()
	d, ok := s.devices[deviceID]
	if !ok {
		d = s.registerLocked(deviceID)
	}
	var offline time.Duration
	if !d.offlineSince.IsZero() {
		offline = s.nowFunc().Sub(d.offlineSince)
	}
	d.syncState = protocol.SessionRecovering
	d.lastSeen = s.nowFunc()
	d.offlineSince = time.Time{}
	pending := d.queue
	d.queue = nil
	s.mu.Unlock()

	s.log.Info("sessionsync: recovering device",
		"device", deviceID, "offline_s", offline.Seconds(), "pending", len(pending))

	delivered := 0
	dropped := 0
	for _, qm := range pending {
		qm := qm
		op := func() error {
			qm.Retries++
			return s.sender.Send(deviceID, qm.Message)
		}
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = s.cfg.ReplayBaseDelay
		err := backoff.Retry(op, backoff.WithMaxRetries(bo, uint64(s.cfg.MaxRetries)))
		if err != nil {
			s.log.Warn("sessionsync: dropping undeliverable message",
				"device", deviceID, "type", qm.Message.Type, "retries", qm.Retries, "error", err)
			s.mu.Lock()
			s.stats.Dropped++
			s.mu.Unlock()
			dropped++
			continue
		}
		delivered++
	}

	// A replay where nothing got through is a failed recovery.
	state := protocol.SessionSynchronized
	if dropped > 0 && delivered == 0 {
		state = protocol.SessionError
	}
	s.mu.Lock()
	d.syncState = state
	s.stats.Replayed += int64(delivered)
	s.mu.Unlock()

	s.log.Info("sessionsync: device recovered", "device", deviceID, "replayed", delivered)
	return delivered
}

// pruneOffline removes devices that have been offline longer than the
// cutoff, discarding their queues.
func (s *Synchronizer) pruneOffline() {
	now := s.nowFunc()

	s.mu.Lock()
	var pruned []string
	for id, d := range s.devices {
		if d.syncState != protocol.SessionDisconnected || d.offlineSince.IsZero() {
			continue
		}
		if now.Sub(d.offlineSince) > s.cfg.OfflineCutoff {
			pruned = append(pruned, id)
			s.stats.Dropped += int64(len(d.queue))
			s.stats.Pruned++
			delete(s.devices, id)
		}
	}
	s.mu.Unlock()

	for _, id := range pruned {
		s.log.Warn("sessionsync: pruned device offline past cutoff", "device", id)
	}
}

// DeviceState returns a device's current sync state, if known.
func (s *Synchronizer) DeviceState(deviceID string) (protocol.SessionSyncState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[deviceID]
	if !ok {
		return "", false
	}
	return d.syncState, true
}

// QueueDepth returns the number of messages queued for a device.
func (s *Synchronizer) QueueDepth(deviceID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[deviceID]
	if !ok {
		return 0
	}
	return len(d.queue)
}

// PendingMessages returns a copy of a device's queue, oldest first.
func (s *Synchronizer) PendingMessages(deviceID string) []QueuedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[deviceID]
	if !ok {
		return nil
	}
	out := make([]QueuedMessage, len(d.queue))
	copy(out, d.queue)
	return out
}

// Stats returns activity counters.
func (s *Synchronizer) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
