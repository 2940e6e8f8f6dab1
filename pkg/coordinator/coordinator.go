// Package coordinator implements the vitalsync master clock
// coordinator — the engine that tracks per-device clock-sync state,
// issues synchronized session start/stop commands stamped with a
// single reference timestamp, and monitors sync quality across all
// connected capture devices.
//
// The coordinator owns all mutation of its device and session
// registries behind one mutex; readers get snapshot copies. Observer
// callbacks are invoked outside the lock and are panic-isolated so a
// failing observer can never corrupt coordinator state or block the
// others.
package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"vitalsync/pkg/eventlog"
	"vitalsync/pkg/protocol"
)

// Clock supplies reference-corrected timestamps in seconds since the
// Unix epoch. *clockref.Tracker satisfies it.
type Clock interface {
	Timestamp() float64
}

// DeviceLink is the transport the coordinator commands remote devices
// through. The production implementation is devserver.Server; tests
// use fakes. Send returns an error on delivery failure; the
// coordinator treats that as best-effort and never aborts a fan-out.
type DeviceLink interface {
	Send(deviceID string, msg protocol.Message) error
}

// Config holds Coordinator configuration.
type Config struct {
	SyncInterval     time.Duration // Device monitor interval (default 5s).
	ToleranceMs      float64       // Offset tolerance for quality scoring (default 50ms).
	QualityThreshold float64       // Below this, quality warnings fire (default 0.7).
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.SyncInterval == 0 {
		out.SyncInterval = 5 * time.Second
	}
	if out.ToleranceMs == 0 {
		out.ToleranceMs = 50
	}
	if out.QualityThreshold == 0 {
		out.QualityThreshold = 0.7
	}
	return out
}

// Callback types. All callbacks run outside the coordinator lock and
// are panic-isolated; there is no ordering guarantee between them.
type (
	// SessionCallback observes session lifecycle events.
	SessionCallback func(s SessionSnapshot)
	// WebcamSyncCallback receives the shared master timestamp so
	// local capture can align to the same instant as remote devices.
	WebcamSyncCallback func(masterTimestamp float64)
	// DeviceCallback observes device connect/disconnect/state changes.
	DeviceCallback func(d DeviceStatus)
	// QualityCallback fires when a device's quality drops below the
	// configured threshold.
	QualityCallback func(d DeviceStatus)
)

// Coordinator is the master clock synchronizer and session
// coordinator.
type Coordinator struct {
	cfg     Config
	clock   Clock
	link    DeviceLink
	journal *eventlog.Log // optional; nil disables journaling
	log     *slog.Logger

	mu       sync.Mutex
	devices  map[string]*deviceRecord
	sessions map[string]*recordingSession
	probeSeq int

	sessionStarted []SessionCallback
	sessionStopped []SessionCallback
	webcamSync     []WebcamSyncCallback
	deviceEvents   []DeviceCallback
	qualityAlerts  []QualityCallback

	stopCh chan struct{}
	doneCh chan struct{}

	// nowFunc allows tests to control time.
	nowFunc func() time.Time
}

// New creates a Coordinator. The journal may be nil. Call Start to run
// the monitor loop.
func New(cfg Config, clock Clock, link DeviceLink, journal *eventlog.Log, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		cfg:      cfg.withDefaults(),
		clock:    clock,
		link:     link,
		journal:  journal,
		log:      log,
		devices:  make(map[string]*deviceRecord),
		sessions: make(map[string]*recordingSession),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		nowFunc:  time.Now,
	}
}

// Start launches the periodic device monitor loop.
func (c *Coordinator) Start() {
	go func() {
		defer close(c.doneCh)
		ticker := time.NewTicker(c.cfg.SyncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.monitorDevices()
			}
		}
	}()
}

// Stop signals the monitor loop and waits up to 5s for it to exit.
func (c *Coordinator) Stop() {
	close(c.stopCh)
	select {
	case <-c.doneCh:
	case <-time.After(5 * time.Second):
		c.log.Warn("coordinator: monitor loop did not stop within timeout")
	}
}

// --- Observer registration ---

// OnSessionStarted registers a session-start observer.
func (c *Coordinator) OnSessionStarted(cb SessionCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionStarted = append(c.sessionStarted, cb)
}

// OnSessionStopped registers a session-stop observer.
func (c *Coordinator) OnSessionStopped(cb SessionCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionStopped = append(c.sessionStopped, cb)
}

// OnWebcamSync registers a local-capture sync observer.
func (c *Coordinator) OnWebcamSync(cb WebcamSyncCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.webcamSync = append(c.webcamSync, cb)
}

// OnDeviceEvent registers a device lifecycle observer.
func (c *Coordinator) OnDeviceEvent(cb DeviceCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deviceEvents = append(c.deviceEvents, cb)
}

// OnQualityAlert registers a sync-quality observer.
func (c *Coordinator) OnQualityAlert(cb QualityCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.qualityAlerts = append(c.qualityAlerts, cb)
}

// safeInvoke runs one callback with panic isolation.
func (c *Coordinator) safeInvoke(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("coordinator: observer panicked", "callback", name, "panic", r)
		}
	}()
	fn()
}

// logEvent journals an event, best-effort.
func (c *Coordinator) logEvent(eventType, deviceID, sessionID, payload string) {
	if c.journal == nil {
		return
	}
	if err := c.journal.Record(context.Background(), eventType, "coordinator", deviceID, sessionID, payload); err != nil {
		c.log.Warn("coordinator: journal write failed", "type", eventType, "error", err)
	}
}
