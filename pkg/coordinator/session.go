package coordinator

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"vitalsync/pkg/protocol"
)

// recordingSession is the coordinator-owned state for one session.
// Sessions are never deleted, only marked inactive.
type recordingSession struct {
	id             string
	startTimestamp float64
	stopTimestamp  float64
	devices        map[string]struct{} // live members; disconnects remove
	files          map[string]string   // per-device output file paths
	active         bool
}

// SessionSnapshot is a read-only view of a session. Quality is the
// arithmetic mean of the live members' current sync quality.
type SessionSnapshot struct {
	SessionID      string
	StartTimestamp float64
	StopTimestamp  float64
	Devices        []string
	Files          map[string]string
	Active         bool
	Quality        float64
}

// snapshotLocked builds a snapshot; caller must hold c.mu.
func (c *Coordinator) snapshotLocked(s *recordingSession) SessionSnapshot {
	devices := make([]string, 0, len(s.devices))
	var sum float64
	var n int
	for id := range s.devices {
		devices = append(devices, id)
		if rec, ok := c.devices[id]; ok {
			sum += rec.quality
			n++
		}
	}
	sort.Strings(devices)

	quality := 0.0
	if n > 0 {
		quality = sum / float64(n)
	}

	files := make(map[string]string, len(s.files))
	for k, v := range s.files {
		files[k] = v
	}

	return SessionSnapshot{
		SessionID:      s.id,
		StartTimestamp: s.startTimestamp,
		StopTimestamp:  s.stopTimestamp,
		Devices:        devices,
		Files:          files,
		Active:         s.active,
		Quality:        quality,
	}
}

// NewSessionID generates a unique session identifier.
func NewSessionID() string {
	return "session-" + uuid.NewString()
}

// StartSynchronizedRecording starts a recording session across the
// target devices (all registered connected devices when targets is
// nil). Every device receives the same master timestamp, taken once.
//
// Fails with a SessionExistsError — leaving no partial state — if the
// session ID already has an active session, and with a plain error if
// the resolved device set is empty. Devices below the quality
// threshold are included with a warning, never excluded. Individual
// send failures do not abort the fan-out.
func (c *Coordinator) StartSynchronizedRecording(sessionID string, targets []string, options map[string]string) error {
	c.mu.Lock()
	if s, ok := c.sessions[sessionID]; ok && s.active {
		c.mu.Unlock()
		c.log.Error("coordinator: session already active", "session", sessionID)
		return &protocol.SessionExistsError{SessionID: sessionID}
	}

	members := c.resolveTargetsLocked(targets)
	if len(members) == 0 {
		c.mu.Unlock()
		c.log.Error("coordinator: no devices available for session", "session", sessionID)
		return fmt.Errorf("coordinator: no devices available for session %s", sessionID)
	}

	startTS := c.clock.Timestamp()
	s := &recordingSession{
		id:             sessionID,
		startTimestamp: startTS,
		devices:        make(map[string]struct{}, len(members)),
		files:          make(map[string]string, len(members)),
		active:         true,
	}
	type sendTarget struct {
		id     string
		remote bool
	}
	var lowQuality []string
	sends := make([]sendTarget, 0, len(members))
	for _, id := range members {
		s.devices[id] = struct{}{}
		s.files[id] = fmt.Sprintf("%s_%s.mp4", sessionID, id)
		rec := c.devices[id]
		rec.recordingActive = true
		if rec.quality < c.cfg.QualityThreshold {
			lowQuality = append(lowQuality, id)
		}
		sends = append(sends, sendTarget{id: id, remote: rec.deviceType.Remote()})
	}
	c.sessions[sessionID] = s
	snap := c.snapshotLocked(s)
	startedCbs := append([]SessionCallback(nil), c.sessionStarted...)
	webcamCbs := append([]WebcamSyncCallback(nil), c.webcamSync...)
	c.mu.Unlock()

	for _, id := range lowQuality {
		c.log.Warn("coordinator: device quality below threshold, recording anyway",
			"session", sessionID, "device", id)
	}

	// Best-effort fan-out: a failed send is logged and the broadcast
	// continues. Only remote device types get explicit commands;
	// webcams are driven through the sync callbacks below.
	cmd := protocol.Message{
		Type:      protocol.MsgStartRecord,
		Timestamp: startTS,
		SessionID: sessionID,
		StartRecord: &protocol.StartRecordPayload{
			SessionID:       sessionID,
			MasterTimestamp: startTS,
			Options:         options,
		},
	}
	for _, tgt := range sends {
		if !tgt.remote {
			continue
		}
		if err := c.link.Send(tgt.id, cmd); err != nil {
			c.log.Warn("coordinator: start command failed",
				"session", sessionID, "device", tgt.id, "error", err)
		}
	}

	for _, cb := range webcamCbs {
		cb := cb
		c.safeInvoke("webcam_sync", func() { cb(startTS) })
	}
	for _, cb := range startedCbs {
		cb := cb
		c.safeInvoke("session_started", func() { cb(snap) })
	}

	c.log.Info("coordinator: session started",
		"session", sessionID, "devices", len(members), "timestamp", startTS)
	c.logEvent("session_start", "", sessionID,
		fmt.Sprintf(`{"devices":%d,"timestamp":%.6f}`, len(members), startTS))
	if c.journal != nil {
		if err := c.journal.RecordSessionStart(context.Background(), sessionID, startTS, strings.Join(snap.Devices, ",")); err != nil {
			c.log.Warn("coordinator: journal session start failed", "error", err)
		}
	}
	return nil
}

// StopSynchronizedRecording stops an active session. Stopping an
// already-stopped session is idempotent success: it returns nil
// without re-sending commands or re-firing observers. An unknown
// session fails with a SessionNotFoundError.
func (c *Coordinator) StopSynchronizedRecording(sessionID string) error {
	c.mu.Lock()
	s, ok := c.sessions[sessionID]
	if !ok {
		c.mu.Unlock()
		c.log.Error("coordinator: unknown session", "session", sessionID)
		return &protocol.SessionNotFoundError{SessionID: sessionID}
	}
	if !s.active {
		c.mu.Unlock()
		return nil
	}

	stopTS := c.clock.Timestamp()
	s.stopTimestamp = stopTS
	s.active = false

	type sendTarget struct {
		id     string
		remote bool
	}
	sends := make([]sendTarget, 0, len(s.devices))
	for id := range s.devices {
		if rec, ok := c.devices[id]; ok {
			rec.recordingActive = false
			sends = append(sends, sendTarget{id: id, remote: rec.deviceType.Remote()})
		}
	}
	snap := c.snapshotLocked(s)
	stoppedCbs := append([]SessionCallback(nil), c.sessionStopped...)
	c.mu.Unlock()

	cmd := protocol.Message{
		Type:      protocol.MsgStopRecord,
		Timestamp: stopTS,
		SessionID: sessionID,
		StopRecord: &protocol.StopRecordPayload{
			SessionID:       sessionID,
			MasterTimestamp: stopTS,
		},
	}
	for _, tgt := range sends {
		if !tgt.remote {
			continue
		}
		if err := c.link.Send(tgt.id, cmd); err != nil {
			c.log.Warn("coordinator: stop command failed",
				"session", sessionID, "device", tgt.id, "error", err)
		}
	}

	for _, cb := range stoppedCbs {
		cb := cb
		c.safeInvoke("session_stopped", func() { cb(snap) })
	}

	c.log.Info("coordinator: session stopped",
		"session", sessionID, "duration_s", stopTS-snap.StartTimestamp)
	c.logEvent("session_stop", "", sessionID,
		fmt.Sprintf(`{"duration_s":%.3f,"quality":%.3f}`, stopTS-snap.StartTimestamp, snap.Quality))
	if c.journal != nil {
		if err := c.journal.RecordSessionStop(context.Background(), sessionID, stopTS, snap.Quality); err != nil {
			c.log.Warn("coordinator: journal session stop failed", "error", err)
		}
	}
	return nil
}

// resolveTargetsLocked expands a nil target list to every connected
// device and filters out unknown or disconnected IDs. Caller must hold
// c.mu.
func (c *Coordinator) resolveTargetsLocked(targets []string) []string {
	var out []string
	if targets == nil {
		for id, rec := range c.devices {
			if rec.state != protocol.StateDisconnected {
				out = append(out, id)
			}
		}
		sort.Strings(out)
		return out
	}
	for _, id := range targets {
		rec, ok := c.devices[id]
		if !ok || rec.state == protocol.StateDisconnected {
			c.log.Warn("coordinator: target device unavailable", "device", id)
			continue
		}
		out = append(out, id)
	}
	return out
}

// Session returns a snapshot of one session, if known.
func (c *Coordinator) Session(sessionID string) (SessionSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[sessionID]
	if !ok {
		return SessionSnapshot{}, false
	}
	return c.snapshotLocked(s), true
}

// Sessions returns snapshots of all sessions, active and stopped.
func (c *Coordinator) Sessions() []SessionSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]SessionSnapshot, 0, len(c.sessions))
	for _, s := range c.sessions {
		out = append(out, c.snapshotLocked(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTimestamp < out[j].StartTimestamp })
	return out
}
