package coordinator

import (
	"fmt"
	"math"
	"time"

	"vitalsync/pkg/protocol"
)

// deviceRecord is the coordinator-owned mutable state for one device.
type deviceRecord struct {
	id              string
	deviceType      protocol.DeviceType
	state           protocol.DeviceSyncState
	synchronized    bool
	offsetMs        float64
	quality         float64
	lastSync        time.Time
	recordingActive bool
	frameCount      int64
}

// DeviceStatus is a read-only snapshot of a device record.
type DeviceStatus struct {
	DeviceID        string
	DeviceType      protocol.DeviceType
	State           protocol.DeviceSyncState
	Synchronized    bool
	OffsetMs        float64
	Quality         float64
	LastSync        time.Time
	RecordingActive bool
	FrameCount      int64
}

func (r *deviceRecord) snapshot() DeviceStatus {
	return DeviceStatus{
		DeviceID:        r.id,
		DeviceType:      r.deviceType,
		State:           r.state,
		Synchronized:    r.synchronized,
		OffsetMs:        r.offsetMs,
		Quality:         r.quality,
		LastSync:        r.lastSync,
		RecordingActive: r.recordingActive,
		FrameCount:      r.frameCount,
	}
}

// qualityFromOffset maps an offset magnitude to a 0..1 score: 1 at
// zero offset, linear to 0 at the tolerance, 0 beyond it.
func qualityFromOffset(offsetMs, toleranceMs float64) float64 {
	abs := math.Abs(offsetMs)
	if abs > toleranceMs {
		return 0
	}
	return math.Max(0, 1-abs/toleranceMs)
}

// HandleDeviceConnected registers a device and immediately sends it a
// sync probe. Called by the device link on connect.
func (c *Coordinator) HandleDeviceConnected(deviceID string, deviceType protocol.DeviceType) {
	c.mu.Lock()
	rec, exists := c.devices[deviceID]
	if !exists {
		rec = &deviceRecord{id: deviceID, deviceType: deviceType}
		c.devices[deviceID] = rec
	}
	rec.deviceType = deviceType
	rec.state = protocol.StateSyncing
	rec.synchronized = false
	rec.quality = 0
	snap := rec.snapshot()
	c.mu.Unlock()

	c.log.Info("coordinator: device connected", "device", deviceID, "type", deviceType)
	c.logEvent("device_connected", deviceID, "", "")
	c.notifyDevice(snap)

	c.sendProbe(deviceID)
}

// HandleDeviceDisconnected marks a device disconnected and removes it
// from the member set of any active session. Called by the device link.
func (c *Coordinator) HandleDeviceDisconnected(deviceID string) {
	c.mu.Lock()
	rec, ok := c.devices[deviceID]
	if !ok {
		c.mu.Unlock()
		return
	}
	rec.state = protocol.StateDisconnected
	rec.synchronized = false
	rec.quality = 0
	rec.recordingActive = false
	for _, s := range c.sessions {
		if s.active {
			delete(s.devices, deviceID)
		}
	}
	snap := rec.snapshot()
	c.mu.Unlock()

	c.log.Warn("coordinator: device disconnected", "device", deviceID)
	c.logEvent("device_disconnected", deviceID, "", "")
	c.notifyDevice(snap)
}

// UnregisterDevice deletes a device record entirely.
func (c *Coordinator) UnregisterDevice(deviceID string) {
	c.mu.Lock()
	delete(c.devices, deviceID)
	for _, s := range c.sessions {
		if s.active {
			delete(s.devices, deviceID)
		}
	}
	c.mu.Unlock()
	c.logEvent("device_unregistered", deviceID, "", "")
}

// HandleDeviceMessage updates sync state from any inbound timestamped
// message. Called by the device link for every message received; the
// per-device ordering guarantee comes from the link processing each
// device's stream on a single path.
func (c *Coordinator) HandleDeviceMessage(deviceID string, msg protocol.Message) {
	now := c.clock.Timestamp()

	c.mu.Lock()
	rec, ok := c.devices[deviceID]
	if !ok {
		c.mu.Unlock()
		return
	}

	switch {
	case msg.FrameStat != nil:
		rec.frameCount = msg.FrameStat.FrameCount
	case msg.Status != nil:
		rec.recordingActive = msg.Status.Recording
		if msg.Status.FrameCount > 0 {
			rec.frameCount = msg.Status.FrameCount
		}
	}

	var snap DeviceStatus
	var crossedBelow bool
	if msg.Timestamp > 0 {
		offsetMs := (now - msg.Timestamp) * 1000
		quality := qualityFromOffset(offsetMs, c.cfg.ToleranceMs)

		wasAbove := rec.quality >= c.cfg.QualityThreshold
		rec.offsetMs = offsetMs
		rec.quality = quality
		rec.synchronized = quality > 0
		rec.lastSync = c.nowFunc()
		if quality > 0 {
			rec.state = protocol.StateSynchronized
		} else {
			rec.state = protocol.StateError
		}
		crossedBelow = wasAbove && quality < c.cfg.QualityThreshold
	}
	snap = rec.snapshot()
	c.mu.Unlock()

	if crossedBelow {
		c.log.Warn("coordinator: device sync quality degraded",
			"device", deviceID, "offset_ms", snap.OffsetMs, "quality", snap.Quality)
		c.logEvent("quality_warning", deviceID, "",
			fmt.Sprintf(`{"offset_ms":%.3f,"quality":%.3f}`, snap.OffsetMs, snap.Quality))
		c.mu.Lock()
		alerts := append([]QualityCallback(nil), c.qualityAlerts...)
		c.mu.Unlock()
		for _, cb := range alerts {
			cb := cb
			c.safeInvoke("quality", func() { cb(snap) })
		}
	}
}

// sendProbe sends one SYNC_PROBE to a device. A device in the error
// state re-enters syncing here; that is the only path back to
// synchronized.
func (c *Coordinator) sendProbe(deviceID string) {
	c.mu.Lock()
	rec, ok := c.devices[deviceID]
	if !ok || rec.state == protocol.StateDisconnected {
		c.mu.Unlock()
		return
	}
	if rec.state == protocol.StateError {
		rec.state = protocol.StateSyncing
	}
	c.probeSeq++
	seq := c.probeSeq
	c.mu.Unlock()

	msg := protocol.Message{
		Type:      protocol.MsgSyncProbe,
		Timestamp: c.clock.Timestamp(),
		SyncProbe: &protocol.SyncProbePayload{
			MasterTimestamp: c.clock.Timestamp(),
			Sequence:        seq,
		},
	}
	if err := c.link.Send(deviceID, msg); err != nil {
		c.log.Warn("coordinator: sync probe failed", "device", deviceID, "error", err)
	}
}

// monitorDevices re-probes devices whose last successful sync is older
// than twice the monitor interval. One probe per stale device per
// cycle, never a burst.
func (c *Coordinator) monitorDevices() {
	staleAfter := 2 * c.cfg.SyncInterval
	now := c.nowFunc()

	c.mu.Lock()
	var stale []string
	for id, rec := range c.devices {
		if rec.state == protocol.StateDisconnected {
			continue
		}
		if rec.lastSync.IsZero() || now.Sub(rec.lastSync) > staleAfter {
			stale = append(stale, id)
		}
	}
	c.mu.Unlock()

	for _, id := range stale {
		c.log.Warn("coordinator: device sync is stale, re-probing", "device", id)
		c.sendProbe(id)
	}
}

// notifyDevice fans a device snapshot out to device observers.
func (c *Coordinator) notifyDevice(snap DeviceStatus) {
	c.mu.Lock()
	obs := append([]DeviceCallback(nil), c.deviceEvents...)
	c.mu.Unlock()
	for _, cb := range obs {
		cb := cb
		c.safeInvoke("device", func() { cb(snap) })
	}
}

// Device returns a snapshot of one device, if registered.
func (c *Coordinator) Device(deviceID string) (DeviceStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.devices[deviceID]
	if !ok {
		return DeviceStatus{}, false
	}
	return rec.snapshot(), true
}

// Devices returns snapshots of all registered devices.
func (c *Coordinator) Devices() []DeviceStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]DeviceStatus, 0, len(c.devices))
	for _, rec := range c.devices {
		out = append(out, rec.snapshot())
	}
	return out
}
