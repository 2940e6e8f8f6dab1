// Package framesync aligns video frames from multiple capture devices
// against a master device's timeline. It supports several alignment
// strategies, an adaptive quality threshold that tightens or relaxes
// with observed sync quality, and per-device clock drift estimation.
package framesync

import (
	"fmt"
	"image"
	"log/slog"
	"math"
	"sync"
)

// Strategy selects how frame alignment quality is scored.
type Strategy string

// Alignment strategies. AdaptiveHybrid tries hardware stamps first,
// falls back to image cross-correlation, and finally to plain
// timestamp comparison when correlation confidence is low.
const (
	MasterSlave      Strategy = "master_slave"
	CrossCorrelation Strategy = "cross_correlation"
	HardwareSync     Strategy = "hardware_sync"
	AdaptiveHybrid   Strategy = "adaptive_hybrid"
)

// Thresholds for the adaptive hybrid fallback chain.
const (
	hardwareAcceptQuality   = 0.8
	correlationMinimumScore = 0.6
)

// Trailing quality window bounds for threshold adaptation.
const (
	adaptWindow     = 10
	tightenAbove    = 0.9
	relaxBelow      = 0.7
	defaultAdapt    = 0.1
	historyCapacity = 100
)

// SyncFrame is one captured frame submitted for alignment. Timestamp
// is seconds since the Unix epoch on the reference clock.
// HardwareStamp is a shared hardware trigger timestamp when the rig
// provides one, zero otherwise. Image may be nil for devices that only
// report timing.
type SyncFrame struct {
	DeviceID      string
	Sequence      int64
	Timestamp     float64
	HardwareStamp float64
	Image         image.Image
}

// Result is the outcome of aligning one slave frame against the
// master.
type Result struct {
	MasterDevice string
	SlaveDevice  string
	OffsetMs     float64
	Quality      float64
	Strategy     Strategy // Strategy that produced the quality score.
	ThresholdMs  float64  // Adaptive threshold at the time of scoring.
}

// Config holds Synchronizer configuration.
type Config struct {
	Strategy           Strategy // Default AdaptiveHybrid.
	NominalThresholdMs float64  // Frame interval the threshold adapts around (default 16.67, one 60fps frame).
	AdaptRate          float64  // Threshold adjustment step (default 0.1).
	DriftMinSamples    int      // Samples required before drift is reported (default 50).
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Strategy == "" {
		out.Strategy = AdaptiveHybrid
	}
	if out.NominalThresholdMs == 0 {
		out.NominalThresholdMs = 1000.0 / 60.0
	}
	if out.AdaptRate == 0 {
		out.AdaptRate = defaultAdapt
	}
	if out.DriftMinSamples == 0 {
		out.DriftMinSamples = 50
	}
	return out
}

// Synchronizer scores frame alignment across devices. One mutex guards
// all state; rings are bounded so memory stays flat regardless of
// session length.
type Synchronizer struct {
	cfg Config
	log *slog.Logger

	mu          sync.Mutex
	frames      map[string]*frameRing
	quality     *floatRing
	drift       map[string]*driftTracker
	thresholdMs float64
	used        map[Strategy]int64

	// correlate is swappable for tests.
	correlate func(a, b image.Image) (float64, error)
}

// New creates a Synchronizer.
func New(cfg Config, log *slog.Logger) *Synchronizer {
	if log == nil {
		log = slog.Default()
	}
	resolved := cfg.withDefaults()
	return &Synchronizer{
		cfg:         resolved,
		log:         log,
		frames:      make(map[string]*frameRing),
		quality:     newFloatRing(historyCapacity),
		drift:       make(map[string]*driftTracker),
		thresholdMs: resolved.NominalThresholdMs,
		used:        make(map[Strategy]int64),
		correlate:   correlateImages,
	}
}

// SubmitFrame records a frame for its device. Rings hold the last 100
// frames per device; older frames are overwritten.
func (s *Synchronizer) SubmitFrame(f SyncFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ring, ok := s.frames[f.DeviceID]
	if !ok {
		ring = newFrameRing(historyCapacity)
		s.frames[f.DeviceID] = ring
	}
	ring.push(f)
}

// Synchronize aligns the latest slave frame against the latest master
// frame using the configured strategy, records the score in the
// quality history, adapts the threshold, and feeds the drift tracker.
func (s *Synchronizer) Synchronize(masterID, slaveID string) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	master, ok := s.latestLocked(masterID)
	if !ok {
		return Result{}, fmt.Errorf("framesync: no frames for master %q", masterID)
	}
	slave, ok := s.latestLocked(slaveID)
	if !ok {
		return Result{}, fmt.Errorf("framesync: no frames for slave %q", slaveID)
	}

	offsetMs := (slave.Timestamp - master.Timestamp) * 1000
	quality, used := s.scoreLocked(master, slave, offsetMs)

	s.used[used]++
	s.quality.push(quality)
	s.adaptThresholdLocked()
	s.trackDriftLocked(slaveID, master.Timestamp, offsetMs)

	return Result{
		MasterDevice: masterID,
		SlaveDevice:  slaveID,
		OffsetMs:     offsetMs,
		Quality:      quality,
		Strategy:     used,
		ThresholdMs:  s.thresholdMs,
	}, nil
}

func (s *Synchronizer) latestLocked(deviceID string) (SyncFrame, bool) {
	ring, ok := s.frames[deviceID]
	if !ok || ring.len() == 0 {
		return SyncFrame{}, false
	}
	return ring.latest(), true
}

// scoreLocked evaluates one strategy, following the hybrid fallback
// chain when configured.
func (s *Synchronizer) scoreLocked(master, slave SyncFrame, offsetMs float64) (float64, Strategy) {
	switch s.cfg.Strategy {
	case MasterSlave:
		return s.timestampQualityLocked(master, slave, offsetMs), MasterSlave
	case HardwareSync:
		return s.timestampQualityLocked(master, slave, offsetMs), HardwareSync
	case CrossCorrelation:
		return s.correlationQuality(master, slave), CrossCorrelation
	case AdaptiveHybrid:
		if hw := s.hardwareQualityLocked(master, slave); hw > hardwareAcceptQuality {
			return hw, HardwareSync
		}
		if corr := s.correlationQuality(master, slave); corr >= correlationMinimumScore {
			return corr, CrossCorrelation
		}
		return s.falloffLocked(offsetMs), MasterSlave
	default:
		return s.falloffLocked(offsetMs), MasterSlave
	}
}

// falloffLocked maps a timestamp offset to quality: 1 within the
// adaptive threshold, linear to 0 at twice the threshold.
func (s *Synchronizer) falloffLocked(offsetMs float64) float64 {
	abs := math.Abs(offsetMs)
	if abs <= s.thresholdMs {
		return 1
	}
	if abs >= 2*s.thresholdMs {
		return 0
	}
	return 1 - (abs-s.thresholdMs)/s.thresholdMs
}

// timestampQualityLocked scores alignment by offset falloff, preferring
// the hardware trigger stamps when both frames carry one and falling
// back to the synchronized timestamps otherwise.
func (s *Synchronizer) timestampQualityLocked(master, slave SyncFrame, offsetMs float64) float64 {
	if master.HardwareStamp != 0 && slave.HardwareStamp != 0 {
		return s.falloffLocked((slave.HardwareStamp - master.HardwareStamp) * 1000)
	}
	return s.falloffLocked(offsetMs)
}

// hardwareQualityLocked scores alignment from shared hardware trigger
// stamps. Zero when either frame lacks one, which moves the hybrid
// chain on to its next strategy.
func (s *Synchronizer) hardwareQualityLocked(master, slave SyncFrame) float64 {
	if master.HardwareStamp == 0 || slave.HardwareStamp == 0 {
		return 0
	}
	hwOffsetMs := (slave.HardwareStamp - master.HardwareStamp) * 1000
	return s.falloffLocked(hwOffsetMs)
}

// correlationQuality scores alignment by image similarity. A
// correlation failure is not an alignment verdict, so it scores a
// neutral 0.5.
func (s *Synchronizer) correlationQuality(master, slave SyncFrame) float64 {
	score, err := s.correlate(master.Image, slave.Image)
	if err != nil {
		s.log.Debug("framesync: correlation unavailable", "error", err)
		return 0.5
	}
	return score
}

// adaptThresholdLocked nudges the threshold from the trailing quality
// window: consistently high quality tightens it, low quality relaxes
// it. Bounded to [0.5x, 2x] of the nominal threshold.
func (s *Synchronizer) adaptThresholdLocked() {
	mean, n := s.quality.tailMean(adaptWindow)
	if n < adaptWindow {
		return
	}
	switch {
	case mean > tightenAbove:
		s.thresholdMs *= 1 - s.cfg.AdaptRate
	case mean < relaxBelow:
		s.thresholdMs *= 1 + s.cfg.AdaptRate
	}
	lo := 0.5 * s.cfg.NominalThresholdMs
	hi := 2 * s.cfg.NominalThresholdMs
	s.thresholdMs = math.Min(hi, math.Max(lo, s.thresholdMs))
}

// ThresholdMs returns the current adaptive threshold.
func (s *Synchronizer) ThresholdMs() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.thresholdMs
}

// Diagnostics is a snapshot of synchronizer internals. DriftPPM holds
// the estimated clock drift per device, only for devices with enough
// samples for a stable fit.
type Diagnostics struct {
	ThresholdMs    float64
	NominalMs      float64
	MeanQuality    float64
	QualitySamples int
	FramesBuffered map[string]int
	StrategyUsage  map[Strategy]int64
	DriftPPM       map[string]float64
}

// Report returns a diagnostics snapshot.
func (s *Synchronizer) Report() Diagnostics {
	s.mu.Lock()
	defer s.mu.Unlock()
	mean, n := s.quality.tailMean(s.quality.len())
	buffered := make(map[string]int, len(s.frames))
	for id, ring := range s.frames {
		buffered[id] = ring.len()
	}
	usage := make(map[Strategy]int64, len(s.used))
	for k, v := range s.used {
		usage[k] = v
	}
	drift := make(map[string]float64)
	for id := range s.drift {
		if ppm, ok := s.driftPPMLocked(id); ok {
			drift[id] = ppm
		}
	}
	return Diagnostics{
		ThresholdMs:    s.thresholdMs,
		NominalMs:      s.cfg.NominalThresholdMs,
		MeanQuality:    mean,
		QualitySamples: n,
		FramesBuffered: buffered,
		StrategyUsage:  usage,
		DriftPPM:       drift,
	}
}
