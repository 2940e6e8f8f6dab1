package framesync //nolint:testpackage // white-box tests swap the correlation func and inspect the threshold

import (
	"errors"
	"image"
	"math"
	"testing"
)

func submitPair(s *Synchronizer, masterTS, slaveTS float64, hwMaster, hwSlave float64) {
	s.SubmitFrame(SyncFrame{DeviceID: "master", Timestamp: masterTS, HardwareStamp: hwMaster})
	s.SubmitFrame(SyncFrame{DeviceID: "slave", Timestamp: slaveTS, HardwareStamp: hwSlave})
}

func TestFalloff(t *testing.T) {
	t.Parallel()

	s := New(Config{NominalThresholdMs: 10}, nil)

	tests := []struct {
		offsetMs float64
		want     float64
	}{
		{0, 1},
		{10, 1},   // at threshold
		{15, 0.5}, // halfway between threshold and 2x
		{20, 0},   // at 2x
		{100, 0},
	}
	for _, tt := range tests {
		if got := s.falloffLocked(tt.offsetMs); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("offset %vms: expected %v, got %v", tt.offsetMs, tt.want, got)
		}
	}
}

func TestHybridPrefersHardwareStamps(t *testing.T) {
	t.Parallel()

	s := New(Config{Strategy: AdaptiveHybrid, NominalThresholdMs: 1000.0 / 60.0}, nil)
	var correlations int
	s.correlate = func(a, b image.Image) (float64, error) {
		correlations++
		return 1, nil
	}

	// Hardware stamps agree exactly: hardware quality 1 > 0.8.
	submitPair(s, 100.0, 100.5, 50.0, 50.0)
	res, err := s.Synchronize("master", "slave")
	if err != nil {
		t.Fatalf("synchronize: %v", err)
	}
	if res.Strategy != HardwareSync {
		t.Errorf("expected hardware strategy, got %q", res.Strategy)
	}
	if res.Quality != 1 {
		t.Errorf("expected quality 1, got %v", res.Quality)
	}
	if correlations != 0 {
		t.Errorf("correlation must not run when hardware stamps suffice, ran %d times", correlations)
	}
}

func TestHardwareSyncFallsBackToTimestamps(t *testing.T) {
	t.Parallel()

	s := New(Config{Strategy: HardwareSync, NominalThresholdMs: 10}, nil)

	// No hardware stamps on either frame: a 1ms software offset within
	// the 10ms threshold still scores full quality.
	submitPair(s, 100.0, 100.001, 0, 0)
	res, err := s.Synchronize("master", "slave")
	if err != nil {
		t.Fatalf("synchronize: %v", err)
	}
	if res.Strategy != HardwareSync {
		t.Errorf("expected hardware strategy, got %q", res.Strategy)
	}
	if res.Quality != 1 {
		t.Errorf("expected timestamp fallback quality 1, got %v", res.Quality)
	}
}

func TestMasterSlavePrefersHardwareStamps(t *testing.T) {
	t.Parallel()

	s := New(Config{Strategy: MasterSlave, NominalThresholdMs: 10}, nil)

	// Software timestamps agree exactly, but the hardware stamps are
	// 50ms apart: the hardware offset wins and scores 0.
	submitPair(s, 100.0, 100.0, 50.0, 50.05)
	res, err := s.Synchronize("master", "slave")
	if err != nil {
		t.Fatalf("synchronize: %v", err)
	}
	if res.Strategy != MasterSlave {
		t.Errorf("expected master/slave strategy, got %q", res.Strategy)
	}
	if res.Quality != 0 {
		t.Errorf("expected hardware offset to dominate, got quality %v", res.Quality)
	}
}

func TestHybridFallsBackToCorrelation(t *testing.T) {
	t.Parallel()

	s := New(Config{Strategy: AdaptiveHybrid}, nil)
	s.correlate = func(a, b image.Image) (float64, error) { return 0.85, nil }

	// No hardware stamps: the chain moves on to correlation.
	submitPair(s, 100.0, 100.001, 0, 0)
	res, err := s.Synchronize("master", "slave")
	if err != nil {
		t.Fatalf("synchronize: %v", err)
	}
	if res.Strategy != CrossCorrelation {
		t.Errorf("expected correlation strategy, got %q", res.Strategy)
	}
	if res.Quality != 0.85 {
		t.Errorf("expected correlation score passed through, got %v", res.Quality)
	}
}

func TestHybridFallsBackToMasterSlaveOnWeakCorrelation(t *testing.T) {
	t.Parallel()

	s := New(Config{Strategy: AdaptiveHybrid, NominalThresholdMs: 10}, nil)
	s.correlate = func(a, b image.Image) (float64, error) { return 0.4, nil }

	// 5ms offset sits within the 10ms threshold: timestamp quality 1.
	submitPair(s, 100.0, 100.005, 0, 0)
	res, err := s.Synchronize("master", "slave")
	if err != nil {
		t.Fatalf("synchronize: %v", err)
	}
	if res.Strategy != MasterSlave {
		t.Errorf("expected master/slave fallback, got %q", res.Strategy)
	}
	if res.Quality != 1 {
		t.Errorf("expected quality 1, got %v", res.Quality)
	}
}

func TestCorrelationFailureScoresNeutral(t *testing.T) {
	t.Parallel()

	s := New(Config{Strategy: CrossCorrelation}, nil)
	s.correlate = func(a, b image.Image) (float64, error) { return 0, errors.New("boom") }

	submitPair(s, 100.0, 100.0, 0, 0)
	res, err := s.Synchronize("master", "slave")
	if err != nil {
		t.Fatalf("synchronize: %v", err)
	}
	if res.Quality != 0.5 {
		t.Errorf("correlation failure should score a neutral 0.5, got %v", res.Quality)
	}
}

func TestSynchronizeUnknownDevice(t *testing.T) {
	t.Parallel()

	s := New(Config{}, nil)
	if _, err := s.Synchronize("master", "slave"); err == nil {
		t.Fatal("expected error with no frames submitted")
	}
}

func TestThresholdTightensOnHighQuality(t *testing.T) {
	t.Parallel()

	s := New(Config{Strategy: MasterSlave, NominalThresholdMs: 10, AdaptRate: 0.1}, nil)

	// Perfectly aligned frames: quality 1 every cycle. Once the
	// trailing window fills, each cycle tightens the threshold until
	// the 0.5x floor.
	for i := 0; i < 50; i++ {
		ts := float64(i)
		submitPair(s, ts, ts, 0, 0)
		if _, err := s.Synchronize("master", "slave"); err != nil {
			t.Fatalf("synchronize: %v", err)
		}
	}
	if got := s.ThresholdMs(); math.Abs(got-5) > 1e-9 {
		t.Errorf("expected threshold clamped to 0.5x nominal (5ms), got %v", got)
	}
}

func TestThresholdRelaxesOnLowQuality(t *testing.T) {
	t.Parallel()

	s := New(Config{Strategy: MasterSlave, NominalThresholdMs: 10, AdaptRate: 0.1}, nil)

	// 100ms offsets: quality 0 every cycle, threshold relaxes to the
	// 2x ceiling and no further.
	for i := 0; i < 50; i++ {
		ts := float64(i)
		submitPair(s, ts, ts+0.1, 0, 0)
		if _, err := s.Synchronize("master", "slave"); err != nil {
			t.Fatalf("synchronize: %v", err)
		}
	}
	if got := s.ThresholdMs(); math.Abs(got-20) > 1e-9 {
		t.Errorf("expected threshold clamped to 2x nominal (20ms), got %v", got)
	}
}

func TestDriftRateFromLinearOffset(t *testing.T) {
	t.Parallel()

	s := New(Config{Strategy: MasterSlave, NominalThresholdMs: 1000}, nil)

	// Slave clock gains 1ms per second: 1000 ppm drift.
	for i := 0; i < 60; i++ {
		ts := float64(i)
		submitPair(s, ts, ts+0.001*ts, 0, 0)
		if _, err := s.Synchronize("master", "slave"); err != nil {
			t.Fatalf("synchronize: %v", err)
		}
	}
	ppm, ok := s.DriftRatePPM("slave")
	if !ok {
		t.Fatal("expected drift estimate after 60 samples")
	}
	if math.Abs(ppm-1000) > 1 {
		t.Errorf("expected ~1000 ppm, got %v", ppm)
	}

	// The same estimate surfaces in the diagnostics snapshot.
	d := s.Report()
	if got, ok := d.DriftPPM["slave"]; !ok || math.Abs(got-1000) > 1 {
		t.Errorf("expected ~1000 ppm in diagnostics, got %v (present=%v)", got, ok)
	}
}

func TestDriftRequiresMinimumSamples(t *testing.T) {
	t.Parallel()

	s := New(Config{Strategy: MasterSlave}, nil)
	for i := 0; i < 10; i++ {
		ts := float64(i)
		submitPair(s, ts, ts, 0, 0)
		if _, err := s.Synchronize("master", "slave"); err != nil {
			t.Fatalf("synchronize: %v", err)
		}
	}
	if _, ok := s.DriftRatePPM("slave"); ok {
		t.Error("drift must not be reported below the sample minimum")
	}
}

func TestReportDiagnostics(t *testing.T) {
	t.Parallel()

	s := New(Config{Strategy: MasterSlave, NominalThresholdMs: 10}, nil)
	submitPair(s, 1.0, 1.0, 0, 0)
	if _, err := s.Synchronize("master", "slave"); err != nil {
		t.Fatalf("synchronize: %v", err)
	}

	d := s.Report()
	if d.QualitySamples != 1 || d.MeanQuality != 1 {
		t.Errorf("expected one perfect sample, got %+v", d)
	}
	if d.StrategyUsage[MasterSlave] != 1 {
		t.Errorf("expected one master/slave use recorded, got %v", d.StrategyUsage)
	}
	if d.FramesBuffered["master"] != 1 || d.FramesBuffered["slave"] != 1 {
		t.Errorf("expected one buffered frame per device, got %v", d.FramesBuffered)
	}
	if len(d.DriftPPM) != 0 {
		t.Errorf("drift must not be reported below the sample minimum, got %v", d.DriftPPM)
	}
}

func TestFrameRingBounded(t *testing.T) {
	t.Parallel()

	r := newFrameRing(3)
	for i := int64(0); i < 10; i++ {
		r.push(SyncFrame{Sequence: i})
	}
	if r.len() != 3 {
		t.Errorf("expected ring capped at 3, got %d", r.len())
	}
	if r.latest().Sequence != 9 {
		t.Errorf("expected newest frame retained, got seq %d", r.latest().Sequence)
	}
}

func TestFloatRingTailMean(t *testing.T) {
	t.Parallel()

	r := newFloatRing(5)
	for _, v := range []float64{1, 2, 3, 4, 5, 6, 7} { // wraps: holds 3..7
		r.push(v)
	}
	mean, n := r.tailMean(3)
	if n != 3 || mean != 6 {
		t.Errorf("expected mean 6 over 3 samples, got %v over %d", mean, n)
	}
	ordered := r.ordered()
	if len(ordered) != 5 || ordered[0] != 3 || ordered[4] != 7 {
		t.Errorf("expected ordered [3..7], got %v", ordered)
	}
}
