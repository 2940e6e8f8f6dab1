package framesync

// driftTracker accumulates (time, offset) samples for one device and
// fits a least-squares line through them. The slope is the device's
// clock drift relative to the master.
type driftTracker struct {
	times   *floatRing // master timestamps, seconds
	offsets *floatRing // observed offsets, milliseconds
}

func newDriftTracker(capacity int) *driftTracker {
	return &driftTracker{
		times:   newFloatRing(capacity),
		offsets: newFloatRing(capacity),
	}
}

func (d *driftTracker) add(t, offsetMs float64) {
	d.times.push(t)
	d.offsets.push(offsetMs)
}

// slope returns the least-squares slope in ms per second. The second
// return is false when the samples are degenerate (all at one instant).
func (d *driftTracker) slope() (float64, bool) {
	n := d.times.len()
	ts := d.times.ordered()
	os := d.offsets.ordered()

	var sumT, sumO float64
	for i := 0; i < n; i++ {
		sumT += ts[i]
		sumO += os[i]
	}
	meanT := sumT / float64(n)
	meanO := sumO / float64(n)

	var num, den float64
	for i := 0; i < n; i++ {
		dt := ts[i] - meanT
		num += dt * (os[i] - meanO)
		den += dt * dt
	}
	if den == 0 {
		return 0, false
	}
	return num / den, true
}

// ordered returns the ring's samples oldest first.
func (r *floatRing) ordered() []float64 {
	n := r.len()
	out := make([]float64, 0, n)
	start := 0
	if r.filled {
		start = r.next
	}
	for i := 0; i < n; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}

// trackDriftLocked feeds one observation into a device's drift
// tracker. Caller must hold s.mu.
func (s *Synchronizer) trackDriftLocked(deviceID string, masterTS, offsetMs float64) {
	d, ok := s.drift[deviceID]
	if !ok {
		d = newDriftTracker(historyCapacity)
		s.drift[deviceID] = d
	}
	d.add(masterTS, offsetMs)
}

// DriftRatePPM returns a device's estimated clock drift in parts per
// million relative to the master. The second return is false until
// enough samples have accumulated for a stable fit.
func (s *Synchronizer) DriftRatePPM(deviceID string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.driftPPMLocked(deviceID)
}

func (s *Synchronizer) driftPPMLocked(deviceID string) (float64, bool) {
	d, ok := s.drift[deviceID]
	if !ok || d.times.len() < s.cfg.DriftMinSamples {
		return 0, false
	}
	slopeMsPerS, ok := d.slope()
	if !ok {
		return 0, false
	}
	// 1 ms/s of drift is 1000 ppm.
	return slopeMsPerS * 1000, true
}
