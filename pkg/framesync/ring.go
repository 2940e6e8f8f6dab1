package framesync

// frameRing is a fixed-capacity ring of frames, newest wins.
type frameRing struct {
	buf    []SyncFrame
	next   int
	filled bool
}

func newFrameRing(capacity int) *frameRing {
	return &frameRing{buf: make([]SyncFrame, capacity)}
}

func (r *frameRing) push(f SyncFrame) {
	r.buf[r.next] = f
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.filled = true
	}
}

func (r *frameRing) len() int {
	if r.filled {
		return len(r.buf)
	}
	return r.next
}

func (r *frameRing) latest() SyncFrame {
	idx := r.next - 1
	if idx < 0 {
		idx = len(r.buf) - 1
	}
	return r.buf[idx]
}

// floatRing is a fixed-capacity ring of float samples.
type floatRing struct {
	buf    []float64
	next   int
	filled bool
}

func newFloatRing(capacity int) *floatRing {
	return &floatRing{buf: make([]float64, capacity)}
}

func (r *floatRing) push(v float64) {
	r.buf[r.next] = v
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.filled = true
	}
}

func (r *floatRing) len() int {
	if r.filled {
		return len(r.buf)
	}
	return r.next
}

// tailMean returns the mean of the newest n samples and how many were
// actually available.
func (r *floatRing) tailMean(n int) (float64, int) {
	avail := r.len()
	if n > avail {
		n = avail
	}
	if n == 0 {
		return 0, 0
	}
	var sum float64
	idx := r.next
	for i := 0; i < n; i++ {
		idx--
		if idx < 0 {
			idx = len(r.buf) - 1
		}
		sum += r.buf[idx]
	}
	return sum / float64(n), n
}
