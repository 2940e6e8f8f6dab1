// Package clockref maintains a best-effort estimate of true time by
// polling a set of external NTP servers. The rest of the system calls
// Timestamp()/Now() to get reference-corrected wall-clock time that is
// comparable across processes and devices.
package clockref

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/beevik/ntp"
)

// Config holds Tracker configuration.
type Config struct {
	Servers      []string      // NTP hosts to poll.
	SyncInterval time.Duration // Poll interval (default 5m).
	QueryTimeout time.Duration // Per-host query timeout (default 5s).
}

func (c *Config) withDefaults() Config {
	out := *c
	if len(out.Servers) == 0 {
		out.Servers = []string{"pool.ntp.org", "time.google.com", "time.cloudflare.com"}
	}
	if out.SyncInterval == 0 {
		out.SyncInterval = 5 * time.Minute
	}
	if out.QueryTimeout == 0 {
		out.QueryTimeout = 5 * time.Second
	}
	return out
}

// Status is a snapshot of the tracker state.
type Status struct {
	Offset       time.Duration
	PrecisionMs  float64
	Synchronized bool
	LastSync     time.Time
	Servers      []string
}

// Tracker polls NTP servers on a fixed interval and keeps a median
// clock offset. Mutations happen only on the poll path; all readers
// get reference-corrected time through Now/Timestamp.
type Tracker struct {
	cfg Config
	log *slog.Logger

	mu           sync.Mutex
	offset       time.Duration
	precisionMs  float64
	synchronized bool
	lastSync     time.Time

	stopCh chan struct{}
	doneCh chan struct{}

	// queryFunc and nowFunc allow tests to control NTP replies and time.
	queryFunc func(host string, timeout time.Duration) (*ntp.Response, error)
	nowFunc   func() time.Time
}

// New creates a Tracker. It does not poll until Start is called.
func New(cfg Config, log *slog.Logger) *Tracker {
	if log == nil {
		log = slog.Default()
	}
	return &Tracker{
		cfg:    cfg.withDefaults(),
		log:    log,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		queryFunc: func(host string, timeout time.Duration) (*ntp.Response, error) {
			return ntp.QueryWithOptions(host, ntp.QueryOptions{Timeout: timeout})
		},
		nowFunc: time.Now,
	}
}

// Start runs the poll loop on a background goroutine. The first
// synchronization attempt happens immediately, not after the first
// interval.
func (t *Tracker) Start() {
	go func() {
		defer close(t.doneCh)

		t.Synchronize()

		ticker := time.NewTicker(t.cfg.SyncInterval)
		defer ticker.Stop()

		for {
			select {
			case <-t.stopCh:
				return
			case <-ticker.C:
				t.Synchronize()
			}
		}
	}()
}

// Stop signals the poll loop and waits up to 5s for it to exit.
func (t *Tracker) Stop() {
	close(t.stopCh)
	select {
	case <-t.doneCh:
	case <-time.After(5 * time.Second):
		t.log.Warn("clockref: poll loop did not stop within timeout")
	}
}

// Synchronize queries every configured server once and, if at least
// one replies, installs the median offset and a precision estimate of
// median(round-trip)/2. A cycle where every host fails leaves the
// previous state untouched: a tracker that has ever synchronized stays
// synchronized on stale data rather than flapping.
func (t *Tracker) Synchronize() {
	type sample struct {
		offset time.Duration
		rtt    time.Duration
	}

	results := make(chan *sample, len(t.cfg.Servers))
	for _, host := range t.cfg.Servers {
		go func(host string) {
			resp, err := t.queryFunc(host, t.cfg.QueryTimeout)
			if err != nil {
				t.log.Warn("clockref: ntp query failed", "host", host, "error", err)
				results <- nil
				return
			}
			if resp.Stratum == 0 {
				// Stratum 0 is a kiss-of-death reply, not a usable source.
				t.log.Warn("clockref: ntp server returned stratum 0", "host", host)
				results <- nil
				return
			}
			results <- &sample{offset: resp.ClockOffset, rtt: resp.RTT}
		}(host)
	}

	var offsets, rtts []time.Duration
	for range t.cfg.Servers {
		if s := <-results; s != nil {
			offsets = append(offsets, s.offset)
			rtts = append(rtts, s.rtt)
		}
	}

	if len(offsets) == 0 {
		t.log.Warn("clockref: all ntp servers unreachable, keeping previous offset",
			"servers", len(t.cfg.Servers))
		return
	}

	offset := median(offsets)
	precisionMs := float64(median(rtts)) / float64(time.Millisecond) / 2

	t.mu.Lock()
	t.offset = offset
	t.precisionMs = precisionMs
	t.synchronized = true
	t.lastSync = t.nowFunc()
	t.mu.Unlock()

	t.log.Info("clockref: synchronized",
		"offset_ms", float64(offset)/float64(time.Millisecond),
		"precision_ms", precisionMs,
		"sources", len(offsets))
}

// Now returns reference-corrected wall-clock time, or raw system time
// if no synchronization has ever succeeded.
func (t *Tracker) Now() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.synchronized {
		return t.nowFunc()
	}
	return t.nowFunc().Add(t.offset)
}

// Timestamp returns Now() as seconds since the Unix epoch, the unit
// used on the wire.
func (t *Tracker) Timestamp() float64 {
	return float64(t.Now().UnixNano()) / 1e9
}

// PrecisionMs returns the current precision estimate in milliseconds.
func (t *Tracker) PrecisionMs() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.precisionMs
}

// Status returns a snapshot of the tracker state.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Status{
		Offset:       t.offset,
		PrecisionMs:  t.precisionMs,
		Synchronized: t.synchronized,
		LastSync:     t.lastSync,
		Servers:      append([]string(nil), t.cfg.Servers...),
	}
}

// median returns the median of a non-empty duration slice.
func median(ds []time.Duration) time.Duration {
	sorted := append([]time.Duration(nil), ds...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
