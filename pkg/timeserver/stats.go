package timeserver

import (
	"sync"
	"time"
)

// activeClientWindow is how recently a client must have been seen to
// count as active. Older clients stay in the history map.
const activeClientWindow = 60 * time.Second

// Stats is a snapshot of server statistics.
type Stats struct {
	TotalRequests int64
	TotalClients  int
	ActiveClients int
	AvgResponseMs float64
}

// serverStats tracks request counts, per-client last-seen times, and a
// bounded response-time window.
type serverStats struct {
	mu            sync.Mutex
	totalRequests int64
	lastSeen      map[string]time.Time
	respTimes     []time.Duration
	respIdx       int
	respFilled    bool
	capacity      int
}

func (st *serverStats) init(capacity int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.lastSeen = make(map[string]time.Time)
	st.respTimes = make([]time.Duration, capacity)
	st.capacity = capacity
}

// record registers one served request.
func (st *serverStats) record(clientID string, now time.Time, took time.Duration) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.totalRequests++
	if clientID != "" {
		st.lastSeen[clientID] = now
	}
	st.respTimes[st.respIdx] = took
	st.respIdx++
	if st.respIdx == st.capacity {
		st.respIdx = 0
		st.respFilled = true
	}
}

// snapshot computes a Stats view at the given instant.
func (st *serverStats) snapshot(now time.Time) Stats {
	st.mu.Lock()
	defer st.mu.Unlock()

	active := 0
	for _, seen := range st.lastSeen {
		if now.Sub(seen) <= activeClientWindow {
			active++
		}
	}

	n := st.respIdx
	if st.respFilled {
		n = st.capacity
	}
	var sum time.Duration
	for i := 0; i < n; i++ {
		sum += st.respTimes[i]
	}
	avg := 0.0
	if n > 0 {
		avg = float64(sum) / float64(n) / float64(time.Millisecond)
	}

	return Stats{
		TotalRequests: st.totalRequests,
		TotalClients:  len(st.lastSeen),
		ActiveClients: active,
		AvgResponseMs: avg,
	}
}

// Stats returns a snapshot of the server's rolling statistics.
func (s *Server) Stats() Stats {
	return s.stats.snapshot(s.nowFunc())
}
