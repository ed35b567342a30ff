package embedding

import (
	"sort"
	"sync"
	"time"
)

// LatencyTracker keeps a bounded ring of recent call latencies and exposes a
// rolling P95, consumed by the router's realtime rule and by /metrics.
type LatencyTracker struct {
	mu      sync.Mutex
	samples []float64
	next    int
	filled  bool
}

// defaultLatencyWindow is the number of calls the rolling percentile covers
const defaultLatencyWindow = 256

// NewLatencyTracker creates a tracker with the given window size
func NewLatencyTracker(window int) *LatencyTracker {
	if window <= 0 {
		window = defaultLatencyWindow
	}
	return &LatencyTracker{
		samples: make([]float64, window),
	}
}

// Record adds one observed call duration
func (lt *LatencyTracker) Record(d time.Duration) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	lt.samples[lt.next] = float64(d.Milliseconds())
	lt.next++
	if lt.next == len(lt.samples) {
		lt.next = 0
		lt.filled = true
	}
}

// P95 returns the rolling 95th percentile latency in milliseconds, 0 when
// nothing has been recorded yet
func (lt *LatencyTracker) P95() float64 {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	n := lt.next
	if lt.filled {
		n = len(lt.samples)
	}
	if n == 0 {
		return 0
	}

	sorted := make([]float64, n)
	copy(sorted, lt.samples[:n])
	sort.Float64s(sorted)

	rank := (n*95 + 99) / 100 // ceil(n * 0.95)
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}
