package observability

import (
	"math"
	"sort"
	"sync"
	"time"
)

// MetricsClient defines the interface for metrics collection
type MetricsClient interface {
	IncrementCounter(name string, value float64)
	IncrementCounterWithLabels(name string, value float64, labels map[string]string)
	RecordGauge(name string, value float64, labels map[string]string)
	RecordHistogram(name string, value float64, labels map[string]string)
	RecordLatency(operation string, duration time.Duration)
	StartTimer(name string, labels map[string]string) func()
}

// HistogramSummary is a point-in-time summary of a recorded histogram
type HistogramSummary struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
}

// MetricsSnapshot is the exportable view of the registry, served by /metrics
type MetricsSnapshot struct {
	Counters   map[string]float64          `json:"counters"`
	Gauges     map[string]float64          `json:"gauges"`
	Histograms map[string]HistogramSummary `json:"histograms"`
}

// maxHistogramSamples bounds per-histogram memory; oldest samples are dropped
const maxHistogramSamples = 4096

// MetricsRegistry is an in-process MetricsClient that retains values for the
// ops endpoints. All methods are safe for concurrent use.
type MetricsRegistry struct {
	mu         sync.RWMutex
	counters   map[string]float64
	gauges     map[string]float64
	histograms map[string][]float64
}

// NewMetricsRegistry creates an empty registry
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		counters:   make(map[string]float64),
		gauges:     make(map[string]float64),
		histograms: make(map[string][]float64),
	}
}

// IncrementCounter increments a counter metric by the given value
func (m *MetricsRegistry) IncrementCounter(name string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name] += value
}

// IncrementCounterWithLabels increments a counter, folding labels into the name
func (m *MetricsRegistry) IncrementCounterWithLabels(name string, value float64, labels map[string]string) {
	m.IncrementCounter(labeledName(name, labels), value)
}

// RecordGauge sets a gauge metric to the given value
func (m *MetricsRegistry) RecordGauge(name string, value float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[labeledName(name, labels)] = value
}

// RecordHistogram records an observation for a histogram metric
func (m *MetricsRegistry) RecordHistogram(name string, value float64, labels map[string]string) {
	key := labeledName(name, labels)
	m.mu.Lock()
	defer m.mu.Unlock()
	samples := append(m.histograms[key], value)
	if len(samples) > maxHistogramSamples {
		samples = samples[len(samples)-maxHistogramSamples:]
	}
	m.histograms[key] = samples
}

// RecordLatency records an operation latency in milliseconds
func (m *MetricsRegistry) RecordLatency(operation string, duration time.Duration) {
	m.RecordHistogram(operation+"_latency_ms", float64(duration.Milliseconds()), nil)
}

// StartTimer returns a stop function that records elapsed time as a histogram
func (m *MetricsRegistry) StartTimer(name string, labels map[string]string) func() {
	start := time.Now()
	return func() {
		m.RecordHistogram(name, time.Since(start).Seconds(), labels)
	}
}

// Snapshot returns a copy of all recorded metrics with histogram summaries
func (m *MetricsRegistry) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := MetricsSnapshot{
		Counters:   make(map[string]float64, len(m.counters)),
		Gauges:     make(map[string]float64, len(m.gauges)),
		Histograms: make(map[string]HistogramSummary, len(m.histograms)),
	}
	for k, v := range m.counters {
		snap.Counters[k] = v
	}
	for k, v := range m.gauges {
		snap.Gauges[k] = v
	}
	for k, samples := range m.histograms {
		snap.Histograms[k] = summarize(samples)
	}
	return snap
}

// CounterValue returns the current value of a counter, 0 when unrecorded
func (m *MetricsRegistry) CounterValue(name string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counters[name]
}

func summarize(samples []float64) HistogramSummary {
	if len(samples) == 0 {
		return HistogramSummary{}
	}
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	return HistogramSummary{
		Count: len(sorted),
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		Mean:  sum / float64(len(sorted)),
		P50:   percentile(sorted, 0.50),
		P95:   percentile(sorted, 0.95),
		P99:   percentile(sorted, 0.99),
	}
}

// percentile uses nearest-rank on an already-sorted slice
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}

func labeledName(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := name
	for _, k := range keys {
		out += "," + k + "=" + labels[k]
	}
	return out
}

// NoopMetricsClient drops all recordings; used in tests
type NoopMetricsClient struct{}

// NewNoopMetricsClient returns a MetricsClient that records nothing
func NewNoopMetricsClient() MetricsClient { return NoopMetricsClient{} }

func (NoopMetricsClient) IncrementCounter(string, float64)                              {}
func (NoopMetricsClient) IncrementCounterWithLabels(string, float64, map[string]string) {}
func (NoopMetricsClient) RecordGauge(string, float64, map[string]string)                {}
func (NoopMetricsClient) RecordHistogram(string, float64, map[string]string)            {}
func (NoopMetricsClient) RecordLatency(string, time.Duration)                           {}
func (NoopMetricsClient) StartTimer(string, map[string]string) func()                   { return func() {} }
