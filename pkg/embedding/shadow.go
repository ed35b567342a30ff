package embedding

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/finsage/finsage/pkg/observability"
)

// ShadowComparisonRecord captures one legacy-vs-new comparison. Records are
// append-only and feed aggregate statistics; they never serve results.
type ShadowComparisonRecord struct {
	RequestHash      string    `json:"request_hash"`
	LegacyProvider   ProviderID `json:"legacy_provider"`
	NewProvider      ProviderID `json:"new_provider"`
	CosineSimilarity float64   `json:"cosine_similarity"`
	Timestamp        time.Time `json:"timestamp"`
}

// ShadowStats is the aggregate view of shadow-mode comparisons
type ShadowStats struct {
	Comparisons   int64   `json:"comparisons"`
	Failures      int64   `json:"failures"`
	Breaches      int64   `json:"breaches"`
	DimMismatches int64   `json:"dim_mismatches"`
	AvgSimilarity float64 `json:"avg_similarity"`
	MinSimilarity float64 `json:"min_similarity"`
}

// ReadinessReport is the go/no-go verdict for cutting over to the new backend
type ReadinessReport struct {
	Ready         bool     `json:"ready"`
	SampleCount   int64    `json:"sample_count"`
	MinSamples    int64    `json:"min_samples"`
	AvgSimilarity float64  `json:"avg_similarity"`
	MinSimilarity float64  `json:"min_similarity"`
	Threshold     float64  `json:"threshold"`
	BreachCount   int64    `json:"breach_count"`
	BreachRatio   float64  `json:"breach_ratio"`
	Blockers      []string `json:"blockers,omitempty"`
}

// maxShadowRecords bounds the retained record log; older records are dropped
const maxShadowRecords = 1000

// maxBreachRatio is the tolerated share of below-threshold comparisons
const maxBreachRatio = 0.05

// Comparator accumulates shadow-mode comparisons between the legacy and new
// embedding paths. All entry points swallow their own failures: nothing in
// here may ever surface into a primary request.
type Comparator struct {
	threshold  float64
	minSamples int64
	logger     observability.Logger
	metrics    observability.MetricsClient

	mu            sync.Mutex
	records       []ShadowComparisonRecord
	comparisons   int64
	failures      int64
	breaches      int64
	dimMismatches int64
	similaritySum float64
	minSimilarity float64
}

// NewComparator creates a comparator with the given warning threshold
func NewComparator(similarityThreshold float64, minSamples int64, logger observability.Logger, metrics observability.MetricsClient) *Comparator {
	if similarityThreshold <= 0 || similarityThreshold > 1 {
		similarityThreshold = 0.95
	}
	if minSamples <= 0 {
		minSamples = 100
	}
	if logger == nil {
		logger = observability.NewLogger("embedding.shadow")
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}
	return &Comparator{
		threshold:     similarityThreshold,
		minSamples:    minSamples,
		logger:        logger,
		metrics:       metrics,
		minSimilarity: 1,
	}
}

// CompareAsync records a comparison on a detached goroutine. The caller's
// request path is never blocked and never sees an error or panic from here.
func (c *Comparator) CompareAsync(requestHash string, legacy, new EmbeddingResult) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				c.recordFailure(fmt.Sprintf("panic: %v", r))
			}
		}()
		c.compare(requestHash, legacy, new)
	}()
}

// compare is the synchronous core, exercised directly by tests
func (c *Comparator) compare(requestHash string, legacy, new EmbeddingResult) {
	similarity, err := CosineSimilarity(legacy.Vector, new.Vector)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.dimMismatches++
		c.metrics.IncrementCounter("shadow_dim_mismatches", 1)
		return
	}

	c.comparisons++
	c.similaritySum += similarity
	if similarity < c.minSimilarity {
		c.minSimilarity = similarity
	}
	if similarity < c.threshold {
		c.breaches++
		c.metrics.IncrementCounter("shadow_threshold_breaches", 1)
		c.logger.Warn("Shadow similarity below threshold", map[string]interface{}{
			"request_hash": requestHash,
			"similarity":   similarity,
			"threshold":    c.threshold,
		})
	}
	c.metrics.IncrementCounter("shadow_comparisons", 1)
	c.metrics.RecordHistogram("shadow_similarity", similarity, nil)

	record := ShadowComparisonRecord{
		RequestHash:      requestHash,
		LegacyProvider:   legacy.Provider,
		NewProvider:      new.Provider,
		CosineSimilarity: similarity,
		Timestamp:        time.Now(),
	}
	c.records = append(c.records, record)
	if len(c.records) > maxShadowRecords {
		c.records = c.records[len(c.records)-maxShadowRecords:]
	}
}

func (c *Comparator) recordFailure(msg string) {
	c.mu.Lock()
	c.failures++
	c.mu.Unlock()
	c.metrics.IncrementCounter("shadow_failures", 1)
	c.logger.Error("Shadow comparison failed", map[string]interface{}{
		"error": msg,
	})
}

// Stats returns the aggregate counters
func (c *Comparator) Stats() ShadowStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := ShadowStats{
		Comparisons:   c.comparisons,
		Failures:      c.failures,
		Breaches:      c.breaches,
		DimMismatches: c.dimMismatches,
	}
	if c.comparisons > 0 {
		stats.AvgSimilarity = c.similaritySum / float64(c.comparisons)
		stats.MinSimilarity = c.minSimilarity
	}
	return stats
}

// Readiness evaluates whether the shadowed backend is safe to promote
func (c *Comparator) Readiness() ReadinessReport {
	stats := c.Stats()

	report := ReadinessReport{
		SampleCount:   stats.Comparisons,
		MinSamples:    c.minSamples,
		AvgSimilarity: stats.AvgSimilarity,
		MinSimilarity: stats.MinSimilarity,
		Threshold:     c.threshold,
		BreachCount:   stats.Breaches,
	}
	if stats.Comparisons > 0 {
		report.BreachRatio = float64(stats.Breaches) / float64(stats.Comparisons)
	}

	if stats.Comparisons < c.minSamples {
		report.Blockers = append(report.Blockers,
			fmt.Sprintf("insufficient samples: %d of %d", stats.Comparisons, c.minSamples))
	}
	if stats.Comparisons > 0 && stats.AvgSimilarity < c.threshold {
		report.Blockers = append(report.Blockers,
			fmt.Sprintf("average similarity %.4f below threshold %.4f", stats.AvgSimilarity, c.threshold))
	}
	if report.BreachRatio > maxBreachRatio {
		report.Blockers = append(report.Blockers,
			fmt.Sprintf("breach ratio %.2f%% above %.2f%%", report.BreachRatio*100, maxBreachRatio*100))
	}
	if stats.DimMismatches > 0 {
		report.Blockers = append(report.Blockers,
			fmt.Sprintf("%d dimension mismatches recorded", stats.DimMismatches))
	}

	report.Ready = len(report.Blockers) == 0
	return report
}

// CosineSimilarity measures directional closeness of two vectors; it errors
// on dimension mismatch or zero vectors rather than returning a misleading 0
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("dimension mismatch: %d vs %d", len(a), len(b))
	}
	if len(a) == 0 {
		return 0, fmt.Errorf("empty vectors")
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, fmt.Errorf("zero vector")
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}
