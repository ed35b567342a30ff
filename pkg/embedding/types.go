// Package embedding implements the hybrid embedding routing and caching
// subsystem: a two-tier cached, budget- and health-aware façade over a local
// deterministic embedding model and a paid embedding API.
package embedding

import (
	"time"
)

// ProviderID identifies an embedding backend. The set is closed; routing
// switches over it exhaustively.
type ProviderID string

const (
	ProviderLocal ProviderID = "local"
	ProviderAPI   ProviderID = "api"
)

// Other returns the alternate provider, used for fallback and shadow runs
func (p ProviderID) Other() ProviderID {
	if p == ProviderLocal {
		return ProviderAPI
	}
	return ProviderLocal
}

// RequestContext describes the caller's intent for a request and drives routing
type RequestContext string

const (
	ContextRealtime  RequestContext = "realtime"
	ContextQuality   RequestContext = "quality"
	ContextBatch     RequestContext = "batch"
	ContextSensitive RequestContext = "sensitive"
)

// EmbeddingRequest is the immutable per-call input to the hybrid service
type EmbeddingRequest struct {
	Text              string         `json:"text"`
	Context           RequestContext `json:"context"`
	PreferredProvider ProviderID     `json:"preferred_provider,omitempty"`
	// BatchSize is set by EmbedBatch so the router can apply its batch rule
	BatchSize int `json:"batch_size,omitempty"`
}

// EmbeddingResult is the immutable output returned to the caller
type EmbeddingResult struct {
	Vector    []float32  `json:"vector"`
	Provider  ProviderID `json:"provider"`
	Model     string     `json:"model"`
	CostUSD   float64    `json:"cost_usd"`
	LatencyMs int64      `json:"latency_ms"`
	Cached    bool       `json:"cached"`
}

// RoutingDecision is the router's verdict for one request
type RoutingDecision struct {
	Provider ProviderID    `json:"provider"`
	CacheTTL time.Duration `json:"cache_ttl"`
	Reason   string        `json:"reason"`
}

// BudgetSnapshot is a point-in-time read of the daily budget window
type BudgetSnapshot struct {
	DateUTC      string  `json:"date_utc"`
	SpentUSD     float64 `json:"spent_usd"`
	ReservedUSD  float64 `json:"reserved_usd"`
	LimitUSD     float64 `json:"limit_usd"`
	RemainingUSD float64 `json:"remaining_usd"`
}

// HealthSnapshot is a point-in-time read of provider health consumed by the
// router; it carries no references back to live state so Decide stays pure
type HealthSnapshot struct {
	APIBreakerState   BreakerState `json:"api_breaker_state"`
	LocalBreakerState BreakerState `json:"local_breaker_state"`
	APIP95LatencyMs   float64      `json:"api_p95_latency_ms"`
}
