package embedding

import (
	"time"
)

// RouterConfig carries the thresholds and TTL policy the router applies.
// All values come from the service configuration; the router itself is pure.
type RouterConfig struct {
	// HybridEnabled=false pins every request to the local provider
	HybridEnabled bool

	// CostPer1MTokensUSD projects the API cost of a request for the budget rule
	CostPer1MTokensUSD float64

	RealtimeLatencyThresholdMs float64
	BatchSizeThreshold         int

	// TTLs are assigned by selected provider: API vectors are expensive to
	// recompute and live longer
	APITTL   time.Duration
	LocalTTL time.Duration
}

// Router picks a provider and cache policy for each request. Decide is a
// pure function of its snapshot inputs, which keeps every rule unit-testable
// without live breaker, budget, or provider state.
type Router struct {
	cfg RouterConfig
}

// NewRouter creates a router with the given thresholds
func NewRouter(cfg RouterConfig) *Router {
	return &Router{cfg: cfg}
}

// Routing decision reasons, exported for assertions and ops visibility
const (
	ReasonSensitive      = "sensitive_context"
	ReasonPII            = "pii_detected"
	ReasonHybridDisabled = "hybrid_disabled"
	ReasonBreakerOpen    = "api_breaker_open"
	ReasonBudget         = "budget_exhausted"
	ReasonRealtimeSlow   = "api_latency_above_realtime_threshold"
	ReasonLargeBatch     = "batch_above_threshold"
	ReasonQuality        = "quality_context"
	ReasonPreferred      = "caller_preference"
	ReasonDefault        = "default"
)

// Decide evaluates the routing rules in order; the first match wins.
func (r *Router) Decide(req EmbeddingRequest, budget BudgetSnapshot, health HealthSnapshot) RoutingDecision {
	// Privacy overrides everything, including caller preference
	if req.Context == ContextSensitive {
		return r.local(ReasonSensitive)
	}
	if ContainsPII(req.Text) {
		return r.local(ReasonPII)
	}

	if !r.cfg.HybridEnabled {
		return r.local(ReasonHybridDisabled)
	}

	// A caller explicitly asking for local never needs the API gates
	if req.PreferredProvider == ProviderLocal {
		return r.local(ReasonPreferred)
	}

	if health.APIBreakerState == BreakerOpen {
		return r.local(ReasonBreakerOpen)
	}

	if r.projectedCostUSD(req) > budget.RemainingUSD {
		return r.local(ReasonBudget)
	}

	if req.Context == ContextRealtime && health.APIP95LatencyMs > r.cfg.RealtimeLatencyThresholdMs {
		return r.local(ReasonRealtimeSlow)
	}

	if req.Context == ContextBatch && req.BatchSize > r.cfg.BatchSizeThreshold {
		return r.local(ReasonLargeBatch)
	}

	if req.PreferredProvider == ProviderAPI {
		return r.api(ReasonPreferred)
	}

	if req.Context == ContextQuality {
		return r.api(ReasonQuality)
	}

	return r.local(ReasonDefault)
}

// projectedCostUSD estimates what the API call would cost, scaled by batch size
func (r *Router) projectedCostUSD(req EmbeddingRequest) float64 {
	texts := req.BatchSize
	if texts < 1 {
		texts = 1
	}
	return float64(estimateTokens(req.Text)*texts) / 1_000_000 * r.cfg.CostPer1MTokensUSD
}

func (r *Router) local(reason string) RoutingDecision {
	return RoutingDecision{
		Provider: ProviderLocal,
		CacheTTL: r.cfg.LocalTTL,
		Reason:   reason,
	}
}

func (r *Router) api(reason string) RoutingDecision {
	return RoutingDecision{
		Provider: ProviderAPI,
		CacheTTL: r.cfg.APITTL,
		Reason:   reason,
	}
}

// estimateTokens approximates the tokenizer at ~4 characters per token,
// never returning less than one token for non-empty text
func estimateTokens(text string) int {
	if text == "" {
		return 0
	}
	n := len(text) / 4
	if n < 1 {
		n = 1
	}
	return n
}
