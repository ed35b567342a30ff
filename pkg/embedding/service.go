package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	embcache "github.com/finsage/finsage/pkg/embedding/cache"
	"github.com/finsage/finsage/pkg/observability"
)

// shadowComparator is the slice of the Comparator the service needs; tests
// inject failing implementations to prove the primary path is isolated
type shadowComparator interface {
	CompareAsync(requestHash string, legacy, new EmbeddingResult)
}

// Config wires the hybrid service's collaborators. Providers, budget,
// breakers, and cache are owned by the caller and injected, so independent
// service instances can coexist and tests can substitute any piece.
type Config struct {
	LocalProvider Provider
	APIProvider   Provider

	Cache      *embcache.TieredCache
	Budget     *BudgetTracker
	Comparator shadowComparator

	Router            RouterConfig
	BreakerThreshold  int
	BreakerCoolDown   time.Duration
	ShadowModeEnabled bool

	Logger  observability.Logger
	Metrics observability.MetricsClient
}

// HybridService is the façade external collaborators use. It orchestrates
// cache lookup, routing, budget reservation, the provider call with one
// fallback, cache write-through, and the fire-and-forget shadow comparison.
type HybridService struct {
	local Provider
	api   Provider

	router   *Router
	budget   *BudgetTracker
	cache    *embcache.TieredCache
	breakers map[ProviderID]*CircuitBreaker
	latency  *LatencyTracker
	shadow   shadowComparator

	shadowEnabled bool
	logger        observability.Logger
	metrics       observability.MetricsClient
}

// NewHybridService creates the service
func NewHybridService(cfg *Config) (*HybridService, error) {
	if cfg.LocalProvider == nil {
		return nil, fmt.Errorf("local provider is required")
	}
	if cfg.APIProvider == nil {
		return nil, fmt.Errorf("API provider is required")
	}
	if cfg.Cache == nil {
		return nil, fmt.Errorf("cache is required")
	}
	if cfg.Budget == nil {
		return nil, fmt.Errorf("budget tracker is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewLogger("embedding.hybrid")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewNoopMetricsClient()
	}

	return &HybridService{
		local:  cfg.LocalProvider,
		api:    cfg.APIProvider,
		router: NewRouter(cfg.Router),
		budget: cfg.Budget,
		cache:  cfg.Cache,
		breakers: map[ProviderID]*CircuitBreaker{
			ProviderLocal: NewCircuitBreaker(cfg.BreakerThreshold, cfg.BreakerCoolDown),
			ProviderAPI:   NewCircuitBreaker(cfg.BreakerThreshold, cfg.BreakerCoolDown),
		},
		latency:       NewLatencyTracker(0),
		shadow:        cfg.Comparator,
		shadowEnabled: cfg.ShadowModeEnabled && cfg.Comparator != nil,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
	}, nil
}

// Embed turns one text into a vector. Callers receive either a valid vector
// or a single explicit error; never a partial or zero-filled substitute.
func (s *HybridService) Embed(ctx context.Context, req EmbeddingRequest) (EmbeddingResult, error) {
	if req.Text == "" {
		return EmbeddingResult{}, ErrEmptyText
	}

	requestID := uuid.NewString()
	start := time.Now()
	s.metrics.IncrementCounter("embed_requests_total", 1)

	decision := s.router.Decide(req, s.budget.Snapshot(), s.healthSnapshot())

	key := s.cacheKey(req.Text, decision.Provider)
	if entry, ok := s.cache.Get(ctx, key); ok {
		s.metrics.IncrementCounter("embed_cache_hits_total", 1)
		return EmbeddingResult{
			Vector:   entry.Vector,
			Provider: ProviderID(entry.Provider),
			Model:    entry.Model,
			Cached:   true,
		}, nil
	}

	result, err := s.embedWithFallback(ctx, decision, []string{req.Text})
	if err != nil {
		s.metrics.IncrementCounter("embed_failures_total", 1)
		s.logger.Error("Embedding failed on both providers", map[string]interface{}{
			"request_id": requestID,
			"context":    string(req.Context),
			"error":      err.Error(),
		})
		return EmbeddingResult{}, err
	}
	primary := result[0]

	s.writeThrough(req.Text, primary)
	s.maybeShadow(req, primary)

	s.metrics.IncrementCounterWithLabels("embed_provider_total", 1,
		map[string]string{"provider": string(primary.Provider)})
	s.metrics.RecordLatency("embed", time.Since(start))

	s.logger.Debug("Embedding served", map[string]interface{}{
		"request_id": requestID,
		"provider":   string(primary.Provider),
		"reason":     decision.Reason,
		"latency_ms": primary.LatencyMs,
	})
	return primary, nil
}

// EmbedBatch embeds many texts with one routing decision, resolving cache
// hits per text and embedding only the misses in a single provider call.
// Results preserve input order.
func (s *HybridService) EmbedBatch(ctx context.Context, texts []string, reqContext RequestContext) ([]EmbeddingResult, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for _, t := range texts {
		if t == "" {
			return nil, ErrEmptyText
		}
	}

	req := EmbeddingRequest{
		Text:      texts[0],
		Context:   reqContext,
		BatchSize: len(texts),
	}
	// One private text pins the whole batch local, the same way a sensitive
	// context applies batch-wide; the router sees the matching text
	for _, text := range texts {
		if ContainsPII(text) {
			req.Text = text
			break
		}
	}
	decision := s.router.Decide(req, s.budget.Snapshot(), s.healthSnapshot())

	results := make([]EmbeddingResult, len(texts))
	var missTexts []string
	var missIdx []int

	for i, text := range texts {
		key := s.cacheKey(text, decision.Provider)
		if entry, ok := s.cache.Get(ctx, key); ok {
			results[i] = EmbeddingResult{
				Vector:   entry.Vector,
				Provider: ProviderID(entry.Provider),
				Model:    entry.Model,
				Cached:   true,
			}
			continue
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}
	s.metrics.IncrementCounter("embed_batch_requests_total", 1)
	s.metrics.IncrementCounter("embed_cache_hits_total", float64(len(texts)-len(missTexts)))

	if len(missTexts) == 0 {
		return results, nil
	}

	embedded, err := s.embedWithFallback(ctx, decision, missTexts)
	if err != nil {
		s.metrics.IncrementCounter("embed_failures_total", 1)
		return nil, err
	}
	for j, r := range embedded {
		results[missIdx[j]] = r
		s.writeThrough(missTexts[j], r)
	}
	return results, nil
}

// Warm precomputes entries for the domain vocabulary to shorten the
// cold-start tail. Runs synchronously; callers usually invoke it from a
// startup goroutine.
func (s *HybridService) Warm(ctx context.Context, terms []string) {
	warmer := embcache.NewWarmer(terms, 4, s.logger.WithPrefix("embedding.warmer"))
	warmer.Warm(ctx, func(ctx context.Context, term string) error {
		_, err := s.Embed(ctx, EmbeddingRequest{Text: term, Context: ContextBatch})
		return err
	})
}

// embedWithFallback invokes the decided provider and, on failure, tries the
// alternate exactly once before surfacing ErrEmbeddingUnavailable
func (s *HybridService) embedWithFallback(ctx context.Context, decision RoutingDecision, texts []string) ([]EmbeddingResult, error) {
	primaryErr := error(nil)

	results, err := s.callProvider(ctx, decision.Provider, texts)
	if err == nil {
		return results, nil
	}
	primaryErr = err

	fallback := decision.Provider.Other()
	s.metrics.IncrementCounter("embed_fallbacks_total", 1)
	s.logger.Warn("Primary provider failed, falling back", map[string]interface{}{
		"primary":  string(decision.Provider),
		"fallback": string(fallback),
		"error":    err.Error(),
	})

	results, err = s.callProvider(ctx, fallback, texts)
	if err == nil {
		return results, nil
	}

	return nil, fmt.Errorf("%w: primary %s: %v; fallback %s: %v",
		ErrEmbeddingUnavailable, decision.Provider, primaryErr, fallback, err)
}

// callProvider performs one gated provider invocation: breaker admission,
// budget reservation for the API path, the call itself, then breaker,
// latency, and budget bookkeeping.
func (s *HybridService) callProvider(ctx context.Context, id ProviderID, texts []string) ([]EmbeddingResult, error) {
	provider := s.provider(id)
	breaker := s.breakers[id]

	if !breaker.Allow() {
		return nil, &ProviderError{
			Provider: id,
			Code:     CodeProviderUnavailable,
			Message:  "circuit breaker open",
		}
	}

	var reservation *Reservation
	if id == ProviderAPI {
		reservation = s.budget.Reserve(provider.EstimateCostUSD(texts))
		if reservation == nil {
			// A denial is not a provider failure; the breaker state is untouched
			return nil, fmt.Errorf("%w: reservation denied", ErrBudgetExceeded)
		}
	}

	start := time.Now()
	results, err := provider.Embed(ctx, texts)
	elapsed := time.Since(start)

	if err != nil {
		breaker.RecordFailure()
		s.budget.Release(reservation)
		return nil, err
	}

	breaker.RecordSuccess()
	if id == ProviderAPI {
		s.latency.Record(elapsed)
		actual := 0.0
		for _, r := range results {
			actual += r.CostUSD
		}
		s.budget.Commit(reservation, actual)
	}
	return results, nil
}

// writeThrough stores a fresh result in both cache tiers with the TTL that
// belongs to the provider that actually produced it
func (s *HybridService) writeThrough(text string, result EmbeddingResult) {
	ttl := s.router.cfg.LocalTTL
	if result.Provider == ProviderAPI {
		ttl = s.router.cfg.APITTL
	}
	s.cache.Put(embcache.Entry{
		Key:      s.cacheKey(text, result.Provider),
		Vector:   result.Vector,
		Provider: string(result.Provider),
		Model:    result.Model,
	}, ttl)
}

// maybeShadow runs the alternate provider on a detached goroutine and feeds
// the comparator. Its own error boundary guarantees nothing here — panics
// included — can reach the primary request path.
func (s *HybridService) maybeShadow(req EmbeddingRequest, primary EmbeddingResult) {
	if !s.shadowEnabled {
		return
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.metrics.IncrementCounter("shadow_failures", 1)
				s.logger.Error("Shadow run panicked", map[string]interface{}{
					"panic": fmt.Sprintf("%v", r),
				})
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		alternate := primary.Provider.Other()
		results, err := s.callProvider(ctx, alternate, []string{req.Text})
		if err != nil {
			s.logger.Debug("Shadow provider call failed", map[string]interface{}{
				"provider": string(alternate),
				"error":    err.Error(),
			})
			return
		}

		// Legacy is the API path during the migration; the local result is
		// the candidate under evaluation.
		legacy, candidate := primary, results[0]
		if primary.Provider == ProviderLocal {
			legacy, candidate = results[0], primary
		}
		s.shadow.CompareAsync(s.cacheKey(req.Text, primary.Provider), legacy, candidate)
	}()
}

func (s *HybridService) provider(id ProviderID) Provider {
	if id == ProviderAPI {
		return s.api
	}
	return s.local
}

func (s *HybridService) cacheKey(text string, id ProviderID) string {
	return embcache.Key(text, string(id), s.provider(id).Model())
}

// healthSnapshot captures current breaker and latency state for the router
func (s *HybridService) healthSnapshot() HealthSnapshot {
	return HealthSnapshot{
		APIBreakerState:   s.breakers[ProviderAPI].State(),
		LocalBreakerState: s.breakers[ProviderLocal].State(),
		APIP95LatencyMs:   s.latency.P95(),
	}
}

// Snapshots consumed by the ops API

// BreakerStatuses returns per-provider breaker status
func (s *HybridService) BreakerStatuses() map[ProviderID]BreakerStatus {
	return map[ProviderID]BreakerStatus{
		ProviderLocal: s.breakers[ProviderLocal].Status(),
		ProviderAPI:   s.breakers[ProviderAPI].Status(),
	}
}

// BudgetSnapshot returns the current daily budget window
func (s *HybridService) BudgetSnapshot() BudgetSnapshot {
	return s.budget.Snapshot()
}

// CacheStats returns cache effectiveness counters
func (s *HybridService) CacheStats() embcache.Stats {
	return s.cache.Stats()
}

// APILatencyP95 returns the rolling API latency percentile in milliseconds
func (s *HybridService) APILatencyP95() float64 {
	return s.latency.P95()
}
