package cache

import (
	"context"
	"sync"
	"time"

	"github.com/finsage/finsage/pkg/observability"
)

// EmbedFunc embeds one term through the full service path, so warmed entries
// land in both tiers under the same keys live traffic will use
type EmbedFunc func(ctx context.Context, term string) error

// DefaultDomainVocabulary is the fixed personal-finance vocabulary warmed at
// startup to shorten the cold-start tail for common advisory queries.
var DefaultDomainVocabulary = []string{
	"401k contribution limit",
	"roth ira conversion",
	"traditional ira deduction",
	"required minimum distribution",
	"social security benefits",
	"capital gains tax",
	"tax loss harvesting",
	"emergency fund",
	"asset allocation",
	"dollar cost averaging",
	"estate planning basics",
	"revocable living trust",
	"beneficiary designation",
	"term life insurance",
	"long term care insurance",
	"529 college savings plan",
	"health savings account",
	"mortgage refinance",
	"debt avalanche method",
	"retirement income planning",
	"diversified portfolio",
	"expense ratio",
	"index fund investing",
	"compound interest",
	"net worth statement",
}

// Warmer precomputes embeddings for a fixed domain vocabulary
type Warmer struct {
	terms       []string
	concurrency int
	logger      observability.Logger
}

// NewWarmer creates a warmer over the given terms; nil terms selects the
// default finance vocabulary
func NewWarmer(terms []string, concurrency int, logger observability.Logger) *Warmer {
	if terms == nil {
		terms = DefaultDomainVocabulary
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	if logger == nil {
		logger = observability.NewLogger("embedding.cache.warmer")
	}
	return &Warmer{
		terms:       terms,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Warm embeds every term with bounded concurrency. Individual failures are
// logged and skipped; warming is an optimization, not a startup dependency.
func (w *Warmer) Warm(ctx context.Context, embed EmbedFunc) {
	start := time.Now()
	sem := make(chan struct{}, w.concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	warmed, failed := 0, 0

	for _, term := range w.terms {
		wg.Add(1)
		go func(term string) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}

			if err := embed(ctx, term); err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
				w.logger.Warn("Cache warm term failed", map[string]interface{}{
					"term":  term,
					"error": err.Error(),
				})
				return
			}
			mu.Lock()
			warmed++
			mu.Unlock()
		}(term)
	}
	wg.Wait()

	w.logger.Info("Cache warming completed", map[string]interface{}{
		"terms":       len(w.terms),
		"warmed":      warmed,
		"failed":      failed,
		"duration_ms": time.Since(start).Milliseconds(),
	})
}
