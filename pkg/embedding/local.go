package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/finsage/finsage/pkg/observability"
)

// LocalProviderConfig configures the in-process embedding model
type LocalProviderConfig struct {
	Model          string
	Dimensions     int
	MaxBatchSize   int
	MaxConcurrency int64
	ComputeTimeout time.Duration
}

// LocalProvider computes embeddings in process with a feature-hashing model:
// deterministic, zero marginal cost, bounded by CPU. The model table is
// lazy-initialized on first use, and a weighted semaphore keeps concurrent
// computations from starving other request goroutines.
type LocalProvider struct {
	cfg    LocalProviderConfig
	logger observability.Logger

	loadOnce sync.Once
	loadErr  error
	// seeds give each dimension family an independent hash stream
	seeds []uint64

	sem *semaphore.Weighted
}

// NewLocalProvider creates the provider; the model is not loaded until the
// first Embed call
func NewLocalProvider(cfg LocalProviderConfig, logger observability.Logger) *LocalProvider {
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = 384
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 32
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	if cfg.ComputeTimeout <= 0 {
		cfg.ComputeTimeout = 5 * time.Second
	}
	if cfg.Model == "" {
		cfg.Model = "finsage-minilm-v1"
	}
	if logger == nil {
		logger = observability.NewLogger("embedding.local")
	}
	return &LocalProvider{
		cfg:    cfg,
		logger: logger,
		sem:    semaphore.NewWeighted(cfg.MaxConcurrency),
	}
}

// ID returns the provider identity
func (p *LocalProvider) ID() ProviderID { return ProviderLocal }

// Model returns the model identifier
func (p *LocalProvider) Model() string { return p.cfg.Model }

// Dimensions returns the output dimensionality
func (p *LocalProvider) Dimensions() int { return p.cfg.Dimensions }

// EstimateCostUSD is always zero for local computation
func (p *LocalProvider) EstimateCostUSD(texts []string) float64 { return 0 }

// Embed computes embeddings for the given texts, batching internally
func (p *LocalProvider) Embed(ctx context.Context, texts []string) ([]EmbeddingResult, error) {
	if err := p.ensureLoaded(); err != nil {
		return nil, &ProviderError{
			Provider: ProviderLocal,
			Code:     CodeProviderUnavailable,
			Message:  "model load failed: " + err.Error(),
		}
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.ComputeTimeout)
	defer cancel()

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, &ProviderError{
			Provider:    ProviderLocal,
			Code:        CodeProviderTimeout,
			Message:     "compute slot not acquired: " + err.Error(),
			IsRetryable: true,
		}
	}
	defer p.sem.Release(1)

	start := time.Now()
	results := make([]EmbeddingResult, 0, len(texts))

	for base := 0; base < len(texts); base += p.cfg.MaxBatchSize {
		if ctx.Err() != nil {
			return nil, &ProviderError{
				Provider:    ProviderLocal,
				Code:        CodeProviderTimeout,
				Message:     "compute deadline exceeded",
				IsRetryable: true,
			}
		}
		end := base + p.cfg.MaxBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		for _, text := range texts[base:end] {
			vec := p.encode(text)
			results = append(results, EmbeddingResult{
				Vector:    vec,
				Provider:  ProviderLocal,
				Model:     p.cfg.Model,
				CostUSD:   0,
				LatencyMs: time.Since(start).Milliseconds(),
			})
		}
	}
	return results, nil
}

// ensureLoaded initializes the hash seed table once
func (p *LocalProvider) ensureLoaded() error {
	p.loadOnce.Do(func() {
		start := time.Now()
		seeds := make([]uint64, 4)
		h := fnv.New64a()
		for i := range seeds {
			h.Reset()
			_, _ = h.Write([]byte(p.cfg.Model))
			_, _ = h.Write([]byte{byte(i)})
			seeds[i] = h.Sum64()
		}
		p.seeds = seeds
		p.logger.Info("Local embedding model loaded", map[string]interface{}{
			"model":      p.cfg.Model,
			"dimensions": p.cfg.Dimensions,
			"load_ms":    time.Since(start).Milliseconds(),
		})
	})
	return p.loadErr
}

// encode maps text to an L2-normalized vector via signed feature hashing of
// unigrams and bigrams. Identical text always yields an identical vector.
func (p *LocalProvider) encode(text string) []float32 {
	vec := make([]float32, p.cfg.Dimensions)
	tokens := tokenize(text)

	emit := func(feature string, weight float32) {
		for _, seed := range p.seeds {
			h := fnv.New64a()
			_, _ = h.Write([]byte(feature))
			sum := h.Sum64() ^ seed
			idx := int(sum % uint64(p.cfg.Dimensions))
			sign := float32(1)
			if (sum>>63)&1 == 1 {
				sign = -1
			}
			vec[idx] += sign * weight
		}
	}

	for i, tok := range tokens {
		emit(tok, 1.0)
		if i+1 < len(tokens) {
			emit(tok+" "+tokens[i+1], 0.5)
		}
	}

	// L2 normalization so cosine similarity is a plain dot product downstream
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec
}

func tokenize(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,!?;:\"'()[]")
		if f != "" {
			tokens = append(tokens, f)
		}
	}
	return tokens
}
