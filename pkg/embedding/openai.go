package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/finsage/finsage/pkg/observability"
)

// APIProviderConfig configures the paid embedding API client
type APIProviderConfig struct {
	APIKey               string
	Endpoint             string
	Model                string
	Dimensions           int
	CostPer1MTokensUSD   float64
	RequestTimeout       time.Duration
	MaxRetries           int
	RetryBaseDelay       time.Duration
	MaxRequestsPerMinute int
}

// APIProvider calls an OpenAI-compatible embeddings endpoint. Transient
// failures (timeouts, 5xx, 429) are retried with exponential backoff; 4xx
// and auth errors are surfaced immediately. A client-side rate limiter keeps
// the service under the provider's request quota.
type APIProvider struct {
	cfg        APIProviderConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     observability.Logger
}

type apiRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type apiResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

type apiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code,omitempty"`
	} `json:"error"`
}

// NewAPIProvider creates a new API provider
func NewAPIProvider(cfg APIProviderConfig, logger observability.Logger) (*APIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = 1536
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 200 * time.Millisecond
	}
	if cfg.MaxRequestsPerMinute <= 0 {
		cfg.MaxRequestsPerMinute = 300
	}
	if logger == nil {
		logger = observability.NewLogger("embedding.api")
	}

	return &APIProvider{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(float64(cfg.MaxRequestsPerMinute)/60.0), cfg.MaxRequestsPerMinute/10+1),
		logger:  logger,
	}, nil
}

// ID returns the provider identity
func (p *APIProvider) ID() ProviderID { return ProviderAPI }

// Model returns the model identifier
func (p *APIProvider) Model() string { return p.cfg.Model }

// Dimensions returns the output dimensionality
func (p *APIProvider) Dimensions() int { return p.cfg.Dimensions }

// EstimateCostUSD projects the cost of embedding the given texts
func (p *APIProvider) EstimateCostUSD(texts []string) float64 {
	tokens := 0
	for _, t := range texts {
		tokens += estimateTokens(t)
	}
	return float64(tokens) / 1_000_000 * p.cfg.CostPer1MTokensUSD
}

// Embed generates embeddings via the API with bounded retries
func (p *APIProvider) Embed(ctx context.Context, texts []string) ([]EmbeddingResult, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, &ProviderError{
			Provider:    ProviderAPI,
			Code:        CodeProviderTimeout,
			Message:     "rate limiter wait aborted: " + err.Error(),
			IsRetryable: true,
		}
	}

	start := time.Now()

	var resp *apiResponse
	operation := func() error {
		var err error
		resp, err = p.doRequest(ctx, apiRequest{Input: texts, Model: p.cfg.Model})
		if err == nil {
			return nil
		}
		var pe *ProviderError
		if errors.As(err, &pe) && !pe.IsRetryable {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = p.cfg.RetryBaseDelay
	policy.Multiplier = 2
	policy.MaxElapsedTime = 0 // bounded by retry count and context, not wall clock

	err := backoff.Retry(operation, backoff.WithContext(
		backoff.WithMaxRetries(policy, uint64(p.cfg.MaxRetries-1)), ctx))
	if err != nil {
		var pe *ProviderError
		if errors.As(err, &pe) {
			return nil, pe
		}
		return nil, p.classifyTransport(err)
	}

	latencyMs := time.Since(start).Milliseconds()
	totalCost := float64(resp.Usage.TotalTokens) / 1_000_000 * p.cfg.CostPer1MTokensUSD
	perResultCost := totalCost / float64(len(texts))

	results := make([]EmbeddingResult, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(results) {
			return nil, &ProviderError{
				Provider: ProviderAPI,
				Code:     CodeProviderUnavailable,
				Message:  fmt.Sprintf("response index %d out of range", d.Index),
			}
		}
		results[d.Index] = EmbeddingResult{
			Vector:    d.Embedding,
			Provider:  ProviderAPI,
			Model:     resp.Model,
			CostUSD:   perResultCost,
			LatencyMs: latencyMs,
		}
	}
	for i := range results {
		if results[i].Vector == nil {
			return nil, &ProviderError{
				Provider: ProviderAPI,
				Code:     CodeProviderUnavailable,
				Message:  fmt.Sprintf("missing embedding for input %d", i),
			}
		}
	}
	return results, nil
}

func (p *APIProvider) doRequest(ctx context.Context, reqBody apiRequest) (*apiResponse, error) {
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint+"/embeddings", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	httpResp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, p.classifyTransport(err)
	}
	defer func() {
		_ = httpResp.Body.Close()
	}()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &ProviderError{
			Provider:    ProviderAPI,
			Code:        CodeProviderUnavailable,
			Message:     "failed to read response: " + err.Error(),
			IsRetryable: true,
		}
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, p.classifyStatus(httpResp.StatusCode, body)
	}

	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &ProviderError{
			Provider: ProviderAPI,
			Code:     CodeProviderUnavailable,
			Message:  "failed to parse response: " + err.Error(),
		}
	}
	if len(resp.Data) == 0 {
		return nil, &ProviderError{
			Provider: ProviderAPI,
			Code:     CodeProviderUnavailable,
			Message:  "no embedding data in response",
		}
	}
	return &resp, nil
}

// classifyTransport maps network-level failures into the error taxonomy
func (p *APIProvider) classifyTransport(err error) *ProviderError {
	if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
		return &ProviderError{
			Provider:    ProviderAPI,
			Code:        CodeProviderTimeout,
			Message:     err.Error(),
			IsRetryable: true,
		}
	}
	return &ProviderError{
		Provider:    ProviderAPI,
		Code:        CodeProviderUnavailable,
		Message:     err.Error(),
		IsRetryable: true,
	}
}

// classifyStatus maps HTTP status codes into the error taxonomy: 5xx and 429
// are transient, 401/403 are auth failures, remaining 4xx are bad requests
func (p *APIProvider) classifyStatus(status int, body []byte) *ProviderError {
	message := string(body)
	var errResp apiErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &ProviderError{
			Provider:   ProviderAPI,
			Code:       CodeAuthFailed,
			Message:    message,
			StatusCode: status,
		}
	case status == http.StatusTooManyRequests || status >= 500:
		return &ProviderError{
			Provider:    ProviderAPI,
			Code:        CodeProviderUnavailable,
			Message:     message,
			StatusCode:  status,
			IsRetryable: true,
		}
	default:
		return &ProviderError{
			Provider:   ProviderAPI,
			Code:       CodeBadRequest,
			Message:    message,
			StatusCode: status,
		}
	}
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
