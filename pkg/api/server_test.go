package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsage/finsage/pkg/config"
	"github.com/finsage/finsage/pkg/embedding"
	embcache "github.com/finsage/finsage/pkg/embedding/cache"
	"github.com/finsage/finsage/pkg/observability"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeProvider implements embedding.Provider for endpoint tests
type fakeProvider struct {
	id   embedding.ProviderID
	fail bool
}

func (f *fakeProvider) ID() embedding.ProviderID { return f.id }
func (f *fakeProvider) Model() string            { return string(f.id) + "-model" }
func (f *fakeProvider) Dimensions() int          { return 4 }

func (f *fakeProvider) EstimateCostUSD(texts []string) float64 { return 0 }

func (f *fakeProvider) Embed(ctx context.Context, texts []string) ([]embedding.EmbeddingResult, error) {
	if f.fail {
		return nil, &embedding.ProviderError{Provider: f.id, Code: embedding.CodeProviderUnavailable}
	}
	results := make([]embedding.EmbeddingResult, len(texts))
	for i := range texts {
		results[i] = embedding.EmbeddingResult{
			Vector:   []float32{0.1, 0.2, 0.3, 0.4},
			Provider: f.id,
			Model:    f.Model(),
		}
	}
	return results, nil
}

type serverFixture struct {
	server     *Server
	local      *fakeProvider
	api        *fakeProvider
	comparator *embedding.Comparator
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()

	local := &fakeProvider{id: embedding.ProviderLocal}
	apiProvider := &fakeProvider{id: embedding.ProviderAPI}

	tiered, err := embcache.NewTieredCache(64, nil, observability.NewNopLogger(), nil)
	require.NoError(t, err)

	comparator := embedding.NewComparator(0.95, 10, observability.NewNopLogger(), nil)

	service, err := embedding.NewHybridService(&embedding.Config{
		LocalProvider: local,
		APIProvider:   apiProvider,
		Cache:         tiered,
		Budget:        embedding.NewBudgetTracker(5),
		Comparator:    comparator,
		Router: embedding.RouterConfig{
			HybridEnabled:              true,
			CostPer1MTokensUSD:         0.02,
			RealtimeLatencyThresholdMs: 500,
			BatchSizeThreshold:         64,
			APITTL:                     time.Hour,
			LocalTTL:                   time.Hour,
		},
		BreakerThreshold: 5,
		BreakerCoolDown:  30 * time.Second,
		Logger:           observability.NewNopLogger(),
	})
	require.NoError(t, err)

	server := NewServer(config.APIConfig{ListenAddress: ":0"}, service, comparator,
		observability.NewMetricsRegistry(), observability.NewNopLogger(), 0.95)

	return &serverFixture{server: server, local: local, api: apiProvider, comparator: comparator}
}

func (f *serverFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestEmbedEndpoint(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/embed", map[string]any{
		"text":    "roth conversion tradeoffs",
		"context": "quality",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var result embedding.EmbeddingResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, embedding.ProviderAPI, result.Provider)
	assert.Len(t, result.Vector, 4)
}

func TestEmbedEndpointRejectsMissingText(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/embed", map[string]any{"context": "quality"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEmbedEndpointRejectsUnknownContext(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/embed", map[string]any{
		"text":    "what is an etf",
		"context": "bogus",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown context")

	rec = f.do(t, http.MethodPost, "/api/v1/embed/batch", map[string]any{
		"texts":   []string{"what is an etf"},
		"context": "bogus",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEmbedEndpointOmittedContextDefaultsRealtime(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/embed", map[string]any{
		"text": "what is an etf",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var result embedding.EmbeddingResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, embedding.ProviderLocal, result.Provider)
}

func TestEmbedEndpointBothProvidersDown(t *testing.T) {
	f := newServerFixture(t)
	f.local.fail = true
	f.api.fail = true

	rec := f.do(t, http.MethodPost, "/api/v1/embed", map[string]any{
		"text":    "anything",
		"context": "quality",
	})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestEmbedBatchEndpoint(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/embed/batch", map[string]any{
		"texts":   []string{"emergency fund", "expense ratio"},
		"context": "batch",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Results []embedding.EmbeddingResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Results, 2)
}

func TestHealthEndpoint(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])

	providers, ok := body["providers"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, providers, "local")
	assert.Contains(t, providers, "api")
}

func TestHealthEndpointDegradedWhenBreakerOpen(t *testing.T) {
	f := newServerFixture(t)
	f.api.fail = true

	// Five quality requests trip the API breaker; each still succeeds locally
	for i := 0; i < 5; i++ {
		rec := f.do(t, http.MethodPost, "/api/v1/embed", map[string]any{
			"text":    "question " + string(rune('a'+i)),
			"context": "quality",
		})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/embed", map[string]any{
		"text":    "quality question",
		"context": "quality",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "cache")
	assert.Contains(t, body, "api_p95_latency_ms")
	assert.Contains(t, body, "cost_to_date_usd")
}

func TestAlertsEndpointEmptyByDefault(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodGet, "/alerts", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Active []Alert `json:"active"`
		Count  int     `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 0, body.Count)
	assert.Empty(t, body.Active)
}

func TestAlertsEndpointReportsOpenBreaker(t *testing.T) {
	f := newServerFixture(t)
	f.api.fail = true

	for i := 0; i < 5; i++ {
		f.do(t, http.MethodPost, "/api/v1/embed", map[string]any{
			"text":    "question " + string(rune('a'+i)),
			"context": "quality",
		})
	}

	rec := f.do(t, http.MethodGet, "/alerts", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Active []Alert `json:"active"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body.Active)
	assert.Equal(t, "breaker_open_api", body.Active[0].Name)
	assert.Equal(t, severityCritical, body.Active[0].Severity)
}

func TestProductionReadinessEndpoint(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodGet, "/production-readiness", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Report embedding.ReadinessReport `json:"report"`
		Stats  embedding.ShadowStats     `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Report.Ready, "no shadow samples collected yet")
	assert.NotEmpty(t, body.Report.Blockers)
}

func TestEvaluateAlertsBudget(t *testing.T) {
	alerts := evaluateAlerts(
		map[embedding.ProviderID]embedding.BreakerStatus{},
		embedding.BudgetSnapshot{LimitUSD: 5, SpentUSD: 4.75},
		embcache.Stats{},
		embedding.ShadowStats{},
		0.95,
	)
	require.Len(t, alerts, 1)
	assert.Equal(t, "budget_near_limit", alerts[0].Name)
	assert.Equal(t, severityWarning, alerts[0].Severity)
}

func TestEvaluateAlertsLowHitRate(t *testing.T) {
	alerts := evaluateAlerts(
		map[embedding.ProviderID]embedding.BreakerStatus{},
		embedding.BudgetSnapshot{LimitUSD: 5},
		embcache.Stats{L1Hits: 5, Misses: 95, HitRate: 0.05},
		embedding.ShadowStats{},
		0.95,
	)
	require.Len(t, alerts, 1)
	assert.Equal(t, "cache_hit_rate_low", alerts[0].Name)
}

func TestEvaluateAlertsShadowSimilarity(t *testing.T) {
	alerts := evaluateAlerts(
		map[embedding.ProviderID]embedding.BreakerStatus{},
		embedding.BudgetSnapshot{LimitUSD: 5},
		embcache.Stats{},
		embedding.ShadowStats{Comparisons: 50, AvgSimilarity: 0.8},
		0.95,
	)
	require.Len(t, alerts, 1)
	assert.Equal(t, "shadow_similarity_low", alerts[0].Name)
}
