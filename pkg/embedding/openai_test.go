package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsage/finsage/pkg/observability"
)

func newTestAPIProvider(t *testing.T, endpoint string) *APIProvider {
	t.Helper()
	p, err := NewAPIProvider(APIProviderConfig{
		APIKey:             "test-key",
		Endpoint:           endpoint,
		Model:              "text-embedding-3-small",
		Dimensions:         4,
		CostPer1MTokensUSD: 0.02,
		RequestTimeout:     2 * time.Second,
		MaxRetries:         3,
		RetryBaseDelay:     time.Millisecond,
	}, observability.NewNopLogger())
	require.NoError(t, err)
	return p
}

func embeddingsResponse(inputs int, tokens int) map[string]any {
	data := make([]map[string]any, inputs)
	for i := range data {
		data[i] = map[string]any{
			"embedding": []float32{0.1, 0.2, 0.3, 0.4},
			"index":     i,
		}
	}
	return map[string]any{
		"data":  data,
		"model": "text-embedding-3-small",
		"usage": map[string]int{"prompt_tokens": tokens, "total_tokens": tokens},
	}
}

func TestAPIProviderRequiresKey(t *testing.T) {
	_, err := NewAPIProvider(APIProviderConfig{}, nil)
	assert.Error(t, err)
}

func TestAPIProviderEmbed(t *testing.T) {
	var gotAuth string
	var gotBody apiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(embeddingsResponse(len(gotBody.Input), 1000))
	}))
	defer srv.Close()

	p := newTestAPIProvider(t, srv.URL)
	results, err := p.Embed(context.Background(), []string{"roth ira", "index funds"})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, []string{"roth ira", "index funds"}, gotBody.Input)
	assert.Equal(t, ProviderAPI, results[0].Provider)
	assert.Len(t, results[0].Vector, 4)

	// 1000 tokens at $0.02/1M, split across two inputs
	assert.InDelta(t, 0.00001, results[0].CostUSD, 1e-9)
	assert.InDelta(t, 0.00001, results[1].CostUSD, 1e-9)
}

func TestAPIProviderRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(embeddingsResponse(1, 10))
	}))
	defer srv.Close()

	p := newTestAPIProvider(t, srv.URL)
	results, err := p.Embed(context.Background(), []string{"hello"})
	require.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Equal(t, int32(2), calls.Load())
}

func TestAPIProviderRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(embeddingsResponse(1, 10))
	}))
	defer srv.Close()

	p := newTestAPIProvider(t, srv.URL)
	_, err := p.Embed(context.Background(), []string{"hello"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestAPIProviderDoesNotRetryBadRequest(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"input too long"}}`))
	}))
	defer srv.Close()

	p := newTestAPIProvider(t, srv.URL)
	_, err := p.Embed(context.Background(), []string{"hello"})
	require.Error(t, err)

	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, CodeBadRequest, pe.Code)
	assert.Equal(t, "input too long", pe.Message)
	assert.False(t, pe.IsRetryable)
	assert.Equal(t, int32(1), calls.Load(), "4xx must not be retried")
}

func TestAPIProviderDoesNotRetryAuthFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := newTestAPIProvider(t, srv.URL)
	_, err := p.Embed(context.Background(), []string{"hello"})
	require.Error(t, err)

	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, CodeAuthFailed, pe.Code)
	assert.Equal(t, int32(1), calls.Load())
}

func TestAPIProviderBoundedRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := newTestAPIProvider(t, srv.URL) // MaxRetries 3
	_, err := p.Embed(context.Background(), []string{"hello"})
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.True(t, IsRetryable(err))
}

func TestAPIProviderTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_ = json.NewEncoder(w).Encode(embeddingsResponse(1, 10))
	}))
	defer srv.Close()

	p, err := NewAPIProvider(APIProviderConfig{
		APIKey:         "test-key",
		Endpoint:       srv.URL,
		RequestTimeout: 20 * time.Millisecond,
		MaxRetries:     1,
		RetryBaseDelay: time.Millisecond,
	}, observability.NewNopLogger())
	require.NoError(t, err)

	_, err = p.Embed(context.Background(), []string{"hello"})
	require.Error(t, err)
	assert.True(t, IsProviderTimeout(err))
}

func TestAPIProviderRejectsSparseResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Two inputs, one embedding returned
		_ = json.NewEncoder(w).Encode(embeddingsResponse(1, 10))
	}))
	defer srv.Close()

	p := newTestAPIProvider(t, srv.URL)
	_, err := p.Embed(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing embedding")
}

func TestAPIProviderEstimateCost(t *testing.T) {
	p := newTestAPIProvider(t, "http://unused")

	// 40 characters is ~10 tokens at $0.02/1M
	text := "0123456789012345678901234567890123456789"
	assert.InDelta(t, 10.0/1_000_000*0.02, p.EstimateCostUSD([]string{text}), 1e-12)
	assert.Equal(t, 0.0, p.EstimateCostUSD(nil))
}
