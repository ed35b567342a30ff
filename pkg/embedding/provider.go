package embedding

import (
	"context"
)

// Provider is the capability contract shared by the local and API backends.
// Embed returns one result per input text, in input order.
type Provider interface {
	// ID returns the provider's identity
	ID() ProviderID

	// Model returns the model identifier; it participates in cache keys so a
	// model change can never serve stale vectors
	Model() string

	// Dimensions returns the fixed output dimensionality
	Dimensions() int

	// Embed generates embeddings for the given texts. Failures are reported
	// as *ProviderError with codes PROVIDER_UNAVAILABLE or PROVIDER_TIMEOUT.
	Embed(ctx context.Context, texts []string) ([]EmbeddingResult, error)

	// EstimateCostUSD returns the projected cost of embedding the given texts,
	// used for budget reservation before the call is made
	EstimateCostUSD(texts []string) float64
}
