package embedding

import (
	"errors"
	"fmt"
)

// Sentinel errors for the subsystem's failure taxonomy
var (
	// ErrEmbeddingUnavailable means both the primary and fallback provider failed
	ErrEmbeddingUnavailable = errors.New("embedding unavailable: all providers failed")

	// ErrBudgetExceeded means a reservation against the daily API budget was denied
	ErrBudgetExceeded = errors.New("daily API budget exceeded")

	// ErrEmptyText rejects requests with no content to embed
	ErrEmptyText = errors.New("text must not be empty")
)

// Provider error codes
const (
	CodeProviderUnavailable = "PROVIDER_UNAVAILABLE"
	CodeProviderTimeout     = "PROVIDER_TIMEOUT"
	CodeBadRequest          = "BAD_REQUEST"
	CodeAuthFailed          = "AUTH_FAILED"
)

// ProviderError represents a failure from an embedding backend
type ProviderError struct {
	Provider    ProviderID `json:"provider"`
	Code        string     `json:"code"`
	Message     string     `json:"message"`
	StatusCode  int        `json:"status_code,omitempty"`
	IsRetryable bool       `json:"is_retryable"`
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider error [%s]: %s", e.Provider, e.Code, e.Message)
}

// IsProviderTimeout reports whether err is a provider timeout
func IsProviderTimeout(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Code == CodeProviderTimeout
}

// IsRetryable reports whether err is worth retrying against the same provider
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.IsRetryable
	}
	// Unclassified errors (network resets, etc.) are treated as transient
	return true
}
