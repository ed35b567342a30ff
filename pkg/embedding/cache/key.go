// Package cache implements the two-tier embedding cache: a bounded
// in-process LRU (L1) in front of a persistent TTL-indexed store (L2).
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Entry is a cached embedding. Provider and model ride along so a hit can be
// cross-checked against the key it was stored under.
type Entry struct {
	Key       string    `json:"key"`
	Vector    []float32 `json:"vector"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the entry's TTL has elapsed
func (e Entry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// NormalizeText canonicalizes text before hashing: identical queries that
// differ only in case or whitespace share one cache slot
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// Key derives the deterministic cache key. Provider and model are part of
// the key, so switching backends or upgrading a model can never serve a
// vector computed by a different provider/model combination.
func Key(text, provider, model string) string {
	sum := sha256.Sum256([]byte(NormalizeText(text)))
	return "emb:" + provider + ":" + model + ":" + hex.EncodeToString(sum[:])
}

// keyMatches verifies an entry's provenance against the key it was fetched
// under; a mismatch means the store was corrupted or keys collided
func keyMatches(key string, e Entry) bool {
	return strings.HasPrefix(key, "emb:"+e.Provider+":"+e.Model+":")
}
