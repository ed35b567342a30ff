package embedding

import (
	"regexp"
)

// PII heuristics for financial text. Anything matching must never leave the
// process, so the router forces such requests onto the local provider.
// The patterns deliberately favor false positives over leaks.
var piiPatterns = []*regexp.Regexp{
	// Social security numbers, with or without separators
	regexp.MustCompile(`\b\d{3}[-\s]?\d{2}[-\s]?\d{4}\b`),
	// Account / card numbers: 8+ consecutive digits
	regexp.MustCompile(`\b\d{8,}\b`),
	// Email addresses
	regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`),
	// Routing-number style "ABA 123456789" markers
	regexp.MustCompile(`(?i)\b(?:aba|routing|acct|account)\s*(?:number|no\.?|#)?\s*[:\-]?\s*\d{4,}`),
}

// ContainsPII reports whether text matches any of the PII heuristics
func ContainsPII(text string) bool {
	for _, p := range piiPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}
