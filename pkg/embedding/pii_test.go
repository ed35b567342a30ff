package embedding

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContainsPII(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool
	}{
		{"ssn with dashes", "my ssn is 123-45-6789", true},
		{"ssn with spaces", "ssn 123 45 6789 on file", true},
		{"ssn without separators", "number 123456789 please", true},
		{"long account number", "card 4111111111111111 expired", true},
		{"email address", "send statements to jane.doe@example.com", true},
		{"routing number marker", "routing number: 021000021", true},
		{"account marker with short digits", "acct # 99881", true},
		{"plain finance question", "how much can I contribute to a roth ira", false},
		{"small numbers", "I saved 5000 dollars over 12 months", false},
		{"year mention", "retiring in 2030 with a pension", false},
		{"empty text", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ContainsPII(tt.text), "text: %q", tt.text)
		})
	}
}
