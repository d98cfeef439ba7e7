package redact

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPII(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"ssn dashed", "my ssn is 123-45-6789 ok", "my ssn is [REDACTED_SSN] ok"},
		{"ssn spaced", "ssn 123 45 6789", "ssn [REDACTED_SSN]"},
		{"email", "mail me at jane.doe+x@example.co.uk please", "mail me at [REDACTED_EMAIL] please"},
		{"phone international", "call +1-555-123-4567 now", "call [REDACTED_PHONE] now"},
		{"clean text stays", "search the knowledge base", "search the knowledge base"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PII(tt.in))
		})
	}
}

func TestPIIMixed(t *testing.T) {
	got := PII("contact bob@corp.example or 555-123-4567")
	assert.NotContains(t, got, "bob@corp.example")
	assert.NotContains(t, got, "555-123-4567")
	assert.Contains(t, got, "[REDACTED_EMAIL]")
	assert.Contains(t, got, "[REDACTED_PHONE]")
}

func TestClamp(t *testing.T) {
	assert.Equal(t, "abc", Clamp("abc", 10))
	assert.Equal(t, "abc", Clamp("abc", 3))
	assert.Equal(t, "ab…", Clamp("abcd", 2))
	assert.Equal(t, "abcd", Clamp("abcd", 0)) // no budget → untouched
}

func TestSafeJSON(t *testing.T) {
	assert.Equal(t, `{"a":1}`, SafeJSON(map[string]int{"a": 1}))
	assert.Equal(t, `{"error":"non-serializable"}`, SafeJSON(func() {}))
}
