// Package redact strips personally identifying patterns from text before it
// is persisted or forwarded to an external planner. The matcher set is
// deliberately fixed (SSN-like, email, phone-like): redaction is a floor,
// not a configurable feature, so a broken policy file can never turn it off.
package redact

import (
	"encoding/json"
	"regexp"
)

type pattern struct {
	re     *regexp.Regexp
	marker string
}

// Order matters: SSNs would otherwise match the phone pattern and get the
// wrong marker.
var patterns = []pattern{
	{regexp.MustCompile(`\b\d{3}[- ]?\d{2}[- ]?\d{4}\b`), "[REDACTED_SSN]"},
	{regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`), "[REDACTED_EMAIL]"},
	{regexp.MustCompile(`\b(?:\+?\d{1,3}[- ]?)?(?:\(?\d{2,4}\)?[- ]?)?\d{3,4}[- ]?\d{3,4}\b`), "[REDACTED_PHONE]"},
}

// PII rewrites SSN-like, email, and phone-like matches to redaction markers.
func PII(text string) string {
	out := text
	for _, p := range patterns {
		out = p.re.ReplaceAllString(out, p.marker)
	}
	return out
}

// Clamp truncates s to max characters, appending a truncation indicator
// when anything was cut.
func Clamp(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}

// SafeJSON serializes v for audit payloads and never fails: values that
// cannot be marshaled become a fixed error object rather than aborting the
// audit write.
func SafeJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return `{"error":"non-serializable"}`
	}
	return string(b)
}
