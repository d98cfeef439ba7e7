// Package firewall filters adversarial instruction-like lines out of
// retrieved evidence before it reaches the planner. Patterns come from the
// governance policy and are compiled once at construction; the policy
// loader has already rejected patterns that do not compile.
package firewall

import (
	"regexp"
	"strings"
)

// Firewall drops context lines matching any blocked-instruction pattern.
type Firewall struct {
	patterns []*regexp.Regexp
}

// New compiles the blocked-instruction patterns. Returns an error for a
// pattern that does not compile rather than skipping it: a silently ignored
// rule is worse than a loud startup failure.
func New(patterns []string) (*Firewall, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, re)
	}
	return &Firewall{patterns: compiled}, nil
}

// Detect reports whether the text matches any blocked pattern, and which.
func (f *Firewall) Detect(text string) (bool, []string) {
	var hits []string
	for _, re := range f.patterns {
		if re.MatchString(text) {
			hits = append(hits, re.String())
		}
	}
	return len(hits) > 0, hits
}

// Filter walks text line by line, dropping lines that match any blocked
// pattern. Surviving lines are rejoined in order; dropped lines are
// returned for the turn trace, never silently discarded.
func (f *Firewall) Filter(text string) (clean string, removed []string) {
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		if hit, _ := f.Detect(line); hit {
			removed = append(removed, line)
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n")), removed
}
