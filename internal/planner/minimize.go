package planner

import (
	"fmt"
	"regexp"
	"strings"
)

var entityRe = regexp.MustCompile(`\b[A-Z][a-zA-Z0-9_-]{2,}\b`)

// Intent is the minimizer's digest of a user message.
type Intent struct {
	Intent   string
	Entities string
	Snippet  string
}

// ExtractIntent classifies the message into a coarse intent and pulls out
// capitalized entity-like tokens. Used by data minimization so the external
// planner sees a digest instead of the raw message.
func ExtractIntent(text string) Intent {
	t := strings.TrimSpace(text)
	low := strings.ToLower(t)

	var intent string
	switch {
	case containsAny(low, "list my todos", "list todos", "show my tasks"):
		intent = "list_todos"
	case containsAny(low, "todo", "task", "remind", "to-do", "add task"):
		intent = "create_todo"
	case containsAny(low, "search", "find", "lookup", "knowledge base", "kb", "evidence"):
		intent = "kb_search"
	case containsAny(low, "summarize", "summary", "tl;dr"):
		intent = "summarize_text"
	case strings.Contains(low, "github"):
		intent = "github_repo_search"
	case strings.Contains(low, "email"):
		intent = "draft_email"
	default:
		intent = "general"
	}

	entities := entityRe.FindAllString(t, -1)
	if len(entities) > 12 {
		entities = entities[:12]
	}
	return Intent{
		Intent:   intent,
		Entities: strings.Join(entities, ", "),
		Snippet:  clip(t, 240),
	}
}

// Minimize renders the digest sent to the external planner in place of the
// user's full message.
func Minimize(userText string) string {
	d := ExtractIntent(userText)
	return fmt.Sprintf("Intent: %s\nEntities: %s\nUser snippet: %s", d.Intent, d.Entities, d.Snippet)
}
