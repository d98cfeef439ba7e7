package tools

import (
	"encoding/json"
	"net/mail"
)

// KBSearchArgs queries the project knowledge base.
type KBSearchArgs struct {
	Query       string `json:"query"`
	TopK        int    `json:"top_k"`
	TrustedOnly bool   `json:"trusted_only"`
}

// SummarizeArgs holds text for the deterministic summarizer.
type SummarizeArgs struct {
	Text string `json:"text"`
}

// CreateTodoArgs creates a task in the active project.
type CreateTodoArgs struct {
	Title   string `json:"title"`
	DueDate string `json:"due_date,omitempty"`
}

// ListTodosArgs has no fields; unknown keys are ignored like everywhere
// else.
type ListTodosArgs struct{}

// DraftEmailArgs drafts (never sends) an email.
type DraftEmailArgs struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// GitHubSearchArgs searches public repositories.
type GitHubSearchArgs struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

// WebhookPostArgs posts a JSON body to an allowlisted URL. The allowlist is
// enforced at execution time, not here, so a pending approval re-checks the
// policy in force when it finally runs.
type WebhookPostArgs struct {
	URL      string         `json:"url"`
	JSONBody map[string]any `json:"json_body"`
}

func decode(tool string, raw json.RawMessage, into any) error {
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return schemaErr(tool, "malformed arguments: %v", err)
	}
	return nil
}

func parseKBSearch(raw json.RawMessage) (any, error) {
	args := KBSearchArgs{TopK: 5}
	if err := decode(NameKBSearch, raw, &args); err != nil {
		return nil, err
	}
	if n := len(args.Query); n < 1 || n > 800 {
		return nil, schemaErr(NameKBSearch, "query must be 1-800 characters, got %d", n)
	}
	if args.TopK < 1 || args.TopK > 10 {
		return nil, schemaErr(NameKBSearch, "top_k must be 1-10, got %d", args.TopK)
	}
	return args, nil
}

func parseSummarize(raw json.RawMessage) (any, error) {
	var args SummarizeArgs
	if err := decode(NameSummarizeText, raw, &args); err != nil {
		return nil, err
	}
	if n := len(args.Text); n < 1 || n > 8000 {
		return nil, schemaErr(NameSummarizeText, "text must be 1-8000 characters, got %d", n)
	}
	return args, nil
}

func parseCreateTodo(raw json.RawMessage) (any, error) {
	var args CreateTodoArgs
	if err := decode(NameCreateTodo, raw, &args); err != nil {
		return nil, err
	}
	if n := len(args.Title); n < 1 || n > 200 {
		return nil, schemaErr(NameCreateTodo, "title must be 1-200 characters, got %d", n)
	}
	if len(args.DueDate) > 32 {
		return nil, schemaErr(NameCreateTodo, "due_date must be at most 32 characters")
	}
	return args, nil
}

func parseListTodos(raw json.RawMessage) (any, error) {
	var args ListTodosArgs
	if err := decode(NameListTodos, raw, &args); err != nil {
		return nil, err
	}
	return args, nil
}

func parseDraftEmail(raw json.RawMessage) (any, error) {
	var args DraftEmailArgs
	if err := decode(NameDraftEmail, raw, &args); err != nil {
		return nil, err
	}
	if _, err := mail.ParseAddress(args.To); err != nil {
		return nil, schemaErr(NameDraftEmail, "to is not a valid email address")
	}
	if n := len(args.Subject); n < 1 || n > 200 {
		return nil, schemaErr(NameDraftEmail, "subject must be 1-200 characters, got %d", n)
	}
	if n := len(args.Body); n < 1 || n > 4000 {
		return nil, schemaErr(NameDraftEmail, "body must be 1-4000 characters, got %d", n)
	}
	return args, nil
}

func parseGitHubSearch(raw json.RawMessage) (any, error) {
	args := GitHubSearchArgs{TopK: 5}
	if err := decode(NameGitHubRepoSearch, raw, &args); err != nil {
		return nil, err
	}
	if n := len(args.Query); n < 1 || n > 200 {
		return nil, schemaErr(NameGitHubRepoSearch, "query must be 1-200 characters, got %d", n)
	}
	if args.TopK < 1 || args.TopK > 10 {
		return nil, schemaErr(NameGitHubRepoSearch, "top_k must be 1-10, got %d", args.TopK)
	}
	return args, nil
}

func parseWebhookPost(raw json.RawMessage) (any, error) {
	var args WebhookPostArgs
	if err := decode(NameWebhookPost, raw, &args); err != nil {
		return nil, err
	}
	if n := len(args.URL); n < 6 || n > 400 {
		return nil, schemaErr(NameWebhookPost, "url must be 6-400 characters, got %d", n)
	}
	if args.JSONBody == nil {
		args.JSONBody = map[string]any{}
	}
	return args, nil
}
