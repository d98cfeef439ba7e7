package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gatekeep-io/gatekeep/internal/requestctx"
	"github.com/gatekeep-io/gatekeep/internal/retrieval"
)

func handleKBSearch(ctx context.Context, env Env, ident requestctx.Identity, args any) (map[string]any, error) {
	a := args.(KBSearchArgs)
	chunks, err := env.Store.ChunksForProject(ctx, ident.ProjectID)
	if err != nil {
		return nil, err
	}
	results := retrieval.TopK(a.Query, chunks, a.TopK, a.TrustedOnly)
	return map[string]any{
		"query":        a.Query,
		"top_k":        a.TopK,
		"trusted_only": a.TrustedOnly,
		"results":      results,
	}, nil
}

// handleSummarize keeps the first three sentences. Deliberately offline so
// summarization works with no planner configured.
func handleSummarize(ctx context.Context, env Env, ident requestctx.Identity, args any) (map[string]any, error) {
	a := args.(SummarizeArgs)
	flat := strings.ReplaceAll(strings.TrimSpace(a.Text), "\n", " ")

	var parts []string
	for _, p := range strings.Split(flat, ".") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) > 3 {
		parts = parts[:3]
	}
	summary := strings.Join(parts, ". ")
	if summary != "" && !strings.HasSuffix(summary, ".") {
		summary += "."
	}
	return map[string]any{
		"summary":     summary,
		"method":      "deterministic",
		"input_chars": len(flat),
	}, nil
}

func handleCreateTodo(ctx context.Context, env Env, ident requestctx.Identity, args any) (map[string]any, error) {
	a := args.(CreateTodoArgs)
	id, err := env.Store.AddTodo(ctx, ident.ProjectID, ident.Username, a.Title, a.DueDate)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"todo_id":  id,
		"title":    a.Title,
		"due_date": a.DueDate,
		"status":   "open",
	}, nil
}

func handleListTodos(ctx context.Context, env Env, ident requestctx.Identity, args any) (map[string]any, error) {
	todos, err := env.Store.ListTodosForUser(ctx, ident.ProjectID, ident.Username)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"count": len(todos),
		"todos": todos,
	}, nil
}

func handleDraftEmail(ctx context.Context, env Env, ident requestctx.Identity, args any) (map[string]any, error) {
	a := args.(DraftEmailArgs)
	return map[string]any{
		"to":      a.To,
		"subject": a.Subject,
		"body":    a.Body,
		"note":    "Draft only (not sent).",
	}, nil
}

func handleGitHubSearch(ctx context.Context, env Env, ident requestctx.Identity, args any) (map[string]any, error) {
	a := args.(GitHubSearchArgs)

	q := url.Values{}
	q.Set("q", a.Query)
	q.Set("per_page", strconv.Itoa(a.TopK))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		env.GitHubBase+"/search/repositories?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := env.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("github search: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("github search: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Items []struct {
			FullName    string `json:"full_name"`
			HTMLURL     string `json:"html_url"`
			Stars       int    `json:"stargazers_count"`
			Description string `json:"description"`
		} `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("github search: decoding response: %w", err)
	}

	items := body.Items
	if len(items) > a.TopK {
		items = items[:a.TopK]
	}
	results := make([]map[string]any, 0, len(items))
	for _, it := range items {
		results = append(results, map[string]any{
			"full_name":   it.FullName,
			"html_url":    it.HTMLURL,
			"stars":       it.Stars,
			"description": it.Description,
		})
	}
	return map[string]any{
		"query":   a.Query,
		"results": results,
		"note":    "GitHub public API (rate-limited).",
	}, nil
}

func handleWebhookPost(ctx context.Context, env Env, ident requestctx.Identity, args any) (map[string]any, error) {
	a := args.(WebhookPostArgs)

	u, err := url.Parse(a.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing webhook url: %w", err)
	}
	host := u.Hostname()
	if !env.Policy.WebhookHostAllowed(host) {
		return nil, fmt.Errorf("host %q not in allowlist", host)
	}

	payload, err := json.Marshal(a.JSONBody)
	if err != nil {
		return nil, fmt.Errorf("encoding webhook body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := env.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook post: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	preview := string(body)
	if len(preview) > 300 {
		preview = preview[:300] + "…"
	}
	return map[string]any{
		"status_code":      resp.StatusCode,
		"response_preview": preview,
	}, nil
}
