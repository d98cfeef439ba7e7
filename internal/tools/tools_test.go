package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatekeep-io/gatekeep/internal/policy"
	"github.com/gatekeep-io/gatekeep/internal/requestctx"
	"github.com/gatekeep-io/gatekeep/internal/store"
)

func testPolicy() *policy.Policy {
	return &policy.Policy{
		Webhook: policy.WebhookConfig{AllowlistHosts: []string{"hooks.example.com"}},
	}
}

func testEnv(t *testing.T) (Env, requestctx.Identity) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return NewEnv(s, testPolicy()), requestctx.Identity{Username: "alice", Role: "Analyst", ProjectID: 1}
}

func TestValidateBounds(t *testing.T) {
	reg := NewRegistry(testPolicy())

	cases := []struct {
		name string
		tool string
		raw  string
		ok   bool
	}{
		{"kb_search ok", NameKBSearch, `{"query":"safety"}`, true},
		{"kb_search empty query", NameKBSearch, `{"query":""}`, false},
		{"kb_search long query", NameKBSearch, `{"query":"` + strings.Repeat("q", 801) + `"}`, false},
		{"kb_search top_k high", NameKBSearch, `{"query":"x","top_k":11}`, false},
		{"kb_search top_k low", NameKBSearch, `{"query":"x","top_k":0}`, false},
		{"summarize ok", NameSummarizeText, `{"text":"hello."}`, true},
		{"summarize too long", NameSummarizeText, `{"text":"` + strings.Repeat("a", 8001) + `"}`, false},
		{"summarize empty", NameSummarizeText, `{"text":""}`, false},
		{"todo ok", NameCreateTodo, `{"title":"review"}`, true},
		{"todo long title", NameCreateTodo, `{"title":"` + strings.Repeat("t", 201) + `"}`, false},
		{"todo long due date", NameCreateTodo, `{"title":"x","due_date":"` + strings.Repeat("d", 33) + `"}`, false},
		{"list_todos empty args", NameListTodos, `{}`, true},
		{"email ok", NameDraftEmail, `{"to":"a@example.com","subject":"hi","body":"text"}`, true},
		{"email bad address", NameDraftEmail, `{"to":"not-an-email","subject":"hi","body":"text"}`, false},
		{"email empty body", NameDraftEmail, `{"to":"a@example.com","subject":"hi","body":""}`, false},
		{"github ok", NameGitHubRepoSearch, `{"query":"zerolog"}`, true},
		{"github long query", NameGitHubRepoSearch, `{"query":"` + strings.Repeat("g", 201) + `"}`, false},
		{"webhook ok", NameWebhookPost, `{"url":"https://hooks.example.com/x"}`, true},
		{"webhook short url", NameWebhookPost, `{"url":"a://b"}`, false},
		{"unknown tool", "no_such_tool", `{}`, false},
		{"malformed json", NameKBSearch, `{"query":`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := reg.Validate(tc.tool, json.RawMessage(tc.raw))
			if tc.ok {
				assert.NoError(t, err)
			} else {
				var se *SchemaError
				assert.ErrorAs(t, err, &se)
			}
		})
	}
}

func TestValidateDefaults(t *testing.T) {
	reg := NewRegistry(testPolicy())

	args, err := reg.Validate(NameKBSearch, json.RawMessage(`{"query":"safety"}`))
	require.NoError(t, err)
	assert.Equal(t, 5, args.(KBSearchArgs).TopK)

	args, err = reg.Validate(NameWebhookPost, json.RawMessage(`{"url":"https://hooks.example.com/x"}`))
	require.NoError(t, err)
	assert.NotNil(t, args.(WebhookPostArgs).JSONBody)
}

func TestPolicyOverridesApplyAtRegistration(t *testing.T) {
	yes := true
	p := testPolicy()
	p.Tools = map[string]policy.ToolRule{
		NameDraftEmail: {Risk: policy.RiskHigh, RequiresApproval: &yes},
	}
	reg := NewRegistry(p)

	spec, ok := reg.Spec(NameDraftEmail)
	require.True(t, ok)
	assert.Equal(t, policy.RiskHigh, spec.Risk)
	assert.True(t, spec.RequiresApproval)

	// untouched tools keep their defaults
	spec, _ = reg.Spec(NameKBSearch)
	assert.Equal(t, policy.RiskLow, spec.Risk)
	assert.False(t, spec.RequiresApproval)
}

func TestSpecsOrderStable(t *testing.T) {
	reg := NewRegistry(testPolicy())
	specs := reg.Specs()
	require.Len(t, specs, 7)
	assert.Equal(t, NameKBSearch, specs[0].Name)
	assert.Equal(t, NameWebhookPost, specs[6].Name)
}

func TestKBSearchHandler(t *testing.T) {
	env, ident := testEnv(t)
	ctx := context.Background()
	reg := NewRegistry(env.Policy)

	doc := store.KBDoc{DocID: "d1", ProjectID: 1, Title: "Safety", TrustLevel: "trusted"}
	require.NoError(t, env.Store.UpsertKBDoc(ctx, doc, []string{"tool calling safety guidance"}))

	args, err := reg.Validate(NameKBSearch, json.RawMessage(`{"query":"safety"}`))
	require.NoError(t, err)
	out, err := reg.Execute(ctx, NameKBSearch, args, env, ident)
	require.NoError(t, err)
	assert.Equal(t, "safety", out["query"])
	assert.NotEmpty(t, out["results"])
}

func TestSummarizeHandlerFirstThreeSentences(t *testing.T) {
	env, ident := testEnv(t)
	reg := NewRegistry(env.Policy)

	args, err := reg.Validate(NameSummarizeText,
		json.RawMessage(`{"text":"One. Two.\nThree. Four. Five."}`))
	require.NoError(t, err)
	out, err := reg.Execute(context.Background(), NameSummarizeText, args, env, ident)
	require.NoError(t, err)
	assert.Equal(t, "One. Two. Three.", out["summary"])
	assert.Equal(t, "deterministic", out["method"])
}

func TestTodoHandlers(t *testing.T) {
	env, ident := testEnv(t)
	ctx := context.Background()
	reg := NewRegistry(env.Policy)

	args, err := reg.Validate(NameCreateTodo, json.RawMessage(`{"title":"ship release","due_date":"2026-09-15"}`))
	require.NoError(t, err)
	out, err := reg.Execute(ctx, NameCreateTodo, args, env, ident)
	require.NoError(t, err)
	assert.Equal(t, "open", out["status"])

	args, err = reg.Validate(NameListTodos, nil)
	require.NoError(t, err)
	out, err = reg.Execute(ctx, NameListTodos, args, env, ident)
	require.NoError(t, err)
	assert.Equal(t, 1, out["count"])
}

func TestDraftEmailHandlerNeverSends(t *testing.T) {
	env, ident := testEnv(t)
	reg := NewRegistry(env.Policy)

	args, err := reg.Validate(NameDraftEmail,
		json.RawMessage(`{"to":"a@example.com","subject":"status","body":"all green"}`))
	require.NoError(t, err)
	out, err := reg.Execute(context.Background(), NameDraftEmail, args, env, ident)
	require.NoError(t, err)
	assert.Equal(t, "Draft only (not sent).", out["note"])
}

func TestGitHubSearchHandler(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search/repositories", r.URL.Path)
		assert.Equal(t, "zerolog", r.URL.Query().Get("q"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"items":[{"full_name":"rs/zerolog","html_url":"https://github.com/rs/zerolog","stargazers_count":9000,"description":"logging"}]}`))
	}))
	defer srv.Close()

	env, ident := testEnv(t)
	env.GitHubBase = srv.URL
	reg := NewRegistry(env.Policy)

	args, err := reg.Validate(NameGitHubRepoSearch, json.RawMessage(`{"query":"zerolog","top_k":3}`))
	require.NoError(t, err)
	out, err := reg.Execute(context.Background(), NameGitHubRepoSearch, args, env, ident)
	require.NoError(t, err)
	results := out["results"].([]map[string]any)
	require.Len(t, results, 1)
	assert.Equal(t, "rs/zerolog", results[0]["full_name"])
}

func TestWebhookPostBlocksDisallowedHost(t *testing.T) {
	env, ident := testEnv(t)
	reg := NewRegistry(env.Policy)

	args, err := reg.Validate(NameWebhookPost,
		json.RawMessage(`{"url":"https://evil.example.org/hook"}`))
	require.NoError(t, err)

	_, err = reg.Execute(context.Background(), NameWebhookPost, args, env, ident)
	var ee *ExecError
	require.ErrorAs(t, err, &ee)
	assert.Contains(t, ee.Error(), "not in allowlist")
}

func TestWebhookPostAllowedHost(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte("received"))
	}))
	defer srv.Close()

	env, ident := testEnv(t)
	host := strings.TrimPrefix(srv.URL, "http://")
	host = strings.Split(host, ":")[0]
	env.Policy.Webhook.AllowlistHosts = []string{host}
	reg := NewRegistry(env.Policy)

	args, err := reg.Validate(NameWebhookPost,
		json.RawMessage(`{"url":"`+srv.URL+`/hook","json_body":{"msg":"hi"}}`))
	require.NoError(t, err)
	out, err := reg.Execute(context.Background(), NameWebhookPost, args, env, ident)
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, out["status_code"])
	assert.Equal(t, "received", out["response_preview"])
	assert.Equal(t, "hi", got["msg"])
}

func TestWebhookPostEmptyAllowlistBlocksEverything(t *testing.T) {
	env, ident := testEnv(t)
	env.Policy.Webhook.AllowlistHosts = nil
	reg := NewRegistry(env.Policy)

	args, err := reg.Validate(NameWebhookPost,
		json.RawMessage(`{"url":"https://hooks.example.com/x"}`))
	require.NoError(t, err)
	_, err = reg.Execute(context.Background(), NameWebhookPost, args, env, ident)
	assert.Error(t, err)
}
