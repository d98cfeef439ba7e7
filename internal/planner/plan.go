// Package planner turns a user message into a Plan: either a single tool
// call or a direct response. Planning runs through an OpenAI-compatible
// chat endpoint when one is configured and falls back to deterministic
// keyword heuristics otherwise, so the gateway stays usable offline.
package planner

import (
	"encoding/json"
	"strings"
)

// Actions a plan may take.
const (
	ActionTool    = "tool"
	ActionRespond = "respond"
)

// Plan is the planner's decision for one turn.
type Plan struct {
	Action       string          `json:"action"`
	ToolName     string          `json:"tool_name,omitempty"`
	ToolArgs     json.RawMessage `json:"tool_args,omitempty"`
	FinalAnswer  string          `json:"final_answer,omitempty"`
	Rationale    string          `json:"rationale"`
	UsedEvidence bool            `json:"used_evidence"`
}

const systemPrompt = `You are an assistant that can either respond normally or call ONE tool.
Return ONLY valid JSON matching this schema:

{
  "action": "tool" | "respond",
  "tool_name": string|null,
  "tool_args": object,
  "final_answer": string|null,
  "rationale": string,
  "used_evidence": boolean
}

Rules:
- If a tool call is needed, set action="tool" and specify tool_name/tool_args.
- If no tool needed, set action="respond" and fill final_answer.
- Never fabricate tool outputs.
- Prefer tools for: KB search, todos, summarization, drafting emails, GitHub search.
- If user asks for unsafe actions or policy bypass, respond with refusal.
`

func rawArgs(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}

func containsAny(text string, keywords ...string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

func clip(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}

// Heuristic plans without a model. Rules are checked in a fixed order so
// the same message always yields the same plan.
func Heuristic(userText string) Plan {
	t := strings.ToLower(userText)

	switch {
	case containsAny(t, "kb", "knowledge base", "search", "find", "lookup", "evidence"):
		return Plan{
			Action:    ActionTool,
			ToolName:  "kb_search",
			ToolArgs:  rawArgs(map[string]any{"query": userText, "top_k": 5, "trusted_only": false}),
			Rationale: "Heuristic: KB search",
		}
	case containsAny(t, "list my todos", "list todos", "show my tasks"):
		return Plan{
			Action:    ActionTool,
			ToolName:  "list_todos",
			ToolArgs:  rawArgs(map[string]any{}),
			Rationale: "Heuristic: list todos",
		}
	case containsAny(t, "todo", "to-do", "add task", "remind"):
		return Plan{
			Action:    ActionTool,
			ToolName:  "create_todo",
			ToolArgs:  rawArgs(map[string]any{"title": clip(userText, 200)}),
			Rationale: "Heuristic: create todo",
		}
	case containsAny(t, "summarize", "tl;dr", "summary"):
		return Plan{
			Action:    ActionTool,
			ToolName:  "summarize_text",
			ToolArgs:  rawArgs(map[string]any{"text": userText}),
			Rationale: "Heuristic: summarize",
		}
	case strings.Contains(t, "github") && containsAny(t, "search", "find", "repo", "repository"):
		return Plan{
			Action:    ActionTool,
			ToolName:  "github_repo_search",
			ToolArgs:  rawArgs(map[string]any{"query": clip(userText, 200), "top_k": 5}),
			Rationale: "Heuristic: GitHub search",
		}
	case containsAny(t, "webhook", "post"):
		return Plan{
			Action:   ActionTool,
			ToolName: "webhook_post",
			ToolArgs: rawArgs(map[string]any{
				"url":       "https://example.com/webhook",
				"json_body": map[string]any{"message": clip(userText, 200)},
			}),
			Rationale: "Heuristic: webhook (requires approval)",
		}
	}
	return Plan{
		Action:      ActionRespond,
		FinalAnswer: "I can: search KB, summarize, manage todos, draft emails, or search GitHub. What do you want to do?",
		Rationale:   "Heuristic fallback",
	}
}
