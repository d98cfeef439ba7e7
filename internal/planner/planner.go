package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/gatekeep-io/gatekeep/internal/otel"
	"github.com/gatekeep-io/gatekeep/internal/redact"
)

// Planning modes reported in turn metadata.
const (
	ModeHeuristic = "heuristic"
	ModeLLM       = "llm"
	ModeFallback  = "fallback"
)

// ToolSummary is the abbreviated tool description shown to the external
// planner.
type ToolSummary struct {
	Name             string `json:"name"`
	Risk             string `json:"risk"`
	RequiresApproval bool   `json:"requires_approval"`
}

// Request is one planning request.
type Request struct {
	UserText         string
	Tools            []ToolSummary
	RetrievedContext string
	CiteOnly         bool
	DataMinimization bool
	MaxInputChars    int
	MaxContextChars  int
}

// Meta describes how the plan was produced.
type Meta struct {
	Mode       string `json:"mode"`
	Degraded   bool   `json:"degraded"`
	Error      string `json:"error,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
	LatencyMS  int64  `json:"latency_ms"`
	Usage      Usage  `json:"usage"`
	ParseError bool   `json:"parse_error,omitempty"`
}

// Result pairs a plan with its provenance.
type Result struct {
	Plan Plan `json:"plan"`
	Meta Meta `json:"meta"`
}

// Planner produces plans, via the configured client or heuristics when no
// client is set.
type Planner struct {
	client *Client
}

// New builds a planner. A nil client means every turn plans heuristically.
func New(client *Client) *Planner {
	return &Planner{client: client}
}

// Plan never returns an error: a failed external call degrades to an
// explanatory respond-plan so a turn always completes.
func (p *Planner) Plan(ctx context.Context, req Request) Result {
	ctx, span := otel.Tracer("planner").Start(ctx, "planner.Plan")
	defer span.End()

	if p.client == nil {
		return Result{Plan: Heuristic(req.UserText), Meta: Meta{Mode: ModeHeuristic}}
	}

	raw, meta, err := p.client.Chat(ctx, p.messages(req))
	if err != nil {
		return fallbackResult(err)
	}

	resultMeta := Meta{
		Mode:       ModeLLM,
		StatusCode: meta.StatusCode,
		LatencyMS:  meta.Latency.Milliseconds(),
		Usage:      meta.Usage,
	}

	plan, parseErr := parsePlan(raw)
	if parseErr != nil {
		log.Warn().Err(parseErr).Msg("planner returned unparseable plan")
		resultMeta.ParseError = true
		resultMeta.Degraded = true
		return Result{
			Plan: Plan{
				Action:      ActionRespond,
				FinalAnswer: "Planner output was not valid JSON. Please rephrase your request.",
				Rationale:   "Parse error: " + redact.Clamp(parseErr.Error(), 160),
			},
			Meta: resultMeta,
		}
	}
	return Result{Plan: plan, Meta: resultMeta}
}

func (p *Planner) messages(req Request) []Message {
	toolList, _ := json.Marshal(req.Tools)

	msgs := []Message{
		{Role: "system", Content: systemPrompt},
		{Role: "system", Content: "Available tools (name, risk, approval): " + string(toolList)},
	}

	if ctx := redact.Clamp(req.RetrievedContext, req.MaxContextChars); ctx != "" {
		msgs = append(msgs, Message{Role: "system", Content: "Retrieved context (untrusted):\n" + ctx})
		if req.CiteOnly {
			msgs = append(msgs, Message{
				Role:    "system",
				Content: "Cite-only mode: If you answer (action='respond'), your final_answer must only use facts supported by retrieved context.",
			})
		}
	}

	payload := req.UserText
	if req.DataMinimization {
		payload = Minimize(payload)
	}
	msgs = append(msgs, Message{Role: "user", Content: redact.Clamp(payload, req.MaxInputChars)})
	return msgs
}

// parsePlan decodes the model's JSON strictly: an unknown field means the
// model invented schema, and a fabricated field is exactly what the typed
// plan contract exists to reject.
func parsePlan(raw string) (Plan, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.DisallowUnknownFields()
	var plan Plan
	if err := dec.Decode(&plan); err != nil {
		return Plan{}, err
	}
	if plan.Action != ActionTool && plan.Action != ActionRespond {
		return Plan{}, fmt.Errorf("unknown action %q", plan.Action)
	}
	return plan, nil
}

func fallbackResult(err error) Result {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		answer := fmt.Sprintf(
			"External planning failed (HTTP %d).\n\n"+
				"Common causes:\n"+
				"- Base URL path is wrong (should be https://api.openai.com/v1)\n"+
				"- Model name is wrong / not enabled\n"+
				"- Rate limit or quota\n\n"+
				"Tip: unset the planner base URL to use heuristic mode.\n\n"+
				"Response preview: %s",
			httpErr.StatusCode, httpErr.BodyPreview)
		return Result{
			Plan: Plan{Action: ActionRespond, FinalAnswer: answer, Rationale: "Fallback after HTTP error"},
			Meta: Meta{Mode: ModeFallback, Degraded: true, Error: "http", StatusCode: httpErr.StatusCode},
		}
	}

	answer := "External planning failed.\n\n" +
		"Tip: unset the planner base URL to use heuristic mode.\n\n" +
		"Error: " + redact.Clamp(err.Error(), 300)
	return Result{
		Plan: Plan{Action: ActionRespond, FinalAnswer: answer, Rationale: "Fallback after error"},
		Meta: Meta{Mode: ModeFallback, Degraded: true, Error: "exception"},
	}
}
