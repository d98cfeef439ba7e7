package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	defaultTimeout = 45 * time.Second
	maxRetries     = 5
	maxBackoff     = 8 * time.Second
	minRetrySleep  = 250 * time.Millisecond
)

// NormalizeBaseURL fixes common misconfigurations of OpenAI-compatible
// gateway URLs: trailing slashes, pasted /conversations segments, and a
// missing /v1 suffix.
func NormalizeBaseURL(baseURL string) string {
	b := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	for _, bad := range []string{"/conversations", "/v1/conversations"} {
		if strings.HasSuffix(b, bad) {
			b = strings.TrimRight(strings.TrimSuffix(b, bad), "/")
		}
	}
	if strings.HasSuffix(b, "/v1") {
		return b
	}
	return b + "/v1"
}

// Message is one chat message sent to the planner endpoint.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage is the token accounting an OpenAI-compatible endpoint reports.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CallMeta describes one successful planner call.
type CallMeta struct {
	Latency    time.Duration
	Usage      Usage
	StatusCode int
	URL        string
}

// HTTPError is a non-retryable (or retry-exhausted) planner response.
type HTTPError struct {
	StatusCode  int
	BodyPreview string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("planner endpoint returned HTTP %d", e.StatusCode)
}

// Client calls an OpenAI-compatible /chat/completions endpoint with
// backoff for rate limits, timeouts and server errors.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client

	// sleep is swapped in tests so retry schedules run instantly.
	sleep func(time.Duration)
}

// NewClient builds a planner client. The base URL is normalized once here.
func NewClient(baseURL, apiKey, model string) *Client {
	return &Client{
		baseURL: NormalizeBaseURL(baseURL),
		apiKey:  apiKey,
		model:   model,
		http:    &http.Client{Timeout: defaultTimeout},
		sleep:   time.Sleep,
	}
}

func backoff(attempt int) time.Duration {
	d := time.Duration(float64(500*time.Millisecond) * float64(int64(1)<<attempt))
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

func jitter() time.Duration {
	return time.Duration(rand.Int63n(int64(250 * time.Millisecond)))
}

// Chat sends the messages and returns the assistant's raw content. Retries
// cover 429 (honoring Retry-After when present), timeouts, and 5xx; any
// other failure status propagates immediately.
func (c *Client) Chat(ctx context.Context, messages []Message) (string, CallMeta, error) {
	url := c.baseURL + "/chat/completions"
	payload, err := json.Marshal(map[string]any{
		"model":    c.model,
		"messages": messages,
		// keep planner outputs short to reduce token pressure
		"temperature": 0.2,
		"max_tokens":  300,
	})
	if err != nil {
		return "", CallMeta{}, fmt.Errorf("encoding planner request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		start := time.Now()
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return "", CallMeta{}, err
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return "", CallMeta{}, ctx.Err()
			}
			lastErr = fmt.Errorf("planner request: %w", err)
			if attempt < maxRetries {
				c.sleep(backoff(attempt))
				continue
			}
			return "", CallMeta{}, lastErr
		}

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		latency := time.Since(start)

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			wait := retryAfter(resp.Header.Get("Retry-After"), attempt)
			lastErr = &HTTPError{StatusCode: resp.StatusCode, BodyPreview: preview(body)}
			if attempt < maxRetries {
				log.Debug().Int("attempt", attempt).Dur("wait", wait).Msg("planner rate limited, retrying")
				c.sleep(wait)
				continue
			}
			return "", CallMeta{}, lastErr

		case resp.StatusCode >= 500:
			lastErr = &HTTPError{StatusCode: resp.StatusCode, BodyPreview: preview(body)}
			if attempt < maxRetries {
				c.sleep(backoff(attempt) + jitter())
				continue
			}
			return "", CallMeta{}, lastErr

		case resp.StatusCode != http.StatusOK:
			return "", CallMeta{}, &HTTPError{StatusCode: resp.StatusCode, BodyPreview: preview(body)}
		}

		if readErr != nil {
			return "", CallMeta{}, fmt.Errorf("reading planner response: %w", readErr)
		}
		var parsed struct {
			Choices []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
			Usage Usage `json:"usage"`
		}
		if err := json.Unmarshal(body, &parsed); err != nil {
			return "", CallMeta{}, fmt.Errorf("decoding planner response: %w", err)
		}
		if len(parsed.Choices) == 0 {
			return "", CallMeta{}, fmt.Errorf("planner response had no choices")
		}
		return parsed.Choices[0].Message.Content, CallMeta{
			Latency:    latency,
			Usage:      parsed.Usage,
			StatusCode: resp.StatusCode,
			URL:        url,
		}, nil
	}
	return "", CallMeta{}, lastErr
}

// retryAfter prefers the server's Retry-After over the computed backoff and
// never sleeps less than the floor, so a zero or garbage header cannot turn
// retries into a tight loop.
func retryAfter(header string, attempt int) time.Duration {
	var wait time.Duration
	if header != "" {
		if secs, err := strconv.ParseFloat(header, 64); err == nil {
			wait = time.Duration(secs * float64(time.Second))
		}
	} else {
		wait = backoff(attempt) + jitter()
	}
	if wait < minRetrySleep {
		wait = minRetrySleep
	}
	return wait
}

func preview(body []byte) string {
	s := string(body)
	if len(s) > 800 {
		s = s[:800]
	}
	return s
}
