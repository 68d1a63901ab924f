// Package analysis wraps the LLM backend: structured semantic extraction for
// stories and comments, plus embedding generation.
//
// All three calls share one retry policy (see retry.go) and one pacing
// limiter that keeps successive requests under the provider's rate limits.
// A call that exhausts its retry attempts fails hard; the orchestrator treats
// that as "this item stays unanalyzed for now", never as a cycle abort.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/hnpulse/hnpulse/internal/log"
	"github.com/hnpulse/hnpulse/internal/textutil"
)

const (
	// embedMaxChars bounds embedding input; longer text is truncated.
	embedMaxChars = 8000

	defaultMaxAttempts = 4
	defaultBaseDelay   = time.Second
)

// ErrRetryExhausted wraps the final failure after the attempt cap.
var ErrRetryExhausted = errors.New("analysis: retry attempts exhausted")

// Config configures the analysis client.
type Config struct {
	APIKey     string
	BaseURL    string // OpenAI-compatible root, e.g. https://openrouter.ai/api/v1
	Model      string
	EmbedModel string

	// Pacing is the minimum gap between successive backend calls.
	Pacing time.Duration

	// MaxAttempts caps retries per call; 0 means the default.
	MaxAttempts int

	// BaseDelay is the backoff base; 0 means the default.
	BaseDelay time.Duration
}

// Client calls the analysis backend.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     log.Logger
}

// NewClient creates an analysis client.
func NewClient(cfg Config, logger log.Logger) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaultBaseDelay
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.Pacing > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.Pacing), 1)
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		limiter:    limiter,
		logger:     logger.With("component", "analysis"),
	}
}

// Version returns the extraction schema version tagged onto every
// successful analysis.
func (c *Client) Version() string { return Version }

// AnalyzeStory extracts structured facts from a story's title, body and URL.
func (c *Client) AnalyzeStory(ctx context.Context, title, body, url string) (*StoryAnalysis, error) {
	user := fmt.Sprintf("Title: %s\n", title)
	if url != "" {
		user += fmt.Sprintf("URL: %s\n", url)
	}
	if body != "" {
		user += fmt.Sprintf("Text:\n%s\n", body)
	}

	content, err := c.complete(ctx, storySystemPrompt, user, "story_analysis", storySchema)
	if err != nil {
		return nil, err
	}

	var result StoryAnalysis
	if err := parseStrictOrSalvaged(content, &result); err != nil {
		return nil, fmt.Errorf("parsing story analysis: %w", err)
	}
	if err := result.validate(); err != nil {
		return nil, fmt.Errorf("invalid story analysis: %w", err)
	}
	return &result, nil
}

// AnalyzeComment extracts structured facts from a comment. storyTitle anchors
// the thread topic; parentSummary, when available, is the stored summary of
// the parent comment and gives the model conversational context.
func (c *Client) AnalyzeComment(ctx context.Context, body, storyTitle, parentSummary string) (*CommentAnalysis, error) {
	user := fmt.Sprintf("Story: %s\n", storyTitle)
	if parentSummary != "" {
		user += fmt.Sprintf("In reply to a comment arguing: %s\n", parentSummary)
	}
	user += fmt.Sprintf("Comment:\n%s\n", body)

	content, err := c.complete(ctx, commentSystemPrompt, user, "comment_analysis", commentSchema)
	if err != nil {
		return nil, err
	}

	var result CommentAnalysis
	if err := parseStrictOrSalvaged(content, &result); err != nil {
		return nil, fmt.Errorf("parsing comment analysis: %w", err)
	}
	if err := result.validate(); err != nil {
		return nil, fmt.Errorf("invalid comment analysis: %w", err)
	}
	return &result, nil
}

// Embed returns the embedding vector for text, truncated to the model's
// input limit.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	reqBody := embeddingRequest{
		Model: c.cfg.EmbedModel,
		Input: []string{textutil.Truncate(text, embedMaxChars)},
	}

	respBody, err := c.post(ctx, "/embeddings", reqBody)
	if err != nil {
		return nil, err
	}

	var resp embeddingResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("decoding embedding response: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding returned")
	}
	return resp.Data[0].Embedding, nil
}

// complete performs one structured chat completion and returns the raw
// message content.
func (c *Client) complete(ctx context.Context, system, user, schemaName string, schema any) (string, error) {
	reqBody := chatRequest{
		Model:       c.cfg.Model,
		Temperature: 0,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		ResponseFormat: &responseFormat{
			Type: "json_schema",
			JSONSchema: &jsonSchemaFormat{
				Name:   schemaName,
				Strict: true,
				Schema: schema,
			},
		},
	}

	respBody, err := c.post(ctx, "/chat/completions", reqBody)
	if err != nil {
		return "", err
	}

	var resp chatResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("decoding chat response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in chat response")
	}
	return resp.Choices[0].Message.Content, nil
}

// post sends one JSON request with the shared retry policy and pacing.
func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		respBody, dec, err := c.postOnce(ctx, path, body)
		if err == nil {
			return respBody, nil
		}
		lastErr = err

		if dec.class == failFast {
			return nil, err
		}
		if attempt == c.cfg.MaxAttempts-1 {
			break
		}

		wait := dec.wait(attempt, c.cfg.BaseDelay)
		c.logger.Debug("retrying analysis call",
			"path", path, "attempt", attempt+1, "wait", wait, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}

	return nil, fmt.Errorf("%w: %w", ErrRetryExhausted, lastErr)
}

func (c *Client) postOnce(ctx context.Context, path string, body []byte) ([]byte, decision, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, decision{class: failFast}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Transport errors get the same treatment as a 5xx.
		return nil, decision{class: retryExponential}, fmt.Errorf("sending request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, decision{class: retryExponential}, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		dec := classifyResponse(resp.StatusCode, resp.Header.Get("Retry-After"), respBody)
		return nil, dec, fmt.Errorf("status %d: %s", resp.StatusCode, truncateForError(respBody))
	}
	return respBody, decision{}, nil
}

// parseStrictOrSalvaged tries strict JSON first, then falls back to the first
// balanced {...} substring in the content. Models occasionally wrap the JSON
// in prose or a code fence despite the schema constraint.
func parseStrictOrSalvaged(content string, dst any) error {
	if err := json.Unmarshal([]byte(content), dst); err == nil {
		return nil
	}

	salvaged, ok := extractJSONObject(content)
	if !ok {
		return fmt.Errorf("no JSON object found in response content")
	}
	if err := json.Unmarshal([]byte(salvaged), dst); err != nil {
		return fmt.Errorf("salvaged JSON invalid: %w", err)
	}
	return nil
}

// extractJSONObject scans for the first balanced top-level {...} substring,
// respecting string literals and escapes.
func extractJSONObject(s string) (string, bool) {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 {
					return s[start : i+1], true
				}
			}
		}
	}
	return "", false
}

func truncateForError(body []byte) string {
	const maxLen = 256
	if len(body) > maxLen {
		return string(body[:maxLen]) + "..."
	}
	return string(body)
}

const storySystemPrompt = `You analyze Hacker News stories. Extract the core idea, the concepts, technologies and named entities involved, the likely community angle, overall sentiment with a score from -1 to 1, controversy potential and intellectual depth. Respond with a single JSON object matching the provided schema.`

const commentSystemPrompt = `You analyze Hacker News comments. Summarize the argument being made, extract concepts, technologies and named entities, classify the comment type, and rate sentiment with a score from -1 to 1. Respond with a single JSON object matching the provided schema.`

// Wire types for the OpenAI-compatible API.

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type jsonSchemaFormat struct {
	Name   string `json:"name"`
	Strict bool   `json:"strict"`
	Schema any    `json:"schema"`
}

type responseFormat struct {
	Type       string            `json:"type"`
	JSONSchema *jsonSchemaFormat `json:"json_schema,omitempty"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Temperature    float64         `json:"temperature"`
	Messages       []chatMessage   `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}
