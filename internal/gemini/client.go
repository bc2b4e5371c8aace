// Package gemini is a thin client for the Gemini generateContent API. It
// performs exactly one network attempt per call; retry policy lives in the
// retry package.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com"
	defaultModel   = "gemini-2.5-flash"

	// Per-attempt deadline. A timed-out attempt counts as a completed,
	// failed attempt and surfaces as a retryable Timeout.
	defaultTimeout = 15 * time.Second

	// FallbackReply is returned when the remote response is well-formed but
	// carries no candidate text.
	FallbackReply = "No response"
)

// Client calls the Gemini generateContent endpoint. It is stateless and safe
// for concurrent use.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	timeout    time.Duration
	httpClient *http.Client
}

// New creates a Client for the given API key and model. An empty model falls
// back to the default.
func New(apiKey, model string) *Client {
	if model == "" {
		model = defaultModel
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		model:      model,
		timeout:    defaultTimeout,
		httpClient: &http.Client{},
	}
}

// NewWithBaseURL creates a client pointing at a custom base URL (for testing).
func NewWithBaseURL(apiKey, model, baseURL string) *Client {
	c := New(apiKey, model)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

// SetTimeout overrides the per-attempt deadline. Used by tests to avoid
// waiting out the full 15 seconds.
func (c *Client) SetTimeout(d time.Duration) {
	c.timeout = d
}

// Request/response envelopes for generateContent. The nesting must match the
// remote service exactly.

type genRequest struct {
	Contents []genContent `json:"contents"`
}

type genContent struct {
	Parts []genPart `json:"parts"`
}

type genPart struct {
	Text string `json:"text"`
}

type genResponse struct {
	Candidates []struct {
		Content struct {
			Parts []genPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

type genErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Generate sends one composed prompt and returns the first candidate's first
// part. Failures come back as *StatusError carrying the classification the
// retry layer keys on.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(genRequest{
		Contents: []genContent{{Parts: []genPart{{Text: prompt}}}},
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", &StatusError{Kind: KindTimeout, Message: "generation timed out"}
		}
		return "", &StatusError{Kind: KindUnknown, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", statusError(resp)
	}

	var result genResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", &StatusError{Kind: KindUnknown, Message: fmt.Sprintf("decoding response: %v", err)}
	}

	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 ||
		result.Candidates[0].Content.Parts[0].Text == "" {
		return FallbackReply, nil
	}
	return result.Candidates[0].Content.Parts[0].Text, nil
}

// statusError builds a classified error from a non-200 response, pulling the
// remote message out of the error envelope when present.
func statusError(resp *http.Response) *StatusError {
	e := &StatusError{
		Kind:   Classify(resp.StatusCode),
		Status: resp.StatusCode,
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return e
	}
	var remote genErrorResponse
	if json.Unmarshal(body, &remote) == nil && remote.Error.Message != "" {
		e.Message = remote.Error.Message
	}
	return e
}
