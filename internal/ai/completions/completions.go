// Package completions implements ai.Gateway against an OpenAI-style
// text-completions endpoint, such as the Hugging Face router for Featherless.
package completions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"smartpocket/internal/ai"
)

const (
	DefaultURL   = "https://router.huggingface.co/featherless-ai/v1/completions"
	DefaultModel = "meta-llama/Llama-3.1-8B-Instruct"
	maxBodySize  = 1 << 20 // 1 MB
)

// Client posts prompts to a completions endpoint with a bearer token.
type Client struct {
	url   string
	token string
	http  *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func New(url, token string, opts ...Option) *Client {
	if url == "" {
		url = DefaultURL
	}
	c := &Client{url: url, token: token, http: &http.Client{}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type completionRequest struct {
	Model       string   `json:"model"`
	Prompt      string   `json:"prompt"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature float64  `json:"temperature"`
	TopP        *float64 `json:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Text string `json:"text"`
	} `json:"choices"`
	Error json.RawMessage `json:"error"`
}

// Complete implements ai.Gateway. The system instruction is prepended to
// the prompt because the endpoint takes a single text input.
func (c *Client) Complete(ctx context.Context, req ai.Request) (string, error) {
	prompt := req.Prompt
	if req.System != "" {
		prompt = req.System + "\n\n" + req.Prompt
	}
	model := req.Model
	if model == "" {
		model = DefaultModel
	}

	body, err := json.Marshal(completionRequest{
		Model:       model,
		Prompt:      prompt,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.Stop,
	})
	if err != nil {
		return "", fmt.Errorf("completions: encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("completions: creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if isTimeout(ctx, err) {
			return "", ai.ErrTimeout
		}
		return "", fmt.Errorf("completions: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		if isTimeout(ctx, err) {
			return "", ai.ErrTimeout
		}
		return "", fmt.Errorf("completions: reading response: %w", err)
	}

	return parseResponse(resp.StatusCode, raw)
}

func parseResponse(status int, raw []byte) (string, error) {
	var parsed completionResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		if status < 200 || status >= 300 {
			return "", &ai.BackendError{Status: status, Message: http.StatusText(status)}
		}
		return "", fmt.Errorf("%w: %v", ai.ErrUnexpectedResponse, err)
	}

	if len(parsed.Choices) > 0 {
		if text := strings.TrimSpace(parsed.Choices[0].Text); text != "" {
			return text, nil
		}
	}
	if msg, ok := parseErrorMessage(parsed.Error); ok {
		return "", &ai.BackendError{Status: status, Message: msg}
	}
	if status < 200 || status >= 300 {
		return "", &ai.BackendError{Status: status, Message: http.StatusText(status)}
	}
	return "", ai.ErrUnexpectedResponse
}

// parseErrorMessage accepts both "error": "text" and "error": {"message": "text"}.
func parseErrorMessage(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", false
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		return s, s != ""
	}

	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && strings.TrimSpace(obj.Message) != "" {
		return strings.TrimSpace(obj.Message), true
	}

	return strings.TrimSpace(string(raw)), true
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
