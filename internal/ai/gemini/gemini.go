// Package gemini implements ai.Gateway on Google's Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"smartpocket/internal/ai"

	"google.golang.org/genai"
)

const DefaultModel = "gemini-2.5-flash"

type Client struct {
	models *genai.Models
}

// Config selects the key and, for tests or proxies, a non-default endpoint.
type Config struct {
	APIKey  string
	BaseURL string
}

func New(ctx context.Context, cfg Config) (*Client, error) {
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: creating client: %w", err)
	}
	return &Client{models: client.Models}, nil
}

// Complete implements ai.Gateway.
func (c *Client) Complete(ctx context.Context, req ai.Request) (string, error) {
	model := req.Model
	if model == "" {
		model = DefaultModel
	}

	config := &genai.GenerateContentConfig{
		Temperature:   genai.Ptr(float32(req.Temperature)),
		StopSequences: req.Stop,
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.TopP != nil {
		config.TopP = genai.Ptr(float32(*req.TopP))
	}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	resp, err := c.models.GenerateContent(ctx, model, genai.Text(req.Prompt), config)
	if err != nil {
		return "", classify(ctx, err)
	}
	return firstCandidateText(resp)
}

func firstCandidateText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		if resp != nil && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return "", &ai.BackendError{Message: "prompt blocked: " + string(resp.PromptFeedback.BlockReason)}
		}
		return "", ai.ErrUnexpectedResponse
	}
	cand := resp.Candidates[0]
	if cand.Content == nil {
		return "", ai.ErrUnexpectedResponse
	}
	var b strings.Builder
	for _, p := range cand.Content.Parts {
		if p != nil {
			b.WriteString(p.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", ai.ErrUnexpectedResponse
	}
	return text, nil
}

func classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ai.ErrTimeout
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return backendError(apiErr)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return backendError(*apiErrPtr)
	}
	return fmt.Errorf("gemini: generate content: %w", err)
}

func backendError(e genai.APIError) *ai.BackendError {
	msg := e.Message
	if msg == "" {
		msg = e.Status
	}
	return &ai.BackendError{Status: e.Code, Message: msg}
}
