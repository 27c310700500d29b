package backend

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"smartpocket/internal/ai"
	"smartpocket/internal/ai/completions"
	"smartpocket/internal/ai/gemini"
	"smartpocket/internal/chat"
	"smartpocket/internal/config"
)

// NewAdvisor builds the chat orchestrator on the configured advice backend.
func NewAdvisor(ctx context.Context, appConfig *config.Config) (*chat.Orchestrator, error) {
	gateway, model, err := NewGateway(ctx, appConfig)
	if err != nil {
		return nil, err
	}
	return chat.New(gateway, chat.Config{
		Model:       model,
		MaxTokens:   appConfig.AIMaxTokens,
		Temperature: appConfig.AITemperature,
		TopP:        appConfig.AITopP,
		Timeout:     appConfig.AITimeout,
		Currency:    appConfig.Currency,
	}), nil
}

// NewGateway returns the advice backend and the model id requests should use.
func NewGateway(ctx context.Context, appConfig *config.Config) (ai.Gateway, string, error) {
	model := appConfig.AIModel

	switch appConfig.AIBackend {
	case config.AIBackendCompletions:
		if model == "" {
			model = completions.DefaultModel
		}
		gw := completions.New(appConfig.AIAPIURL, appConfig.AIAPIKey,
			completions.WithHTTPClient(&http.Client{Timeout: appConfig.AITimeout}))
		slog.InfoContext(ctx, "Initialized completions advice backend", "model", model)
		return gw, model, nil

	case config.AIBackendGemini:
		if model == "" {
			model = gemini.DefaultModel
		}
		gw, err := gemini.New(ctx, gemini.Config{APIKey: appConfig.GeminiAPIKey})
		if err != nil {
			return nil, "", err
		}
		slog.InfoContext(ctx, "Initialized Gemini advice backend", "model", model)
		return gw, model, nil

	default:
		return nil, "", fmt.Errorf("unsupported AI backend: %s", appConfig.AIBackend)
	}
}
