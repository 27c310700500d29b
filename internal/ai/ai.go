// Package ai defines the advice-generation gateway and its failure taxonomy.
// Adapters live in the completions and gemini subpackages.
package ai

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned when the backend does not answer within the deadline.
	ErrTimeout = errors.New("ai: request timed out")
	// ErrUnexpectedResponse is returned when a reply has neither a usable
	// completion nor a recognizable error payload.
	ErrUnexpectedResponse = errors.New("ai: unexpected response")
)

// Request is a single-turn generation request.
type Request struct {
	Model       string
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
	TopP        *float64
	Stop        []string
}

// Gateway turns a Request into the first candidate text.
type Gateway interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// BackendError is a structured error reported by the backend.
type BackendError struct {
	Status  int
	Message string
}

func (e *BackendError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("ai backend error: %s", e.Message)
	}
	return fmt.Sprintf("ai backend error (status %d): %s", e.Status, e.Message)
}

// GatewayFunc adapts a function to the Gateway interface.
type GatewayFunc func(ctx context.Context, req Request) (string, error)

func (f GatewayFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}
