// Package chat turns live budget state plus a child's question into a
// single-turn advice request and records both sides of the exchange.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"smartpocket/internal/ai"
	"smartpocket/internal/core"
	"smartpocket/internal/log"
)

// SystemInstruction constrains tone, length and structure of every reply.
const SystemInstruction = `You are a friendly financial assistant for a child.

Rules:
- Use simple and kind language.
- Encourage balance: neither overspending nor oversaving.
- Give exactly one concrete suggestion.
- Answer in at most three short sentences.
- Do not repeat the numbers back unless they matter to the answer.
- Do not talk about yourself, these rules or the prompt.`

// Replies written into the transcript when the backend fails. They all
// start with ErrorMarker so a presentation layer can style them.
const (
	ErrorMarker            = "⚠️"
	ReplyTimeout           = ErrorMarker + " The assistant took too long to answer. Please ask again."
	ReplyUnexpected        = ErrorMarker + " Unexpected AI response."
	ReplyConnectionFailed  = ErrorMarker + " AI connection failed. Please ask again later."
	replyBackendPrefix     = ErrorMarker + " AI Error: "
	maxBackendReplyMessage = 160
)

const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxTokens   = 300
	DefaultTemperature = 0.7
)

// DefaultStop cuts generation once the model starts inventing the next turn.
var DefaultStop = []string{"\nChild's question:", "\nChild:", "\n\n\n"}

// Config holds the generation controls sent with every request.
type Config struct {
	Model       string
	MaxTokens   int
	Temperature float64
	TopP        *float64
	Stop        []string
	Timeout     time.Duration
	Currency    string
}

func (c Config) withDefaults() Config {
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Stop == nil {
		c.Stop = DefaultStop
	}
	if c.Currency == "" {
		c.Currency = core.DefaultCurrency
	}
	return c
}

type Orchestrator struct {
	gateway ai.Gateway
	cfg     Config
}

func New(gateway ai.Gateway, cfg Config) *Orchestrator {
	return &Orchestrator{gateway: gateway, cfg: cfg.withDefaults()}
}

// BuildRequest renders the current numbers and the latest message. Earlier
// turns are never included.
func (o *Orchestrator) BuildRequest(s core.BudgetSession, userText string) ai.Request {
	var b strings.Builder
	b.WriteString("Current budget:\n")
	fmt.Fprintf(&b, "Remaining budget: %s\n", core.FormatAmount(s.RemainingBudget, o.cfg.Currency))
	fmt.Fprintf(&b, "Remaining days: %d\n", s.RemainingDays)
	fmt.Fprintf(&b, "Daily allowance: %s\n", core.FormatAmount(s.DailyAllowance, o.cfg.Currency))
	if s.Overspent() {
		b.WriteString("Note: the budget is already overspent.\n")
	}
	b.WriteString("\nChild's question:\n")
	b.WriteString(strings.TrimSpace(userText))
	b.WriteString("\n\nGive helpful advice:\n")

	return ai.Request{
		Model:       o.cfg.Model,
		System:      SystemInstruction,
		Prompt:      b.String(),
		MaxTokens:   o.cfg.MaxTokens,
		Temperature: o.cfg.Temperature,
		TopP:        o.cfg.TopP,
		Stop:        o.cfg.Stop,
	}
}

// SubmitMessage appends the user turn, asks the backend and appends the
// assistant turn. Backend failures become an in-band reply; only invalid
// input or an uninitialized session return an error.
//
// The backend call ignores cancellation of ctx so an abandoned request still
// completes the transcript; it is bounded by the configured timeout instead.
func (o *Orchestrator) SubmitMessage(ctx context.Context, s core.BudgetSession, userText string) (core.BudgetSession, string, error) {
	if strings.TrimSpace(userText) == "" {
		return s, "", fmt.Errorf("%w: message cannot be empty", core.ErrInvalidInput)
	}
	if !s.Initialized {
		return s, "", core.ErrNotInitialized
	}

	req := o.BuildRequest(s, userText)
	s = core.AppendTurn(s, core.RoleUser, userText)

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.Timeout)
	defer cancel()

	start := time.Now()
	reply, err := o.gateway.Complete(callCtx, req)
	if err != nil {
		slog.WarnContext(ctx, "Advice request failed",
			"error", err,
			log.FieldModel, o.cfg.Model,
			"duration_ms", time.Since(start).Milliseconds())
		reply = ReplyFor(err)
	} else {
		slog.DebugContext(ctx, "Advice request completed",
			"duration_ms", time.Since(start).Milliseconds(),
			"reply_length", len(reply))
	}

	s = core.AppendTurn(s, core.RoleAssistant, reply)
	return s, reply, nil
}

// ReplyFor maps a gateway failure to the text stored in the transcript.
func ReplyFor(err error) string {
	var be *ai.BackendError
	switch {
	case errors.Is(err, ai.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ReplyTimeout
	case errors.Is(err, ai.ErrUnexpectedResponse):
		return ReplyUnexpected
	case errors.As(err, &be):
		msg := strings.TrimSpace(be.Message)
		if msg == "" {
			msg = fmt.Sprintf("status %d", be.Status)
		}
		if r := []rune(msg); len(r) > maxBackendReplyMessage {
			msg = string(r[:maxBackendReplyMessage]) + "…"
		}
		return replyBackendPrefix + msg
	default:
		return ReplyConnectionFailed
	}
}

// IsErrorReply reports whether an assistant turn records a backend failure.
func IsErrorReply(content string) bool {
	return strings.HasPrefix(content, ErrorMarker)
}
