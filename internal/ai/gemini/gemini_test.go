package gemini

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"smartpocket/internal/ai"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(context.Background(), Config{APIKey: "test-key", BaseURL: srv.URL + "/"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestCompleteReturnsFirstCandidate(t *testing.T) {
	var body, path string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"Keep ₹10 for tomorrow."}]}},{"content":{"parts":[{"text":"ignored"}]}}]}`)
	})

	topP := 0.8
	text, err := c.Complete(context.Background(), ai.Request{
		Model:       "gemini-test",
		System:      "Be kind.",
		Prompt:      "Can I buy a toy?",
		MaxTokens:   100,
		Temperature: 0.3,
		TopP:        &topP,
		Stop:        []string{"Child:"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "Keep ₹10 for tomorrow." {
		t.Fatalf("text = %q", text)
	}
	if !strings.Contains(path, "gemini-test:generateContent") {
		t.Fatalf("unexpected path %q", path)
	}
	for _, want := range []string{"systemInstruction", "Be kind.", "Can I buy a toy?", "maxOutputTokens", "stopSequences"} {
		if !strings.Contains(body, want) {
			t.Fatalf("request body missing %q: %s", want, body)
		}
	}
}

func TestCompleteEmptyCandidates(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"candidates":[]}`)
	})
	if _, err := c.Complete(context.Background(), ai.Request{Prompt: "hi"}); !errors.Is(err, ai.ErrUnexpectedResponse) {
		t.Fatalf("expected ErrUnexpectedResponse, got %v", err)
	}
}

func TestCompleteBackendError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"code":400,"message":"API key not valid","status":"INVALID_ARGUMENT"}}`)
	})
	_, err := c.Complete(context.Background(), ai.Request{Prompt: "hi"})
	var be *ai.BackendError
	if !errors.As(err, &be) || be.Status != http.StatusBadRequest || be.Message != "API key not valid" {
		t.Fatalf("expected BackendError, got %v", err)
	}
}
