package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// LLM is the interface for language model backends.
type LLM interface {
	// Generate sends a conversation and returns the complete response.
	Generate(ctx context.Context, messages []Message) (*Response, error)
}

// Message represents a conversation message.
type Message struct {
	Role    Role
	Content string
}

// Role identifies the message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Response is the response from an LLM call.
type Response struct {
	// Content is the text response
	Content string

	// Token counts
	InputTokens  int
	OutputTokens int

	// Latency in milliseconds
	LatencyMs int64
}

// ErrRateLimited indicates the provider rejected the call because of rate
// limits or temporary overload. Callers may retry after a delay; every other
// error from a backend is not retryable.
var ErrRateLimited = errors.New("rate limited")

// New returns a backend for a provider-qualified model identifier such as
// "anthropic/claude-sonnet-4-20250514" or "gemini/gemini-2.0-flash".
// An identifier without a provider prefix is treated as an Anthropic model.
func New(ctx context.Context, model string) (LLM, error) {
	provider, name, ok := strings.Cut(model, "/")
	if !ok {
		provider, name = "anthropic", model
	}

	switch provider {
	case "anthropic", "claude":
		return NewAnthropic(WithModel(name)), nil
	case "gemini", "google":
		return NewGemini(ctx, WithGeminiModel(name))
	default:
		return nil, fmt.Errorf("unknown LLM provider %q in model %q", provider, model)
	}
}
