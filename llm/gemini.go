package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	genai "google.golang.org/genai"
)

// GeminiLLM is an LLM implementation using the official genai client.
type GeminiLLM struct {
	cli   *genai.Client
	model string
}

// GeminiOption configures the Gemini client.
type GeminiOption func(*GeminiLLM)

// WithGeminiModel sets the model.
func WithGeminiModel(model string) GeminiOption {
	return func(g *GeminiLLM) {
		g.model = model
	}
}

// DefaultGeminiModel is used when no model is specified.
const DefaultGeminiModel = "gemini-2.0-flash"

// NewGemini creates a new Gemini LLM client. The API key is read from the
// environment (GEMINI_API_KEY / GOOGLE_API_KEY) by the genai client itself.
func NewGemini(ctx context.Context, opts ...GeminiOption) (*GeminiLLM, error) {
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	g := &GeminiLLM{cli: cli, model: DefaultGeminiModel}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Generate sends a conversation and returns the complete response.
func (g *GeminiLLM) Generate(ctx context.Context, messages []Message) (*Response, error) {
	start := time.Now()

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0.2),
	}

	var contents []*genai.Content
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			cfg.SystemInstruction = &genai.Content{
				Parts: []*genai.Part{{Text: msg.Content}},
			}
		case RoleAssistant:
			contents = append(contents, &genai.Content{
				Role:  "model",
				Parts: []*genai.Part{{Text: msg.Content}},
			})
		default:
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []*genai.Part{{Text: msg.Content}},
			})
		}
	}

	resp, err := g.cli.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return nil, classifyGeminiErr(err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("gemini returned no candidates")
	}

	result := &Response{
		LatencyMs: time.Since(start).Milliseconds(),
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		result.Content += part.Text
	}
	if resp.UsageMetadata != nil {
		result.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		result.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}

	return result, nil
}

// classifyGeminiErr maps quota exhaustion onto ErrRateLimited so the caller's
// retry policy can distinguish it from fatal errors.
func classifyGeminiErr(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == 429 || apiErr.Status == "RESOURCE_EXHAUSTED" {
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
		return err
	}

	errStr := err.Error()
	if strings.Contains(errStr, "429") || strings.Contains(errStr, "RESOURCE_EXHAUSTED") {
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}
	return err
}
