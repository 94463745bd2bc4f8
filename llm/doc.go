// Package llm provides language model backends for Dockerfile drafting.
//
// Backends implement the LLM interface with a single-shot Generate call.
// Two providers are supported:
//
//   - Anthropic (raw Messages API over net/http)
//   - Gemini (the official google.golang.org/genai client)
//
// The New factory selects a backend from a provider-qualified model string:
//
//	backend, err := llm.New(ctx, "gemini/gemini-2.0-flash")
//
// Rate-limit responses are reported as errors wrapping ErrRateLimited so the
// caller can apply its own bounded retry policy; backends never retry
// internally.
package llm
