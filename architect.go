package autodock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/autodock/autodock/llm"
)

// Prompt framings for the three architect calls. Build-failure healing and
// runtime-failure healing carry different diagnostic framing and are never
// merged.
const (
	draftSystemPrompt = `You are an expert DevOps Engineer. Your task is to generate a Dockerfile based on a project structure.
STRICT REQUIREMENTS:
1. Use MULTI-STAGE builds to keep the image small.
2. Use 'alpine' or 'slim' variants as the final runtime base for security.
   Avoid Distroless images (gcr.io/distroless) as they often have inconsistent tagging.
   Stick to official Docker Hub images like 'python:3.12-slim' or 'python:3.12-alpine' for reliability.
3. Optimize for layer caching (copy requirements/package files first).
4. Ensure the entry point is correctly identified from the file list.
5. CRITICAL: Only COPY files that are listed in the 'FILES THAT ACTUALLY EXIST' section.
6. If requirements.txt is missing but pyproject.toml or setup.py exists, use 'pip install .' instead.
7. COPYING STRATEGY: modern build backends (flit, setuptools, poetry) often require README and
   LICENSE files to install. Either use 'COPY . .' or explicitly COPY everything the build needs,
   checking the ROOT DIRECTORY FILES list for what exists.
8. Return ONLY the content of the Dockerfile. No markdown code blocks, no explanations.`

	healBuildSystemPrompt = `You are a Senior DevOps Engineer. A Dockerfile failed to build.
CRITICAL RULES:
1. Only COPY files that are explicitly listed in the 'FILES THAT ACTUALLY EXIST' section.
2. If a file like requirements.txt is missing, do NOT attempt to use it.
3. Look for alternatives: pyproject.toml, setup.py, or use 'pip install .' for Python projects.
4. If the error mentions a missing file, CHECK if it is in the 'MISSING STANDARD FILES' list.
5. If the error is a FileNotFoundError for README or LICENSE files, those exist in the project but
   were not copied into the image: add COPY instructions for them or use 'COPY . .'.
6. Return ONLY the fixed Dockerfile content. No explanations, no markdown, no preamble.`

	healRuntimeSystemPrompt = `You are a Senior DevOps Engineer. A Docker image BUILT successfully, but FAILED when running.
CRITICAL ANALYSIS REQUIRED:
1. Determine if this is a LIBRARY (like Flask, Bottle, Django libs) or an APPLICATION.
2. For LIBRARIES: the CMD should be a simple validation like 'python -c "import X; print(X.__version__)"'.
3. For APPLICATIONS: fix the entry point (correct the path to main.py, add ENTRYPOINT).
4. Common runtime errors:
   - 'executable file not found': use the full command, CMD ["python", "script.py"] not CMD ["script.py"]
   - 'No application entry point specified': library project, use an import test
   - 'ModuleNotFoundError': missing dependency or wrong WORKDIR
   - 'Permission denied': add executable permissions or fix the user
5. Return ONLY the fixed Dockerfile content. No explanations, no markdown, no preamble.`
)

// Rate-limit retry policy around a single drafting/healing call. Only
// rate-limit-class errors are retried; everything else propagates
// immediately.
const (
	rateLimitAttempts = 3
	rateLimitDelay    = 60 * time.Second
)

// Architect produces and repairs Dockerfiles through an LLM backend. Every
// output passes through the sanitizer; the architect never returns raw model
// text.
type Architect struct {
	backend  llm.LLM
	attempts int
	delay    time.Duration
}

// ArchitectOption configures an Architect.
type ArchitectOption func(*Architect)

// WithRetryPolicy overrides the rate-limit retry attempt count and delay.
func WithRetryPolicy(attempts int, delay time.Duration) ArchitectOption {
	return func(a *Architect) {
		a.attempts = attempts
		a.delay = delay
	}
}

// NewArchitect creates an Architect over the given backend.
func NewArchitect(backend llm.LLM, opts ...ArchitectOption) *Architect {
	a := &Architect{
		backend:  backend,
		attempts: rateLimitAttempts,
		delay:    rateLimitDelay,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Draft asks the backend for an initial Dockerfile from a project context.
func (a *Architect) Draft(ctx context.Context, project *ProjectContext) (string, error) {
	user := "Analyze this project and create the most optimized Dockerfile possible:\n\n" + project.Render()
	return a.complete(ctx, draftSystemPrompt, user)
}

// HealBuild asks the backend to fix a Dockerfile the engine refused to
// build. It receives the original project context, the most recent recipe,
// and the truncated build log only, never the full attempt history.
func (a *Architect) HealBuild(ctx context.Context, project *ProjectContext, dockerfile, buildLog string) (string, error) {
	user := fmt.Sprintf(
		"=== PROJECT CONTEXT (SOURCE OF TRUTH) ===\n%s\n\n"+
			"=== FAULTY DOCKERFILE ===\n%s\n\n"+
			"=== DOCKER BUILD ERROR ===\n%s\n\n"+
			"Analyze the error and fix the Dockerfile. If files are missing from the image, "+
			"add COPY commands for them. Return ONLY valid Dockerfile code.",
		project.Render(), dockerfile, buildLog)
	return a.complete(ctx, healBuildSystemPrompt, user)
}

// HealRuntime asks the backend to fix a Dockerfile whose image builds but
// crashes when run.
func (a *Architect) HealRuntime(ctx context.Context, project *ProjectContext, dockerfile, runtimeLog string) (string, error) {
	user := fmt.Sprintf(
		"=== PROJECT CONTEXT ===\n%s\n\n"+
			"=== CURRENT DOCKERFILE (builds successfully) ===\n%s\n\n"+
			"=== RUNTIME ERROR LOG ===\n%s\n\n"+
			"The image builds fine but crashes when running. Fix the CMD/ENTRYPOINT to make it work. "+
			"Return ONLY valid Dockerfile code.",
		project.Render(), dockerfile, runtimeLog)
	return a.complete(ctx, healRuntimeSystemPrompt, user)
}

func (a *Architect) complete(ctx context.Context, system, user string) (string, error) {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: user},
	}

	resp, err := a.retryRateLimited(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDrafting, err)
	}

	return SanitizeDockerfile(resp.Content)
}

// retryRateLimited calls the backend, retrying with a fixed delay when the
// provider reports a rate limit. Any other error propagates immediately.
func (a *Architect) retryRateLimited(ctx context.Context, messages []llm.Message) (*llm.Response, error) {
	var lastErr error
	for attempt := 1; attempt <= a.attempts; attempt++ {
		resp, err := a.backend.Generate(ctx, messages)
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, llm.ErrRateLimited) {
			return nil, err
		}
		lastErr = err

		if attempt < a.attempts {
			slog.Warn("LLM rate limited, pausing before retry",
				"wait", a.delay, "attempt", attempt, "max", a.attempts)
			select {
			case <-time.After(a.delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, fmt.Errorf("gave up after %d rate-limited attempts: %w", a.attempts, lastErr)
}
