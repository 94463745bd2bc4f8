package autodock

import (
	"fmt"
	"strings"
)

// dockerfileInstructions is the whitelist of line prefixes kept by the
// sanitizer. Everything else is conversational text the model emitted
// despite instructions.
var dockerfileInstructions = []string{
	"FROM", "RUN", "COPY", "ADD", "WORKDIR", "CMD", "ENTRYPOINT", "EXPOSE",
	"ENV", "ARG", "LABEL", "USER", "VOLUME", "HEALTHCHECK", "SHELL",
	"STOPSIGNAL", "ONBUILD", "MAINTAINER",
}

// SanitizeDockerfile extracts a syntactically plausible Dockerfile from
// free-form model output. It unwraps the first fenced code block when one is
// present, keeps only instruction lines, comments, and indented continuation
// lines, and rejects output with no FROM instruction. A rejection wraps
// ErrDrafting: an empty recipe is never silently passed to the build step.
func SanitizeDockerfile(raw string) (string, error) {
	text := unwrapFence(raw)

	var kept []string
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if isInstruction(trimmed) || strings.HasPrefix(trimmed, "#") ||
			strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
			kept = append(kept, line)
		}
	}

	result := strings.TrimSpace(strings.Join(kept, "\n"))
	if result == "" || !hasFrom(kept) {
		return "", fmt.Errorf("%w: model did not return a valid Dockerfile: %s", ErrDrafting, snippet(raw))
	}
	return result, nil
}

// unwrapFence returns the interior of the first fenced code block, or the
// input unchanged when no fence is present.
func unwrapFence(text string) string {
	if idx := strings.Index(text, "```dockerfile"); idx >= 0 {
		rest := text[idx+len("```dockerfile"):]
		if end := strings.Index(rest, "```"); end >= 0 {
			return rest[:end]
		}
		return rest
	}
	if strings.Contains(text, "```") {
		parts := strings.Split(text, "```")
		if len(parts) >= 3 {
			block := parts[1]
			// Drop a bare language tag on the fence line.
			if nl := strings.Index(block, "\n"); nl >= 0 && !strings.ContainsAny(block[:nl], " \t") {
				block = block[nl+1:]
			}
			return block
		}
	}
	return text
}

func isInstruction(trimmed string) bool {
	upper := strings.ToUpper(trimmed)
	for _, ins := range dockerfileInstructions {
		if upper == ins || strings.HasPrefix(upper, ins+" ") || strings.HasPrefix(upper, ins+"\t") {
			return true
		}
	}
	return false
}

func hasFrom(lines []string) bool {
	for _, line := range lines {
		if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(line)), "FROM ") {
			return true
		}
	}
	return false
}

// snippet bounds how much raw model output ends up in an error message.
func snippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
