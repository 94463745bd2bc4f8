package autodock

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config controls one pipeline run. It is threaded explicitly through the
// pipeline; there is no process-global model or tag state.
type Config struct {
	// Model is the provider-qualified drafting model identifier.
	Model string

	// Tag is the image tag the build produces.
	Tag string

	// SkipRuntime disables the post-build stability probe.
	SkipRuntime bool

	// HealAttempts bounds healing per failure class: build failures and
	// runtime failures each get this many extra attempts.
	HealAttempts int

	// ProbeWindow is how long a container is observed before being judged.
	ProbeWindow time.Duration
}

// fileConfig is the on-disk shape. Durations are written as strings
// ("10s", "1m30s") and parsed on load.
type fileConfig struct {
	Model        string `yaml:"model"`
	Tag          string `yaml:"tag"`
	SkipRuntime  *bool  `yaml:"skip_runtime"`
	HealAttempts *int   `yaml:"heal_attempts"`
	ProbeWindow  string `yaml:"probe_window"`
}

// DefaultConfig returns the reference policy: one heal per failure class,
// a 10 second observation window.
func DefaultConfig() Config {
	return Config{
		Model:        "anthropic/" + defaultModel,
		Tag:          "autodock-app:latest",
		HealAttempts: 1,
		ProbeWindow:  10 * time.Second,
	}
}

const defaultModel = "claude-sonnet-4-20250514"

// LoadConfig overlays the YAML file at path on the defaults. A missing file
// is not an error; the defaults apply.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	if fc.Model != "" {
		cfg.Model = fc.Model
	}
	if fc.Tag != "" {
		cfg.Tag = fc.Tag
	}
	if fc.SkipRuntime != nil {
		cfg.SkipRuntime = *fc.SkipRuntime
	}
	if fc.HealAttempts != nil {
		if *fc.HealAttempts < 0 {
			return cfg, fmt.Errorf("config %s: heal_attempts must not be negative", path)
		}
		cfg.HealAttempts = *fc.HealAttempts
	}
	if fc.ProbeWindow != "" {
		d, err := time.ParseDuration(fc.ProbeWindow)
		if err != nil {
			return cfg, fmt.Errorf("config %s: probe_window: %w", path, err)
		}
		cfg.ProbeWindow = d
	}
	return cfg, nil
}
