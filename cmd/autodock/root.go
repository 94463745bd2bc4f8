package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/autodock/autodock"
	"github.com/autodock/autodock/engine"
	"github.com/autodock/autodock/llm"
	"github.com/autodock/autodock/store"
)

var (
	flagModel        string
	flagTag          string
	flagSkipTest     bool
	flagHealAttempts int
	flagWindow       time.Duration
	flagVerbose      bool
)

var rootCmd = &cobra.Command{
	Use:   "autodock <source>",
	Short: "Turn a source bundle into a working container image",
	Long: `Autodock turns a source bundle into a working container image without
human intervention. It extracts the project, asks an LLM to draft a
Dockerfile, builds it, briefly runs the result, and heals build or runtime
failures with corrected recipes.

The source may be a .zip or .tar.gz archive, a plain directory, or an
http(s) repository URL (cloned shallowly).

Example:
  autodock ./my_project.zip --tag web-app:v1
  autodock https://github.com/user/repo --model gemini/gemini-2.0-flash`,
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runContainerize,
}

func init() {
	rootCmd.Flags().StringVar(&flagModel, "model", "", "drafting model identifier (e.g. anthropic/claude-sonnet-4-20250514)")
	rootCmd.Flags().StringVar(&flagTag, "tag", "", "image tag for the built image")
	rootCmd.Flags().BoolVar(&flagSkipTest, "skip-test", false, "skip the runtime stability check")
	rootCmd.Flags().IntVar(&flagHealAttempts, "heal-attempts", 0, "healing attempts per failure class")
	rootCmd.Flags().DurationVar(&flagWindow, "window", 0, "runtime observation window")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the CLI. Errors are already reported to the user; the caller
// only needs the exit code.
func Execute() error {
	return rootCmd.Execute()
}

// setupLogging sends slog output to stderr and to a rotating file under the
// autodock home.
func setupLogging() {
	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}

	var w io.Writer = os.Stderr
	if err := autodock.EnsureHome(); err == nil {
		w = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   autodock.LogPath(),
			MaxSize:    15, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		})
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

// buildConfig overlays CLI flags on the config file and defaults.
func buildConfig(cmd *cobra.Command) (autodock.Config, error) {
	cfg, err := autodock.LoadConfig(autodock.ConfigPath())
	if err != nil {
		return cfg, err
	}

	if cmd.Flags().Changed("model") {
		cfg.Model = flagModel
	}
	if cmd.Flags().Changed("tag") {
		cfg.Tag = flagTag
	}
	if cmd.Flags().Changed("skip-test") {
		cfg.SkipRuntime = flagSkipTest
	}
	if cmd.Flags().Changed("heal-attempts") {
		cfg.HealAttempts = flagHealAttempts
	}
	if cmd.Flags().Changed("window") {
		cfg.ProbeWindow = flagWindow
	}
	return cfg, nil
}

func runContainerize(cmd *cobra.Command, args []string) error {
	setupLogging()
	source := args[0]
	ctx := cmd.Context()

	cfg, err := buildConfig(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}

	backend, err := llm.New(ctx, cfg.Model)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}

	eng, err := engine.New(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Docker is not running or unreachable: %v\n", err)
		return err
	}
	defer eng.Close()

	pipeline := autodock.NewPipeline(cfg, autodock.NewArchitect(backend), eng)
	result, runErr := pipeline.Run(ctx, source)

	recordRun(source, cfg, result)
	report(result, runErr)
	return runErr
}

// recordRun saves the run to the history database. History is best effort:
// a store failure never changes the run's outcome.
func recordRun(source string, cfg autodock.Config, result *autodock.Result) {
	s, err := store.Open(autodock.DefaultDBPath())
	if err != nil {
		slog.Warn("could not open history store", "error", err)
		return
	}
	defer s.Close()

	runID := uuid.NewString()
	status := "failed"
	if result.Succeeded {
		status = "succeeded"
	}
	err = s.InsertRun(store.Run{
		RunID:      runID,
		Source:     source,
		Model:      cfg.Model,
		Tag:        cfg.Tag,
		Status:     status,
		Stage:      string(result.Stage),
		ImageID:    result.ImageID,
		Workspace:  result.Workspace,
		Attempts:   len(result.Attempts),
		StartedAt:  result.StartedAt,
		DurationMs: result.Duration.Milliseconds(),
	})
	if err != nil {
		slog.Warn("could not record run", "error", err)
		return
	}
	for _, a := range result.Attempts {
		err := s.InsertAttempt(store.AttemptRow{
			RunID:      runID,
			N:          a.N,
			Stage:      string(a.Stage),
			OK:         a.OK,
			Dockerfile: a.Dockerfile,
			Log:        a.Log,
		})
		if err != nil {
			slog.Warn("could not record attempt", "n", a.N, "error", err)
		}
	}
}

// report prints the terminal outcome. Every failure names its stage, shows
// the truncated log, and points at the preserved workspace.
func report(result *autodock.Result, runErr error) {
	if result.Succeeded {
		fmt.Println()
		fmt.Println(strings.Repeat("=", 60))
		fmt.Println("Project successfully containerized!")
		fmt.Printf("  Image:      %s\n", result.Tag)
		fmt.Printf("  Dockerfile: %s/Dockerfile\n", result.Workspace)
		fmt.Printf("  Attempts:   %d\n", len(result.Attempts))
		fmt.Printf("  Duration:   %s\n", result.Duration.Round(time.Second))
		fmt.Println(strings.Repeat("=", 60))
		return
	}

	fmt.Fprintf(os.Stderr, "\nContainerization failed at stage %q: %v\n", result.Stage, runErr)
	if result.FailureLog != "" {
		fmt.Fprintf(os.Stderr, "\n--- last failure log (truncated) ---\n%s\n", result.FailureLog)
	}
	if result.Preserved {
		fmt.Fprintf(os.Stderr, "\nWorkspace preserved for inspection: %s\n", result.Workspace)
	}
}
