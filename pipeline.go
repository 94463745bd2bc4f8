package autodock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/autodock/autodock/engine"
)

// Drafter produces and repairs Dockerfiles. *Architect is the real
// implementation.
type Drafter interface {
	Draft(ctx context.Context, project *ProjectContext) (string, error)
	HealBuild(ctx context.Context, project *ProjectContext, dockerfile, buildLog string) (string, error)
	HealRuntime(ctx context.Context, project *ProjectContext, dockerfile, runtimeLog string) (string, error)
}

// BuildEngine materializes and probes images. *engine.Engine is the real
// implementation.
type BuildEngine interface {
	Build(ctx context.Context, dir, tag string) (string, error)
	Probe(ctx context.Context, tag string, window time.Duration) (*engine.ProbeResult, error)
}

// Attempt records one Dockerfile version and the outcome of trying it.
type Attempt struct {
	N          int
	Stage      Stage // StageBuild or StageRuntime
	Dockerfile string
	OK         bool
	Log        string
}

// Result is the terminal outcome of a pipeline run.
type Result struct {
	Succeeded bool

	// Stage is the failing stage; empty on success.
	Stage Stage

	// FailureLog is the truncated tail of the last collaborator log.
	FailureLog string

	ImageID    string
	Tag        string
	Dockerfile string

	// Workspace is the extraction directory; Preserved reports whether it
	// was kept for inspection.
	Workspace string
	Preserved bool

	Attempts  []Attempt
	StartedAt time.Time
	Duration  time.Duration
}

// pipelineState enumerates the control loop's states.
type pipelineState int

const (
	stateDrafting pipelineState = iota
	stateBuilding
	stateHealingBuild
	stateRuntimeTesting
	stateHealingRuntime
)

// Pipeline is the orchestration state machine: it extracts a source bundle,
// drives Dockerfile generation, interprets build and runtime failures, and
// retries with corrected recipes within per-failure-class healing budgets.
type Pipeline struct {
	cfg       Config
	architect Drafter
	engine    BuildEngine
}

// NewPipeline creates a pipeline from a config and its two collaborators.
func NewPipeline(cfg Config, architect Drafter, eng BuildEngine) *Pipeline {
	return &Pipeline{cfg: cfg, architect: architect, engine: eng}
}

// Run executes one containerization attempt for source. The returned Result
// is always non-nil; on any terminal failure err is a *StageError naming the
// failing stage, and the Result additionally carries the truncated log and
// the preserved workspace path. The workspace is cleaned up only when the
// run aborts before a recipe exists, or on infrastructure failure.
func (p *Pipeline) Run(ctx context.Context, source string) (*Result, error) {
	res := &Result{Tag: p.cfg.Tag, StartedAt: time.Now()}
	defer func() { res.Duration = time.Since(res.StartedAt) }()

	ws, err := AcquireWorkspace(ctx, source)
	if err != nil {
		res.Stage = StageExtract
		return res, &StageError{Stage: StageExtract, Err: err}
	}
	defer func() {
		res.Preserved = ws.Preserved()
		ws.Release()
	}()
	res.Workspace = ws.Root

	// The context is captured once; every heal call reuses it so feedback
	// stays consistent with what was originally inspected.
	project, err := BuildProjectContext(ws.Root)
	if err != nil {
		res.Stage = StageExtract
		return res, &StageError{Stage: StageExtract, Err: fmt.Errorf("%w: %v", ErrExtraction, err)}
	}

	var (
		state          = stateDrafting
		dockerfile     string
		lastLog        string
		buildHeals     int
		runtimeHeals   int
		runtimeRebuild bool // building as part of a runtime heal
	)

	fail := func(stage Stage, err error) (*Result, error) {
		res.Stage = stage
		res.FailureLog = lastLog
		res.Dockerfile = dockerfile
		slog.Error("pipeline failed", "stage", stage, "error", err, "workspace", ws.Root)
		return res, &StageError{Stage: stage, Log: lastLog, Err: err}
	}

	for {
		if err := ctx.Err(); err != nil {
			return fail(stageFor(state), err)
		}

		switch state {
		case stateDrafting:
			slog.Info("drafting dockerfile", "model", p.cfg.Model)
			df, err := p.architect.Draft(ctx, project)
			if err != nil {
				// No retry at this layer; backoff lives inside the architect.
				return fail(StageDrafting, err)
			}
			dockerfile = df
			if err := p.persist(ws, project, dockerfile); err != nil {
				return fail(StageDrafting, err)
			}
			state = stateBuilding

		case stateBuilding:
			imageID, err := p.engine.Build(ctx, ws.Root, p.cfg.Tag)
			if err == nil {
				res.ImageID = imageID
				p.record(res, StageBuild, dockerfile, true, "")
				if runtimeRebuild || !p.cfg.SkipRuntime {
					runtimeRebuild = false
					state = stateRuntimeTesting
					continue
				}
				return p.succeed(res, dockerfile)
			}

			var buildErr *engine.BuildError
			if !errors.As(err, &buildErr) {
				// The engine itself is broken, not the recipe. Fatal, no
				// healing, nothing diagnostic in the workspace.
				ws.Discard()
				return fail(StageBuild, err)
			}

			lastLog = buildErr.Log
			p.record(res, StageBuild, dockerfile, false, lastLog)

			if runtimeRebuild {
				// A rebuild for a runtime heal must itself succeed.
				return fail(StageHealRuntime, fmt.Errorf("healed dockerfile failed to rebuild: %w", ErrHealingExhausted))
			}
			if buildHeals >= p.cfg.HealAttempts {
				return fail(StageBuild, ErrHealingExhausted)
			}
			state = stateHealingBuild

		case stateHealingBuild:
			slog.Info("healing build failure", "attempt", buildHeals+1, "budget", p.cfg.HealAttempts)
			df, err := p.architect.HealBuild(ctx, project, dockerfile, lastLog)
			if err != nil {
				// Never silently reuse the recipe that already failed.
				return fail(StageHealBuild, err)
			}
			dockerfile = df
			if err := p.persist(ws, project, dockerfile); err != nil {
				return fail(StageHealBuild, err)
			}
			buildHeals++
			state = stateBuilding

		case stateRuntimeTesting:
			probe, err := p.engine.Probe(ctx, p.cfg.Tag, p.cfg.ProbeWindow)
			if err != nil {
				// Only a dead daemon or a cancelled run voids the workspace;
				// any other probe error leaves the tree for postmortem.
				if errors.Is(err, engine.ErrUnavailable) || errors.Is(err, context.Canceled) ||
					errors.Is(err, context.DeadlineExceeded) {
					ws.Discard()
				}
				return fail(StageRuntime, err)
			}
			if probe.Stable() {
				p.record(res, StageRuntime, dockerfile, true, "")
				return p.succeed(res, dockerfile)
			}

			if probe.Status == engine.ProbeStartFailed {
				lastLog = "container failed to start\n" + probe.Log
			} else {
				lastLog = fmt.Sprintf("container exited with status %d\n%s", probe.ExitCode, probe.Log)
			}
			p.record(res, StageRuntime, dockerfile, false, lastLog)

			if runtimeHeals >= p.cfg.HealAttempts {
				return fail(StageRuntime, ErrHealingExhausted)
			}
			state = stateHealingRuntime

		case stateHealingRuntime:
			slog.Info("healing runtime failure", "attempt", runtimeHeals+1, "budget", p.cfg.HealAttempts)
			df, err := p.architect.HealRuntime(ctx, project, dockerfile, lastLog)
			if err != nil {
				return fail(StageHealRuntime, err)
			}
			dockerfile = df
			if err := p.persist(ws, project, dockerfile); err != nil {
				return fail(StageHealRuntime, err)
			}
			runtimeHeals++
			runtimeRebuild = true
			// Rebuild, then retest: a successful rebuild alone is not success.
			state = stateBuilding
		}
	}
}

func stageFor(s pipelineState) Stage {
	switch s {
	case stateBuilding:
		return StageBuild
	case stateHealingBuild:
		return StageHealBuild
	case stateRuntimeTesting:
		return StageRuntime
	case stateHealingRuntime:
		return StageHealRuntime
	default:
		return StageDrafting
	}
}

// persist writes the current recipe to the fixed workspace path and marks
// the workspace preserved: from here on a failed run leaves the tree behind
// for postmortem.
func (p *Pipeline) persist(ws *Workspace, project *ProjectContext, dockerfile string) error {
	if err := ws.WriteDockerfile(dockerfile); err != nil {
		return fmt.Errorf("write dockerfile: %w", err)
	}
	ws.Preserve()

	if v := project.Violations(dockerfile); len(v) > 0 {
		slog.Warn("dockerfile references files missing from the project",
			"lines", strings.Join(v, " | "))
	}
	return nil
}

func (p *Pipeline) record(res *Result, stage Stage, dockerfile string, ok bool, log string) {
	res.Attempts = append(res.Attempts, Attempt{
		N:          len(res.Attempts) + 1,
		Stage:      stage,
		Dockerfile: dockerfile,
		OK:         ok,
		Log:        log,
	})
}

func (p *Pipeline) succeed(res *Result, dockerfile string) (*Result, error) {
	res.Succeeded = true
	res.Dockerfile = dockerfile
	slog.Info("containerization succeeded", "tag", res.Tag, "image", res.ImageID, "attempts", len(res.Attempts))
	return res, nil
}
