package autodock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/autodock/autodock/engine"
)

// fakeDrafter serves canned recipes and records the failure evidence each
// heal call received.
type fakeDrafter struct {
	draft    string
	draftErr error

	healBuild   []string
	healRuntime []string

	buildLogs   []string
	runtimeLogs []string
	healedFrom  []string
}

func (d *fakeDrafter) Draft(context.Context, *ProjectContext) (string, error) {
	if d.draftErr != nil {
		return "", d.draftErr
	}
	return d.draft, nil
}

func (d *fakeDrafter) HealBuild(_ context.Context, _ *ProjectContext, dockerfile, buildLog string) (string, error) {
	d.buildLogs = append(d.buildLogs, buildLog)
	d.healedFrom = append(d.healedFrom, dockerfile)
	if len(d.healBuild) == 0 {
		return "", errors.New("fakeDrafter: unexpected HealBuild call")
	}
	out := d.healBuild[0]
	d.healBuild = d.healBuild[1:]
	return out, nil
}

func (d *fakeDrafter) HealRuntime(_ context.Context, _ *ProjectContext, dockerfile, runtimeLog string) (string, error) {
	d.runtimeLogs = append(d.runtimeLogs, runtimeLog)
	d.healedFrom = append(d.healedFrom, dockerfile)
	if len(d.healRuntime) == 0 {
		return "", errors.New("fakeDrafter: unexpected HealRuntime call")
	}
	out := d.healRuntime[0]
	d.healRuntime = d.healRuntime[1:]
	return out, nil
}

type buildStep struct {
	id  string
	err error
}

type probeStep struct {
	res *engine.ProbeResult
	err error
}

// fakeEngine consumes scripted outcomes and captures the Dockerfile content
// present in the build directory at each Build call.
type fakeEngine struct {
	buildSteps []buildStep
	probeSteps []probeStep

	builtRecipes []string
	probeCalls   int
}

func (e *fakeEngine) Build(_ context.Context, dir, _ string) (string, error) {
	content, _ := os.ReadFile(filepath.Join(dir, "Dockerfile"))
	e.builtRecipes = append(e.builtRecipes, string(content))
	if len(e.buildSteps) == 0 {
		return "", errors.New("fakeEngine: unexpected Build call")
	}
	step := e.buildSteps[0]
	e.buildSteps = e.buildSteps[1:]
	return step.id, step.err
}

func (e *fakeEngine) Probe(context.Context, string, time.Duration) (*engine.ProbeResult, error) {
	e.probeCalls++
	if len(e.probeSteps) == 0 {
		return nil, errors.New("fakeEngine: unexpected Probe call")
	}
	step := e.probeSteps[0]
	e.probeSteps = e.probeSteps[1:]
	return step.res, step.err
}

func pipelineSource(t *testing.T) string {
	t.Helper()
	return writeTree(t, map[string]string{
		"app.py":           "print('hi')\n",
		"requirements.txt": "flask\n",
	})
}

// cleanupResult removes a preserved workspace left behind by a test run.
func cleanupResult(t *testing.T, res *Result) {
	t.Helper()
	if res != nil && res.Workspace != "" {
		os.RemoveAll(res.Workspace)
	}
}

var (
	stableProbe = probeStep{res: &engine.ProbeResult{Status: engine.ProbeStable}}
	crashProbe = probeStep{res: &engine.ProbeResult{
		Status:   engine.ProbeExited,
		ExitCode: 1,
		Log:      "ModuleNotFoundError: No module named 'flask'",
	}}
	startFailProbe = probeStep{res: &engine.ProbeResult{
		Status: engine.ProbeStartFailed,
		Log:    `exec: "app.py": executable file not found in $PATH`,
	}}
)

func TestRunHappyPath(t *testing.T) {
	drafter := &fakeDrafter{draft: "FROM python:3.12-slim\nCMD [\"python\", \"app.py\"]"}
	eng := &fakeEngine{
		buildSteps: []buildStep{{id: "sha256:abc"}},
		probeSteps: []probeStep{stableProbe},
	}
	p := NewPipeline(DefaultConfig(), drafter, eng)

	res, err := p.Run(context.Background(), pipelineSource(t))
	defer cleanupResult(t, res)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if !res.Succeeded {
		t.Fatal("Run() did not succeed")
	}
	if res.ImageID != "sha256:abc" {
		t.Errorf("ImageID = %q", res.ImageID)
	}
	if res.Dockerfile != drafter.draft {
		t.Errorf("Dockerfile = %q", res.Dockerfile)
	}
	if eng.probeCalls != 1 {
		t.Errorf("probeCalls = %d, want 1", eng.probeCalls)
	}
	if res.Stage != "" {
		t.Errorf("Stage = %q, want empty on success", res.Stage)
	}
}

func TestRunSkipRuntime(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SkipRuntime = true

	drafter := &fakeDrafter{draft: "FROM python:3.12-slim\nCMD [\"python\", \"app.py\"]"}
	eng := &fakeEngine{buildSteps: []buildStep{{id: "sha256:abc"}}}
	p := NewPipeline(cfg, drafter, eng)

	res, err := p.Run(context.Background(), pipelineSource(t))
	defer cleanupResult(t, res)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if !res.Succeeded {
		t.Fatal("Run() did not succeed")
	}
	if eng.probeCalls != 0 {
		t.Errorf("probeCalls = %d, want 0 when runtime testing is skipped", eng.probeCalls)
	}
}

func TestRunBuildHealThenSucceed(t *testing.T) {
	healed := "FROM python:3.12-slim\nRUN pip install .\nCMD [\"python\", \"app.py\"]"
	drafter := &fakeDrafter{
		draft:     "FROM python:3.12-slim\nCOPY missing.txt .\n",
		healBuild: []string{healed},
	}
	eng := &fakeEngine{
		buildSteps: []buildStep{
			{err: &engine.BuildError{Log: `"/missing.txt" not found`}},
			{id: "sha256:fixed"},
		},
		probeSteps: []probeStep{stableProbe},
	}
	p := NewPipeline(DefaultConfig(), drafter, eng)

	res, err := p.Run(context.Background(), pipelineSource(t))
	defer cleanupResult(t, res)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if !res.Succeeded {
		t.Fatal("Run() did not succeed after healing")
	}
	if len(drafter.buildLogs) != 1 || !strings.Contains(drafter.buildLogs[0], "missing.txt") {
		t.Errorf("heal call did not receive the build log: %v", drafter.buildLogs)
	}
	if len(eng.builtRecipes) != 2 {
		t.Fatalf("builds = %d, want 2", len(eng.builtRecipes))
	}
	if eng.builtRecipes[1] != healed+"\n" {
		t.Errorf("second build used recipe %q, want the healed one", eng.builtRecipes[1])
	}
	if res.Dockerfile != healed {
		t.Errorf("final Dockerfile = %q", res.Dockerfile)
	}
}

func TestRunBuildHealBudgetExhausted(t *testing.T) {
	drafter := &fakeDrafter{
		draft:     "FROM python:3.12-slim\nCOPY missing.txt .\n",
		healBuild: []string{"FROM python:3.12-slim\nCOPY also-missing.txt .\n"},
	}
	eng := &fakeEngine{
		buildSteps: []buildStep{
			{err: &engine.BuildError{Log: "first failure"}},
			{err: &engine.BuildError{Log: "second failure"}},
		},
	}
	p := NewPipeline(DefaultConfig(), drafter, eng)

	res, err := p.Run(context.Background(), pipelineSource(t))
	defer cleanupResult(t, res)
	if err == nil {
		t.Fatal("Run() succeeded, want terminal failure")
	}
	if !errors.Is(err, ErrHealingExhausted) {
		t.Errorf("err = %v, want ErrHealingExhausted", err)
	}
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StageBuild {
		t.Errorf("err = %v, want StageError at %s", err, StageBuild)
	}
	if len(eng.builtRecipes) != 2 {
		t.Errorf("builds = %d, want exactly 2 (one draft, one heal)", len(eng.builtRecipes))
	}
	if res.FailureLog != "second failure" {
		t.Errorf("FailureLog = %q, want the last build log", res.FailureLog)
	}
	if !res.Preserved {
		t.Error("workspace must be preserved once a recipe exists")
	}
	if _, statErr := os.Stat(filepath.Join(res.Workspace, "Dockerfile")); statErr != nil {
		t.Errorf("preserved workspace has no Dockerfile: %v", statErr)
	}
}

func TestRunRuntimeHealRebuildsAndRetests(t *testing.T) {
	faulty := "FROM python:3.12-slim\nCMD [\"app.py\"]"
	healed := "FROM python:3.12-slim\nCMD [\"python\", \"app.py\"]"
	drafter := &fakeDrafter{
		draft:       faulty,
		healRuntime: []string{healed},
	}
	eng := &fakeEngine{
		buildSteps: []buildStep{{id: "sha256:v1"}, {id: "sha256:v2"}},
		probeSteps: []probeStep{crashProbe, stableProbe},
	}
	p := NewPipeline(DefaultConfig(), drafter, eng)

	res, err := p.Run(context.Background(), pipelineSource(t))
	defer cleanupResult(t, res)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if !res.Succeeded {
		t.Fatal("Run() did not succeed after runtime healing")
	}
	if eng.probeCalls != 2 {
		t.Errorf("probeCalls = %d, want rebuild followed by a fresh probe", eng.probeCalls)
	}
	if len(eng.builtRecipes) != 2 || eng.builtRecipes[1] != healed+"\n" {
		t.Errorf("rebuild did not use the healed recipe: %v", eng.builtRecipes)
	}
	if len(drafter.runtimeLogs) != 1 {
		t.Fatalf("runtime heal calls = %d, want 1", len(drafter.runtimeLogs))
	}
	if !strings.Contains(drafter.runtimeLogs[0], "container exited with status 1") {
		t.Errorf("runtime heal log = %q, want exit status framing", drafter.runtimeLogs[0])
	}
	if !strings.Contains(drafter.runtimeLogs[0], "ModuleNotFoundError") {
		t.Errorf("runtime heal log = %q, want the container log tail", drafter.runtimeLogs[0])
	}
	if drafter.healedFrom[0] != faulty {
		t.Errorf("heal received recipe %q, want the one that failed", drafter.healedFrom[0])
	}
}

func TestRunStartRefusalIsHealed(t *testing.T) {
	faulty := "FROM python:3.12-slim\nCMD [\"app.py\"]"
	healed := "FROM python:3.12-slim\nCMD [\"python\", \"app.py\"]"
	drafter := &fakeDrafter{
		draft:       faulty,
		healRuntime: []string{healed},
	}
	eng := &fakeEngine{
		buildSteps: []buildStep{{id: "sha256:v1"}, {id: "sha256:v2"}},
		probeSteps: []probeStep{startFailProbe, stableProbe},
	}
	p := NewPipeline(DefaultConfig(), drafter, eng)

	res, err := p.Run(context.Background(), pipelineSource(t))
	defer cleanupResult(t, res)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if !res.Succeeded {
		t.Fatal("a daemon start refusal is a recipe failure and must be healable")
	}
	if len(drafter.runtimeLogs) != 1 {
		t.Fatalf("runtime heal calls = %d, want 1", len(drafter.runtimeLogs))
	}
	if !strings.Contains(drafter.runtimeLogs[0], "container failed to start") {
		t.Errorf("heal log = %q, want start-failure framing", drafter.runtimeLogs[0])
	}
	if !strings.Contains(drafter.runtimeLogs[0], "executable file not found") {
		t.Errorf("heal log = %q, want the daemon's rejection message", drafter.runtimeLogs[0])
	}
}

func TestRunProbeErrorKeepsWorkspace(t *testing.T) {
	drafter := &fakeDrafter{draft: "FROM python:3.12-slim\nCMD [\"python\", \"app.py\"]"}
	eng := &fakeEngine{
		buildSteps: []buildStep{{id: "sha256:v1"}},
		probeSteps: []probeStep{{err: errors.New("inspect probe container: unexpected EOF")}},
	}
	p := NewPipeline(DefaultConfig(), drafter, eng)

	res, err := p.Run(context.Background(), pipelineSource(t))
	defer cleanupResult(t, res)
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StageRuntime {
		t.Fatalf("err = %v, want StageError at %s", err, StageRuntime)
	}
	if !res.Preserved {
		t.Error("a recipe exists; the workspace must stay preserved for postmortem")
	}
	if _, statErr := os.Stat(filepath.Join(res.Workspace, "Dockerfile")); statErr != nil {
		t.Errorf("preserved workspace has no Dockerfile: %v", statErr)
	}
	if len(drafter.runtimeLogs) != 0 {
		t.Error("probe errors are not runtime verdicts; no heal call expected")
	}
}

func TestRunProbeUnavailableDiscardsWorkspace(t *testing.T) {
	drafter := &fakeDrafter{draft: "FROM python:3.12-slim\nCMD [\"python\", \"app.py\"]"}
	eng := &fakeEngine{
		buildSteps: []buildStep{{id: "sha256:v1"}},
		probeSteps: []probeStep{{err: fmt.Errorf("%w: ping timeout", engine.ErrUnavailable)}},
	}
	p := NewPipeline(DefaultConfig(), drafter, eng)

	res, err := p.Run(context.Background(), pipelineSource(t))
	if !errors.Is(err, engine.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if res.Preserved {
		t.Error("a dead daemon leaves nothing diagnostic; workspace must not be preserved")
	}
	if _, statErr := os.Stat(res.Workspace); !os.IsNotExist(statErr) {
		t.Error("workspace directory must be removed when the daemon is unreachable")
	}
}

func TestRunRuntimeHealBudgetExhausted(t *testing.T) {
	drafter := &fakeDrafter{
		draft:       "FROM python:3.12-slim\nCMD [\"app.py\"]",
		healRuntime: []string{"FROM python:3.12-slim\nCMD [\"python\", \"app.py\"]"},
	}
	eng := &fakeEngine{
		buildSteps: []buildStep{{id: "sha256:v1"}, {id: "sha256:v2"}},
		probeSteps: []probeStep{crashProbe, crashProbe},
	}
	p := NewPipeline(DefaultConfig(), drafter, eng)

	res, err := p.Run(context.Background(), pipelineSource(t))
	defer cleanupResult(t, res)
	if !errors.Is(err, ErrHealingExhausted) {
		t.Fatalf("err = %v, want ErrHealingExhausted", err)
	}
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StageRuntime {
		t.Errorf("err = %v, want StageError at %s", err, StageRuntime)
	}
	if !strings.Contains(res.FailureLog, "container exited with status 1") {
		t.Errorf("FailureLog = %q", res.FailureLog)
	}
	if len(drafter.runtimeLogs) != 1 {
		t.Errorf("runtime heal calls = %d, want exactly 1", len(drafter.runtimeLogs))
	}
}

func TestRunRuntimeHealRebuildFailure(t *testing.T) {
	drafter := &fakeDrafter{
		draft:       "FROM python:3.12-slim\nCMD [\"app.py\"]",
		healRuntime: []string{"FROM python:3.12-slim\nCOPY gone.txt .\n"},
	}
	eng := &fakeEngine{
		buildSteps: []buildStep{
			{id: "sha256:v1"},
			{err: &engine.BuildError{Log: `"/gone.txt" not found`}},
		},
		probeSteps: []probeStep{crashProbe},
	}
	p := NewPipeline(DefaultConfig(), drafter, eng)

	res, err := p.Run(context.Background(), pipelineSource(t))
	defer cleanupResult(t, res)
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StageHealRuntime {
		t.Fatalf("err = %v, want StageError at %s", err, StageHealRuntime)
	}
	if !errors.Is(err, ErrHealingExhausted) {
		t.Errorf("err = %v, want ErrHealingExhausted", err)
	}
	// The rebuild failure is terminal; no second build-heal cycle starts.
	if len(drafter.buildLogs) != 0 {
		t.Errorf("build heal calls = %d, want 0", len(drafter.buildLogs))
	}
}

func TestRunDraftingFailureRemovesWorkspace(t *testing.T) {
	drafter := &fakeDrafter{draftErr: errors.New("model returned prose")}
	p := NewPipeline(DefaultConfig(), drafter, &fakeEngine{})

	res, err := p.Run(context.Background(), pipelineSource(t))
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StageDrafting {
		t.Fatalf("err = %v, want StageError at %s", err, StageDrafting)
	}
	if res.Preserved {
		t.Error("nothing to inspect before a recipe exists; workspace must not be preserved")
	}
	if _, statErr := os.Stat(res.Workspace); !os.IsNotExist(statErr) {
		t.Error("workspace directory must be removed when drafting fails")
	}
}

func TestRunInfrastructureFailureDiscardsWorkspace(t *testing.T) {
	drafter := &fakeDrafter{draft: "FROM python:3.12-slim\nCMD [\"python\", \"app.py\"]"}
	eng := &fakeEngine{buildSteps: []buildStep{{err: engine.ErrUnavailable}}}
	p := NewPipeline(DefaultConfig(), drafter, eng)

	res, err := p.Run(context.Background(), pipelineSource(t))
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StageBuild {
		t.Fatalf("err = %v, want StageError at %s", err, StageBuild)
	}
	if !errors.Is(err, engine.ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
	if len(drafter.buildLogs) != 0 {
		t.Error("daemon failures are not healable; no heal call expected")
	}
	if res.Preserved {
		t.Error("infrastructure failures leave nothing diagnostic; workspace must not be preserved")
	}
	if _, statErr := os.Stat(res.Workspace); !os.IsNotExist(statErr) {
		t.Error("workspace directory must be removed on infrastructure failure")
	}
}

func TestRunSourceNotFound(t *testing.T) {
	p := NewPipeline(DefaultConfig(), &fakeDrafter{}, &fakeEngine{})

	_, err := p.Run(context.Background(), filepath.Join(t.TempDir(), "nope"))
	if !errors.Is(err, ErrSourceNotFound) {
		t.Fatalf("err = %v, want ErrSourceNotFound", err)
	}
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StageExtract {
		t.Errorf("err = %v, want StageError at %s", err, StageExtract)
	}
}

func TestRunAttemptHistory(t *testing.T) {
	drafter := &fakeDrafter{
		draft:     "FROM python:3.12-slim\nCOPY missing.txt .\n",
		healBuild: []string{"FROM python:3.12-slim\nCMD [\"python\", \"app.py\"]"},
	}
	eng := &fakeEngine{
		buildSteps: []buildStep{
			{err: &engine.BuildError{Log: "boom"}},
			{id: "sha256:ok"},
		},
		probeSteps: []probeStep{stableProbe},
	}
	p := NewPipeline(DefaultConfig(), drafter, eng)

	res, err := p.Run(context.Background(), pipelineSource(t))
	defer cleanupResult(t, res)
	if err != nil {
		t.Fatal(err)
	}

	if len(res.Attempts) != 3 {
		t.Fatalf("attempts = %d, want failed build + successful build + probe", len(res.Attempts))
	}
	want := []struct {
		stage Stage
		ok    bool
	}{
		{StageBuild, false},
		{StageBuild, true},
		{StageRuntime, true},
	}
	for i, w := range want {
		if res.Attempts[i].Stage != w.stage || res.Attempts[i].OK != w.ok {
			t.Errorf("attempt %d = %s/%v, want %s/%v",
				i+1, res.Attempts[i].Stage, res.Attempts[i].OK, w.stage, w.ok)
		}
		if res.Attempts[i].N != i+1 {
			t.Errorf("attempt %d numbered %d", i+1, res.Attempts[i].N)
		}
	}
}
