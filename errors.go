package autodock

import (
	"errors"
	"fmt"
)

// Standard errors returned by the pipeline.
var (
	// ErrSourceNotFound indicates the source argument is neither a readable
	// file nor a URL.
	ErrSourceNotFound = errors.New("source not found")

	// ErrExtraction indicates the source archive could not be unpacked or
	// the repository could not be cloned. Fatal; the workspace is cleaned up.
	ErrExtraction = errors.New("source extraction failed")

	// ErrDrafting indicates the drafting service failed or returned output
	// the sanitizer could not turn into a Dockerfile.
	ErrDrafting = errors.New("dockerfile drafting failed")

	// ErrHealingExhausted indicates a build or runtime failure recurred after
	// its healing budget was spent.
	ErrHealingExhausted = errors.New("healing attempts exhausted")
)

// Stage identifies where in the pipeline a terminal failure occurred.
type Stage string

const (
	StageExtract     Stage = "extract"
	StageDrafting    Stage = "drafting"
	StageBuild       Stage = "build"
	StageHealBuild   Stage = "heal-build"
	StageRuntime     Stage = "runtime"
	StageHealRuntime Stage = "heal-runtime"
)

// StageError wraps a failure with the pipeline stage that produced it and
// the truncated collaborator log, if any.
type StageError struct {
	Stage Stage
	Log   string
	Err   error
}

// Error implements the error interface.
func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *StageError) Unwrap() error {
	return e.Err
}
