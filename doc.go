// Package autodock turns an arbitrary source bundle into a working container
// image without human intervention.
//
// It alternates between a reasoning step (asking an LLM to propose or fix a
// Dockerfile) and a verification step (building the image and briefly running
// it), bounded by per-failure-class healing budgets. The main pieces are:
//
//   - Workspace: extraction of a zip/tar archive or a cloned repository into
//     a temporary directory, with cleanup/preservation policy
//   - ProjectContext: a deterministic, size-bounded description of the tree
//     (listing, manifest excerpts, and the missing-manifest facts the LLM
//     must never contradict)
//   - Architect: the drafting and healing prompts around an llm.LLM backend
//   - Pipeline: the state machine that drives draft, build, probe, and heal
//
// # Quick Start
//
//	eng, err := engine.New(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Close()
//
//	backend, err := llm.New(ctx, "anthropic/claude-sonnet-4-20250514")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	p := autodock.NewPipeline(autodock.Config{Tag: "my-app:latest"},
//	    autodock.NewArchitect(backend), eng)
//	result, err := p.Run(ctx, "./project.zip")
//
// On success the built image carries the configured tag and the final
// Dockerfile sits at the workspace root. On failure the result reports the
// stage that failed, the tail of the underlying log, and the preserved
// workspace path for postmortem.
//
// The Docker build/run engine lives in package engine, the LLM backends in
// package llm, and run history persistence in package store. The autodock
// command in cmd/autodock wires them together.
package autodock
