// Package engine drives the Docker daemon: it builds candidate images from a
// workspace directory and briefly runs them to judge stability.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
)

const (
	// LogTailBytes is how much of a failure log is kept. Build logs are most
	// diagnostic at the end, so only the tail survives truncation.
	LogTailBytes = 4000

	probePrefix = "autodock-probe-"
)

// ErrUnavailable indicates the Docker daemon itself is unreachable. This is
// an infrastructure failure, distinct from a recipe that fails to build.
var ErrUnavailable = errors.New("docker daemon unavailable")

// BuildError is returned when the daemon rejects a Dockerfile. Log holds the
// trailing LogTailBytes of the build output.
type BuildError struct {
	Log string
}

// Error implements the error interface.
func (e *BuildError) Error() string {
	return "image build failed"
}

// Engine wraps a Docker client for build and probe operations.
type Engine struct {
	client *client.Client
}

// New connects to the Docker daemon, trying multiple socket locations for
// compatibility with Docker Desktop on macOS. It returns ErrUnavailable when
// no daemon answers a ping.
func New(ctx context.Context) (*Engine, error) {
	cli, err := createDockerClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &Engine{client: cli}, nil
}

func createDockerClient(ctx context.Context) (*client.Client, error) {
	// First try with environment settings (DOCKER_HOST, etc.)
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err == nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if _, err := cli.Ping(pingCtx); err == nil {
			return cli, nil
		}
		cli.Close()
	}

	// Try common Docker Desktop socket locations
	socketPaths := []string{
		"unix://" + os.Getenv("HOME") + "/.docker/run/docker.sock", // Docker Desktop macOS
		"unix:///var/run/docker.sock",                              // Linux default
		"unix://" + os.Getenv("HOME") + "/.colima/docker.sock",     // Colima
	}

	for _, socketPath := range socketPaths {
		cli, err := client.NewClientWithOpts(
			client.WithHost(socketPath),
			client.WithAPIVersionNegotiation(),
		)
		if err != nil {
			continue
		}

		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		_, err = cli.Ping(pingCtx)
		cancel()

		if err == nil {
			return cli, nil
		}
		cli.Close()
	}

	return nil, fmt.Errorf("could not connect to Docker daemon")
}

// Build builds an image from dir (which must contain a Dockerfile at its
// root) and tags it. It returns the image ID, or a *BuildError carrying the
// truncated build log when the daemon rejects the recipe.
func (e *Engine) Build(ctx context.Context, dir, tag string) (string, error) {
	buildCtx, err := archive.TarWithOptions(dir, &archive.TarOptions{})
	if err != nil {
		return "", fmt.Errorf("tar build context: %w", err)
	}
	defer buildCtx.Close()

	slog.Info("building image", "tag", tag, "dir", dir)

	resp, err := e.client.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:        []string{tag},
		Dockerfile:  "Dockerfile",
		Remove:      true,
		ForceRemove: true,
	})
	if err != nil {
		if client.IsErrConnectionFailed(err) {
			return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return "", fmt.Errorf("start build: %w", err)
	}
	defer resp.Body.Close()

	imageID, log, err := decodeBuildStream(resp.Body)
	if err != nil {
		return "", &BuildError{Log: tailBytes(log+"\n"+err.Error(), LogTailBytes)}
	}

	if imageID == "" {
		// Older daemons omit the aux message; resolve the tag instead.
		inspect, _, err := e.client.ImageInspectWithRaw(ctx, tag)
		if err != nil {
			return "", fmt.Errorf("inspect built image: %w", err)
		}
		imageID = inspect.ID
	}

	slog.Info("image built", "tag", tag, "id", shortID(imageID))
	return imageID, nil
}

// buildMsg is one JSON message from the daemon's build output stream.
type buildMsg struct {
	Stream      string `json:"stream"`
	Error       string `json:"error"`
	ErrorDetail struct {
		Message string `json:"message"`
	} `json:"errorDetail"`
	Aux json.RawMessage `json:"aux"`
}

// decodeBuildStream consumes the daemon's build output, returning the built
// image ID and the accumulated log. A daemon-reported build error is returned
// as err with the log up to that point.
func decodeBuildStream(r io.Reader) (imageID, log string, err error) {
	var sb strings.Builder
	dec := json.NewDecoder(r)

	for {
		var msg buildMsg
		if derr := dec.Decode(&msg); derr != nil {
			if derr == io.EOF {
				break
			}
			return "", sb.String(), fmt.Errorf("decode build output: %w", derr)
		}

		if msg.Stream != "" {
			sb.WriteString(msg.Stream)
		}
		if msg.Error != "" {
			detail := msg.ErrorDetail.Message
			if detail == "" {
				detail = msg.Error
			}
			return "", sb.String(), errors.New(detail)
		}
		if len(msg.Aux) > 0 {
			var aux struct {
				ID string `json:"ID"`
			}
			if jerr := json.Unmarshal(msg.Aux, &aux); jerr == nil && aux.ID != "" {
				imageID = aux.ID
			}
		}
	}

	return imageID, sb.String(), nil
}

// ProbeStatus classifies what a container did during the observation window.
type ProbeStatus int

const (
	// ProbeStable means the container was still running at window end.
	ProbeStable ProbeStatus = iota
	// ProbeExited means the container exited before window end.
	ProbeExited
	// ProbeStartFailed means the daemon refused to create or start the
	// container. The recipe's runtime configuration is at fault (bad CMD,
	// missing entry point), not the daemon.
	ProbeStartFailed
)

// ProbeResult is the outcome of briefly running a built image.
type ProbeResult struct {
	Status   ProbeStatus
	ExitCode int
	Log      string
}

// Stable reports whether the probe outcome counts as runtime success: still
// running at window end, or already exited with status zero (one-shot task
// containers). A container the daemon refused to start is never stable.
func (r *ProbeResult) Stable() bool {
	switch r.Status {
	case ProbeStable:
		return true
	case ProbeExited:
		return r.ExitCode == 0
	default:
		return false
	}
}

// Probe starts a container from tag, waits for the observation window, and
// reports whether it stayed alive or how it exited. The probe container is
// always stopped and removed.
func (e *Engine) Probe(ctx context.Context, tag string, window time.Duration) (*ProbeResult, error) {
	name := probePrefix + uuid.NewString()[:8]

	created, err := e.client.ContainerCreate(ctx, &container.Config{Image: tag}, nil, nil, nil, name)
	if err != nil {
		if client.IsErrConnectionFailed(err) {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		// The daemon is reachable but refused the container config. The
		// recipe caused this ("No command specified" and friends), so it is
		// a runtime verdict, not an error.
		return &ProbeResult{Status: ProbeStartFailed, Log: err.Error()}, nil
	}
	defer e.removeContainer(created.ID)

	if err := e.client.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		if client.IsErrConnectionFailed(err) {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		// Start rejections name the broken entry point, the exact input the
		// runtime heal needs.
		return &ProbeResult{Status: ProbeStartFailed, Log: err.Error()}, nil
	}

	slog.Info("probing container stability", "tag", tag, "window", window)

	select {
	case <-time.After(window):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	inspect, err := e.client.ContainerInspect(ctx, created.ID)
	if err != nil {
		return nil, fmt.Errorf("inspect probe container: %w", err)
	}

	result := &ProbeResult{}
	if inspect.State != nil && inspect.State.Running {
		result.Status = ProbeStable
		return result, nil
	}

	result.Status = ProbeExited
	if inspect.State != nil {
		result.ExitCode = inspect.State.ExitCode
	}
	result.Log = tailBytes(e.containerLogs(ctx, created.ID), LogTailBytes)
	return result, nil
}

// containerLogs fetches the tail of a container's combined output.
func (e *Engine) containerLogs(ctx context.Context, containerID string) string {
	reader, err := e.client.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       "100",
	})
	if err != nil {
		return ""
	}
	defer reader.Close()

	var output strings.Builder
	if _, err := stdcopy.StdCopy(&output, &output, reader); err != nil && err != io.EOF {
		return output.String()
	}
	return output.String()
}

// removeContainer force-removes a probe container, stopping it first.
func (e *Engine) removeContainer(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	timeout := 5
	_ = e.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout})
	if err := e.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		slog.Warn("failed to remove probe container", "id", shortID(containerID), "error", err)
	}
}

// Close closes the Docker client.
func (e *Engine) Close() error {
	if e.client != nil {
		return e.client.Close()
	}
	return nil
}

func shortID(id string) string {
	id = strings.TrimPrefix(id, "sha256:")
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// tailBytes keeps the trailing n bytes of s.
func tailBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
