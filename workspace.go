package autodock

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Workspace owns the temporary directory a source bundle is unpacked into.
// Exactly one workspace is live per pipeline run.
type Workspace struct {
	// Root is the extraction directory.
	Root string

	preserved bool
}

// AcquireWorkspace unpacks source into a fresh uniquely-named temporary
// directory. Source may be a .zip or .tar.gz archive path, a plain directory,
// or an http(s) repository URL (cloned shallowly). Failures wrap
// ErrExtraction or ErrSourceNotFound.
func AcquireWorkspace(ctx context.Context, source string) (*Workspace, error) {
	root, err := os.MkdirTemp("", "autodock-"+uuid.NewString()[:8]+"-")
	if err != nil {
		return nil, fmt.Errorf("%w: create temp dir: %v", ErrExtraction, err)
	}

	ws := &Workspace{Root: root}
	if err := ws.populate(ctx, source); err != nil {
		ws.Release()
		return nil, err
	}

	slog.Info("workspace acquired", "source", source, "root", root)
	return ws, nil
}

func (w *Workspace) populate(ctx context.Context, source string) error {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return w.clone(ctx, source)
	}

	info, err := os.Stat(source)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrSourceNotFound, source)
	}

	switch {
	case info.IsDir():
		return w.copyTree(source)
	case strings.HasSuffix(source, ".zip"):
		return w.extractZip(source)
	case strings.HasSuffix(source, ".tar.gz") || strings.HasSuffix(source, ".tgz"):
		return w.extractTarGz(source)
	default:
		return fmt.Errorf("%w: unsupported source format: %s", ErrExtraction, source)
	}
}

// clone performs a shallow git clone of a repository URL into the workspace.
func (w *Workspace) clone(ctx context.Context, url string) error {
	git, err := exec.LookPath("git")
	if err != nil {
		return fmt.Errorf("%w: git not found in PATH", ErrExtraction)
	}

	cmd := exec.CommandContext(ctx, git, "clone", "--depth", "1", url, w.Root)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%w: git clone: %v: %s", ErrExtraction, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// extractZip unpacks a zip archive into the workspace root.
func (w *Workspace) extractZip(path string) error {
	r, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("%w: open zip: %v", ErrExtraction, err)
	}
	defer r.Close()

	for _, f := range r.File {
		dest, err := w.safePath(f.Name)
		if err != nil {
			return err
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return fmt.Errorf("%w: %v", ErrExtraction, err)
			}
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrExtraction, err)
		}
		err = writeEntry(rc, dest, f.Mode())
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// extractTarGz unpacks a gzipped tarball into the workspace root.
func (w *Workspace) extractTarGz(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: open archive: %v", ErrExtraction, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrExtraction, err)
		}

		dest, err := w.safePath(hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return fmt.Errorf("%w: %v", ErrExtraction, err)
			}
		case tar.TypeReg:
			if err := writeEntry(tr, dest, hdr.FileInfo().Mode()); err != nil {
				return err
			}
		}
	}
	return nil
}

// copyTree copies a plain source directory into the workspace root so the
// pipeline can overwrite its Dockerfile without touching the original.
func (w *Workspace) copyTree(src string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("%w: %v", ErrExtraction, err)
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrExtraction, err)
		}
		if rel == "." {
			return nil
		}
		dest := filepath.Join(w.Root, rel)

		if d.IsDir() {
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return fmt.Errorf("%w: %v", ErrExtraction, err)
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		in, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrExtraction, err)
		}
		defer in.Close()

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrExtraction, err)
		}
		return writeEntry(in, dest, info.Mode())
	})
}

// safePath resolves an archive entry name under the workspace root, rejecting
// entries that would escape it.
func (w *Workspace) safePath(name string) (string, error) {
	dest := filepath.Join(w.Root, filepath.FromSlash(name))
	if dest != w.Root && !strings.HasPrefix(dest, w.Root+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: archive entry escapes workspace: %s", ErrExtraction, name)
	}
	return dest, nil
}

func writeEntry(r io.Reader, dest string, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrExtraction, err)
	}

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode.Perm())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	return out.Close()
}

// DockerfilePath is where the generated recipe lives inside the workspace.
// It is overwritten in place on every heal, never versioned on disk.
func (w *Workspace) DockerfilePath() string {
	return filepath.Join(w.Root, "Dockerfile")
}

// WriteDockerfile persists recipe content at the fixed workspace path.
func (w *Workspace) WriteDockerfile(content string) error {
	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(w.DockerfilePath(), []byte(content), 0o644)
}

// Preserve marks the workspace as kept on Release. Once a recipe exists, the
// tree is deliberately left behind on failure so a human can inspect the last
// Dockerfile, logs, and files.
func (w *Workspace) Preserve() {
	w.preserved = true
}

// Discard clears preservation so Release removes the tree even after a
// recipe was written. Used for infrastructure failures, where nothing in the
// workspace is diagnostic.
func (w *Workspace) Discard() {
	w.preserved = false
}

// Preserved reports whether Release will keep the directory.
func (w *Workspace) Preserved() bool {
	return w.preserved
}

// Release deletes the workspace directory unless it was preserved.
func (w *Workspace) Release() {
	if w.preserved {
		slog.Info("workspace preserved for inspection", "root", w.Root)
		return
	}
	if w.Root != "" {
		if err := os.RemoveAll(w.Root); err != nil {
			slog.Warn("failed to remove workspace", "root", w.Root, "error", err)
		}
	}
}
