package autodock

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
)

// manifestFiles is the canonical list of files that define a project's tech
// stack or that build backends commonly require. Order matters: the rendered
// missing-files section follows it.
var manifestFiles = []string{
	"package.json",
	"requirements.txt",
	"go.mod",
	"pom.xml",
	"main.py",
	"app.py",
	"index.js",
	"pyproject.toml",
	"setup.py",
	"README.md",
	"README.rst",
	"README.txt",
	"LICENSE",
}

// excludedDirs are noise directories never included in the inventory.
var excludedDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	"__pycache__":  true,
	"node_modules": true,
	".venv":        true,
	"venv":         true,
	"env":          true,
	".idea":        true,
	".vscode":      true,
	"target":       true,
	"dist":         true,
}

// excerptBytes bounds how much of each manifest file is quoted.
const excerptBytes = 1000

// ManifestExcerpt is the head of one recognized manifest file.
type ManifestExcerpt struct {
	Name    string // base name from manifestFiles
	Path    string // relative path in the workspace
	Content string // first excerptBytes bytes, malformed bytes replaced
}

// ProjectContext is the serialized project description fed to every drafting
// and healing call. It is captured once per run and never re-derived, so heal
// feedback stays consistent with what was originally inspected.
type ProjectContext struct {
	// Files lists every relative path in the workspace, in deterministic
	// pre-order, excluding noise directories.
	Files []string

	// Excerpts holds the head of each recognized manifest found in the tree.
	Excerpts []ManifestExcerpt

	// Missing lists recognized manifest names absent everywhere in the tree.
	// Downstream prompts instruct the model never to reference these.
	Missing []string

	tree      string
	rootFiles []string
}

// BuildProjectContext walks a workspace root and produces its context.
// Traversal order is stable, so the same tree always renders identically.
// A workspace .gitignore, if present, excludes additional paths.
func BuildProjectContext(root string) (*ProjectContext, error) {
	rules := gitignoreRules(root)

	ctx := &ProjectContext{}
	var tree strings.Builder
	found := make(map[string]bool)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		if d.IsDir() {
			if excludedDirs[d.Name()] || (rules != nil && rules.MatchesPath(rel+"/")) {
				return filepath.SkipDir
			}
			fmt.Fprintf(&tree, "%s%s/\n", indentFor(rel), d.Name())
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if rules != nil && rules.MatchesPath(rel) {
			return nil
		}

		fmt.Fprintf(&tree, "%s%s\n", indentFor(rel), d.Name())
		ctx.Files = append(ctx.Files, filepath.ToSlash(rel))
		if filepath.Dir(rel) == "." {
			ctx.rootFiles = append(ctx.rootFiles, d.Name())
		}

		if isManifest(d.Name()) {
			found[d.Name()] = true
			ctx.Excerpts = append(ctx.Excerpts, ManifestExcerpt{
				Name:    d.Name(),
				Path:    filepath.ToSlash(rel),
				Content: readExcerpt(path),
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("inventory walk: %w", err)
	}

	ctx.tree = tree.String()
	for _, name := range manifestFiles {
		if !found[name] {
			ctx.Missing = append(ctx.Missing, name)
		}
	}
	return ctx, nil
}

// gitignoreRules compiles the workspace's own .gitignore, if any.
func gitignoreRules(root string) *ignore.GitIgnore {
	data, err := os.ReadFile(filepath.Join(root, ".gitignore"))
	if err != nil {
		return nil
	}
	return ignore.CompileIgnoreLines(strings.Split(string(data), "\n")...)
}

func indentFor(rel string) string {
	depth := strings.Count(filepath.ToSlash(rel), "/")
	return strings.Repeat("    ", depth)
}

func isManifest(name string) bool {
	for _, m := range manifestFiles {
		if name == m {
			return true
		}
	}
	return false
}

// readExcerpt reads the head of a manifest file. A single unreadable file
// never aborts context extraction; malformed bytes are replaced.
func readExcerpt(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	buf := make([]byte, excerptBytes)
	n, _ := f.Read(buf)
	return strings.ToValidUTF8(string(buf[:n]), "�")
}

// Render serializes the context for a prompt. Re-rendering an unmodified
// tree yields byte-identical output.
func (c *ProjectContext) Render() string {
	var b strings.Builder

	b.WriteString("Project Structure:\n")
	b.WriteString(c.tree)
	b.WriteString("\n")

	b.WriteString("=== ROOT DIRECTORY FILES ===\n")
	for _, f := range c.rootFiles {
		fmt.Fprintf(&b, "  - %s\n", f)
	}
	b.WriteString("\n")

	b.WriteString("=== ALL FILES THAT ACTUALLY EXIST ===\n")
	b.WriteString(strings.Join(c.Files, "\n"))
	b.WriteString("\n\n")

	b.WriteString("Key File Contents:\n")
	for _, e := range c.Excerpts {
		fmt.Fprintf(&b, "--- %s ---\n%s\n", e.Path, e.Content)
	}

	if len(c.Missing) > 0 {
		b.WriteString("\n=== MISSING STANDARD FILES ===\n")
		fmt.Fprintf(&b, "The following common files do NOT exist: %s\n", strings.Join(c.Missing, ", "))
		b.WriteString("Do NOT attempt to COPY or reference these files in the Dockerfile!\n")
	}

	return b.String()
}

// IsMissing reports whether name is on the missing-manifest list.
func (c *ProjectContext) IsMissing(name string) bool {
	for _, m := range c.Missing {
		if m == name {
			return true
		}
	}
	return false
}

// Violations returns the Dockerfile lines that reference files from the
// missing-manifest list. COPY and ADD instructions referencing a file the
// model was told does not exist are the dominant cause of build failures.
func (c *ProjectContext) Violations(dockerfile string) []string {
	var out []string
	for _, line := range strings.Split(dockerfile, "\n") {
		trimmed := strings.TrimSpace(line)
		upper := strings.ToUpper(trimmed)
		if !strings.HasPrefix(upper, "COPY ") && !strings.HasPrefix(upper, "ADD ") {
			continue
		}
		for _, name := range c.Missing {
			if containsWord(trimmed, name) {
				out = append(out, trimmed)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// containsWord reports whether s contains name as a path token rather than
// as a substring of a longer filename.
func containsWord(s, name string) bool {
	for _, tok := range strings.Fields(s) {
		tok = strings.TrimPrefix(tok, "./")
		if tok == name || strings.HasSuffix(tok, "/"+name) {
			return true
		}
	}
	return false
}
