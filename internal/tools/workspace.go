package tools

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
)

// Workspace confines tool file access to one project directory.
type Workspace struct {
	root    string
	ignores *ignore.GitIgnore
}

// NewWorkspace resolves dir and loads its ignore rules (.gitignore and
// .toolloop/ignore).
func NewWorkspace(dir string) (*Workspace, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace root: %w", err)
	}
	return &Workspace{
		root:    resolved,
		ignores: loadIgnoreRules(resolved),
	}, nil
}

// Root returns the resolved workspace directory.
func (w *Workspace) Root() string {
	return w.root
}

// Resolve turns a tool-supplied path (relative to the root, or absolute)
// into an absolute path and checks that it stays inside the workspace after
// symlinks are followed.
func (w *Workspace) Resolve(path string) (string, error) {
	if path == "" {
		path = "."
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(w.root, path)
	}
	cleaned := filepath.Clean(path)

	resolved, err := resolveExistingPath(cleaned)
	if err != nil {
		return "", fmt.Errorf("access denied: cannot resolve path %q: %w", path, err)
	}
	if !isWithinRoot(resolved, w.root) {
		return "", fmt.Errorf("access denied: path %q resolves outside the project directory", path)
	}
	return cleaned, nil
}

// ResolveForWrite is like Resolve but also refuses to write through a symlink.
func (w *Workspace) ResolveForWrite(path string) (string, error) {
	abs, err := w.Resolve(path)
	if err != nil {
		return "", err
	}
	if info, err := os.Lstat(abs); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return "", fmt.Errorf("access denied: refusing to write through symlink %q", path)
	}
	return abs, nil
}

// OpenForWrite truncates or creates an already resolved path without
// following a final symlink, then confirms the opened file still lies inside
// the workspace.
func (w *Workspace) OpenForWrite(abs string) (*os.File, error) {
	f, err := os.OpenFile(abs, os.O_CREATE|os.O_WRONLY|os.O_TRUNC|noFollow, 0644)
	if err != nil {
		return nil, err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err == nil && !isWithinRoot(resolved, w.root) {
		err = fmt.Errorf("access denied: %q moved outside the project directory", w.Rel(abs))
	}
	if err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

// Rel returns path relative to the workspace root for display.
func (w *Workspace) Rel(path string) string {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return path
	}
	return rel
}

// Ignored reports whether a workspace-relative path matches the ignore rules.
func (w *Workspace) Ignored(rel string) bool {
	if w.ignores == nil {
		return false
	}
	return w.ignores.MatchesPath(filepath.ToSlash(rel))
}

// resolveExistingPath resolves the deepest existing ancestor of path with
// EvalSymlinks and appends the part that does not exist yet.
func resolveExistingPath(path string) (string, error) {
	current := path
	var tail []string

	for {
		_, err := os.Lstat(current)
		if err == nil {
			resolved, err := filepath.EvalSymlinks(current)
			if err != nil {
				return "", fmt.Errorf("cannot resolve path %q: %w", current, err)
			}
			for i := len(tail) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, tail[i])
			}
			return filepath.Clean(resolved), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}

		parent := filepath.Dir(current)
		if parent == current {
			return filepath.Clean(path), nil
		}
		tail = append(tail, filepath.Base(current))
		current = parent
	}
}

// isWithinRoot checks if path is within or equal to root.
func isWithinRoot(path, root string) bool {
	if path == root {
		return true
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}

func loadIgnoreRules(root string) *ignore.GitIgnore {
	var lines []string
	for _, name := range []string{".gitignore", filepath.Join(".toolloop", "ignore")} {
		lines = append(lines, readLines(filepath.Join(root, name))...)
	}
	if len(lines) == 0 {
		return nil
	}
	return ignore.CompileIgnoreLines(lines...)
}

func readLines(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines
}
