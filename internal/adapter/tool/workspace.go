package tool

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"a3sist/internal/domain"
)

// Workspace confines file tool operations to a root directory. Every
// path a tool touches must resolve inside it, symlinks included.
type Workspace struct {
	root string // absolute, symlink-resolved
}

// NewWorkspace creates a workspace rooted at the given directory.
func NewWorkspace(root string) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("eval symlinks for workspace root: %w", err)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("stat workspace root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace root %q is not a directory", resolved)
	}

	return &Workspace{root: resolved}, nil
}

// Root returns the resolved workspace root.
func (w *Workspace) Root() string { return w.root }

// Resolve checks that a requested path stays inside the workspace and
// returns its resolved absolute form. Relative paths are joined onto
// the root. Symlinks are resolved before the containment check so a
// link cannot escape.
func (w *Workspace) Resolve(requested string) (string, error) {
	if requested == "" || requested == "." {
		return w.root, nil
	}
	if !filepath.IsAbs(requested) {
		requested = filepath.Join(w.root, requested)
	}

	abs, err := filepath.Abs(requested)
	if err != nil {
		return "", domain.NewDomainError("Workspace.Resolve", domain.ErrPathOutsideWorkspace, err.Error())
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		// Path does not exist yet; validate the parent instead.
		parent := filepath.Dir(abs)
		resolvedParent, err2 := filepath.EvalSymlinks(parent)
		if err2 != nil {
			return "", domain.NewDomainError("Workspace.Resolve", domain.ErrPathOutsideWorkspace, err2.Error())
		}
		resolved = filepath.Join(resolvedParent, filepath.Base(abs))
	}

	if !w.contains(resolved) {
		return "", domain.NewDomainError("Workspace.Resolve", domain.ErrPathOutsideWorkspace,
			fmt.Sprintf("resolved %q is outside root %q", resolved, w.root))
	}
	return resolved, nil
}

func (w *Workspace) contains(path string) bool {
	return path == w.root || strings.HasPrefix(path, w.root+string(os.PathSeparator))
}
