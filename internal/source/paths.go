package source

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// CanonicalizePath converts a path to a root-relative, slash-separated path.
// Symlinks are resolved when the target exists.
func CanonicalizePath(path, root string) (string, error) {
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(root, path)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", err
		}
		resolved = abs
	}
	rootResolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", err
		}
		rootResolved = root
	}
	rel, err := filepath.Rel(rootResolved, resolved)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

// NormalizeFocus validates a focus subdirectory and returns it root-relative.
// An empty focus, "." and the root itself all mean "no focus".
func NormalizeFocus(focus, root string) (string, error) {
	if focus == "" {
		return "", nil
	}
	rel, err := CanonicalizePath(focus, root)
	if err != nil {
		return "", err
	}
	if rel == "." {
		return "", nil
	}
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("focus %q is outside %s", focus, root)
	}
	info, err := os.Stat(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("focus %q is not a directory", focus)
	}
	return strings.TrimSuffix(rel, "/"), nil
}

// WithinFocus reports whether rel lies inside focus. Every path is within an empty focus.
func WithinFocus(rel, focus string) bool {
	if focus == "" {
		return true
	}
	return rel == focus || strings.HasPrefix(rel, focus+"/")
}
