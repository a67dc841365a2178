// Package paths resolves the filesystem locations codetax reads and writes.
package paths

import (
	"os"
	"path"
	"path/filepath"
	"strings"
)

// DataDirName is the per-workspace directory holding config and history
const DataDirName = ".codetax"

// DataDir returns the data directory under root
func DataDir(root string) string {
	return filepath.Join(root, DataDirName)
}

// Resolve returns p unchanged when absolute, otherwise joined to root
func Resolve(root, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}

// CanonicalizePath converts a path to a root-relative path with forward
// slashes. Symlinks are resolved on both sides when they exist.
func CanonicalizePath(p string, root string) (string, error) {
	resolved, err := filepath.EvalSymlinks(p)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", err
		}
		resolved = p
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

// IsWithin reports whether p lies inside root
func IsWithin(p string, root string) bool {
	canonical, err := CanonicalizePath(p, root)
	if err != nil {
		return false
	}
	return canonical != ".." && !strings.HasPrefix(canonical, "../")
}

// SplitRepo splits a relative match path into its first component, the
// repository directory, and the rest. Absolute paths, paths leaving the
// working directory and bare file names do not split.
func SplitRepo(p string) (repo, rest string, ok bool) {
	p = filepath.ToSlash(p)
	if path.IsAbs(p) || filepath.IsAbs(p) {
		return "", "", false
	}
	p = path.Clean(p)
	repo, rest, ok = strings.Cut(p, "/")
	if !ok || repo == ".." || rest == "" {
		return "", "", false
	}
	return repo, rest, true
}
