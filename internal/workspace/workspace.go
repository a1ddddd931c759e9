// Package workspace manages the per-task directory tree bind-mounted into
// containers, and is the only sanctioned way to turn a client-supplied
// relative path into a filesystem operation.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidPath is returned whenever a client-supplied path would escape
// its task's workspace root, including via a symlink.
var ErrInvalidPath = errors.New("invalid path")

// For returns the absolute path of a task's workspace directory. Pure
// function; does not touch the filesystem.
func For(root, userName string, taskID uint64) string {
	abs, _ := filepath.Abs(filepath.Join(root, userName, fmt.Sprintf("task_%d", taskID)))
	return abs
}

// Ensure creates the workspace directory if it does not already exist.
func Ensure(path string) error {
	return os.MkdirAll(path, 0o755)
}

// EnsureIsSubpath resolves base/userPath to its canonical, symlink-resolved
// form and verifies the result still lives under base's canonical form.
// This is the only sanctioned way to translate a client-supplied relative
// path into a filesystem operation; every file-serving endpoint must route
// through it.
func EnsureIsSubpath(base, userPath string) (string, error) {
	baseReal, err := realOrAbs(base)
	if err != nil {
		return "", fmt.Errorf("resolving base %q: %w", base, err)
	}

	candidate := filepath.Join(baseReal, userPath)
	targetReal, err := realOrAbs(candidate)
	if err != nil {
		return "", fmt.Errorf("resolving %q: %w", candidate, err)
	}

	if targetReal != baseReal && !strings.HasPrefix(targetReal, baseReal+string(os.PathSeparator)) {
		return "", ErrInvalidPath
	}
	return targetReal, nil
}

// realOrAbs resolves symlinks when the path exists; for a path that does not
// yet exist (e.g. a download target under a directory that does exist) it
// falls back to its cleaned absolute form so `EnsureIsSubpath` can still be
// used defensively before writes, not only reads.
func realOrAbs(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return abs, nil
		}
		return "", err
	}
	return real, nil
}

// FileNode is the client-facing shape of one filesystem entry.
type FileNode struct {
	Path  string `json:"path"`
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Size  *int64 `json:"size,omitempty"`
}

// ListDir returns path's direct children. Returns an empty list if path does
// not exist.
func ListDir(path string) ([]FileNode, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []FileNode{}, nil
		}
		return nil, err
	}

	nodes := make([]FileNode, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue // entry vanished mid-walk; skip silently
		}
		node := FileNode{
			Path:  entry.Name(),
			Name:  entry.Name(),
			IsDir: entry.IsDir(),
		}
		if !entry.IsDir() {
			size := info.Size()
			node.Size = &size
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// Tree recursively lists base's contents up to maxDepth levels below it.
// Files whose stat fails mid-walk (e.g. deleted concurrently) are skipped
// silently rather than failing the whole listing.
func Tree(base string, maxDepth int) ([]FileNode, error) {
	var nodes []FileNode

	baseReal, err := realOrAbs(base)
	if err != nil {
		return nil, err
	}

	err = filepath.Walk(baseReal, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return nil // stat failed for this entry; skip it, keep walking
		}
		if path == baseReal {
			return nil
		}

		rel, err := filepath.Rel(baseReal, path)
		if err != nil {
			return nil
		}
		depth := len(strings.Split(rel, string(os.PathSeparator)))
		if depth > maxDepth {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		node := FileNode{
			Path:  filepath.ToSlash(rel),
			Name:  info.Name(),
			IsDir: info.IsDir(),
		}
		if !info.IsDir() {
			size := info.Size()
			node.Size = &size
		}
		nodes = append(nodes, node)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return nodes, nil
}
