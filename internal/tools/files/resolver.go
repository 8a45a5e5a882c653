// Package files provides path resolution and the file tools.
package files

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Resolver canonicalizes tool-facing paths. "~/" expands to Home; when
// Root is set, any path whose canonical form escapes Root is rejected.
type Resolver struct {
	// Home is the data directory substituted for "~".
	Home string

	// Root restricts resolved paths to a directory tree. Empty = no
	// restriction. Relative paths resolve against Root.
	Root string
}

// Resolve canonicalizes path and enforces the Root restriction.
func (r Resolver) Resolve(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}

	if path == "~" {
		path = r.Home
	} else if strings.HasPrefix(path, "~/") {
		path = filepath.Join(r.Home, path[2:])
	}

	if !filepath.IsAbs(path) {
		base := r.Root
		if base == "" {
			base = "."
		}
		path = filepath.Join(base, path)
	}
	resolved, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}

	if r.Root != "" {
		root, err := filepath.Abs(filepath.Clean(r.Root))
		if err != nil {
			return "", fmt.Errorf("resolve root: %w", err)
		}
		// Compare canonical forms: a symlink inside the root must not
		// grant access to its target outside.
		root, err = canonicalize(root)
		if err != nil {
			return "", fmt.Errorf("resolve root: %w", err)
		}
		resolved, err = canonicalize(resolved)
		if err != nil {
			return "", fmt.Errorf("resolve path: %w", err)
		}
		if resolved != root && !strings.HasPrefix(resolved, root+string(filepath.Separator)) {
			return "", fmt.Errorf("path escapes allowed directory: %s", path)
		}
	}
	return resolved, nil
}

// canonicalize resolves symlinks in the longest existing prefix of
// path and re-joins the rest, so paths that do not exist yet (a file
// about to be written) still canonicalize.
func canonicalize(path string) (string, error) {
	suffix := ""
	for p := path; ; {
		real, err := filepath.EvalSymlinks(p)
		if err == nil {
			return filepath.Join(real, suffix), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(p)
		if parent == p {
			return path, nil
		}
		suffix = filepath.Join(filepath.Base(p), suffix)
		p = parent
	}
}
