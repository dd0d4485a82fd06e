// Package fsutil holds small path helpers shared by config and bootstrap.
package fsutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ExpandHome expands a leading '~' to the user's home directory.
func ExpandHome(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home dir: %w", err)
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~/")), nil
}

// ResolveUnder returns p as an absolute path. '~' is expanded and a relative
// p is taken relative to base (itself '~'-expanded).
func ResolveUnder(base, p string) (string, error) {
	p, err := ExpandHome(p)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(p) {
		root, err := ExpandHome(base)
		if err != nil {
			return "", err
		}
		p = filepath.Join(root, p)
	}
	return filepath.Abs(p)
}

// PathExists reports whether path exists. Errors other than not-exist (for
// example permission denied) count as existing so the caller surfaces them
// when it opens the file.
func PathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil || !errors.Is(err, os.ErrNotExist)
}
