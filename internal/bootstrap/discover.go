package bootstrap

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"predictd/internal/common/fsutil"
)

// ScanDir walks dir for *.onnx artifacts and returns their absolute paths in
// lexical order. A leading '~' is expanded.
func ScanDir(dir string) ([]string, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	var out []string
	err = filepath.WalkDir(abs, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(strings.ToLower(d.Name()), ".onnx") {
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	sort.Strings(out)
	return out, nil
}

// ResolvePath maps a configured artifact path to an absolute one. Absolute
// paths are kept, relative paths are joined with modelsDir, and an empty path
// selects the first *.onnx under modelsDir/<name>.
func ResolvePath(modelsDir, name, path string) (string, error) {
	if path != "" {
		return fsutil.ResolveUnder(modelsDir, path)
	}
	dir, err := fsutil.ResolveUnder(modelsDir, name)
	if err != nil {
		return "", err
	}
	found, err := ScanDir(dir)
	if err != nil {
		return "", err
	}
	if len(found) == 0 {
		return "", fmt.Errorf("no .onnx artifact under %s", dir)
	}
	return found[0], nil
}

// resolveOptional is ResolvePath for optional artifacts: empty stays empty.
func resolveOptional(modelsDir, path string) (string, error) {
	if path == "" {
		return "", nil
	}
	return fsutil.ResolveUnder(modelsDir, path)
}
