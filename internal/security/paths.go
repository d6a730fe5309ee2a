// Package security guards the file paths the CLI and server write to.
package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrPathEscapes is returned for paths outside every allowed directory.
var ErrPathEscapes = errors.New("path escapes allowed directories")

// canonical resolves path to an absolute path with symlinks evaluated on
// its longest existing prefix, so a not-yet-created file under a
// symlinked directory resolves to the link target.
func canonical(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	rest := ""
	for dir := abs; ; {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			return filepath.Join(resolved, rest), nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs, nil
		}
		rest = filepath.Join(filepath.Base(dir), rest)
		dir = parent
	}
}

// WithinDir reports whether path resolves inside dir.
func WithinDir(path, dir string) (bool, error) {
	p, err := canonical(path)
	if err != nil {
		return false, err
	}
	d, err := canonical(dir)
	if err != nil {
		return false, err
	}
	rel, err := filepath.Rel(d, p)
	if err != nil {
		return false, nil
	}
	escapes := rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel)
	return !escapes, nil
}

// ValidateOutputPath checks that path lies inside one of allowed. With
// no allowed directories the working directory and the temp directory
// are used.
func ValidateOutputPath(path string, allowed ...string) error {
	if len(allowed) == 0 {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("working directory: %w", err)
		}
		allowed = []string{cwd, os.TempDir()}
	}
	for _, dir := range allowed {
		ok, err := WithinDir(path, dir)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return fmt.Errorf("%s: %w %v", path, ErrPathEscapes, allowed)
}

// SanitizeFilename keeps ASCII letters, digits, dot, underscore and dash,
// folds every other run of characters into one underscore and caps the
// result at 128 bytes. An empty result becomes "unknown".
func SanitizeFilename(s string) string {
	const maxLen = 128
	out := make([]byte, 0, min(len(s), maxLen))
	for _, r := range s {
		if len(out) >= maxLen {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			out = append(out, byte(r))
		case len(out) == 0 || out[len(out)-1] != '_':
			out = append(out, '_')
		}
	}
	name := strings.Trim(string(out), "._")
	if name == "" {
		return "unknown"
	}
	return name
}
