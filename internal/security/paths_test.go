package security

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithinDir(t *testing.T) {
	t.Parallel()
	tmpDir := t.TempDir()
	safeDir := filepath.Join(tmpDir, "safe")
	unsafeDir := filepath.Join(tmpDir, "unsafe")
	require.NoError(t, os.MkdirAll(safeDir, 0o755))
	require.NoError(t, os.MkdirAll(unsafeDir, 0o755))
	require.NoError(t, os.Symlink(unsafeDir, filepath.Join(safeDir, "evil-symlink")))

	tests := []struct {
		name string
		path string
		want bool
	}{
		{"direct child", filepath.Join(safeDir, "audit.jsonl"), true},
		{"nested new dir", filepath.Join(safeDir, "runs", "2026", "audit.jsonl"), true},
		{"dir itself", safeDir, true},
		{"parent traversal", filepath.Join(safeDir, "..", "unsafe", "x"), false},
		{"sibling", filepath.Join(unsafeDir, "x"), false},
		{"through symlink", filepath.Join(safeDir, "evil-symlink", "new.txt"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := WithinDir(tt.path, safeDir)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateOutputPath(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	other := t.TempDir()

	assert.NoError(t, ValidateOutputPath(filepath.Join(dir, "plot.png"), dir))
	assert.NoError(t, ValidateOutputPath(filepath.Join(other, "plot.png"), dir, other))
	assert.ErrorIs(t, ValidateOutputPath(filepath.Join(other, "plot.png"), dir), ErrPathEscapes)
	assert.NoError(t, ValidateOutputPath(filepath.Join(dir, "plot.png")), "temp dir is allowed by default")
	assert.ErrorIs(t, ValidateOutputPath("/etc/stroke-audit.jsonl"), ErrPathEscapes)
}

func TestSanitizeFilename(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in, want string
	}{
		{"stroke_report.db", "stroke_report.db"},
		{"../../etc/passwd", "etc_passwd"},
		{"run 42: final!!", "run_42_final"},
		{"", "unknown"},
		{"***", "unknown"},
		{"émigré-ok", "migr_-ok"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeFilename(tt.in), tt.in)
	}
}
