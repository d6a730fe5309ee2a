package fsutil

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryFileSystemCreateVisibleOnClose(t *testing.T) {
	t.Parallel()
	m := NewMemoryFileSystem()

	w, err := m.Create("/runs/a/../audit.jsonl")
	require.NoError(t, err)
	_, err = io.WriteString(w, "{}\n")
	require.NoError(t, err)
	assert.False(t, m.Exists("/runs/audit.jsonl"))

	require.NoError(t, w.Close())
	data, err := m.ReadFile("/runs/audit.jsonl")
	require.NoError(t, err)
	assert.Equal(t, "{}\n", string(data))
	assert.ErrorIs(t, w.Close(), fs.ErrClosed)
	_, err = w.Write([]byte("x"))
	assert.ErrorIs(t, err, fs.ErrClosed)
}

func TestMemoryFileSystemReadMissing(t *testing.T) {
	t.Parallel()
	_, err := NewMemoryFileSystem().ReadFile("/nope")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestMemoryFileSystemMkdirAll(t *testing.T) {
	t.Parallel()
	m := NewMemoryFileSystem()
	require.NoError(t, m.MkdirAll("/out/charts/2026", 0o755))
	for _, dir := range []string{"/out", "/out/charts", "/out/charts/2026"} {
		assert.True(t, m.Exists(dir), dir)
	}
	assert.Empty(t, m.Files())
}

func TestWriteArtifact(t *testing.T) {
	t.Parallel()
	m := NewMemoryFileSystem()
	require.NoError(t, WriteArtifact(m, "/out/charts/timeline.html", func(w io.Writer) error {
		_, err := io.WriteString(w, "<html></html>")
		return err
	}))
	assert.True(t, m.Exists("/out/charts"))
	assert.Equal(t, []string{"/out/charts/timeline.html"}, m.Files())
}

func TestWriteArtifactRenderError(t *testing.T) {
	t.Parallel()
	m := NewMemoryFileSystem()
	boom := errors.New("boom")
	err := WriteArtifact(m, "partial.txt", func(w io.Writer) error {
		_, _ = io.WriteString(w, "half")
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "partial.txt")

	data, err := m.ReadFile("partial.txt")
	require.NoError(t, err, "writer is closed on failure")
	assert.Equal(t, "half", string(data))
}

func TestOSFileSystemWriteArtifact(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "audit.jsonl")
	var osfs OSFileSystem
	require.NoError(t, WriteArtifact(osfs, path, func(w io.Writer) error {
		_, err := io.WriteString(w, "line\n")
		return err
	}))
	assert.True(t, osfs.Exists(path))
	data, err := osfs.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "line\n", string(data))

	info, err := os.Stat(filepath.Dir(path))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
