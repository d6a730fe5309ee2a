package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/stroke.report/internal/db"
	"github.com/banshee-data/stroke.report/internal/fsutil"
	auditlog "github.com/banshee-data/stroke.report/internal/rally/debug"
	"github.com/banshee-data/stroke.report/internal/rally/l1inputs"
	"github.com/banshee-data/stroke.report/internal/rally/pipeline"
	"github.com/banshee-data/stroke.report/internal/security"
	"github.com/banshee-data/stroke.report/internal/testutil"
)

func writeJSON(t *testing.T, dir, name string, v any) string {
	t.Helper()
	path := filepath.Join(dir, name)
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestParseOptions(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{"track only", []string{"-track", "t.json"}, false},
		{"poses only", []string{"-poses", "p.json", "-log-level", "trace"}, false},
		{"no inputs", []string{"-width", "1280"}, true},
		{"bad log level", []string{"-track", "t.json", "-log-level", "verbose"}, true},
		{"unknown flag", []string{"-track", "t.json", "-nope"}, true},
		{"version needs nothing", []string{"-version"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := parseOptions(tt.args, io.Discard)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFillMeta(t *testing.T) {
	t.Parallel()
	got := fillMeta(l1inputs.VideoMeta{Width: 1920, FPS: 60}, l1inputs.VideoMeta{Width: 1280, Height: 720, FPS: 30, TotalFrames: 900})
	assert.Equal(t, l1inputs.VideoMeta{Width: 1920, Height: 720, FPS: 60, TotalFrames: 900}, got)
}

func TestVelocitySeriesUsesRecordingFrameRate(t *testing.T) {
	t.Parallel()
	poses := testutil.SwingPoses()
	for i := range poses {
		poses[i].Timestamp = 0
	}
	meta := testutil.Meta
	meta.FPS = 60

	series := velocitySeries(pipeline.DefaultConfig(), pipeline.Input{Poses: poses, Meta: meta})
	require.Len(t, series.Values, len(poses))
	assert.InDelta(t, 3600.0, series.Values[40], 1e-6, "60px per frame at 60 fps")
}

func TestAnalyseWritesOutputs(t *testing.T) {
	dir := t.TempDir()
	o := &options{
		trackPath: writeJSON(t, dir, "track.json", testutil.ZigzagTrack()),
		posesPath: writeJSON(t, dir, "poses.json", testutil.SwingPoses()),
		width:     testutil.Meta.Width,
		height:    testutil.Meta.Height,
		fps:       testutil.Meta.FPS,
		frames:    testutil.Meta.TotalFrames,
		auditPath: filepath.Join(dir, "audit.jsonl"),
		plotPath:  filepath.Join(dir, "velocity.png"),
		chartPath: filepath.Join(dir, "timeline.html"),
		dbPath:    filepath.Join(dir, "runs.db"),
		logLevel:  "ops",
		quiet:     true,
	}

	var stdout bytes.Buffer
	require.NoError(t, analyse(context.Background(), o, &stdout, io.Discard))

	var out struct {
		RunID   string `json:"run_id"`
		Status  string `json:"status"`
		Strokes []struct {
			Peak int `json:"peak_frame"`
		} `json:"strokes"`
		Summary struct {
			Total int `json:"total"`
		} `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &out))
	assert.Equal(t, "completed", out.Status)
	assert.Len(t, out.Strokes, 5)
	assert.Equal(t, 5, out.Summary.Total)

	f, err := os.Open(o.auditPath)
	require.NoError(t, err)
	defer f.Close()
	rec, err := auditlog.ReadAudit(f)
	require.NoError(t, err)
	assert.Equal(t, out.RunID, rec.RunID)
	assert.Len(t, rec.Strokes, 5)

	for _, p := range []string{o.plotPath, o.chartPath} {
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.Greater(t, info.Size(), int64(0), p)
	}

	database, err := db.NewDB(o.dbPath)
	require.NoError(t, err)
	defer database.Close()
	run, err := db.NewRunStore(database).GetRun(out.RunID)
	require.NoError(t, err)
	assert.Equal(t, "completed", run.Status)
	assert.Equal(t, 5, run.StrokeCount)
}

func TestAnalyseExternalOverrideWithoutKey(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("STROKE_MODEL_API_KEY", "")
	o := &options{
		trackPath:  writeJSON(t, dir, "track.json", testutil.ZigzagTrack()),
		classifier: "external",
		width:      testutil.Meta.Width,
		height:     testutil.Meta.Height,
		fps:        testutil.Meta.FPS,
		logLevel:   "ops",
		quiet:      true,
	}

	var stdout bytes.Buffer
	require.NoError(t, analyse(context.Background(), o, &stdout, io.Discard))
	var out struct {
		Detail   string `json:"detail"`
		Strategy string `json:"strategy"`
	}
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &out))
	assert.Equal(t, "classification_degraded", out.Detail)
	assert.Equal(t, "external", out.Strategy)
}

func TestAnalyseBadTuning(t *testing.T) {
	dir := t.TempDir()
	o := &options{
		trackPath:  writeJSON(t, dir, "track.json", testutil.ZigzagTrack()),
		tuningPath: filepath.Join(dir, "tuning.yaml"),
		logLevel:   "ops",
		quiet:      true,
	}
	assert.Error(t, analyse(context.Background(), o, io.Discard, io.Discard))

	o.tuningPath = ""
	o.classifier = "oracle"
	assert.Error(t, analyse(context.Background(), o, io.Discard, io.Discard))
}

func TestAnalyseArtifactsInMemory(t *testing.T) {
	dir := t.TempDir()
	mem := fsutil.NewMemoryFileSystem()
	o := &options{
		trackPath: writeJSON(t, dir, "track.json", testutil.ZigzagTrack()),
		posesPath: writeJSON(t, dir, "poses.json", testutil.SwingPoses()),
		width:     testutil.Meta.Width,
		height:    testutil.Meta.Height,
		fps:       testutil.Meta.FPS,
		auditPath: filepath.Join(dir, "out", "audit.jsonl"),
		chartPath: filepath.Join(dir, "out", "timeline.html"),
		logLevel:  "ops",
		quiet:     true,
		out:       mem,
	}
	require.NoError(t, analyse(context.Background(), o, io.Discard, io.Discard))

	assert.Equal(t, []string{o.auditPath, o.chartPath}, mem.Files())
	chart, err := mem.ReadFile(o.chartPath)
	require.NoError(t, err)
	assert.Contains(t, string(chart), "<html")
	_, err = os.Stat(o.chartPath)
	assert.True(t, errors.Is(err, os.ErrNotExist), "nothing written to disk")
}

func TestAnalyseRejectsEscapingOutput(t *testing.T) {
	dir := t.TempDir()
	o := &options{
		trackPath: writeJSON(t, dir, "track.json", testutil.ZigzagTrack()),
		chartPath: "/proc/stroke-timeline.html",
		logLevel:  "ops",
		quiet:     true,
	}
	err := analyse(context.Background(), o, io.Discard, io.Discard)
	assert.ErrorIs(t, err, security.ErrPathEscapes)
}
