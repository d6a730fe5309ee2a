package report

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/stroke.report/internal/rally/l2proposals"
	"github.com/banshee-data/stroke.report/internal/rally/l4fusion"
	"github.com/banshee-data/stroke.report/internal/rally/l6strokes"
)

func TestRenderTimeline(t *testing.T) {
	t.Parallel()
	events := []l4fusion.Event{
		{Frame: 40, Start: 34, End: 46, Sources: []l4fusion.Source{l4fusion.SourcePose, l4fusion.SourceTrajectory}},
		{Frame: 80, Start: 74, End: 86, Sources: []l4fusion.Source{l4fusion.SourceContact}},
	}
	strokes := []l6strokes.Stroke{
		{Start: 37, End: 43, Peak: 40, StrokeType: l2proposals.Forehand, FormScore: 82},
		{Start: 74, End: 86, Peak: 80, StrokeType: l2proposals.Unknown, Provenance: l6strokes.Provenance{Fallback: true}},
	}

	var buf bytes.Buffer
	require.NoError(t, RenderTimeline(&buf, "run abc", events, strokes))
	html := buf.String()
	assert.Contains(t, html, "<html")
	assert.Contains(t, html, "run abc")
	assert.Contains(t, html, "trajectory")
	assert.Contains(t, html, "forehand")
	assert.Contains(t, html, "(fallback)")
}

func TestRenderTimelineEmpty(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	require.NoError(t, RenderTimeline(&buf, "empty", nil, nil))
	assert.Contains(t, buf.String(), "events=0 strokes=0")
}

func TestSaveVelocityPlot(t *testing.T) {
	t.Parallel()
	series := l2proposals.VelocitySeries{
		Frames: []int{0, 1, 2, 3, 4, 5, 6, 7},
		Values: []float64{0, 5, 8, 40, 85, 60, 20, 5},
	}
	proposals := []l2proposals.Proposal{{Start: 2, End: 6, Peak: 4, MaxVelocity: 85}}

	path := filepath.Join(t.TempDir(), "velocity.png")
	require.NoError(t, SaveVelocityPlot(path, series, 50, proposals))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestVelocityPlotNeedsSamples(t *testing.T) {
	t.Parallel()
	_, err := VelocityPlot(l2proposals.VelocitySeries{}, 800, nil)
	assert.ErrorIs(t, err, ErrNoSamples)
}
