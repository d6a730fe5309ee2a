package l1inputs

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeTrackPoints(t *testing.T) {
	t.Parallel()

	t.Run("json array", func(t *testing.T) {
		t.Parallel()
		pts, err := DecodeTrackPoints(strings.NewReader(`[
			{"frame": 1, "x": 10, "y": 20, "confidence": 0.9},
			{"frame": 2, "x": 12, "y": 21, "confidence": 0.8, "bbox": {"x1": 8, "y1": 18, "x2": 16, "y2": 24}}
		]`))
		require.NoError(t, err)
		require.Len(t, pts, 2)
		assert.Equal(t, 2, pts[1].Frame)
		require.NotNil(t, pts[1].BBox)
		cx, cy := pts[1].Center()
		assert.InDelta(t, 12.0, cx, 1e-9)
		assert.InDelta(t, 21.0, cy, 1e-9)
	})

	t.Run("json lines", func(t *testing.T) {
		t.Parallel()
		pts, err := DecodeTrackPoints(strings.NewReader("{\"frame\":1,\"x\":1,\"y\":1}\n{\"frame\":2,\"x\":2,\"y\":2}\n"))
		require.NoError(t, err)
		assert.Len(t, pts, 2)
	})

	t.Run("empty input", func(t *testing.T) {
		t.Parallel()
		pts, err := DecodeTrackPoints(strings.NewReader("   \n"))
		require.NoError(t, err)
		assert.Empty(t, pts)
	})

	t.Run("malformed", func(t *testing.T) {
		t.Parallel()
		_, err := DecodeTrackPoints(strings.NewReader(`[{"frame": "x"}]`))
		assert.Error(t, err)
	})
}

func TestLoadPoseFrames(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "poses.json")
	content := `[{"frame_number": 3, "timestamp": 0.1, "person_id": 0,
		"keypoints": {"right_wrist": {"x": 100, "y": 200, "confidence": 0.9}},
		"joint_angles": {"right_elbow": 120},
		"body_metrics": {"hip_rotation": 15}}]`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	frames, err := LoadPoseFrames(path)
	require.NoError(t, err)
	require.Len(t, frames, 1)

	kp, ok := frames[0].Keypoint(RightWrist, 0.5)
	require.True(t, ok)
	assert.Equal(t, 100.0, kp.X)

	_, ok = frames[0].Keypoint(RightWrist, 0.95)
	assert.False(t, ok, "confidence floor should reject the keypoint")

	angle, ok := frames[0].JointAngle(RightElbow)
	require.True(t, ok)
	assert.Equal(t, 120.0, angle)

	empty := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(empty, []byte("[]"), 0o644))
	_, err = LoadPoseFrames(empty)
	assert.ErrorIs(t, err, ErrNoFrames)
}

func TestTrackPointValid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		p    TrackPoint
		want bool
	}{
		{"ok", TrackPoint{Frame: 1, X: 3, Y: 4}, true},
		{"negative x", TrackPoint{Frame: 1, X: -1, Y: 4}, false},
		{"nan", TrackPoint{Frame: 1, X: math.NaN(), Y: 4}, false},
		{"negative frame", TrackPoint{Frame: -2, X: 1, Y: 1}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.p.Valid())
		})
	}
}

func TestPoseIndex(t *testing.T) {
	t.Parallel()

	frames := []PoseFrame{
		{FrameNumber: 10, PersonID: 0},
		{FrameNumber: 10, PersonID: 1},
		{FrameNumber: 12, PersonID: 0},
		{FrameNumber: 5, PersonID: 0},
	}
	ix := NewPoseIndex(frames)

	assert.Equal(t, 4, ix.Len())
	assert.Equal(t, 12, ix.MaxFrame())

	f, ok := ix.Nearest(11, 0, 2)
	require.True(t, ok)
	assert.Equal(t, 10, f.FrameNumber, "ties prefer the earlier frame")

	_, ok = ix.Nearest(8, 1, 1)
	assert.False(t, ok)

	within := ix.Within(11, 1)
	require.Len(t, within, 3)
	assert.Equal(t, 10, within[0].FrameNumber)
	assert.Equal(t, 0, within[0].PersonID)
	assert.Equal(t, 1, within[1].PersonID)
	assert.Equal(t, 12, within[2].FrameNumber)

	subject := ix.Person(PersonSubject)
	require.Len(t, subject, 3)
	assert.Equal(t, []int{5, 10, 12}, []int{subject[0].FrameNumber, subject[1].FrameNumber, subject[2].FrameNumber})
}

func TestTrackIndex(t *testing.T) {
	t.Parallel()

	box := &Rect{X1: 0, Y1: 0, X2: 10, Y2: 10}
	ix := NewTrackIndex([]TrackPoint{
		{Frame: 4, X: 4, Y: 4, BBox: box},
		{Frame: 2, X: 2, Y: 2},
		{Frame: 6, X: -1, Y: 6},
		{Frame: 8, X: 8, Y: 8},
	})

	assert.Equal(t, 3, ix.Len(), "invalid point is not indexed")
	pts := ix.Points()
	require.Len(t, pts, 3)
	assert.Equal(t, 2, pts[0].Frame)

	p, ok := ix.Nearest(6, 2)
	require.True(t, ok)
	assert.Equal(t, 4, p.Frame)

	assert.Len(t, ix.Range(3, 8), 2)
	assert.Equal(t, 8, ix.MaxFrame())
	assert.Equal(t, -1, NewTrackIndex(nil).MaxFrame())

	got, ok := ix.LastBoxAtOrBefore(9)
	require.True(t, ok)
	assert.Equal(t, *box, *got)

	_, ok = ix.LastBoxAtOrBefore(3)
	assert.False(t, ok)
}
