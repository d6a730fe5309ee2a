// Package testutil provides shared test helpers and rally fixtures.
package testutil

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/banshee-data/stroke.report/internal/rally/l1inputs"
)

// Meta is a 1280x720 30 fps recording of 120 frames.
var Meta = l1inputs.VideoMeta{Width: 1280, Height: 720, FPS: 30, TotalFrames: 120}

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// DecodeJSON unmarshals a recorded response body into v.
func DecodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

// ZigzagTrack moves the ball 10px/frame and turns every 20 frames, giving
// reversals at 20, 40, 60, 80 and 100.
func ZigzagTrack() []l1inputs.TrackPoint {
	out := make([]l1inputs.TrackPoint, Meta.TotalFrames)
	for f := range out {
		phase := f % 40
		if phase > 20 {
			phase = 40 - phase
		}
		out[f] = l1inputs.TrackPoint{Frame: f, X: 400 + 10*float64(phase), Y: 200, Confidence: 0.9}
	}
	return out
}

// SwingPoses holds the subject's right wrist still except for one fast
// swing peaking at frame 40 (1800 px/s).
func SwingPoses() []l1inputs.PoseFrame {
	inc := map[int]float64{37: 5, 38: 20, 39: 40, 40: 60, 41: 40, 42: 20, 43: 5}
	out := make([]l1inputs.PoseFrame, Meta.TotalFrames)
	x := 300.0
	for f := range out {
		x += inc[f]
		out[f] = l1inputs.PoseFrame{
			FrameNumber: f,
			Timestamp:   float64(f) / Meta.FPS,
			PersonID:    l1inputs.PersonSubject,
			Keypoints: map[string]l1inputs.Keypoint{
				l1inputs.RightWrist: {X: x, Y: 100, Confidence: 0.9},
			},
		}
	}
	return out
}
