package l2proposals

import (
	"github.com/banshee-data/stroke.report/internal/rally/geometry"
)

// StrokeType is the forehand/backhand label carried by proposals and
// final strokes.
type StrokeType string

const (
	Forehand StrokeType = "forehand"
	Backhand StrokeType = "backhand"
	Unknown  StrokeType = "unknown"
)

// Proposal is a candidate stroke window found from wrist motion.
type Proposal struct {
	Start           int                `json:"start"`
	End             int                `json:"end"`
	Peak            int                `json:"peak"`
	MaxVelocity     float64            `json:"max_velocity"`
	ProvisionalType StrokeType         `json:"provisional_type"`
	Metrics         map[string]float64 `json:"metrics,omitempty"`
	FormScore       float64            `json:"form_score"`
}

// Frames returns the window length in frames, inclusive.
func (p Proposal) Frames() int {
	return p.End - p.Start + 1
}

// Config holds the tunables of the proposal detector.
type Config struct {
	// VelocityThreshold is the minimum dominant-wrist speed (px/s) for
	// a frame to be a stroke peak.
	VelocityThreshold float64
	// MinPeakSeparation is the minimum distance in frames between two
	// accepted peaks. The faster peak wins.
	MinPeakSeparation int
	// WindowRatio is the fraction of the peak velocity the window
	// expands through.
	WindowRatio float64
	// MinStrokeFrames and MaxStrokeFrames bound the window length.
	// MaxStrokeFrames of zero disables the upper bound.
	MinStrokeFrames int
	MaxStrokeFrames int
	// ElbowGateDegrees rejects a peak whose elbow flexed by more than
	// this over the ElbowGateLookback frames before it.
	ElbowGateDegrees  float64
	ElbowGateLookback int
	// KeypointConfidence is the floor below which keypoints are ignored.
	KeypointConfidence float64
	// FPS converts frame gaps to seconds when timestamps are unusable.
	FPS float64

	Handedness geometry.Handedness
	Facing     geometry.Facing
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{
		VelocityThreshold:  800,
		MinPeakSeparation:  10,
		WindowRatio:        0.3,
		MinStrokeFrames:    4,
		MaxStrokeFrames:    60,
		ElbowGateDegrees:   5,
		ElbowGateLookback:  2,
		KeypointConfidence: 0.3,
		FPS:                30,
		Handedness:         geometry.RightHanded,
		Facing:             geometry.FacingToward,
	}
}
