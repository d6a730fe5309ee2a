package l3detect

import (
	"math"

	"github.com/golang/geo/r2"

	"github.com/banshee-data/stroke.report/internal/rally/geometry"
	"github.com/banshee-data/stroke.report/internal/rally/l1inputs"
)

// ContactConfig holds the tunables of the wrist/ball proximity detector.
type ContactConfig struct {
	// MinConfidence is the ball confidence floor.
	MinConfidence float64
	// DistanceFactor scales the frame diagonal into the contact distance
	// threshold in px.
	DistanceFactor float64
	// FrameTolerance is how far (±frames) to look for pose frames around
	// each ball point.
	FrameTolerance int
	// MinGap suppresses a flag within this many frames of the previous one.
	MinGap int
	// KeypointConfidence is the wrist confidence floor.
	KeypointConfidence float64
}

// DefaultContactConfig returns the tuned defaults.
func DefaultContactConfig() ContactConfig {
	return ContactConfig{
		MinConfidence:      0.3,
		DistanceFactor:     0.06,
		FrameTolerance:     2,
		MinGap:             10,
		KeypointConfidence: 0.3,
	}
}

// Contact is a frame where the ball came within reach of a wrist.
type Contact struct {
	Frame    int     `json:"frame"`
	Distance float64 `json:"distance"`
	PersonID int     `json:"person_id"`
}

// DetectContacts flags ball points that come within threshold of any
// tracked wrist. The threshold is DistanceFactor times the frame
// diagonal; when the recording size is unknown no contacts are flagged.
func DetectContacts(track []l1inputs.TrackPoint, poses *l1inputs.PoseIndex, meta l1inputs.VideoMeta, cfg ContactConfig) []Contact {
	threshold := cfg.DistanceFactor * meta.Diagonal()
	if threshold <= 0 || poses == nil || poses.Len() == 0 {
		return nil
	}

	var out []Contact
	last := math.MinInt
	for _, p := range l1inputs.NewTrackIndex(track).Points() {
		if p.Confidence < cfg.MinConfidence {
			continue
		}
		if last != math.MinInt && p.Frame-last < cfg.MinGap {
			continue
		}
		bx, by := p.Center()
		ball := r2.Point{X: bx, Y: by}

		best := math.Inf(1)
		bestPerson := -1
		for _, f := range poses.Within(p.Frame, cfg.FrameTolerance) {
			for _, side := range []geometry.Side{geometry.SideLeft, geometry.SideRight} {
				kp, ok := f.Keypoint(side.Name("wrist"), cfg.KeypointConfidence)
				if !ok {
					continue
				}
				if d := geometry.Distance(ball, geometry.Point(kp)); d < best {
					best = d
					bestPerson = f.PersonID
				}
			}
		}
		if best >= threshold {
			continue
		}
		tracef("contact frame=%d person=%d distance=%.1f threshold=%.1f", p.Frame, bestPerson, best, threshold)
		out = append(out, Contact{Frame: p.Frame, Distance: best, PersonID: bestPerson})
		last = p.Frame
	}
	diagf("contacts: %d flagged (threshold %.1fpx)", len(out), threshold)
	return out
}

// ContactFrames extracts the frame numbers.
func ContactFrames(cs []Contact) []int {
	out := make([]int, len(cs))
	for i, c := range cs {
		out[i] = c.Frame
	}
	return out
}
