package l3detect

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/stroke.report/internal/rally/l1inputs"
)

// ReversalConfig holds the sensitivity floors of the reversal detector.
type ReversalConfig struct {
	// Window is the number of frame steps in each of the trailing and
	// leading direction windows.
	Window int
	// MinConfidence is the floor on the mean ball confidence across the
	// two windows.
	MinConfidence float64
	// MinDelta is the minimum |median dx| in px/frame for each window.
	MinDelta float64
	// MinSpan is the minimum combined horizontal travel in px across the
	// two windows.
	MinSpan float64
	// MinGap clusters reversals closer than this many frames.
	MinGap int
	// Smoothing is the moving-average width applied to x. Values below 2
	// disable smoothing.
	Smoothing int
}

// DefaultReversalConfig returns the tuned defaults.
func DefaultReversalConfig() ReversalConfig {
	return ReversalConfig{
		Window:        4,
		MinConfidence: 0.3,
		MinDelta:      2.0,
		MinSpan:       20.0,
		MinGap:        10,
		Smoothing:     3,
	}
}

// Reversal is a candidate hit frame where the ball's horizontal direction
// flipped. Strength is |trailing - leading| median velocity in px/frame.
type Reversal struct {
	Frame    int     `json:"frame"`
	Strength float64 `json:"strength"`
	Trailing float64 `json:"trailing"`
	Leading  float64 `json:"leading"`
}

// DetectReversals returns reversal frames ordered by frame. Invalid points
// are skipped; tracks shorter than two full windows yield nothing.
func DetectReversals(track []l1inputs.TrackPoint, cfg ReversalConfig) []Reversal {
	def := DefaultReversalConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	w := cfg.Window

	pts := l1inputs.NewTrackIndex(track).Points()
	if len(pts) < 2*w+1 {
		return nil
	}

	xs := make([]float64, len(pts))
	confs := make([]float64, len(pts))
	for i, p := range pts {
		xs[i], _ = p.Center()
		confs[i] = p.Confidence
	}
	xs = movingAverage(xs, cfg.Smoothing)

	// dx[j] is the per-frame step arriving at j, normalised for gaps.
	dx := make([]float64, len(pts))
	for j := 1; j < len(pts); j++ {
		gap := pts[j].Frame - pts[j-1].Frame
		if gap <= 0 {
			gap = 1
		}
		dx[j] = (xs[j] - xs[j-1]) / float64(gap)
	}

	var found []Reversal
	for i := w; i+w < len(pts); i++ {
		if stat.Mean(confs[i-w:i+w+1], nil) < cfg.MinConfidence {
			continue
		}
		trailing := median(dx[i-w+1 : i+1])
		leading := median(dx[i+1 : i+w+1])
		if math.Abs(trailing) < cfg.MinDelta || math.Abs(leading) < cfg.MinDelta {
			continue
		}
		if (trailing > 0) == (leading > 0) {
			continue
		}
		span := math.Abs(xs[i]-xs[i-w]) + math.Abs(xs[i+w]-xs[i])
		if span < cfg.MinSpan {
			continue
		}
		r := Reversal{
			Frame:    pts[i].Frame,
			Strength: math.Abs(trailing - leading),
			Trailing: trailing,
			Leading:  leading,
		}
		tracef("reversal candidate frame=%d trailing=%.2f leading=%.2f span=%.1f", r.Frame, trailing, leading, span)
		found = append(found, r)
	}

	out := clusterReversals(found, cfg.MinGap)
	diagf("reversals: %d from %d track points (%d raw)", len(out), len(pts), len(found))
	return out
}

// clusterReversals chains reversals whose successive frames are closer
// than minGap and keeps the strongest of each chain. Ties keep the
// earlier frame.
func clusterReversals(found []Reversal, minGap int) []Reversal {
	if len(found) == 0 {
		return nil
	}
	var out []Reversal
	best := found[0]
	prev := found[0].Frame
	for _, r := range found[1:] {
		if r.Frame-prev < minGap {
			if r.Strength > best.Strength {
				best = r
			}
		} else {
			out = append(out, best)
			best = r
		}
		prev = r.Frame
	}
	return append(out, best)
}

// ReversalFrames extracts the frame numbers.
func ReversalFrames(rs []Reversal) []int {
	out := make([]int, len(rs))
	for i, r := range rs {
		out[i] = r.Frame
	}
	return out
}

// movingAverage returns a centred moving average of width n, shrinking the
// window at the edges.
func movingAverage(v []float64, n int) []float64 {
	if n < 2 {
		return v
	}
	half := n / 2
	out := make([]float64, len(v))
	for i := range v {
		lo := max(0, i-half)
		hi := min(len(v), i+half+1)
		out[i] = stat.Mean(v[lo:hi], nil)
	}
	return out
}

// median returns the median of v without modifying it.
func median(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	s := append([]float64(nil), v...)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}
