package l5classify

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/stroke.report/internal/rally/geometry"
	"github.com/banshee-data/stroke.report/internal/rally/l1inputs"
	"github.com/banshee-data/stroke.report/internal/rally/l4fusion"
)

// HeuristicConfig holds the elbow-trend classifier tunables.
type HeuristicConfig struct {
	// Lookback and Lookahead bound the sampled frames around the event.
	Lookback  int
	Lookahead int
	// MinDelta is the smallest net elbow change in degrees that decides
	// a label.
	MinDelta float64
	// KeypointConfidence is the floor for keypoint-derived angles.
	KeypointConfidence float64
}

// DefaultHeuristicConfig returns the tuned defaults.
func DefaultHeuristicConfig() HeuristicConfig {
	return HeuristicConfig{
		Lookback:           8,
		Lookahead:          4,
		MinDelta:           15,
		KeypointConfidence: 0.3,
	}
}

// minElbowSamples is the fewest elbow samples a trend is read from.
const minElbowSamples = 3

// HeuristicClassifier labels events from the dominant elbow's net trend:
// an opening elbow is read as a backhand, a closing one as a forehand.
type HeuristicClassifier struct {
	cfg HeuristicConfig
}

// NewHeuristicClassifier creates the numeric strategy.
func NewHeuristicClassifier(cfg HeuristicConfig) *HeuristicClassifier {
	if cfg.MinDelta <= 0 {
		cfg.MinDelta = DefaultHeuristicConfig().MinDelta
	}
	return &HeuristicClassifier{cfg: cfg}
}

// Name implements EventClassifier.
func (h *HeuristicClassifier) Name() string { return StrategyHeuristic }

// Classify implements EventClassifier.
func (h *HeuristicClassifier) Classify(_ context.Context, ev l4fusion.Event, ec *EventContext) Result {
	side := ec.DominantSide()
	var frames []int
	var angles []float64
	for f := ev.Frame - h.cfg.Lookback; f <= ev.Frame+h.cfg.Lookahead; f++ {
		if ec.Poses == nil {
			break
		}
		pose, ok := ec.Poses.At(f, l1inputs.PersonSubject)
		if !ok {
			continue
		}
		a, ok := geometry.JointAngle(pose, side, "elbow", h.cfg.KeypointConfidence)
		if !ok {
			continue
		}
		frames = append(frames, f)
		angles = append(angles, a)
	}

	res := Result{SampledFrames: frames, Strategy: StrategyHeuristic}
	if len(angles) < minElbowSamples {
		res.Label = LabelUncertain
		res.Reason = ReasonFewSamples
		return res
	}

	smooth := smooth3(angles)
	trend := smooth[len(smooth)-1] - smooth[0]
	if math.Abs(trend) < h.cfg.MinDelta {
		res.Label = LabelUncertain
		res.Reason = fmt.Sprintf("%s (%.1f deg)", ReasonSmallTrend, trend)
		res.Confidence = clampConfidence(0.5 * math.Abs(trend) / h.cfg.MinDelta)
		return res
	}
	if trend > 0 {
		res.Label = LabelBackhand
	} else {
		res.Label = LabelForehand
	}
	res.Confidence = clampConfidence(0.5 * math.Abs(trend) / h.cfg.MinDelta)
	res.Reason = fmt.Sprintf("elbow trend %+.1f deg over %d samples", trend, len(angles))
	tracef("event %d: %s conf=%.2f trend=%.1f", ev.Frame, res.Label, res.Confidence, trend)
	return res
}

// smooth3 is a centred three-sample moving average with shrunken edges.
func smooth3(v []float64) []float64 {
	out := make([]float64, len(v))
	for i := range v {
		lo := max(0, i-1)
		hi := min(len(v), i+2)
		out[i] = stat.Mean(v[lo:hi], nil)
	}
	return out
}
