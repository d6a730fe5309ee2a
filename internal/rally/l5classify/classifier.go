package l5classify

import (
	"context"
	"errors"
	"math"
	"strings"

	"github.com/banshee-data/stroke.report/internal/rally/geometry"
	"github.com/banshee-data/stroke.report/internal/rally/l1inputs"
	"github.com/banshee-data/stroke.report/internal/rally/l4fusion"
)

// Label is a classification outcome.
type Label string

const (
	LabelForehand  Label = "forehand"
	LabelBackhand  Label = "backhand"
	LabelNoHit     Label = "no_hit"
	LabelUncertain Label = "uncertain"
)

// Strategy names.
const (
	StrategyHeuristic = "heuristic"
	StrategyExternal  = "external"
)

// Reason codes for degraded results.
const (
	ReasonNoCredentials = "no_credentials"
	ReasonNoFrames      = "no_frames"
	ReasonTransport     = "transport_error"
	ReasonHTTPStatus    = "http_status"
	ReasonParse         = "parse_error"
	ReasonCancelled     = "cancelled"
	ReasonFewSamples    = "insufficient_samples"
	ReasonSmallTrend    = "trend_below_threshold"
)

var (
	// ErrNoCredentials is returned when the external model has no API key.
	ErrNoCredentials = errors.New("external classifier: no credentials configured")
	// ErrEmptyResponse is returned when the model reply has no content.
	ErrEmptyResponse = errors.New("external classifier: empty response")
)

// Result is the immutable outcome of classifying one event.
type Result struct {
	Label         Label   `json:"label"`
	Confidence    float64 `json:"confidence"`
	Reason        string  `json:"reason"`
	ContactFrame  *int    `json:"contact_frame"`
	SampledFrames []int   `json:"sampled_frames"`
	// Strategy names the classifier that produced the result.
	Strategy string `json:"strategy"`
	// Degraded marks a safe fallback produced by a failure path.
	Degraded bool `json:"degraded,omitempty"`
	// RawResponse holds the external model's reply text, if any.
	RawResponse string `json:"raw_response,omitempty"`
}

// EventContext carries the read-only run state a classifier may consult.
type EventContext struct {
	Poses      *l1inputs.PoseIndex
	Track      *l1inputs.TrackIndex
	Meta       l1inputs.VideoMeta
	Handedness geometry.Handedness
	Facing     geometry.Facing
}

// DominantSide resolves the hitting arm's keypoint side.
func (c *EventContext) DominantSide() geometry.Side {
	return geometry.DominantSide(c.Handedness, c.Facing)
}

// EventClassifier labels a fused event. Implementations never return an
// error; failures are reported as uncertain results with Degraded set.
type EventClassifier interface {
	Name() string
	Classify(ctx context.Context, ev l4fusion.Event, ec *EventContext) Result
}

// degraded builds the safe fallback for a failed classification.
func degraded(strategy, reason string, sampled []int, raw string) Result {
	return Result{
		Label:         LabelUncertain,
		Confidence:    0,
		Reason:        reason,
		SampledFrames: sampled,
		Strategy:      strategy,
		Degraded:      true,
		RawResponse:   raw,
	}
}

func clampConfidence(c float64) float64 {
	if math.IsNaN(c) || c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

var labelReplacer = strings.NewReplacer(" ", "_", "-", "_")

// ParseLabel normalises free-form label text. Unrecognised text maps to
// uncertain with ok=false.
func ParseLabel(s string) (Label, bool) {
	switch l := Label(labelReplacer.Replace(strings.ToLower(strings.TrimSpace(s)))); l {
	case LabelForehand, LabelBackhand, LabelNoHit, LabelUncertain:
		return l, true
	case "nohit", "none":
		return LabelNoHit, true
	}
	return LabelUncertain, false
}
