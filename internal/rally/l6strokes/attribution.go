package l6strokes

import (
	"math"

	"github.com/banshee-data/stroke.report/internal/rally/geometry"
	"github.com/banshee-data/stroke.report/internal/rally/l1inputs"
	"github.com/banshee-data/stroke.report/internal/rally/l4fusion"
)

// Hitter identifies who struck the ball.
type Hitter string

const (
	HitterPlayer   Hitter = "player"
	HitterOpponent Hitter = "opponent"
	HitterUnknown  Hitter = "unknown"
)

// Attribution reason codes.
const (
	ReasonNoBall          = "no_ball"
	ReasonNoFrameSize     = "no_frame_size"
	ReasonNoPose          = "no_pose"
	ReasonPlayerCloser    = "player_closer"
	ReasonOpponentCloser  = "opponent_closer"
	ReasonPlayerOnly      = "player_only"
	ReasonOpponentOnly    = "opponent_only"
	ReasonTooFar          = "too_far"
	ReasonAmbiguousMargin = "ambiguous_margin"
)

// Attribution is the hitter decision for one event. Distances are ball
// to body-centre in px and are nil when that side had no evidence.
type Attribution struct {
	Hitter           Hitter   `json:"hitter"`
	Confidence       float64  `json:"confidence"`
	Reason           string   `json:"reason"`
	PlayerDistance   *float64 `json:"player_distance,omitempty"`
	OpponentDistance *float64 `json:"opponent_distance,omitempty"`
}

// AttributionConfig holds the hitter attribution tunables.
type AttributionConfig struct {
	// FrameTolerance is the ±frames searched for ball and pose samples.
	FrameTolerance int
	// ProximityFraction of frame width is the largest ball-to-body
	// distance that can attribute a hit.
	ProximityFraction float64
	// MarginFraction of frame width is how much closer the hitter must
	// be than the other side.
	MarginFraction float64
	// SingleSidedFactor scales confidence when only the subject was seen.
	SingleSidedFactor  float64
	KeypointConfidence float64
}

// DefaultAttributionConfig returns the tuned defaults.
func DefaultAttributionConfig() AttributionConfig {
	return AttributionConfig{
		FrameTolerance:     3,
		ProximityFraction:  0.25,
		MarginFraction:     0.08,
		SingleSidedFactor:  0.5,
		KeypointConfidence: 0.3,
	}
}

// Attributor assigns events to the subject or an opponent.
type Attributor struct {
	cfg   AttributionConfig
	track *l1inputs.TrackIndex
	poses *l1inputs.PoseIndex
	width float64
}

// NewAttributor creates an attributor over a run's snapshots.
func NewAttributor(cfg AttributionConfig, track *l1inputs.TrackIndex, poses *l1inputs.PoseIndex, meta l1inputs.VideoMeta) *Attributor {
	return &Attributor{cfg: cfg, track: track, poses: poses, width: float64(meta.Width)}
}

// Attribute decides the hitter of ev. The opponent is only named when
// both sides were measured and the opponent was decisively closer; every
// other lack of evidence yields unknown.
func (a *Attributor) Attribute(ev l4fusion.Event) Attribution {
	if a.width <= 0 {
		return Attribution{Hitter: HitterUnknown, Reason: ReasonNoFrameSize}
	}
	if a.track == nil {
		return Attribution{Hitter: HitterUnknown, Reason: ReasonNoBall}
	}
	ball, ok := a.track.Nearest(ev.Frame, a.cfg.FrameTolerance)
	if !ok {
		return Attribution{Hitter: HitterUnknown, Reason: ReasonNoBall}
	}
	bx, _ := ball.Center()

	dPlayer, okPlayer := a.bodyDistance(bx, ev.Frame, l1inputs.PersonSubject)
	dOpp, okOpp := a.bodyDistance(bx, ev.Frame, l1inputs.PersonOpponent)
	out := Attribution{Hitter: HitterUnknown}
	if okPlayer {
		out.PlayerDistance = &dPlayer
	}
	if okOpp {
		out.OpponentDistance = &dOpp
	}

	prox := a.cfg.ProximityFraction * a.width
	margin := a.cfg.MarginFraction * a.width
	switch {
	case !okPlayer && !okOpp:
		out.Reason = ReasonNoPose
	case okPlayer && !okOpp:
		if dPlayer < prox {
			out.Hitter = HitterPlayer
			out.Reason = ReasonPlayerOnly
			out.Confidence = clamp01(a.cfg.SingleSidedFactor * (1 - dPlayer/prox))
		} else {
			out.Reason = ReasonTooFar
		}
	case !okPlayer && okOpp:
		out.Reason = ReasonOpponentOnly
	case dPlayer < prox && dOpp-dPlayer >= margin:
		out.Hitter = HitterPlayer
		out.Reason = ReasonPlayerCloser
		out.Confidence = decisiveConfidence(dOpp-dPlayer, margin, prox)
	case dOpp < prox && dPlayer-dOpp >= margin:
		out.Hitter = HitterOpponent
		out.Reason = ReasonOpponentCloser
		out.Confidence = decisiveConfidence(dPlayer-dOpp, margin, prox)
	case dPlayer >= prox && dOpp >= prox:
		out.Reason = ReasonTooFar
	default:
		out.Reason = ReasonAmbiguousMargin
	}
	tracef("event %d: hitter=%s reason=%s", ev.Frame, out.Hitter, out.Reason)
	return out
}

func (a *Attributor) bodyDistance(ballX float64, frame, person int) (float64, bool) {
	if a.poses == nil {
		return 0, false
	}
	pose, ok := a.poses.Nearest(frame, person, a.cfg.FrameTolerance)
	if !ok {
		return 0, false
	}
	cx, ok := geometry.BodyCenterX(pose, a.cfg.KeypointConfidence)
	if !ok {
		return 0, false
	}
	return math.Abs(ballX - cx), true
}

// decisiveConfidence grows from 0.5 at exactly the margin to 1 when the
// gap exceeds the margin by the proximity threshold.
func decisiveConfidence(gap, margin, prox float64) float64 {
	return clamp01(0.5 + 0.5*(gap-margin)/prox)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
