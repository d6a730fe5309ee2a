package l2proposals

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/stroke.report/internal/rally/geometry"
	"github.com/banshee-data/stroke.report/internal/rally/l1inputs"
)

// Provisional type vote weights and saturation scales. Each signal
// contributes weight*min(1, |x|/scale) to the side its sign points at.
const (
	shoulderValueWeight = 1.0
	shoulderValueScale  = 30.0 // degrees
	shoulderDeltaWeight = 1.5
	shoulderDeltaScale  = 20.0 // degrees
	wristOffsetWeight   = 2.0
	wristOffsetScale    = 1.0 // shoulder widths
	hipRotationWeight   = 0.5
	hipRotationScale    = 30.0 // degrees

	// voteMargin is the minimum forehand/backhand score difference for a
	// decided vote.
	voteMargin = 0.25
)

// Form score ideal ranges and penalty caps.
const (
	elbowIdealMin   = 90.0
	elbowIdealMax   = 170.0
	elbowPenaltyCap = 20.0

	kneeIdealMin   = 110.0
	kneeIdealMax   = 170.0
	kneePenaltyCap = 15.0

	hipRangeMin        = 15.0
	hipRangeMax        = 60.0
	shoulderRangeMin   = 20.0
	shoulderRangeMax   = 80.0
	rangeLowPenaltyCap = 15.0
	rangeHiPenaltyCap  = 10.0

	spineLeanMax        = 25.0
	spineLeanPenaltyCap = 15.0
)

// provisionalType votes forehand/backhand from torso rotation and the
// wrist's lateral position. Positive signals point at forehand.
func (d *Detector) provisionalType(peak, start l1inputs.PoseFrame) (StrokeType, map[string]float64) {
	metrics := make(map[string]float64)
	var fh, bh float64
	vote := func(x, weight, scale float64) {
		c := weight * math.Min(1, math.Abs(x)/scale)
		if x > 0 {
			fh += c
		} else if x < 0 {
			bh += c
		}
	}

	if rot, ok := peak.Metric(l1inputs.MetricShoulderRotation); ok {
		metrics["shoulder_rotation"] = rot
		vote(rot, shoulderValueWeight, shoulderValueScale)
		if rot0, ok := start.Metric(l1inputs.MetricShoulderRotation); ok {
			delta := geometry.AngleDelta(rot0, rot)
			metrics["shoulder_rotation_delta"] = delta
			vote(delta, shoulderDeltaWeight, shoulderDeltaScale)
		}
	}

	if offset, ok := d.wristOffset(peak); ok {
		metrics["wrist_offset"] = offset
		vote(offset, wristOffsetWeight, wristOffsetScale)
	}

	if hip, ok := peak.Metric(l1inputs.MetricHipRotation); ok {
		metrics["hip_rotation"] = hip
		vote(hip, hipRotationWeight, hipRotationScale)
	}

	metrics["vote_forehand"] = fh
	metrics["vote_backhand"] = bh
	switch {
	case fh-bh >= voteMargin:
		return Forehand, metrics
	case bh-fh >= voteMargin:
		return Backhand, metrics
	}
	return Unknown, metrics
}

// wristOffset measures the dominant wrist's horizontal distance from the
// shoulder midline in shoulder widths, signed so that positive means the
// wrist is on the dominant shoulder's side. This makes the signal
// independent of camera mirroring.
func (d *Detector) wristOffset(f l1inputs.PoseFrame) (float64, bool) {
	minConf := d.cfg.KeypointConfidence
	dom, ok := f.Keypoint(d.side.Name("shoulder"), minConf)
	if !ok {
		return 0, false
	}
	off, ok := f.Keypoint(d.side.Opposite().Name("shoulder"), minConf)
	if !ok {
		return 0, false
	}
	wrist, ok := f.Keypoint(d.side.Name("wrist"), minConf)
	if !ok {
		return 0, false
	}
	width := math.Abs(dom.X - off.X)
	if width < 1 {
		return 0, false
	}
	mid := (dom.X + off.X) / 2
	sign := 1.0
	if dom.X < off.X {
		sign = -1
	}
	return (wrist.X - mid) * sign / width, true
}

// formScore starts at 100 and subtracts bounded penalties for joint
// angles outside their ideal ranges, rotation ranges that are too small
// or too large, and excessive spine lean. Missing signals are skipped.
func (d *Detector) formScore(peak l1inputs.PoseFrame, window []l1inputs.PoseFrame) (float64, map[string]float64) {
	metrics := make(map[string]float64)
	score := 100.0
	minConf := d.cfg.KeypointConfidence

	if elbow, ok := geometry.JointAngle(peak, d.side, "elbow", minConf); ok {
		metrics["elbow_angle"] = elbow
		score -= math.Min(elbowPenaltyCap, 0.5*outside(elbow, elbowIdealMin, elbowIdealMax))
	}

	var knees []float64
	for _, side := range []geometry.Side{geometry.SideLeft, geometry.SideRight} {
		if k, ok := geometry.JointAngle(peak, side, "knee", minConf); ok {
			knees = append(knees, k)
		}
	}
	if len(knees) > 0 {
		knee := floats.Sum(knees) / float64(len(knees))
		metrics["knee_angle"] = knee
		score -= math.Min(kneePenaltyCap, 0.5*outside(knee, kneeIdealMin, kneeIdealMax))
	}

	if r, ok := metricRange(window, l1inputs.MetricHipRotation); ok {
		metrics["hip_rotation_range"] = r
		score -= rangePenalty(r, hipRangeMin, hipRangeMax)
	}
	if r, ok := metricRange(window, l1inputs.MetricShoulderRotation); ok {
		metrics["shoulder_rotation_range"] = r
		score -= rangePenalty(r, shoulderRangeMin, shoulderRangeMax)
	}

	var leans []float64
	for _, f := range window {
		if v, ok := f.Metric(l1inputs.MetricSpineLean); ok {
			leans = append(leans, math.Abs(v))
		}
	}
	if len(leans) > 0 {
		lean := floats.Max(leans)
		metrics["spine_lean"] = lean
		if lean > spineLeanMax {
			score -= math.Min(spineLeanPenaltyCap, lean-spineLeanMax)
		}
	}

	return math.Max(0, math.Min(100, score)), metrics
}

// outside returns how far v lies outside [lo, hi].
func outside(v, lo, hi float64) float64 {
	switch {
	case v < lo:
		return lo - v
	case v > hi:
		return v - hi
	}
	return 0
}

func rangePenalty(r, lo, hi float64) float64 {
	switch {
	case r < lo:
		return math.Min(rangeLowPenaltyCap, lo-r)
	case r > hi:
		return math.Min(rangeHiPenaltyCap, 0.5*(r-hi))
	}
	return 0
}

// metricRange returns max-min of a body metric across the window.
func metricRange(window []l1inputs.PoseFrame, name string) (float64, bool) {
	var vals []float64
	for _, f := range window {
		if v, ok := f.Metric(name); ok {
			vals = append(vals, v)
		}
	}
	if len(vals) == 0 {
		return 0, false
	}
	return floats.Max(vals) - floats.Min(vals), true
}
