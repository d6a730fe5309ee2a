package l2proposals

import (
	"sort"

	"github.com/banshee-data/stroke.report/internal/rally/geometry"
	"github.com/banshee-data/stroke.report/internal/rally/l1inputs"
)

// VelocitySeries is the per-frame dominant-wrist speed of the subject.
// Values[i] is the speed arriving at Frames[i]; Values[0] is always 0.
type VelocitySeries struct {
	Frames []int
	Values []float64
	Poses  []l1inputs.PoseFrame
}

// Detector finds stroke proposals in the subject's pose sequence.
type Detector struct {
	cfg  Config
	side geometry.Side
}

// NewDetector creates a detector. Zero-valued numeric fields in cfg fall
// back to DefaultConfig.
func NewDetector(cfg Config) *Detector {
	def := DefaultConfig()
	if cfg.MinPeakSeparation <= 0 {
		cfg.MinPeakSeparation = def.MinPeakSeparation
	}
	if cfg.WindowRatio <= 0 || cfg.WindowRatio >= 1 {
		cfg.WindowRatio = def.WindowRatio
	}
	if cfg.ElbowGateLookback <= 0 {
		cfg.ElbowGateLookback = def.ElbowGateLookback
	}
	if cfg.FPS <= 0 {
		cfg.FPS = def.FPS
	}
	if cfg.Handedness == "" {
		cfg.Handedness = def.Handedness
	}
	if cfg.Facing == "" {
		cfg.Facing = def.Facing
	}
	return &Detector{
		cfg:  cfg,
		side: geometry.DominantSide(cfg.Handedness, cfg.Facing),
	}
}

// DominantSide returns the keypoint side treated as the hitting arm.
func (d *Detector) DominantSide() geometry.Side {
	return d.side
}

// Detect returns proposals ordered by peak frame. Frames for people other
// than the subject are ignored. Fewer than two subject frames yields an
// empty result.
func (d *Detector) Detect(frames []l1inputs.PoseFrame) []Proposal {
	series := d.Velocities(frames)
	if len(series.Values) < 2 {
		return nil
	}

	var candidates []Proposal
	for _, i := range localMaxima(series.Values, d.cfg.VelocityThreshold) {
		start, end := expandWindow(series.Values, i, d.cfg.WindowRatio)
		p := Proposal{
			Start:       series.Frames[start],
			End:         series.Frames[end],
			Peak:        series.Frames[i],
			MaxVelocity: series.Values[i],
		}
		if p.Frames() < d.cfg.MinStrokeFrames {
			tracef("peak %d rejected: window %d-%d shorter than %d frames", p.Peak, p.Start, p.End, d.cfg.MinStrokeFrames)
			continue
		}
		if d.cfg.MaxStrokeFrames > 0 && p.Frames() > d.cfg.MaxStrokeFrames {
			tracef("peak %d rejected: window %d-%d longer than %d frames", p.Peak, p.Start, p.End, d.cfg.MaxStrokeFrames)
			continue
		}
		if d.flexedBeforePeak(series.Poses, i) {
			tracef("peak %d rejected: elbow flexed into the peak (wind-up)", p.Peak)
			continue
		}
		window := series.Poses[start : end+1]
		p.ProvisionalType, p.Metrics = d.provisionalType(series.Poses[i], series.Poses[start])
		score, formMetrics := d.formScore(series.Poses[i], window)
		p.FormScore = score
		for k, v := range formMetrics {
			p.Metrics[k] = v
		}
		p.Metrics["peak_velocity"] = p.MaxVelocity
		p.Metrics["window_frames"] = float64(p.Frames())
		candidates = append(candidates, p)
	}

	out := enforceSeparation(candidates, d.cfg.MinPeakSeparation)
	diagf("detected %d proposals from %d subject frames (%d candidates)", len(out), len(series.Frames), len(candidates))
	return out
}

// Velocities computes the dominant-wrist speed series for the subject,
// falling back to the off-hand wrist when the dominant one is missing in
// either frame of a pair. Pairs with no usable wrist contribute 0.
func (d *Detector) Velocities(frames []l1inputs.PoseFrame) VelocitySeries {
	poses := subjectFrames(frames)
	series := VelocitySeries{
		Frames: make([]int, len(poses)),
		Values: make([]float64, len(poses)),
		Poses:  poses,
	}
	for i, f := range poses {
		series.Frames[i] = f.FrameNumber
		if i == 0 {
			continue
		}
		dist, ok := d.wristDisplacement(poses[i-1], f)
		if !ok {
			continue
		}
		dt := f.Timestamp - poses[i-1].Timestamp
		if dt <= 0 {
			dt = float64(f.FrameNumber-poses[i-1].FrameNumber) / d.cfg.FPS
		}
		if dt <= 0 {
			continue
		}
		series.Values[i] = dist / dt
	}
	return series
}

// wristDisplacement measures the same wrist across both frames, trying
// the dominant side first.
func (d *Detector) wristDisplacement(prev, cur l1inputs.PoseFrame) (float64, bool) {
	for _, side := range []geometry.Side{d.side, d.side.Opposite()} {
		a, sideA, okA := geometry.Wrist(prev, side, d.cfg.KeypointConfidence)
		b, sideB, okB := geometry.Wrist(cur, side, d.cfg.KeypointConfidence)
		if okA && okB && sideA == sideB {
			return geometry.Distance(a, b), true
		}
	}
	return 0, false
}

// flexedBeforePeak reports whether the dominant elbow angle decreased by
// more than the gate over the lookback frames before the peak. Missing
// angles never reject.
func (d *Detector) flexedBeforePeak(poses []l1inputs.PoseFrame, peak int) bool {
	before := peak - d.cfg.ElbowGateLookback
	if before < 0 {
		return false
	}
	atPeak, ok := geometry.JointAngle(poses[peak], d.side, "elbow", d.cfg.KeypointConfidence)
	if !ok {
		return false
	}
	earlier, ok := geometry.JointAngle(poses[before], d.side, "elbow", d.cfg.KeypointConfidence)
	if !ok {
		return false
	}
	return earlier-atPeak > d.cfg.ElbowGateDegrees
}

// subjectFrames returns the subject's frames ordered by frame number,
// keeping the last entry when a frame repeats.
func subjectFrames(frames []l1inputs.PoseFrame) []l1inputs.PoseFrame {
	return l1inputs.NewPoseIndex(frames).Person(l1inputs.PersonSubject)
}

// localMaxima returns indices of strict interior local maxima at or above
// threshold.
func localMaxima(v []float64, threshold float64) []int {
	var out []int
	for i := 1; i < len(v)-1; i++ {
		if v[i] >= threshold && v[i] > v[i-1] && v[i] > v[i+1] {
			out = append(out, i)
		}
	}
	return out
}

// expandWindow walks outward from peak while velocity stays at or above
// ratio*peak. Each boundary is the first sub-cutoff sample (or the
// series edge), so the window includes the ramp into and out of the swing.
func expandWindow(v []float64, peak int, ratio float64) (int, int) {
	cutoff := v[peak] * ratio
	start := peak
	for start > 0 && v[start] >= cutoff {
		start--
	}
	end := peak
	for end < len(v)-1 && v[end] >= cutoff {
		end++
	}
	return start, end
}

// enforceSeparation keeps the fastest peak among any that are closer than
// minSep frames and returns the survivors ordered by peak frame.
func enforceSeparation(candidates []Proposal, minSep int) []Proposal {
	byVelocity := make([]Proposal, len(candidates))
	copy(byVelocity, candidates)
	sort.SliceStable(byVelocity, func(i, j int) bool {
		return byVelocity[i].MaxVelocity > byVelocity[j].MaxVelocity
	})

	var kept []Proposal
	for _, c := range byVelocity {
		separated := true
		for _, k := range kept {
			if abs(c.Peak-k.Peak) < minSep {
				separated = false
				break
			}
		}
		if separated {
			kept = append(kept, c)
		}
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].Peak < kept[j].Peak })
	return kept
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
