package l4fusion

import (
	"math"
	"sort"

	"github.com/banshee-data/stroke.report/internal/rally/l1inputs"
	"github.com/banshee-data/stroke.report/internal/rally/l2proposals"
)

// Source names the detector that contributed a frame.
type Source string

const (
	SourcePose       Source = "pose"
	SourceTrajectory Source = "trajectory"
	SourceContact    Source = "contact"
)

// sourceOrder fixes the order sources are reported in.
var sourceOrder = map[Source]int{SourcePose: 0, SourceTrajectory: 1, SourceContact: 2}

// Event is one fused candidate stroke instant.
type Event struct {
	Frame      int      `json:"frame"`
	Start      int      `json:"start"`
	End        int      `json:"end"`
	Sources    []Source `json:"sources"`
	LocalSpeed float64  `json:"local_speed"`
	// Proposal is the pose proposal matched to this event, if any.
	Proposal *l2proposals.Proposal `json:"matched_proposal,omitempty"`
}

// HasSource reports whether s contributed to the event.
func (e Event) HasSource(s Source) bool {
	for _, have := range e.Sources {
		if have == s {
			return true
		}
	}
	return false
}

// Config holds the fusion tunables.
type Config struct {
	// PreMergeSeconds is the intra-source clustering window.
	PreMergeSeconds float64
	// MergeGap is the maximum frame gap between successive frames of a
	// cross-source cluster.
	MergeGap int
	// BaseHalfWindow is the event half-window in frames before speed
	// widening.
	BaseHalfWindow int
	// SpeedGain converts local ball speed (px/frame) into extra frames.
	SpeedGain float64
	// MaxExtraFrames caps the speed widening.
	MaxExtraFrames int
	// SpeedRadius is the ±frames sampled for local ball speed.
	SpeedRadius int
	// ProposalTolerance is the maximum |proposal peak - event frame| for
	// a match.
	ProposalTolerance int
	// FPS converts PreMergeSeconds to frames.
	FPS float64
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{
		PreMergeSeconds:   0.01,
		MergeGap:          8,
		BaseHalfWindow:    6,
		SpeedGain:         0.25,
		MaxExtraFrames:    6,
		SpeedRadius:       3,
		ProposalTolerance: 10,
		FPS:               l1inputs.DefaultFPS,
	}
}

// Inputs are the detector outputs fusion reconciles.
type Inputs struct {
	Proposals        []l2proposals.Proposal
	TrajectoryFrames []int
	ContactFrames    []int
	Track            []l1inputs.TrackPoint
	// MaxFrame clamps event windows. Negative disables the upper clamp.
	MaxFrame int
}

type tagged struct {
	frame  int
	source Source
}

// Fuse merges the detector outputs into events ordered by frame.
func Fuse(in Inputs, cfg Config) []Event {
	fps := cfg.FPS
	if fps <= 0 {
		fps = l1inputs.DefaultFPS
	}
	preWindow := int(math.Round(cfg.PreMergeSeconds * fps))

	poseFrames := make([]int, len(in.Proposals))
	for i, p := range in.Proposals {
		poseFrames[i] = p.Peak
	}

	var all []tagged
	for _, src := range []struct {
		frames []int
		source Source
	}{
		{poseFrames, SourcePose},
		{in.TrajectoryFrames, SourceTrajectory},
		{in.ContactFrames, SourceContact},
	} {
		for _, f := range PreMerge(src.frames, preWindow) {
			all = append(all, tagged{frame: f, source: src.source})
		}
	}
	if len(all) == 0 {
		return nil
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].frame != all[j].frame {
			return all[i].frame < all[j].frame
		}
		return sourceOrder[all[i].source] < sourceOrder[all[j].source]
	})

	track := l1inputs.NewTrackIndex(in.Track)
	var events []Event
	start := 0
	for i := 1; i <= len(all); i++ {
		if i < len(all) && all[i].frame-all[i-1].frame <= cfg.MergeGap {
			continue
		}
		events = append(events, buildEvent(all[start:i], track, cfg))
		start = i
	}

	matchProposals(events, in.Proposals, cfg.ProposalTolerance)
	for i := range events {
		clampEvent(&events[i], in.MaxFrame)
	}
	diagf("fused %d events from %d pose, %d trajectory, %d contact frames",
		len(events), len(poseFrames), len(in.TrajectoryFrames), len(in.ContactFrames))
	return events
}

func buildEvent(cluster []tagged, track *l1inputs.TrackIndex, cfg Config) Event {
	frames := make([]int, len(cluster))
	seen := make(map[Source]bool)
	var sources []Source
	for i, t := range cluster {
		frames[i] = t.frame
		if !seen[t.source] {
			seen[t.source] = true
			sources = append(sources, t.source)
		}
	}
	sort.Slice(sources, func(i, j int) bool { return sourceOrder[sources[i]] < sourceOrder[sources[j]] })

	center := medianFrame(frames)
	speed := localSpeed(track, center, cfg.SpeedRadius)
	extra := int(math.Round(cfg.SpeedGain * speed))
	if extra > cfg.MaxExtraFrames {
		extra = cfg.MaxExtraFrames
	}
	half := max(cfg.BaseHalfWindow+max(extra, 0), 0)
	tracef("event frame=%d sources=%v speed=%.1f half=%d", center, sources, speed, half)
	return Event{
		Frame:      center,
		Start:      center - half,
		End:        center + half,
		Sources:    sources,
		LocalSpeed: speed,
	}
}

// PreMerge collapses chains of frames no more than window apart to their
// median. The result is sorted and free of duplicates.
func PreMerge(frames []int, window int) []int {
	if len(frames) == 0 {
		return nil
	}
	s := append([]int(nil), frames...)
	sort.Ints(s)
	var out []int
	start := 0
	for i := 1; i <= len(s); i++ {
		if i < len(s) && s[i]-s[i-1] <= window {
			continue
		}
		m := medianFrame(s[start:i])
		if len(out) == 0 || out[len(out)-1] != m {
			out = append(out, m)
		}
		start = i
	}
	return out
}

// medianFrame returns the median of sorted frames rounded half up.
func medianFrame(sorted []int) int {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return int(math.Floor(float64(sorted[n/2-1]+sorted[n/2])/2 + 0.5))
}

// localSpeed is the median ball speed in px/frame between successive
// valid track points within ±radius of frame. No samples yields 0.
func localSpeed(track *l1inputs.TrackIndex, frame, radius int) float64 {
	pts := track.Range(frame-radius, frame+radius)
	if len(pts) < 2 {
		return 0
	}
	speeds := make([]float64, 0, len(pts)-1)
	for i := 1; i < len(pts); i++ {
		x0, y0 := pts[i-1].Center()
		x1, y1 := pts[i].Center()
		gap := float64(pts[i].Frame - pts[i-1].Frame)
		speeds = append(speeds, math.Hypot(x1-x0, y1-y0)/gap)
	}
	sort.Float64s(speeds)
	n := len(speeds)
	if n%2 == 1 {
		return speeds[n/2]
	}
	return (speeds[n/2-1] + speeds[n/2]) / 2
}

// matchProposals pairs each proposal with at most one event, closest
// peak first, and widens the event window to cover the proposal.
func matchProposals(events []Event, proposals []l2proposals.Proposal, tolerance int) {
	type pair struct{ ev, prop, dist int }
	var pairs []pair
	for ei, e := range events {
		for pi, p := range proposals {
			d := abs(p.Peak - e.Frame)
			if d <= tolerance {
				pairs = append(pairs, pair{ei, pi, d})
			}
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		a, b := pairs[i], pairs[j]
		if a.dist != b.dist {
			return a.dist < b.dist
		}
		if a.ev != b.ev {
			return a.ev < b.ev
		}
		return a.prop < b.prop
	})

	usedEvent := make(map[int]bool)
	usedProp := make(map[int]bool)
	for _, pr := range pairs {
		if usedEvent[pr.ev] || usedProp[pr.prop] {
			continue
		}
		usedEvent[pr.ev] = true
		usedProp[pr.prop] = true
		p := proposals[pr.prop]
		e := &events[pr.ev]
		e.Proposal = &p
		e.Start = min(e.Start, p.Start)
		e.End = max(e.End, p.End)
	}
}

func clampEvent(e *Event, maxFrame int) {
	clamp := func(v int) int {
		if v < 0 {
			return 0
		}
		if maxFrame >= 0 && v > maxFrame {
			return maxFrame
		}
		return v
	}
	e.Frame = clamp(e.Frame)
	e.Start = clamp(e.Start)
	e.End = clamp(e.End)
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
