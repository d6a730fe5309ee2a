package l6strokes

import (
	"sort"

	"github.com/banshee-data/stroke.report/internal/rally/l2proposals"
	"github.com/banshee-data/stroke.report/internal/rally/l4fusion"
	"github.com/banshee-data/stroke.report/internal/rally/l5classify"
)

// ProvenanceKind tags how a stroke's window and scores were obtained.
type ProvenanceKind string

const (
	// KindPoseMatched strokes reuse a pose proposal's window and scores.
	KindPoseMatched ProvenanceKind = "pose_matched"
	// KindSynthetic strokes are built from the event window alone.
	KindSynthetic ProvenanceKind = "synthetic"
)

// Synthetic form score derived from classifier confidence.
const (
	syntheticFormBase  = 40.0
	syntheticFormRange = 30.0
)

// Provenance records which detectors, classifier and attribution produced
// a stroke.
type Provenance struct {
	Kind       ProvenanceKind    `json:"kind"`
	EventFrame int               `json:"event_frame"`
	Sources    []l4fusion.Source `json:"sources"`
	// ProvisionalType is the pose detector's vote. Set for pose-matched
	// strokes only.
	ProvisionalType l2proposals.StrokeType `json:"provisional_type,omitempty"`
	Classifier      l5classify.Result      `json:"classifier"`
	Attribution     Attribution            `json:"attribution"`
	// Fallback marks strokes whose classification came from a degraded
	// path (no credentials, transport or parse failure).
	Fallback bool `json:"fallback,omitempty"`
}

// Stroke is a final, classified, scored swing.
type Stroke struct {
	Start       int                    `json:"start_frame"`
	End         int                    `json:"end_frame"`
	Peak        int                    `json:"peak_frame"`
	StrokeType  l2proposals.StrokeType `json:"stroke_type"`
	Duration    float64                `json:"duration"`
	MaxVelocity float64                `json:"max_velocity"`
	FormScore   float64                `json:"form_score"`
	Metrics     map[string]float64     `json:"metrics"`
	Provenance  Provenance             `json:"provenance"`
}

// Hitter is shorthand for the attributed hitter.
func (s Stroke) Hitter() Hitter {
	if s.Provenance.Attribution.Hitter == "" {
		return HitterUnknown
	}
	return s.Provenance.Attribution.Hitter
}

// Classified pairs a fused event with its classification and attribution.
type Classified struct {
	Event       l4fusion.Event
	Result      l5classify.Result
	Attribution Attribution
}

// Assemble builds strokes for every event not classified no_hit, ordered
// by peak frame. fps converts windows to seconds.
func Assemble(items []Classified, fps float64) []Stroke {
	if fps <= 0 {
		fps = 30
	}
	frames := make([]int, len(items))
	for i, it := range items {
		frames[i] = it.Event.Frame
	}
	out := make([]Stroke, 0, len(items))
	for _, it := range items {
		if it.Result.Label == l5classify.LabelNoHit {
			tracef("event %d dropped: no_hit (%s)", it.Event.Frame, it.Result.Reason)
			continue
		}
		var s Stroke
		if it.Event.Proposal != nil {
			s = fromProposal(*it.Event.Proposal)
		} else {
			s = synthetic(it.Event, it.Result, frames)
		}
		s.StrokeType = typeFromLabel(it.Result.Label)
		s.Duration = float64(s.End-s.Start) / fps
		s.Metrics["classifier_confidence"] = it.Result.Confidence
		s.Metrics["hitter_confidence"] = it.Attribution.Confidence
		s.Metrics["event_frame"] = float64(it.Event.Frame)
		s.Provenance.EventFrame = it.Event.Frame
		s.Provenance.Sources = append([]l4fusion.Source(nil), it.Event.Sources...)
		s.Provenance.Classifier = it.Result
		s.Provenance.Attribution = it.Attribution
		s.Provenance.Fallback = it.Result.Degraded
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Peak != out[j].Peak {
			return out[i].Peak < out[j].Peak
		}
		return out[i].Start < out[j].Start
	})
	diagf("assembled %d strokes from %d events", len(out), len(items))
	return out
}

func fromProposal(p l2proposals.Proposal) Stroke {
	metrics := make(map[string]float64, len(p.Metrics)+3)
	for k, v := range p.Metrics {
		metrics[k] = v
	}
	return Stroke{
		Start:       p.Start,
		End:         p.End,
		Peak:        p.Peak,
		MaxVelocity: p.MaxVelocity,
		FormScore:   p.FormScore,
		Metrics:     metrics,
		Provenance: Provenance{
			Kind:            KindPoseMatched,
			ProvisionalType: p.ProvisionalType,
		},
	}
}

// synthetic builds a minimal stroke from the event window. The peak is the
// classifier's contact frame when it falls inside the window and lies
// nearer this event than any other event in frames.
func synthetic(ev l4fusion.Event, res l5classify.Result, frames []int) Stroke {
	peak := ev.Frame
	if cf := res.ContactFrame; cf != nil && *cf >= ev.Start && *cf <= ev.End && ownsFrame(ev.Frame, *cf, frames) {
		peak = *cf
	}
	return Stroke{
		Start:      ev.Start,
		End:        ev.End,
		Peak:       peak,
		FormScore:  syntheticFormBase + syntheticFormRange*clamp01(res.Confidence),
		Metrics:    make(map[string]float64, 3),
		Provenance: Provenance{Kind: KindSynthetic},
	}
}

func ownsFrame(eventFrame, frame int, frames []int) bool {
	d := absInt(frame - eventFrame)
	for _, f := range frames {
		if f != eventFrame && absInt(frame-f) <= d {
			return false
		}
	}
	return true
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// typeFromLabel makes the classifier authoritative; uncertain leaves the
// type unknown.
func typeFromLabel(l l5classify.Label) l2proposals.StrokeType {
	switch l {
	case l5classify.LabelForehand:
		return l2proposals.Forehand
	case l5classify.LabelBackhand:
		return l2proposals.Backhand
	}
	return l2proposals.Unknown
}

// Summary aggregates the subject's strokes.
type Summary struct {
	Total            int     `json:"total"`
	ForehandCount    int     `json:"forehand_count"`
	BackhandCount    int     `json:"backhand_count"`
	UnknownCount     int     `json:"unknown_count"`
	OpponentStrokes  int     `json:"opponent_strokes"`
	AverageFormScore float64 `json:"average_form_score"`
	BestFormScore    float64 `json:"best_form_score"`
}

// Summarize folds strokes into a Summary. Strokes attributed to the
// opponent are counted separately and excluded from the subject's
// figures; unknown hitters count as the subject.
func Summarize(strokes []Stroke) Summary {
	var s Summary
	var sum float64
	for _, st := range strokes {
		if st.Hitter() == HitterOpponent {
			s.OpponentStrokes++
			continue
		}
		s.Total++
		switch st.StrokeType {
		case l2proposals.Forehand:
			s.ForehandCount++
		case l2proposals.Backhand:
			s.BackhandCount++
		default:
			s.UnknownCount++
		}
		sum += st.FormScore
		if s.Total == 1 || st.FormScore > s.BestFormScore {
			s.BestFormScore = st.FormScore
		}
	}
	if s.Total > 0 {
		s.AverageFormScore = sum / float64(s.Total)
	}
	return s
}
