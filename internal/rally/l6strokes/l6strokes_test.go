package l6strokes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/stroke.report/internal/rally/l1inputs"
	"github.com/banshee-data/stroke.report/internal/rally/l2proposals"
	"github.com/banshee-data/stroke.report/internal/rally/l4fusion"
	"github.com/banshee-data/stroke.report/internal/rally/l5classify"
)

func bodyAt(frame, person int, x float64) l1inputs.PoseFrame {
	return l1inputs.PoseFrame{
		FrameNumber: frame,
		PersonID:    person,
		Keypoints: map[string]l1inputs.Keypoint{
			l1inputs.LeftHip:  {X: x - 20, Y: 400, Confidence: 0.9},
			l1inputs.RightHip: {X: x + 20, Y: 400, Confidence: 0.9},
		},
	}
}

func ballAt(frame int, x float64) []l1inputs.TrackPoint {
	return []l1inputs.TrackPoint{{Frame: frame, X: x, Y: 300, Confidence: 0.9}}
}

func TestAttribute(t *testing.T) {
	t.Parallel()
	meta := l1inputs.VideoMeta{Width: 1000, Height: 600} // proximity 250px, margin 80px
	both := []l1inputs.PoseFrame{bodyAt(101, 0, 280), bodyAt(99, 1, 700)}
	playerOnly := []l1inputs.PoseFrame{bodyAt(100, 0, 280)}
	opponentOnly := []l1inputs.PoseFrame{bodyAt(100, 1, 310)}

	tests := []struct {
		name   string
		ballX  float64
		ballF  int
		poses  []l1inputs.PoseFrame
		hitter Hitter
		reason string
		conf   float64
	}{
		{"player decisively closer", 300, 100, both, HitterPlayer, ReasonPlayerCloser, 1},
		{"opponent decisively closer", 650, 100, both, HitterOpponent, ReasonOpponentCloser, 0.98},
		{"player only", 300, 100, playerOnly, HitterPlayer, ReasonPlayerOnly, 0.46},
		{"opponent only never names opponent", 300, 100, opponentOnly, HitterUnknown, ReasonOpponentOnly, 0},
		{"equidistant", 490, 100, both, HitterUnknown, ReasonAmbiguousMargin, 0},
		{"ball out of tolerance", 300, 110, both, HitterUnknown, ReasonNoBall, 0},
		{"nobody tracked", 300, 100, nil, HitterUnknown, ReasonNoPose, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a := NewAttributor(DefaultAttributionConfig(),
				l1inputs.NewTrackIndex(ballAt(tc.ballF, tc.ballX)),
				l1inputs.NewPoseIndex(tc.poses), meta)
			got := a.Attribute(l4fusion.Event{Frame: 100})
			assert.Equal(t, tc.hitter, got.Hitter)
			assert.Equal(t, tc.reason, got.Reason)
			assert.InDelta(t, tc.conf, got.Confidence, 1e-9)
			assert.GreaterOrEqual(t, got.Confidence, 0.0)
			assert.LessOrEqual(t, got.Confidence, 1.0)
		})
	}
}

func TestAttributeOpponentNeedsBothDistances(t *testing.T) {
	t.Parallel()
	meta := l1inputs.VideoMeta{Width: 1000, Height: 600}
	a := NewAttributor(DefaultAttributionConfig(),
		l1inputs.NewTrackIndex(ballAt(100, 650)),
		l1inputs.NewPoseIndex([]l1inputs.PoseFrame{bodyAt(100, 0, 280), bodyAt(100, 1, 700)}), meta)
	got := a.Attribute(l4fusion.Event{Frame: 100})
	require.Equal(t, HitterOpponent, got.Hitter)
	require.NotNil(t, got.PlayerDistance)
	require.NotNil(t, got.OpponentDistance)
	assert.Less(t, *got.OpponentDistance, *got.PlayerDistance)
}

func TestAttributeWithoutFrameSize(t *testing.T) {
	t.Parallel()
	a := NewAttributor(DefaultAttributionConfig(), nil, nil, l1inputs.VideoMeta{})
	got := a.Attribute(l4fusion.Event{Frame: 1})
	assert.Equal(t, HitterUnknown, got.Hitter)
	assert.Equal(t, ReasonNoFrameSize, got.Reason)
}

func intPtr(v int) *int { return &v }

func assembleFixture() []Classified {
	matched := &l2proposals.Proposal{
		Start: 10, End: 20, Peak: 15, MaxVelocity: 900,
		ProvisionalType: l2proposals.Backhand, FormScore: 82,
		Metrics: map[string]float64{"elbow_angle": 140},
	}
	return []Classified{
		{
			Event:       l4fusion.Event{Frame: 100, Start: 94, End: 106, Sources: []l4fusion.Source{l4fusion.SourceContact}},
			Result:      l5classify.Result{Label: l5classify.LabelNoHit, Confidence: 0.9},
			Attribution: Attribution{Hitter: HitterPlayer},
		},
		{
			Event:       l4fusion.Event{Frame: 50, Start: 44, End: 56, Sources: []l4fusion.Source{l4fusion.SourceTrajectory}},
			Result:      l5classify.Result{Label: l5classify.LabelBackhand, Confidence: 0.5, ContactFrame: intPtr(52)},
			Attribution: Attribution{Hitter: HitterUnknown, Reason: ReasonNoPose},
		},
		{
			Event: l4fusion.Event{
				Frame: 16, Start: 9, End: 22,
				Sources:  []l4fusion.Source{l4fusion.SourcePose, l4fusion.SourceTrajectory},
				Proposal: matched,
			},
			Result:      l5classify.Result{Label: l5classify.LabelForehand, Confidence: 0.8, Strategy: l5classify.StrategyHeuristic},
			Attribution: Attribution{Hitter: HitterPlayer, Confidence: 0.9},
		},
		{
			Event:       l4fusion.Event{Frame: 200, Start: 190, End: 210},
			Result:      l5classify.Result{Label: l5classify.LabelUncertain, Reason: l5classify.ReasonNoCredentials, Degraded: true, ContactFrame: intPtr(400)},
			Attribution: Attribution{Hitter: HitterOpponent, Confidence: 0.7},
		},
	}
}

func TestAssemble(t *testing.T) {
	t.Parallel()
	items := assembleFixture()
	got := Assemble(items, 30)
	require.Len(t, got, 3, "no_hit events never become strokes")

	matched := got[0]
	assert.Equal(t, KindPoseMatched, matched.Provenance.Kind)
	assert.Equal(t, 10, matched.Start)
	assert.Equal(t, 20, matched.End)
	assert.Equal(t, 15, matched.Peak)
	assert.Equal(t, l2proposals.Forehand, matched.StrokeType, "classifier overrides the provisional vote")
	assert.Equal(t, l2proposals.Backhand, matched.Provenance.ProvisionalType)
	assert.Equal(t, 82.0, matched.FormScore)
	assert.Equal(t, 900.0, matched.MaxVelocity)
	assert.InDelta(t, 10.0/30.0, matched.Duration, 1e-9)
	assert.Equal(t, 140.0, matched.Metrics["elbow_angle"])
	assert.Equal(t, 0.8, matched.Metrics["classifier_confidence"])
	assert.Equal(t, []l4fusion.Source{l4fusion.SourcePose, l4fusion.SourceTrajectory}, matched.Provenance.Sources)
	assert.False(t, matched.Provenance.Fallback)
	_, leaked := items[2].Event.Proposal.Metrics["classifier_confidence"]
	assert.False(t, leaked, "proposal metrics are not mutated")

	synth := got[1]
	assert.Equal(t, KindSynthetic, synth.Provenance.Kind)
	assert.Equal(t, 52, synth.Peak, "contact frame inside the window")
	assert.Equal(t, 44, synth.Start)
	assert.Equal(t, 56, synth.End)
	assert.Equal(t, l2proposals.Backhand, synth.StrokeType)
	assert.Equal(t, 0.0, synth.MaxVelocity)
	assert.InDelta(t, 55.0, synth.FormScore, 1e-9)

	fallback := got[2]
	assert.Equal(t, 200, fallback.Peak, "contact frame outside the window is ignored")
	assert.Equal(t, l2proposals.Unknown, fallback.StrokeType)
	assert.True(t, fallback.Provenance.Fallback)
	assert.Equal(t, 40.0, fallback.FormScore)
	assert.Equal(t, HitterOpponent, fallback.Hitter())

	for _, s := range got {
		assert.NotEqual(t, 100, s.Peak)
	}
}

func TestAssembleContactFrameOfNeighbouringEvent(t *testing.T) {
	t.Parallel()
	items := []Classified{
		{
			Event:  l4fusion.Event{Frame: 100, Start: 88, End: 112, Sources: []l4fusion.Source{l4fusion.SourceContact}},
			Result: l5classify.Result{Label: l5classify.LabelNoHit, Confidence: 0.8},
		},
		{
			Event:  l4fusion.Event{Frame: 112, Start: 100, End: 124, Sources: []l4fusion.Source{l4fusion.SourceTrajectory}},
			Result: l5classify.Result{Label: l5classify.LabelForehand, Confidence: 0.7, ContactFrame: intPtr(100)},
		},
		{
			Event:  l4fusion.Event{Frame: 160, Start: 148, End: 172, Sources: []l4fusion.Source{l4fusion.SourceTrajectory}},
			Result: l5classify.Result{Label: l5classify.LabelBackhand, Confidence: 0.7, ContactFrame: intPtr(137)},
		},
	}
	got := Assemble(items, 30)
	require.Len(t, got, 2)

	assert.Equal(t, 112, got[0].Peak, "contact frame of the no_hit event is not taken")
	assert.Equal(t, KindSynthetic, got[0].Provenance.Kind)
	assert.Equal(t, 160, got[1].Peak, "contact frame equidistant to another event is not taken")
	for _, s := range got {
		assert.NotEqual(t, 100, s.Peak)
	}
}

func TestSummarize(t *testing.T) {
	t.Parallel()
	sum := Summarize(Assemble(assembleFixture(), 30))
	assert.Equal(t, Summary{
		Total:            2,
		ForehandCount:    1,
		BackhandCount:    1,
		OpponentStrokes:  1,
		AverageFormScore: 68.5,
		BestFormScore:    82,
	}, sum)

	assert.Equal(t, Summary{}, Summarize(nil))
}

func TestSummarizeUnknownHitterCountsAsSubject(t *testing.T) {
	t.Parallel()
	sum := Summarize([]Stroke{{StrokeType: l2proposals.Unknown, FormScore: 30}})
	assert.Equal(t, 1, sum.Total)
	assert.Equal(t, 1, sum.UnknownCount)
	assert.Equal(t, 30.0, sum.BestFormScore)
}
