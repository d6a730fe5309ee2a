package debug

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/stroke.report/internal/rally/l1inputs"
	"github.com/banshee-data/stroke.report/internal/rally/l2proposals"
	"github.com/banshee-data/stroke.report/internal/rally/l3detect"
	"github.com/banshee-data/stroke.report/internal/rally/l4fusion"
	"github.com/banshee-data/stroke.report/internal/rally/l5classify"
	"github.com/banshee-data/stroke.report/internal/rally/l6strokes"
)

func TestCollectorDisabledIsNoop(t *testing.T) {
	t.Parallel()
	c := NewCollector()
	c.Begin("run", "heuristic", l1inputs.VideoMeta{})
	c.RecordEvent(l4fusion.Event{Frame: 1}, l5classify.Result{}, l6strokes.Attribution{})
	assert.Nil(t, c.Emit())

	var nilCollector *Collector
	assert.False(t, nilCollector.IsEnabled())
	nilCollector.RecordStage("fusion", 1, nil)
	nilCollector.Reset()
}

func TestCollectorRequiresBegin(t *testing.T) {
	t.Parallel()
	c := NewCollector()
	c.SetEnabled(true)
	c.RecordEvent(l4fusion.Event{Frame: 1}, l5classify.Result{}, l6strokes.Attribution{})
	assert.Nil(t, c.Emit())
}

func sampleRecord(t *testing.T) *Record {
	t.Helper()
	c := NewCollector()
	c.SetEnabled(true)
	c.Begin("run-42", l5classify.StrategyExternal, l1inputs.VideoMeta{Width: 1280, Height: 720, FPS: 30, TotalFrames: 900})
	c.RecordDetections(
		[]l2proposals.Proposal{{Start: 10, End: 20, Peak: 15, MaxVelocity: 900, ProvisionalType: l2proposals.Forehand, FormScore: 77}},
		[]l3detect.Reversal{{Frame: 17, Strength: 20}},
		nil,
	)
	contact := 16
	ev := l4fusion.Event{Frame: 16, Start: 9, End: 22, Sources: []l4fusion.Source{l4fusion.SourcePose, l4fusion.SourceTrajectory}}
	res := l5classify.Result{
		Label: l5classify.LabelBackhand, Confidence: 0.72, Reason: "two-handed",
		ContactFrame: &contact, SampledFrames: []int{10, 12, 14, 16},
		Strategy: l5classify.StrategyExternal, RawResponse: "Draft: {\"label\":\"forehand\"}\nFinal: {...}",
	}
	attr := l6strokes.Attribution{Hitter: l6strokes.HitterPlayer, Confidence: 0.9, Reason: l6strokes.ReasonPlayerCloser}
	c.RecordEvent(ev, res, attr)
	c.RecordStage("contact", 0, errors.New("recovered panic"))

	strokes := l6strokes.Assemble([]l6strokes.Classified{{Event: ev, Result: res, Attribution: attr}}, 30)
	c.RecordStrokes(strokes, l6strokes.Summarize(strokes))

	rec := c.Emit()
	require.NotNil(t, rec)
	assert.Nil(t, c.Emit(), "emit clears the record")
	return rec
}

func TestAuditRoundTrip(t *testing.T) {
	t.Parallel()
	rec := sampleRecord(t)

	var buf bytes.Buffer
	require.NoError(t, WriteAudit(&buf, rec))
	assert.Equal(t, 3, strings.Count(buf.String(), "\n"), "header, one event, one stroke")

	got, err := ReadAudit(&buf)
	require.NoError(t, err)

	require.Len(t, got.Strokes, 1)
	want := rec.Strokes[0]
	s := got.Strokes[0]
	assert.Equal(t, want.Start, s.Start)
	assert.Equal(t, want.End, s.End)
	assert.Equal(t, want.Peak, s.Peak)
	assert.Equal(t, want.StrokeType, s.StrokeType)
	assert.Equal(t, want.Provenance.Classifier.Confidence, s.Provenance.Classifier.Confidence)
	assert.Equal(t, want.Provenance.Kind, s.Provenance.Kind)

	assert.Equal(t, "run-42", got.RunID)
	assert.Equal(t, rec.Meta, got.Meta)
	assert.Equal(t, rec.Summary, got.Summary)
	require.Len(t, got.Events, 1)
	assert.Equal(t, rec.Events[0].Classification.RawResponse, got.Events[0].Classification.RawResponse)
	require.NotNil(t, got.Events[0].Classification.ContactFrame)
	assert.Equal(t, 16, *got.Events[0].Classification.ContactFrame)
	assert.Equal(t, rec.Events[0].Event.Sources, got.Events[0].Event.Sources)
	assert.Equal(t, "recovered panic", got.Stages["contact"].Error)
	assert.Len(t, got.Proposals, 1)
	assert.Len(t, got.Reversals, 1)
}

func TestReadAuditErrors(t *testing.T) {
	t.Parallel()
	_, err := ReadAudit(strings.NewReader(""))
	assert.Error(t, err)

	_, err = ReadAudit(strings.NewReader(`{"type":"stroke","stroke":{"start_frame":1}}` + "\n"))
	assert.ErrorContains(t, err, "before header")

	_, err = ReadAudit(strings.NewReader("not json\n"))
	assert.Error(t, err)

	assert.Error(t, WriteAudit(&bytes.Buffer{}, nil))
}
