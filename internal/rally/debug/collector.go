// Package debug captures the per-run audit record: every detector output,
// fused event, classification and attribution behind the final strokes.
// Records are written as JSON lines for offline replay and threshold
// tuning.
package debug

import (
	"github.com/banshee-data/stroke.report/internal/rally/l1inputs"
	"github.com/banshee-data/stroke.report/internal/rally/l2proposals"
	"github.com/banshee-data/stroke.report/internal/rally/l3detect"
	"github.com/banshee-data/stroke.report/internal/rally/l4fusion"
	"github.com/banshee-data/stroke.report/internal/rally/l5classify"
	"github.com/banshee-data/stroke.report/internal/rally/l6strokes"
)

// Record is the audit trail of one run.
type Record struct {
	RunID     string                  `json:"run_id"`
	Strategy  string                  `json:"strategy"`
	Meta      l1inputs.VideoMeta      `json:"meta"`
	Proposals []l2proposals.Proposal  `json:"proposals"`
	Reversals []l3detect.Reversal     `json:"reversals"`
	Contacts  []l3detect.Contact      `json:"contacts"`
	Events    []EventRecord           `json:"events"`
	Strokes   []l6strokes.Stroke      `json:"strokes"`
	Summary   l6strokes.Summary       `json:"summary"`
	Stages    map[string]StageOutcome `json:"stages,omitempty"`
}

// EventRecord pairs a fused event with everything decided about it.
type EventRecord struct {
	Event          l4fusion.Event        `json:"event"`
	Classification l5classify.Result     `json:"classification"`
	Attribution    l6strokes.Attribution `json:"attribution"`
}

// StageOutcome notes a stage that degraded instead of completing.
type StageOutcome struct {
	Error string `json:"error,omitempty"`
	Items int    `json:"items"`
}

// Collector accumulates the audit record for a single run.
//
// The collector is stateful: call Begin, then Record*() during the run,
// then Emit() at completion. When disabled every call is a no-op.
type Collector struct {
	enabled bool
	current *Record
}

// NewCollector creates a collector that's initially disabled.
func NewCollector() *Collector {
	return &Collector{}
}

// SetEnabled controls whether the collector records anything.
func (c *Collector) SetEnabled(enabled bool) {
	c.enabled = enabled
}

// IsEnabled returns true if the collector is actively recording.
func (c *Collector) IsEnabled() bool {
	return c != nil && c.enabled
}

// Begin starts a new record. Must be called before any Record*() calls.
func (c *Collector) Begin(runID, strategy string, meta l1inputs.VideoMeta) {
	if !c.IsEnabled() {
		return
	}
	c.current = &Record{
		RunID:    runID,
		Strategy: strategy,
		Meta:     meta,
		Stages:   make(map[string]StageOutcome),
	}
}

// RecordDetections captures the three detector outputs.
func (c *Collector) RecordDetections(proposals []l2proposals.Proposal, reversals []l3detect.Reversal, contacts []l3detect.Contact) {
	if !c.IsEnabled() || c.current == nil {
		return
	}
	c.current.Proposals = proposals
	c.current.Reversals = reversals
	c.current.Contacts = contacts
}

// RecordEvent captures one event with its classification and attribution.
func (c *Collector) RecordEvent(ev l4fusion.Event, res l5classify.Result, attr l6strokes.Attribution) {
	if !c.IsEnabled() || c.current == nil {
		return
	}
	c.current.Events = append(c.current.Events, EventRecord{Event: ev, Classification: res, Attribution: attr})
}

// RecordStage notes a stage's item count and any error it recovered from.
func (c *Collector) RecordStage(stage string, items int, err error) {
	if !c.IsEnabled() || c.current == nil {
		return
	}
	out := StageOutcome{Items: items}
	if err != nil {
		out.Error = err.Error()
	}
	c.current.Stages[stage] = out
}

// RecordStrokes captures the final output.
func (c *Collector) RecordStrokes(strokes []l6strokes.Stroke, summary l6strokes.Summary) {
	if !c.IsEnabled() || c.current == nil {
		return
	}
	c.current.Strokes = strokes
	c.current.Summary = summary
}

// Emit returns the accumulated record and clears it. Returns nil if
// collection is disabled or no record was begun.
func (c *Collector) Emit() *Record {
	if !c.IsEnabled() || c.current == nil {
		return nil
	}
	rec := c.current
	c.current = nil
	return rec
}

// Reset discards any pending record.
func (c *Collector) Reset() {
	if c != nil {
		c.current = nil
	}
}
