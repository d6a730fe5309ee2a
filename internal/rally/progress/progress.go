// Package progress keeps a bounded in-memory table of analysis run
// progress keyed by run ID, so callers can poll a fire-and-forget run.
package progress

import (
	"sort"
	"sync"
	"time"

	"github.com/banshee-data/stroke.report/internal/timeutil"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further updates are expected.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Detail codes refine a status for display.
const (
	DetailNoInputData            = "no_input_data"
	DetailProcessingError        = "processing_error"
	DetailClassificationDegraded = "classification_degraded"
	DetailCancelled              = "cancelled"
)

// StageTiming is the wall time one pipeline stage took.
type StageTiming struct {
	Stage      string  `json:"stage"`
	DurationMs float64 `json:"duration_ms"`
	Items      int     `json:"items"`
}

// Entry is a snapshot of one run's progress.
type Entry struct {
	RunID      string        `json:"run_id"`
	Status     Status        `json:"status"`
	Detail     string        `json:"detail,omitempty"`
	Stage      string        `json:"stage,omitempty"`
	StageIndex int           `json:"stage_index"`
	StageCount int           `json:"stage_count"`
	Timings    []StageTiming `json:"timings,omitempty"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// Fraction is the completed share of stages in [0, 1].
func (e Entry) Fraction() float64 {
	if e.Status == StatusCompleted {
		return 1
	}
	if e.StageCount <= 0 {
		return 0
	}
	return float64(e.StageIndex) / float64(e.StageCount)
}

// Table is a concurrency-safe progress table bounded by entry count and
// age. Finished entries older than maxAge are evicted; when the table is
// full the least recently updated entry goes first, preferring finished
// ones.
type Table struct {
	mu         sync.Mutex
	clock      timeutil.Clock
	maxEntries int
	maxAge     time.Duration
	entries    map[string]*Entry
}

// NewTable creates a table. A nil clock uses the real clock; a
// non-positive maxEntries or maxAge disables that bound.
func NewTable(maxEntries int, maxAge time.Duration, clock timeutil.Clock) *Table {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Table{
		clock:      clock,
		maxEntries: maxEntries,
		maxAge:     maxAge,
		entries:    make(map[string]*Entry),
	}
}

// Start registers runID as pending and returns the stored snapshot.
func (t *Table) Start(runID string, stageCount int) Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock.Now()
	e := &Entry{
		RunID:      runID,
		Status:     StatusPending,
		StageCount: stageCount,
		StartedAt:  now,
		UpdatedAt:  now,
	}
	t.entries[runID] = e
	t.pruneLocked(now)
	return *e
}

// Update applies fn to the entry for runID and stamps it. It reports
// false when the run is unknown or was evicted.
func (t *Table) Update(runID string, fn func(*Entry)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[runID]
	if !ok {
		return false
	}
	fn(e)
	e.UpdatedAt = t.clock.Now()
	return true
}

// Get returns a copy of the entry for runID.
func (t *Table) Get(runID string) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[runID]
	if !ok {
		return Entry{}, false
	}
	out := *e
	out.Timings = append([]StageTiming(nil), e.Timings...)
	return out, true
}

// List returns copies of all entries, most recently started first.
func (t *Table) List() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		c := *e
		c.Timings = append([]StageTiming(nil), e.Timings...)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].RunID < out[j].RunID
	})
	return out
}

// Len returns the number of tracked runs.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Prune evicts expired and excess entries and returns how many were
// removed.
func (t *Table) Prune() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pruneLocked(t.clock.Now())
}

func (t *Table) pruneLocked(now time.Time) int {
	removed := 0
	if t.maxAge > 0 {
		for id, e := range t.entries {
			if e.Status.Terminal() && now.Sub(e.UpdatedAt) > t.maxAge {
				delete(t.entries, id)
				removed++
			}
		}
	}
	if t.maxEntries <= 0 || len(t.entries) <= t.maxEntries {
		return removed
	}

	victims := make([]*Entry, 0, len(t.entries))
	for _, e := range t.entries {
		victims = append(victims, e)
	}
	sort.Slice(victims, func(i, j int) bool {
		a, b := victims[i], victims[j]
		if a.Status.Terminal() != b.Status.Terminal() {
			return a.Status.Terminal()
		}
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.Before(b.UpdatedAt)
		}
		return a.RunID < b.RunID
	})
	for _, e := range victims[:len(t.entries)-t.maxEntries] {
		delete(t.entries, e.RunID)
		removed++
	}
	return removed
}
