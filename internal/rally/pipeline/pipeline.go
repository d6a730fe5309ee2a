package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/stroke.report/internal/httputil"
	auditlog "github.com/banshee-data/stroke.report/internal/rally/debug"
	"github.com/banshee-data/stroke.report/internal/rally/l1inputs"
	"github.com/banshee-data/stroke.report/internal/rally/l2proposals"
	"github.com/banshee-data/stroke.report/internal/rally/l3detect"
	"github.com/banshee-data/stroke.report/internal/rally/l4fusion"
	"github.com/banshee-data/stroke.report/internal/rally/l5classify"
	"github.com/banshee-data/stroke.report/internal/rally/l6strokes"
	"github.com/banshee-data/stroke.report/internal/rally/progress"
	"github.com/banshee-data/stroke.report/internal/timeutil"
)

// ErrNoInputData fails a run that has neither ball track nor pose frames.
var ErrNoInputData = errors.New("no input data")

// Stage names in execution order.
const (
	StageProposals      = "proposals"
	StageReversals      = "reversals"
	StageContacts       = "contacts"
	StageFusion         = "fusion"
	StageClassification = "classification"
	StageAttribution    = "attribution"
	StageAssembly       = "assembly"
)

// Stages lists the stage names in execution order.
var Stages = []string{
	StageProposals,
	StageReversals,
	StageContacts,
	StageFusion,
	StageClassification,
	StageAttribution,
	StageAssembly,
}

// Input is the read-only snapshot a run analyses.
type Input struct {
	Track []l1inputs.TrackPoint `json:"track"`
	Poses []l1inputs.PoseFrame  `json:"poses"`
	Meta  l1inputs.VideoMeta    `json:"meta"`
}

// Result is the outcome of one run.
type Result struct {
	RunID     string                 `json:"run_id"`
	Status    progress.Status        `json:"status"`
	Detail    string                 `json:"detail,omitempty"`
	Strategy  string                 `json:"strategy"`
	Proposals []l2proposals.Proposal `json:"proposals"`
	Reversals []l3detect.Reversal    `json:"reversals"`
	Contacts  []l3detect.Contact     `json:"contacts"`
	Events    []l4fusion.Event       `json:"events"`
	Strokes   []l6strokes.Stroke     `json:"strokes"`
	Summary   l6strokes.Summary      `json:"summary"`
	Timings   []progress.StageTiming `json:"timings"`
	// Audit is set when audit collection is enabled.
	Audit *auditlog.Record `json:"-"`
}

// StageFunc observes stage transitions. index is zero-based; done is
// false when the stage starts and true when it ends.
type StageFunc func(stage string, index int, done bool)

// Runner executes the staged analysis. A Runner holds no per-run state
// and may run several analyses concurrently.
type Runner struct {
	cfg        Config
	classifier l5classify.EventClassifier
	table      *progress.Table
	clock      timeutil.Clock
	audit      bool
	onStage    StageFunc
	client     httputil.HTTPClient
	frames     l5classify.FrameSource
}

// Option configures a Runner.
type Option func(*Runner)

// WithProgress reports run status into table.
func WithProgress(table *progress.Table) Option {
	return func(r *Runner) { r.table = table }
}

// WithClock replaces the clock used for stage timings.
func WithClock(c timeutil.Clock) Option {
	return func(r *Runner) { r.clock = c }
}

// WithAudit enables the per-run audit record.
func WithAudit(enabled bool) Option {
	return func(r *Runner) { r.audit = enabled }
}

// WithStageFunc registers a stage observer, such as a progress bar.
func WithStageFunc(fn StageFunc) Option {
	return func(r *Runner) { r.onStage = fn }
}

// WithClassifier overrides the strategy selected by Config.Strategy.
func WithClassifier(c l5classify.EventClassifier) Option {
	return func(r *Runner) { r.classifier = c }
}

// WithHTTPClient sets the transport used by the external strategy.
func WithHTTPClient(c httputil.HTTPClient) Option {
	return func(r *Runner) { r.client = c }
}

// WithFrameSource sets the video frame source used by the external
// strategy.
func WithFrameSource(fs l5classify.FrameSource) Option {
	return func(r *Runner) { r.frames = fs }
}

// New creates a Runner.
func New(cfg Config, opts ...Option) *Runner {
	r := &Runner{cfg: cfg, clock: timeutil.RealClock{}}
	for _, opt := range opts {
		opt(r)
	}
	if r.classifier == nil {
		r.classifier = r.newClassifier()
	}
	return r
}

func (r *Runner) newClassifier() l5classify.EventClassifier {
	heuristic := l5classify.NewHeuristicClassifier(r.cfg.Heuristic)
	if r.cfg.Strategy != l5classify.StrategyExternal {
		return heuristic
	}
	if r.cfg.External.APIKey == "" {
		opsf("external classifier selected without credentials: every event will degrade (%v)", l5classify.ErrNoCredentials)
	}
	return l5classify.NewExternalClassifier(r.cfg.External, r.client, r.frames, heuristic)
}

// Strategy names the classifier in use.
func (r *Runner) Strategy() string {
	return r.classifier.Name()
}

// Start launches a run in the background and returns its ID at once.
// An empty runID is replaced by a fresh UUID. done, if non-nil, is called
// from the run's goroutine when it finishes.
func (r *Runner) Start(ctx context.Context, runID string, in Input, done func(*Result, error)) string {
	if runID == "" {
		runID = uuid.NewString()
	}
	if r.table != nil {
		r.table.Start(runID, len(Stages))
	}
	go func() {
		res, err := r.Run(ctx, runID, in)
		if done != nil {
			done(res, err)
		}
	}()
	return runID
}

// run is the mutable state of one analysis.
type run struct {
	id        string
	res       *Result
	collector *auditlog.Collector
	stageErrs int
}

// Run executes every stage in order. It returns ErrNoInputData when both
// inputs are empty and the context error when cancelled between stages;
// every other failure degrades a stage and the run completes.
func (r *Runner) Run(ctx context.Context, runID string, in Input) (*Result, error) {
	if runID == "" {
		runID = uuid.NewString()
	}
	rn := &run{
		id: runID,
		res: &Result{
			RunID:    runID,
			Status:   progress.StatusRunning,
			Strategy: r.classifier.Name(),
		},
		collector: auditlog.NewCollector(),
	}
	rn.collector.SetEnabled(r.audit)
	rn.collector.Begin(runID, r.classifier.Name(), in.Meta)
	r.update(runID, func(e *progress.Entry) {
		if e.StageCount == 0 {
			e.StageCount = len(Stages)
		}
		e.Status = progress.StatusRunning
	})

	if len(in.Track) == 0 && len(in.Poses) == 0 {
		opsf("run %s: no track points and no pose frames", runID)
		return r.finish(rn, progress.StatusFailed, progress.DetailNoInputData, ErrNoInputData)
	}
	diagf("run %s: %d track points, %d pose frames, %dx%d @ %.2f fps, strategy %s",
		runID, len(in.Track), len(in.Poses), in.Meta.Width, in.Meta.Height, in.Meta.FrameRate(), r.classifier.Name())

	fps := in.Meta.FrameRate()
	poses := l1inputs.NewPoseIndex(in.Poses)
	track := l1inputs.NewTrackIndex(in.Track)

	var classified []l6strokes.Classified
	steps := []func() (int, error){
		func() (int, error) {
			cfg := r.cfg.Proposals
			cfg.FPS = fps
			rn.res.Proposals = l2proposals.NewDetector(cfg).Detect(in.Poses)
			return len(rn.res.Proposals), nil
		},
		func() (int, error) {
			rn.res.Reversals = l3detect.DetectReversals(in.Track, r.cfg.Reversal)
			return len(rn.res.Reversals), nil
		},
		func() (int, error) {
			rn.res.Contacts = l3detect.DetectContacts(in.Track, poses, in.Meta, r.cfg.Contact)
			return len(rn.res.Contacts), nil
		},
		func() (int, error) {
			rn.collector.RecordDetections(rn.res.Proposals, rn.res.Reversals, rn.res.Contacts)
			cfg := r.cfg.Fusion
			cfg.FPS = fps
			rn.res.Events = l4fusion.Fuse(l4fusion.Inputs{
				Proposals:        rn.res.Proposals,
				TrajectoryFrames: l3detect.ReversalFrames(rn.res.Reversals),
				ContactFrames:    l3detect.ContactFrames(rn.res.Contacts),
				Track:            in.Track,
				MaxFrame:         lastFrame(in.Meta, poses, track),
			}, cfg)
			return len(rn.res.Events), nil
		},
		func() (int, error) {
			ec := &l5classify.EventContext{
				Poses:      poses,
				Track:      track,
				Meta:       in.Meta,
				Handedness: r.cfg.Proposals.Handedness,
				Facing:     r.cfg.Proposals.Facing,
			}
			classified = make([]l6strokes.Classified, len(rn.res.Events))
			for i, ev := range rn.res.Events {
				classified[i] = l6strokes.Classified{Event: ev, Result: r.classify(ctx, runID, ev, ec)}
			}
			return len(classified), nil
		},
		func() (int, error) {
			att := l6strokes.NewAttributor(r.cfg.Attribution, track, poses, in.Meta)
			for i := range classified {
				classified[i].Attribution = att.Attribute(classified[i].Event)
				rn.collector.RecordEvent(classified[i].Event, classified[i].Result, classified[i].Attribution)
			}
			return len(classified), nil
		},
		func() (int, error) {
			rn.res.Strokes = l6strokes.Assemble(classified, fps)
			rn.res.Summary = l6strokes.Summarize(rn.res.Strokes)
			rn.collector.RecordStrokes(rn.res.Strokes, rn.res.Summary)
			return len(rn.res.Strokes), nil
		},
	}

	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			opsf("run %s: cancelled before stage %s: %v", runID, Stages[i], err)
			return r.finish(rn, progress.StatusFailed, progress.DetailCancelled, err)
		}
		r.runStage(rn, i, step)
	}

	detail := ""
	switch {
	case rn.stageErrs > 0:
		detail = progress.DetailProcessingError
	case anyDegraded(classified):
		detail = progress.DetailClassificationDegraded
	}
	diagf("run %s: %d events, %d strokes (%s)", runID, len(rn.res.Events), len(rn.res.Strokes), detailOr(detail, "ok"))
	return r.finish(rn, progress.StatusCompleted, detail, nil)
}

// runStage times one stage and converts a panic into an empty, logged
// stage output.
func (r *Runner) runStage(rn *run, index int, step func() (int, error)) {
	name := Stages[index]
	r.update(rn.id, func(e *progress.Entry) {
		e.Stage = name
		e.StageIndex = index
	})
	if r.onStage != nil {
		r.onStage(name, index, false)
	}

	start := r.clock.Now()
	items, err := protect(step)
	elapsed := r.clock.Since(start)
	if err != nil {
		rn.stageErrs++
		opsf("run %s: stage %s degraded (events %d, proposals %d): %v", rn.id, name, len(rn.res.Events), len(rn.res.Proposals), err)
	}
	rn.collector.RecordStage(name, items, err)

	timing := progress.StageTiming{
		Stage:      name,
		DurationMs: float64(elapsed) / float64(time.Millisecond),
		Items:      items,
	}
	rn.res.Timings = append(rn.res.Timings, timing)
	r.update(rn.id, func(e *progress.Entry) {
		e.StageIndex = index + 1
		e.Timings = append(e.Timings, timing)
	})
	if r.onStage != nil {
		r.onStage(name, index, true)
	}
	tracef("run %s: stage %s: %d items in %s", rn.id, name, items, elapsed)
}

// classify runs the classifier on one event, degrading a panic to an
// uncertain result so the remaining events still run.
func (r *Runner) classify(ctx context.Context, runID string, ev l4fusion.Event, ec *l5classify.EventContext) (res l5classify.Result) {
	defer func() {
		if p := recover(); p != nil {
			opsf("run %s: classifier %s panicked on event %d (frames %d-%d): %v", runID, r.classifier.Name(), ev.Frame, ev.Start, ev.End, p)
			res = l5classify.Result{
				Label:    l5classify.LabelUncertain,
				Reason:   progress.DetailProcessingError,
				Strategy: r.classifier.Name(),
				Degraded: true,
			}
		}
	}()
	return r.classifier.Classify(ctx, ev, ec)
}

func (r *Runner) finish(rn *run, status progress.Status, detail string, err error) (*Result, error) {
	rn.res.Status = status
	rn.res.Detail = detail
	rn.res.Audit = rn.collector.Emit()
	r.update(rn.id, func(e *progress.Entry) {
		e.Status = status
		e.Detail = detail
		e.Stage = ""
		if err != nil {
			e.Error = err.Error()
		}
	})
	if err != nil {
		return rn.res, fmt.Errorf("run %s: %w", rn.id, err)
	}
	return rn.res, nil
}

func (r *Runner) update(runID string, fn func(*progress.Entry)) {
	if r.table != nil {
		r.table.Update(runID, fn)
	}
}

// protect runs step and converts a panic into an error.
func protect(step func() (int, error)) (items int, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v\n%s", p, debug.Stack())
			items = 0
		}
	}()
	return step()
}

// lastFrame is the recording's last frame, or the last observed input
// frame when the recording length is unknown.
func lastFrame(meta l1inputs.VideoMeta, poses *l1inputs.PoseIndex, track *l1inputs.TrackIndex) int {
	if m := meta.MaxFrame(); m >= 0 {
		return m
	}
	return max(poses.MaxFrame(), track.MaxFrame())
}

func anyDegraded(items []l6strokes.Classified) bool {
	for _, it := range items {
		if it.Result.Degraded {
			return true
		}
	}
	return false
}

func detailOr(detail, def string) string {
	if detail == "" {
		return def
	}
	return detail
}
