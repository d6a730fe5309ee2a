// Command strokes analyses one recorded rally from its ball-track and pose
// files and prints the detected strokes as JSON.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/cheggaaa/pb/v3"

	"github.com/banshee-data/stroke.report/internal/config"
	"github.com/banshee-data/stroke.report/internal/db"
	"github.com/banshee-data/stroke.report/internal/fsutil"
	"github.com/banshee-data/stroke.report/internal/monitoring"
	auditlog "github.com/banshee-data/stroke.report/internal/rally/debug"
	"github.com/banshee-data/stroke.report/internal/rally/framegrab"
	"github.com/banshee-data/stroke.report/internal/rally/l1inputs"
	"github.com/banshee-data/stroke.report/internal/rally/l2proposals"
	"github.com/banshee-data/stroke.report/internal/rally/pipeline"
	"github.com/banshee-data/stroke.report/internal/rally/report"
	"github.com/banshee-data/stroke.report/internal/security"
	"github.com/banshee-data/stroke.report/internal/version"
)

type options struct {
	trackPath  string
	posesPath  string
	videoPath  string
	tuningPath string
	classifier string
	width      int
	height     int
	fps        float64
	frames     int
	auditPath  string
	plotPath   string
	chartPath  string
	dbPath     string
	logLevel   string
	quiet      bool
	version    bool

	// out receives the audit and chart files; nil writes to disk.
	out fsutil.FileSystem
}

func parseOptions(args []string, stderr io.Writer) (*options, error) {
	var o options
	fs := flag.NewFlagSet("strokes", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.trackPath, "track", "", "ball track file (JSON array or JSON lines)")
	fs.StringVar(&o.posesPath, "poses", "", "pose frames file (JSON array or JSON lines)")
	fs.StringVar(&o.videoPath, "video", "", "recording to sample frames from for the external classifier")
	fs.StringVar(&o.tuningPath, "tuning", "", "tuning config (.json); defaults apply when empty")
	fs.StringVar(&o.classifier, "classifier", "", "classifier strategy override: heuristic or external")
	fs.IntVar(&o.width, "width", 0, "frame width in pixels")
	fs.IntVar(&o.height, "height", 0, "frame height in pixels")
	fs.Float64Var(&o.fps, "fps", 0, "frame rate (default 30 when unknown)")
	fs.IntVar(&o.frames, "frames", 0, "total frame count")
	fs.StringVar(&o.auditPath, "audit", "", "write the audit record as JSON lines to this file")
	fs.StringVar(&o.plotPath, "plot", "", "write the wrist velocity plot to this file (.png, .svg, .pdf)")
	fs.StringVar(&o.chartPath, "chart", "", "write the HTML event timeline to this file")
	fs.StringVar(&o.dbPath, "db", "", "persist the run to this sqlite database")
	fs.StringVar(&o.logLevel, "log-level", config.LogLevelOps, "log streams to enable: ops, diag or trace")
	fs.BoolVar(&o.quiet, "quiet", false, "hide the progress bar")
	fs.BoolVar(&o.version, "version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if o.version {
		return &o, nil
	}
	if o.trackPath == "" && o.posesPath == "" {
		return nil, errors.New("at least one of -track or -poses is required")
	}
	switch o.logLevel {
	case config.LogLevelOps, config.LogLevelDiag, config.LogLevelTrace:
	default:
		return nil, fmt.Errorf("invalid -log-level %q", o.logLevel)
	}
	return &o, nil
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	o, err := parseOptions(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatal(err)
	}
	if o.version {
		fmt.Println(version.String("strokes"))
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := analyse(ctx, o, os.Stdout, os.Stderr); err != nil {
		log.Fatal(err)
	}
}

func loadTuning(o *options) (*config.TuningConfig, error) {
	tuning := config.EmptyTuningConfig()
	if o.tuningPath != "" {
		var err error
		if tuning, err = config.LoadTuningConfig(o.tuningPath); err != nil {
			return nil, err
		}
	}
	if o.classifier != "" {
		strategy := o.classifier
		tuning = tuning.Merge(&config.TuningConfig{ClassifierStrategy: &strategy})
		if err := tuning.Validate(); err != nil {
			return nil, err
		}
	}
	return tuning, nil
}

func loadInput(o *options) (pipeline.Input, error) {
	in := pipeline.Input{
		Meta: l1inputs.VideoMeta{Width: o.width, Height: o.height, FPS: o.fps, TotalFrames: o.frames},
	}
	var err error
	if o.trackPath != "" {
		if in.Track, err = l1inputs.LoadTrackPoints(o.trackPath); err != nil {
			return in, err
		}
	}
	if o.posesPath != "" {
		if in.Poses, err = l1inputs.LoadPoseFrames(o.posesPath); err != nil {
			return in, err
		}
	}
	return in, nil
}

// fillMeta takes any property the flags left unset from the recording.
func fillMeta(meta, video l1inputs.VideoMeta) l1inputs.VideoMeta {
	if meta.Width <= 0 {
		meta.Width = video.Width
	}
	if meta.Height <= 0 {
		meta.Height = video.Height
	}
	if meta.FPS <= 0 {
		meta.FPS = video.FPS
	}
	if meta.TotalFrames <= 0 {
		meta.TotalFrames = video.TotalFrames
	}
	return meta
}

// stageBar drives a progress bar from pipeline stage transitions.
func stageBar(w io.Writer) (*pb.ProgressBar, pipeline.StageFunc) {
	tmpl := `{{ string . "prefix" }} {{counters . }} {{bar . }} {{percent . }} {{etime . "%s elapsed"}}`
	bar := pb.ProgressBarTemplate(tmpl).New(len(pipeline.Stages))
	bar.SetWriter(w)
	bar.Start()
	return bar, func(stage string, index int, done bool) {
		bar.Set("prefix", fmt.Sprintf("%-14s", stage))
		if done {
			bar.SetCurrent(int64(index + 1))
		}
	}
}

func analyse(ctx context.Context, o *options, stdout, stderr io.Writer) error {
	writers := monitoring.WritersForLevel(o.logLevel, stderr)
	pipeline.ConfigureLogging(writers)
	framegrab.SetLogWriters(writers.Ops, writers.Diag, writers.Trace)

	for _, p := range []string{o.auditPath, o.plotPath, o.chartPath, o.dbPath} {
		if p == "" {
			continue
		}
		if err := security.ValidateOutputPath(p); err != nil {
			return err
		}
	}

	tuning, err := loadTuning(o)
	if err != nil {
		return err
	}
	in, err := loadInput(o)
	if err != nil {
		return err
	}

	apiKey := os.Getenv(tuning.GetExternalAPIKeyEnv())
	cfg, err := pipeline.ConfigFromTuning(tuning, apiKey)
	if err != nil {
		return err
	}

	opts := []pipeline.Option{pipeline.WithAudit(o.auditPath != "" || o.dbPath != "")}
	if o.videoPath != "" {
		sampler, err := framegrab.Open(o.videoPath, framegrab.DefaultOptions())
		if err != nil {
			return err
		}
		defer sampler.Close()
		in.Meta = fillMeta(in.Meta, sampler.Meta())
		opts = append(opts, pipeline.WithFrameSource(sampler))
	}
	if !o.quiet {
		bar, onStage := stageBar(stderr)
		defer bar.Finish()
		opts = append(opts, pipeline.WithStageFunc(onStage))
	}
	runner := pipeline.New(cfg, opts...)

	var store *db.RunStore
	var runID string
	if o.dbPath != "" {
		database, err := db.NewDB(o.dbPath)
		if err != nil {
			return err
		}
		defer database.Close()
		store = db.NewRunStore(database)
		params, err := json.Marshal(tuning)
		if err != nil {
			return err
		}
		run := &db.Run{Strategy: runner.Strategy(), ParamsJSON: params}
		if err := store.InsertRun(run); err != nil {
			return err
		}
		runID = run.RunID
	}

	res, runErr := runner.Run(ctx, runID, in)
	if store != nil && res != nil {
		if err := pipeline.Save(store, res); err != nil {
			return err
		}
	}
	if runErr != nil {
		return runErr
	}

	out := o.out
	if out == nil {
		out = fsutil.OSFileSystem{}
	}
	if o.auditPath != "" {
		if err := writeAudit(out, o.auditPath, res.Audit); err != nil {
			return err
		}
	}
	if o.plotPath != "" {
		series := velocitySeries(cfg, in)
		if err := report.SaveVelocityPlot(o.plotPath, series, cfg.Proposals.VelocityThreshold, res.Proposals); err != nil {
			return err
		}
	}
	if o.chartPath != "" {
		if err := writeChart(out, o.chartPath, res); err != nil {
			return err
		}
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		RunID    string      `json:"run_id"`
		Status   string      `json:"status"`
		Detail   string      `json:"detail,omitempty"`
		Strategy string      `json:"strategy"`
		Strokes  interface{} `json:"strokes"`
		Summary  interface{} `json:"summary"`
	}{res.RunID, string(res.Status), res.Detail, res.Strategy, res.Strokes, res.Summary})
}

// velocitySeries recomputes the wrist speeds detection used, with the
// same frame rate the pipeline applied.
func velocitySeries(cfg pipeline.Config, in pipeline.Input) l2proposals.VelocitySeries {
	pcfg := cfg.Proposals
	pcfg.FPS = in.Meta.FrameRate()
	return l2proposals.NewDetector(pcfg).Velocities(in.Poses)
}

func writeAudit(out fsutil.FileSystem, path string, rec *auditlog.Record) error {
	return fsutil.WriteArtifact(out, path, func(w io.Writer) error {
		return auditlog.WriteAudit(w, rec)
	})
}

func writeChart(out fsutil.FileSystem, path string, res *pipeline.Result) error {
	return fsutil.WriteArtifact(out, path, func(w io.Writer) error {
		return report.RenderTimeline(w, "Run "+res.RunID, res.Events, res.Strokes)
	})
}
