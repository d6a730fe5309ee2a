package pipeline

import (
	"io"

	"github.com/banshee-data/stroke.report/internal/monitoring"
	"github.com/banshee-data/stroke.report/internal/rally/l2proposals"
	"github.com/banshee-data/stroke.report/internal/rally/l3detect"
	"github.com/banshee-data/stroke.report/internal/rally/l4fusion"
	"github.com/banshee-data/stroke.report/internal/rally/l5classify"
	"github.com/banshee-data/stroke.report/internal/rally/l6strokes"
)

// ConfigureLogging routes the ops, diag and trace streams of every
// analysis package, including the pipeline's own. The frame sampler
// links OpenCV and is configured separately by the binaries that use it.
func ConfigureLogging(w monitoring.LogWriters) {
	for _, set := range []func(ops, diag, trace io.Writer){
		l2proposals.SetLogWriters,
		l3detect.SetLogWriters,
		l4fusion.SetLogWriters,
		l5classify.SetLogWriters,
		l6strokes.SetLogWriters,
		SetLogWriters,
	} {
		set(w.Ops, w.Diag, w.Trace)
	}
}
