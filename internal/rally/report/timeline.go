// Package report renders debug views of a run: an HTML event timeline
// and a PNG wrist-velocity plot for threshold tuning.
package report

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/stroke.report/internal/rally/l2proposals"
	"github.com/banshee-data/stroke.report/internal/rally/l4fusion"
	"github.com/banshee-data/stroke.report/internal/rally/l6strokes"
)

// AssetsHost is where the rendered page loads the echarts scripts from.
var AssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// Timeline lanes, top to bottom.
const (
	laneStrokes    = 0
	laneContact    = 1
	laneTrajectory = 2
	lanePose       = 3
)

var laneNames = []string{"strokes", "contact", "trajectory", "pose"}

var strokeColors = map[l2proposals.StrokeType]string{
	l2proposals.Forehand: "#35b779",
	l2proposals.Backhand: "#3e4989",
	l2proposals.Unknown:  "#9e9e9e",
}

// RenderTimeline writes an HTML scatter of fused events by contributing
// source and the final strokes by type, all against frame number.
func RenderTimeline(w io.Writer, title string, events []l4fusion.Event, strokes []l6strokes.Stroke) error {
	bySource := map[l4fusion.Source][]opts.ScatterData{}
	lanes := map[l4fusion.Source]int{
		l4fusion.SourcePose:       lanePose,
		l4fusion.SourceTrajectory: laneTrajectory,
		l4fusion.SourceContact:    laneContact,
	}
	for _, ev := range events {
		for _, src := range ev.Sources {
			bySource[src] = append(bySource[src], opts.ScatterData{
				Name:  fmt.Sprintf("event %d (%d-%d)", ev.Frame, ev.Start, ev.End),
				Value: []interface{}{ev.Frame, lanes[src]},
			})
		}
	}

	byType := map[l2proposals.StrokeType][]opts.ScatterData{}
	for _, s := range strokes {
		name := fmt.Sprintf("%s %d-%d form=%.0f hitter=%s", s.StrokeType, s.Start, s.End, s.FormScore, s.Hitter())
		if s.Provenance.Fallback {
			name += " (fallback)"
		}
		byType[s.StrokeType] = append(byType[s.StrokeType], opts.ScatterData{
			Name:  name,
			Value: []interface{}{s.Peak, laneStrokes},
		})
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "1200px", Height: "420px", AssetsHost: AssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("events=%d strokes=%d", len(events), len(strokes))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Frame", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "category", Data: laneNames}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)

	for _, src := range []l4fusion.Source{l4fusion.SourcePose, l4fusion.SourceTrajectory, l4fusion.SourceContact} {
		scatter.AddSeries(string(src), bySource[src], charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}))
	}
	for _, typ := range []l2proposals.StrokeType{l2proposals.Forehand, l2proposals.Backhand, l2proposals.Unknown} {
		scatter.AddSeries(string(typ), byType[typ],
			charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 14}),
			charts.WithItemStyleOpts(opts.ItemStyle{Color: strokeColors[typ]}))
	}

	if err := scatter.Render(w); err != nil {
		return fmt.Errorf("render timeline: %w", err)
	}
	return nil
}
