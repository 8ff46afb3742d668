package api

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/nightwatchman/internal/alert"
	"github.com/banshee-data/nightwatchman/internal/httputil"
)

const echartsAssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// StateDwell summarises the visits to one posture state.
type StateDwell struct {
	State     alert.State `json:"state"`
	Visits    int         `json:"visits"`
	Total     float64     `json:"total_seconds"`
	MeanVisit float64     `json:"mean_visit_seconds"`
}

// Dwell folds a transition history into per-state time, counting the
// current visit up to now. The machine starts in MonitoringLying at start.
// When trimmed is set the oldest records are gone, so counting begins at
// the first retained transition instead of at start.
func Dwell(history []alert.Transition, start, now time.Time, trimmed bool) []StateDwell {
	visits := make(map[alert.State][]float64, len(alert.States))
	state, since := alert.MonitoringLying, start
	if trimmed && len(history) > 0 {
		state, since = history[0].To, history[0].Timestamp
		history = history[1:]
	}
	for _, tr := range history {
		visits[state] = append(visits[state], tr.Timestamp.Sub(since).Seconds())
		state, since = tr.To, tr.Timestamp
	}
	visits[state] = append(visits[state], now.Sub(since).Seconds())

	out := make([]StateDwell, 0, len(alert.States))
	for _, st := range alert.States {
		v := visits[st]
		d := StateDwell{State: st, Visits: len(v)}
		for _, s := range v {
			d.Total += s
		}
		if len(v) > 0 {
			d.MeanVisit = stat.Mean(v, nil)
		}
		out = append(out, d)
	}
	return out
}

// handleTimelineChart renders each transition as a point at (seconds since
// start, state index).
func (s *Server) handleTimelineChart(w http.ResponseWriter, r *http.Request) {
	snap := s.pipeline.Snapshot()
	history := s.pipeline.Transitions(0)

	data := make([]opts.ScatterData, 0, len(history)+1)
	data = append(data, opts.ScatterData{Value: []interface{}{0.0, alert.MonitoringLying.Index()}, Name: string(alert.MonitoringLying)})
	for _, tr := range history {
		x := tr.Timestamp.Sub(snap.StartedAt).Seconds()
		data = append(data, opts.ScatterData{Value: []interface{}{x, tr.To.Index()}, Name: tr.String()})
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Posture timeline", Theme: "dark", Width: "1200px", Height: "500px", AssetsHost: echartsAssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Posture timeline", Subtitle: fmt.Sprintf("transitions=%d now=%s", len(history), snap.State)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: 0, Name: "seconds since start", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: len(alert.States) - 1, Name: "state", NameLocation: "middle", NameGap: 30}),
	)
	scatter.AddSeries("transitions", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}))

	page := components.NewPage()
	page.AddCharts(scatter)
	renderPage(w, page)
}

// handleDwellChart renders total and mean-visit seconds per state.
func (s *Server) handleDwellChart(w http.ResponseWriter, r *http.Request) {
	snap := s.pipeline.Snapshot()
	history := s.pipeline.Transitions(0)
	trimmed := len(history) >= s.pipeline.Config().Alert.HistoryLimit
	dwell := Dwell(history, snap.StartedAt, snap.Timestamp, trimmed)

	x := make([]string, 0, len(dwell))
	total := make([]opts.BarData, 0, len(dwell))
	mean := make([]opts.BarData, 0, len(dwell))
	for _, d := range dwell {
		x = append(x, string(d.State))
		total = append(total, opts.BarData{Value: d.Total})
		mean = append(mean, opts.BarData{Value: d.MeanVisit})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "600px", AssetsHost: echartsAssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Time per state", Subtitle: snap.Timestamp.Format(time.RFC3339)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(x).
		AddSeries("total (s)", total).
		AddSeries("mean visit (s)", mean)

	page := components.NewPage()
	page.AddCharts(bar)
	renderPage(w, page)
}

func renderPage(w http.ResponseWriter, page *components.Page) {
	page.SetAssetsHost(echartsAssetsHost)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
