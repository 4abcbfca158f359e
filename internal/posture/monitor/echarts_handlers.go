package monitor

import (
	"bytes"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/posture.report/internal/httputil"
	"github.com/banshee-data/posture.report/internal/posture/classify"
	"github.com/banshee-data/posture.report/internal/posture/detector"
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// metricSeries names the plotted angle metrics in Metrics.Angles order.
var metricSeries = []string{"slouch", "head tilt", "shoulder alignment", "yaw", "pitch"}

// AttachAdminRoutes mounts the chart and raw window endpoints.
func (w *Window) AttachAdminRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/debug/posture/chart", w.handleChart)
	mux.HandleFunc("/debug/posture/window", w.handleWindow)
}

// handleChart renders the angle metrics of the current window as an
// echarts line chart. This is a debugging endpoint with no auth.
func (w *Window) handleChart(rw http.ResponseWriter, r *http.Request) {
	if !httputil.AllowMethods(rw, r, http.MethodGet) {
		return
	}
	snap := w.Snapshot()
	line := buildChart(snap, w.Counts())

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		httputil.WriteJSONError(rw, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	rw.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = rw.Write(buf.Bytes())
}

func buildChart(snap []detector.Analysis, counts map[classify.Type]int) *charts.Line {
	x := make([]string, len(snap))
	series := make([][]opts.LineData, len(metricSeries))
	for i := range series {
		series[i] = make([]opts.LineData, len(snap))
	}
	for i, a := range snap {
		x[i] = a.Timestamp.Format("15:04:05.0")
		for j, v := range a.Metrics.Angles() {
			series[j][i] = opts.LineData{Value: v}
		}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Posture", Width: "100%", Height: "600px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Posture metrics", Subtitle: subtitle(len(snap), counts)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "degrees"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)
	line.SetXAxis(x)
	for i, name := range metricSeries {
		line.AddSeries(name, series[i])
	}
	return line
}

func subtitle(n int, counts map[classify.Type]int) string {
	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, string(t))
	}
	sort.Strings(types)
	parts := []string{fmt.Sprintf("samples=%d", n), time.Now().Format(time.RFC3339)}
	for _, t := range types {
		parts = append(parts, fmt.Sprintf("%s=%d", t, counts[classify.Type(t)]))
	}
	return strings.Join(parts, " ")
}

func (w *Window) handleWindow(rw http.ResponseWriter, r *http.Request) {
	if !httputil.AllowMethods(rw, r, http.MethodGet) {
		return
	}
	httputil.WriteJSONOK(rw, map[string]any{
		"capacity": w.Cap(),
		"counts":   w.Counts(),
		"analyses": w.Snapshot(),
	})
}
