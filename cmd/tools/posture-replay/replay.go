package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/banshee-data/posture.report/internal/config"
	"github.com/banshee-data/posture.report/internal/posture/calibration"
	"github.com/banshee-data/posture.report/internal/posture/classify"
	"github.com/banshee-data/posture.report/internal/posture/detector"
	"github.com/banshee-data/posture.report/internal/posture/loop"
	"github.com/banshee-data/posture.report/internal/posture/monitor"
	"github.com/banshee-data/posture.report/internal/posture/source"
	"github.com/banshee-data/posture.report/internal/timeutil"
)

// replayStart anchors the simulated clock so output is reproducible.
var replayStart = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

// Options holds configuration for a replay run.
type Options struct {
	Recording string
	Posture   *config.PostureConfig
	Calibrate bool   // capture the first frame as the baseline
	OutputDir string // PNG plots are skipped when empty
	JSON      bool
}

// Result summarises a replay run.
type Result struct {
	Frames    int                   `json:"frames"`
	Forwarded int                   `json:"forwarded"`
	Counts    map[classify.Type]int `json:"counts"`
	Baseline  *calibration.Baseline `json:"baseline,omitempty"`
	Plots     []string              `json:"plots,omitempty"`
}

// run pushes every recorded frame through a loop on a simulated clock,
// writing forwarded verdicts to out as they happen.
func run(ctx context.Context, opts Options, out io.Writer) (*Result, error) {
	cfg := opts.Posture
	if cfg == nil {
		cfg = config.DefaultPostureConfig()
	}
	clock := timeutil.NewMockClock(replayStart)

	dcfg := cfg.DetectorConfig()
	dcfg.Clock = clock
	lcfg := cfg.LoopConfig()
	lcfg.Clock = clock

	rep := source.NewReplay(opts.Recording, false)
	l := loop.New(detector.New(dcfg), rep, lcfg)
	defer l.Close()

	res := &Result{Counts: make(map[classify.Type]int)}
	frame := 0
	var encErr error
	l.AddSink(loop.SinkFunc(func(a detector.Analysis) {
		res.Forwarded++
		if opts.JSON {
			data, err := json.Marshal(struct {
				Frame int `json:"frame"`
				detector.Analysis
			}{frame, a})
			if err != nil {
				encErr = err
				return
			}
			fmt.Fprintf(out, "%s\n", data)
			return
		}
		fmt.Fprintf(out, "%6d  %-13s %.2f  %-22s slouch=%5.1f tilt=%5.1f yaw=%5.1f pitch=%5.1f\n",
			frame, a.Type, a.Confidence, a.Rule,
			a.Metrics.SlouchAngle, a.Metrics.HeadTiltAngle, a.Metrics.HeadYaw, a.Metrics.HeadPitch)
	}))

	if err := l.Initialize(ctx); err != nil {
		return nil, err
	}

	if opts.Calibrate {
		b, err := l.Calibrate(ctx)
		if err != nil {
			return nil, fmt.Errorf("calibration from first frame failed: %w", err)
		}
		res.Baseline = &b
		clock.Advance(lcfg.Interval())
	}

	var trace []detector.Analysis
	for rep.Remaining() > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		frame++
		a, err := l.ProcessFrame(ctx)
		if err != nil {
			return nil, err
		}
		if encErr != nil {
			return nil, encErr
		}
		trace = append(trace, a)
		res.Counts[a.Type]++
		clock.Advance(lcfg.Interval())
	}
	res.Frames = len(trace)

	if opts.OutputDir != "" {
		name := strings.TrimSuffix(filepath.Base(opts.Recording), filepath.Ext(opts.Recording))
		plots, err := monitor.NewTracePlotter(opts.OutputDir).Plot(name, trace)
		if err != nil {
			return nil, fmt.Errorf("failed to plot trace: %w", err)
		}
		res.Plots = plots
	}
	return res, nil
}

// printSummary writes per-type counts in a stable order.
func printSummary(w io.Writer, res *Result) {
	fmt.Fprintf(w, "\n%d frames, %d forwarded\n", res.Frames, res.Forwarded)
	types := make([]string, 0, len(res.Counts))
	for t := range res.Counts {
		types = append(types, string(t))
	}
	sort.Strings(types)
	for _, t := range types {
		n := res.Counts[classify.Type(t)]
		fmt.Fprintf(w, "  %-13s %5d  %5.1f%%\n", t, n, 100*float64(n)/float64(res.Frames))
	}
	if res.Baseline != nil {
		fmt.Fprintf(w, "baseline %s: slouch=%.1f tilt=%.1f\n", res.Baseline.ID,
			res.Baseline.Metrics.SlouchAngle, res.Baseline.Metrics.HeadTiltAngle)
	}
	for _, p := range res.Plots {
		fmt.Fprintf(w, "wrote %s\n", p)
	}
}
