// Package loop drives a detector from an external landmark source.
//
// The loop owns the source lifecycle (idle, loading, ready, detecting,
// error), pulls frames at a fixed cadence, and forwards analyses that pass
// the change filter to every registered Sink. The source is treated as
// non-reentrant: at most one call into it is in flight at any time.
package loop

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/posture.report/internal/monitoring"
	"github.com/banshee-data/posture.report/internal/posture/calibration"
	"github.com/banshee-data/posture.report/internal/posture/detector"
	"github.com/banshee-data/posture.report/internal/posture/landmark"
	"github.com/banshee-data/posture.report/internal/timeutil"
)

var (
	// ErrNotInitialized is returned by operations that need a ready source.
	ErrNotInitialized = errors.New("landmark source not initialized")
	// ErrInitializationFailure wraps a source that failed to load. The loop
	// stays in StateError until Initialize succeeds.
	ErrInitializationFailure = errors.New("landmark source failed to initialize")
	// ErrSourceUnavailable marks a per-frame source failure. Sources may
	// return it directly; any other Detect error is treated the same way.
	ErrSourceUnavailable = errors.New("landmark source unavailable")
)

var logf = monitoring.Prefixed("loop")

// State is the loop lifecycle state.
type State string

const (
	StateIdle      State = "idle"
	StateLoading   State = "loading"
	StateReady     State = "ready"
	StateDetecting State = "detecting"
	StateError     State = "error"
)

// ModelQuality selects the estimator tier. The loop never interprets it.
type ModelQuality string

const (
	QualityFast     ModelQuality = "fast"
	QualityBalanced ModelQuality = "balanced"
	QualityAccurate ModelQuality = "accurate"
)

// Valid reports whether q is a known tier.
func (q ModelQuality) Valid() bool {
	switch q {
	case QualityFast, QualityBalanced, QualityAccurate:
		return true
	}
	return false
}

// SourceOptions are forwarded to Source.Initialize unchanged.
type SourceOptions struct {
	ModelQuality           ModelQuality `json:"model_quality"`
	MinDetectionConfidence float64      `json:"min_detection_confidence"`
	MinTrackingConfidence  float64      `json:"min_tracking_confidence"`
}

// DefaultSourceOptions returns the balanced tier with 0.5 confidences.
func DefaultSourceOptions() SourceOptions {
	return SourceOptions{
		ModelQuality:           QualityBalanced,
		MinDetectionConfidence: 0.5,
		MinTrackingConfidence:  0.5,
	}
}

// Source is the external landmark estimator. Detect returns a nil frame when
// nobody is in view.
type Source interface {
	Initialize(ctx context.Context, opts SourceOptions) error
	Detect(ctx context.Context) (*landmark.Frame, error)
	Close() error
}

// Sink receives analyses that pass the change filter. Publish must not
// block for long; it runs on the detection goroutine.
type Sink interface {
	Publish(a detector.Analysis)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(a detector.Analysis)

// Publish calls fn(a).
func (fn SinkFunc) Publish(a detector.Analysis) { fn(a) }

// Config controls a Loop.
type Config struct {
	Source SourceOptions
	RateHz float64
	Filter FilterConfig
	Clock  timeutil.Clock
}

// DefaultConfig runs at 10 Hz with default source options and filter.
func DefaultConfig() Config {
	return Config{
		Source: DefaultSourceOptions(),
		RateHz: 10,
		Filter: DefaultFilterConfig(),
		Clock:  timeutil.RealClock{},
	}
}

// Interval returns the frame period for the configured rate.
func (c Config) Interval() time.Duration {
	if c.RateHz <= 0 {
		return 100 * time.Millisecond
	}
	return time.Duration(float64(time.Second) / c.RateHz)
}

// Stats is a snapshot of loop counters.
type Stats struct {
	State        State  `json:"state"`
	Frames       uint64 `json:"frames"`
	SourceErrors uint64 `json:"source_errors"`
	Reused       uint64 `json:"reused"`
	Forwarded    uint64 `json:"forwarded"`
}

// Loop connects a Source to a Detector.
type Loop struct {
	det    *detector.Detector
	src    Source
	cfg    Config
	clock  timeutil.Clock
	filter *ChangeFilter

	sinksMu sync.RWMutex
	sinks   []Sink

	stateMu sync.Mutex
	state   State
	cancel  context.CancelFunc
	done    chan struct{}

	// srcMu serializes every call into the source; inFlight lets a
	// concurrent ProcessFrame see that a frame is already being fetched.
	srcMu    sync.Mutex
	inFlight atomic.Bool

	lastMu  sync.Mutex
	last    detector.Analysis
	hasLast bool

	frames       atomic.Uint64
	sourceErrors atomic.Uint64
	reused       atomic.Uint64
	forwarded    atomic.Uint64
}

// New creates an idle loop.
func New(det *detector.Detector, src Source, cfg Config) *Loop {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &Loop{
		det:    det,
		src:    src,
		cfg:    cfg,
		clock:  cfg.Clock,
		filter: NewChangeFilter(cfg.Filter, cfg.Clock),
		state:  StateIdle,
	}
}

// AddSink registers a consumer of forwarded analyses.
func (l *Loop) AddSink(s Sink) {
	l.sinksMu.Lock()
	defer l.sinksMu.Unlock()
	l.sinks = append(l.sinks, s)
}

// Detector returns the detector the loop feeds.
func (l *Loop) Detector() *detector.Detector {
	return l.det
}

// State returns the current lifecycle state.
func (l *Loop) State() State {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	return l.state
}

// Stats returns the current counters.
func (l *Loop) Stats() Stats {
	return Stats{
		State:        l.State(),
		Frames:       l.frames.Load(),
		SourceErrors: l.sourceErrors.Load(),
		Reused:       l.reused.Load(),
		Forwarded:    l.forwarded.Load(),
	}
}

func (l *Loop) setState(s State) {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	if l.state != s {
		logf("state %s -> %s", l.state, s)
	}
	l.state = s
}

func (l *Loop) initialized() bool {
	s := l.State()
	return s == StateReady || s == StateDetecting
}

// Initialize loads the source. It is allowed from idle or error; calling it
// on a ready or detecting loop is a no-op.
func (l *Loop) Initialize(ctx context.Context) error {
	l.stateMu.Lock()
	switch l.state {
	case StateReady, StateDetecting:
		l.stateMu.Unlock()
		return nil
	case StateLoading:
		l.stateMu.Unlock()
		return fmt.Errorf("%w: initialization already in progress", ErrNotInitialized)
	}
	logf("state %s -> %s", l.state, StateLoading)
	l.state = StateLoading
	l.stateMu.Unlock()

	l.srcMu.Lock()
	err := l.src.Initialize(ctx, l.cfg.Source)
	l.srcMu.Unlock()
	if err != nil {
		l.setState(StateError)
		logf("source initialization failed: %v", err)
		return fmt.Errorf("%w: %w", ErrInitializationFailure, err)
	}
	l.setState(StateReady)
	return nil
}

// Start begins periodic detection. It returns ErrNotInitialized unless the
// loop is ready; starting a detecting loop is a no-op. The loop also stops
// when ctx is done.
func (l *Loop) Start(ctx context.Context) error {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()

	switch l.state {
	case StateDetecting:
		return nil
	case StateReady:
	default:
		return fmt.Errorf("%w: cannot start from %s", ErrNotInitialized, l.state)
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	ticker := l.clock.NewTicker(l.cfg.Interval())
	l.cancel = cancel
	l.done = done
	logf("state %s -> %s (every %s)", l.state, StateDetecting, l.cfg.Interval())
	l.state = StateDetecting

	go l.run(runCtx, ticker, done)
	return nil
}

// Stop ends periodic detection after the in-flight frame completes. It is a
// no-op unless the loop is detecting.
func (l *Loop) Stop() {
	l.stateMu.Lock()
	if l.state != StateDetecting {
		l.stateMu.Unlock()
		return
	}
	cancel, done := l.cancel, l.done
	l.stateMu.Unlock()

	cancel()
	<-done
}

func (l *Loop) run(ctx context.Context, ticker timeutil.Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()
	defer func() {
		l.stateMu.Lock()
		if l.done == done && l.state == StateDetecting {
			logf("state %s -> %s", l.state, StateReady)
			l.state = StateReady
		}
		l.stateMu.Unlock()
	}()

	// Frames are not cancellable once started.
	frameCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			if _, err := l.ProcessFrame(frameCtx); err != nil {
				logf("frame skipped: %v", err)
			}
		}
	}
}

// ProcessFrame fetches one frame, classifies it and forwards the result if
// it passes the change filter. If another frame is already being fetched it
// returns the last completed analysis without touching the source. Source
// failures produce a no-person analysis; only ErrNotInitialized is returned
// as an error.
func (l *Loop) ProcessFrame(ctx context.Context) (detector.Analysis, error) {
	if !l.initialized() {
		return detector.Analysis{}, ErrNotInitialized
	}
	if !l.inFlight.CompareAndSwap(false, true) {
		l.reused.Add(1)
		return l.Last(), nil
	}
	defer l.inFlight.Store(false)

	l.srcMu.Lock()
	f, err := l.src.Detect(ctx)
	l.srcMu.Unlock()

	var a detector.Analysis
	if err != nil {
		n := l.sourceErrors.Add(1)
		if n == 1 || n%100 == 0 {
			logf("source error (%d so far): %v", n, err)
		}
		a = l.det.NoPerson()
	} else {
		a = l.det.SubmitFrame(f)
	}
	l.complete(a)
	return a, nil
}

// SubmitFrame classifies a frame pushed in from outside the source, such as
// over HTTP. It feeds the same smoothing buffers as the ticker and its result
// is forwarded through the change filter like any other frame. It does not
// require an initialized source.
func (l *Loop) SubmitFrame(f *landmark.Frame) detector.Analysis {
	a := l.det.SubmitFrame(f)
	l.complete(a)
	return a
}

func (l *Loop) complete(a detector.Analysis) {
	l.frames.Add(1)

	l.lastMu.Lock()
	l.last = a
	l.hasLast = true
	l.lastMu.Unlock()

	l.forward(a)
}

// Last returns the most recent completed analysis, or a no-person analysis
// if no frame has completed yet.
func (l *Loop) Last() detector.Analysis {
	l.lastMu.Lock()
	defer l.lastMu.Unlock()
	if !l.hasLast {
		return l.det.NoPerson()
	}
	return l.last
}

func (l *Loop) forward(a detector.Analysis) {
	if !l.filter.ShouldForward(a) {
		return
	}
	l.forwarded.Add(1)
	l.sinksMu.RLock()
	defer l.sinksMu.RUnlock()
	for _, s := range l.sinks {
		s.Publish(a)
	}
}

// Calibrate pulls one frame from the source and captures it as the new
// baseline. It waits for any in-flight frame to finish first, and holds the
// in-flight slot itself so ticks during calibration reuse the last result.
func (l *Loop) Calibrate(ctx context.Context) (calibration.Baseline, error) {
	if !l.initialized() {
		return calibration.Baseline{}, ErrNotInitialized
	}

	for !l.inFlight.CompareAndSwap(false, true) {
		l.srcMu.Lock()
		l.srcMu.Unlock()
		if err := ctx.Err(); err != nil {
			return calibration.Baseline{}, err
		}
		runtime.Gosched()
	}
	defer l.inFlight.Store(false)

	l.srcMu.Lock()
	f, err := l.src.Detect(ctx)
	l.srcMu.Unlock()
	if err != nil {
		if errors.Is(err, ErrSourceUnavailable) {
			return calibration.Baseline{}, err
		}
		return calibration.Baseline{}, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}

	b, err := l.det.Calibrate(f)
	if err != nil {
		return calibration.Baseline{}, err
	}
	l.filter.Reset()
	return b, nil
}

// ClearCalibration drops the baseline. It is allowed in any state.
func (l *Loop) ClearCalibration() {
	l.det.ClearCalibration()
	l.filter.Reset()
}

// Calibration returns the current baseline, if any.
func (l *Loop) Calibration() (calibration.Baseline, bool) {
	return l.det.Calibration()
}

// Close stops detection, closes the source and returns the loop to idle.
func (l *Loop) Close() error {
	l.Stop()
	l.srcMu.Lock()
	err := l.src.Close()
	l.srcMu.Unlock()
	l.setState(StateIdle)
	return err
}
