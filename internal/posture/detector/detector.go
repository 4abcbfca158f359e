// Package detector is the stateful shell around the pure posture pipeline.
//
// A Detector owns the smoothing buffers, the calibration manager and the
// classification engine. One mutex serializes every operation, so a
// calibration or clear never interleaves with a frame being pushed through
// the buffers.
package detector

import (
	"sync"
	"time"

	"github.com/banshee-data/posture.report/internal/posture/calibration"
	"github.com/banshee-data/posture.report/internal/posture/classify"
	"github.com/banshee-data/posture.report/internal/posture/geometry"
	"github.com/banshee-data/posture.report/internal/posture/landmark"
	"github.com/banshee-data/posture.report/internal/posture/smoothing"
	"github.com/banshee-data/posture.report/internal/timeutil"
)

// Analysis is the verdict for one processed frame.
type Analysis struct {
	Type       classify.Type    `json:"type"`
	Confidence float64          `json:"confidence"`
	Metrics    geometry.Metrics `json:"metrics"`
	Rule       string           `json:"rule"`
	Timestamp  time.Time        `json:"timestamp"`
}

// Config controls a Detector.
type Config struct {
	Thresholds     classify.Thresholds
	BufferCapacity int
	Clock          timeutil.Clock
}

// DefaultConfig returns the stock thresholds, a five-frame smoothing window
// and the real clock.
func DefaultConfig() Config {
	return Config{
		Thresholds:     classify.DefaultThresholds(),
		BufferCapacity: smoothing.DefaultCapacity,
		Clock:          timeutil.RealClock{},
	}
}

// Detector classifies frames against an optional calibrated baseline.
type Detector struct {
	mu      sync.Mutex
	buffers *smoothing.Set
	calib   *calibration.Manager
	engine  *classify.Engine
	clock   timeutil.Clock
}

// New creates a detector with no baseline and empty buffers.
func New(cfg Config) *Detector {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	buffers := smoothing.NewSet(cfg.BufferCapacity)
	return &Detector{
		buffers: buffers,
		calib:   calibration.NewManager(buffers, cfg.Clock),
		engine:  classify.NewEngine(cfg.Thresholds),
		clock:   cfg.Clock,
	}
}

// SetStore attaches baseline persistence.
func (d *Detector) SetStore(s calibration.Store) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calib.SetStore(s)
}

// Restore loads a persisted baseline, if the store holds one.
func (d *Detector) Restore() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calib.Restore()
}

// SubmitFrame classifies one frame. A nil frame, or one where the nose,
// shoulders or ears are not clearly visible, yields no-person with zero
// metrics and leaves the buffers untouched.
func (d *Detector) SubmitFrame(f *landmark.Frame) Analysis {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.Now()
	if !f.PersonVisible() {
		return noPerson(now)
	}

	eyes := geometry.EyeVisibility(f)
	smoothed := d.buffers.Push(geometry.Compute(f, eyes.Visible))

	var ref *geometry.Metrics
	if b, ok := d.calib.Get(); ok {
		ref = &b.Metrics
	}
	r := d.engine.Classify(smoothed, eyes, ref)
	return Analysis{
		Type:       r.Type,
		Confidence: r.Confidence,
		Metrics:    smoothed,
		Rule:       r.Rule,
		Timestamp:  now,
	}
}

// NoPerson returns the no-person analysis stamped with the detector clock,
// for callers that never got a frame to submit.
func (d *Detector) NoPerson() Analysis {
	return noPerson(d.clock.Now())
}

func noPerson(ts time.Time) Analysis {
	r := classify.NoPerson()
	return Analysis{Type: r.Type, Confidence: r.Confidence, Rule: r.Rule, Timestamp: ts}
}

// Calibrate captures a new baseline from f. It returns
// calibration.ErrPersonNotVisible when any calibration landmark is unclear.
func (d *Detector) Calibrate(f *landmark.Frame) (calibration.Baseline, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calib.Calibrate(f)
}

// ClearCalibration drops the baseline. It is safe to call repeatedly.
func (d *Detector) ClearCalibration() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calib.Clear()
}

// Calibration returns the current baseline, if any.
func (d *Detector) Calibration() (calibration.Baseline, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calib.Get()
}

// Buffered returns how many frames are in the smoothing window.
func (d *Detector) Buffered() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.buffers.Len()
}

// Thresholds returns the classification thresholds in use.
func (d *Detector) Thresholds() classify.Thresholds {
	return d.engine.Thresholds()
}
