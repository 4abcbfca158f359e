package loop

import (
	"math"
	"sync"
	"time"

	"github.com/banshee-data/posture.report/internal/posture/detector"
	"github.com/banshee-data/posture.report/internal/timeutil"
)

// deltaTolerance absorbs float rounding so that a confidence step of exactly
// ConfidenceDelta (0.9 -> 0.8) still counts as a change.
const deltaTolerance = 1e-9

// FilterConfig bounds how often analyses reach consumers.
type FilterConfig struct {
	AngleDelta      float64       // degrees; any angle metric moving this far forwards
	ConfidenceDelta float64       // absolute confidence change that forwards
	MaxInterval     time.Duration // forward at least this often
}

// DefaultFilterConfig returns 2°, 0.1 and one second.
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		AngleDelta:      2,
		ConfidenceDelta: 0.1,
		MaxInterval:     time.Second,
	}
}

// ChangeFilter suppresses analyses that are too similar to the last one
// forwarded. The first analysis always passes.
type ChangeFilter struct {
	cfg   FilterConfig
	clock timeutil.Clock

	mu     sync.Mutex
	last   detector.Analysis
	lastAt time.Time
	primed bool
}

// NewChangeFilter creates a filter. A nil clock uses the real clock.
func NewChangeFilter(cfg FilterConfig, clock timeutil.Clock) *ChangeFilter {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &ChangeFilter{cfg: cfg, clock: clock}
}

// ShouldForward reports whether a should be passed on, and if so records it
// as the new reference.
func (f *ChangeFilter) ShouldForward(a detector.Analysis) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.clock.Now()
	if f.primed && !f.changed(a) && now.Sub(f.lastAt) < f.cfg.MaxInterval {
		return false
	}
	f.last = a
	f.lastAt = now
	f.primed = true
	return true
}

func (f *ChangeFilter) changed(a detector.Analysis) bool {
	if a.Type != f.last.Type {
		return true
	}
	if math.Abs(a.Confidence-f.last.Confidence) >= f.cfg.ConfidenceDelta-deltaTolerance {
		return true
	}
	prev := f.last.Metrics.Angles()
	for i, v := range a.Metrics.Angles() {
		if math.Abs(v-prev[i]) >= f.cfg.AngleDelta-deltaTolerance {
			return true
		}
	}
	return false
}

// Reset forgets the reference so the next analysis always passes.
func (f *ChangeFilter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.primed = false
	f.last = detector.Analysis{}
	f.lastAt = time.Time{}
}
