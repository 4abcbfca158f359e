// Package calibration owns the per-user "good posture" baseline.
//
// At most one baseline exists at a time. It is captured on demand from a
// single frame, replaced wholesale on recalibration and dropped on clear.
// Every change to the baseline also empties the smoothing buffers so that
// the first verdict after a change is not dragged by pre-change history.
//
// A Manager is not safe for concurrent use on its own; the detector holds
// one lock across the buffers and the manager.
package calibration

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/posture.report/internal/monitoring"
	"github.com/banshee-data/posture.report/internal/posture/geometry"
	"github.com/banshee-data/posture.report/internal/posture/landmark"
	"github.com/banshee-data/posture.report/internal/timeutil"
)

// ErrPersonNotVisible is returned when the frame does not show every
// landmark calibration needs with enough confidence.
var ErrPersonNotVisible = errors.New("person not visible: calibration needs nose, shoulders, ears and eyes")

var logf = monitoring.Prefixed("calibration")

// Baseline is an immutable snapshot of the metrics at calibration time.
type Baseline struct {
	ID         string           `json:"id"`
	Metrics    geometry.Metrics `json:"metrics"`
	CapturedAt time.Time        `json:"captured_at"`
}

// Resetter empties buffered history; satisfied by *smoothing.Set.
type Resetter interface {
	Reset()
}

// Store persists the current baseline across restarts. Implementations keep
// only the latest baseline.
type Store interface {
	SaveBaseline(b Baseline) error
	ClearBaseline() error
	// LoadBaseline returns ok=false when nothing is stored.
	LoadBaseline() (b Baseline, ok bool, err error)
}

// Manager holds the baseline and resets buffers on every baseline change.
type Manager struct {
	buffers  Resetter
	clock    timeutil.Clock
	store    Store
	baseline *Baseline
}

// NewManager creates a manager with no baseline. A nil clock uses the real
// clock.
func NewManager(buffers Resetter, clock timeutil.Clock) *Manager {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Manager{buffers: buffers, clock: clock}
}

// SetStore attaches persistence. Passing nil detaches it.
func (m *Manager) SetStore(s Store) {
	m.store = s
}

// Restore loads a persisted baseline, if any, and resets the buffers when
// one is found. Without a store it is a no-op.
func (m *Manager) Restore() error {
	if m.store == nil {
		return nil
	}
	b, ok, err := m.store.LoadBaseline()
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	m.baseline = &b
	m.buffers.Reset()
	logf("restored baseline %s captured %s", b.ID, b.CapturedAt.Format(time.RFC3339))
	return nil
}

// Calibrate captures a new baseline from f. If the nose, shoulders, ears or
// eyes are below the visibility threshold it returns ErrPersonNotVisible and
// leaves any existing baseline in place.
//
// The metrics are stored verbatim. Correctness comes from deviation against
// the user's own reference, so no plausibility limits are applied.
func (m *Manager) Calibrate(f *landmark.Frame) (Baseline, error) {
	if f == nil || !f.Visible(landmark.VisibilityThreshold, landmark.CalibrationRoles...) {
		return Baseline{}, ErrPersonNotVisible
	}

	b := Baseline{
		ID:         uuid.NewString(),
		Metrics:    geometry.Compute(f, true),
		CapturedAt: m.clock.Now(),
	}
	m.baseline = &b
	m.buffers.Reset()

	if m.store != nil {
		if err := m.store.SaveBaseline(b); err != nil {
			logf("failed to persist baseline %s: %v", b.ID, err)
		}
	}
	logf("captured baseline %s: cva=%.1f tilt=%.1f yaw=%.1f pitch=%.1f shoulders=%.3f",
		b.ID, b.Metrics.SlouchAngle, b.Metrics.HeadTiltAngle, b.Metrics.HeadYaw, b.Metrics.HeadPitch, b.Metrics.ShoulderHeight)
	return b, nil
}

// Clear drops the baseline and resets the buffers. Clearing with no
// baseline is not an error.
func (m *Manager) Clear() {
	had := m.baseline != nil
	m.baseline = nil
	m.buffers.Reset()

	if m.store != nil {
		if err := m.store.ClearBaseline(); err != nil {
			logf("failed to clear persisted baseline: %v", err)
		}
	}
	if had {
		logf("baseline cleared")
	}
}

// Get returns a copy of the current baseline.
func (m *Manager) Get() (Baseline, bool) {
	if m.baseline == nil {
		return Baseline{}, false
	}
	return *m.baseline, true
}
