package detector

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/posture.report/internal/monitoring"
	"github.com/banshee-data/posture.report/internal/posture/calibration"
	"github.com/banshee-data/posture.report/internal/posture/classify"
	"github.com/banshee-data/posture.report/internal/posture/geometry"
	"github.com/banshee-data/posture.report/internal/posture/landmark"
	"github.com/banshee-data/posture.report/internal/posture/landmark/landmarktest"
	"github.com/banshee-data/posture.report/internal/timeutil"
)

var start = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func newTestDetector(t *testing.T) (*Detector, *timeutil.MockClock) {
	t.Helper()
	monitoring.SetLogger(t.Logf)
	t.Cleanup(func() { monitoring.SetLogger(nil) })

	clock := timeutil.NewMockClock(start)
	cfg := DefaultConfig()
	cfg.Clock = clock
	return New(cfg), clock
}

func TestSubmitFrame_SlouchWithoutCalibration(t *testing.T) {
	d, _ := newTestDetector(t)
	got := d.SubmitFrame(landmarktest.Neutral(landmarktest.WithCVA(35)))

	assert.Equal(t, classify.Slouching, got.Type)
	assert.GreaterOrEqual(t, got.Confidence, 0.6)
	assert.InDelta(t, 35, got.Metrics.SlouchAngle, 1e-6)
	assert.Equal(t, classify.RuleSlouch, got.Rule)
}

func TestSubmitFrame_YawWithoutCalibration(t *testing.T) {
	d, _ := newTestDetector(t)
	got := d.SubmitFrame(landmarktest.Neutral(landmarktest.WithYaw(50)))

	assert.Equal(t, classify.LookingAway, got.Type)
	assert.InDelta(t, 50, got.Metrics.HeadYaw, 1e-6)
}

func TestSubmitFrame_AbsentFrame(t *testing.T) {
	d, clock := newTestDetector(t)
	clock.Advance(time.Second)

	got := d.SubmitFrame(nil)
	assert.Equal(t, classify.NoPersonType, got.Type)
	assert.Equal(t, 0.95, got.Confidence)
	assert.Equal(t, geometry.Metrics{}, got.Metrics)
	assert.Equal(t, start.Add(time.Second), got.Timestamp)
	assert.Equal(t, 0, d.Buffered())
}

func TestSubmitFrame_BodyRoleHidden(t *testing.T) {
	for _, role := range landmark.BodyRoles {
		d, _ := newTestDetector(t)
		f := landmarktest.Neutral(landmarktest.WithCVA(20), landmarktest.WithVisibility(0.59, role))

		got := d.SubmitFrame(f)
		assert.Equal(t, classify.NoPersonType, got.Type, "role %d", role)
		assert.Equal(t, geometry.Metrics{}, got.Metrics, "role %d", role)
		assert.Equal(t, 0, d.Buffered(), "role %d: no-person frames are not buffered", role)
	}
}

func TestSubmitFrame_VisibilityAtThresholdCounts(t *testing.T) {
	d, _ := newTestDetector(t)
	got := d.SubmitFrame(landmarktest.Neutral(landmarktest.WithVisibility(0.6, landmark.BodyRoles...)))
	assert.Equal(t, classify.GoodPosture, got.Type)
}

func TestSubmitFrame_EyesHiddenNeverGood(t *testing.T) {
	d, _ := newTestDetector(t)
	_, err := d.Calibrate(landmarktest.Neutral())
	require.NoError(t, err)

	for i := 0; i < 8; i++ {
		got := d.SubmitFrame(landmarktest.Neutral(landmarktest.EyesHidden()))
		assert.Contains(t, []classify.Type{classify.LookingAway, classify.LookingDown}, got.Type)
	}
}

func TestSubmitFrame_SmoothingDampensOutlier(t *testing.T) {
	d, _ := newTestDetector(t)
	for i := 0; i < 4; i++ {
		assert.Equal(t, classify.GoodPosture, d.SubmitFrame(landmarktest.Neutral()).Type)
	}
	// one slouched frame among four upright ones averages out above 40°
	got := d.SubmitFrame(landmarktest.Neutral(landmarktest.WithCVA(20)))
	assert.Equal(t, classify.GoodPosture, got.Type)
	assert.Greater(t, got.Metrics.SlouchAngle, 40.0)

	// sustained slouching wins once it fills the window
	for i := 0; i < 5; i++ {
		got = d.SubmitFrame(landmarktest.Neutral(landmarktest.WithCVA(20)))
	}
	assert.Equal(t, classify.Slouching, got.Type)
	assert.InDelta(t, 20, got.Metrics.SlouchAngle, 1e-6)
}

func TestCalibrate_ResetsBuffersAndUsesBaseline(t *testing.T) {
	d, clock := newTestDetector(t)
	for i := 0; i < 3; i++ {
		d.SubmitFrame(landmarktest.Neutral(landmarktest.WithCVA(60)))
	}
	require.Equal(t, 3, d.Buffered())

	clock.Advance(time.Minute)
	b, err := d.Calibrate(landmarktest.Neutral(landmarktest.WithCVA(55)))
	require.NoError(t, err)
	assert.Equal(t, 0, d.Buffered())
	assert.Equal(t, start.Add(time.Minute), b.CapturedAt)

	got, ok := d.Calibration()
	require.True(t, ok)
	assert.Equal(t, b, got)

	a := d.SubmitFrame(landmarktest.Neutral(landmarktest.WithCVA(55)))
	assert.Equal(t, classify.GoodPosture, a.Type)
	assert.Equal(t, classify.RuleBaselineGood, a.Rule)

	// a shoulder drop only registers against a baseline
	a = d.SubmitFrame(landmarktest.Neutral(landmarktest.WithCVA(55), landmarktest.WithShoulderDrop(0.5)))
	assert.Equal(t, 2, d.Buffered())
	assert.Equal(t, classify.Slouching, a.Type)
	assert.Equal(t, classify.RuleBaselineShoulderDrop, a.Rule)
}

func TestCalibrate_PersonNotVisible(t *testing.T) {
	d, _ := newTestDetector(t)
	_, err := d.Calibrate(landmarktest.Neutral(landmarktest.EyesHidden()))
	assert.ErrorIs(t, err, calibration.ErrPersonNotVisible)
	_, ok := d.Calibration()
	assert.False(t, ok)
}

func TestClearCalibration_Twice(t *testing.T) {
	d, _ := newTestDetector(t)
	_, err := d.Calibrate(landmarktest.Neutral())
	require.NoError(t, err)
	d.SubmitFrame(landmarktest.Neutral())

	d.ClearCalibration()
	d.ClearCalibration()

	_, ok := d.Calibration()
	assert.False(t, ok)
	assert.Equal(t, 0, d.Buffered())
	assert.Equal(t, classify.RuleGood, d.SubmitFrame(landmarktest.Neutral()).Rule)
}

func TestNoPerson(t *testing.T) {
	d, _ := newTestDetector(t)
	got := d.NoPerson()
	assert.Equal(t, classify.NoPersonType, got.Type)
	assert.Equal(t, start, got.Timestamp)
}

func TestDetector_ConcurrentUse(t *testing.T) {
	d, _ := newTestDetector(t)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				d.SubmitFrame(landmarktest.Neutral())
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 20; j++ {
			if j%2 == 0 {
				_, _ = d.Calibrate(landmarktest.Neutral())
			} else {
				d.ClearCalibration()
			}
		}
	}()
	wg.Wait()

	assert.LessOrEqual(t, d.Buffered(), 5)
}
