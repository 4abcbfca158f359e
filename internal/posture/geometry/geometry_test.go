package geometry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/banshee-data/posture.report/internal/posture/landmark"
	"github.com/banshee-data/posture.report/internal/posture/landmark/landmarktest"
)

const tol = 1e-6

func deg(rad float64) float64 { return rad * 180 / math.Pi }

func TestCraniovertebralAngle_Neutral(t *testing.T) {
	f := landmarktest.Neutral()
	// ears straight above shoulders: horizontal distance 0, epsilon only
	assert.InDelta(t, deg(math.Atan2(0.25, Epsilon)), CraniovertebralAngle(f), tol)
}

func TestCraniovertebralAngle_ForwardHead(t *testing.T) {
	for _, want := range []float64{35, 45, 52, 70} {
		f := landmarktest.Neutral(landmarktest.WithCVA(want))
		assert.InDelta(t, want, CraniovertebralAngle(f), tol, "cva %v", want)
	}
}

func TestCraniovertebralAngle_EarLabelSwapInvariant(t *testing.T) {
	f := landmarktest.Neutral(landmarktest.WithCVA(44))
	swapped := *f
	swapped[landmark.LeftEar], swapped[landmark.RightEar] = f[landmark.RightEar], f[landmark.LeftEar]

	assert.InDelta(t, CraniovertebralAngle(f), CraniovertebralAngle(&swapped), 1e-12)
}

func TestCraniovertebralAngle_CoincidentPoints(t *testing.T) {
	f := landmarktest.Neutral()
	for _, i := range []int{landmark.LeftEar, landmark.RightEar, landmark.LeftShoulder, landmark.RightShoulder} {
		f[i].X, f[i].Y = 0.5, 0.5
	}
	got := CraniovertebralAngle(f)
	assert.False(t, math.IsNaN(got), "epsilon guard should avoid NaN")
	assert.InDelta(t, 0, got, tol)
}

func TestSagittalHeadTilt(t *testing.T) {
	f := landmarktest.Neutral()
	// eye mid (0.5, 0.44, 0), ear mid (0.5, 0.45, 0.1)
	assert.InDelta(t, deg(math.Atan2(-0.01, 0.11)), SagittalHeadTilt(f), tol)

	down := landmarktest.Neutral(landmarktest.WithPitch(25))
	assert.InDelta(t, 25, SagittalHeadTilt(down), tol)
	assert.Greater(t, SagittalHeadTilt(down), 0.0, "looking down is positive")
}

func TestNoseHeadTilt_PreservesSign(t *testing.T) {
	f := landmarktest.Neutral()
	// nose at 0.48, shoulders at 0.70: (0.48-0.70)/0.15*20
	want := (0.48 - 0.70) / NoseDropUnit * NoseDropDegrees
	got := NoseHeadTilt(f)
	assert.InDelta(t, want, got, tol)
	assert.Less(t, got, 0.0, "looking up must stay negative")

	f[landmark.Nose].Y = 0.85
	assert.InDelta(t, (0.85-0.70)/NoseDropUnit*NoseDropDegrees, NoseHeadTilt(f), tol)
}

func TestShoulderAlignment_Sign(t *testing.T) {
	f := landmarktest.Neutral()
	assert.InDelta(t, 0, ShoulderAlignment(f), tol)

	f[landmark.LeftShoulder].Y = 0.72
	want := deg(math.Atan2(0.02, 0.2))
	assert.InDelta(t, want, ShoulderAlignment(f), tol, "left lower is positive")

	f[landmark.LeftShoulder].Y = 0.70
	f[landmark.RightShoulder].Y = 0.72
	assert.InDelta(t, -want, ShoulderAlignment(f), tol, "right lower is negative")
}

func TestShoulderHeight(t *testing.T) {
	f := landmarktest.Neutral(landmarktest.WithShoulderDrop(0.08))
	assert.InDelta(t, 0.78, ShoulderHeight(f), tol)
}

func TestHeadOrientation(t *testing.T) {
	yaw, pitch := HeadOrientation(landmarktest.Neutral())
	assert.InDelta(t, 0, yaw, tol)
	assert.InDelta(t, deg(math.Atan2(-0.01, 0.11)), pitch, tol)

	for _, want := range []float64{-50, -20, 20, 50} {
		yaw, _ := HeadOrientation(landmarktest.Neutral(landmarktest.WithYaw(want)))
		assert.InDelta(t, want, yaw, tol, "yaw %v", want)
	}

	_, pitch = HeadOrientation(landmarktest.Neutral(landmarktest.WithPitch(-18)))
	assert.InDelta(t, -18, pitch, tol)
}

func TestEyeVisibility(t *testing.T) {
	tests := []struct {
		name        string
		left, right float64
		wantScore   float64
		wantVisible bool
	}{
		{"both clear", 0.9, 0.8, 0.85, true},
		{"both at threshold", 0.6, 0.6, 0.6, true},
		{"one low, high average", 0.99, 0.5, 0.745, false},
		{"both low", 0.1, 0.2, 0.15, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := landmarktest.Neutral(
				landmarktest.WithVisibility(tt.left, landmark.LeftEye),
				landmarktest.WithVisibility(tt.right, landmark.RightEye),
			)
			got := EyeVisibility(f)
			assert.InDelta(t, tt.wantScore, got.Score, tol)
			assert.Equal(t, tt.wantVisible, got.Visible)
		})
	}
}

func TestCompute_TiltSource(t *testing.T) {
	f := landmarktest.Neutral()

	withEyes := Compute(f, true)
	assert.InDelta(t, SagittalHeadTilt(f), withEyes.HeadTiltAngle, tol)

	withoutEyes := Compute(f, false)
	assert.InDelta(t, NoseHeadTilt(f), withoutEyes.HeadTiltAngle, tol)

	// everything else is independent of the tilt source
	withEyes.HeadTiltAngle, withoutEyes.HeadTiltAngle = 0, 0
	assert.Equal(t, withEyes, withoutEyes)
}

func TestMetrics_Deviation(t *testing.T) {
	a := Metrics{SlouchAngle: 50, HeadTiltAngle: -5, ShoulderAlignment: 2, ShoulderHeight: 0.7, HeadYaw: 10, HeadPitch: -3}
	b := Metrics{SlouchAngle: 42, HeadTiltAngle: 5, ShoulderAlignment: -2, ShoulderHeight: 0.76, HeadYaw: -10, HeadPitch: 3}
	d := a.Deviation(b)
	assert.InDelta(t, 8, d.SlouchAngle, tol)
	assert.InDelta(t, 10, d.HeadTiltAngle, tol)
	assert.InDelta(t, 4, d.ShoulderAlignment, tol)
	assert.InDelta(t, 0.06, d.ShoulderHeight, tol)
	assert.InDelta(t, 20, d.HeadYaw, tol)
	assert.InDelta(t, 6, d.HeadPitch, tol)
	assert.Equal(t, d, b.Deviation(a), "deviation is symmetric")
}
