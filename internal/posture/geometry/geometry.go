// Package geometry maps landmark subsets to the scalar posture metrics.
//
// Every function here is pure: no state, no allocation beyond the return
// value, safe to call from any goroutine. Callers are responsible for
// checking visibility before trusting a result; the calculators assume the
// landmarks they read are present (a Frame always has fixed arity).
//
// Coordinates are normalized image space: y grows downwards, so "lower on
// screen" means a larger y.
package geometry

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/posture.report/internal/posture/landmark"
)

// Epsilon keeps atan2 denominators away from zero when two points coincide
// on the horizontal or depth axis.
const Epsilon = 0.01

// Nose fallback scale: a nose drop of NoseDropUnit (in normalized height)
// relative to the shoulders maps to NoseDropDegrees of tilt.
const (
	NoseDropUnit    = 0.15
	NoseDropDegrees = 20.0
)

// Metrics is the set of six scalars tracked per frame.
type Metrics struct {
	SlouchAngle       float64 `json:"slouch_angle"`       // craniovertebral angle, degrees
	HeadTiltAngle     float64 `json:"head_tilt_angle"`    // sagittal tilt, degrees, positive = looking down
	ShoulderAlignment float64 `json:"shoulder_alignment"` // degrees, positive = left shoulder lower
	ShoulderHeight    float64 `json:"shoulder_height"`    // normalized 0-1, larger = lower on screen
	HeadYaw           float64 `json:"head_yaw"`           // degrees, signed
	HeadPitch         float64 `json:"head_pitch"`         // degrees, signed
}

// EyeResult summarises eye visibility for the distraction check.
type EyeResult struct {
	Score   float64 `json:"score"`   // mean visibility of both eyes
	Visible bool    `json:"visible"` // both eyes individually clear the threshold
}

func vec(l landmark.Landmark) r3.Vec {
	return r3.Vec{X: l.X, Y: l.Y, Z: l.Z}
}

func midpoint(a, b landmark.Landmark) r3.Vec {
	return r3.Scale(0.5, r3.Add(vec(a), vec(b)))
}

func degrees(rad float64) float64 {
	return rad * 180 / math.Pi
}

func earMid(f *landmark.Frame) r3.Vec {
	return midpoint(f[landmark.LeftEar], f[landmark.RightEar])
}

func eyeMid(f *landmark.Frame) r3.Vec {
	return midpoint(f[landmark.LeftEye], f[landmark.RightEye])
}

func shoulderMid(f *landmark.Frame) r3.Vec {
	return midpoint(f[landmark.LeftShoulder], f[landmark.RightShoulder])
}

// CraniovertebralAngle returns the ear-to-shoulder angle from horizontal in
// degrees, measured in the image plane between the ear and shoulder
// midpoints. A neutral head sits around 48-54°; the value drops as the head
// drifts forward.
func CraniovertebralAngle(f *landmark.Frame) float64 {
	ear := earMid(f)
	sh := shoulderMid(f)
	vertical := sh.Y - ear.Y
	horizontal := math.Abs(sh.X - ear.X)
	return degrees(math.Atan2(vertical, horizontal+Epsilon))
}

// SagittalHeadTilt measures forward/backward head tilt in the depth/vertical
// plane between the eye and ear midpoints. Positive means looking down.
func SagittalHeadTilt(f *landmark.Frame) float64 {
	eye := eyeMid(f)
	ear := earMid(f)
	dz := math.Abs(eye.Z-ear.Z) + Epsilon
	dy := eye.Y - ear.Y
	return degrees(math.Atan2(dy, dz))
}

// NoseHeadTilt estimates tilt from the nose drop relative to the shoulders.
// It is only used when the eyes are not reliable. The result is signed and
// never clamped: negative values mean looking up.
func NoseHeadTilt(f *landmark.Frame) float64 {
	sh := shoulderMid(f)
	drop := (f[landmark.Nose].Y - sh.Y) / NoseDropUnit
	return drop * NoseDropDegrees
}

// ShoulderAlignment returns the shoulder-line angle from horizontal in
// degrees, positive when the left shoulder is lower.
func ShoulderAlignment(f *landmark.Frame) float64 {
	l := f[landmark.LeftShoulder]
	r := f[landmark.RightShoulder]
	dy := l.Y - r.Y
	angle := degrees(math.Atan2(math.Abs(dy), math.Abs(l.X-r.X)))
	if dy < 0 {
		return -angle
	}
	return angle
}

// ShoulderHeight returns the mean vertical position of the shoulders.
func ShoulderHeight(f *landmark.Frame) float64 {
	return shoulderMid(f).Y
}

// HeadOrientation returns head yaw and pitch in degrees. Yaw compares the
// face centre (both eyes and the nose) with the ear centre; pitch compares
// the eye centre with the ear centre. Both are normalized by the depth
// separation of the compared points.
func HeadOrientation(f *landmark.Frame) (yaw, pitch float64) {
	face := r3.Scale(1.0/3, r3.Add(r3.Add(vec(f[landmark.LeftEye]), vec(f[landmark.RightEye])), vec(f[landmark.Nose])))
	ear := earMid(f)
	eye := eyeMid(f)

	yaw = degrees(math.Atan2(face.X-ear.X, math.Abs(face.Z-ear.Z)+Epsilon))
	pitch = degrees(math.Atan2(eye.Y-ear.Y, math.Abs(eye.Z-ear.Z)+Epsilon))
	return yaw, pitch
}

// EyeVisibility scores both eyes. Visible requires each eye to clear
// landmark.VisibilityThreshold on its own; a high average is not enough.
func EyeVisibility(f *landmark.Frame) EyeResult {
	l := f[landmark.LeftEye].Visibility
	r := f[landmark.RightEye].Visibility
	return EyeResult{
		Score:   (l + r) / 2,
		Visible: l >= landmark.VisibilityThreshold && r >= landmark.VisibilityThreshold,
	}
}

// Compute evaluates all six metrics for a frame. The eye-based tilt is used
// when eyesVisible is set, the nose fallback otherwise.
func Compute(f *landmark.Frame, eyesVisible bool) Metrics {
	yaw, pitch := HeadOrientation(f)
	m := Metrics{
		SlouchAngle:       CraniovertebralAngle(f),
		ShoulderAlignment: ShoulderAlignment(f),
		ShoulderHeight:    ShoulderHeight(f),
		HeadYaw:           yaw,
		HeadPitch:         pitch,
	}
	if eyesVisible {
		m.HeadTiltAngle = SagittalHeadTilt(f)
	} else {
		m.HeadTiltAngle = NoseHeadTilt(f)
	}
	return m
}

// Deviation returns the absolute per-metric difference between m and ref.
func (m Metrics) Deviation(ref Metrics) Metrics {
	return Metrics{
		SlouchAngle:       math.Abs(m.SlouchAngle - ref.SlouchAngle),
		HeadTiltAngle:     math.Abs(m.HeadTiltAngle - ref.HeadTiltAngle),
		ShoulderAlignment: math.Abs(m.ShoulderAlignment - ref.ShoulderAlignment),
		ShoulderHeight:    math.Abs(m.ShoulderHeight - ref.ShoulderHeight),
		HeadYaw:           math.Abs(m.HeadYaw - ref.HeadYaw),
		HeadPitch:         math.Abs(m.HeadPitch - ref.HeadPitch),
	}
}

// Angles lists the angle-valued metrics (everything except shoulder height)
// in a fixed order, for callers that compare them element-wise.
func (m Metrics) Angles() [5]float64 {
	return [5]float64{m.SlouchAngle, m.HeadTiltAngle, m.ShoulderAlignment, m.HeadYaw, m.HeadPitch}
}
