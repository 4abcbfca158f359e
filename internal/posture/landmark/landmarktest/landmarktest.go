// Package landmarktest builds synthetic landmark frames with controlled
// geometry for tests across the posture packages.
package landmarktest

import (
	"math"

	"github.com/banshee-data/posture.report/internal/posture/landmark"
)

const eps = 0.01

// Option adjusts a frame produced by Neutral.
type Option func(f *landmark.Frame)

// Neutral returns a fully visible, upright, camera-facing frame and applies
// opts in order. Without options the head sits straight above the shoulders
// (CVA near 88°), eyes level with the ears and the face centred on them.
func Neutral(opts ...Option) *landmark.Frame {
	var f landmark.Frame
	for i := range f {
		f[i] = landmark.Landmark{X: 0.5, Y: 0.9, Z: 0, Visibility: 0.99}
	}
	f[landmark.LeftShoulder] = lm(0.60, 0.70, 0)
	f[landmark.RightShoulder] = lm(0.40, 0.70, 0)
	f[landmark.LeftEar] = lm(0.56, 0.45, 0.10)
	f[landmark.RightEar] = lm(0.44, 0.45, 0.10)
	f[landmark.LeftEye] = lm(0.53, 0.44, 0)
	f[landmark.RightEye] = lm(0.47, 0.44, 0)
	f[landmark.Nose] = lm(0.50, 0.48, -0.05)
	for _, o := range opts {
		o(&f)
	}
	return &f
}

func lm(x, y, z float64) landmark.Landmark {
	return landmark.Landmark{X: x, Y: y, Z: z, Visibility: 0.99}
}

// head lists the landmarks that move together when the head moves.
var head = []int{landmark.Nose, landmark.LeftEye, landmark.RightEye, landmark.LeftEar, landmark.RightEar}

// WithCVA shifts the whole head horizontally so the craniovertebral angle
// equals deg. The vertical ear-to-shoulder distance is preserved.
func WithCVA(deg float64) Option {
	return func(f *landmark.Frame) {
		ear := mid(f[landmark.LeftEar], f[landmark.RightEar])
		sh := mid(f[landmark.LeftShoulder], f[landmark.RightShoulder])
		vertical := sh.Y - ear.Y
		want := vertical/math.Tan(deg*math.Pi/180) - eps
		shift := (sh.X + want) - ear.X
		for _, i := range head {
			f[i].X += shift
		}
	}
}

// WithYaw moves the eyes and nose sideways so the head yaw equals deg.
func WithYaw(deg float64) Option {
	return func(f *landmark.Frame) {
		face := mean3(f[landmark.LeftEye], f[landmark.RightEye], f[landmark.Nose])
		ear := mid(f[landmark.LeftEar], f[landmark.RightEar])
		depth := math.Abs(face.Z-ear.Z) + eps
		shift := (ear.X + math.Tan(deg*math.Pi/180)*depth) - face.X
		for _, i := range []int{landmark.LeftEye, landmark.RightEye, landmark.Nose} {
			f[i].X += shift
		}
	}
}

// WithPitch moves the eyes vertically so the head pitch (and the eye-based
// sagittal tilt, which shares the same geometry) equals deg.
func WithPitch(deg float64) Option {
	return func(f *landmark.Frame) {
		eye := mid(f[landmark.LeftEye], f[landmark.RightEye])
		ear := mid(f[landmark.LeftEar], f[landmark.RightEar])
		depth := math.Abs(eye.Z-ear.Z) + eps
		shift := (ear.Y + math.Tan(deg*math.Pi/180)*depth) - eye.Y
		f[landmark.LeftEye].Y += shift
		f[landmark.RightEye].Y += shift
	}
}

// WithShoulderDrop moves both shoulders down the image by dy.
func WithShoulderDrop(dy float64) Option {
	return func(f *landmark.Frame) {
		f[landmark.LeftShoulder].Y += dy
		f[landmark.RightShoulder].Y += dy
	}
}

// WithVisibility overrides the visibility of the given roles.
func WithVisibility(v float64, roles ...int) Option {
	return func(f *landmark.Frame) {
		for _, r := range roles {
			f[r].Visibility = v
		}
	}
}

// EyesHidden drops both eyes below the visibility threshold.
func EyesHidden() Option {
	return WithVisibility(0.2, landmark.EyeRoles...)
}

func mid(a, b landmark.Landmark) landmark.Landmark {
	return landmark.Landmark{X: (a.X + b.X) / 2, Y: (a.Y + b.Y) / 2, Z: (a.Z + b.Z) / 2}
}

func mean3(a, b, c landmark.Landmark) landmark.Landmark {
	return landmark.Landmark{X: (a.X + b.X + c.X) / 3, Y: (a.Y + b.Y + c.Y) / 3, Z: (a.Z + b.Z + c.Z) / 3}
}
