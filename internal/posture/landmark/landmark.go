// Package landmark defines the body-landmark frame consumed by the posture
// engine.
//
// A Frame is the fixed-arity output of an external pose estimator: 33 points
// in normalized image space (x, y in [0,1], y grows downwards) plus a relative
// depth z and a per-point visibility confidence. Only the upper-body subset is
// read by the engine, but the full frame is always carried so that indices
// never shift.
package landmark

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Landmark indices following the MediaPipe Pose convention.
const (
	Nose          = 0
	LeftEyeInner  = 1
	LeftEye       = 2
	LeftEyeOuter  = 3
	RightEyeInner = 4
	RightEye      = 5
	RightEyeOuter = 6
	LeftEar       = 7
	RightEar      = 8
	MouthLeft     = 9
	MouthRight    = 10
	LeftShoulder  = 11
	RightShoulder = 12
	LeftHip       = 23
	RightHip      = 24
	NumLandmarks  = 33
)

// VisibilityThreshold is the minimum per-point confidence for a landmark to
// count as seen.
const VisibilityThreshold = 0.6

// Role groups used by the visibility gates.
var (
	// BodyRoles must all be visible for any posture verdict.
	BodyRoles = []int{Nose, LeftShoulder, RightShoulder, LeftEar, RightEar}
	// EyeRoles are checked separately; losing them is a distraction signal.
	EyeRoles = []int{LeftEye, RightEye}
	// CalibrationRoles must all be visible to capture a baseline.
	CalibrationRoles = []int{Nose, LeftShoulder, RightShoulder, LeftEar, RightEar, LeftEye, RightEye}
)

// ErrWrongArity is returned when a decoded frame does not carry exactly
// NumLandmarks points.
var ErrWrongArity = errors.New("landmark frame must contain 33 points")

// Landmark is one tracked body point.
type Landmark struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
	Visibility float64 `json:"visibility"` // absent in the wire form means 0
}

// Frame is a complete set of landmarks for one image.
type Frame [NumLandmarks]Landmark

// Visible reports whether every listed role has visibility at or above
// threshold.
func (f *Frame) Visible(threshold float64, roles ...int) bool {
	for _, r := range roles {
		if f[r].Visibility < threshold {
			return false
		}
	}
	return true
}

// PersonVisible reports whether the body roles clear VisibilityThreshold.
func (f *Frame) PersonVisible() bool {
	return f != nil && f.Visible(VisibilityThreshold, BodyRoles...)
}

// wireFrame is the JSON shape produced by pose sources.
type wireFrame struct {
	TimestampMs int64      `json:"timestamp_ms,omitempty"`
	Landmarks   []Landmark `json:"landmarks"`
}

// Decode parses one JSON frame. A payload with no landmarks (or "null")
// means the estimator saw nobody and decodes to a nil frame.
func Decode(data []byte) (*Frame, error) {
	var w wireFrame
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("failed to decode landmark frame: %w", err)
	}
	if len(w.Landmarks) == 0 {
		return nil, nil
	}
	if len(w.Landmarks) != NumLandmarks {
		return nil, fmt.Errorf("%w: got %d", ErrWrongArity, len(w.Landmarks))
	}
	var f Frame
	copy(f[:], w.Landmarks)
	return &f, nil
}

// Encode renders a frame in the same wire form accepted by Decode. A nil
// frame encodes as an empty detection.
func Encode(f *Frame, timestampMs int64) ([]byte, error) {
	w := wireFrame{TimestampMs: timestampMs, Landmarks: []Landmark{}}
	if f != nil {
		w.Landmarks = f[:]
	}
	return json.Marshal(w)
}
