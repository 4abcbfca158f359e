// Package smoothing turns noisy per-frame metric values into rolling means.
package smoothing

import (
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/posture.report/internal/posture/geometry"
)

// DefaultCapacity is the window length of each buffer. At 10 Hz this is half
// a second of history.
const DefaultCapacity = 5

// Buffer is a fixed-capacity FIFO of recent values. The zero value is not
// usable; construct with NewBuffer.
type Buffer struct {
	values   []float64
	capacity int
}

// NewBuffer creates a buffer holding at most capacity values.
func NewBuffer(capacity int) *Buffer {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		values:   make([]float64, 0, capacity),
		capacity: capacity,
	}
}

// Push appends v, evicting the oldest value once the buffer is full, and
// returns the simple (unweighted) mean of what remains.
func (b *Buffer) Push(v float64) float64 {
	if len(b.values) == b.capacity {
		copy(b.values, b.values[1:])
		b.values = b.values[:len(b.values)-1]
	}
	b.values = append(b.values, v)
	return stat.Mean(b.values, nil)
}

// Len returns the number of values currently held.
func (b *Buffer) Len() int { return len(b.values) }

// Capacity returns the maximum number of values the buffer holds.
func (b *Buffer) Capacity() int { return b.capacity }

// Reset empties the buffer.
func (b *Buffer) Reset() { b.values = b.values[:0] }

// Set holds one buffer per tracked metric. Buffers are only ever reset
// together.
type Set struct {
	slouch            *Buffer
	headTilt          *Buffer
	shoulderAlignment *Buffer
	shoulderHeight    *Buffer
	headYaw           *Buffer
	headPitch         *Buffer
}

// NewSet creates six buffers of the given capacity.
func NewSet(capacity int) *Set {
	return &Set{
		slouch:            NewBuffer(capacity),
		headTilt:          NewBuffer(capacity),
		shoulderAlignment: NewBuffer(capacity),
		shoulderHeight:    NewBuffer(capacity),
		headYaw:           NewBuffer(capacity),
		headPitch:         NewBuffer(capacity),
	}
}

// Push feeds one frame's raw metrics and returns the smoothed metrics.
func (s *Set) Push(raw geometry.Metrics) geometry.Metrics {
	return geometry.Metrics{
		SlouchAngle:       s.slouch.Push(raw.SlouchAngle),
		HeadTiltAngle:     s.headTilt.Push(raw.HeadTiltAngle),
		ShoulderAlignment: s.shoulderAlignment.Push(raw.ShoulderAlignment),
		ShoulderHeight:    s.shoulderHeight.Push(raw.ShoulderHeight),
		HeadYaw:           s.headYaw.Push(raw.HeadYaw),
		HeadPitch:         s.headPitch.Push(raw.HeadPitch),
	}
}

// Reset empties all six buffers.
func (s *Set) Reset() {
	for _, b := range s.buffers() {
		b.Reset()
	}
}

// Len returns the fill level. All buffers are pushed and reset together so
// they always agree.
func (s *Set) Len() int { return s.slouch.Len() }

func (s *Set) buffers() [6]*Buffer {
	return [6]*Buffer{s.slouch, s.headTilt, s.shoulderAlignment, s.shoulderHeight, s.headYaw, s.headPitch}
}
