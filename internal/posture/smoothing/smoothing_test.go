package smoothing

import (
	"math"
	"testing"

	"github.com/banshee-data/posture.report/internal/posture/geometry"
)

func TestBuffer_RunningMean(t *testing.T) {
	b := NewBuffer(DefaultCapacity)
	inputs := []float64{10, 20, 30, 40, 50, 60}
	want := []float64{10, 15, 20, 25, 30, 40}

	for i, v := range inputs {
		got := b.Push(v)
		if math.Abs(got-want[i]) > 1e-9 {
			t.Errorf("push %d (%v): mean = %v, want %v", i, v, got, want[i])
		}
	}
	if b.Len() != DefaultCapacity {
		t.Errorf("Len() = %d, want %d", b.Len(), DefaultCapacity)
	}
}

func TestBuffer_NeverExceedsCapacity(t *testing.T) {
	b := NewBuffer(3)
	for i := 0; i < 20; i++ {
		b.Push(float64(i))
		if b.Len() > 3 {
			t.Fatalf("Len() = %d after %d pushes, capacity 3", b.Len(), i+1)
		}
	}
	// window is [17, 18, 19]
	if got := b.Push(20); got != 19 {
		t.Errorf("mean = %v, want 19", got)
	}
}

func TestBuffer_InvalidCapacityFallsBack(t *testing.T) {
	if got := NewBuffer(0).Capacity(); got != DefaultCapacity {
		t.Errorf("Capacity() = %d, want %d", got, DefaultCapacity)
	}
}

func TestBuffer_ResetMakesNextValueTheMean(t *testing.T) {
	b := NewBuffer(DefaultCapacity)
	b.Push(100)
	b.Push(200)
	b.Reset()
	if b.Len() != 0 {
		t.Fatalf("Len() = %d after reset", b.Len())
	}
	if got := b.Push(7); got != 7 {
		t.Errorf("first mean after reset = %v, want 7", got)
	}
}

func TestSet_PushAndReset(t *testing.T) {
	s := NewSet(DefaultCapacity)
	s.Push(geometry.Metrics{SlouchAngle: 50, HeadTiltAngle: 2, ShoulderHeight: 0.7, HeadYaw: -4})
	got := s.Push(geometry.Metrics{SlouchAngle: 40, HeadTiltAngle: 4, ShoulderHeight: 0.8, HeadYaw: 4})

	want := geometry.Metrics{SlouchAngle: 45, HeadTiltAngle: 3, ShoulderHeight: 0.75, HeadYaw: 0}
	if math.Abs(got.SlouchAngle-want.SlouchAngle) > 1e-9 ||
		math.Abs(got.HeadTiltAngle-want.HeadTiltAngle) > 1e-9 ||
		math.Abs(got.ShoulderHeight-want.ShoulderHeight) > 1e-9 ||
		math.Abs(got.HeadYaw-want.HeadYaw) > 1e-9 {
		t.Errorf("smoothed = %+v, want %+v", got, want)
	}
	if s.Len() != 2 {
		t.Errorf("Len() = %d, want 2", s.Len())
	}

	s.Reset()
	for i, b := range s.buffers() {
		if b.Len() != 0 {
			t.Errorf("buffer %d not empty after reset", i)
		}
	}

	raw := geometry.Metrics{SlouchAngle: 33, HeadTiltAngle: -1, ShoulderAlignment: 3, ShoulderHeight: 0.6, HeadYaw: 12, HeadPitch: 8}
	if got := s.Push(raw); got != raw {
		t.Errorf("first push after reset = %+v, want %+v", got, raw)
	}
}
