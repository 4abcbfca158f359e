// Package monitor keeps a short in-memory history of forwarded analyses
// for live charts and renders replayed traces to PNG.
package monitor

import (
	"sync"

	"github.com/banshee-data/posture.report/internal/posture/classify"
	"github.com/banshee-data/posture.report/internal/posture/detector"
)

// DefaultWindow holds one minute of analyses at 10 Hz.
const DefaultWindow = 600

// Window is a fixed-capacity ring of the most recent analyses. It
// implements loop.Sink. Nothing is persisted.
type Window struct {
	mu    sync.RWMutex
	buf   []detector.Analysis
	start int
	n     int
}

// NewWindow creates a window; capacity <= 0 uses DefaultWindow.
func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = DefaultWindow
	}
	return &Window{buf: make([]detector.Analysis, capacity)}
}

// Publish appends a, evicting the oldest entry when full.
func (w *Window) Publish(a detector.Analysis) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.n < len(w.buf) {
		w.buf[(w.start+w.n)%len(w.buf)] = a
		w.n++
		return
	}
	w.buf[w.start] = a
	w.start = (w.start + 1) % len(w.buf)
}

// Snapshot returns the held analyses, oldest first.
func (w *Window) Snapshot() []detector.Analysis {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]detector.Analysis, w.n)
	for i := range out {
		out[i] = w.buf[(w.start+i)%len(w.buf)]
	}
	return out
}

// Len returns the number of held analyses.
func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.n
}

// Cap returns the window capacity.
func (w *Window) Cap() int { return len(w.buf) }

// Counts tallies the held analyses by posture type.
func (w *Window) Counts() map[classify.Type]int {
	counts := make(map[classify.Type]int)
	for _, a := range w.Snapshot() {
		counts[a.Type]++
	}
	return counts
}

// Reset empties the window.
func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.start, w.n = 0, 0
}
