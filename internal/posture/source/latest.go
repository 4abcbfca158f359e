// Package source provides landmark sources for the detection loop.
//
// Push-style transports (serial, UDP, pcap replay) decode incoming frames
// into a Latest holder; the loop then pulls whatever arrived most recently.
// A source with nothing fresh reports loop.ErrSourceUnavailable so the loop
// emits no-person for that tick.
package source

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/posture.report/internal/monitoring"
	"github.com/banshee-data/posture.report/internal/posture/landmark"
	"github.com/banshee-data/posture.report/internal/posture/loop"
	"github.com/banshee-data/posture.report/internal/timeutil"
)

var logf = monitoring.Prefixed("source")

// DefaultStaleAfter is how long a frame stays usable without a newer one.
const DefaultStaleAfter = time.Second

// Stats counts what a push source has received.
type Stats struct {
	Frames       uint64 `json:"frames"`
	DecodeErrors uint64 `json:"decode_errors"`
	Polls        uint64 `json:"polls"`
	Stale        uint64 `json:"stale"`
}

// Latest keeps the most recent frame handed to it. It implements
// loop.Source and is safe for concurrent use.
type Latest struct {
	clock      timeutil.Clock
	staleAfter time.Duration

	mu    sync.Mutex
	frame *landmark.Frame
	at    time.Time
	seen  bool
	opts  loop.SourceOptions

	frames       atomic.Uint64
	decodeErrors atomic.Uint64
	polls        atomic.Uint64
	stale        atomic.Uint64
}

// NewLatest creates an empty holder. staleAfter <= 0 uses DefaultStaleAfter
// and a nil clock uses the real clock.
func NewLatest(staleAfter time.Duration, clock timeutil.Clock) *Latest {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Latest{clock: clock, staleAfter: staleAfter}
}

// Ingest decodes one wire frame and stores it. An empty detection is stored
// too: it means the estimator currently sees nobody.
func (l *Latest) Ingest(data []byte) error {
	f, err := landmark.Decode(data)
	if err != nil {
		l.decodeErrors.Add(1)
		return err
	}
	l.Put(f)
	return nil
}

// Put stores f (nil for no detection) as the latest frame.
func (l *Latest) Put(f *landmark.Frame) {
	var cp *landmark.Frame
	if f != nil {
		c := *f
		cp = &c
	}
	l.mu.Lock()
	l.frame = cp
	l.at = l.clock.Now()
	l.seen = true
	l.mu.Unlock()
	l.frames.Add(1)
}

// Initialize records the options. Push sources have nothing to load.
func (l *Latest) Initialize(_ context.Context, opts loop.SourceOptions) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.opts = opts
	return nil
}

// Options returns the options passed to Initialize.
func (l *Latest) Options() loop.SourceOptions {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.opts
}

// Detect returns a copy of the latest frame, or ErrSourceUnavailable if
// nothing arrived within the staleness window.
func (l *Latest) Detect(_ context.Context) (*landmark.Frame, error) {
	l.polls.Add(1)
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.seen {
		l.stale.Add(1)
		return nil, fmt.Errorf("%w: no frame received yet", loop.ErrSourceUnavailable)
	}
	if age := l.clock.Since(l.at); age > l.staleAfter {
		l.stale.Add(1)
		return nil, fmt.Errorf("%w: last frame is %s old", loop.ErrSourceUnavailable, age.Round(time.Millisecond))
	}
	if l.frame == nil {
		return nil, nil
	}
	c := *l.frame
	return &c, nil
}

// Close is a no-op for the bare holder.
func (l *Latest) Close() error { return nil }

// Stats returns the current counters.
func (l *Latest) Stats() Stats {
	return Stats{
		Frames:       l.frames.Load(),
		DecodeErrors: l.decodeErrors.Load(),
		Polls:        l.polls.Load(),
		Stale:        l.stale.Load(),
	}
}
