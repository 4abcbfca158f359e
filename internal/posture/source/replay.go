package source

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/banshee-data/posture.report/internal/posture/landmark"
	"github.com/banshee-data/posture.report/internal/posture/loop"
)

// ErrReplayExhausted is wrapped into the error Detect returns once a
// non-looping replay has no frames left.
var ErrReplayExhausted = errors.New("replay exhausted")

// ReadFrames parses a JSON-lines recording. Blank lines and lines starting
// with '#' are skipped. A line with no landmarks is kept as a nil frame.
func ReadFrames(r io.Reader) ([]*landmark.Frame, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var frames []*landmark.Frame
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		f, err := landmark.Decode(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		frames = append(frames, f)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read recording: %w", err)
	}
	return frames, nil
}

// Replay plays back a recorded session, one frame per Detect call.
type Replay struct {
	path   string
	repeat bool

	mu     sync.Mutex
	frames []*landmark.Frame
	next   int
}

// NewReplay creates a replay of the JSON-lines file at path. With repeat
// set, playback wraps around instead of running dry.
func NewReplay(path string, repeat bool) *Replay {
	return &Replay{path: path, repeat: repeat}
}

// NewReplayFrames creates a replay over frames already in memory.
func NewReplayFrames(frames []*landmark.Frame, repeat bool) *Replay {
	return &Replay{frames: frames, repeat: repeat}
}

// Initialize loads the recording and rewinds to the first frame.
func (r *Replay) Initialize(_ context.Context, _ loop.SourceOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.path != "" {
		f, err := os.Open(r.path)
		if err != nil {
			return fmt.Errorf("failed to open recording: %w", err)
		}
		defer f.Close()
		frames, err := ReadFrames(f)
		if err != nil {
			return fmt.Errorf("%s: %w", r.path, err)
		}
		r.frames = frames
	}
	if len(r.frames) == 0 {
		return errors.New("recording contains no frames")
	}
	r.next = 0
	return nil
}

// Detect returns the next recorded frame.
func (r *Replay) Detect(_ context.Context) (*landmark.Frame, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.next >= len(r.frames) {
		if !r.repeat || len(r.frames) == 0 {
			return nil, fmt.Errorf("%w: %w", loop.ErrSourceUnavailable, ErrReplayExhausted)
		}
		r.next = 0
	}
	f := r.frames[r.next]
	r.next++
	if f == nil {
		return nil, nil
	}
	c := *f
	return &c, nil
}

// Remaining returns how many frames are left before the replay runs dry.
// A repeating replay never runs dry but still reports its position.
func (r *Replay) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames) - r.next
}

// Len returns the number of recorded frames.
func (r *Replay) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

// Close is a no-op.
func (r *Replay) Close() error { return nil }
