package source

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/posture.report/internal/posture/loop"
	"github.com/banshee-data/posture.report/internal/serialmux"
	"github.com/banshee-data/posture.report/internal/timeutil"
)

// configureCommand is written to the device on Initialize.
type configureCommand struct {
	Command string `json:"command"`
	loop.SourceOptions
}

// deviceLine tells frames apart from the device's status chatter. Frames
// always carry a landmarks key, even when empty.
type deviceLine struct {
	Landmarks json.RawMessage `json:"landmarks"`
	Status    string          `json:"status"`
	Error     string          `json:"error"`
}

// Serial reads landmark frames from a companion pose device through a
// serialmux. The caller runs the mux's Monitor loop.
type Serial struct {
	*Latest
	mux serialmux.SerialMuxInterface

	mu     sync.Mutex
	subID  string
	done   chan struct{}
	status string
}

// NewSerial wraps mux as a loop source.
func NewSerial(mux serialmux.SerialMuxInterface, staleAfter time.Duration, clock timeutil.Clock) *Serial {
	return &Serial{Latest: NewLatest(staleAfter, clock), mux: mux}
}

// Initialize sends the configure command and starts consuming lines. It is
// safe to call again after a failure.
func (s *Serial) Initialize(ctx context.Context, opts loop.SourceOptions) error {
	if err := s.Latest.Initialize(ctx, opts); err != nil {
		return err
	}
	cmd, err := json.Marshal(configureCommand{Command: "configure", SourceOptions: opts})
	if err != nil {
		return err
	}
	if err := s.mux.SendCommand(string(cmd)); err != nil {
		return fmt.Errorf("failed to configure pose device: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return nil
	}
	id, lines := s.mux.Subscribe()
	s.subID = id
	s.done = make(chan struct{})
	go s.consume(lines, s.done)
	logf("serial source configured: quality=%s detection=%.2f tracking=%.2f",
		opts.ModelQuality, opts.MinDetectionConfidence, opts.MinTrackingConfidence)
	return nil
}

func (s *Serial) consume(lines <-chan string, done chan struct{}) {
	defer close(done)
	for line := range lines {
		s.handleLine(line)
	}
}

func (s *Serial) handleLine(line string) {
	var dl deviceLine
	if err := json.Unmarshal([]byte(line), &dl); err != nil {
		logf("ignoring non-JSON serial line: %.80q", line)
		return
	}
	if dl.Landmarks != nil {
		if err := s.Ingest([]byte(line)); err != nil {
			logf("bad frame from device: %v", err)
		}
		return
	}
	switch {
	case dl.Error != "":
		logf("device error: %s", dl.Error)
	case dl.Status != "":
		s.mu.Lock()
		s.status = dl.Status
		s.mu.Unlock()
		logf("device status: %s", dl.Status)
	}
}

// DeviceStatus returns the last status string the device reported.
func (s *Serial) DeviceStatus() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Close stops consuming lines. The mux itself is closed by its owner.
func (s *Serial) Close() error {
	s.mu.Lock()
	id, done := s.subID, s.done
	s.subID, s.done = "", nil
	s.mu.Unlock()

	if done != nil {
		s.mux.Unsubscribe(id)
		<-done
	}
	return nil
}
