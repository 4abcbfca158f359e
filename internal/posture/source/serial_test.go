package source

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/posture.report/internal/posture/landmark/landmarktest"
	"github.com/banshee-data/posture.report/internal/posture/loop"
	"github.com/banshee-data/posture.report/internal/serialmux"
	"github.com/banshee-data/posture.report/internal/timeutil"
)

func newSerialFixture(t *testing.T) (*Serial, *serialmux.TestableSerialPort) {
	t.Helper()
	port := serialmux.NewTestableSerialPort()
	mux := serialmux.NewSerialMux(port)
	ctx, cancel := context.WithCancel(context.Background())
	go mux.Monitor(ctx)
	t.Cleanup(func() {
		cancel()
		mux.Close()
	})
	return NewSerial(mux, time.Hour, timeutil.NewMockClock(t0)), port
}

func TestSerial_InitializeSendsConfigure(t *testing.T) {
	s, port := newSerialFixture(t)
	opts := loop.DefaultSourceOptions()
	require.NoError(t, s.Initialize(context.Background(), opts))
	defer s.Close()

	written := strings.TrimSpace(port.Written())
	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(written), &got))
	assert.Equal(t, "configure", got["command"])
	assert.Equal(t, "balanced", got["model_quality"])
	assert.InDelta(t, 0.5, got["min_detection_confidence"], 1e-9)
}

func TestSerial_IngestsFramesAndStatus(t *testing.T) {
	s, port := newSerialFixture(t)
	require.NoError(t, s.Initialize(context.Background(), loop.DefaultSourceOptions()))
	defer s.Close()

	port.AddReadData(`{"status":"camera ready"}` + "\n")
	port.AddReadData("garbage\n")
	port.AddReadData(string(encode(t, landmarktest.Neutral())) + "\n")

	require.Eventually(t, func() bool {
		f, err := s.Detect(context.Background())
		return err == nil && f != nil
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "camera ready", s.DeviceStatus())

	port.AddReadData(`{"landmarks":[]}` + "\n")
	require.Eventually(t, func() bool {
		f, err := s.Detect(context.Background())
		return err == nil && f == nil
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSerial_ConfigureFailure(t *testing.T) {
	s, port := newSerialFixture(t)
	port.ShortWrite = true
	err := s.Initialize(context.Background(), loop.DefaultSourceOptions())
	assert.ErrorIs(t, err, serialmux.ErrWriteFailed)

	port.ShortWrite = false
	require.NoError(t, s.Initialize(context.Background(), loop.DefaultSourceOptions()))
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}
