package source

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/posture.report/internal/posture/landmark"
	"github.com/banshee-data/posture.report/internal/posture/landmark/landmarktest"
	"github.com/banshee-data/posture.report/internal/posture/loop"
	"github.com/banshee-data/posture.report/internal/timeutil"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func encode(t *testing.T, f *landmark.Frame) []byte {
	t.Helper()
	data, err := landmark.Encode(f, 0)
	require.NoError(t, err)
	return data
}

func TestLatest_NothingReceived(t *testing.T) {
	l := NewLatest(0, timeutil.NewMockClock(t0))
	_, err := l.Detect(context.Background())
	assert.ErrorIs(t, err, loop.ErrSourceUnavailable)
	assert.Equal(t, uint64(1), l.Stats().Stale)
}

func TestLatest_FreshAndStale(t *testing.T) {
	clock := timeutil.NewMockClock(t0)
	l := NewLatest(500*time.Millisecond, clock)

	require.NoError(t, l.Ingest(encode(t, landmarktest.Neutral())))
	f, err := l.Detect(context.Background())
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, *landmarktest.Neutral(), *f)

	clock.Advance(500 * time.Millisecond)
	_, err = l.Detect(context.Background())
	assert.NoError(t, err, "frame exactly at the staleness window is still fresh")

	clock.Advance(time.Millisecond)
	_, err = l.Detect(context.Background())
	assert.ErrorIs(t, err, loop.ErrSourceUnavailable)
}

func TestLatest_EmptyDetection(t *testing.T) {
	l := NewLatest(0, timeutil.NewMockClock(t0))
	require.NoError(t, l.Ingest([]byte(`{"landmarks":[]}`)))

	f, err := l.Detect(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, f)
}

func TestLatest_DecodeErrorKeepsPrevious(t *testing.T) {
	l := NewLatest(0, timeutil.NewMockClock(t0))
	require.NoError(t, l.Ingest(encode(t, landmarktest.Neutral())))

	err := l.Ingest([]byte(`{"landmarks":[{"x":1}]}`))
	assert.True(t, errors.Is(err, landmark.ErrWrongArity))
	assert.Error(t, l.Ingest([]byte("not json")))

	f, err := l.Detect(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, f)
	st := l.Stats()
	assert.Equal(t, uint64(1), st.Frames)
	assert.Equal(t, uint64(2), st.DecodeErrors)
}

func TestLatest_ReturnsCopies(t *testing.T) {
	l := NewLatest(0, timeutil.NewMockClock(t0))
	in := landmarktest.Neutral()
	l.Put(in)
	in[landmark.Nose].X = 0.99

	f, err := l.Detect(context.Background())
	require.NoError(t, err)
	f[landmark.Nose].Y = 0.01

	again, err := l.Detect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, *landmarktest.Neutral(), *again)
}

func TestLatest_InitializeRecordsOptions(t *testing.T) {
	l := NewLatest(0, nil)
	opts := loop.SourceOptions{ModelQuality: loop.QualityFast, MinDetectionConfidence: 0.7, MinTrackingConfidence: 0.4}
	require.NoError(t, l.Initialize(context.Background(), opts))
	assert.Equal(t, opts, l.Options())
	assert.NoError(t, l.Close())
}

var (
	_ loop.Source = (*Latest)(nil)
	_ loop.Source = (*Serial)(nil)
	_ loop.Source = (*UDP)(nil)
	_ loop.Source = (*Replay)(nil)
)
