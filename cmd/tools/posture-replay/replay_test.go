package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/posture.report/internal/monitoring"
	"github.com/banshee-data/posture.report/internal/posture/classify"
	"github.com/banshee-data/posture.report/internal/posture/landmark"
	"github.com/banshee-data/posture.report/internal/posture/landmark/landmarktest"
)

// writeRecording stores upright frames, then slouched ones, then a gap.
func writeRecording(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString("# test session\n")
	for i := 0; i < 20; i++ {
		f := landmarktest.Neutral()
		if i >= 10 {
			f = landmarktest.Neutral(landmarktest.WithCVA(20))
		}
		data, err := landmark.Encode(f, int64(i*100))
		require.NoError(t, err)
		buf.Write(data)
		buf.WriteByte('\n')
	}
	buf.WriteString(`{"landmarks":[]}` + "\n")

	path := filepath.Join(t.TempDir(), "session.jsonl")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
	return path
}

func quiet(t *testing.T) {
	monitoring.SetLogger(t.Logf)
	t.Cleanup(func() { monitoring.SetLogger(nil) })
}

func TestRun(t *testing.T) {
	quiet(t)
	var out bytes.Buffer
	res, err := run(context.Background(), Options{Recording: writeRecording(t)}, &out)
	require.NoError(t, err)

	assert.Equal(t, 21, res.Frames)
	assert.Positive(t, res.Counts[classify.GoodPosture])
	assert.Positive(t, res.Counts[classify.Slouching])
	assert.Equal(t, 1, res.Counts[classify.NoPersonType])
	assert.Nil(t, res.Baseline)

	// the change filter drops repeated verdicts
	assert.GreaterOrEqual(t, res.Forwarded, 3)
	assert.Less(t, res.Forwarded, res.Frames)
	assert.Equal(t, res.Forwarded, strings.Count(out.String(), "\n"))
	assert.Contains(t, out.String(), "slouching")

	var summary bytes.Buffer
	printSummary(&summary, res)
	assert.Contains(t, summary.String(), "21 frames")
	assert.Contains(t, summary.String(), "no-person")
}

func TestRun_CalibrateAndJSON(t *testing.T) {
	quiet(t)
	var out bytes.Buffer
	res, err := run(context.Background(), Options{Recording: writeRecording(t), Calibrate: true, JSON: true}, &out)
	require.NoError(t, err)

	require.NotNil(t, res.Baseline)
	assert.NotEmpty(t, res.Baseline.ID)
	assert.Equal(t, 20, res.Frames, "the first frame is spent on calibration")

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, res.Forwarded)
	var first struct {
		Frame int           `json:"frame"`
		Type  classify.Type `json:"type"`
	}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, 1, first.Frame)
	assert.Equal(t, classify.GoodPosture, first.Type)
}

func TestRun_Plots(t *testing.T) {
	quiet(t)
	dir := t.TempDir()
	res, err := run(context.Background(), Options{Recording: writeRecording(t), OutputDir: dir}, &bytes.Buffer{})
	require.NoError(t, err)
	require.NotEmpty(t, res.Plots)
	for _, p := range res.Plots {
		assert.FileExists(t, p)
	}
}

func TestRun_MissingRecording(t *testing.T) {
	quiet(t)
	_, err := run(context.Background(), Options{Recording: filepath.Join(t.TempDir(), "nope.jsonl")}, &bytes.Buffer{})
	assert.Error(t, err)
}
