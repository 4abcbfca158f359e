package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/posture.report/internal/posture/classify"
	"github.com/banshee-data/posture.report/internal/posture/detector"
	"github.com/banshee-data/posture.report/internal/posture/loop"
	"github.com/banshee-data/posture.report/internal/posture/smoothing"
)

// DefaultConfigPath is the path to the canonical posture defaults file.
const DefaultConfigPath = "config/posture.defaults.json"

// PostureConfig is the daemon's tuning file. Every field is optional; the
// Get* methods fall back to the built-in defaults for anything omitted.
type PostureConfig struct {
	// Source options, forwarded to the pose estimator
	ModelQuality           *string  `json:"model_quality,omitempty"`
	MinDetectionConfidence *float64 `json:"min_detection_confidence,omitempty"`
	MinTrackingConfidence  *float64 `json:"min_tracking_confidence,omitempty"`

	// Loop params
	DetectionRateHz  *float64 `json:"detection_rate_hz,omitempty"`
	SmoothingWindow  *int     `json:"smoothing_window,omitempty"`
	SourceStaleAfter *string  `json:"source_stale_after,omitempty"` // duration string like "1s"

	// Change filter params
	ChangeAngleDeltaDeg   *float64 `json:"change_angle_delta_deg,omitempty"`
	ChangeConfidenceDelta *float64 `json:"change_confidence_delta,omitempty"`
	ChangeMaxInterval     *string  `json:"change_max_interval,omitempty"`

	// Classifier thresholds
	SlouchAngleDeg          *float64 `json:"slouch_angle_deg,omitempty"`
	HeadTiltDeg             *float64 `json:"head_tilt_deg,omitempty"`
	HeadYawDeg              *float64 `json:"head_yaw_deg,omitempty"`
	HeadPitchDeg            *float64 `json:"head_pitch_deg,omitempty"`
	EyesHiddenTiltDeg       *float64 `json:"eyes_hidden_tilt_deg,omitempty"`
	ShoulderHeightDeviation *float64 `json:"shoulder_height_deviation,omitempty"`
	DeviationMultiplier     *float64 `json:"deviation_multiplier,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// DefaultPostureConfig returns a config with every field set to its default.
func DefaultPostureConfig() *PostureConfig {
	th := classify.DefaultThresholds()
	src := loop.DefaultSourceOptions()
	flt := loop.DefaultFilterConfig()
	return &PostureConfig{
		ModelQuality:            ptrString(string(src.ModelQuality)),
		MinDetectionConfidence:  ptrFloat64(src.MinDetectionConfidence),
		MinTrackingConfidence:   ptrFloat64(src.MinTrackingConfidence),
		DetectionRateHz:         ptrFloat64(10),
		SmoothingWindow:         ptrInt(smoothing.DefaultCapacity),
		SourceStaleAfter:        ptrString("1s"),
		ChangeAngleDeltaDeg:     ptrFloat64(flt.AngleDelta),
		ChangeConfidenceDelta:   ptrFloat64(flt.ConfidenceDelta),
		ChangeMaxInterval:       ptrString(flt.MaxInterval.String()),
		SlouchAngleDeg:          ptrFloat64(th.SlouchAngle),
		HeadTiltDeg:             ptrFloat64(th.HeadTilt),
		HeadYawDeg:              ptrFloat64(th.HeadYaw),
		HeadPitchDeg:            ptrFloat64(th.HeadPitch),
		EyesHiddenTiltDeg:       ptrFloat64(th.EyesHiddenTilt),
		ShoulderHeightDeviation: ptrFloat64(th.ShoulderHeightDeviation),
		DeviationMultiplier:     ptrFloat64(th.DeviationMultiplier),
	}
}

// LoadPostureConfig loads a PostureConfig from a JSON file.
// The file must have a .json extension and be under 1MB. Fields omitted
// from the file keep their defaults, so partial configs are safe.
func LoadPostureConfig(path string) (*PostureConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &PostureConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents. Panics if the file cannot be loaded; intended
// for test setup.
func MustLoadDefaultConfig() *PostureConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/posture/*
		"../../../../" + DefaultConfigPath, // from cmd/tools/*
	}
	for _, path := range candidates {
		if cfg, err := LoadPostureConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

func checkUnit(name string, v *float64) error {
	if v != nil && (*v < 0 || *v > 1) {
		return fmt.Errorf("%s must be between 0 and 1, got %f", name, *v)
	}
	return nil
}

func checkPositive(name string, v *float64) error {
	if v != nil && *v <= 0 {
		return fmt.Errorf("%s must be positive, got %f", name, *v)
	}
	return nil
}

func checkDuration(name string, v *string) error {
	if v == nil || *v == "" {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %s", name, d)
	}
	return nil
}

// Validate checks that the configuration values are valid.
func (c *PostureConfig) Validate() error {
	if c.ModelQuality != nil && !loop.ModelQuality(*c.ModelQuality).Valid() {
		return fmt.Errorf("model_quality must be fast, balanced or accurate, got %q", *c.ModelQuality)
	}
	if err := checkUnit("min_detection_confidence", c.MinDetectionConfidence); err != nil {
		return err
	}
	if err := checkUnit("min_tracking_confidence", c.MinTrackingConfidence); err != nil {
		return err
	}
	if err := checkUnit("change_confidence_delta", c.ChangeConfidenceDelta); err != nil {
		return err
	}
	if c.DetectionRateHz != nil && (*c.DetectionRateHz <= 0 || *c.DetectionRateHz > 60) {
		return fmt.Errorf("detection_rate_hz must be in (0, 60], got %f", *c.DetectionRateHz)
	}
	if c.SmoothingWindow != nil && *c.SmoothingWindow < 1 {
		return fmt.Errorf("smoothing_window must be at least 1, got %d", *c.SmoothingWindow)
	}
	if c.ChangeAngleDeltaDeg != nil && *c.ChangeAngleDeltaDeg < 0 {
		return fmt.Errorf("change_angle_delta_deg must be non-negative, got %f", *c.ChangeAngleDeltaDeg)
	}
	if err := checkDuration("change_max_interval", c.ChangeMaxInterval); err != nil {
		return err
	}
	if err := checkDuration("source_stale_after", c.SourceStaleAfter); err != nil {
		return err
	}
	for _, f := range []struct {
		name string
		v    *float64
	}{
		{"slouch_angle_deg", c.SlouchAngleDeg},
		{"head_tilt_deg", c.HeadTiltDeg},
		{"head_yaw_deg", c.HeadYawDeg},
		{"head_pitch_deg", c.HeadPitchDeg},
		{"eyes_hidden_tilt_deg", c.EyesHiddenTiltDeg},
		{"shoulder_height_deviation", c.ShoulderHeightDeviation},
		{"deviation_multiplier", c.DeviationMultiplier},
	} {
		if err := checkPositive(f.name, f.v); err != nil {
			return err
		}
	}
	return nil
}

func getFloat(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func getDuration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def // default on parse error
	}
	return d
}

// GetModelQuality returns the model_quality value or the default.
func (c *PostureConfig) GetModelQuality() loop.ModelQuality {
	if c.ModelQuality == nil {
		return loop.QualityBalanced
	}
	return loop.ModelQuality(*c.ModelQuality)
}

// GetDetectionRateHz returns the detection_rate_hz value or the default.
func (c *PostureConfig) GetDetectionRateHz() float64 {
	return getFloat(c.DetectionRateHz, 10)
}

// GetSmoothingWindow returns the smoothing_window value or the default.
func (c *PostureConfig) GetSmoothingWindow() int {
	if c.SmoothingWindow == nil {
		return smoothing.DefaultCapacity
	}
	return *c.SmoothingWindow
}

// GetSourceStaleAfter parses and returns source_stale_after.
func (c *PostureConfig) GetSourceStaleAfter() time.Duration {
	return getDuration(c.SourceStaleAfter, time.Second)
}

// GetChangeMaxInterval parses and returns change_max_interval.
func (c *PostureConfig) GetChangeMaxInterval() time.Duration {
	return getDuration(c.ChangeMaxInterval, time.Second)
}

// SourceOptions returns the options handed to the landmark source.
func (c *PostureConfig) SourceOptions() loop.SourceOptions {
	def := loop.DefaultSourceOptions()
	return loop.SourceOptions{
		ModelQuality:           c.GetModelQuality(),
		MinDetectionConfidence: getFloat(c.MinDetectionConfidence, def.MinDetectionConfidence),
		MinTrackingConfidence:  getFloat(c.MinTrackingConfidence, def.MinTrackingConfidence),
	}
}

// FilterConfig returns the change filter settings.
func (c *PostureConfig) FilterConfig() loop.FilterConfig {
	def := loop.DefaultFilterConfig()
	return loop.FilterConfig{
		AngleDelta:      getFloat(c.ChangeAngleDeltaDeg, def.AngleDelta),
		ConfidenceDelta: getFloat(c.ChangeConfidenceDelta, def.ConfidenceDelta),
		MaxInterval:     c.GetChangeMaxInterval(),
	}
}

// Thresholds returns the classifier thresholds.
func (c *PostureConfig) Thresholds() classify.Thresholds {
	def := classify.DefaultThresholds()
	return classify.Thresholds{
		SlouchAngle:             getFloat(c.SlouchAngleDeg, def.SlouchAngle),
		HeadTilt:                getFloat(c.HeadTiltDeg, def.HeadTilt),
		HeadYaw:                 getFloat(c.HeadYawDeg, def.HeadYaw),
		HeadPitch:               getFloat(c.HeadPitchDeg, def.HeadPitch),
		EyesHiddenTilt:          getFloat(c.EyesHiddenTiltDeg, def.EyesHiddenTilt),
		ShoulderHeightDeviation: getFloat(c.ShoulderHeightDeviation, def.ShoulderHeightDeviation),
		DeviationMultiplier:     getFloat(c.DeviationMultiplier, def.DeviationMultiplier),
	}
}

// DetectorConfig builds a detector config; the clock is left for the
// caller.
func (c *PostureConfig) DetectorConfig() detector.Config {
	return detector.Config{
		Thresholds:     c.Thresholds(),
		BufferCapacity: c.GetSmoothingWindow(),
	}
}

// LoopConfig builds a loop config; the clock is left for the caller.
func (c *PostureConfig) LoopConfig() loop.Config {
	return loop.Config{
		Source: c.SourceOptions(),
		RateHz: c.GetDetectionRateHz(),
		Filter: c.FilterConfig(),
	}
}
