// Package classify turns smoothed posture metrics into a verdict.
//
// Classification is an ordered rule table: each rule pairs a predicate with
// an outcome and a confidence function, and the first rule whose predicate
// holds decides the result. The visibility gate (no person in frame) is
// applied by the caller before any metrics exist, see NoPerson.
package classify

import (
	"math"

	"github.com/banshee-data/posture.report/internal/posture/geometry"
)

// Type is the posture verdict.
type Type string

const (
	GoodPosture  Type = "good-posture"
	Slouching    Type = "slouching"
	LookingAway  Type = "looking-away"
	LookingDown  Type = "looking-down"
	NoPersonType Type = "no-person"
)

// Confidence levels
const (
	BaseConfidence     = 0.60 // starting point for graded rules
	MaxConfidence      = 0.95 // graded rules never exceed this
	DefaultConfidence  = 0.90 // good posture and the eyes-hidden rules
	NoPersonConfidence = 0.95
)

// Rule names, reported on every Result.
const (
	RuleNoPerson             = "person-not-visible"
	RuleEyesHiddenDown       = "eyes-hidden-down"
	RuleEyesHiddenAway       = "eyes-hidden-away"
	RuleBaselineSlouch       = "baseline-slouch"
	RuleBaselineShoulderDrop = "baseline-shoulder-drop"
	RuleBaselineYaw          = "baseline-yaw"
	RuleBaselinePitch        = "baseline-pitch"
	RuleBaselineGood         = "baseline-good"
	RuleSlouch               = "slouch"
	RuleYaw                  = "yaw"
	RulePitch                = "pitch"
	RuleGood                 = "good"
)

// Thresholds holds the domain constants the rules compare against. Baseline
// rules scale the angle limits by DeviationMultiplier; the shoulder height
// limit is absolute.
type Thresholds struct {
	SlouchAngle             float64 // degrees; CVA below this is slouching
	HeadTilt                float64 // degrees
	HeadYaw                 float64 // degrees
	HeadPitch               float64 // degrees
	EyesHiddenTilt          float64 // degrees; splits looking-down from looking-away
	ShoulderHeightDeviation float64 // normalized frame height
	DeviationMultiplier     float64
}

// DefaultThresholds returns the stock thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		SlouchAngle:             40,
		HeadTilt:                20,
		HeadYaw:                 30,
		HeadPitch:               20,
		EyesHiddenTilt:          15,
		ShoulderHeightDeviation: 0.05,
		DeviationMultiplier:     1.5,
	}
}

// Input is everything a rule can look at.
type Input struct {
	Metrics  geometry.Metrics
	Eyes     geometry.EyeResult
	Baseline *geometry.Metrics // nil when uncalibrated

	dev geometry.Metrics // Metrics.Deviation(*Baseline), filled by Classify
}

// Deviation returns the absolute per-metric deviation from the baseline, or
// the zero value when there is none.
func (in Input) Deviation() geometry.Metrics {
	return in.dev
}

// Result is the outcome of classification.
type Result struct {
	Type       Type    `json:"type"`
	Confidence float64 `json:"confidence"`
	Rule       string  `json:"rule"`
}

// Rule is one row of the decision table.
type Rule struct {
	Name       string
	Type       Type
	When       func(Input) bool
	Confidence func(Input) float64
}

// NoPerson is the result for frames that fail the visibility gate or carry
// no detection at all.
func NoPerson() Result {
	return Result{Type: NoPersonType, Confidence: NoPersonConfidence, Rule: RuleNoPerson}
}

// Engine evaluates the rule table. It is stateless after construction and
// safe for concurrent use.
type Engine struct {
	thresholds Thresholds
	rules      []Rule
}

// NewEngine builds an engine over the given thresholds.
func NewEngine(t Thresholds) *Engine {
	return &Engine{thresholds: t, rules: buildRules(t)}
}

// Thresholds returns the engine's thresholds.
func (e *Engine) Thresholds() Thresholds {
	return e.thresholds
}

// Rules returns the decision table in evaluation order.
func (e *Engine) Rules() []Rule {
	return append([]Rule(nil), e.rules...)
}

// Classify returns the verdict of the first matching rule. The table always
// ends in a catch-all, so a result is always produced.
func (e *Engine) Classify(m geometry.Metrics, eyes geometry.EyeResult, baseline *geometry.Metrics) Result {
	in := Input{Metrics: m, Eyes: eyes, Baseline: baseline}
	if baseline != nil {
		in.dev = m.Deviation(*baseline)
	}
	for _, r := range e.rules {
		if r.When(in) {
			return Result{Type: r.Type, Confidence: r.Confidence(in), Rule: r.Name}
		}
	}
	return Result{Type: GoodPosture, Confidence: DefaultConfidence, Rule: RuleGood}
}

// graded maps an excess over a limit onto [BaseConfidence, MaxConfidence].
func graded(excess, scale float64) float64 {
	return clampConfidence(BaseConfidence+excess/scale, 0, MaxConfidence)
}

// clampConfidence clamps a confidence value to the range [min, max].
func clampConfidence(value, min, max float64) float64 {
	if value > max {
		return max
	}
	if value < min {
		return min
	}
	return value
}

func constant(c float64) func(Input) float64 {
	return func(Input) float64 { return c }
}

func buildRules(t Thresholds) []Rule {
	slouchDev := t.SlouchAngle * t.DeviationMultiplier
	tiltDev := t.HeadTilt * t.DeviationMultiplier
	yawDev := t.HeadYaw * t.DeviationMultiplier
	pitchDev := t.HeadPitch * t.DeviationMultiplier

	calibrated := func(in Input) bool { return in.Baseline != nil && in.Eyes.Visible }
	uncalibrated := func(in Input) bool { return in.Baseline == nil && in.Eyes.Visible }

	return []Rule{
		// Eyes out of view pre-empts everything else.
		{
			Name: RuleEyesHiddenDown,
			Type: LookingDown,
			When: func(in Input) bool {
				return !in.Eyes.Visible &&
					(math.Abs(in.Metrics.HeadPitch) > t.EyesHiddenTilt || in.Metrics.HeadTiltAngle > t.EyesHiddenTilt)
			},
			Confidence: constant(DefaultConfidence),
		},
		{
			Name:       RuleEyesHiddenAway,
			Type:       LookingAway,
			When:       func(in Input) bool { return !in.Eyes.Visible },
			Confidence: constant(DefaultConfidence),
		},

		// Calibrated: compare against the user's own reference.
		{
			Name: RuleBaselineSlouch,
			Type: Slouching,
			When: func(in Input) bool {
				return calibrated(in) && (in.Metrics.SlouchAngle < t.SlouchAngle || in.dev.SlouchAngle > slouchDev)
			},
			Confidence: func(in Input) float64 {
				return graded(math.Max(t.SlouchAngle-in.Metrics.SlouchAngle, in.dev.SlouchAngle), 10)
			},
		},
		{
			Name: RuleBaselineShoulderDrop,
			Type: Slouching,
			When: func(in Input) bool {
				return calibrated(in) && in.dev.ShoulderHeight > t.ShoulderHeightDeviation
			},
			Confidence: func(in Input) float64 { return graded(in.dev.ShoulderHeight*10, 1) },
		},
		{
			Name:       RuleBaselineYaw,
			Type:       LookingAway,
			When:       func(in Input) bool { return calibrated(in) && in.dev.HeadYaw > yawDev },
			Confidence: func(in Input) float64 { return graded(in.dev.HeadYaw, 60) },
		},
		{
			Name: RuleBaselinePitch,
			Type: LookingDown,
			When: func(in Input) bool {
				return calibrated(in) && (in.dev.HeadPitch > pitchDev || in.dev.HeadTiltAngle > tiltDev)
			},
			Confidence: func(in Input) float64 {
				return graded(math.Max(in.dev.HeadPitch, in.dev.HeadTiltAngle), 40)
			},
		},
		{
			Name:       RuleBaselineGood,
			Type:       GoodPosture,
			When:       calibrated,
			Confidence: constant(DefaultConfidence),
		},

		// Uncalibrated: fixed limits.
		{
			Name:       RuleSlouch,
			Type:       Slouching,
			When:       func(in Input) bool { return uncalibrated(in) && in.Metrics.SlouchAngle < t.SlouchAngle },
			Confidence: func(in Input) float64 { return graded(t.SlouchAngle-in.Metrics.SlouchAngle, 10) },
		},
		{
			Name:       RuleYaw,
			Type:       LookingAway,
			When:       func(in Input) bool { return uncalibrated(in) && math.Abs(in.Metrics.HeadYaw) > t.HeadYaw },
			Confidence: func(in Input) float64 { return graded(math.Abs(in.Metrics.HeadYaw), 60) },
		},
		{
			Name: RulePitch,
			Type: LookingDown,
			When: func(in Input) bool {
				return uncalibrated(in) && (math.Abs(in.Metrics.HeadPitch) > t.HeadPitch || in.Metrics.HeadTiltAngle > t.HeadTilt)
			},
			Confidence: func(in Input) float64 {
				return graded(math.Max(math.Abs(in.Metrics.HeadPitch), in.Metrics.HeadTiltAngle), 40)
			},
		},
		{
			Name:       RuleGood,
			Type:       GoodPosture,
			When:       func(Input) bool { return true },
			Confidence: constant(DefaultConfidence),
		},
	}
}
