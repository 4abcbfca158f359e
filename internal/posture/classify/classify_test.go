package classify

import (
	"math"
	"testing"

	"github.com/banshee-data/posture.report/internal/posture/geometry"
)

var (
	eyesOn  = geometry.EyeResult{Score: 0.99, Visible: true}
	eyesOff = geometry.EyeResult{Score: 0.3, Visible: false}
)

// upright is a comfortable, camera-facing posture.
var upright = geometry.Metrics{
	SlouchAngle:       50,
	HeadTiltAngle:     5,
	ShoulderAlignment: 1,
	ShoulderHeight:    0.70,
	HeadYaw:           2,
	HeadPitch:         5,
}

func with(m geometry.Metrics, fn func(*geometry.Metrics)) geometry.Metrics {
	fn(&m)
	return m
}

func ptr(m geometry.Metrics) *geometry.Metrics { return &m }

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestClassify_Table(t *testing.T) {
	engine := NewEngine(DefaultThresholds())

	tests := []struct {
		name     string
		metrics  geometry.Metrics
		eyes     geometry.EyeResult
		baseline *geometry.Metrics
		wantType Type
		wantRule string
		wantConf float64
	}{
		{
			name:     "eyes hidden with pitch down",
			metrics:  with(upright, func(m *geometry.Metrics) { m.HeadPitch = 20 }),
			eyes:     eyesOff,
			wantType: LookingDown, wantRule: RuleEyesHiddenDown, wantConf: 0.9,
		},
		{
			name:     "eyes hidden with pitch up counts as down",
			metrics:  with(upright, func(m *geometry.Metrics) { m.HeadPitch = -16 }),
			eyes:     eyesOff,
			wantType: LookingDown, wantRule: RuleEyesHiddenDown, wantConf: 0.9,
		},
		{
			name:     "eyes hidden with tilt down",
			metrics:  with(upright, func(m *geometry.Metrics) { m.HeadTiltAngle = 16 }),
			eyes:     eyesOff,
			wantType: LookingDown, wantRule: RuleEyesHiddenDown, wantConf: 0.9,
		},
		{
			name:     "eyes hidden with negative tilt is away",
			metrics:  with(upright, func(m *geometry.Metrics) { m.HeadTiltAngle = -30 }),
			eyes:     eyesOff,
			wantType: LookingAway, wantRule: RuleEyesHiddenAway, wantConf: 0.9,
		},
		{
			name:     "eyes hidden otherwise away",
			metrics:  upright,
			eyes:     eyesOff,
			wantType: LookingAway, wantRule: RuleEyesHiddenAway, wantConf: 0.9,
		},
		{
			name:     "eyes hidden pre-empts a slouch",
			metrics:  with(upright, func(m *geometry.Metrics) { m.SlouchAngle = 20 }),
			eyes:     eyesOff,
			baseline: ptr(upright),
			wantType: LookingAway, wantRule: RuleEyesHiddenAway, wantConf: 0.9,
		},

		// Calibrated
		{
			name:     "baseline good",
			metrics:  upright,
			eyes:     eyesOn,
			baseline: ptr(upright),
			wantType: GoodPosture, wantRule: RuleBaselineGood, wantConf: 0.9,
		},
		{
			name:     "baseline slouch by absolute angle",
			metrics:  with(upright, func(m *geometry.Metrics) { m.SlouchAngle = 39 }),
			eyes:     eyesOn,
			baseline: ptr(with(upright, func(m *geometry.Metrics) { m.SlouchAngle = 41 })),
			// max(40-39, 2)/10
			wantType: Slouching, wantRule: RuleBaselineSlouch, wantConf: 0.8,
		},
		{
			name:     "baseline slouch by deviation",
			metrics:  with(upright, func(m *geometry.Metrics) { m.SlouchAngle = 110 }),
			eyes:     eyesOn,
			baseline: ptr(with(upright, func(m *geometry.Metrics) { m.SlouchAngle = 45 })),
			wantType: Slouching, wantRule: RuleBaselineSlouch, wantConf: 0.95,
		},
		{
			name:     "baseline slouch deviation at threshold is not slouching",
			metrics:  with(upright, func(m *geometry.Metrics) { m.SlouchAngle = 105 }),
			eyes:     eyesOn,
			baseline: ptr(with(upright, func(m *geometry.Metrics) { m.SlouchAngle = 45 })),
			wantType: GoodPosture, wantRule: RuleBaselineGood, wantConf: 0.9,
		},
		{
			name:     "baseline shoulder drop",
			metrics:  with(upright, func(m *geometry.Metrics) { m.ShoulderHeight = 0.76 }),
			eyes:     eyesOn,
			baseline: ptr(upright),
			wantType: Slouching, wantRule: RuleBaselineShoulderDrop, wantConf: 0.95,
		},
		{
			name:     "baseline shoulder rise also counts",
			metrics:  with(upright, func(m *geometry.Metrics) { m.ShoulderHeight = 0.64 }),
			eyes:     eyesOn,
			baseline: ptr(upright),
			wantType: Slouching, wantRule: RuleBaselineShoulderDrop, wantConf: 0.95,
		},
		{
			name:     "baseline small shoulder shift is fine",
			metrics:  with(upright, func(m *geometry.Metrics) { m.ShoulderHeight = 0.73 }),
			eyes:     eyesOn,
			baseline: ptr(upright),
			wantType: GoodPosture, wantRule: RuleBaselineGood, wantConf: 0.9,
		},
		{
			name:     "baseline yaw",
			metrics:  with(upright, func(m *geometry.Metrics) { m.HeadYaw = -46 }),
			eyes:     eyesOn,
			baseline: ptr(upright),
			wantType: LookingAway, wantRule: RuleBaselineYaw, wantConf: 0.95,
		},
		{
			name:     "baseline yaw within personal range",
			metrics:  with(upright, func(m *geometry.Metrics) { m.HeadYaw = 40 }),
			eyes:     eyesOn,
			baseline: ptr(upright),
			wantType: GoodPosture, wantRule: RuleBaselineGood, wantConf: 0.9,
		},
		{
			name:     "baseline pitch",
			metrics:  with(upright, func(m *geometry.Metrics) { m.HeadPitch = 36 }),
			eyes:     eyesOn,
			baseline: ptr(upright),
			wantType: LookingDown, wantRule: RuleBaselinePitch, wantConf: 0.95,
		},
		{
			name:     "baseline tilt",
			metrics:  with(upright, func(m *geometry.Metrics) { m.HeadTiltAngle = 36 }),
			eyes:     eyesOn,
			baseline: ptr(upright),
			wantType: LookingDown, wantRule: RuleBaselinePitch, wantConf: 0.95,
		},
		{
			name: "baseline slouch outranks shoulder yaw and pitch",
			metrics: with(upright, func(m *geometry.Metrics) {
				m.SlouchAngle = 30
				m.ShoulderHeight = 0.9
				m.HeadYaw = 80
				m.HeadPitch = 60
			}),
			eyes:     eyesOn,
			baseline: ptr(upright),
			wantType: Slouching, wantRule: RuleBaselineSlouch, wantConf: 0.95,
		},
		{
			name: "baseline yaw outranks pitch",
			metrics: with(upright, func(m *geometry.Metrics) {
				m.HeadYaw = 80
				m.HeadPitch = 60
			}),
			eyes:     eyesOn,
			baseline: ptr(upright),
			wantType: LookingAway, wantRule: RuleBaselineYaw, wantConf: 0.95,
		},

		// Uncalibrated
		{
			name:     "fallback good",
			metrics:  upright,
			eyes:     eyesOn,
			wantType: GoodPosture, wantRule: RuleGood, wantConf: 0.9,
		},
		{
			name:     "fallback slouch",
			metrics:  with(upright, func(m *geometry.Metrics) { m.SlouchAngle = 38 }),
			eyes:     eyesOn,
			wantType: Slouching, wantRule: RuleSlouch, wantConf: 0.8,
		},
		{
			name:     "fallback slouch saturates",
			metrics:  with(upright, func(m *geometry.Metrics) { m.SlouchAngle = 10 }),
			eyes:     eyesOn,
			wantType: Slouching, wantRule: RuleSlouch, wantConf: 0.95,
		},
		{
			name:     "fallback slouch at threshold is not slouching",
			metrics:  with(upright, func(m *geometry.Metrics) { m.SlouchAngle = 40 }),
			eyes:     eyesOn,
			wantType: GoodPosture, wantRule: RuleGood, wantConf: 0.9,
		},
		{
			name:     "fallback yaw",
			metrics:  with(upright, func(m *geometry.Metrics) { m.HeadYaw = -31 }),
			eyes:     eyesOn,
			wantType: LookingAway, wantRule: RuleYaw, wantConf: 0.95,
		},
		{
			name:     "fallback pitch",
			metrics:  with(upright, func(m *geometry.Metrics) { m.HeadPitch = -21 }),
			eyes:     eyesOn,
			wantType: LookingDown, wantRule: RulePitch, wantConf: 0.95,
		},
		{
			name:     "fallback tilt",
			metrics:  with(upright, func(m *geometry.Metrics) { m.HeadTiltAngle = 21 }),
			eyes:     eyesOn,
			wantType: LookingDown, wantRule: RulePitch, wantConf: 0.95,
		},
		{
			name:     "fallback negative tilt is not looking down",
			metrics:  with(upright, func(m *geometry.Metrics) { m.HeadTiltAngle = -25 }),
			eyes:     eyesOn,
			wantType: GoodPosture, wantRule: RuleGood, wantConf: 0.9,
		},
		{
			name: "fallback slouch outranks yaw",
			metrics: with(upright, func(m *geometry.Metrics) {
				m.SlouchAngle = 35
				m.HeadYaw = 50
			}),
			eyes:     eyesOn,
			wantType: Slouching, wantRule: RuleSlouch, wantConf: 0.95,
		},
		{
			name:     "fallback ignores shoulder height",
			metrics:  with(upright, func(m *geometry.Metrics) { m.ShoulderHeight = 0.99 }),
			eyes:     eyesOn,
			wantType: GoodPosture, wantRule: RuleGood, wantConf: 0.9,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := engine.Classify(tt.metrics, tt.eyes, tt.baseline)
			if got.Type != tt.wantType {
				t.Errorf("Type = %s, want %s", got.Type, tt.wantType)
			}
			if got.Rule != tt.wantRule {
				t.Errorf("Rule = %s, want %s", got.Rule, tt.wantRule)
			}
			if !approx(got.Confidence, tt.wantConf) {
				t.Errorf("Confidence = %.4f, want %.4f", got.Confidence, tt.wantConf)
			}
		})
	}
}

func TestClassify_GradedConfidence(t *testing.T) {
	engine := NewEngine(DefaultThresholds())

	// most stock-threshold cases saturate; lower limits expose the slope
	th := DefaultThresholds()
	th.HeadYaw = 5
	wide := NewEngine(th)
	got := wide.Classify(with(upright, func(m *geometry.Metrics) { m.HeadYaw = 12 }), eyesOn, nil)
	if got.Rule != RuleYaw || !approx(got.Confidence, 0.8) {
		t.Errorf("yaw 12 = %+v, want rule %s confidence 0.8", got, RuleYaw)
	}

	// pitch 8 against a 5 degree limit: 0.6 + 8/40
	th = DefaultThresholds()
	th.HeadPitch = 5
	got = NewEngine(th).Classify(with(upright, func(m *geometry.Metrics) { m.HeadPitch = 8 }), eyesOn, nil)
	if got.Rule != RulePitch || !approx(got.Confidence, 0.8) {
		t.Errorf("pitch 8 = %+v, want rule %s confidence 0.8", got, RulePitch)
	}

	// confidence never exceeds the cap on any rule
	for _, angle := range []float64{39, 30, 0, -50} {
		got := engine.Classify(with(upright, func(m *geometry.Metrics) { m.SlouchAngle = angle }), eyesOn, nil)
		if got.Confidence > MaxConfidence || got.Confidence < BaseConfidence {
			t.Errorf("slouch %.0f: confidence %.3f outside [%.2f, %.2f]", angle, got.Confidence, BaseConfidence, MaxConfidence)
		}
	}
}

func TestClassify_EyesHiddenNeverGood(t *testing.T) {
	engine := NewEngine(DefaultThresholds())
	baseline := ptr(upright)
	for _, pitch := range []float64{-40, -10, 0, 10, 40} {
		for _, tilt := range []float64{-40, 0, 14, 40} {
			m := with(upright, func(m *geometry.Metrics) {
				m.HeadPitch = pitch
				m.HeadTiltAngle = tilt
			})
			for _, b := range []*geometry.Metrics{nil, baseline} {
				got := engine.Classify(m, eyesOff, b)
				if got.Type != LookingAway && got.Type != LookingDown {
					t.Errorf("pitch=%.0f tilt=%.0f baseline=%v: got %s", pitch, tilt, b != nil, got.Type)
				}
			}
		}
	}
}

func TestEngine_RuleOrder(t *testing.T) {
	want := []string{
		RuleEyesHiddenDown, RuleEyesHiddenAway,
		RuleBaselineSlouch, RuleBaselineShoulderDrop, RuleBaselineYaw, RuleBaselinePitch, RuleBaselineGood,
		RuleSlouch, RuleYaw, RulePitch, RuleGood,
	}
	rules := NewEngine(DefaultThresholds()).Rules()
	if len(rules) != len(want) {
		t.Fatalf("got %d rules, want %d", len(rules), len(want))
	}
	for i, r := range rules {
		if r.Name != want[i] {
			t.Errorf("rule %d = %s, want %s", i, r.Name, want[i])
		}
	}
}

func TestEngine_RulesIndependentlyTestable(t *testing.T) {
	rules := NewEngine(DefaultThresholds()).Rules()
	byName := make(map[string]Rule, len(rules))
	for _, r := range rules {
		byName[r.Name] = r
	}

	in := Input{Metrics: with(upright, func(m *geometry.Metrics) { m.ShoulderHeight = 0.8 }), Eyes: eyesOn, Baseline: ptr(upright)}
	in.dev = in.Metrics.Deviation(*in.Baseline)

	if !byName[RuleBaselineShoulderDrop].When(in) {
		t.Error("shoulder drop rule should match")
	}
	if byName[RuleBaselineYaw].When(in) {
		t.Error("yaw rule should not match")
	}
	if !approx(in.Deviation().ShoulderHeight, 0.1) {
		t.Errorf("Deviation().ShoulderHeight = %v", in.Deviation().ShoulderHeight)
	}
}

func TestNoPerson(t *testing.T) {
	got := NoPerson()
	if got.Type != NoPersonType || got.Confidence != 0.95 || got.Rule != RuleNoPerson {
		t.Errorf("NoPerson() = %+v", got)
	}
}

func TestEngine_Thresholds(t *testing.T) {
	th := DefaultThresholds()
	th.SlouchAngle = 45
	e := NewEngine(th)
	if e.Thresholds() != th {
		t.Errorf("Thresholds() = %+v, want %+v", e.Thresholds(), th)
	}
	got := e.Classify(with(upright, func(m *geometry.Metrics) { m.SlouchAngle = 43 }), eyesOn, nil)
	if got.Type != Slouching {
		t.Errorf("custom slouch threshold: got %s", got.Type)
	}
}
