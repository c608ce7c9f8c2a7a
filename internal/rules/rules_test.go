package rules

import (
	"testing"
	"time"

	"github.com/pipewatch/pipewatch/internal/config"
	"github.com/pipewatch/pipewatch/internal/domain"
)

var base = time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)

func fv(ts time.Time, pressure, flow float64) domain.FeatureVector {
	return domain.FeatureVector{
		Sample: domain.RawSample{Timestamp: ts, Pressure: pressure, Flow: flow},
	}
}

func TestCriticalLeakFires(t *testing.T) {
	e := NewEngine(nil)
	e.Evaluate(fv(base, 100, 10))
	v := e.Evaluate(fv(base.Add(30*time.Second), 80, 10)) // 20% drop within 60s
	if !v.Triggered {
		t.Fatal("expected verdict to trigger")
	}
	found := false
	for _, r := range v.FiredRules {
		if r == "CRITICAL_LEAK" {
			found = true
		}
	}
	if !found {
		t.Errorf("FiredRules = %v, want CRITICAL_LEAK", v.FiredRules)
	}
	if v.Severity != domain.SeverityCritical {
		t.Errorf("Severity = %v, want CRITICAL", v.Severity)
	}
}

func TestMinorLeakFiresInRange(t *testing.T) {
	e := NewEngine(nil)
	e.Evaluate(fv(base, 100, 10))
	v := e.Evaluate(fv(base.Add(2*time.Minute), 90, 10)) // 10% drop within 300s
	found := false
	for _, r := range v.FiredRules {
		if r == "MINOR_LEAK" {
			found = true
		}
	}
	if !found {
		t.Errorf("FiredRules = %v, want MINOR_LEAK", v.FiredRules)
	}
}

func TestNoDropDoesNotFireLeakRules(t *testing.T) {
	e := NewEngine(nil)
	e.Evaluate(fv(base, 100, 10))
	v := e.Evaluate(fv(base.Add(10*time.Second), 100, 10))
	for _, r := range v.FiredRules {
		if r == "CRITICAL_LEAK" || r == "MINOR_LEAK" {
			t.Errorf("unexpected fired rule %s with no pressure drop", r)
		}
	}
}

func TestFlowPressureMismatchRequiresBothConditions(t *testing.T) {
	e := NewEngine(nil)
	e.Evaluate(fv(base, 100, 10))
	// flow +30%, pressure -3%: both thresholds crossed.
	v := e.Evaluate(fv(base.Add(time.Second), 97, 13))
	found := false
	for _, r := range v.FiredRules {
		if r == "FLOW_PRESSURE_MISMATCH" {
			found = true
		}
	}
	if !found {
		t.Errorf("FiredRules = %v, want FLOW_PRESSURE_MISMATCH", v.FiredRules)
	}
}

func TestFlowPressureMismatchNeedsPreviousSample(t *testing.T) {
	e := NewEngine(nil)
	v := e.Evaluate(fv(base, 100, 10))
	for _, r := range v.FiredRules {
		if r == "FLOW_PRESSURE_MISMATCH" {
			t.Error("FLOW_PRESSURE_MISMATCH fired on the first sample, want no prior-sample comparison possible")
		}
	}
}

func TestRatioAnomalyRequiresBaseline(t *testing.T) {
	e := NewEngine(nil)
	v := e.Evaluate(fv(base, 100, 5)) // ratio 20, far from any baseline, but none set
	for _, r := range v.FiredRules {
		if r == "RATIO_ANOMALY" {
			t.Error("RATIO_ANOMALY fired without a baseline set")
		}
	}

	e.SetBaseline(100, 10) // baseline ratio = 10
	v2 := e.Evaluate(fv(base.Add(time.Second), 100, 5)) // ratio 20, 100% deviation
	found := false
	for _, r := range v2.FiredRules {
		if r == "RATIO_ANOMALY" {
			found = true
		}
	}
	if !found {
		t.Errorf("FiredRules = %v, want RATIO_ANOMALY", v2.FiredRules)
	}
}

func TestSpikeAnomalyFromFeatureFlags(t *testing.T) {
	e := NewEngine(nil)
	in := fv(base, 100, 10)
	in.Pressure.SpikeFlag = true
	v := e.Evaluate(in)
	found := false
	for _, r := range v.FiredRules {
		if r == "SPIKE_ANOMALY" {
			found = true
		}
	}
	if !found {
		t.Errorf("FiredRules = %v, want SPIKE_ANOMALY", v.FiredRules)
	}
}

func TestCombinationSumsAndCapsProbability(t *testing.T) {
	e := NewEngine(nil)
	e.Evaluate(fv(base, 100, 10))
	in := fv(base.Add(30*time.Second), 80, 13) // triggers CRITICAL_LEAK + FLOW_PRESSURE_MISMATCH
	in.Pressure.SpikeFlag = true               // + SPIKE_ANOMALY
	v := e.Evaluate(in)

	if len(v.FiredRules) < 2 {
		t.Fatalf("expected multiple rules to fire, got %v", v.FiredRules)
	}
	if v.Probability > 100 {
		t.Errorf("Probability = %v, must be capped at 100", v.Probability)
	}
}

func TestResetClearsState(t *testing.T) {
	e := NewEngine(nil)
	e.SetBaseline(100, 10)
	e.Evaluate(fv(base, 100, 10))
	e.Reset()

	v := e.Evaluate(fv(base.Add(time.Second), 50, 2)) // would trigger RATIO_ANOMALY if baseline survived
	for _, r := range v.FiredRules {
		if r == "RATIO_ANOMALY" || r == "FLOW_PRESSURE_MISMATCH" {
			t.Errorf("Reset did not clear state, got fired rule %s", r)
		}
	}
}

func TestIsLeakThresholdAtFifty(t *testing.T) {
	e := NewEngine(nil)
	e.Evaluate(fv(base, 100, 10))
	v := e.Evaluate(fv(base.Add(2*time.Minute), 90, 10)) // MINOR_LEAK alone = 50 + bonus(5) = 55
	if v.Probability < 50 {
		t.Errorf("Probability = %v, want >= 50 for MINOR_LEAK alone", v.Probability)
	}
}

func TestNewEngineHonorsConfiguredThresholds(t *testing.T) {
	// A tightened critical-drop threshold of 5% should fire CRITICAL_LEAK on
	// a drop that the documented 15% default would only register as
	// MINOR_LEAK, proving cfg actually reaches the Engine's rule evaluation.
	cfg := &config.Config{
		RuleCriticalWindowSec: 60,
		RuleCriticalDropPct:   0.05,
		RuleMinorWindowSec:    300,
		RuleMinorLowPct:       0.05,
		RuleMinorHighPct:      0.15,
		RuleFlowIncPct:        config.DefaultRuleFlowIncPct,
		RulePressDecPct:       config.DefaultRulePressDecPct,
		RuleRatioDevPct:       config.DefaultRuleRatioDevPct,
	}
	e := NewEngine(cfg)
	e.Evaluate(fv(base, 100, 10))
	v := e.Evaluate(fv(base.Add(30*time.Second), 90, 10)) // 10% drop within 60s

	found := false
	for _, r := range v.FiredRules {
		if r == "CRITICAL_LEAK" {
			found = true
		}
	}
	if !found {
		t.Errorf("FiredRules = %v, want CRITICAL_LEAK under a 5%% configured threshold", v.FiredRules)
	}
}
