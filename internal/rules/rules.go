// Package rules implements C3, the deterministic rule engine: five
// threshold rules over a bounded per-location history, combined into a
// RuleVerdict per spec.md §4.2. The mutex-guarded instance-state shape
// follows server/internal/alerts/engine.go's Engine, and the window
// evaluation reuses internal/ringbuffer the same way agent/internal/compute
// reuses its own sliding history.
package rules

import (
	"sync"
	"time"

	"github.com/pipewatch/pipewatch/internal/config"
	"github.com/pipewatch/pipewatch/internal/domain"
	"github.com/pipewatch/pipewatch/internal/ringbuffer"
)

// historyRetentionMargin is added on top of the configured minor-leak
// window (the longest rule window) when sizing the pressure ring buffer.
const historyRetentionMargin = 10 * time.Second

// thresholds holds the rule-tunables read from *config.Config, resolved
// once at NewEngine time so Evaluate never has to re-check for a nil cfg.
type thresholds struct {
	criticalWindow  time.Duration
	criticalDropPct float64

	minorWindow  time.Duration
	minorLowPct  float64
	minorHighPct float64

	flowIncreasePct     float64
	pressureDecreasePct float64

	ratioDeviationPct float64
}

// resolveThresholds fills in config.DefaultXxx for any field cfg leaves at
// its zero value, and applies the same defaults outright when cfg is nil —
// the same "optional fields, defaults() backstops them" contract
// internal/config.Load itself uses.
func resolveThresholds(cfg *config.Config) thresholds {
	t := thresholds{
		criticalWindow:      time.Duration(config.DefaultRuleCriticalWindowSec) * time.Second,
		criticalDropPct:     config.DefaultRuleCriticalDropPct,
		minorWindow:         time.Duration(config.DefaultRuleMinorWindowSec) * time.Second,
		minorLowPct:         config.DefaultRuleMinorLowPct,
		minorHighPct:        config.DefaultRuleMinorHighPct,
		flowIncreasePct:     config.DefaultRuleFlowIncPct,
		pressureDecreasePct: config.DefaultRulePressDecPct,
		ratioDeviationPct:   config.DefaultRuleRatioDevPct,
	}
	if cfg == nil {
		return t
	}
	if cfg.RuleCriticalWindowSec > 0 {
		t.criticalWindow = time.Duration(cfg.RuleCriticalWindowSec) * time.Second
	}
	if cfg.RuleCriticalDropPct > 0 {
		t.criticalDropPct = cfg.RuleCriticalDropPct
	}
	if cfg.RuleMinorWindowSec > 0 {
		t.minorWindow = time.Duration(cfg.RuleMinorWindowSec) * time.Second
	}
	if cfg.RuleMinorLowPct > 0 {
		t.minorLowPct = cfg.RuleMinorLowPct
	}
	if cfg.RuleMinorHighPct > 0 {
		t.minorHighPct = cfg.RuleMinorHighPct
	}
	if cfg.RuleFlowIncPct > 0 {
		t.flowIncreasePct = cfg.RuleFlowIncPct
	}
	if cfg.RulePressDecPct > 0 {
		t.pressureDecreasePct = cfg.RulePressDecPct
	}
	if cfg.RuleRatioDevPct > 0 {
		t.ratioDeviationPct = cfg.RuleRatioDevPct
	}
	return t
}

// ruleSpec names, in table order, the base probability and severity of
// each named rule — used both for combination and for tie-broken ordering.
type ruleSpec struct {
	name        string
	probability float64
	severity    domain.Severity
}

var ruleOrder = []ruleSpec{
	{"CRITICAL_LEAK", 85, domain.SeverityCritical},
	{"MINOR_LEAK", 50, domain.SeverityMedium},
	{"FLOW_PRESSURE_MISMATCH", 70, domain.SeverityHigh},
	{"RATIO_ANOMALY", 45, domain.SeverityMedium},
	{"SPIKE_ANOMALY", 35, domain.SeverityLow},
}

// Engine evaluates the five rules for a single location. The pipeline
// orchestrator owns one Engine per location, matching the
// one-worker-per-partition shape of spec.md §5.
type Engine struct {
	mu sync.Mutex

	thresholds thresholds

	pressureHistory *ringbuffer.Buffer

	baselineRatio float64
	baselineSet   bool

	prevPressure float64
	prevFlow     float64
	hasPrev      bool
}

// NewEngine returns a ready-to-use Engine configured from cfg's
// rule-threshold fields (spec.md §6); a nil cfg applies the documented
// defaults, the same convention internal/config.Load itself falls back on.
func NewEngine(cfg *config.Config) *Engine {
	t := resolveThresholds(cfg)
	longestWindow := t.minorWindow
	if t.criticalWindow > longestWindow {
		longestWindow = t.criticalWindow
	}
	return &Engine{
		thresholds:      t,
		pressureHistory: ringbuffer.New(longestWindow + historyRetentionMargin),
	}
}

// SetBaseline records the pressure/flow ratio used by RATIO_ANOMALY.
func (e *Engine) SetBaseline(pressure, flow float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if flow >= 0.1 {
		e.baselineRatio = pressure / flow
		e.baselineSet = true
	}
}

// Reset clears the baseline, history, and consecutive-sample state.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	longestWindow := e.thresholds.minorWindow
	if e.thresholds.criticalWindow > longestWindow {
		longestWindow = e.thresholds.criticalWindow
	}
	e.pressureHistory = ringbuffer.New(longestWindow + historyRetentionMargin)
	e.baselineRatio = 0
	e.baselineSet = false
	e.hasPrev = false
}

// Evaluate runs all five rules against fv and combines them into a verdict.
func (e *Engine) Evaluate(fv domain.FeatureVector) domain.RuleVerdict {
	e.mu.Lock()
	defer e.mu.Unlock()

	ts := fv.Sample.Timestamp
	pressure := fv.Sample.Pressure
	flow := fv.Sample.Flow

	e.pressureHistory.Add(ringbuffer.Sample{Timestamp: ts, Value: pressure})

	details := make(map[string]float64)
	fired := make(map[string]bool, len(ruleOrder))

	t := e.thresholds

	if drop, ok := e.maxDropWithin(ts, t.criticalWindow); ok {
		details["criticalDropPct"] = drop
		if drop > t.criticalDropPct {
			fired["CRITICAL_LEAK"] = true
		}
	}

	if drop, ok := e.maxDropWithin(ts, t.minorWindow); ok {
		details["minorDropPct"] = drop
		if drop >= t.minorLowPct && drop <= t.minorHighPct {
			fired["MINOR_LEAK"] = true
		}
	}

	if e.hasPrev {
		var flowInc, pressDec float64
		if e.prevFlow > 0 {
			flowInc = (flow - e.prevFlow) / e.prevFlow
		}
		if e.prevPressure > 0 {
			pressDec = (e.prevPressure - pressure) / e.prevPressure
		}
		details["flowIncreasePct"] = flowInc
		details["pressureDecreasePct"] = pressDec
		if flowInc > t.flowIncreasePct && pressDec > t.pressureDecreasePct {
			fired["FLOW_PRESSURE_MISMATCH"] = true
		}
	}

	if e.baselineSet && flow >= 0.1 && e.baselineRatio > 0 {
		ratio := pressure / flow
		dev := absFloat(ratio-e.baselineRatio) / e.baselineRatio
		details["ratioDeviationPct"] = dev
		if dev > t.ratioDeviationPct {
			fired["RATIO_ANOMALY"] = true
		}
	}

	if fv.Pressure.SpikeFlag || fv.Flow.SpikeFlag {
		fired["SPIKE_ANOMALY"] = true
	}

	e.prevPressure = pressure
	e.prevFlow = flow
	e.hasPrev = true

	return combine(fired, details)
}

// maxDropWithin reports the fractional drop of the current reading from the
// highest pressure observed within window of now, and whether the window
// had enough history to evaluate at all.
func (e *Engine) maxDropWithin(now time.Time, window time.Duration) (float64, bool) {
	samples := e.pressureHistory.Since(now.Add(-window))
	if len(samples) == 0 {
		return 0, false
	}
	max := samples[0].Value
	for _, s := range samples[1:] {
		if s.Value > max {
			max = s.Value
		}
	}
	if max <= 0 {
		return 0, false
	}
	current := samples[len(samples)-1].Value
	return (max - current) / max, true
}

// combine sums the base probabilities of triggered rules, adds the
// compounding bonus, and picks the max severity — per spec.md §4.2.
func combine(fired map[string]bool, details map[string]float64) domain.RuleVerdict {
	var sum float64
	var firedNames []string
	severity := domain.SeverityNormal
	count := 0

	for _, r := range ruleOrder {
		if !fired[r.name] {
			continue
		}
		count++
		sum += r.probability
		firedNames = append(firedNames, r.name)
		if r.severity > severity {
			severity = r.severity
		}
	}

	bonus := minFloat(20, 5*float64(count))
	probability := minFloat(100, sum+bonus)

	return domain.RuleVerdict{
		Triggered:   count > 0,
		Probability: probability,
		Severity:    severity,
		FiredRules:  firedNames,
		Details:     details,
	}
}

func absFloat(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
