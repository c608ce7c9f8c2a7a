// Package fusion implements C5, the decider: it blends a RuleVerdict and an
// optional AnomalyScore into one DetectionResult, and tracks the per-location
// hysteresis counters that debounce isolated ML blips. The weighted-blend-
// then-threshold-ladder shape follows agent/internal/compute/score.go's
// Compute()/stateFromScore exactly, generalized from four static weights to
// the rule/ml pairing of spec.md §4.4.
package fusion

import (
	"sync"

	"github.com/pipewatch/pipewatch/internal/domain"
)

const (
	ruleWeight = 0.4
	mlWeight   = 0.6

	firedConfidenceBase    = 80.0
	notFiredConfidenceBase = 20.0
)

// Decider fuses rule and ML outputs into a DetectionResult and decides,
// with hysteresis, whether a DetectionResult should become an Alert.
type Decider struct {
	hysteresisConsecutive int

	mu             sync.Mutex
	mlConsecutive  map[string]int
}

// New returns a Decider requiring hysteresisConsecutive consecutive
// ML-only anomalies before an ML-only alert fires.
func New(hysteresisConsecutive int) *Decider {
	return &Decider{
		hysteresisConsecutive: hysteresisConsecutive,
		mlConsecutive:         make(map[string]int),
	}
}

// Decide fuses rule and an optional ml score (nil when ModelNotReady) into
// a DetectionResult, per spec.md §4.4.
func (d *Decider) Decide(fv domain.FeatureVector, rule domain.RuleVerdict, ml *domain.AnomalyScore) domain.DetectionResult {
	mlScore := 0.0
	if ml != nil {
		mlScore = ml.Score
	}

	probability := ruleWeight*rule.Probability + mlWeight*(mlScore*100)
	if probability > 100 {
		probability = 100
	}

	severity := rule.Severity
	if ml != nil && ml.IsAnomaly && severity == domain.SeverityNormal {
		severity = domain.SeverityMedium
	}

	confidenceBase := notFiredConfidenceBase
	if rule.Triggered {
		confidenceBase = firedConfidenceBase
	}
	mlConfidencePct := 0.0
	if ml != nil {
		mlConfidencePct = ml.Confidence * 100
	}
	confidence := (confidenceBase + mlConfidencePct) / 2

	return domain.DetectionResult{
		Sample:      fv.Sample,
		Features:    fv,
		Rule:        rule,
		ML:          ml,
		Probability: probability,
		Severity:    severity,
		Confidence:  confidence,
		IsLeak:      probability >= 50,
	}
}

// ShouldAlert applies the hysteresis policy of spec.md §4.4 and reports
// whether result should become an Alert for location. Rule-triggered
// results bypass hysteresis entirely; ML-only anomalies require
// hysteresisConsecutive consecutive hits before alerting.
func (d *Decider) ShouldAlert(location string, result domain.DetectionResult) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if result.Rule.Triggered {
		d.mlConsecutive[location] = 0
		return true
	}

	mlAnomalous := result.ML != nil && result.ML.IsAnomaly
	if !mlAnomalous {
		d.mlConsecutive[location] = 0
		return false
	}

	d.mlConsecutive[location]++
	return d.mlConsecutive[location] >= d.hysteresisConsecutive && result.IsLeak
}

// MLConsecutive returns the current ML-only consecutive-hit count for
// location, for observability and tests.
func (d *Decider) MLConsecutive(location string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mlConsecutive[location]
}

// Reset clears the hysteresis counter for location.
func (d *Decider) Reset(location string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.mlConsecutive, location)
}
