// Package features implements C2, the preprocessor: validation and
// engineered-feature computation over a stream of per-location RawSamples.
// It follows the per-source state map and mutex-guarded Process() shape of
// agent/internal/compute/engine.go, generalized from counter-delta health
// scoring to pressure/flow statistics over ring-buffered windows.
package features

import (
	"math"
	"sync"
	"time"

	"github.com/pipewatch/pipewatch/internal/clock"
	"github.com/pipewatch/pipewatch/internal/config"
	"github.com/pipewatch/pipewatch/internal/domain"
	"github.com/pipewatch/pipewatch/internal/errs"
	"github.com/pipewatch/pipewatch/internal/ringbuffer"
	"github.com/pipewatch/pipewatch/internal/telemetry"
)

const (
	minPressure = 0.0
	maxPressure = 100.0
	minFlow     = 0.0
	maxFlow     = 150.0

	// Optional-field bounds. Out-of-bounds optional readings do not reject
	// the sample, they only penalize dataQualityScore (spec.md §4.1).
	minTemperature  = -20.0
	maxTemperature  = 150.0
	minConductivity = 0.0
	maxConductivity = 5000.0
)

// Preprocessor tracks per-location ring buffers and the last-accepted
// sample, and turns RawSamples into FeatureVectors.
type Preprocessor struct {
	clock   clock.Clock
	metrics *telemetry.Metrics

	movingAvgWindow time.Duration
	stdDevWindow    time.Duration
	spikeZ          float64
	ringRetention   time.Duration

	mu    sync.Mutex
	state map[string]*locationState
}

type locationState struct {
	pressure *ringbuffer.Buffer
	flow     *ringbuffer.Buffer
	prev     *domain.RawSample
}

// New returns a ready-to-use Preprocessor, windowed and z-scored from cfg's
// maWindowSec/stdWindowSec/spikeZ (spec.md §6). A nil cfg applies the
// documented defaults, the same convention internal/config.Load itself
// falls back on.
func New(c clock.Clock, m *telemetry.Metrics, cfg *config.Config) *Preprocessor {
	maWindow := time.Duration(config.DefaultMAWindowSec) * time.Second
	stdWindow := time.Duration(config.DefaultStdWindowSec) * time.Second
	z := config.DefaultSpikeZ
	if cfg != nil {
		if cfg.MAWindowSec > 0 {
			maWindow = time.Duration(cfg.MAWindowSec) * time.Second
		}
		if cfg.StdWindowSec > 0 {
			stdWindow = time.Duration(cfg.StdWindowSec) * time.Second
		}
		if cfg.SpikeZ > 0 {
			z = cfg.SpikeZ
		}
	}
	retention := maWindow
	if stdWindow > retention {
		retention = stdWindow
	}
	return &Preprocessor{
		clock:           c,
		metrics:         m,
		movingAvgWindow: maWindow,
		stdDevWindow:    stdWindow,
		spikeZ:          z,
		ringRetention:   retention,
		state:           make(map[string]*locationState),
	}
}

func (p *Preprocessor) stateFor(location string) *locationState {
	st, ok := p.state[location]
	if !ok {
		st = &locationState{
			pressure: ringbuffer.New(p.ringRetention),
			flow:     ringbuffer.New(p.ringRetention),
		}
		p.state[location] = st
	}
	return st
}

// Process validates sample and, if accepted, returns its FeatureVector.
// Rejected samples return a *errs.ValidationError and increment the
// validation-failure counter; no sample is ever silently dropped.
func (p *Preprocessor) Process(sample domain.RawSample) (domain.FeatureVector, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.stateFor(sample.Location)

	if sample.Pressure < minPressure || sample.Pressure > maxPressure {
		p.reject(sample.Location, "pressure_out_of_range")
		return domain.FeatureVector{}, &errs.ValidationError{Location: sample.Location, Reason: "pressure_out_of_range"}
	}
	if sample.Flow < minFlow || sample.Flow > maxFlow {
		p.reject(sample.Location, "flow_out_of_range")
		return domain.FeatureVector{}, &errs.ValidationError{Location: sample.Location, Reason: "flow_out_of_range"}
	}
	var otherIssues int
	if sample.Timestamp.IsZero() {
		// Substitute before the ordering check below, or every non-first
		// sample with a missing timestamp for its location would be
		// rejected as out-of-order instead of quality-penalized (spec.md
		// §4.1): the zero time.Time is always .Before() any real prior
		// timestamp.
		sample.Timestamp = p.clock.Now()
		otherIssues++
	}

	if st.prev != nil && sample.Timestamp.Before(st.prev.Timestamp) {
		p.reject(sample.Location, "timestamp_out_of_order")
		return domain.FeatureVector{}, &errs.ValidationError{Location: sample.Location, Reason: "timestamp_out_of_order"}
	}

	var outOfBoundsOptional int
	if sample.Temperature != nil && (*sample.Temperature < minTemperature || *sample.Temperature > maxTemperature) {
		outOfBoundsOptional++
	}
	if sample.Conductivity != nil && (*sample.Conductivity < minConductivity || *sample.Conductivity > maxConductivity) {
		outOfBoundsOptional++
	}

	var prevPressure, prevFlow float64
	var prevTs time.Time
	hasPrev := st.prev != nil
	if hasPrev {
		prevPressure = st.prev.Pressure
		prevFlow = st.prev.Flow
		prevTs = st.prev.Timestamp
	}

	st.pressure.Add(ringbuffer.Sample{Timestamp: sample.Timestamp, Value: sample.Pressure})
	st.flow.Add(ringbuffer.Sample{Timestamp: sample.Timestamp, Value: sample.Flow})

	fv := domain.FeatureVector{
		Sample:           sample,
		Pressure:         p.signalStats(st.pressure, sample.Timestamp, sample.Pressure, prevPressure, prevTs, hasPrev),
		Flow:             p.signalStats(st.flow, sample.Timestamp, sample.Flow, prevFlow, prevTs, hasPrev),
		Hour:             sample.Timestamp.UTC().Hour(),
		DayOfWeek:        int(sample.Timestamp.UTC().Weekday()),
		DataQualityScore: qualityScore(outOfBoundsOptional, otherIssues),
	}
	fv.IsWeekend = fv.DayOfWeek == 0 || fv.DayOfWeek == 6
	if sample.Flow >= 0.1 {
		fv.PressureFlowRatio = sample.Pressure / sample.Flow
	}

	prevCopy := sample
	st.prev = &prevCopy
	return fv, nil
}

func (p *Preprocessor) reject(location, reason string) {
	if p.metrics != nil {
		p.metrics.ValidationFailures.WithLabelValues(location, reason).Inc()
	}
}

// signalStats computes rate-of-change, the configured-window moving
// average, the configured-window standard deviation, and the spike flag for
// one signal, per spec.md §4.1.
func (p *Preprocessor) signalStats(buf *ringbuffer.Buffer, now time.Time, current, prevValue float64, prevTs time.Time, hasPrev bool) domain.SignalStats {
	var roc float64
	if hasPrev {
		dt := now.Sub(prevTs).Seconds()
		if dt > 0 {
			roc = (current - prevValue) / dt
		}
	}

	var ma30 *float64
	if window30 := buf.Since(now.Add(-p.movingAvgWindow)); len(window30) >= 3 {
		sum := 0.0
		for _, s := range window30 {
			sum += s.Value
		}
		mean := sum / float64(len(window30))
		ma30 = &mean
	}

	var sd60 *float64
	var spike bool
	if window60 := buf.Since(now.Add(-p.stdDevWindow)); len(window60) >= 3 {
		sum := 0.0
		for _, s := range window60 {
			sum += s.Value
		}
		mean := sum / float64(len(window60))
		var sumSq float64
		for _, s := range window60 {
			d := s.Value - mean
			sumSq += d * d
		}
		sigma := math.Sqrt(sumSq / float64(len(window60)))
		sd60 = &sigma
		if sigma > 0 && math.Abs(current-mean)/sigma > p.spikeZ {
			spike = true
		}
	}

	return domain.SignalStats{
		RateOfChange: roc,
		MovingAvg30s: ma30,
		StdDev60s:    sd60,
		SpikeFlag:    spike,
	}
}

// qualityScore implements spec.md §4.1's dataQualityScore formula: 1.0 minus
// 0.2 per out-of-bounds optional reading minus 0.1 per other validation
// issue, clamped to [0,1].
func qualityScore(outOfBoundsOptional, otherIssues int) float64 {
	score := 1.0 - 0.2*float64(outOfBoundsOptional) - 0.1*float64(otherIssues)
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
