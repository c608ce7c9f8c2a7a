// Package pipeline implements C9, the orchestrator: it wires C2 (features)
// through C3+C4 (rules, anomaly) into C5 (fusion) into C6 (alerts),
// publishing every stage's output via C8. Workers are partitioned by
// location — "default 1 per location" per spec.md §5 — following
// shipper.go's buffered-channel-plus-drop-oldest shape for the inbound
// queue and its context-cancellation drain loop for shutdown.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pipewatch/pipewatch/internal/alertmgr"
	"github.com/pipewatch/pipewatch/internal/anomaly"
	"github.com/pipewatch/pipewatch/internal/audit"
	"github.com/pipewatch/pipewatch/internal/clock"
	"github.com/pipewatch/pipewatch/internal/config"
	"github.com/pipewatch/pipewatch/internal/domain"
	"github.com/pipewatch/pipewatch/internal/errs"
	"github.com/pipewatch/pipewatch/internal/fanout"
	"github.com/pipewatch/pipewatch/internal/features"
	"github.com/pipewatch/pipewatch/internal/fusion"
	"github.com/pipewatch/pipewatch/internal/rules"
	"github.com/pipewatch/pipewatch/internal/telemetry"
)

// ingestQueueCap bounds each per-location worker's inbound buffer; once
// full, Submit drops the oldest pending sample the same way shipper.Ship
// evicts the oldest snapshot.
const ingestQueueCap = 256

// Config bundles the orchestrator's shared singleton collaborators — C3's
// rules.Engine is the one exception, instantiated per location inside each
// worker, since its history and baseline are inherently per-location state.
type Config struct {
	Clock    clock.Clock
	Cfg      *config.Config
	Preproc  *features.Preprocessor
	Forest   *anomaly.Forest
	Decider  *fusion.Decider
	Alerts   *alertmgr.Manager
	Audit    *audit.Log
	Fanout   *fanout.Hub
	Metrics  *telemetry.Metrics
	Tracer   trace.Tracer
}

// Orchestrator routes ingested samples through C2->C3+C4->C5->C6, one
// worker goroutine per location.
type Orchestrator struct {
	clock   clock.Clock
	cfg     *config.Config
	preproc *features.Preprocessor
	forest  *anomaly.Forest
	decider *fusion.Decider
	alerts  *alertmgr.Manager
	audit   *audit.Log
	fanout  *fanout.Hub
	metrics *telemetry.Metrics
	tracer  trace.Tracer

	mu      sync.Mutex
	workers map[string]*worker
	wg      sync.WaitGroup
}

type worker struct {
	location string
	rules    *rules.Engine
	queue    chan domain.RawSample
}

// New returns a ready-to-use Orchestrator. A nil Tracer falls back to
// OpenTelemetry's global no-op tracer via telemetry.Tracer.
func New(c Config) *Orchestrator {
	tracer := c.Tracer
	if tracer == nil {
		tracer = telemetry.Tracer(nil, "pipewatch/pipeline")
	}
	return &Orchestrator{
		clock:   c.Clock,
		cfg:     c.Cfg,
		preproc: c.Preproc,
		forest:  c.Forest,
		decider: c.Decider,
		alerts:  c.Alerts,
		audit:   c.Audit,
		fanout:  c.Fanout,
		metrics: c.Metrics,
		tracer:  tracer,
		workers: make(map[string]*worker),
	}
}

// Submit enqueues sample for processing on its location's worker, starting
// that worker on first use. Enqueuing is non-blocking: a full queue evicts
// its oldest pending sample, matching spec.md §4.7's drop-oldest policy.
func (o *Orchestrator) Submit(ctx context.Context, sample domain.RawSample) {
	w := o.workerFor(ctx, sample.Location)
	select {
	case w.queue <- sample:
		return
	default:
	}
	select {
	case <-w.queue:
		slog.Warn("pipeline: ingest queue full, dropped oldest sample", "location", sample.Location)
	default:
	}
	select {
	case w.queue <- sample:
	default:
		slog.Warn("pipeline: ingest queue still full after eviction, dropping sample", "location", sample.Location)
	}
}

// workerFor returns the worker for location, starting its goroutine the
// first time location is seen.
func (o *Orchestrator) workerFor(ctx context.Context, location string) *worker {
	o.mu.Lock()
	defer o.mu.Unlock()

	if w, ok := o.workers[location]; ok {
		return w
	}
	w := &worker{
		location: location,
		rules:    rules.NewEngine(o.cfg),
		queue:    make(chan domain.RawSample, ingestQueueCap),
	}
	o.workers[location] = w
	o.wg.Add(1)
	go o.runWorker(ctx, w)
	return w
}

// runWorker drains w's queue until ctx is cancelled.
func (o *Orchestrator) runWorker(ctx context.Context, w *worker) {
	defer o.wg.Done()
	for {
		select {
		case sample := <-w.queue:
			o.processSample(ctx, w, sample)
		case <-ctx.Done():
			return
		}
	}
}

// Wait blocks until every worker goroutine has returned, for use after ctx
// has been cancelled and the configured shutdown grace period has elapsed.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Shutdown cancels delivery of new work is the caller's responsibility
// (via ctx); Shutdown drains each worker's already-queued samples for up
// to grace before giving up, per spec.md §6's shutdown-grace-ms.
func (o *Orchestrator) Shutdown(grace time.Duration) {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		slog.Warn("pipeline: shutdown grace period elapsed with workers still draining")
	}
}

// processSample runs sample through C2->C3+C4->C5->C6, publishing
// intermediate and final results via C8.
func (o *Orchestrator) processSample(ctx context.Context, w *worker, sample domain.RawSample) {
	ctx, span := o.tracer.Start(ctx, "pipeline.process_sample",
		trace.WithAttributes(attribute.String("location", sample.Location)))
	defer span.End()

	if o.fanout != nil {
		o.fanout.Publish(fanout.TopicSensorUpdate, sample)
	}

	fv, err := o.preproc.Process(sample)
	if err != nil {
		reason := "unknown"
		var ve *errs.ValidationError
		if errors.As(err, &ve) {
			reason = ve.Reason
		}
		span.SetStatus(codes.Error, "validation failed")
		span.SetAttributes(attribute.String("reject.reason", reason))
		return
	}

	rule := w.rules.Evaluate(fv)
	for _, name := range rule.FiredRules {
		if o.metrics != nil {
			o.metrics.RuleFires.WithLabelValues(name).Inc()
		}
	}

	var mlScore *domain.AnomalyScore
	if o.forest != nil && o.forest.Ready() {
		start := time.Now()
		score, err := o.forest.Predict(anomaly.Extract(fv))
		if o.metrics != nil {
			o.metrics.ModelScoreLatency.Observe(time.Since(start).Seconds())
		}
		if err != nil {
			if o.metrics != nil {
				o.metrics.ModelNotReady.Inc()
			}
		} else {
			mlScore = &score
		}
	} else if o.metrics != nil {
		o.metrics.ModelNotReady.Inc()
	}

	result := o.decider.Decide(fv, rule, mlScore)
	result.ID = fmt.Sprintf("det-%s-%d", sample.Location, sample.Timestamp.UnixNano())
	result.Timestamp = o.clock.Now()

	span.SetAttributes(
		attribute.Float64("detection.probability", result.Probability),
		attribute.String("detection.severity", result.Severity.String()),
		attribute.Bool("detection.is_leak", result.IsLeak),
	)

	if o.fanout != nil {
		o.fanout.Publish(fanout.TopicDetectionResult, result)
	}

	if o.audit != nil {
		o.audit.Append("DETECTION_RESULT", result.ID, "system", map[string]any{
			"location":    sample.Location,
			"probability": result.Probability,
			"severity":    result.Severity.String(),
		})
	}

	threshold := 50.0
	if o.cfg != nil {
		threshold = o.cfg.AlertThreshold
	}
	if result.Probability < threshold {
		return
	}
	if !o.decider.ShouldAlert(sample.Location, result) {
		return
	}
	if o.alerts != nil {
		o.alerts.Create(ctx, result)
	}
}
