package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/pipewatch/pipewatch/internal/alertmgr"
	"github.com/pipewatch/pipewatch/internal/audit"
	"github.com/pipewatch/pipewatch/internal/clock"
	"github.com/pipewatch/pipewatch/internal/config"
	"github.com/pipewatch/pipewatch/internal/domain"
	"github.com/pipewatch/pipewatch/internal/fanout"
	"github.com/pipewatch/pipewatch/internal/features"
	"github.com/pipewatch/pipewatch/internal/fusion"
)

var base = time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)

func sample(location string, ts time.Time, pressure, flow float64) domain.RawSample {
	return domain.RawSample{
		ID:        "s1",
		Timestamp: ts,
		Pressure:  pressure,
		Flow:      flow,
		Location:  location,
	}
}

func newTestOrchestrator(vc *clock.Virtual) (*Orchestrator, *audit.Log, *fanout.Hub, *alertmgr.Manager) {
	a := audit.New(vc, nil)
	h := fanout.New(16, nil)
	mgr := alertmgr.New(alertmgr.Config{Clock: vc, Audit: a, Fanout: h})
	cfg := &config.Config{AlertThreshold: 50}
	o := New(Config{
		Clock:   vc,
		Cfg:     cfg,
		Preproc: features.New(vc, nil, cfg),
		Decider: fusion.New(3),
		Alerts:  mgr,
		Audit:   a,
		Fanout:  h,
	})
	return o, a, h, mgr
}

func TestSubmitPublishesSensorUpdateAndDetectionResult(t *testing.T) {
	vc := clock.NewVirtual(base)
	o, _, h, _ := newTestOrchestrator(vc)
	sub := h.Subscribe(fanout.TopicSensorUpdate, fanout.TopicDetectionResult)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.Submit(ctx, sample("loc-1", base, 60, 10))

	gotSensor, gotDetection := false, false
	for i := 0; i < 2; i++ {
		select {
		case msg := <-sub.Messages():
			switch msg.Topic {
			case fanout.TopicSensorUpdate:
				gotSensor = true
			case fanout.TopicDetectionResult:
				gotDetection = true
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for published messages")
		}
	}
	if !gotSensor || !gotDetection {
		t.Errorf("gotSensor=%v gotDetection=%v, want both true", gotSensor, gotDetection)
	}
}

func TestRejectedSampleStillDoesNotCrashWorker(t *testing.T) {
	vc := clock.NewVirtual(base)
	o, _, h, _ := newTestOrchestrator(vc)
	sub := h.Subscribe(fanout.TopicDetectionResult)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.Submit(ctx, sample("loc-1", base, 500, 10)) // out of range pressure, rejected

	select {
	case <-sub.Messages():
		t.Fatal("rejected sample should not produce a detection.result")
	case <-time.After(200 * time.Millisecond):
	}

	// a valid follow-up sample on the same worker should still process fine.
	o.Submit(ctx, sample("loc-1", base.Add(time.Second), 60, 10))
	select {
	case msg := <-sub.Messages():
		if msg.Topic != fanout.TopicDetectionResult {
			t.Errorf("Topic = %v, want detection.result", msg.Topic)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for detection.result after recovery")
	}
}

func TestCriticalDropCreatesAlert(t *testing.T) {
	vc := clock.NewVirtual(base)
	o, _, _, mgr := newTestOrchestrator(vc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	o.Submit(ctx, sample("loc-1", base, 80, 10))
	time.Sleep(50 * time.Millisecond)
	vc.Advance(10 * time.Second)
	o.Submit(ctx, sample("loc-1", base.Add(10*time.Second), 60, 10)) // 25% drop > 15% critical threshold
	time.Sleep(50 * time.Millisecond)

	active := domain.AlertActive
	alerts := mgr.Query(alertmgr.Filter{Status: &active})
	if len(alerts) == 0 {
		t.Fatal("expected a critical-drop alert to have been created")
	}
}

func TestDifferentLocationsGetIndependentWorkers(t *testing.T) {
	vc := clock.NewVirtual(base)
	o, _, h, _ := newTestOrchestrator(vc)
	sub := h.Subscribe(fanout.TopicDetectionResult)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.Submit(ctx, sample("loc-1", base, 60, 10))
	o.Submit(ctx, sample("loc-2", base, 62, 11))

	locations := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case msg := <-sub.Messages():
			result, ok := msg.Payload.(domain.DetectionResult)
			if !ok {
				t.Fatalf("unexpected payload type %T", msg.Payload)
			}
			locations[result.Sample.Location] = true
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for detection results")
		}
	}
	if !locations["loc-1"] || !locations["loc-2"] {
		t.Errorf("locations = %v, want both loc-1 and loc-2", locations)
	}
}

func TestShutdownRespectsGracePeriod(t *testing.T) {
	vc := clock.NewVirtual(base)
	o, _, _, _ := newTestOrchestrator(vc)

	ctx, cancel := context.WithCancel(context.Background())
	o.Submit(ctx, sample("loc-1", base, 60, 10))
	cancel()
	o.Shutdown(time.Second)
}
