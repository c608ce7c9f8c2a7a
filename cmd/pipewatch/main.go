// Command pipewatch runs the leak-detection pipeline: it loads
// configuration, wires C1-C9, serves a Prometheus metrics endpoint, and
// runs until terminated. RawSample ingestion is not exposed over HTTP/gRPC
// in this module (out of scope per spec.md's Non-goals) — embedders call
// (*pipeline.Orchestrator).Submit directly from whatever transport they
// attach (a message broker consumer, a gRPC receiver, a test harness).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pipewatch/pipewatch/internal/actuator"
	"github.com/pipewatch/pipewatch/internal/alertmgr"
	"github.com/pipewatch/pipewatch/internal/anomaly"
	"github.com/pipewatch/pipewatch/internal/audit"
	"github.com/pipewatch/pipewatch/internal/clock"
	"github.com/pipewatch/pipewatch/internal/config"
	"github.com/pipewatch/pipewatch/internal/fanout"
	"github.com/pipewatch/pipewatch/internal/features"
	"github.com/pipewatch/pipewatch/internal/fusion"
	"github.com/pipewatch/pipewatch/internal/notify"
	"github.com/pipewatch/pipewatch/internal/pipeline"
	"github.com/pipewatch/pipewatch/internal/telemetry"
)

const metricsAddr = ":9090"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	slog.Info("pipewatch starting")

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	slog.Info("config loaded",
		"ma_window_sec", cfg.MAWindowSec,
		"if_num_trees", cfg.IFNumTrees,
		"hysteresis_consecutive", cfg.HysteresisConsecutive,
		"alert_threshold", cfg.AlertThreshold,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// internal/features and internal/rules both read their window/threshold
	// tunables from cfg at construction time below. A file change is only
	// logged here, not applied: propagating it would mean tearing down and
	// rebuilding every per-location rules.Engine and the shared Preprocessor
	// mid-stream, which this process does not yet do.
	if cfg.ConfigFile != "" {
		go func() {
			if err := config.Watch(ctx, cfg.ConfigFile, func(updated *config.Config) {
				slog.Info("config file changed", "alert_threshold", updated.AlertThreshold)
			}); err != nil {
				slog.Error("config watcher stopped", "err", err)
			}
		}()
	}

	metrics := telemetry.New()
	tp := telemetry.NewTracerProvider()
	tracer := telemetry.Tracer(tp, "pipewatch")
	sysClock := clock.Real{}

	auditLog := audit.New(sysClock, metrics)
	fanoutHub := fanout.New(cfg.FanoutQueueCap, metrics)
	preproc := features.New(sysClock, metrics, cfg)

	// Training the forest from historical leak/no-leak samples is an
	// offline concern outside this module; the process serves whatever
	// model an embedder loads into the Forest (or runs rules-only until
	// one is) rather than training on startup.
	forest := anomaly.New(cfg.IFNumTrees, cfg.IFSubsample)

	decider := fusion.New(cfg.HysteresisConsecutive)

	valve := actuator.NewBreaking(actuator.NewInMemory(), cfg.NotifyTimeout())

	notifiers := map[string]notify.Notifier{
		"inApp": notify.NewBreaking(notify.InApp{}, cfg.NotifyTimeout()),
		"email": notify.NewBreaking(notify.Email{From: "alerts@pipewatch.local"}, cfg.NotifyTimeout()),
		"sms":   notify.NewBreaking(notify.SMS{}, cfg.NotifyTimeout()),
	}
	if webhookURL := os.Getenv("PIPEWATCH_SLACK_WEBHOOK_URL"); webhookURL != "" {
		notifiers["slack"] = notify.NewBreaking(notify.Slack{WebhookURL: webhookURL}, cfg.NotifyTimeout())
	}
	recipients := map[string]string{
		"inApp": "ops-console",
		"email": envOrDefault("PIPEWATCH_ONCALL_EMAIL", "oncall@pipewatch.local"),
		"sms":   envOrDefault("PIPEWATCH_ONCALL_PHONE", ""),
		"slack": envOrDefault("PIPEWATCH_SLACK_CHANNEL", "#pipewatch-alerts"),
	}

	alerts := alertmgr.New(alertmgr.Config{
		Clock:      sysClock,
		Audit:      auditLog,
		Fanout:     fanoutHub,
		Actuator:   valve,
		Notifiers:  notifiers,
		Recipients: recipients,
		Metrics:    metrics,
	})

	orchestrator := pipeline.New(pipeline.Config{
		Clock:   sysClock,
		Cfg:     cfg,
		Preproc: preproc,
		Forest:  forest,
		Decider: decider,
		Alerts:  alerts,
		Audit:   auditLog,
		Fanout:  fanoutHub,
		Metrics: metrics,
		Tracer:  tracer,
	})

	httpMux := http.NewServeMux()
	httpMux.Handle("/metrics", metrics.Handler())
	httpMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	httpSrv := &http.Server{Addr: metricsAddr, Handler: httpMux}
	go func() {
		slog.Info("metrics server listening", "addr", metricsAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server stopped", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("pipewatch shutting down")
	orchestrator.Shutdown(cfg.ShutdownGrace())
	httpSrv.Shutdown(context.Background()) //nolint:errcheck
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
