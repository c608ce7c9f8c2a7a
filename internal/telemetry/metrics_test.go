package telemetry

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewRegistersAndServes(t *testing.T) {
	m := New()
	m.ValidationFailures.WithLabelValues("tank-1", "pressure_out_of_range").Inc()
	m.RuleFires.WithLabelValues("CRITICAL_LEAK").Inc()
	m.AlertsCreated.WithLabelValues("CRITICAL").Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "pipewatch_validation_failures_total") {
		t.Error("metrics output missing pipewatch_validation_failures_total")
	}
	if !strings.Contains(body, "pipewatch_rule_fires_total") {
		t.Error("metrics output missing pipewatch_rule_fires_total")
	}
	if !strings.Contains(body, "pipewatch_alerts_created_total") {
		t.Error("metrics output missing pipewatch_alerts_created_total")
	}
}
