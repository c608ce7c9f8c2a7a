// Package alertmgr implements C6: the alert lifecycle, valve-closure
// coordination, notification fan-out, and audit trail for detections that
// cross the alert threshold. The mutex-guarded active-alert map and
// copy-under-lock snapshot pattern follow
// server/internal/alerts/engine.go's Engine/Active() directly, generalized
// from fire/resolve to the full ACTIVE -> ACKNOWLEDGED -> RESOLVED state
// machine of spec.md §4.5.
package alertmgr

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pipewatch/pipewatch/internal/actuator"
	"github.com/pipewatch/pipewatch/internal/audit"
	"github.com/pipewatch/pipewatch/internal/clock"
	"github.com/pipewatch/pipewatch/internal/domain"
	"github.com/pipewatch/pipewatch/internal/errs"
	"github.com/pipewatch/pipewatch/internal/fanout"
	"github.com/pipewatch/pipewatch/internal/notify"
	"github.com/pipewatch/pipewatch/internal/telemetry"
)

// Manager owns the alert lifecycle.
type Manager struct {
	clock      clock.Clock
	audit      *audit.Log
	fanout     *fanout.Hub
	actuator   actuator.ValveActuator
	notifiers  map[string]notify.Notifier
	recipients map[string]string
	metrics    *telemetry.Metrics

	counter uint64 // atomic, for alert id generation

	mu     sync.Mutex
	alerts map[string]*domain.Alert
}

// Config bundles Manager's collaborators. Notifiers and Recipients may be
// nil/empty — a Manager with no notifiers still runs the full lifecycle,
// it simply records no deliveries.
type Config struct {
	Clock      clock.Clock
	Audit      *audit.Log
	Fanout     *fanout.Hub
	Actuator   actuator.ValveActuator
	Notifiers  map[string]notify.Notifier
	Recipients map[string]string
	Metrics    *telemetry.Metrics
}

// New returns a ready-to-use Manager.
func New(cfg Config) *Manager {
	return &Manager{
		clock:      cfg.Clock,
		audit:      cfg.Audit,
		fanout:     cfg.Fanout,
		actuator:   cfg.Actuator,
		notifiers:  cfg.Notifiers,
		recipients: cfg.Recipients,
		metrics:    cfg.Metrics,
		alerts:     make(map[string]*domain.Alert),
	}
}

// Create always succeeds: it assigns an id, computes recommendedActions,
// appends ALERT_CREATED to the audit log, triggers notifications, and may
// trigger a valve closure, per spec.md §4.5.
func (m *Manager) Create(ctx context.Context, detection domain.DetectionResult) *domain.Alert {
	alert := &domain.Alert{
		ID:                 m.nextID(),
		CreatedAt:          m.clock.Now(),
		Severity:           detection.Severity,
		Probability:        detection.Probability,
		Location:           detection.Sample.Location,
		Source:             detection.ID,
		Status:             domain.AlertActive,
		RecommendedActions: recommendedActions(detection.Severity),
	}

	m.mu.Lock()
	m.alerts[alert.ID] = alert
	m.mu.Unlock()

	m.audit.Append("ALERT_CREATED", alert.ID, "system", map[string]any{
		"severity":    alert.Severity.String(),
		"probability": alert.Probability,
		"location":    alert.Location,
	})
	if m.metrics != nil {
		m.metrics.AlertsCreated.WithLabelValues(alert.Severity.String()).Inc()
	}
	if m.fanout != nil {
		m.fanout.Publish(fanout.TopicAlertNew, snapshotAlert(alert))
	}

	if alert.Severity >= domain.SeverityCritical && alert.Location != "" {
		m.closeValve(ctx, alert)
	}

	m.notify(ctx, alert)
	return snapshotAlert(alert)
}

// Acknowledge transitions alert id from ACTIVE to ACKNOWLEDGED.
func (m *Manager) Acknowledge(id, userID, note string) (*domain.Alert, error) {
	m.mu.Lock()
	alert, ok := m.alerts[id]
	if !ok {
		m.mu.Unlock()
		return nil, &errs.NotFound{ID: id}
	}
	if alert.Status == domain.AlertResolved {
		m.mu.Unlock()
		return nil, &errs.InvalidTransition{ID: id, From: string(alert.Status), To: string(domain.AlertAcknowledged)}
	}
	now := m.clock.Now()
	alert.Status = domain.AlertAcknowledged
	alert.AcknowledgedBy = userID
	alert.AcknowledgedAt = &now
	alert.AcknowledgeNote = note
	out := snapshotAlert(alert)
	m.mu.Unlock()

	m.audit.Append("ALERT_ACKNOWLEDGED", id, userID, map[string]any{"note": note})
	if m.fanout != nil {
		m.fanout.Publish(fanout.TopicAlertAcknowledged, out)
	}
	return out, nil
}

// Resolve transitions alert id to RESOLVED from either ACTIVE or
// ACKNOWLEDGED, optionally attaching feedback.
func (m *Manager) Resolve(id, userID, note string, fb *domain.Feedback) (*domain.Alert, error) {
	m.mu.Lock()
	alert, ok := m.alerts[id]
	if !ok {
		m.mu.Unlock()
		return nil, &errs.NotFound{ID: id}
	}
	if alert.Status == domain.AlertResolved {
		m.mu.Unlock()
		return nil, &errs.InvalidTransition{ID: id, From: string(alert.Status), To: string(domain.AlertResolved)}
	}
	now := m.clock.Now()
	alert.Status = domain.AlertResolved
	alert.ResolvedBy = userID
	alert.ResolvedAt = &now
	alert.ResolveNote = note
	if fb != nil {
		fb.SubmittedAt = now
		alert.Feedback = fb
	}
	out := snapshotAlert(alert)
	m.mu.Unlock()

	m.audit.Append("ALERT_RESOLVED", id, userID, map[string]any{"note": note})
	if m.fanout != nil {
		m.fanout.Publish(fanout.TopicAlertResolved, out)
	}
	return out, nil
}

// Feedback attaches feedback to alert id regardless of its current status.
// The latest call wins.
func (m *Manager) Feedback(id string, fb domain.Feedback) (*domain.Feedback, error) {
	m.mu.Lock()
	alert, ok := m.alerts[id]
	if !ok {
		m.mu.Unlock()
		return nil, &errs.NotFound{ID: id}
	}
	fb.SubmittedAt = m.clock.Now()
	alert.Feedback = &fb
	out := *alert.Feedback
	m.mu.Unlock()

	m.audit.Append("ALERT_FEEDBACK", id, "system", map[string]any{
		"isCorrectPositive": fb.IsCorrectPositive,
		"isFalsePositive":   fb.IsFalsePositive,
	})
	return &out, nil
}

// Filter selects which alerts Query returns.
type Filter struct {
	Status       *domain.AlertStatus
	Severity     *domain.Severity
	Location     string
	Acknowledged *bool
	Since        *time.Time
	Until        *time.Time
}

// snapshotAlert copies an alert out from under the manager's lock,
// including its Notifications slice, so callers can read it without racing
// future appends. Grounded on server/internal/alerts/engine.go's Active(),
// which copies each *Alert by value before returning it to callers.
func snapshotAlert(a *domain.Alert) *domain.Alert {
	out := *a
	if a.Notifications != nil {
		out.Notifications = append([]domain.Notification(nil), a.Notifications...)
	}
	if a.RecommendedActions != nil {
		out.RecommendedActions = append([]string(nil), a.RecommendedActions...)
	}
	return &out
}

// Query returns a snapshot of alerts matching filter, ordered newest first.
func (m *Manager) Query(f Filter) []*domain.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*domain.Alert, 0, len(m.alerts))
	for _, a := range m.alerts {
		if f.Status != nil && a.Status != *f.Status {
			continue
		}
		if f.Severity != nil && a.Severity != *f.Severity {
			continue
		}
		if f.Location != "" && a.Location != f.Location {
			continue
		}
		if f.Acknowledged != nil {
			acked := a.AcknowledgedAt != nil
			if acked != *f.Acknowledged {
				continue
			}
		}
		if f.Since != nil && a.CreatedAt.Before(*f.Since) {
			continue
		}
		if f.Until != nil && a.CreatedAt.After(*f.Until) {
			continue
		}
		out = append(out, snapshotAlert(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Statistics summarizes alert counts and latencies, per spec.md §4.5.
type Statistics struct {
	ByStatusLastHour   map[domain.AlertStatus]int
	BySeverityLastHour map[domain.Severity]int
	ByStatusLast24h    map[domain.AlertStatus]int
	BySeverityLast24h  map[domain.Severity]int
	ByStatusAllTime    map[domain.AlertStatus]int
	BySeverityAllTime  map[domain.Severity]int
	AcknowledgeRate    float64
	MeanAckLatency     time.Duration
	MeanResolveLatency time.Duration
	FalsePositiveCount int
}

// Statistics computes counts and latencies over the current alert set.
func (m *Manager) Statistics() Statistics {
	m.mu.Lock()
	alerts := make([]*domain.Alert, 0, len(m.alerts))
	for _, a := range m.alerts {
		alerts = append(alerts, snapshotAlert(a))
	}
	m.mu.Unlock()

	now := m.clock.Now()
	hourCutoff := now.Add(-time.Hour)
	dayCutoff := now.Add(-24 * time.Hour)

	stats := Statistics{
		ByStatusLastHour:   map[domain.AlertStatus]int{},
		BySeverityLastHour: map[domain.Severity]int{},
		ByStatusLast24h:    map[domain.AlertStatus]int{},
		BySeverityLast24h:  map[domain.Severity]int{},
		ByStatusAllTime:    map[domain.AlertStatus]int{},
		BySeverityAllTime:  map[domain.Severity]int{},
	}

	var ackCount, totalCount, falsePositives int
	var ackLatencySum, resolveLatencySum time.Duration
	var ackLatencyCount, resolveLatencyCount int

	for _, a := range alerts {
		totalCount++
		stats.ByStatusAllTime[a.Status]++
		stats.BySeverityAllTime[a.Severity]++
		if a.CreatedAt.After(hourCutoff) {
			stats.ByStatusLastHour[a.Status]++
			stats.BySeverityLastHour[a.Severity]++
		}
		if a.CreatedAt.After(dayCutoff) {
			stats.ByStatusLast24h[a.Status]++
			stats.BySeverityLast24h[a.Severity]++
		}
		if a.AcknowledgedAt != nil {
			ackCount++
			ackLatencySum += a.AcknowledgedAt.Sub(a.CreatedAt)
			ackLatencyCount++
		}
		if a.ResolvedAt != nil {
			resolveLatencySum += a.ResolvedAt.Sub(a.CreatedAt)
			resolveLatencyCount++
		}
		if a.Feedback != nil && a.Feedback.IsFalsePositive {
			falsePositives++
		}
	}

	if totalCount > 0 {
		stats.AcknowledgeRate = float64(ackCount) / float64(totalCount)
	}
	if ackLatencyCount > 0 {
		stats.MeanAckLatency = ackLatencySum / time.Duration(ackLatencyCount)
	}
	if resolveLatencyCount > 0 {
		stats.MeanResolveLatency = resolveLatencySum / time.Duration(resolveLatencyCount)
	}
	stats.FalsePositiveCount = falsePositives
	return stats
}

// Purge removes alerts created before olderThan from the query index. The
// audit chain is never purged, per spec.md §4.5/§4.6.
func (m *Manager) Purge(olderThan time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, a := range m.alerts {
		if a.CreatedAt.Before(olderThan) {
			delete(m.alerts, id)
			removed++
		}
	}
	return removed
}

func (m *Manager) closeValve(ctx context.Context, alert *domain.Alert) {
	if m.actuator == nil {
		return
	}
	if m.actuator.State(alert.Location) == domain.ValveClosed {
		m.audit.Append("VALVE_CLOSURE_REDUNDANT", alert.ID, "system", map[string]any{"location": alert.Location})
		return
	}
	if err := m.actuator.Close(ctx, alert.Location); err != nil {
		wrapped := &errs.ActuatorError{Location: alert.Location, Err: err}
		slog.Error("alertmgr: valve closure failed", "alert", alert.ID, "location", alert.Location, "err", wrapped)
		m.audit.Append("VALVE_CLOSURE_FAILED", alert.ID, "system", map[string]any{"location": alert.Location, "error": err.Error()})
		if m.metrics != nil {
			m.metrics.ActuatorFailures.WithLabelValues(alert.Location).Inc()
		}
		return
	}

	now := m.clock.Now()
	m.mu.Lock()
	alert.ValveClosureTriggered = true
	alert.ValveClosureAt = &now
	m.mu.Unlock()

	m.audit.Append("VALVE_CLOSURE_TRIGGERED", alert.ID, "system", map[string]any{"location": alert.Location})
	if m.fanout != nil {
		m.fanout.Publish(fanout.TopicValveChanged, map[string]any{"location": alert.Location, "state": domain.ValveClosed})
	}
}

func (m *Manager) notify(ctx context.Context, alert *domain.Alert) {
	for _, channel := range notify.ChannelsForSeverity(alert.Severity) {
		notifier, ok := m.notifiers[channel]
		if !ok {
			continue
		}
		recipient := m.recipients[channel]
		n := domain.Notification{
			Channel:   channel,
			SentAt:    m.clock.Now(),
			Recipient: recipient,
			Status:    "sent",
		}
		if err := notifier.Send(ctx, *alert, recipient); err != nil {
			n.Status = "failed"
			n.Error = err.Error()
			slog.Warn("alertmgr: notification delivery failed", "alert", alert.ID, "channel", channel, "err", err)
			if m.metrics != nil {
				m.metrics.NotifyFailures.WithLabelValues(channel).Inc()
			}
		}

		m.mu.Lock()
		alert.Notifications = append(alert.Notifications, n)
		m.mu.Unlock()

		m.audit.Append("NOTIFICATION_SENT", alert.ID, "system", map[string]any{
			"channel": channel,
			"status":  n.Status,
		})
	}
}

// nextID generates an alert id of the form ALERT-<monotonic counter>-<9
// char token>, per spec.md §4.5. The counter is monotonic within this
// process's lifetime; it does not survive a restart and carries no
// guarantee versus wall-clock ordering beyond what CreatedAt already
// records.
func (m *Manager) nextID() string {
	n := atomic.AddUint64(&m.counter, 1)
	return fmt.Sprintf("ALERT-%d-%s", n, randomToken(9))
}

const tokenAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func randomToken(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand.Read failing means the system RNG is broken; fall
		// back to a fixed-but-unique-enough token rather than panicking.
		for i := range buf {
			buf[i] = tokenAlphabet[i%len(tokenAlphabet)]
		}
		return string(buf)
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = tokenAlphabet[int(b)%len(tokenAlphabet)]
	}
	return string(out)
}

// recommendedActions generates severity-scaled operator guidance, in the
// narrative style of server/internal/api/diagnostics.go's
// computeDiagnostics.
func recommendedActions(sev domain.Severity) []string {
	switch sev {
	case domain.SeverityCritical:
		return []string{
			"Dispatch a technician to the affected location immediately.",
			"Confirm the automatic valve closure took effect; close manually if not.",
			"Notify downstream customers of a possible service interruption.",
		}
	case domain.SeverityHigh:
		return []string{
			"Schedule an inspection of the affected location within the hour.",
			"Monitor pressure and flow trends closely until resolved.",
		}
	case domain.SeverityMedium:
		return []string{
			"Review recent sensor history for the affected location.",
			"Schedule a routine inspection if the condition persists.",
		}
	default:
		return []string{
			"No immediate action required; continue monitoring.",
		}
	}
}
