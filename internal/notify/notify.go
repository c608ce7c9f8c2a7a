// Package notify defines the Notifier capability and its delivery
// adaptors (inApp, email, sms, slack), per spec.md §4.5/§6. The
// per-channel-type-switch fan-out shape follows
// server/internal/alerts/webhook.go's deliver()/sendSlack()/sendHTTP(),
// generalized from a single webhook-URL target per channel type to the
// named Notifier interface so each channel can be stubbed independently in
// tests.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/slack-go/slack"
	"github.com/sony/gobreaker"

	"github.com/pipewatch/pipewatch/internal/domain"
)

// Notifier is one pluggable delivery channel.
type Notifier interface {
	// Name is the channel name recorded on Notification.Channel.
	Name() string
	// Send attempts delivery for alert to recipient. A non-nil error is
	// captured by the caller into the alert's notification list and
	// audit log — it must never propagate further.
	Send(ctx context.Context, alert domain.Alert, recipient string) error
}

// ChannelsForSeverity returns the notifier names that should be used for a
// given severity, per spec.md §4.5's table (INFO/LOW -> inApp; MEDIUM ->
// +email; HIGH/CRITICAL -> +sms; the original EMERGENCY tier and CRITICAL
// are merged since PipeWatch's Severity enum tops out at CRITICAL, so
// CRITICAL additionally escalates to slack).
func ChannelsForSeverity(s domain.Severity) []string {
	switch s {
	case domain.SeverityCritical:
		return []string{"inApp", "email", "sms", "slack"}
	case domain.SeverityHigh:
		return []string{"inApp", "email", "sms"}
	case domain.SeverityMedium:
		return []string{"inApp", "email"}
	default:
		return []string{"inApp"}
	}
}

// InApp is a no-op-delivery notifier representing an in-application
// notification feed; the alert's own presence in queries serves as the
// delivery record, so Send only logs.
type InApp struct{}

func (InApp) Name() string { return "inApp" }
func (InApp) Send(ctx context.Context, alert domain.Alert, recipient string) error {
	slog.Debug("notify: in-app notification", "alert", alert.ID, "recipient", recipient)
	return nil
}

// Email is a stub email adaptor; no example repo in the pack ships an SMTP
// client, so this logs the send the way the teacher's webhook delivery
// logs best-effort failures, and a real deployment swaps in an SMTP or
// provider-API client behind the same Notifier interface.
type Email struct {
	From string
}

func (Email) Name() string { return "email" }
func (e Email) Send(ctx context.Context, alert domain.Alert, recipient string) error {
	slog.Info("notify: email", "alert", alert.ID, "from", e.From, "to", recipient, "severity", alert.Severity)
	return nil
}

// SMS is a stub SMS adaptor, same rationale as Email.
type SMS struct{}

func (SMS) Name() string { return "sms" }
func (SMS) Send(ctx context.Context, alert domain.Alert, recipient string) error {
	slog.Info("notify: sms", "alert", alert.ID, "to", recipient, "severity", alert.Severity)
	return nil
}

// Slack delivers via an incoming webhook using slack-go/slack's
// WebhookMessage, replacing the teacher's hand-rolled
// map[string]string{"text": ...} JSON body.
type Slack struct {
	WebhookURL string
}

func (Slack) Name() string { return "slack" }

func (s Slack) Send(ctx context.Context, alert domain.Alert, recipient string) error {
	msg := &slack.WebhookMessage{
		Text: fmt.Sprintf("[%s] leak alert at %s (probability %.0f%%)", alert.Severity, alert.Location, alert.Probability),
	}
	if err := slack.PostWebhookContext(ctx, s.WebhookURL, msg); err != nil {
		return fmt.Errorf("slack webhook: %w", err)
	}
	return nil
}

// Breaking wraps a Notifier with a per-call timeout and circuit breaker,
// grounded on the same sony/gobreaker wiring as internal/actuator.
type Breaking struct {
	inner   Notifier
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
}

// NewBreaking wraps inner with a circuit breaker keyed by its channel name.
func NewBreaking(inner Notifier, timeout time.Duration) *Breaking {
	return &Breaking{
		inner:   inner,
		timeout: timeout,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "notifier-" + inner.Name(),
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				slog.Warn("circuit breaker state change", "breaker", name, "from", from, "to", to)
			},
		}),
	}
}

func (b *Breaking) Name() string { return b.inner.Name() }

func (b *Breaking) Send(ctx context.Context, alert domain.Alert, recipient string) error {
	_, err := b.breaker.Execute(func() (any, error) {
		ctx, cancel := context.WithTimeout(ctx, b.timeout)
		defer cancel()
		return nil, b.inner.Send(ctx, alert, recipient)
	})
	return err
}
