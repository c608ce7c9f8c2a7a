// Package actuator defines the ValveActuator capability (spec.md §6) and an
// in-memory default implementation. The mutex-guarded map-of-state shape
// follows server/internal/store/store.go, generalized from TTL-evicted
// snapshots to per-location valve state that never expires, and every call
// is wrapped in a sony/gobreaker circuit breaker the way
// jordigilh-kubernaut's integration suite wires gobreaker around its
// notification boundary.
package actuator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/pipewatch/pipewatch/internal/domain"
)

// ValveActuator closes, opens, and reports the state of a location's valve.
// Implementations are expected to be idempotent: closing an already-closed
// valve must not re-trigger external side effects.
type ValveActuator interface {
	Close(ctx context.Context, location string) error
	Open(ctx context.Context, location string) error
	State(location string) domain.ValveState
}

// InMemory is the default ValveActuator: it tracks state in a map and
// treats Close/Open as always succeeding, matching spec.md's
// "implementations must document ordering vs wall clock" guidance by
// recording nothing beyond current state — real deployments swap this for
// an adaptor that talks to field hardware.
type InMemory struct {
	mu    sync.RWMutex
	state map[string]domain.ValveState
}

// NewInMemory returns a ready-to-use InMemory actuator with every location
// defaulting to UNKNOWN until first observed or closed.
func NewInMemory() *InMemory {
	return &InMemory{state: make(map[string]domain.ValveState)}
}

func (a *InMemory) Close(ctx context.Context, location string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state[location] = domain.ValveClosed
	return nil
}

func (a *InMemory) Open(ctx context.Context, location string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state[location] = domain.ValveOpen
	return nil
}

func (a *InMemory) State(location string) domain.ValveState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if s, ok := a.state[location]; ok {
		return s
	}
	return domain.ValveUnknown
}

// Breaking wraps a ValveActuator with a per-call timeout and a
// sony/gobreaker circuit breaker, so a hardware adaptor that starts
// failing repeatedly stops being hammered.
type Breaking struct {
	inner   ValveActuator
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
}

// NewBreaking wraps inner with a circuit breaker named after the
// actuator boundary, tripping after 5 consecutive failures and probing
// again after 30 seconds.
func NewBreaking(inner ValveActuator, timeout time.Duration) *Breaking {
	return &Breaking{
		inner:   inner,
		timeout: timeout,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "valve-actuator",
			MaxRequests: 1,
			Interval:    0,
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

func (b *Breaking) Close(ctx context.Context, location string) error {
	_, err := b.breaker.Execute(func() (any, error) {
		ctx, cancel := context.WithTimeout(ctx, b.timeout)
		defer cancel()
		return nil, b.inner.Close(ctx, location)
	})
	return err
}

func (b *Breaking) Open(ctx context.Context, location string) error {
	_, err := b.breaker.Execute(func() (any, error) {
		ctx, cancel := context.WithTimeout(ctx, b.timeout)
		defer cancel()
		return nil, b.inner.Open(ctx, location)
	})
	return err
}

func (b *Breaking) State(location string) domain.ValveState {
	return b.inner.State(location)
}
