package actuator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pipewatch/pipewatch/internal/domain"
)

func TestInMemoryDefaultsToUnknown(t *testing.T) {
	a := NewInMemory()
	if got := a.State("loc1"); got != domain.ValveUnknown {
		t.Errorf("State() = %v, want UNKNOWN", got)
	}
}

func TestInMemoryCloseThenOpen(t *testing.T) {
	a := NewInMemory()
	ctx := context.Background()
	if err := a.Close(ctx, "loc1"); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := a.State("loc1"); got != domain.ValveClosed {
		t.Errorf("State() = %v, want CLOSED", got)
	}
	if err := a.Open(ctx, "loc1"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got := a.State("loc1"); got != domain.ValveOpen {
		t.Errorf("State() = %v, want OPEN", got)
	}
}

type failingActuator struct{ err error }

func (f *failingActuator) Close(ctx context.Context, location string) error { return f.err }
func (f *failingActuator) Open(ctx context.Context, location string) error  { return f.err }
func (f *failingActuator) State(location string) domain.ValveState          { return domain.ValveUnknown }

func TestBreakingPropagatesUnderlyingError(t *testing.T) {
	inner := &failingActuator{err: errors.New("hardware fault")}
	b := NewBreaking(inner, time.Second)
	if err := b.Close(context.Background(), "loc1"); err == nil {
		t.Fatal("Close() = nil, want underlying error")
	}
}

func TestBreakingTripsAfterConsecutiveFailures(t *testing.T) {
	inner := &failingActuator{err: errors.New("hardware fault")}
	b := NewBreaking(inner, time.Second)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		b.Close(ctx, "loc1")
	}
	// The breaker should now be open and reject without calling inner.
	err := b.Close(ctx, "loc1")
	if err == nil {
		t.Fatal("expected an error once the breaker is open")
	}
}

func TestBreakingDelegatesStateDirectly(t *testing.T) {
	inner := NewInMemory()
	inner.Close(context.Background(), "loc1")
	b := NewBreaking(inner, time.Second)
	if got := b.State("loc1"); got != domain.ValveClosed {
		t.Errorf("State() = %v, want CLOSED", got)
	}
}
