package ringbuffer

import (
	"math"
	"testing"
	"time"
)

func TestAddEvictsOlderThanRetention(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := New(60 * time.Second)

	b.Add(Sample{Timestamp: base, Value: 1})
	b.Add(Sample{Timestamp: base.Add(30 * time.Second), Value: 2})
	b.Add(Sample{Timestamp: base.Add(61 * time.Second), Value: 3})

	if got := b.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2", got)
	}
	oldest, ok := b.Oldest()
	if !ok || oldest.Value != 2 {
		t.Errorf("Oldest() = %+v, want Value=2", oldest)
	}
}

func TestSinceFiltersByCutoff(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := New(5 * time.Minute)
	for i := 0; i < 5; i++ {
		b.Add(Sample{Timestamp: base.Add(time.Duration(i) * 10 * time.Second), Value: float64(i)})
	}
	got := b.Since(base.Add(25 * time.Second))
	if len(got) != 2 {
		t.Fatalf("Since() returned %d samples, want 2", len(got))
	}
	if got[0].Value != 3 || got[1].Value != 4 {
		t.Errorf("Since() = %+v, want values [3 4]", got)
	}
}

func TestMeanAndStdDev(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := New(time.Minute)
	for _, v := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
		b.Add(Sample{Timestamp: base, Value: v})
	}
	if mean := b.Mean(); math.Abs(mean-5.0) > 1e-9 {
		t.Errorf("Mean() = %v, want 5.0", mean)
	}
	if sd := b.PopulationStdDev(); math.Abs(sd-2.0) > 1e-9 {
		t.Errorf("PopulationStdDev() = %v, want 2.0", sd)
	}
}

func TestEmptyBuffer(t *testing.T) {
	b := New(time.Minute)
	if b.Len() != 0 {
		t.Errorf("Len() = %d, want 0", b.Len())
	}
	if _, ok := b.Newest(); ok {
		t.Error("Newest() on empty buffer ok = true, want false")
	}
	if _, ok := b.Oldest(); ok {
		t.Error("Oldest() on empty buffer ok = true, want false")
	}
	if b.Mean() != 0 {
		t.Errorf("Mean() on empty buffer = %v, want 0", b.Mean())
	}
	if b.PopulationStdDev() != 0 {
		t.Errorf("PopulationStdDev() on empty buffer = %v, want 0", b.PopulationStdDev())
	}
}

func TestNewestReturnsLastAdded(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := New(time.Minute)
	b.Add(Sample{Timestamp: base, Value: 1})
	b.Add(Sample{Timestamp: base.Add(time.Second), Value: 2})
	newest, ok := b.Newest()
	if !ok || newest.Value != 2 {
		t.Errorf("Newest() = %+v, want Value=2", newest)
	}
}
