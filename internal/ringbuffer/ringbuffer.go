// Package ringbuffer implements C1: a bounded, time-indexed history of past
// samples per signal. Capacity covers the longest rule window (300 s, per
// spec.md §4.2's MINOR_LEAK rule) plus a safety margin, and old entries are
// evicted lazily on insert — the same slice-truncation eviction
// agent/internal/compute/engine.go uses for its uptimeWindow, generalized
// from a fixed-size bool ring to a time-bounded numeric one.
package ringbuffer

import (
	"math"
	"time"
)

// Sample is one timestamped reading retained in a Buffer.
type Sample struct {
	Timestamp time.Time
	Value     float64
}

// Buffer is a time-ordered history of samples for a single signal,
// retaining only entries within Retention of the most recently added
// timestamp. Not safe for concurrent use; callers serialize access per
// location (spec.md §5: "a single worker owns each partition").
type Buffer struct {
	Retention time.Duration
	samples   []Sample
}

// New returns a Buffer retaining samples within retention of the newest one.
func New(retention time.Duration) *Buffer {
	return &Buffer{Retention: retention}
}

// Add appends s and evicts anything older than Retention relative to s's
// timestamp. Samples must be added in non-decreasing timestamp order.
func (b *Buffer) Add(s Sample) {
	b.samples = append(b.samples, s)
	cutoff := s.Timestamp.Add(-b.Retention)
	i := 0
	for i < len(b.samples) && b.samples[i].Timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		b.samples = append([]Sample(nil), b.samples[i:]...)
	}
}

// Since returns all retained samples with Timestamp >= cutoff, oldest first.
func (b *Buffer) Since(cutoff time.Time) []Sample {
	out := make([]Sample, 0, len(b.samples))
	for _, s := range b.samples {
		if !s.Timestamp.Before(cutoff) {
			out = append(out, s)
		}
	}
	return out
}

// Len returns the number of currently retained samples.
func (b *Buffer) Len() int { return len(b.samples) }

// Newest returns the most recently added sample and true, or the zero value
// and false if the buffer is empty.
func (b *Buffer) Newest() (Sample, bool) {
	if len(b.samples) == 0 {
		return Sample{}, false
	}
	return b.samples[len(b.samples)-1], true
}

// Oldest returns the oldest retained sample and true, or the zero value and
// false if the buffer is empty.
func (b *Buffer) Oldest() (Sample, bool) {
	if len(b.samples) == 0 {
		return Sample{}, false
	}
	return b.samples[0], true
}

// Mean returns the arithmetic mean of all retained samples, or 0 if empty.
func (b *Buffer) Mean() float64 {
	if len(b.samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range b.samples {
		sum += s.Value
	}
	return sum / float64(len(b.samples))
}

// PopulationStdDev returns the population standard deviation of all
// retained samples, or 0 if empty.
func (b *Buffer) PopulationStdDev() float64 {
	n := len(b.samples)
	if n == 0 {
		return 0
	}
	mean := b.Mean()
	var sumSq float64
	for _, s := range b.samples {
		d := s.Value - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(n))
}
