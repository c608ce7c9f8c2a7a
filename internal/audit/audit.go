// Package audit implements C7: an append-only, hash-chained event log.
// The mutex-guarded slice-append shape follows
// server/internal/store/store.go's Store, generalized from a
// TTL-evicted snapshot map to a chain that is never evicted — every event
// ever appended stays, in order, for the lifetime of the process.
package audit

import (
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/pipewatch/pipewatch/internal/clock"
	"github.com/pipewatch/pipewatch/internal/domain"
	"github.com/pipewatch/pipewatch/internal/errs"
	"github.com/pipewatch/pipewatch/internal/telemetry"
)

// Log is a thread-safe, append-only hash-chained audit log.
type Log struct {
	clock   clock.Clock
	metrics *telemetry.Metrics

	mu     sync.Mutex
	events []domain.AuditEvent
}

// New returns an empty Log.
func New(c clock.Clock, m *telemetry.Metrics) *Log {
	return &Log{clock: c, metrics: m}
}

// Append records a new event, computing its seq, timestamp, and hash from
// the chain's current tail. kind is a short machine-stable event name
// (e.g. "ALERT_CREATED"); subjectID is the related alert id or "-".
func (l *Log) Append(kind, subjectID, actor string, payload map[string]any) domain.AuditEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	var prevHash string
	seq := uint64(1)
	if n := len(l.events); n > 0 {
		prevHash = l.events[n-1].Hash
		seq = l.events[n-1].Seq + 1
	}

	ev := domain.AuditEvent{
		Seq:       seq,
		Timestamp: l.clock.Now(),
		Kind:      kind,
		SubjectID: subjectID,
		Actor:     actor,
		Payload:   payload,
		PrevHash:  prevHash,
	}
	ev.Hash = computeHash(ev)

	l.events = append(l.events, ev)
	if l.metrics != nil {
		l.metrics.AuditAppends.Inc()
	}
	return ev
}

// Events returns a copy of the full chain in append order.
func (l *Log) Events() []domain.AuditEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.AuditEvent, len(l.events))
	copy(out, l.events)
	return out
}

// Reset discards the chain and starts a new one from seq 1 with an empty
// prevHash. Resetting is itself an event in the outer system, not in this
// chain, per spec.md §4.6.
func (l *Log) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = nil
}

// Verify walks the chain and returns the first inconsistency found, or nil
// if the chain is fully consistent. It never mutates the chain.
func (l *Log) Verify() *errs.IntegrityError {
	l.mu.Lock()
	defer l.mu.Unlock()

	var prevHash string
	for i, ev := range l.events {
		wantSeq := uint64(i + 1)
		if ev.Seq != wantSeq {
			return &errs.IntegrityError{Seq: ev.Seq, Reason: fmt.Sprintf("expected seq %d, got %d", wantSeq, ev.Seq)}
		}
		if ev.PrevHash != prevHash {
			return &errs.IntegrityError{Seq: ev.Seq, Reason: fmt.Sprintf("prevHash mismatch: expected %q, got %q", prevHash, ev.PrevHash)}
		}
		if want := computeHash(ev); want != ev.Hash {
			return &errs.IntegrityError{Seq: ev.Seq, Reason: fmt.Sprintf("hash mismatch: expected %q, got %q", want, ev.Hash)}
		}
		prevHash = ev.Hash
	}
	return nil
}

// VerifyAndCount is identical to Verify but additionally increments the
// integrity-error counter when a break is found, for periodic health
// checks that want that side effect recorded.
func (l *Log) VerifyAndCount() *errs.IntegrityError {
	err := l.Verify()
	if err != nil && l.metrics != nil {
		l.metrics.AuditIntegrityErrs.Inc()
	}
	return err
}

// ExportJSON writes the full chain as a JSON array, in order.
func (l *Log) ExportJSON(w io.Writer) error {
	events := l.Events()
	enc := json.NewEncoder(w)
	return enc.Encode(events)
}

// ExportCSV writes the full chain as CSV with a header row.
func (l *Log) ExportCSV(w io.Writer) error {
	events := l.Events()
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"seq", "timestamp", "kind", "subjectId", "actor", "payload", "prevHash", "hash"}); err != nil {
		return err
	}
	for _, ev := range events {
		payload, err := json.Marshal(canonicalPayload(ev.Payload))
		if err != nil {
			return err
		}
		row := []string{
			strconv.FormatUint(ev.Seq, 10),
			ev.Timestamp.Format(time.RFC3339Nano),
			ev.Kind,
			ev.SubjectID,
			ev.Actor,
			string(payload),
			ev.PrevHash,
			ev.Hash,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// computeHash implements spec.md §4.6's hash formula:
// H(seq || ts || kind || subjectId || actor || canonical(payload) || prevHash).
func computeHash(ev domain.AuditEvent) string {
	payload, _ := json.Marshal(canonicalPayload(ev.Payload))
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%s|%s|%s|%s|%s",
		ev.Seq, ev.Timestamp.UTC().Format(time.RFC3339Nano), ev.Kind, ev.SubjectID, ev.Actor, payload, ev.PrevHash)
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalPayload returns payload re-keyed through a sorted-key map so its
// JSON encoding is stable regardless of map iteration order or insertion
// order of nested maps.
func canonicalPayload(payload map[string]any) map[string]any {
	if payload == nil {
		return map[string]any{}
	}
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(map[string]any, len(payload))
	for _, k := range keys {
		out[k] = payload[k]
	}
	return out
}
