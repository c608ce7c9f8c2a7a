// Package domain defines the shared in-memory types that flow through the
// PipeWatch detection pipeline: raw sensor input, derived features, detector
// verdicts, fused results, alerts, and audit events. These are the canonical
// representations used by every internal package — separate from any wire
// format an external gateway might choose to expose them as.
package domain
