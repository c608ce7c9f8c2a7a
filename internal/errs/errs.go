// Package errs defines the typed error kinds shared across PipeWatch's
// packages, per spec.md §7. Boundary errors (ValidationError, NotFound,
// InvalidTransition) are meant to propagate to callers; degradations
// (ModelNotReady, ChannelDeliveryError, ActuatorError) are meant to be
// logged and metered, never to abort the pipeline.
package errs

import "fmt"

// ValidationError is returned by the preprocessor when a RawSample is
// rejected. Reason is a short machine-stable tag (e.g. "pressure_out_of_range").
type ValidationError struct {
	Location string
	Reason   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for location %q: %s", e.Location, e.Reason)
}

// ModelNotReady is returned by the anomaly detector when scoring is
// attempted before training has completed.
var ErrModelNotReady = fmt.Errorf("model not ready")

// NoTrainingData is returned when training is attempted on an empty dataset.
var ErrNoTrainingData = fmt.Errorf("no training data")

// NotFound is returned by alert-lifecycle calls referencing an unknown id.
type NotFound struct {
	ID string
}

func (e *NotFound) Error() string { return fmt.Sprintf("not found: %s", e.ID) }

// InvalidTransition is returned by alert-lifecycle calls that would violate
// the ACTIVE -> ACKNOWLEDGED -> RESOLVED state machine.
type InvalidTransition struct {
	ID   string
	From string
	To   string
}

func (e *InvalidTransition) Error() string {
	return fmt.Sprintf("invalid transition for alert %s: %s -> %s", e.ID, e.From, e.To)
}

// ChannelDeliveryError wraps a notification adaptor's failure. It is
// captured into the alert's notification list rather than returned to the
// caller of a lifecycle operation.
type ChannelDeliveryError struct {
	Channel string
	Err     error
}

func (e *ChannelDeliveryError) Error() string {
	return fmt.Sprintf("channel %s delivery failed: %v", e.Channel, e.Err)
}

func (e *ChannelDeliveryError) Unwrap() error { return e.Err }

// ActuatorError wraps a valve actuator's failure. It is captured into the
// audit log; the alert still records the attempt with status "failed".
type ActuatorError struct {
	Location string
	Err      error
}

func (e *ActuatorError) Error() string {
	return fmt.Sprintf("actuator failed for location %s: %v", e.Location, e.Err)
}

func (e *ActuatorError) Unwrap() error { return e.Err }

// IntegrityError is reported by audit chain verification. It never mutates
// the chain; it only describes the first inconsistency found.
type IntegrityError struct {
	Seq    uint64
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("audit integrity error at seq %d: %s", e.Seq, e.Reason)
}
