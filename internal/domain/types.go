package domain

import "time"

// ValveState is the reported or actual state of a pipeline valve.
type ValveState string

const (
	ValveOpen    ValveState = "OPEN"
	ValveClosed  ValveState = "CLOSED"
	ValveUnknown ValveState = "UNKNOWN"
)

// Severity is the standardized 5-level ordinal used everywhere in PipeWatch,
// replacing the three overlapping vocabularies found in the original system
// (info/warning/critical/emergency, LOW/MEDIUM/HIGH/CRITICAL,
// NORMAL/MINOR/MEDIUM/HIGH/CRITICAL).
type Severity int

const (
	SeverityNormal Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String renders the severity the way it is logged and serialized.
func (s Severity) String() string {
	switch s {
	case SeverityNormal:
		return "NORMAL"
	case SeverityLow:
		return "LOW"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// MarshalJSON renders the severity as its string name.
func (s Severity) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// AlertStatus is the lifecycle state of an Alert. Transitions are monotonic:
// ACTIVE -> ACKNOWLEDGED -> RESOLVED, or ACTIVE -> RESOLVED directly.
type AlertStatus string

const (
	AlertActive       AlertStatus = "ACTIVE"
	AlertAcknowledged AlertStatus = "ACKNOWLEDGED"
	AlertResolved     AlertStatus = "RESOLVED"
)

// RawSample is one ingested sensor reading. Immutable once accepted.
type RawSample struct {
	ID          string
	Timestamp   time.Time
	Pressure    float64 // PSI, [0,100]
	Flow        float64 // L/min, [0,150]
	ValveState  ValveState
	Temperature *float64
	Conductivity *float64
	Location    string
}

// SignalStats carries the derived statistics for a single signal (pressure
// or flow) computed over the preprocessor's retained windows.
type SignalStats struct {
	RateOfChange  float64
	MovingAvg30s  *float64 // nil if fewer than 3 samples in the 30s window
	StdDev60s     *float64 // nil if fewer than 3 samples in the 60s window
	SpikeFlag     bool
}

// FeatureVector is the enrichment of a RawSample with engineered features.
// Produced once per accepted sample, held transiently, discarded after
// publication.
type FeatureVector struct {
	Sample RawSample

	Pressure SignalStats
	Flow     SignalStats

	PressureFlowRatio float64

	Hour       int
	DayOfWeek  int // 0 = Sunday, per time.Weekday
	IsWeekend  bool

	DataQualityScore float64 // [0,1]
}

// RuleVerdict is the rule engine's per-evaluation output.
type RuleVerdict struct {
	Triggered  bool
	Probability float64 // [0,100]
	Severity   Severity
	FiredRules []string
	Details    map[string]float64
}

// AnomalyScore is the isolation-forest model's per-evaluation output.
type AnomalyScore struct {
	Score      float64 // [0,1]
	IsAnomaly  bool
	Confidence float64 // [0,1]
}

// DetectionResult is the fused output of C5, published to subscribers and
// optionally turned into an Alert.
type DetectionResult struct {
	ID          string
	Timestamp   time.Time
	Sample      RawSample
	Features    FeatureVector
	Rule        RuleVerdict
	ML          *AnomalyScore // nil when the model was not ready (ModelNotReady)
	Probability float64       // [0,100]
	Severity    Severity
	Confidence  float64
	IsLeak      bool
}

// Notification is one delivery attempt recorded on an Alert.
type Notification struct {
	Channel   string
	SentAt    time.Time
	Recipient string
	Status    string // "sent" | "failed"
	Error     string `json:",omitempty"`
}

// Feedback is an operator's post-hoc judgement on an alert's accuracy.
type Feedback struct {
	IsCorrectPositive bool
	IsFalsePositive   bool
	Note              string
	SubmittedAt       time.Time
}

// Alert is a detection that crossed the alert threshold and entered the
// acknowledge/resolve lifecycle.
type Alert struct {
	ID        string
	CreatedAt time.Time
	Severity  Severity
	Probability float64
	Location  string
	Source    string // DetectionResult.ID

	Status AlertStatus

	AcknowledgedBy   string
	AcknowledgedAt   *time.Time
	AcknowledgeNote  string

	ResolvedBy   string
	ResolvedAt   *time.Time
	ResolveNote  string

	Feedback *Feedback

	Notifications []Notification

	ValveClosureTriggered bool
	ValveClosureAt        *time.Time

	RecommendedActions []string
}

// AuditEvent is one entry in the hash-chained append-only audit log.
type AuditEvent struct {
	Seq       uint64
	Timestamp time.Time
	Kind      string
	SubjectID string // alert id, or "-"
	Actor     string // user id, or "system"
	Payload   map[string]any
	PrevHash  string
	Hash      string
}
