// Package types defines the domain records, error taxonomy, and shared
// primitives for the Protect alarm event backup pipeline.
package types

// Trigger is one specific detection within an alarm (e.g., motion from a
// specific camera). Key, Device, and EventID arrive on the wire; DeviceName,
// Date, EventKey, and VideoKey are populated by the orchestrator during
// processing.
type Trigger struct {
	Key     string `json:"key"`
	Device  string `json:"device"`
	EventID string `json:"eventId"`

	DeviceName string `json:"deviceName,omitempty"`
	Date       string `json:"date,omitempty"`
	EventKey   string `json:"eventKey,omitempty"`
	VideoKey   string `json:"videoKey,omitempty"`
}

// Source describes an alarm input source. Auxiliary metadata with no identity
// of its own; stripped before the event artifact is persisted.
type Source struct {
	Device string `json:"device,omitempty"`
	Type   string `json:"type,omitempty"`
}

// Condition describes an alarm firing condition. Like Source, it is stripped
// before persistence.
type Condition struct {
	Condition ConditionDetail `json:"condition"`
}

// ConditionDetail is the inner condition payload.
type ConditionDetail struct {
	Type   string `json:"type,omitempty"`
	Source string `json:"source,omitempty"`
}

// AlarmEvent is one camera-originated notification, possibly describing
// multiple triggers. Timestamp is milliseconds since epoch; zero and negative
// values are tolerated and flow through key derivation unchanged.
// An AlarmEvent is immutable once constructed except for the
// orchestrator-populated Trigger fields.
type AlarmEvent struct {
	Name           string      `json:"name,omitempty"`
	Timestamp      int64       `json:"timestamp"`
	Triggers       []Trigger   `json:"triggers"`
	Sources        []Source    `json:"sources,omitempty"`
	Conditions     []Condition `json:"conditions,omitempty"`
	EventPath      string      `json:"eventPath,omitempty"`
	EventLocalLink string      `json:"eventLocalLink,omitempty"`
	Thumbnail      string      `json:"thumbnail,omitempty"`
}

// Validate checks the structural invariants required before processing:
// the alarm must carry at least one trigger. Timestamp is deliberately not
// range-checked.
func (a *AlarmEvent) Validate() *AppError {
	if a == nil {
		return NewAppError(ErrCodeValidationNilAlarm, "alarm event is nil", nil)
	}
	if len(a.Triggers) == 0 {
		return NewAppError(ErrCodeValidationNoTriggers, "alarm event has no triggers", nil)
	}
	return nil
}

// Sanitized returns a copy of the alarm with Sources and Conditions stripped.
// This is the shape persisted as the event artifact; triggers (including
// orchestrator-populated fields) are retained.
func (a *AlarmEvent) Sanitized() AlarmEvent {
	out := *a
	out.Sources = nil
	out.Conditions = nil
	out.Triggers = make([]Trigger, len(a.Triggers))
	copy(out.Triggers, a.Triggers)
	return out
}

// ProcessingOutcome classifies how far an alarm made it through the pipeline.
type ProcessingOutcome string

const (
	// OutcomeCompleted means the event artifact and its video were stored.
	OutcomeCompleted ProcessingOutcome = "completed"
	// OutcomeCompletedWithoutVideo means the event artifact was stored but
	// no video artifact could be obtained. Still a success for the caller.
	OutcomeCompletedWithoutVideo ProcessingOutcome = "completed_without_video"
)

// ProcessingResult is the success response built from the first trigger after
// the orchestrator completes. It is not persisted; it only drives the caller's
// response body.
type ProcessingResult struct {
	Outcome    ProcessingOutcome `json:"outcome"`
	EventID    string            `json:"eventId"`
	EventKey   string            `json:"eventKey"`
	DeviceName string            `json:"deviceName"`
	Timestamp  int64             `json:"timestamp"`
}
