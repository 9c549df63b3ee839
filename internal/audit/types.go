package audit

import (
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/types"
)

// EventType represents the type of audit event
type EventType string

const (
	// Reasoning events
	EventReasoningCompleted EventType = "reasoning.completed"
	EventReasoningFailed    EventType = "reasoning.failed"
	EventReasoningRejected  EventType = "reasoning.rejected"

	// Prompt events
	EventTemplateOptimized EventType = "prompt.template_optimized"
	EventABTestCreated     EventType = "prompt.abtest_created"
	EventABTestConcluded   EventType = "prompt.abtest_concluded"

	// Configuration events
	EventConfigLoaded  EventType = "config.loaded"
	EventConfigChanged EventType = "config.changed"
)

// Result represents the outcome of an audited action
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
	ResultDenied  Result = "denied"
)

// Event represents a single audit event
type Event struct {
	Timestamp  time.Time `json:"timestamp"`
	QuestionID string    `json:"question_id,omitempty"`
	EventType  EventType `json:"event_type"`
	Result     Result    `json:"result"`

	Strategy    types.StrategyKind `json:"strategy,omitempty"`
	Confidence  float64            `json:"confidence,omitempty"`
	PromptText  string             `json:"prompt_text,omitempty"`
	Steps       []types.Step       `json:"steps,omitempty"`
	Description string             `json:"description,omitempty"`
	Metadata    map[string]any     `json:"metadata,omitempty"`

	ErrorKind types.ErrorKind `json:"error_kind,omitempty"`
}

// NewEvent creates a new audit event with default values
func NewEvent(eventType EventType) *Event {
	return &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Result:    ResultSuccess,
		Metadata:  make(map[string]any),
	}
}

// FromRecord converts a router audit record.
func FromRecord(rec types.AuditRecord) *Event {
	e := NewEvent(EventReasoningCompleted)
	e.QuestionID = rec.QuestionID
	e.Strategy = rec.ReasoningType
	e.Confidence = rec.Confidence
	e.PromptText = rec.FinalPromptText
	e.Steps = rec.Steps
	if !rec.CreatedAt.IsZero() {
		e.Timestamp = rec.CreatedAt.UTC()
	}
	switch {
	case rec.Success:
	case rec.ErrorKind == types.KindInputValidation:
		e.EventType = EventReasoningRejected
		e.Result = ResultDenied
		e.ErrorKind = rec.ErrorKind
	default:
		e.EventType = EventReasoningFailed
		e.Result = ResultFailure
		e.ErrorKind = rec.ErrorKind
	}
	return e
}

// WithQuestionID sets the question id for event tracking
func (e *Event) WithQuestionID(id string) *Event {
	e.QuestionID = id
	return e
}

// WithDescription sets a human-readable description
func (e *Event) WithDescription(desc string) *Event {
	e.Description = desc
	return e
}

// WithResult sets the result of the event
func (e *Event) WithResult(result Result) *Event {
	e.Result = result
	return e
}

// WithMetadata adds metadata to the event
func (e *Event) WithMetadata(key string, value any) *Event {
	e.Metadata[key] = value
	return e
}

// MarshalLogObject writes the event as flat fields of one audit line.
func (e *Event) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddTime("event_time", e.Timestamp)
	enc.AddString("event_type", string(e.EventType))
	enc.AddString("result", string(e.Result))
	if e.QuestionID != "" {
		enc.AddString("question_id", e.QuestionID)
	}
	if e.Strategy != "" {
		enc.AddString("strategy", string(e.Strategy))
		enc.AddFloat64("confidence", e.Confidence)
	}
	if e.PromptText != "" {
		enc.AddString("prompt_text", e.PromptText)
	}
	if len(e.Steps) > 0 {
		enc.AddInt("step_count", len(e.Steps))
		if err := enc.AddReflected("steps", e.Steps); err != nil {
			return err
		}
	}
	if e.Description != "" {
		enc.AddString("description", e.Description)
	}
	if e.ErrorKind != "" {
		enc.AddString("error_kind", string(e.ErrorKind))
	}
	if len(e.Metadata) > 0 {
		if err := enc.AddReflected("metadata", e.Metadata); err != nil {
			return err
		}
	}
	return nil
}
