package types

import "time"

// AuditRecord is emitted by the router after every reasoning call. Storage of
// the record belongs to whichever sink receives it.
type AuditRecord struct {
	QuestionID      string       `json:"question_id"`
	FinalPromptText string       `json:"final_prompt_text"`
	ReasoningType   StrategyKind `json:"reasoning_type"`
	Steps           []Step       `json:"steps"`
	Confidence      float64      `json:"confidence"`

	Success   bool      `json:"success"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// StepEvent is published to subscribers whenever a strategy accepts a step.
type StepEvent struct {
	QuestionID string       `json:"question_id"`
	Strategy   StrategyKind `json:"strategy"`
	Step       Step         `json:"step"`
	Timestamp  time.Time    `json:"timestamp"`
}
