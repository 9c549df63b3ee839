package types

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind is the reasoning error taxonomy.
type ErrorKind string

const (
	KindInputValidation ErrorKind = "InputValidationError"
	KindStepGeneration  ErrorKind = "StepGenerationFailure"
	KindValidation      ErrorKind = "ValidationFailure"
	KindLowConfidence   ErrorKind = "LowConfidenceWarning"
	KindSearchBudget    ErrorKind = "SearchBudgetExceeded"
	KindTimeout         ErrorKind = "TimeoutError"
	KindNoStrategy      ErrorKind = "NoStrategyApplicable"
	// KindAdvisory notes a finding that does not invalidate the answer,
	// such as a premise set that supports no conclusion.
	KindAdvisory ErrorKind = "Advisory"
)

// Soft reports whether the kind is advisory only.
func (k ErrorKind) Soft() bool {
	return k == KindLowConfidence || k == KindAdvisory
}

// ReasoningError carries a taxonomy kind through Go error chains.
type ReasoningError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *ReasoningError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ReasoningError) Unwrap() error { return e.Err }

// NewError builds a ReasoningError.
func NewError(kind ErrorKind, msg string, err error) *ReasoningError {
	return &ReasoningError{Kind: kind, Message: msg, Err: err}
}

// KindOf maps an error to its taxonomy kind. Context expiry maps to KindTimeout.
// Unknown errors map to the empty kind.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var re *ReasoningError
	if errors.As(err, &re) {
		return re.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	return ""
}
