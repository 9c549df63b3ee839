// Package types holds the data model shared by every reasoning strategy.
//
// Core types:
//   - Step: one unit of reasoning with opaque input/output values and a confidence
//   - Result: outcome of one full reasoning invocation
//   - ValidationResult: verdict of the validation framework for a step or result
//   - PromptContext: per-call context handed to the prompt framework
//
// Lifecycle:
//   - A Result is created by the router per request and is not mutated once returned.
//   - Steps are appended in generation order; within one chain (or one root-to-leaf
//     tree path) step i's Input equals step i-1's Output.
//   - Confidence values are always clamped into [0, 1].
package types

import (
	"fmt"
	"math"
)

// StrategyKind identifies the engine or strategy that produced a result.
type StrategyKind string

const (
	StrategyMathematical   StrategyKind = "MATHEMATICAL"
	StrategyLogical        StrategyKind = "LOGICAL"
	StrategyCausal         StrategyKind = "CAUSAL"
	StrategyChainOfThought StrategyKind = "CHAIN_OF_THOUGHT"
	StrategyTreeOfThoughts StrategyKind = "TREE_OF_THOUGHTS"
	StrategyHybrid         StrategyKind = "HYBRID"
)

// IsDomain reports whether the kind is one of the direct domain engines.
func (k StrategyKind) IsDomain() bool {
	switch k {
	case StrategyMathematical, StrategyLogical, StrategyCausal:
		return true
	}
	return false
}

// ValidationResult is produced by the validation framework for a step or a result.
type ValidationResult struct {
	IsValid     bool     `json:"is_valid"`
	Issues      []string `json:"issues"`
	Suggestions []string `json:"suggestions"`
}

// Step is one unit of reasoning.
type Step struct {
	// ID is the sequence order within a chain, or the node id within a tree.
	ID          int    `json:"step_id"`
	Description string `json:"description"`
	Reasoning   string `json:"reasoning"`

	Input  any `json:"input_data"`
	Output any `json:"output_data"`

	Confidence float64           `json:"confidence"`
	Validation *ValidationResult `json:"validation,omitempty"`

	Dependencies []int `json:"dependencies,omitempty"`

	// ProblemType selects the validation rule plugins applied to the step.
	ProblemType string `json:"problem_type,omitempty"`
	// References lists the premises or facts the step relies on.
	References []string `json:"references,omitempty"`
	// Final marks a terminal step that yields the final answer.
	Final bool `json:"final,omitempty"`
}

// Issue is a finding attached to a result. Soft issues never abort reasoning.
type Issue struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Result is the outcome of one full reasoning invocation.
type Result struct {
	Success           bool         `json:"success"`
	FinalAnswer       any          `json:"final_answer"`
	Steps             []Step       `json:"steps"`
	OverallConfidence float64      `json:"overall_confidence"`
	StrategyUsed      StrategyKind `json:"strategy_used"`
	Error             string       `json:"error,omitempty"`
	ErrorKind         ErrorKind    `json:"error_kind,omitempty"`
	Issues            []Issue      `json:"issues,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`

	// FinalPrompt is the last prompt rendered for this result; it feeds the audit record.
	FinalPrompt string `json:"-"`
	// TemplateID is the prompt template FinalPrompt was rendered from.
	TemplateID string `json:"-"`
}

// NewResult returns an empty result attributed to the given strategy.
func NewResult(kind StrategyKind) *Result {
	return &Result{StrategyUsed: kind, Steps: []Step{}, Metadata: map[string]any{}}
}

// Fail marks the result as failed with a taxonomy kind. Partial steps are kept.
func (r *Result) Fail(kind ErrorKind, format string, args ...any) *Result {
	r.Success = false
	r.ErrorKind = kind
	r.Error = fmt.Sprintf(format, args...)
	return r
}

// AddIssue attaches a soft issue.
func (r *Result) AddIssue(kind ErrorKind, format string, args ...any) {
	r.Issues = append(r.Issues, Issue{Kind: kind, Message: fmt.Sprintf(format, args...)})
}

// HasIssue reports whether an issue of the given kind was attached.
func (r *Result) HasIssue(kind ErrorKind) bool {
	for _, is := range r.Issues {
		if is.Kind == kind {
			return true
		}
	}
	return false
}

// LastStep returns the most recent step or nil.
func (r *Result) LastStep() *Step {
	if len(r.Steps) == 0 {
		return nil
	}
	return &r.Steps[len(r.Steps)-1]
}

// SetMeta records a metadata value.
func (r *Result) SetMeta(key string, value any) {
	if r.Metadata == nil {
		r.Metadata = map[string]any{}
	}
	r.Metadata[key] = value
}

// Normalize clamps every confidence in the result into [0, 1].
func (r *Result) Normalize() {
	for i := range r.Steps {
		r.Steps[i].Confidence = Clamp01(r.Steps[i].Confidence)
	}
	r.OverallConfidence = Clamp01(r.OverallConfidence)
}

// PromptContext is the context a prompt is rendered from. It is built fresh per call.
type PromptContext struct {
	ProblemStatement   string   `json:"problem_statement"`
	ProblemType        string   `json:"problem_type"`
	ReasoningType      string   `json:"reasoning_type"`
	RetrievedKnowledge []string `json:"retrieved_knowledge,omitempty"`

	// History summarizes previously accepted steps, oldest first.
	History []string `json:"history,omitempty"`
	// Guidance carries correction hints from validation during refinement.
	Guidance []string `json:"guidance,omitempty"`
	// Alternatives is the number of candidates requested from one prompt.
	Alternatives int `json:"alternatives,omitempty"`
}

// Clamp01 clamps x into [0, 1]. NaN maps to 0.
func Clamp01(x float64) float64 {
	switch {
	case math.IsNaN(x), x < 0:
		return 0
	case x > 1:
		return 1
	}
	return x
}
