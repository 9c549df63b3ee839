// Package validation checks reasoning steps and results.
//
// Checks run in a fixed order and stop at the first hard failure:
//  1. Completeness: output present, reasoning text long enough.
//  2. Confidence threshold: low confidence is flagged as a soft issue, never a failure.
//  3. Domain rule plugins registered per problem type.
//  4. Cross-step consistency: a step's input must equal, or be derivable from,
//     the output of the step it depends on.
//
// Hard failures set IsValid=false and are handed back to the strategy, which
// decides whether to retry, refine or abort. Soft issues stay advisory.
// Validation is a pure function of its input: validating the same step twice
// yields the same ValidationResult.
package validation

import (
	"fmt"
	"strings"
	"sync"

	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/types"
)

// Config tunes the validator thresholds.
type Config struct {
	MinReasoningLength int
	MinConfidence      float64
	NumericTolerance   float64
	// OutlierStdDevs is the distance from the mean, in sample standard
	// deviations, past which a step confidence is reported as an outlier.
	OutlierStdDevs float64
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		MinReasoningLength: 10,
		MinConfidence:      0.5,
		NumericTolerance:   1e-6,
		OutlierStdDevs:     2.0,
	}
}

// Finding is the outcome of one rule check.
type Finding struct {
	Hard       bool
	Issue      string
	Suggestion string
}

// Rule is a domain-specific plugin applied to steps of one problem type.
type Rule interface {
	Name() string
	Check(step types.Step) []Finding
}

// Validator runs the validation pipeline. It is safe for concurrent use.
type Validator struct {
	cfg Config

	mu    sync.RWMutex
	rules map[string][]Rule
}

// New creates a validator with the built-in rule plugins registered.
func New(cfg Config) *Validator {
	if cfg.MinReasoningLength <= 0 {
		cfg.MinReasoningLength = DefaultConfig().MinReasoningLength
	}
	if cfg.NumericTolerance <= 0 {
		cfg.NumericTolerance = DefaultConfig().NumericTolerance
	}
	if cfg.OutlierStdDevs <= 0 {
		cfg.OutlierStdDevs = DefaultConfig().OutlierStdDevs
	}
	v := &Validator{cfg: cfg, rules: make(map[string][]Rule)}
	v.Register(ProblemTypeMathematical, NumericOutputRule{})
	v.Register(ProblemTypeLogical, PremiseReferenceRule{})
	v.Register(ProblemTypeCausal, CausalGraphRule{})
	return v
}

// Config returns the thresholds in use.
func (v *Validator) Config() Config { return v.cfg }

// Register adds a rule plugin for a problem type.
func (v *Validator) Register(problemType string, r Rule) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rules[problemType] = append(v.rules[problemType], r)
}

func (v *Validator) rulesFor(problemType string) []Rule {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]Rule(nil), v.rules[problemType]...)
}

// ValidateStep runs checks 1-3 on a single step.
func (v *Validator) ValidateStep(step types.Step) types.ValidationResult {
	res := newResult()

	// 1. completeness
	if step.Output == nil {
		return res.fail(fmt.Sprintf("step %d has no output", step.ID),
			"every step must produce an output value")
	}
	if n := len(strings.TrimSpace(step.Reasoning)); n < v.cfg.MinReasoningLength {
		return res.fail(fmt.Sprintf("step %d reasoning is too short (%d < %d chars)", step.ID, n, v.cfg.MinReasoningLength),
			"explain how the step follows from its input")
	}

	// 2. confidence threshold
	if step.Confidence < v.cfg.MinConfidence {
		res.Issues = append(res.Issues, fmt.Sprintf("step %d has low confidence (%.2f < %.2f)",
			step.ID, step.Confidence, v.cfg.MinConfidence))
		res.Suggestions = append(res.Suggestions, "refine the step or gather more evidence")
	}

	// 3. domain rule plugins
	for _, rule := range v.rulesFor(step.ProblemType) {
		for _, f := range rule.Check(step) {
			if f.Hard {
				return res.fail(fmt.Sprintf("%s: %s", rule.Name(), f.Issue), f.Suggestion)
			}
			res.Issues = append(res.Issues, fmt.Sprintf("%s: %s", rule.Name(), f.Issue))
			if f.Suggestion != "" {
				res.Suggestions = append(res.Suggestions, f.Suggestion)
			}
		}
	}
	return res.ValidationResult
}

// ValidateTransition runs check 4 between a step and the step it depends on.
func (v *Validator) ValidateTransition(prev, next types.Step) types.ValidationResult {
	res := newResult()
	if !Consistent(prev.Output, next.Input, v.cfg.NumericTolerance) {
		return res.fail(fmt.Sprintf("step %d input does not follow from step %d output", next.ID, prev.ID),
			"carry the previous step's output forward as the next step's input")
	}
	return res.ValidationResult
}

// ValidateChain validates every step of an ordered chain and the transitions
// between them. A step's predecessor is its first dependency when present,
// otherwise the step before it.
func (v *Validator) ValidateChain(steps []types.Step) types.ValidationResult {
	res := newResult()
	byID := make(map[int]int, len(steps))
	for i, s := range steps {
		sr := v.ValidateStep(s)
		res.merge(sr)
		if !sr.IsValid {
			return res.ValidationResult
		}
		if i > 0 {
			prev := steps[i-1]
			if len(s.Dependencies) > 0 {
				if j, ok := byID[s.Dependencies[0]]; ok {
					prev = steps[j]
				}
			}
			tr := v.ValidateTransition(prev, s)
			res.merge(tr)
			if !tr.IsValid {
				return res.ValidationResult
			}
		}
		byID[s.ID] = i
	}
	return res.ValidationResult
}

// ValidateResult validates a complete result: bounds, final answer presence,
// the step chain, and a statistical outlier check over step confidences.
func (v *Validator) ValidateResult(r *types.Result) types.ValidationResult {
	res := newResult()
	if r == nil {
		return res.fail("result is nil", "")
	}
	if r.OverallConfidence < 0 || r.OverallConfidence > 1 {
		return res.fail(fmt.Sprintf("overall confidence %.3f is outside [0, 1]", r.OverallConfidence), "")
	}
	for _, s := range r.Steps {
		if s.Confidence < 0 || s.Confidence > 1 {
			return res.fail(fmt.Sprintf("step %d confidence %.3f is outside [0, 1]", s.ID, s.Confidence), "")
		}
	}
	if r.Success && r.FinalAnswer == nil {
		return res.fail("successful result has no final answer", "")
	}

	cr := v.ValidateChain(r.Steps)
	res.merge(cr)
	if !cr.IsValid {
		return res.ValidationResult
	}

	for _, id := range ConfidenceOutliers(r.Steps, v.cfg.OutlierStdDevs) {
		res.Issues = append(res.Issues, fmt.Sprintf("step %d confidence is a low outlier within the chain", id))
	}
	if len(r.Steps) > 0 && r.OverallConfidence < v.cfg.MinConfidence {
		res.Issues = append(res.Issues, fmt.Sprintf("overall confidence %.2f is below %.2f",
			r.OverallConfidence, v.cfg.MinConfidence))
	}
	return res.ValidationResult
}

type builder struct {
	types.ValidationResult
}

func newResult() *builder {
	return &builder{types.ValidationResult{IsValid: true, Issues: []string{}, Suggestions: []string{}}}
}

func (b *builder) fail(issue, suggestion string) types.ValidationResult {
	b.IsValid = false
	b.Issues = append(b.Issues, issue)
	if suggestion != "" {
		b.Suggestions = append(b.Suggestions, suggestion)
	}
	return b.ValidationResult
}

func (b *builder) merge(o types.ValidationResult) {
	b.IsValid = b.IsValid && o.IsValid
	b.Issues = append(b.Issues, o.Issues...)
	b.Suggestions = append(b.Suggestions, o.Suggestions...)
}
