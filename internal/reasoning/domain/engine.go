// Package domain implements the direct domain engines: Mathematical, Logical
// and Causal.
//
// Each engine pairs a cheap keyword/pattern classifier (CanHandle) with a
// deterministic solver that emits one validated step per solution stage.
// Engines never call the language model; they only render an explanation
// prompt through the prompt framework so the audit trail records what the
// answer would be explained with.
//
// Step chaining: every step's Input is the previous step's Output, so the
// cross-step consistency check of the validation framework holds by
// construction.
package domain

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/prompt"
	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/types"
	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/validation"
)

// Deps are the collaborators shared by the domain engines.
type Deps struct {
	Validator *validation.Validator
	Prompts   prompt.Generator
	Logger    *zap.Logger
	// DiscardThreshold excludes near-zero steps from the overall confidence.
	DiscardThreshold float64
}

func (d Deps) withDefaults() Deps {
	if d.Validator == nil {
		d.Validator = validation.New(validation.DefaultConfig())
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.DiscardThreshold == 0 {
		d.DiscardThreshold = types.DefaultDiscardThreshold
	}
	return d
}

// chain accumulates validated steps for one engine invocation.
type chain struct {
	ctx         context.Context
	deps        Deps
	kind        types.StrategyKind
	problemType string
	problem     types.Problem
	res         *types.Result
}

func newChain(ctx context.Context, deps Deps, kind types.StrategyKind, problemType string, p types.Problem) *chain {
	return &chain{ctx: ctx, deps: deps, kind: kind, problemType: problemType, problem: p, res: types.NewResult(kind)}
}

// input returns the value the next step must consume.
func (c *chain) input() any {
	if last := c.res.LastStep(); last != nil {
		return last.Output
	}
	return c.problem.Statement
}

// add validates and appends a step. It returns false, with the result marked
// failed, when the step is rejected or the context has expired.
func (c *chain) add(description, reasoning string, output any, confidence float64, refs []string, final bool) bool {
	if err := c.ctx.Err(); err != nil {
		c.res.Fail(types.KindTimeout, "%s engine interrupted: %v", c.problemType, err)
		return false
	}
	step := types.Step{
		ID:          len(c.res.Steps) + 1,
		Description: description,
		Reasoning:   reasoning,
		Input:       c.input(),
		Output:      output,
		Confidence:  types.Clamp01(confidence),
		ProblemType: c.problemType,
		References:  refs,
		Final:       final,
	}
	vr := c.deps.Validator.ValidateStep(step)
	if vr.IsValid {
		if prev := c.res.LastStep(); prev != nil {
			tr := c.deps.Validator.ValidateTransition(*prev, step)
			vr.IsValid = tr.IsValid
			vr.Issues = append(vr.Issues, tr.Issues...)
			vr.Suggestions = append(vr.Suggestions, tr.Suggestions...)
		}
	}
	step.Validation = &vr
	c.res.Steps = append(c.res.Steps, step)
	if !vr.IsValid {
		c.res.Fail(types.KindValidation, "step %d failed validation: %v", step.ID, vr.Issues)
		return false
	}
	if step.Confidence < c.deps.Validator.Config().MinConfidence {
		c.res.AddIssue(types.KindLowConfidence, "step %d: %s has low confidence %.2f", step.ID, description, step.Confidence)
	}
	c.problem.Emit(c.kind, step)
	return true
}

// fail marks the result failed without adding a step.
func (c *chain) fail(kind types.ErrorKind, format string, args ...any) *types.Result {
	c.res.Fail(kind, format, args...)
	return c.done()
}

// finish marks the result successful with the given answer.
func (c *chain) finish(answer any) *types.Result {
	c.res.Success = true
	c.res.FinalAnswer = answer
	return c.done()
}

func (c *chain) done() *types.Result {
	c.res.OverallConfidence = types.Aggregate(c.res.Steps, c.deps.DiscardThreshold, types.UniformWeight)
	c.explain()
	c.res.Normalize()
	c.deps.Logger.Debug("domain engine finished",
		zap.String("engine", string(c.kind)),
		zap.Bool("success", c.res.Success),
		zap.Int("steps", len(c.res.Steps)),
		zap.Float64("confidence", c.res.OverallConfidence))
	return c.res
}

// explain renders the explanation prompt for the audit trail and feeds the
// outcome back into the template statistics.
func (c *chain) explain() {
	if c.deps.Prompts == nil {
		return
	}
	pc := prompt.BuildContext(c.problem.Statement, c.problemType, c.problemType, c.problem.Knowledge, nil, 0)
	for _, s := range c.res.Steps {
		pc.History = append(pc.History, fmt.Sprintf("%s: %s", s.Description, s.Reasoning))
	}
	gen, err := c.deps.Prompts.GeneratePrompt(pc)
	if err != nil {
		c.deps.Logger.Warn("explanation prompt failed", zap.Error(err))
		return
	}
	c.res.FinalPrompt = gen.Prompt
	c.res.TemplateID = gen.TemplateID
	c.deps.Prompts.RecordOutcome(gen, c.res.OverallConfidence, c.res.Success)
}
