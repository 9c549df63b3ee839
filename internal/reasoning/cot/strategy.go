// Package cot implements Chain-of-Thought reasoning: a linear chain of
// oracle-generated steps, each validated before it is accepted and
// optionally refined when its confidence is low.
package cot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-reasoner/internal/llm"
	"github.com/kubilitics/kubilitics-reasoner/internal/metrics"
	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/prompt"
	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/types"
	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/validation"
)

// Config bounds the chain.
type Config struct {
	MaxSteps int
	// MaxIterations is the number of attempts per step, refinements included.
	MaxIterations int
	// RefineBelow triggers refinement for steps under this confidence.
	RefineBelow      float64
	EnableRefinement bool
	// GenerationRetries is how often an unparsable or invalid step is regenerated.
	GenerationRetries int
	Temperature       float32
	MaxTokens         int
	// MaxContextTokens caps retrieved knowledge in step prompts.
	MaxContextTokens int
}

// DefaultConfig returns the chain defaults.
func DefaultConfig() Config {
	return Config{
		MaxSteps:          10,
		MaxIterations:     3,
		RefineBelow:       0.7,
		EnableRefinement:  true,
		GenerationRetries: 2,
		Temperature:       0.2,
		MaxTokens:         512,
		MaxContextTokens:  2000,
	}
}

// Strategy is the Chain-of-Thought strategy.
type Strategy struct {
	oracle    llm.Oracle
	prompts   prompt.Generator
	validator *validation.Validator
	cfg       Config
	logger    *zap.Logger
}

// New creates the strategy. A nil validator uses the default configuration.
func New(oracle llm.Oracle, prompts prompt.Generator, v *validation.Validator, cfg Config, logger *zap.Logger) *Strategy {
	if v == nil {
		v = validation.New(validation.DefaultConfig())
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if prompts == nil {
		f, err := prompt.NewFramework(prompt.DefaultConfig())
		if err != nil {
			panic(fmt.Sprintf("built-in prompt pack: %v", err))
		}
		prompts = f
	}
	def := DefaultConfig()
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = def.MaxSteps
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = def.MaxIterations
	}
	if cfg.RefineBelow <= 0 {
		cfg.RefineBelow = def.RefineBelow
	}
	if cfg.GenerationRetries < 0 {
		cfg.GenerationRetries = 0
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	return &Strategy{oracle: oracle, prompts: prompts, validator: v, cfg: cfg, logger: logger}
}

func (s *Strategy) Kind() types.StrategyKind { return types.StrategyChainOfThought }

// CanHandle is always true: the chain is the generic fallback.
func (s *Strategy) CanHandle(string) bool { return true }

func (s *Strategy) Reset() {}

// state is a node of the chain state machine.
type state int

const (
	stateStart state = iota
	stateGenerate
	stateValidate
	stateRefine
	stateAccept
	stateFinal
	stateAbort
)

func (st state) String() string {
	return [...]string{"START", "GENERATE_STEP", "VALIDATE", "REFINE", "ACCEPT", "FINAL", "ABORT"}[st]
}

// run is the mutable state of one invocation.
type run struct {
	ctx      context.Context
	problem  types.Problem
	res      *types.Result
	maxSteps int
	refine   bool

	attempt  int // attempts for the current step, refinements included
	failures int // unparsable or invalid generations for the current step
	guidance []string
	draft    *types.Step
	gen      prompt.Generated
	best     *types.Step
	bestGen  prompt.Generated
	abort    types.ErrorKind
	abortMsg string
}

// Reason drives START → GENERATE_STEP → VALIDATE → (REFINE | ACCEPT) →
// [more steps?] → FINAL | ABORT.
func (s *Strategy) Reason(ctx context.Context, p types.Problem) *types.Result {
	r := &run{
		ctx:      ctx,
		problem:  p,
		res:      types.NewResult(types.StrategyChainOfThought),
		maxSteps: types.IntOr(p.Config.MaxSteps, s.cfg.MaxSteps),
		refine:   types.BoolOr(p.Config.EnableRefinement, s.cfg.EnableRefinement),
	}

	st := stateStart
	for st != stateFinal && st != stateAbort {
		if err := ctx.Err(); err != nil {
			r.abort, r.abortMsg = types.KindTimeout, fmt.Sprintf("chain interrupted after %d step(s): %v", len(r.res.Steps), err)
			st = stateAbort
			break
		}
		switch st {
		case stateStart:
			st = stateGenerate
		case stateGenerate:
			st = s.generate(r)
		case stateValidate:
			st = s.validate(r)
		case stateRefine:
			metrics.StepRefinements.Inc()
			st = stateGenerate
		case stateAccept:
			st = s.accept(r)
		}
	}

	if st == stateAbort {
		r.res.Fail(r.abort, "%s", r.abortMsg)
	}
	r.res.OverallConfidence = types.Aggregate(r.res.Steps, 0, types.FinalStepWeight)
	r.res.Normalize()
	s.logger.Debug("chain-of-thought finished",
		zap.String("question_id", p.ID),
		zap.String("state", st.String()),
		zap.Int("steps", len(r.res.Steps)),
		zap.Bool("success", r.res.Success),
		zap.Float64("confidence", r.res.OverallConfidence))
	return r.res
}

// input is the value the next step consumes.
func (r *run) input() any {
	if last := r.res.LastStep(); last != nil {
		return last.Output
	}
	return r.problem.Statement
}

func (r *run) history() []string {
	h := make([]string, len(r.res.Steps))
	for i, st := range r.res.Steps {
		h[i] = fmt.Sprintf("%s: %s => %v", st.Description, st.Reasoning, st.Output)
	}
	return h
}

func (s *Strategy) generate(r *run) state {
	r.attempt++
	pc := prompt.BuildContext(r.problem.Statement, validation.ProblemTypeGeneral, prompt.ReasoningChain,
		r.problem.Knowledge, r.history(), s.cfg.MaxContextTokens)
	pc.Guidance = append(pc.Guidance, r.guidance...)

	gen, err := s.prompts.GeneratePrompt(pc)
	if err != nil {
		r.abort, r.abortMsg = types.KindStepGeneration, fmt.Sprintf("render step prompt: %v", err)
		return stateAbort
	}
	r.gen = gen
	r.res.FinalPrompt, r.res.TemplateID = gen.Prompt, gen.TemplateID

	resp, err := s.oracle.Generate(r.ctx, gen.Prompt, llm.GenerateOptions{Temperature: s.cfg.Temperature, MaxTokens: s.cfg.MaxTokens})
	if err != nil {
		s.prompts.RecordOutcome(gen, 0, false)
		switch {
		case r.ctx.Err() != nil || types.KindOf(err) == types.KindTimeout:
			r.abort, r.abortMsg = types.KindTimeout, fmt.Sprintf("oracle call interrupted: %v", err)
			return stateAbort
		case llm.IsPermanent(err) || errors.Is(err, llm.ErrBudgetExceeded):
			r.abort, r.abortMsg = types.KindStepGeneration, fmt.Sprintf("oracle failed: %v", err)
			return stateAbort
		}
		return s.retryGeneration(r, types.KindStepGeneration, fmt.Sprintf("oracle failed: %v", err))
	}

	d, err := ParseDraft(resp)
	if err != nil {
		s.prompts.RecordOutcome(gen, 0, false)
		r.guidance = []string{"Respond with a single JSON object containing description, reasoning, output, confidence and final."}
		return s.retryGeneration(r, types.KindStepGeneration, fmt.Sprintf("step %d: %v", len(r.res.Steps)+1, err))
	}
	r.draft = &types.Step{
		ID:          len(r.res.Steps) + 1,
		Description: d.Description,
		Reasoning:   d.Reasoning,
		Input:       r.input(),
		Output:      d.Output,
		Confidence:  types.Clamp01(d.Confidence),
		ProblemType: validation.ProblemTypeGeneral,
		Final:       d.Final,
	}
	if len(r.res.Steps) > 0 {
		r.draft.Dependencies = []int{r.res.Steps[len(r.res.Steps)-1].ID}
	}
	return stateValidate
}

// retryGeneration regenerates the current step or aborts once retries run out.
func (s *Strategy) retryGeneration(r *run, kind types.ErrorKind, msg string) state {
	r.failures++
	s.logger.Debug("step generation failed", zap.String("question_id", r.problem.ID), zap.String("reason", msg))
	if r.failures > s.cfg.GenerationRetries {
		if r.best != nil {
			return stateAccept
		}
		r.abort, r.abortMsg = kind, fmt.Sprintf("%s (after %d attempts)", msg, r.failures)
		return stateAbort
	}
	return stateGenerate
}

func (s *Strategy) validate(r *run) state {
	step := r.draft
	vr := s.validator.ValidateStep(*step)
	if vr.IsValid {
		if prev := r.res.LastStep(); prev != nil {
			tr := s.validator.ValidateTransition(*prev, *step)
			vr.IsValid = tr.IsValid
			vr.Issues = append(vr.Issues, tr.Issues...)
			vr.Suggestions = append(vr.Suggestions, tr.Suggestions...)
		}
	}
	step.Validation = &vr
	if !vr.IsValid {
		metrics.ValidationFailures.WithLabelValues(step.ProblemType).Inc()
		s.prompts.RecordOutcome(r.gen, step.Confidence, false)
		r.guidance = append(append([]string{}, vr.Issues...), vr.Suggestions...)
		return s.retryGeneration(r, types.KindValidation, fmt.Sprintf("step %d failed validation: %s", step.ID, strings.Join(vr.Issues, "; ")))
	}

	if r.best == nil || step.Confidence > r.best.Confidence {
		r.best, r.bestGen = step, r.gen
	}
	if r.refine && step.Confidence < s.cfg.RefineBelow && r.attempt < s.cfg.MaxIterations {
		r.guidance = append(append([]string{}, vr.Issues...), vr.Suggestions...)
		r.guidance = append(r.guidance, fmt.Sprintf(
			"Your previous attempt (%q) had confidence %.2f; make the step more rigorous so it can be verified.",
			step.Description, step.Confidence))
		return stateRefine
	}
	return stateAccept
}

func (s *Strategy) accept(r *run) state {
	step := *r.best
	if step.Confidence < s.cfg.RefineBelow {
		r.res.AddIssue(types.KindLowConfidence, "step %d (%s) accepted with confidence %.2f", step.ID, step.Description, step.Confidence)
	}
	r.res.Steps = append(r.res.Steps, step)
	s.prompts.RecordOutcome(r.bestGen, step.Confidence, true)
	r.problem.Emit(types.StrategyChainOfThought, step)

	r.attempt, r.failures, r.guidance, r.draft, r.best = 0, 0, nil, nil, nil
	if step.Final {
		r.res.Success = true
		r.res.FinalAnswer = step.Output
		return stateFinal
	}
	if len(r.res.Steps) >= r.maxSteps {
		r.abort = types.KindSearchBudget
		r.abortMsg = fmt.Sprintf("max_steps=%d reached without a final answer", r.maxSteps)
		return stateAbort
	}
	return stateGenerate
}
