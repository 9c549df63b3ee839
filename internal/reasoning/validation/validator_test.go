package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/types"
)

type expr string

func (e expr) Expression() string { return string(e) }

func TestValidateStepCompleteness(t *testing.T) {
	v := New(DefaultConfig())

	res := v.ValidateStep(types.Step{ID: 1, Reasoning: "long enough reasoning", Confidence: 0.9})
	assert.False(t, res.IsValid)
	assert.Contains(t, res.Issues[0], "no output")

	res = v.ValidateStep(types.Step{ID: 1, Reasoning: "short", Output: "x", Confidence: 0.9})
	assert.False(t, res.IsValid)
	assert.Contains(t, res.Issues[0], "too short")
}

func TestValidateStepLowConfidenceIsSoft(t *testing.T) {
	v := New(DefaultConfig())
	res := v.ValidateStep(types.Step{ID: 2, Reasoning: "a perfectly fine explanation", Output: "ok", Confidence: 0.3})
	assert.True(t, res.IsValid)
	require.Len(t, res.Issues, 1)
	assert.Contains(t, res.Issues[0], "low confidence")
}

func TestValidateStepIdempotent(t *testing.T) {
	v := New(DefaultConfig())
	step := types.Step{ID: 3, Reasoning: "compute the sum of the terms", Output: "abc def", Confidence: 0.2,
		ProblemType: ProblemTypeMathematical}
	first := v.ValidateStep(step)
	second := v.ValidateStep(step)
	assert.Equal(t, first, second)
}

func TestNumericOutputRule(t *testing.T) {
	v := New(DefaultConfig())
	base := types.Step{ID: 1, Reasoning: "evaluate the expression", Confidence: 0.9, ProblemType: ProblemTypeMathematical}

	for _, out := range []any{2.0, 3, "4.5", "2*x + 3 = 7", expr("x^2 - 1"), []float64{1, 2}} {
		s := base
		s.Output = out
		assert.True(t, v.ValidateStep(s).IsValid, "%v", out)
	}

	s := base
	s.Output = "no numbers here!"
	assert.False(t, v.ValidateStep(s).IsValid)

	s.Output = map[string]int{"a": 1}
	assert.False(t, v.ValidateStep(s).IsValid)
}

func TestPremiseReferenceRule(t *testing.T) {
	v := New(DefaultConfig())
	s := types.Step{ID: 1, Reasoning: "apply modus ponens", Output: "Q", Confidence: 0.9, ProblemType: ProblemTypeLogical}
	assert.False(t, v.ValidateStep(s).IsValid)
	s.References = []string{"If P then Q", "P"}
	assert.True(t, v.ValidateStep(s).IsValid)
}

func TestCustomRuleRegistration(t *testing.T) {
	v := New(DefaultConfig())
	v.Register("general", RuleFunc{RuleName: "no-todo", Fn: func(s types.Step) []Finding {
		if s.Output == "TODO" {
			return []Finding{{Issue: "placeholder output"}}
		}
		return nil
	}})
	res := v.ValidateStep(types.Step{ID: 1, Reasoning: "nothing decided yet", Output: "TODO", Confidence: 0.9, ProblemType: "general"})
	assert.True(t, res.IsValid)
	assert.Contains(t, res.Issues, "no-todo: placeholder output")
}

func TestValidateChainConsistency(t *testing.T) {
	v := New(DefaultConfig())
	steps := []types.Step{
		{ID: 1, Reasoning: "parse the statement", Input: "q", Output: 4.0, Confidence: 0.9},
		{ID: 2, Reasoning: "halve the number", Input: 4.0000000001, Output: 2.0, Confidence: 0.9},
	}
	assert.True(t, v.ValidateChain(steps).IsValid)

	steps[1].Input = 5.0
	res := v.ValidateChain(steps)
	assert.False(t, res.IsValid)
	assert.Contains(t, res.Issues[len(res.Issues)-1], "does not follow")
}

func TestValidateChainUsesDependencies(t *testing.T) {
	v := New(DefaultConfig())
	steps := []types.Step{
		{ID: 10, Reasoning: "first branch point", Input: "root", Output: "alpha", Confidence: 0.9},
		{ID: 12, Reasoning: "continue the branch", Input: "alpha", Output: "beta", Confidence: 0.9, Dependencies: []int{10}},
	}
	assert.True(t, v.ValidateChain(steps).IsValid)
}

func TestConsistent(t *testing.T) {
	assert.True(t, Consistent("Hello  World", "hello world", 1e-6))
	assert.True(t, Consistent("x = 2", "verify that x = 2 holds", 1e-6))
	assert.False(t, Consistent("x = 2", "x = 3", 1e-6))
	assert.True(t, Consistent([]int{1, 2}, []int{1, 2}, 1e-6))
	assert.True(t, Consistent(1000000.0, 1000000.5, 1e-6))
	assert.False(t, Consistent(1.0, 1.1, 1e-6))
}

func TestValidateResult(t *testing.T) {
	v := New(DefaultConfig())

	r := types.NewResult(types.StrategyChainOfThought)
	r.Success = true
	res := v.ValidateResult(r)
	assert.False(t, res.IsValid)
	assert.Contains(t, res.Issues[0], "no final answer")

	r.FinalAnswer = "done"
	r.OverallConfidence = 1.5
	assert.False(t, v.ValidateResult(r).IsValid)

	r.OverallConfidence = 0.3
	r.Steps = []types.Step{{ID: 1, Reasoning: "the only step here", Output: "done", Confidence: 0.3}}
	res = v.ValidateResult(r)
	assert.True(t, res.IsValid)
	assert.Contains(t, res.Issues[len(res.Issues)-1], "overall confidence")
}

func TestConfidenceOutliers(t *testing.T) {
	var steps []types.Step
	for i := 1; i <= 7; i++ {
		steps = append(steps, types.Step{ID: i, Confidence: 0.9})
	}
	steps = append(steps, types.Step{ID: 8, Confidence: 0.1})
	assert.Equal(t, []int{8}, ConfidenceOutliers(steps, 2))
	assert.Nil(t, ConfidenceOutliers(steps[:2], 2))
}
