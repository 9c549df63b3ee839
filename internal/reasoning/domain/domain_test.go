package domain_test

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/domain"
	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/prompt"
	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/types"
	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/validation"
)

func deps(t *testing.T) domain.Deps {
	t.Helper()
	f, err := prompt.NewFramework(prompt.DefaultConfig())
	require.NoError(t, err)
	return domain.Deps{Prompts: f}
}

func reason(t *testing.T, s types.Strategy, statement string) *types.Result {
	t.Helper()
	return s.Reason(context.Background(), types.Problem{ID: "q", Statement: statement})
}

func assertChained(t *testing.T, res *types.Result) {
	t.Helper()
	v := validation.New(validation.DefaultConfig())
	vr := v.ValidateChain(res.Steps)
	assert.True(t, vr.IsValid, "chain: %v", vr.Issues)
	for i, s := range res.Steps {
		assert.Equal(t, i+1, s.ID)
		assert.GreaterOrEqual(t, s.Confidence, 0.0)
		assert.LessOrEqual(t, s.Confidence, 1.0)
	}
}

// ─── Mathematical ───

func TestMathSolvesLinearEquation(t *testing.T) {
	e := domain.NewMathEngine(deps(t))
	require.True(t, e.CanHandle("Solve 2x + 3 = 7"))

	res := reason(t, e, "Solve 2x + 3 = 7")

	require.True(t, res.Success, res.Error)
	assert.Equal(t, types.StrategyMathematical, res.StrategyUsed)
	assert.InDelta(t, 2.0, res.FinalAnswer, 1e-6)
	assert.GreaterOrEqual(t, len(res.Steps), 3)
	assert.True(t, res.LastStep().Final)
	assertChained(t, res)
	assert.Greater(t, res.OverallConfidence, 0.8)
	assert.NotEmpty(t, res.FinalPrompt, "explanation prompt recorded for audit")
}

func TestMathProblemKinds(t *testing.T) {
	tests := []struct {
		name      string
		statement string
		want      any
	}{
		{"quadratic", "Solve x^2 - 5x + 6 = 0", []float64{2, 3}},
		{"expression", "Calculate 3 * (4 + 5)", 27.0},
		{"binding", "Evaluate 3x + 1 where x = 4", 13.0},
		{"mean", "What is the mean of 2, 4, 6 and 8?", 5.0},
		{"median", "Find the median of 7, 1, 3", 3.0},
		{"sample variance", "Find the variance of 2, 4, 4, 4, 5, 5, 7, 9", 32.0 / 7},
		{"circle", "Find the area of a circle with radius 2", 4 * math.Pi},
		{"hypotenuse", "Find the hypotenuse of a right triangle with legs 3 and 4", 5.0},
		{"integral", "Integrate x^2 from 0 to 3", 9.0},
		{"derivative at point", "What is the derivative of x^3 at x = 2?", 12.0},
	}
	e := domain.NewMathEngine(deps(t))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.True(t, e.CanHandle(tt.statement))
			res := reason(t, e, tt.statement)
			require.True(t, res.Success, res.Error)
			assert.False(t, res.HasIssue(types.KindLowConfidence), "verification passed")
			switch want := tt.want.(type) {
			case float64:
				assert.InDelta(t, want, res.FinalAnswer, 1e-6)
			case []float64:
				got, ok := res.FinalAnswer.([]float64)
				require.True(t, ok, "answer %v", res.FinalAnswer)
				assert.InDeltaSlice(t, want, got, 1e-6)
			}
			assertChained(t, res)
		})
	}
}

func TestMathRejectsUnsolvable(t *testing.T) {
	e := domain.NewMathEngine(deps(t))

	res := reason(t, e, "Solve x + 1 = x + 2")

	assert.False(t, res.Success)
	assert.Equal(t, types.KindNoStrategy, res.ErrorKind)
}

func TestMathIdentityIsNotSolved(t *testing.T) {
	e := domain.NewMathEngine(deps(t))

	res := reason(t, e, "Solve x/x = 1")

	assert.False(t, res.Success)
	assert.Equal(t, types.KindNoStrategy, res.ErrorKind)
	assert.Contains(t, res.Error, "holds for every value")
	assert.Nil(t, res.FinalAnswer)
}

func TestMathNumericSearchFindsEveryRoot(t *testing.T) {
	e := domain.NewMathEngine(deps(t))

	res := reason(t, e, "Solve x^3 - 6x^2 + 11x - 6 = 0")

	require.True(t, res.Success, res.Error)
	got, ok := res.FinalAnswer.([]float64)
	require.True(t, ok, "answer %v", res.FinalAnswer)
	assert.InDeltaSlice(t, []float64{1, 2, 3}, got, 1e-6)
	assert.True(t, res.HasIssue(types.KindAdvisory), "search interval disclosed")
	assert.False(t, res.HasIssue(types.KindLowConfidence))
	assertChained(t, res)
}

func TestMathDoubleRootWithoutSignChange(t *testing.T) {
	e := domain.NewMathEngine(deps(t))

	res := reason(t, e, "Solve x^3 - 3x + 2 = 0")

	require.True(t, res.Success, res.Error)
	got, ok := res.FinalAnswer.([]float64)
	require.True(t, ok, "answer %v", res.FinalAnswer)
	assert.InDeltaSlice(t, []float64{-2, 1}, got, 1e-4)
}

func TestMathNonFiniteResultFails(t *testing.T) {
	e := domain.NewMathEngine(deps(t))

	res := reason(t, e, "Evaluate 2^1000^1000")

	assert.False(t, res.Success)
	assert.Equal(t, types.KindNoStrategy, res.ErrorKind)
	assert.Contains(t, res.Error, "not a finite number")
	assert.Nil(t, res.FinalAnswer)
}

func TestMathRejectsNegativeDimension(t *testing.T) {
	e := domain.NewMathEngine(deps(t))

	res := reason(t, e, "Find the area of a circle with radius -3")

	assert.False(t, res.Success)
	assert.Equal(t, types.KindNoStrategy, res.ErrorKind)
	assert.Contains(t, res.Error, "negative")
}

func TestMathCanHandle(t *testing.T) {
	e := domain.NewMathEngine(domain.Deps{})
	assert.True(t, e.CanHandle("What is 12 / 4?"))
	assert.True(t, e.CanHandle("Differentiate sin(x)"))
	assert.False(t, e.CanHandle("Why is the sky blue?"))
	assert.False(t, e.CanHandle("All men are mortal"))
}

// ─── Logical ───

func TestLogicUndistributedMiddle(t *testing.T) {
	e := domain.NewLogicEngine(deps(t))

	res := reason(t, e, "All A are B. Some B are C. What can we conclude?")

	require.True(t, res.Success, res.Error)
	assert.Equal(t, types.StrategyLogical, res.StrategyUsed)
	last := res.LastStep()
	require.NotNil(t, last)
	assert.True(t, last.Final)
	assert.Contains(t, last.Reasoning, "No valid conclusion")
	assert.Contains(t, last.Reasoning, "undistributed middle")
	assert.True(t, res.HasIssue(types.KindAdvisory))
	assertChained(t, res)
}

func TestLogicSyllogismInstantiation(t *testing.T) {
	e := domain.NewLogicEngine(deps(t))

	res := reason(t, e, "All men are mortal. Socrates is a man. Is Socrates mortal?")

	require.True(t, res.Success, res.Error)
	assert.Contains(t, res.FinalAnswer, "follows from the premises")
	assert.False(t, res.HasIssue(types.KindAdvisory))
	assert.GreaterOrEqual(t, len(res.Steps), 3)
	assertChained(t, res)
}

func TestLogicModusPonens(t *testing.T) {
	e := domain.NewLogicEngine(deps(t))
	require.True(t, e.CanHandle("If it rains then the ground is wet."))

	res := reason(t, e, "If it rains then the ground is wet. It rains. Therefore the ground is wet.")

	require.True(t, res.Success, res.Error)
	assert.Contains(t, res.FinalAnswer, "follows from the premises")
	var rules []string
	for _, s := range res.Steps {
		rules = append(rules, s.Description)
	}
	assert.Contains(t, rules, "Apply modus ponens")
}

func TestLogicContradictoryPremises(t *testing.T) {
	e := domain.NewLogicEngine(deps(t))

	res := reason(t, e, "All cats are mammals. No cats are mammals.")

	assert.False(t, res.Success)
	assert.Equal(t, types.KindValidation, res.ErrorKind)
}

func TestLogicWithoutPremises(t *testing.T) {
	e := domain.NewLogicEngine(deps(t))

	res := reason(t, e, "What can we conclude?")

	assert.False(t, res.Success)
	assert.Equal(t, types.KindNoStrategy, res.ErrorKind)
}

// ─── Causal ───

func TestCausalChainIncrease(t *testing.T) {
	e := domain.NewCausalEngine(deps(t))
	statement := "Smoking causes cancer. Cancer causes death. What is the effect of smoking on death?"
	require.True(t, e.CanHandle(statement))

	res := reason(t, e, statement)

	require.True(t, res.Success, res.Error)
	assert.Equal(t, types.StrategyCausal, res.StrategyUsed)
	assert.Equal(t, "smoking causes an increase in death", res.FinalAnswer)
	require.Len(t, res.Steps, 4)
	est, ok := res.Steps[2].Output.(domain.CausalEffect)
	require.True(t, ok)
	assert.Equal(t, [][]string{{"smoking", "cancer", "death"}}, est.Paths)
	assertChained(t, res)
}

func TestCausalSignedPath(t *testing.T) {
	e := domain.NewCausalEngine(deps(t))

	res := reason(t, e, "Exercise reduces stress, and stress increases illness. What is the effect of exercise on illness?")

	require.True(t, res.Success, res.Error)
	assert.Equal(t, "exercise causes a decrease in illness", res.FinalAnswer)
}

func TestCausalCycleEdgeDropped(t *testing.T) {
	e := domain.NewCausalEngine(deps(t))

	res := reason(t, e, "Rain causes floods. Floods cause rain.")

	require.True(t, res.Success, res.Error)
	assert.True(t, res.HasIssue(types.KindAdvisory))
	g, ok := res.Steps[1].Output.(domain.CausalGraph)
	require.True(t, ok)
	assert.True(t, g.Acyclic())
	assert.Len(t, g.Edges, 1)
}

func TestCausalWithoutClaims(t *testing.T) {
	e := domain.NewCausalEngine(deps(t))

	res := reason(t, e, "What is the effect of tea?")

	assert.False(t, res.Success)
	assert.Equal(t, types.KindNoStrategy, res.ErrorKind)
}

func TestCancelledContextStopsEngine(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := domain.NewMathEngine(deps(t)).Reason(ctx, types.Problem{Statement: "Solve 2x + 3 = 7"})

	assert.False(t, res.Success)
	assert.Equal(t, types.KindTimeout, res.ErrorKind)
}
