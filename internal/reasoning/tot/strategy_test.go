package tot_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubilitics/kubilitics-reasoner/internal/llm"
	"github.com/kubilitics/kubilitics-reasoner/internal/llm/llmtest"
	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/tot"
	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/types"
)

type alt struct {
	desc   string
	output string
	conf   float64
	final  bool
}

func alts(as ...alt) string {
	parts := make([]string, len(as))
	for i, a := range as {
		parts[i] = fmt.Sprintf(`{"description": %q, "reasoning": "this follows from the current path", "output": %q, "confidence": %g, "final": %t}`,
			a.desc, a.output, a.conf, a.final)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

var threeOpen = alts(
	alt{"Option one", "partial one", 0.8, false},
	alt{"Option two", "partial two", 0.7, false},
	alt{"Option three", "partial three", 0.6, false},
)

func newStrategy(oracle llm.Oracle, mutate ...func(*tot.Config)) *tot.Strategy {
	cfg := tot.DefaultConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	return tot.New(oracle, nil, nil, cfg, nil)
}

func intp(v int) *int { return &v }

func TestNodeBudgetIsNeverExceeded(t *testing.T) {
	for _, alg := range []string{tot.AlgBFS, tot.AlgDFS, tot.AlgBeam, tot.AlgAStar} {
		t.Run(alg, func(t *testing.T) {
			fake := &llmtest.Scripted{Responses: []string{threeOpen}}
			p := types.Problem{ID: "q", Statement: "Plan a route through the maze", Config: types.RequestConfig{
				MaxNodes:        intp(5),
				SearchAlgorithm: alg,
			}}

			res := newStrategy(fake).Reason(context.Background(), p)

			assert.LessOrEqual(t, res.Metadata["nodes_explored"], 5)
			assert.False(t, res.Success)
			assert.Equal(t, types.KindSearchBudget, res.ErrorKind)
			assert.NotEmpty(t, res.Steps, "best partial path is returned")
			assert.Nil(t, res.FinalAnswer)
		})
	}
}

func TestSingleNodeBudgetMakesNoOracleCalls(t *testing.T) {
	fake := &llmtest.Scripted{Responses: []string{threeOpen}}
	p := types.Problem{Statement: "anything", Config: types.RequestConfig{MaxNodes: intp(1)}}

	res := newStrategy(fake).Reason(context.Background(), p)

	assert.Equal(t, 0, fake.Calls())
	assert.False(t, res.Success)
	assert.Equal(t, 1, res.Metadata["nodes_explored"])
}

func TestBeamFindsTerminalNode(t *testing.T) {
	fake := &llmtest.Scripted{Responses: []string{
		threeOpen,
		alts(alt{"Conclude", "42", 0.95, true}, alt{"Keep going", "more", 0.5, false}),
	}}
	var events int
	p := types.Problem{ID: "q", Statement: "What is the answer?", Observer: func(types.StepEvent) { events++ }}

	res := newStrategy(fake).Reason(context.Background(), p)

	require.True(t, res.Success, res.Error)
	assert.Equal(t, types.StrategyTreeOfThoughts, res.StrategyUsed)
	assert.Equal(t, "42", res.FinalAnswer)
	require.Len(t, res.Steps, 2)
	assert.Equal(t, "Option one", res.Steps[0].Description, "winning path goes through the best first-level node")
	assert.Equal(t, res.Steps[0].Output, res.Steps[1].Input)
	assert.Equal(t, []int{res.Steps[0].ID}, res.Steps[1].Dependencies)
	assert.Greater(t, res.OverallConfidence, 0.0)
	assert.Positive(t, events)
	assert.NotEmpty(t, res.FinalPrompt)
}

func TestHighestScoringTerminalWins(t *testing.T) {
	fake := &llmtest.Scripted{Responses: []string{alts(
		alt{"Weak answer", "7", 0.55, true},
		alt{"Strong answer", "8", 0.95, true},
	)}}

	res := newStrategy(fake).Reason(context.Background(), types.Problem{Statement: "Pick a number"})

	require.True(t, res.Success)
	assert.Equal(t, "8", res.FinalAnswer)
	require.Len(t, res.Steps, 1)
}

func TestInvalidAlternativesArePruned(t *testing.T) {
	fake := &llmtest.Scripted{Responses: []string{
		`[{"description": "x", "reasoning": "short", "output": "y", "confidence": 0.9}]`,
	}}

	res := newStrategy(fake).Reason(context.Background(), types.Problem{Statement: "Solve it"})

	assert.False(t, res.Success)
	assert.Equal(t, types.KindStepGeneration, res.ErrorKind)
	assert.Equal(t, 2, fake.Calls(), "one retry before pruning")
	assert.Equal(t, 1, res.Metadata["pruned"])
}

func TestUnconfiguredOracleAbortsSearch(t *testing.T) {
	res := newStrategy(llm.Unconfigured{}).Reason(context.Background(), types.Problem{Statement: "Solve it"})

	assert.False(t, res.Success)
	assert.Equal(t, types.KindStepGeneration, res.ErrorKind)
	assert.Contains(t, res.Error, "not configured")
}

func TestCancelledContextTimesOut(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fake := &llmtest.Scripted{Responses: []string{threeOpen}}

	res := newStrategy(fake).Reason(ctx, types.Problem{Statement: "Solve it"})

	assert.False(t, res.Success)
	assert.Equal(t, types.KindTimeout, res.ErrorKind)
}

func TestConcurrencyIsCapped(t *testing.T) {
	var inFlight, peak atomic.Int32
	fake := &llmtest.Scripted{Fn: func(ctx context.Context, prompt string, call int) (string, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		return threeOpen, nil
	}}

	newStrategy(fake, func(c *tot.Config) {
		c.Concurrency = 2
		c.MaxDepth = 2
	}).Reason(context.Background(), types.Problem{Statement: "Explore"})

	assert.Equal(t, 4, fake.Calls(), "root plus a beam of three")
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

// backtrackOracle makes every expansion under "Approach alpha" fail, while
// "Approach beta" leads to an answer.
func backtrackOracle() *llmtest.Scripted {
	return &llmtest.Scripted{Fn: func(ctx context.Context, prompt string, call int) (string, error) {
		switch {
		case strings.Contains(prompt, "Approach alpha"):
			return "", errors.New("upstream hiccup")
		case strings.Contains(prompt, "Approach beta"):
			return alts(alt{"Finish", "done", 0.9, true}), nil
		}
		return alts(alt{"Approach alpha", "a", 0.9, false}, alt{"Approach beta", "b", 0.8, false}), nil
	}}
}

func TestBeamBacktracksToReserve(t *testing.T) {
	res := newStrategy(backtrackOracle(), func(c *tot.Config) {
		c.BeamWidth = 1
		c.EnableBacktracking = true
	}).Reason(context.Background(), types.Problem{Statement: "Find a way"})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, "done", res.FinalAnswer)
	assert.Equal(t, "Approach beta", res.Steps[0].Description)
	assert.Equal(t, 1, res.Metadata["reserve_revisits"])
}

func TestBeamDefaultDoesNotBacktrack(t *testing.T) {
	require.False(t, tot.DefaultConfig().EnableBacktracking)

	res := newStrategy(backtrackOracle(), func(c *tot.Config) {
		c.BeamWidth = 1
	}).Reason(context.Background(), types.Problem{Statement: "Find a way"})

	assert.False(t, res.Success)
	assert.Equal(t, 0, res.Metadata["reserve_revisits"])
}

func TestBeamWithoutBacktrackingStalls(t *testing.T) {
	p := types.Problem{Statement: "Find a way", Config: types.RequestConfig{EnableBacktracking: new(bool)}}
	res := newStrategy(backtrackOracle(), func(c *tot.Config) {
		c.BeamWidth = 1
	}).Reason(context.Background(), p)

	assert.False(t, res.Success)
	assert.Equal(t, types.KindSearchBudget, res.ErrorKind)
	assert.Equal(t, 0, res.Metadata["reserve_revisits"])
}

func TestDFSGoesDeepFirst(t *testing.T) {
	fake := &llmtest.Scripted{Responses: []string{threeOpen}}
	p := types.Problem{Statement: "Explore", Config: types.RequestConfig{
		SearchAlgorithm: tot.AlgDFS,
		MaxDepth:        intp(3),
		MaxNodes:        intp(10),
	}}

	res := newStrategy(fake).Reason(context.Background(), p)

	assert.Equal(t, 3, res.Metadata["max_depth_reached"])
	assert.Equal(t, 10, res.Metadata["nodes_explored"])
}
