package engine_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubilitics/kubilitics-reasoner/internal/llm"
	"github.com/kubilitics/kubilitics-reasoner/internal/llm/llmtest"
	"github.com/kubilitics/kubilitics-reasoner/internal/metrics"
	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/cot"
	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/domain"
	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/engine"
	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/format"
	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/prompt"
	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/tot"
	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/types"
)

type recordingSink struct {
	mu      sync.Mutex
	records []types.AuditRecord
	err     error
}

func (s *recordingSink) Emit(_ context.Context, rec types.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return s.err
}

func (s *recordingSink) all() []types.AuditRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.AuditRecord(nil), s.records...)
}

func finalStep(answer string, confidence float64) string {
	return fmt.Sprintf(`{"description": "Answer", "reasoning": "working through the problem directly gives this", "output": %q, "confidence": %g, "final": true}`,
		answer, confidence)
}

func newRouter(t *testing.T, oracle llm.Oracle, cfg engine.Config, opts ...engine.Option) *engine.Router {
	t.Helper()
	prompts, err := prompt.NewFramework(prompt.DefaultConfig())
	require.NoError(t, err)
	deps := domain.Deps{Prompts: prompts}
	r, err := engine.New(cfg, []types.Strategy{
		domain.NewMathEngine(deps),
		domain.NewLogicEngine(deps),
		domain.NewCausalEngine(deps),
		cot.New(oracle, prompts, nil, cot.DefaultConfig(), nil),
		tot.New(oracle, prompts, nil, tot.DefaultConfig(), nil),
	}, opts...)
	require.NoError(t, err)
	return r
}

func floatp(v float64) *float64 { return &v }

func TestAutoSelectsMathematical(t *testing.T) {
	fake := &llmtest.Scripted{Responses: []string{finalStep("unused", 0.9)}}
	sink := &recordingSink{}
	r := newRouter(t, fake, engine.DefaultConfig(), engine.WithAuditSink(sink))
	before := testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues("MATHEMATICAL", "success"))

	res := r.Reason(context.Background(), types.Request{ProblemStatement: "Solve 2x + 3 = 7"})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, types.StrategyMathematical, res.StrategyUsed)
	assert.InDelta(t, 2.0, res.FinalAnswer, 1e-6)
	assert.GreaterOrEqual(t, len(res.Steps), 3)
	assert.Equal(t, 0, fake.Calls())
	assert.Equal(t, "classifier", res.Metadata["selected_by"])
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues("MATHEMATICAL", "success")))

	recs := sink.all()
	require.Len(t, recs, 1)
	assert.Equal(t, res.Metadata["question_id"], recs[0].QuestionID)
	assert.Equal(t, types.StrategyMathematical, recs[0].ReasoningType)
	assert.Len(t, recs[0].Steps, len(res.Steps))
	assert.NotEmpty(t, recs[0].FinalPromptText)
}

func TestEmptyInputIsRejected(t *testing.T) {
	for _, statement := range []string{"", "   \n\t"} {
		fake := &llmtest.Scripted{Responses: []string{finalStep("x", 0.9)}}
		sink := &recordingSink{}
		r := newRouter(t, fake, engine.DefaultConfig(), engine.WithAuditSink(sink))

		res := r.Reason(context.Background(), types.Request{ProblemStatement: statement})

		assert.False(t, res.Success)
		assert.Equal(t, types.KindInputValidation, res.ErrorKind)
		assert.Contains(t, res.Error, "problem_statement")
		assert.Nil(t, res.FinalAnswer)
		assert.Equal(t, 0, fake.Calls())
		assert.Len(t, sink.all(), 1, "rejected calls are audited too")
	}
}

func TestInvalidModeIsRejected(t *testing.T) {
	r := newRouter(t, llm.Unconfigured{}, engine.DefaultConfig())

	res := r.Reason(context.Background(), types.Request{ProblemStatement: "2 + 2", Mode: "quantum"})

	assert.Equal(t, types.KindInputValidation, res.ErrorKind)
	assert.Contains(t, res.Error, "mode")
}

func TestExplicitLogicalMode(t *testing.T) {
	r := newRouter(t, llm.Unconfigured{}, engine.DefaultConfig())

	res := r.Reason(context.Background(), types.Request{
		ProblemStatement: "All A are B. Some B are C. What can we conclude?",
		Mode:             types.ModeLogical,
	})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, types.StrategyLogical, res.StrategyUsed)
	assert.True(t, res.HasIssue(types.KindAdvisory))
	assert.Contains(t, res.LastStep().Reasoning, "No valid conclusion")
	assert.Equal(t, "explicit", res.Metadata["selected_by"])
}

func TestModeAliases(t *testing.T) {
	r := newRouter(t, llm.Unconfigured{}, engine.DefaultConfig())

	res := r.Reason(context.Background(), types.Request{ProblemStatement: "Solve 2x + 3 = 7", Mode: "math"})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, string(types.ModeMathematical), res.Metadata["mode"])
}

func TestZeroTimeout(t *testing.T) {
	fake := &llmtest.Scripted{Responses: []string{finalStep("x", 0.9)}}
	r := newRouter(t, fake, engine.DefaultConfig())

	start := time.Now()
	res := r.Reason(context.Background(), types.Request{
		ProblemStatement: "Solve 2x + 3 = 7",
		Config:           types.RequestConfig{TimeoutSeconds: floatp(0)},
	})

	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, res.Success)
	assert.Equal(t, types.KindTimeout, res.ErrorKind)
	assert.Equal(t, 0, fake.Calls())
}

func TestTimeoutReturnsPartialChain(t *testing.T) {
	fake := &llmtest.Scripted{Fn: func(ctx context.Context, _ string, call int) (string, error) {
		if call == 0 {
			return `{"description": "Start", "reasoning": "first we restate the question", "output": "restated", "confidence": 0.9}`, nil
		}
		<-ctx.Done()
		return "", ctx.Err()
	}}
	r := newRouter(t, fake, engine.DefaultConfig())

	res := r.Reason(context.Background(), types.Request{
		ProblemStatement: "Why do leaves change color?",
		Mode:             types.ModeChainOfThought,
		Config:           types.RequestConfig{TimeoutSeconds: floatp(0.2)},
	})

	assert.False(t, res.Success)
	assert.Equal(t, types.KindTimeout, res.ErrorKind)
	assert.Len(t, res.Steps, 1, "partial chain is kept")
}

func TestAutoFallsBackToChainOfThought(t *testing.T) {
	fake := &llmtest.Scripted{Responses: []string{finalStep("blue light scatters more", 0.85)}}
	r := newRouter(t, fake, engine.DefaultConfig())

	res := r.Reason(context.Background(), types.Request{ProblemStatement: "Why is the sky blue?"})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, types.StrategyChainOfThought, res.StrategyUsed)
	assert.Equal(t, "fallback", res.Metadata["selected_by"])
	assert.Equal(t, 1, fake.Calls())
}

func TestDeclinedDomainEngineFallsBack(t *testing.T) {
	fake := &llmtest.Scripted{Responses: []string{finalStep("no solution exists", 0.8)}}
	r := newRouter(t, fake, engine.DefaultConfig())

	res := r.Reason(context.Background(), types.Request{ProblemStatement: "Solve x + 1 = x + 2"})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, types.StrategyChainOfThought, res.StrategyUsed)
	assert.Contains(t, res.Metadata["declined_by"], "no solution")
}

func TestOverflowingExpressionFallsBack(t *testing.T) {
	fake := &llmtest.Scripted{Responses: []string{finalStep("the value is too large to represent", 0.8)}}
	r := newRouter(t, fake, engine.DefaultConfig())

	res := r.Reason(context.Background(), types.Request{ProblemStatement: "Evaluate 2^1000^1000"})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, types.StrategyChainOfThought, res.StrategyUsed)
	assert.Contains(t, res.Metadata["declined_by"], "not a finite number")

	body, _, err := format.Render(res, types.FormatJSON, format.Options{ShowSteps: true})
	require.NoError(t, err)
	assert.Contains(t, string(body), "too large to represent")
}

func TestNoStrategyApplicable(t *testing.T) {
	r := newRouter(t, llm.Unconfigured{}, engine.DefaultConfig())

	res := r.Reason(context.Background(), types.Request{ProblemStatement: "Why is the sky blue?"})

	assert.False(t, res.Success)
	assert.Equal(t, types.KindNoStrategy, res.ErrorKind)
	assert.Nil(t, res.FinalAnswer)
}

func TestClassify(t *testing.T) {
	r := newRouter(t, llm.Unconfigured{}, engine.Config{ComplexityWords: 12, ComplexityClauses: 3})

	tests := []struct {
		statement string
		want      types.StrategyKind
		domain    bool
	}{
		{"Solve 2x + 3 = 7", types.StrategyMathematical, true},
		{"If it rains then the ground is wet. It rains.", types.StrategyLogical, true},
		{"Smoking causes cancer.", types.StrategyCausal, true},
		{"All 3 dogs are 2 + 2 years old", types.StrategyMathematical, true},
		{"Why is the sky blue?", types.StrategyChainOfThought, false},
		{"Design a city transit network that balances cost, coverage, speed, accessibility and long term maintenance for a growing population", types.StrategyTreeOfThoughts, false},
	}
	for _, tt := range tests {
		kind, domain := r.Classify(tt.statement)
		assert.Equal(t, tt.want, kind, tt.statement)
		assert.Equal(t, tt.domain, domain, tt.statement)
	}
}

func TestComplexity(t *testing.T) {
	words, clauses := engine.Complexity("It rains, and the ground is wet; so we stay inside.")
	assert.Equal(t, 11, words)
	assert.Equal(t, 3, clauses)
}

func TestHybridPrefersHigherConfidence(t *testing.T) {
	t.Run("domain engine wins", func(t *testing.T) {
		fake := &llmtest.Scripted{Responses: []string{finalStep("2", 0.6)}}
		r := newRouter(t, fake, engine.DefaultConfig())

		res := r.Reason(context.Background(), types.Request{ProblemStatement: "Solve 2x + 3 = 7", Mode: types.ModeHybrid})

		require.True(t, res.Success)
		assert.Equal(t, types.StrategyMathematical, res.StrategyUsed)
		assert.Positive(t, fake.Calls(), "both candidates ran")
		assert.Len(t, res.Metadata["hybrid_candidates"], 2)
	})
	t.Run("chain of thought wins", func(t *testing.T) {
		fake := &llmtest.Scripted{Responses: []string{finalStep("2", 1.0)}}
		r := newRouter(t, fake, engine.DefaultConfig())

		res := r.Reason(context.Background(), types.Request{ProblemStatement: "Solve 2x + 3 = 7", Mode: types.ModeHybrid})

		require.True(t, res.Success)
		assert.Equal(t, types.StrategyChainOfThought, res.StrategyUsed)
	})
	t.Run("success beats confidence", func(t *testing.T) {
		r := newRouter(t, llm.Unconfigured{}, engine.DefaultConfig())

		res := r.Reason(context.Background(), types.Request{ProblemStatement: "Solve 2x + 3 = 7", Mode: types.ModeHybrid})

		require.True(t, res.Success)
		assert.Equal(t, types.StrategyMathematical, res.StrategyUsed)
	})
}

func TestRetrievedKnowledgeReachesPrompt(t *testing.T) {
	fake := &llmtest.Scripted{Responses: []string{finalStep("rayleigh scattering", 0.9)}}
	retriever := engine.RetrieverFunc(func(_ context.Context, query string, k int) ([]engine.Knowledge, error) {
		return []engine.Knowledge{
			{Content: "low relevance passage", Score: 0.1},
			{Content: "Rayleigh scattering favours short wavelengths", Score: 0.9},
		}, nil
	})
	r := newRouter(t, fake, engine.Config{RetrievalK: 1}, engine.WithRetriever(retriever))

	res := r.Reason(context.Background(), types.Request{ProblemStatement: "Why is the sky blue?"})

	require.True(t, res.Success, res.Error)
	require.Len(t, fake.Prompts(), 1)
	assert.Contains(t, fake.Prompts()[0], "Rayleigh scattering favours short wavelengths")
	assert.NotContains(t, fake.Prompts()[0], "low relevance passage")
	assert.Equal(t, 1, res.Metadata["retrieved"])
}

func TestRetrievalFailureDegrades(t *testing.T) {
	fake := &llmtest.Scripted{Responses: []string{finalStep("scattering", 0.9)}}
	retriever := engine.RetrieverFunc(func(context.Context, string, int) ([]engine.Knowledge, error) {
		return nil, errors.New("index offline")
	})
	r := newRouter(t, fake, engine.DefaultConfig(), engine.WithRetriever(retriever))

	res := r.Reason(context.Background(), types.Request{ProblemStatement: "Why is the sky blue?"})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, "index offline", res.Metadata["retrieval_error"])
}

func TestSubscribersReceiveSteps(t *testing.T) {
	r := newRouter(t, llm.Unconfigured{}, engine.DefaultConfig())
	sub := r.Subscribe()

	res := r.Reason(context.Background(), types.Request{ProblemStatement: "Solve 2x + 3 = 7"})
	r.Unsubscribe(sub)

	var events []types.StepEvent
	for ev := range sub.Ch {
		events = append(events, ev)
	}
	require.Len(t, events, len(res.Steps))
	assert.Equal(t, res.Metadata["question_id"], events[0].QuestionID)
	assert.Equal(t, types.StrategyMathematical, events[0].Strategy)
}

func TestTokenBudgetStopsOracleCalls(t *testing.T) {
	fake := &llmtest.Scripted{Responses: []string{finalStep("x", 0.9)}}
	oracle := llm.Chain(fake, llm.WithTokenBudget())
	r := newRouter(t, oracle, engine.Config{TokenBudget: 10})

	res := r.Reason(context.Background(), types.Request{ProblemStatement: "Why is the sky blue?", Mode: types.ModeChainOfThought})

	assert.False(t, res.Success)
	assert.Equal(t, types.KindStepGeneration, res.ErrorKind)
	assert.Contains(t, res.Error, "token budget exceeded")
	assert.Equal(t, 0, fake.Calls())
}

func TestIncludeValidation(t *testing.T) {
	r := newRouter(t, llm.Unconfigured{}, engine.DefaultConfig())

	res := r.Reason(context.Background(), types.Request{ProblemStatement: "Solve 2x + 3 = 7", IncludeValidation: true})

	require.True(t, res.Success)
	vr, ok := res.Metadata["validation"].(types.ValidationResult)
	require.True(t, ok)
	assert.True(t, vr.IsValid, "%v", vr.Issues)
}

func TestAuditSinkErrorsAreLogged(t *testing.T) {
	sink := &recordingSink{err: errors.New("disk full")}
	r := newRouter(t, llm.Unconfigured{}, engine.DefaultConfig(), engine.WithAuditSink(engine.MultiSink{sink, nil}))

	res := r.Reason(context.Background(), types.Request{ProblemStatement: "Solve 2x + 3 = 7"})

	assert.True(t, res.Success)
	assert.Len(t, sink.all(), 1)
}

func TestMultiSinkJoinsErrors(t *testing.T) {
	a := &recordingSink{err: errors.New("a failed")}
	b := &recordingSink{}
	c := &recordingSink{err: errors.New("c failed")}

	err := engine.MultiSink{a, b, c}.Emit(context.Background(), types.AuditRecord{QuestionID: "q"})

	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "a failed") && strings.Contains(err.Error(), "c failed"))
	assert.Len(t, b.all(), 1)
}

func TestDuplicateStrategyKind(t *testing.T) {
	_, err := engine.New(engine.DefaultConfig(), []types.Strategy{
		domain.NewMathEngine(domain.Deps{}),
		domain.NewMathEngine(domain.Deps{}),
	})
	assert.Error(t, err)
}
