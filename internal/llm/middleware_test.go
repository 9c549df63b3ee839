package llm_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubilitics/kubilitics-reasoner/internal/llm"
	"github.com/kubilitics/kubilitics-reasoner/internal/llm/llmtest"
	"github.com/kubilitics/kubilitics-reasoner/internal/metrics"
)

func TestRetryRecoversFromTransientErrors(t *testing.T) {
	fake := &llmtest.Scripted{Fn: func(_ context.Context, _ string, call int) (string, error) {
		if call < 2 {
			return "", errors.New("503 unavailable")
		}
		return "ok", nil
	}}
	o := llm.Chain(fake, llm.WithRetry(3, time.Millisecond))

	resp, err := o.Generate(context.Background(), "p", llm.GenerateOptions{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)
	assert.Equal(t, 3, fake.Calls())
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	fake := &llmtest.Scripted{Fn: func(context.Context, string, int) (string, error) {
		return "", llm.Permanent(errors.New("401 unauthorized"))
	}}
	o := llm.Chain(fake, llm.WithRetry(5, time.Millisecond))

	_, err := o.Generate(context.Background(), "p", llm.GenerateOptions{})
	require.Error(t, err)
	assert.True(t, llm.IsPermanent(err))
	assert.Equal(t, 1, fake.Calls())
}

func TestRetryStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fake := &llmtest.Scripted{Fn: func(context.Context, string, int) (string, error) {
		cancel()
		return "", errors.New("boom")
	}}
	o := llm.Chain(fake, llm.WithRetry(5, time.Hour))

	_, err := o.Generate(ctx, "p", llm.GenerateOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, fake.Calls())
}

func TestCacheOnlyServesDeterministicCalls(t *testing.T) {
	fake := &llmtest.Scripted{Responses: []string{"first", "second", "third"}}
	o := llm.Chain(fake, llm.WithCache(8))
	ctx := context.Background()
	hits := testutil.ToFloat64(metrics.OracleCacheHits)

	a, _ := o.Generate(ctx, "p", llm.GenerateOptions{Temperature: 0})
	b, _ := o.Generate(ctx, "p", llm.GenerateOptions{Temperature: 0})
	assert.Equal(t, "first", a)
	assert.Equal(t, "first", b)
	assert.Equal(t, 1, fake.Calls())
	assert.Equal(t, hits+1, testutil.ToFloat64(metrics.OracleCacheHits))

	c, _ := o.Generate(ctx, "p", llm.GenerateOptions{Temperature: 0.7})
	assert.Equal(t, "second", c)
	assert.Equal(t, 2, fake.Calls())
}

func TestTokenBudgetRejectsOverspend(t *testing.T) {
	fake := &llmtest.Scripted{Responses: []string{"0123456789abcdef"}} // 4 tokens
	o := llm.Chain(fake, llm.WithTokenBudget(), llm.WithRetry(3, time.Millisecond))
	ctx, budget := llm.WithRequestBudget(context.Background(), 20)
	prompt := "0123456789abcdef0123456789abcdef" // 8 tokens

	_, err := o.Generate(ctx, prompt, llm.GenerateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 12, budget.Usage().Total())

	_, err = o.Generate(ctx, prompt, llm.GenerateOptions{MaxTokens: 4})
	assert.ErrorIs(t, err, llm.ErrBudgetExceeded)
	assert.Equal(t, 1, fake.Calls(), "a rejected call never reaches the provider")
}

func TestTokenBudgetPassesWithoutContextBudget(t *testing.T) {
	fake := &llmtest.Scripted{Responses: []string{"ok"}}
	o := llm.Chain(fake, llm.WithTokenBudget())
	_, err := o.Generate(context.Background(), "p", llm.GenerateOptions{MaxTokens: 1 << 20})
	assert.NoError(t, err)
}

func TestRateLimitWaitHonoursContext(t *testing.T) {
	fake := &llmtest.Scripted{Responses: []string{"ok"}}
	o := llm.Chain(fake, llm.WithRateLimit(0.001, 1))
	ctx := context.Background()

	_, err := o.Generate(ctx, "p", llm.GenerateOptions{})
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = o.Generate(short, "p", llm.GenerateOptions{})
	assert.Error(t, err)
	assert.Equal(t, 1, fake.Calls())
}

func TestChainKeepsProviderIdentity(t *testing.T) {
	fake := &llmtest.Scripted{Responses: []string{"ok"}}
	o := llm.Chain(fake, llm.WithCache(4), llm.WithTokenBudget(), llm.WithRetry(2, 0), llm.WithRateLimit(0, 0), llm.WithMetrics())
	assert.Equal(t, "fake", o.Provider())
	assert.Equal(t, "scripted", o.Model())

	before := testutil.ToFloat64(metrics.OracleRequestsTotal.WithLabelValues("fake", "scripted", "success"))
	_, err := o.Generate(context.Background(), "p", llm.GenerateOptions{Temperature: 0.5})
	require.NoError(t, err)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.OracleRequestsTotal.WithLabelValues("fake", "scripted", "success")))
}

func TestNewWithoutProviderIsUnconfigured(t *testing.T) {
	o, err := llm.New(llm.Config{}, nil)
	require.NoError(t, err)
	_, err = o.Generate(context.Background(), "p", llm.GenerateOptions{})
	assert.ErrorIs(t, err, llm.ErrProviderNotConfigured)
	assert.True(t, llm.IsPermanent(err))

	o, err = llm.New(llm.Config{Provider: llm.ProviderOpenAI}, nil)
	require.NoError(t, err)
	assert.Equal(t, "none", o.Provider())

	_, err = llm.New(llm.Config{Provider: "carrier-pigeon", APIKey: "k"}, nil)
	assert.Error(t, err)
}

func TestNewOllamaDefaults(t *testing.T) {
	o, err := llm.NewOpenAI(llm.Config{Provider: llm.ProviderOllama})
	require.NoError(t, err)
	assert.Equal(t, llm.DefaultOllamaModel, o.Model())
	assert.Equal(t, llm.ProviderOllama, o.Provider())

	_, err = llm.NewOpenAI(llm.Config{Provider: llm.ProviderCustom})
	assert.Error(t, err)
}

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		name, in, want string
		ok             bool
	}{
		{"bare object", `{"a": 1}`, `{"a": 1}`, true},
		{"fenced object", "Here:\n```json\n{\"a\": {\"b\": 2}}\n```\nDone", `{"a": {"b": 2}}`, true},
		{"array", `Steps: [{"a":1},{"a":2}] end`, `[{"a":1},{"a":2}]`, true},
		{"object containing array", `{"xs": [1, 2]}`, `{"xs": [1, 2]}`, true},
		{"no json", "just words", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := llm.ExtractJSON(tc.in)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}
