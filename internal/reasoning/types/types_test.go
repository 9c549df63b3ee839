package types

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeightedMean(t *testing.T) {
	assert.Equal(t, 0.0, WeightedMean(nil))
	assert.InDelta(t, 0.5, WeightedMean([]Weighted{{0.4, 1}, {0.6, 1}}), 1e-12)
	assert.InDelta(t, 0.75, WeightedMean([]Weighted{{1, 3}, {0, 1}}), 1e-12)
	// zero and negative weights are ignored
	assert.InDelta(t, 0.2, WeightedMean([]Weighted{{0.2, 1}, {0.9, 0}, {0.9, -2}}), 1e-12)
	// values are clamped
	assert.Equal(t, 1.0, WeightedMean([]Weighted{{7, 1}}))
}

func TestAggregateDiscardsLowConfidence(t *testing.T) {
	steps := []Step{{Confidence: 0.8}, {Confidence: 0.05}, {Confidence: 0.6}}
	assert.InDelta(t, 0.7, Aggregate(steps, DefaultDiscardThreshold, nil), 1e-12)

	// everything below the threshold falls back to all steps
	low := []Step{{Confidence: 0.02}, {Confidence: 0.04}}
	assert.InDelta(t, 0.03, Aggregate(low, DefaultDiscardThreshold, nil), 1e-12)
}

func TestFinalStepWeight(t *testing.T) {
	steps := []Step{{Confidence: 0.5}, {Confidence: 1.0, Final: true}}
	// (0.5*1 + 1.0*1.5) / 2.5
	assert.InDelta(t, 0.8, Aggregate(steps, 0, FinalStepWeight), 1e-12)
}

func TestClamp01(t *testing.T) {
	assert.Equal(t, 0.0, Clamp01(-1))
	assert.Equal(t, 0.0, Clamp01(math.NaN()))
	assert.Equal(t, 1.0, Clamp01(1.2))
	assert.Equal(t, 0.3, Clamp01(0.3))
}

func TestResultNormalize(t *testing.T) {
	r := NewResult(StrategyChainOfThought)
	r.Steps = append(r.Steps, Step{Confidence: 3}, Step{Confidence: -1})
	r.OverallConfidence = 2
	r.Normalize()
	assert.Equal(t, 1.0, r.Steps[0].Confidence)
	assert.Equal(t, 0.0, r.Steps[1].Confidence)
	assert.Equal(t, 1.0, r.OverallConfidence)
}

func TestKindOf(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NewError(KindStepGeneration, "bad output", errors.New("eof")))
	assert.Equal(t, KindStepGeneration, KindOf(err))
	assert.Equal(t, KindTimeout, KindOf(fmt.Errorf("call: %w", context.DeadlineExceeded)))
	assert.Equal(t, ErrorKind(""), KindOf(errors.New("other")))
	assert.Equal(t, ErrorKind(""), KindOf(nil))
	assert.True(t, KindLowConfidence.Soft())
	assert.False(t, KindTimeout.Soft())
}

func TestParseMode(t *testing.T) {
	assert.Equal(t, ModeAuto, ParseMode(""))
	assert.Equal(t, ModeTreeOfThoughts, ParseMode("ToT"))
	assert.Equal(t, ModeLogical, ParseMode("LOGICAL"))
	assert.Equal(t, Mode("BOGUS"), ParseMode("bogus"))
}

func TestRequestTimeout(t *testing.T) {
	var c RequestConfig
	assert.Equal(t, DefaultTimeout, c.Timeout())
	zero := 0.0
	c.TimeoutSeconds = &zero
	assert.Equal(t, 0*DefaultTimeout, c.Timeout())
	half := 0.5
	c.TimeoutSeconds = &half
	require.Equal(t, 500_000_000, int(c.Timeout()))
}
