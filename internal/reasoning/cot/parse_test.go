package cot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDraftJSONAliases(t *testing.T) {
	d, err := ParseDraft(`{"step": "Compute", "rationale": "sum of parts is total", "answer": 5, "confidence": "85%", "is_final": "yes"}`)
	require.NoError(t, err)
	assert.Equal(t, "Compute", d.Description)
	assert.Equal(t, "sum of parts is total", d.Reasoning)
	assert.Equal(t, float64(5), d.Output)
	assert.InDelta(t, 0.85, d.Confidence, 1e-9)
	assert.True(t, d.Final)
}

func TestParseDraftLineFallback(t *testing.T) {
	d, err := ParseDraft("**Description:** Simplify\nReasoning: combine like terms first\nFinal Answer: x = 4\nConfidence: 90")
	require.NoError(t, err)
	assert.Equal(t, "Simplify", d.Description)
	assert.Equal(t, "x = 4", d.Output)
	assert.True(t, d.Final)
	assert.InDelta(t, 0.9, d.Confidence, 1e-9)
}

func TestParseDraftRejectsMissingOutput(t *testing.T) {
	_, err := ParseDraft(`{"description": "nothing here"}`)
	assert.ErrorIs(t, err, ErrUnparsable)
	_, err = ParseDraft("no structure at all")
	assert.ErrorIs(t, err, ErrUnparsable)
}

func TestParseDraftsLimitsAndSkips(t *testing.T) {
	ds, err := ParseDrafts(`[{"output": "a"}, {"description": "broken"}, {"output": "b", "confidence": 0.7}, {"output": "c"}]`, 2)
	require.NoError(t, err)
	require.Len(t, ds, 2)
	assert.Equal(t, "a", ds[0].Output)
	assert.Equal(t, "b", ds[1].Output)
	assert.InDelta(t, 0.5, ds[0].Confidence, 1e-9, "missing confidence defaults to 0.5")

	ds, err = ParseDrafts(`{"output": "solo", "final": true}`, 3)
	require.NoError(t, err)
	require.Len(t, ds, 1)
	assert.True(t, ds[0].Final)
}
