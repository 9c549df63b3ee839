package format_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/format"
	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/types"
)

func sample() *types.Result {
	res := types.NewResult(types.StrategyMathematical)
	res.Success = true
	res.FinalAnswer = 2.0
	res.OverallConfidence = 0.95
	res.Steps = []types.Step{
		{ID: 1, Description: "Parse problem", Reasoning: "Extracted the equation.", Input: "Solve 2x + 3 = 7", Output: "2x + 3 = 7", Confidence: 0.95,
			Validation: &types.ValidationResult{IsValid: true}},
		{ID: 2, Description: "Compute", Reasoning: "Isolated x", Input: "2x + 3 = 7", Output: 2.0, Confidence: 0.95, Final: true},
	}
	res.AddIssue(types.KindLowConfidence, "step 1 is shaky")
	res.SetMeta("validation", types.ValidationResult{IsValid: true, Issues: []string{"outlier check skipped"}})
	return res
}

func TestParseFormat(t *testing.T) {
	f, err := format.ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, types.FormatJSON, f)

	f, err = format.ParseFormat(" Markdown ")
	require.NoError(t, err)
	assert.Equal(t, types.FormatMarkdown, f)

	_, err = format.ParseFormat("pdf")
	assert.Error(t, err)
}

func TestJSONIsCanonical(t *testing.T) {
	body, ct, err := format.Render(sample(), types.FormatJSON, format.Options{ShowSteps: true, IncludeValidation: true})
	require.NoError(t, err)
	assert.Equal(t, format.ContentTypeJSON, ct)

	var got map[string]any
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, true, got["success"])
	assert.Equal(t, 2.0, got["final_answer"])
	assert.Equal(t, "MATHEMATICAL", got["strategy_used"])
	assert.Len(t, got["steps"], 2)
	assert.Contains(t, got["metadata"], "validation")
}

func TestOptionsHideStepsAndValidation(t *testing.T) {
	res := sample()
	body, _, err := format.Render(res, types.FormatJSON, format.Options{})
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Empty(t, got["steps"])
	assert.NotContains(t, string(body), "outlier check skipped")
	assert.Len(t, res.Steps, 2, "the result itself is untouched")
	assert.Contains(t, res.Metadata, "validation")

	body, _, err = format.Render(res, types.FormatJSON, format.Options{ShowSteps: true})
	require.NoError(t, err)
	assert.NotContains(t, string(body), `"validation"`)
	assert.NotNil(t, res.Steps[0].Validation)
}

func TestTextHasNoMarkup(t *testing.T) {
	body, ct, err := format.Render(sample(), types.FormatText, format.Options{ShowSteps: true, IncludeValidation: true})
	require.NoError(t, err)
	assert.Equal(t, format.ContentTypeText, ct)

	text := string(body)
	assert.Contains(t, text, "Answer: 2.")
	assert.Contains(t, text, "Step 1, Parse problem: Extracted the equation. Result: 2x + 3 = 7")
	assert.Contains(t, text, "Validation passed.")
	for _, mark := range []string{"#", "**", "`", "<"} {
		assert.NotContains(t, text, mark)
	}
}

func TestTextForFailure(t *testing.T) {
	res := types.NewResult(types.StrategyTreeOfThoughts).Fail(types.KindSearchBudget, "no terminal node.")
	body, _, err := format.Render(res, types.FormatText, format.Options{})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(body), "No answer was reached (SearchBudgetExceeded): no terminal node."))
}

func TestMarkdownStructure(t *testing.T) {
	body, ct, err := format.Render(sample(), types.FormatMarkdown, format.Options{ShowSteps: true})
	require.NoError(t, err)
	assert.Equal(t, format.ContentTypeMarkdown, ct)

	md := string(body)
	assert.Contains(t, md, "# Reasoning result")
	assert.Contains(t, md, "## Answer\n\n2")
	assert.Contains(t, md, "1. **Parse problem**")
	assert.Contains(t, md, "2. **Compute**")
	assert.Contains(t, md, "## Issues")
	assert.NotContains(t, md, "## Validation")
}

func TestHTMLRendersMarkdown(t *testing.T) {
	body, ct, err := format.Render(sample(), types.FormatHTML, format.Options{ShowSteps: true, IncludeValidation: true})
	require.NoError(t, err)
	assert.Equal(t, format.ContentTypeHTML, ct)

	page := string(body)
	assert.Contains(t, page, "<h1")
	assert.Contains(t, page, "Reasoning result")
	assert.Contains(t, page, "<ol>")
	assert.Contains(t, page, "<strong>Parse problem</strong>")
	assert.Contains(t, page, "Validation")
}

func TestValue(t *testing.T) {
	assert.Equal(t, "none", format.Value(nil))
	assert.Equal(t, "2", format.Value(2.0))
	assert.Equal(t, "2, 3", format.Value([]float64{2, 3}))
	assert.Equal(t, `{"a":1}`, format.Value(map[string]int{"a": 1}))
}

func TestUnknownFormat(t *testing.T) {
	_, _, err := format.Render(sample(), "pdf", format.Options{})
	assert.Error(t, err)
}
