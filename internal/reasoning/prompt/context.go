package prompt

import (
	"unicode/utf8"

	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/types"
)

// EstimateTokens uses the characters/4 heuristic.
func EstimateTokens(s string) int {
	return utf8.RuneCountInString(s) / 4
}

// BuildContext assembles a PromptContext. Knowledge is expected in
// descending relevance order and is pruned from the tail until it fits
// maxTokens; maxTokens <= 0 keeps everything.
func BuildContext(statement, problemType, reasoningType string, knowledge, history []string, maxTokens int) types.PromptContext {
	pc := types.PromptContext{
		ProblemStatement: statement,
		ProblemType:      problemType,
		ReasoningType:    reasoningType,
		History:          append([]string(nil), history...),
	}
	budget := maxTokens - EstimateTokens(statement)
	for _, h := range history {
		budget -= EstimateTokens(h)
	}
	for _, k := range knowledge {
		cost := EstimateTokens(k)
		if maxTokens > 0 && cost > budget {
			break
		}
		budget -= cost
		pc.RetrievedKnowledge = append(pc.RetrievedKnowledge, k)
	}
	return pc
}

// BuildContext builds a context capped at the framework's token budget.
func (f *Framework) BuildContext(statement, problemType, reasoningType string, knowledge, history []string) types.PromptContext {
	return BuildContext(statement, problemType, reasoningType, knowledge, history, f.cfg.MaxContextTokens)
}
