package config

import (
	"strings"
	"time"

	"github.com/kubilitics/kubilitics-reasoner/internal/llm"
	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/cot"
	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/engine"
	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/prompt"
	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/tot"
	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/validation"
)

// OracleConfig returns the llm section as an oracle config.
func (c *Config) OracleConfig() llm.Config {
	return llm.Config{
		Provider:       c.LLM.Provider,
		APIKey:         c.LLM.APIKey,
		Model:          c.LLM.Model,
		BaseURL:        c.LLM.BaseURL,
		SystemPrompt:   c.LLM.SystemPrompt,
		Timeout:        time.Duration(c.LLM.TimeoutSeconds) * time.Second,
		MaxRetries:     c.LLM.MaxRetries,
		RetryBaseDelay: time.Duration(c.LLM.RetryBaseDelayMS) * time.Millisecond,
		RateLimitRPS:   c.LLM.RateLimitRPS,
		RateLimitBurst: c.LLM.RateLimitBurst,
		CacheSize:      c.LLM.CacheSize,
	}
}

// RouterConfig returns the reasoning section as a router config.
func (c *Config) RouterConfig() engine.Config {
	return engine.Config{
		ComplexityWords:   c.Reasoning.ComplexityWords,
		ComplexityClauses: c.Reasoning.ComplexityClauses,
		RetrievalK:        c.Reasoning.RetrievalK,
		TokenBudget:       c.Reasoning.TokenBudget,
		SubscriberBuffer:  c.Reasoning.SubscriberBuffer,
	}
}

// ValidatorConfig returns the validation thresholds.
func (c *Config) ValidatorConfig() validation.Config {
	return validation.Config{
		MinReasoningLength: c.Validation.MinReasoningLength,
		MinConfidence:      c.Validation.MinConfidence,
		NumericTolerance:   c.Validation.NumericTolerance,
		OutlierStdDevs:     c.Validation.OutlierStdDevs,
	}
}

// ChainConfig returns the chain_of_thought section.
func (c *Config) ChainConfig() cot.Config {
	s := c.ChainOfThought
	return cot.Config{
		MaxSteps:          s.MaxSteps,
		MaxIterations:     s.MaxIterations,
		RefineBelow:       s.RefineBelow,
		EnableRefinement:  s.EnableRefinement,
		GenerationRetries: s.GenerationRetries,
		Temperature:       float32(s.Temperature),
		MaxTokens:         s.MaxTokens,
		MaxContextTokens:  s.MaxContextTokens,
	}
}

// TreeConfig returns the tree_of_thoughts section.
func (c *Config) TreeConfig() tot.Config {
	s := c.TreeOfThoughts
	return tot.Config{
		MaxDepth:           s.MaxDepth,
		MaxBranchingFactor: s.MaxBranchingFactor,
		MaxNodes:           s.MaxNodes,
		BeamWidth:          s.BeamWidth,
		Algorithm:          strings.ToUpper(s.SearchAlgorithm),
		Evaluation:         strings.ToUpper(s.Evaluation),
		EnableBacktracking: s.EnableBacktracking,
		ReserveSize:        s.ReserveSize,
		Concurrency:        s.Concurrency,
		TieBreak:           s.TieBreak,
		GenerationRetries:  s.GenerationRetries,
		Temperature:        float32(s.Temperature),
		MaxTokens:          s.MaxTokens,
		MaxContextTokens:   s.MaxContextTokens,
	}
}

// PromptFrameworkConfig returns the prompt framework policy.
func (c *Config) PromptFrameworkConfig() prompt.Config {
	return prompt.Config{
		MinSamples:        c.Prompt.MinSamples,
		SignificanceLevel: c.Prompt.SignificanceLevel,
		TrafficSplit:      c.Prompt.TrafficSplit,
		Variance:          c.Prompt.Variance,
		ExploreEvery:      c.Prompt.ExploreEvery,
		MaxContextTokens:  c.Prompt.MaxContextTokens,
	}
}
