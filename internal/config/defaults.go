package config

import (
	"os"
	"path/filepath"
)

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:         "openai",
			Model:            "gpt-4o-mini",
			TimeoutSeconds:   60,
			MaxRetries:       3,
			RetryBaseDelayMS: 500,
			RateLimitRPS:     5,
			RateLimitBurst:   5,
			CacheSize:        256,
		},
		Reasoning: ReasoningConfig{
			ComplexityWords:   60,
			ComplexityClauses: 4,
			RetrievalK:        5,
			SubscriberBuffer:  64,
		},
		Validation: ValidationConfig{
			MinReasoningLength: 10,
			MinConfidence:      0.5,
			NumericTolerance:   1e-6,
			OutlierStdDevs:     2.0,
		},
		ChainOfThought: ChainOfThoughtConfig{
			MaxSteps:          10,
			MaxIterations:     3,
			RefineBelow:       0.7,
			EnableRefinement:  true,
			GenerationRetries: 2,
			Temperature:       0.2,
			MaxTokens:         512,
			MaxContextTokens:  2000,
		},
		TreeOfThoughts: TreeOfThoughtsConfig{
			MaxDepth:           5,
			MaxBranchingFactor: 3,
			MaxNodes:           50,
			BeamWidth:          3,
			SearchAlgorithm:    "BEAM",
			Evaluation:         "HYBRID",
			EnableBacktracking: false,
			ReserveSize:        16,
			TieBreak:           "shorter_then_earlier",
			GenerationRetries:  1,
			Temperature:        0.7,
			MaxTokens:          1024,
			MaxContextTokens:   2000,
		},
		Prompt: PromptConfig{
			MinSamples:        20,
			SignificanceLevel: 0.95,
			TrafficSplit:      0.5,
			Variance:          "pooled",
			ExploreEvery:      10,
			MaxContextTokens:  2000,
		},
		Database: DatabaseConfig{
			Type:       "sqlite",
			SQLitePath: filepath.Join(dataDir(), "reasoner.db"),
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
			Compress:   true,
		},
		Audit: AuditConfig{
			Enabled:         true,
			File:            filepath.Join(dataDir(), "audit.log"),
			MaxSizeMB:       100,
			MaxBackups:      10,
			MaxAgeDays:      90,
			BufferSize:      256,
			FlushIntervalMS: 1000,
		},
		Metrics: MetricsConfig{
			Path: "/metrics",
		},
	}
}

func dataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".kubilitics", "reasoner")
}
