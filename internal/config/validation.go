package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validate validates the configuration and returns validation errors.
func (c *Config) Validate() []error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// LLM
	switch c.LLM.Provider {
	case "", "openai", "ollama", "custom":
	default:
		add("llm.provider", "invalid provider '%s', must be one of: openai, ollama, custom", c.LLM.Provider)
	}
	if (c.LLM.Provider == "ollama" || c.LLM.Provider == "custom") && c.LLM.BaseURL == "" {
		add("llm.base_url", "base_url is required for provider %s", c.LLM.Provider)
	}
	if c.LLM.Provider != "" && c.LLM.Model == "" {
		add("llm.model", "model is required when a provider is set")
	}
	if c.LLM.TimeoutSeconds < 1 {
		add("llm.timeout_seconds", "timeout must be at least 1 second, got %d", c.LLM.TimeoutSeconds)
	}
	if c.LLM.MaxRetries < 0 {
		add("llm.max_retries", "max_retries cannot be negative")
	}
	if c.LLM.RateLimitRPS < 0 {
		add("llm.rate_limit_rps", "rate_limit_rps cannot be negative")
	}
	if c.LLM.CacheSize < 0 {
		add("llm.cache_size", "cache_size cannot be negative")
	}

	// Reasoning
	if c.Reasoning.ComplexityWords < 1 {
		add("reasoning.complexity_words", "must be at least 1, got %d", c.Reasoning.ComplexityWords)
	}
	if c.Reasoning.ComplexityClauses < 1 {
		add("reasoning.complexity_clauses", "must be at least 1, got %d", c.Reasoning.ComplexityClauses)
	}
	if c.Reasoning.RetrievalK < 0 {
		add("reasoning.retrieval_k", "retrieval_k cannot be negative")
	}
	if c.Reasoning.TokenBudget < 0 {
		add("reasoning.token_budget", "token_budget cannot be negative")
	}

	// Validation
	if !unit(c.Validation.MinConfidence) {
		add("validation.min_confidence", "must be between 0 and 1, got %g", c.Validation.MinConfidence)
	}
	if c.Validation.NumericTolerance <= 0 {
		add("validation.numeric_tolerance", "numeric_tolerance must be positive")
	}
	if c.Validation.OutlierStdDevs <= 0 {
		add("validation.outlier_std_devs", "outlier_std_devs must be positive")
	}

	// Chain of thought
	if c.ChainOfThought.MaxSteps < 1 {
		add("chain_of_thought.max_steps", "max_steps must be at least 1, got %d", c.ChainOfThought.MaxSteps)
	}
	if c.ChainOfThought.MaxIterations < 1 {
		add("chain_of_thought.max_iterations", "max_iterations must be at least 1, got %d", c.ChainOfThought.MaxIterations)
	}
	if !unit(c.ChainOfThought.RefineBelow) {
		add("chain_of_thought.refine_below", "must be between 0 and 1, got %g", c.ChainOfThought.RefineBelow)
	}
	if c.ChainOfThought.Temperature < 0 || c.ChainOfThought.Temperature > 2 {
		add("chain_of_thought.temperature", "temperature must be between 0 and 2, got %g", c.ChainOfThought.Temperature)
	}

	// Tree of thoughts
	t := c.TreeOfThoughts
	if t.MaxDepth < 1 {
		add("tree_of_thoughts.max_depth", "max_depth must be at least 1, got %d", t.MaxDepth)
	}
	if t.MaxBranchingFactor < 1 {
		add("tree_of_thoughts.max_branching_factor", "max_branching_factor must be at least 1, got %d", t.MaxBranchingFactor)
	}
	if t.MaxNodes < 1 {
		add("tree_of_thoughts.max_nodes", "max_nodes must be at least 1, got %d", t.MaxNodes)
	}
	if t.BeamWidth < 1 {
		add("tree_of_thoughts.beam_width", "beam_width must be at least 1, got %d", t.BeamWidth)
	}
	if !oneOf(strings.ToUpper(t.SearchAlgorithm), "BFS", "DFS", "BEAM", "A*") {
		add("tree_of_thoughts.search_algorithm", "invalid search algorithm '%s', must be one of: BFS, DFS, BEAM, A*", t.SearchAlgorithm)
	}
	if !oneOf(strings.ToUpper(t.Evaluation), "CONFIDENCE", "COMPLETENESS", "EFFICIENCY", "HYBRID") {
		add("tree_of_thoughts.evaluation_strategy", "invalid evaluation strategy '%s'", t.Evaluation)
	}
	if !oneOf(t.TieBreak, "shorter_then_earlier", "earlier_only") {
		add("tree_of_thoughts.tie_break", "invalid tie_break '%s', must be shorter_then_earlier or earlier_only", t.TieBreak)
	}
	if t.Concurrency < 0 {
		add("tree_of_thoughts.concurrency", "concurrency cannot be negative")
	}

	// Prompt
	if c.Prompt.MinSamples < 1 {
		add("prompt.min_samples", "min_samples must be at least 1, got %d", c.Prompt.MinSamples)
	}
	if c.Prompt.SignificanceLevel <= 0.5 || c.Prompt.SignificanceLevel >= 1 {
		add("prompt.significance_level", "significance_level must be in (0.5, 1), got %g", c.Prompt.SignificanceLevel)
	}
	if c.Prompt.TrafficSplit <= 0 || c.Prompt.TrafficSplit >= 1 {
		add("prompt.traffic_split", "traffic_split must be in (0, 1), got %g", c.Prompt.TrafficSplit)
	}
	if !oneOf(c.Prompt.Variance, "pooled", "unpooled") {
		add("prompt.variance", "invalid variance '%s', must be pooled or unpooled", c.Prompt.Variance)
	}

	// Database
	switch c.Database.Type {
	case "none":
	case "sqlite":
		if c.Database.SQLitePath == "" {
			add("database.sqlite_path", "sqlite_path is required when type is sqlite")
		}
	case "postgres":
		if c.Database.PostgresURL == "" {
			add("database.postgres_url", "postgres_url is required when type is postgres")
		}
	default:
		add("database.type", "invalid database type '%s', must be one of: none, sqlite, postgres", c.Database.Type)
	}

	// Logging
	if !oneOf(c.Logging.Level, "debug", "info", "warn", "error") {
		add("logging.level", "invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level)
	}
	if !oneOf(c.Logging.Format, "json", "console") {
		add("logging.format", "invalid log format '%s', must be json or console", c.Logging.Format)
	}

	// Audit
	if c.Audit.Enabled {
		if c.Audit.File == "" {
			add("audit.file", "file is required when audit is enabled")
		}
		if c.Audit.BufferSize < 1 {
			add("audit.buffer_size", "buffer_size must be at least 1, got %d", c.Audit.BufferSize)
		}
	}

	// Metrics
	if c.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(c.Metrics.ListenAddress); err != nil {
			add("metrics.listen_address", "invalid address format (expected host:port): %v", err)
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			add("metrics.path", "path must start with '/'")
		}
	}

	return errs
}

func unit(v float64) bool { return v >= 0 && v <= 1 }

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}
