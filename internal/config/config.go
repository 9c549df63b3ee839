package config

import "context"

// Package config provides configuration management for the reasoner.
//
// Responsibilities:
//   - Load configuration from YAML files and environment variables
//   - Validate configuration on startup
//   - Translate sections into the component configs of the reasoning packages
//   - Reload on file change
//   - Keep secrets (API keys, database URLs) out of the config file when desired
//
// Configuration Sources (priority order, high to low):
//   1. CLI flags (applied by the caller after Load)
//   2. Environment variables (KUBILITICS_REASONER_* prefix, OPENAI_API_KEY)
//   3. YAML config file (reasoner.yaml in ., $HOME/.kubilitics, /etc/kubilitics)
//   4. Built-in defaults (lowest priority)
//
// Main Configuration Sections:
//
//   1. llm: oracle provider, model, credentials, retry, rate limit, cache
//   2. reasoning: AUTO classification thresholds, retrieval depth, token budget
//   3. validation: step thresholds and numeric tolerance
//   4. chain_of_thought: step cap, refinement, sampling
//   5. tree_of_thoughts: search algorithm, budgets, evaluation, tie-break
//   6. prompt: optimizer and A/B test policy, optional YAML template pack
//   7. database: "none" | "sqlite" | "postgres"
//   8. logging: level, format, optional rotated file
//   9. audit: JSON lines audit file with rotation
//  10. metrics: optional prometheus listener

// Config is the full reasoner configuration.
type Config struct {
	LLM            LLMConfig            `mapstructure:"llm" yaml:"llm"`
	Reasoning      ReasoningConfig      `mapstructure:"reasoning" yaml:"reasoning"`
	Validation     ValidationConfig     `mapstructure:"validation" yaml:"validation"`
	ChainOfThought ChainOfThoughtConfig `mapstructure:"chain_of_thought" yaml:"chain_of_thought"`
	TreeOfThoughts TreeOfThoughtsConfig `mapstructure:"tree_of_thoughts" yaml:"tree_of_thoughts"`
	Prompt         PromptConfig         `mapstructure:"prompt" yaml:"prompt"`
	Database       DatabaseConfig       `mapstructure:"database" yaml:"database"`
	Logging        LoggingConfig        `mapstructure:"logging" yaml:"logging"`
	Audit          AuditConfig          `mapstructure:"audit" yaml:"audit"`
	Metrics        MetricsConfig        `mapstructure:"metrics" yaml:"metrics"`
}

// LLMConfig configures the oracle.
type LLMConfig struct {
	// Provider is "openai", "ollama", "custom" or empty for no oracle.
	Provider         string  `mapstructure:"provider" yaml:"provider"`
	APIKey           string  `mapstructure:"api_key" yaml:"api_key"`
	Model            string  `mapstructure:"model" yaml:"model"`
	BaseURL          string  `mapstructure:"base_url" yaml:"base_url"`
	SystemPrompt     string  `mapstructure:"system_prompt" yaml:"system_prompt"`
	TimeoutSeconds   int     `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	MaxRetries       int     `mapstructure:"max_retries" yaml:"max_retries"`
	RetryBaseDelayMS int     `mapstructure:"retry_base_delay_ms" yaml:"retry_base_delay_ms"`
	RateLimitRPS     float64 `mapstructure:"rate_limit_rps" yaml:"rate_limit_rps"`
	RateLimitBurst   int     `mapstructure:"rate_limit_burst" yaml:"rate_limit_burst"`
	CacheSize        int     `mapstructure:"cache_size" yaml:"cache_size"`
}

// ReasoningConfig configures the router.
type ReasoningConfig struct {
	ComplexityWords   int `mapstructure:"complexity_words" yaml:"complexity_words"`
	ComplexityClauses int `mapstructure:"complexity_clauses" yaml:"complexity_clauses"`
	RetrievalK        int `mapstructure:"retrieval_k" yaml:"retrieval_k"`
	// TokenBudget caps estimated oracle tokens per request; 0 disables.
	TokenBudget      int `mapstructure:"token_budget" yaml:"token_budget"`
	SubscriberBuffer int `mapstructure:"subscriber_buffer" yaml:"subscriber_buffer"`
}

// ValidationConfig configures step validation.
type ValidationConfig struct {
	MinReasoningLength int     `mapstructure:"min_reasoning_length" yaml:"min_reasoning_length"`
	MinConfidence      float64 `mapstructure:"min_confidence" yaml:"min_confidence"`
	NumericTolerance   float64 `mapstructure:"numeric_tolerance" yaml:"numeric_tolerance"`
	OutlierStdDevs     float64 `mapstructure:"outlier_std_devs" yaml:"outlier_std_devs"`
}

// ChainOfThoughtConfig configures the chain strategy.
type ChainOfThoughtConfig struct {
	MaxSteps          int     `mapstructure:"max_steps" yaml:"max_steps"`
	MaxIterations     int     `mapstructure:"max_iterations" yaml:"max_iterations"`
	RefineBelow       float64 `mapstructure:"refine_below" yaml:"refine_below"`
	EnableRefinement  bool    `mapstructure:"enable_refinement" yaml:"enable_refinement"`
	GenerationRetries int     `mapstructure:"generation_retries" yaml:"generation_retries"`
	Temperature       float64 `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens         int     `mapstructure:"max_tokens" yaml:"max_tokens"`
	MaxContextTokens  int     `mapstructure:"max_context_tokens" yaml:"max_context_tokens"`
}

// TreeOfThoughtsConfig configures the tree search strategy.
type TreeOfThoughtsConfig struct {
	MaxDepth           int     `mapstructure:"max_depth" yaml:"max_depth"`
	MaxBranchingFactor int     `mapstructure:"max_branching_factor" yaml:"max_branching_factor"`
	MaxNodes           int     `mapstructure:"max_nodes" yaml:"max_nodes"`
	BeamWidth          int     `mapstructure:"beam_width" yaml:"beam_width"`
	SearchAlgorithm    string  `mapstructure:"search_algorithm" yaml:"search_algorithm"`
	Evaluation         string  `mapstructure:"evaluation_strategy" yaml:"evaluation_strategy"`
	EnableBacktracking bool    `mapstructure:"enable_backtracking" yaml:"enable_backtracking"`
	ReserveSize        int     `mapstructure:"reserve_size" yaml:"reserve_size"`
	Concurrency        int     `mapstructure:"concurrency" yaml:"concurrency"`
	TieBreak           string  `mapstructure:"tie_break" yaml:"tie_break"`
	GenerationRetries  int     `mapstructure:"generation_retries" yaml:"generation_retries"`
	Temperature        float64 `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens          int     `mapstructure:"max_tokens" yaml:"max_tokens"`
	MaxContextTokens   int     `mapstructure:"max_context_tokens" yaml:"max_context_tokens"`
}

// PromptConfig configures the prompt framework.
type PromptConfig struct {
	MinSamples        int     `mapstructure:"min_samples" yaml:"min_samples"`
	SignificanceLevel float64 `mapstructure:"significance_level" yaml:"significance_level"`
	TrafficSplit      float64 `mapstructure:"traffic_split" yaml:"traffic_split"`
	Variance          string  `mapstructure:"variance" yaml:"variance"`
	ExploreEvery      int     `mapstructure:"explore_every" yaml:"explore_every"`
	MaxContextTokens  int     `mapstructure:"max_context_tokens" yaml:"max_context_tokens"`
	// PackPath is an optional YAML template pack loaded on top of the built-in one.
	PackPath string `mapstructure:"pack_path" yaml:"pack_path"`
}

// DatabaseConfig selects the persistence backend.
type DatabaseConfig struct {
	Type        string `mapstructure:"type" yaml:"type"`
	SQLitePath  string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	PostgresURL string `mapstructure:"postgres_url" yaml:"postgres_url"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	// File enables rotated file output; empty writes to stderr.
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// AuditConfig configures the audit trail.
type AuditConfig struct {
	Enabled         bool   `mapstructure:"enabled" yaml:"enabled"`
	File            string `mapstructure:"file" yaml:"file"`
	MaxSizeMB       int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups      int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays      int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	BufferSize      int    `mapstructure:"buffer_size" yaml:"buffer_size"`
	FlushIntervalMS int    `mapstructure:"flush_interval_ms" yaml:"flush_interval_ms"`
}

// MetricsConfig configures the prometheus endpoint.
type MetricsConfig struct {
	Enabled       bool   `mapstructure:"enabled" yaml:"enabled"`
	ListenAddress string `mapstructure:"listen_address" yaml:"listen_address"`
	Path          string `mapstructure:"path" yaml:"path"`
}

// Manager loads and serves configuration.
type Manager interface {
	// Load reads defaults, the config file and the environment.
	Load(ctx context.Context) error

	// Get returns the current configuration.
	Get() *Config

	// Validate checks the current configuration.
	Validate() error

	// Watch calls onChange with each successfully reloaded configuration
	// until ctx is done.
	Watch(ctx context.Context, onChange func(*Config)) error

	// Reload re-reads the config file.
	Reload(ctx context.Context) error
}

// NewManager creates a viper-backed manager. An empty path searches the
// default locations for reasoner.yaml.
func NewManager(path string) Manager {
	return &viperManager{configPath: path}
}
