package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g.
// KUBILITICS_REASONER_TREE_OF_THOUGHTS_MAX_NODES.
const EnvPrefix = "KUBILITICS_REASONER"

// viperManager implements Manager using Viper.
type viperManager struct {
	configPath string
	viper      *viper.Viper

	mu     sync.RWMutex
	config *Config
}

// Load loads configuration from all sources.
func (m *viperManager) Load(ctx context.Context) error {
	m.viper = viper.New()

	if m.configPath != "" {
		m.viper.SetConfigFile(m.configPath)
	} else {
		m.viper.SetConfigName("reasoner")
		m.viper.AddConfigPath(".")
		m.viper.AddConfigPath("$HOME/.kubilitics")
		m.viper.AddConfigPath("/etc/kubilitics")
	}
	m.viper.SetConfigType("yaml")

	m.viper.SetEnvPrefix(EnvPrefix)
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	m.viper.AutomaticEnv()

	m.setDefaults()

	return m.Reload(ctx)
}

// Get returns the current configuration.
func (m *viperManager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// Validate validates configuration is correct and complete.
func (m *viperManager) Validate() error {
	cfg := m.Get()
	if cfg == nil {
		return errors.New("configuration not loaded")
	}
	errs := cfg.Validate()
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		msgs = append(msgs, err.Error())
	}
	return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}

// Reload reloads configuration from sources.
func (m *viperManager) Reload(ctx context.Context) error {
	if m.viper == nil {
		return errors.New("configuration not loaded")
	}
	if err := m.viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := m.viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}
	applyEnvOverrides(cfg)

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// Watch reloads the configuration whenever the config file is written or
// replaced. Failed reloads keep the previous configuration.
func (m *viperManager) Watch(ctx context.Context, onChange func(*Config)) error {
	if m.viper == nil {
		return errors.New("configuration not loaded")
	}
	file := m.viper.ConfigFileUsed()
	if file == "" {
		return errors.New("no config file to watch")
	}
	file = filepath.Clean(file)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	// Watch the directory so editors that replace the file are seen.
	if err := watcher.Add(filepath.Dir(file)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(file), err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != file {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if err := m.Reload(ctx); err != nil {
					continue
				}
				if onChange != nil {
					onChange(m.Get())
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return nil
}

// setDefaults registers every key so environment overrides apply to it.
func (m *viperManager) setDefaults() {
	d := DefaultConfig()
	v := m.viper

	// LLM
	v.SetDefault("llm.provider", d.LLM.Provider)
	v.SetDefault("llm.api_key", d.LLM.APIKey)
	v.SetDefault("llm.model", d.LLM.Model)
	v.SetDefault("llm.base_url", d.LLM.BaseURL)
	v.SetDefault("llm.system_prompt", d.LLM.SystemPrompt)
	v.SetDefault("llm.timeout_seconds", d.LLM.TimeoutSeconds)
	v.SetDefault("llm.max_retries", d.LLM.MaxRetries)
	v.SetDefault("llm.retry_base_delay_ms", d.LLM.RetryBaseDelayMS)
	v.SetDefault("llm.rate_limit_rps", d.LLM.RateLimitRPS)
	v.SetDefault("llm.rate_limit_burst", d.LLM.RateLimitBurst)
	v.SetDefault("llm.cache_size", d.LLM.CacheSize)

	// Reasoning
	v.SetDefault("reasoning.complexity_words", d.Reasoning.ComplexityWords)
	v.SetDefault("reasoning.complexity_clauses", d.Reasoning.ComplexityClauses)
	v.SetDefault("reasoning.retrieval_k", d.Reasoning.RetrievalK)
	v.SetDefault("reasoning.token_budget", d.Reasoning.TokenBudget)
	v.SetDefault("reasoning.subscriber_buffer", d.Reasoning.SubscriberBuffer)

	// Validation
	v.SetDefault("validation.min_reasoning_length", d.Validation.MinReasoningLength)
	v.SetDefault("validation.min_confidence", d.Validation.MinConfidence)
	v.SetDefault("validation.numeric_tolerance", d.Validation.NumericTolerance)
	v.SetDefault("validation.outlier_std_devs", d.Validation.OutlierStdDevs)

	// Chain of thought
	v.SetDefault("chain_of_thought.max_steps", d.ChainOfThought.MaxSteps)
	v.SetDefault("chain_of_thought.max_iterations", d.ChainOfThought.MaxIterations)
	v.SetDefault("chain_of_thought.refine_below", d.ChainOfThought.RefineBelow)
	v.SetDefault("chain_of_thought.enable_refinement", d.ChainOfThought.EnableRefinement)
	v.SetDefault("chain_of_thought.generation_retries", d.ChainOfThought.GenerationRetries)
	v.SetDefault("chain_of_thought.temperature", d.ChainOfThought.Temperature)
	v.SetDefault("chain_of_thought.max_tokens", d.ChainOfThought.MaxTokens)
	v.SetDefault("chain_of_thought.max_context_tokens", d.ChainOfThought.MaxContextTokens)

	// Tree of thoughts
	v.SetDefault("tree_of_thoughts.max_depth", d.TreeOfThoughts.MaxDepth)
	v.SetDefault("tree_of_thoughts.max_branching_factor", d.TreeOfThoughts.MaxBranchingFactor)
	v.SetDefault("tree_of_thoughts.max_nodes", d.TreeOfThoughts.MaxNodes)
	v.SetDefault("tree_of_thoughts.beam_width", d.TreeOfThoughts.BeamWidth)
	v.SetDefault("tree_of_thoughts.search_algorithm", d.TreeOfThoughts.SearchAlgorithm)
	v.SetDefault("tree_of_thoughts.evaluation_strategy", d.TreeOfThoughts.Evaluation)
	v.SetDefault("tree_of_thoughts.enable_backtracking", d.TreeOfThoughts.EnableBacktracking)
	v.SetDefault("tree_of_thoughts.reserve_size", d.TreeOfThoughts.ReserveSize)
	v.SetDefault("tree_of_thoughts.concurrency", d.TreeOfThoughts.Concurrency)
	v.SetDefault("tree_of_thoughts.tie_break", d.TreeOfThoughts.TieBreak)
	v.SetDefault("tree_of_thoughts.generation_retries", d.TreeOfThoughts.GenerationRetries)
	v.SetDefault("tree_of_thoughts.temperature", d.TreeOfThoughts.Temperature)
	v.SetDefault("tree_of_thoughts.max_tokens", d.TreeOfThoughts.MaxTokens)
	v.SetDefault("tree_of_thoughts.max_context_tokens", d.TreeOfThoughts.MaxContextTokens)

	// Prompt
	v.SetDefault("prompt.min_samples", d.Prompt.MinSamples)
	v.SetDefault("prompt.significance_level", d.Prompt.SignificanceLevel)
	v.SetDefault("prompt.traffic_split", d.Prompt.TrafficSplit)
	v.SetDefault("prompt.variance", d.Prompt.Variance)
	v.SetDefault("prompt.explore_every", d.Prompt.ExploreEvery)
	v.SetDefault("prompt.max_context_tokens", d.Prompt.MaxContextTokens)
	v.SetDefault("prompt.pack_path", d.Prompt.PackPath)

	// Database
	v.SetDefault("database.type", d.Database.Type)
	v.SetDefault("database.sqlite_path", d.Database.SQLitePath)
	v.SetDefault("database.postgres_url", d.Database.PostgresURL)

	// Logging
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.max_size_mb", d.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	v.SetDefault("logging.max_age_days", d.Logging.MaxAgeDays)
	v.SetDefault("logging.compress", d.Logging.Compress)

	// Audit
	v.SetDefault("audit.enabled", d.Audit.Enabled)
	v.SetDefault("audit.file", d.Audit.File)
	v.SetDefault("audit.max_size_mb", d.Audit.MaxSizeMB)
	v.SetDefault("audit.max_backups", d.Audit.MaxBackups)
	v.SetDefault("audit.max_age_days", d.Audit.MaxAgeDays)
	v.SetDefault("audit.buffer_size", d.Audit.BufferSize)
	v.SetDefault("audit.flush_interval_ms", d.Audit.FlushIntervalMS)

	// Metrics
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.listen_address", d.Metrics.ListenAddress)
	v.SetDefault("metrics.path", d.Metrics.Path)
}

// applyEnvOverrides applies the conventional provider variables.
func applyEnvOverrides(cfg *Config) {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.LLM.APIKey = key
	}
	if url := os.Getenv("OPENAI_BASE_URL"); url != "" {
		cfg.LLM.BaseURL = url
	}
	if url := os.Getenv("DATABASE_URL"); url != "" && cfg.Database.Type == "postgres" {
		cfg.Database.PostgresURL = url
	}
}
