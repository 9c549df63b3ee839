package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, 60, cfg.Reasoning.ComplexityWords)
	assert.Equal(t, 10, cfg.ChainOfThought.MaxSteps)

	// Tree-of-thoughts defaults
	assert.Equal(t, 5, cfg.TreeOfThoughts.MaxDepth)
	assert.Equal(t, 3, cfg.TreeOfThoughts.MaxBranchingFactor)
	assert.Equal(t, 50, cfg.TreeOfThoughts.MaxNodes)
	assert.Equal(t, "BEAM", cfg.TreeOfThoughts.SearchAlgorithm)
	assert.Equal(t, 3, cfg.TreeOfThoughts.BeamWidth)
	assert.Equal(t, "HYBRID", cfg.TreeOfThoughts.Evaluation)
	assert.False(t, cfg.TreeOfThoughts.EnableBacktracking, "beam pruning is final unless enabled")
	assert.False(t, cfg.TreeConfig().EnableBacktracking)

	assert.Equal(t, 0.95, cfg.Prompt.SignificanceLevel)
	assert.Equal(t, 0.5, cfg.Prompt.TrafficSplit)
	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.NotEmpty(t, cfg.Database.SQLitePath)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.False(t, cfg.Metrics.Enabled)

	assert.Empty(t, cfg.Validate())
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name     string
		modifyFn func(*Config)
		errorMsg string
	}{
		{
			name:     "valid default config",
			modifyFn: func(cfg *Config) {},
		},
		{
			name:     "no provider is allowed",
			modifyFn: func(cfg *Config) { cfg.LLM.Provider = "" },
		},
		{
			name:     "invalid LLM provider",
			modifyFn: func(cfg *Config) { cfg.LLM.Provider = "anthropic" },
			errorMsg: "invalid provider",
		},
		{
			name:     "ollama needs base url",
			modifyFn: func(cfg *Config) { cfg.LLM.Provider = "ollama" },
			errorMsg: "base_url is required",
		},
		{
			name:     "zero timeout",
			modifyFn: func(cfg *Config) { cfg.LLM.TimeoutSeconds = 0 },
			errorMsg: "timeout must be at least 1 second",
		},
		{
			name:     "zero max steps",
			modifyFn: func(cfg *Config) { cfg.ChainOfThought.MaxSteps = 0 },
			errorMsg: "max_steps must be at least 1",
		},
		{
			name:     "unknown search algorithm",
			modifyFn: func(cfg *Config) { cfg.TreeOfThoughts.SearchAlgorithm = "IDA" },
			errorMsg: "invalid search algorithm",
		},
		{
			name:     "lower-case algorithm accepted",
			modifyFn: func(cfg *Config) { cfg.TreeOfThoughts.SearchAlgorithm = "a*" },
		},
		{
			name:     "unknown tie break",
			modifyFn: func(cfg *Config) { cfg.TreeOfThoughts.TieBreak = "random" },
			errorMsg: "invalid tie_break",
		},
		{
			name:     "significance level out of range",
			modifyFn: func(cfg *Config) { cfg.Prompt.SignificanceLevel = 1.0 },
			errorMsg: "significance_level must be in",
		},
		{
			name:     "traffic split out of range",
			modifyFn: func(cfg *Config) { cfg.Prompt.TrafficSplit = 0 },
			errorMsg: "traffic_split must be in",
		},
		{
			name:     "invalid database type",
			modifyFn: func(cfg *Config) { cfg.Database.Type = "mysql" },
			errorMsg: "invalid database type",
		},
		{
			name: "missing postgres url",
			modifyFn: func(cfg *Config) {
				cfg.Database.Type = "postgres"
				cfg.Database.PostgresURL = ""
			},
			errorMsg: "postgres_url is required",
		},
		{
			name:     "invalid log level",
			modifyFn: func(cfg *Config) { cfg.Logging.Level = "verbose" },
			errorMsg: "invalid log level",
		},
		{
			name:     "audit without file",
			modifyFn: func(cfg *Config) { cfg.Audit.File = "" },
			errorMsg: "file is required when audit is enabled",
		},
		{
			name: "metrics bad address",
			modifyFn: func(cfg *Config) {
				cfg.Metrics.Enabled = true
				cfg.Metrics.ListenAddress = "9090"
			},
			errorMsg: "invalid address format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modifyFn(cfg)

			errs := cfg.Validate()
			if tt.errorMsg == "" {
				assert.Empty(t, errs)
				return
			}
			require.NotEmpty(t, errs)
			found := false
			for _, err := range errs {
				if strings.Contains(err.Error(), tt.errorMsg) {
					found = true
				}
			}
			assert.True(t, found, "expected error containing %q, got: %v", tt.errorMsg, errs)
		})
	}
}

func TestManagerLoad(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	configPath := filepath.Join(t.TempDir(), "reasoner.yaml")
	content := `
llm:
  provider: ollama
  base_url: http://localhost:11434/v1
  model: llama3
tree_of_thoughts:
  search_algorithm: dfs
  max_nodes: 12
prompt:
  variance: unpooled
logging:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))

	mgr := NewManager(configPath)
	require.NoError(t, mgr.Load(context.Background()))
	require.NoError(t, mgr.Validate())

	cfg := mgr.Get()
	assert.Equal(t, "ollama", cfg.LLM.Provider)
	assert.Equal(t, "llama3", cfg.LLM.Model)
	assert.Equal(t, 12, cfg.TreeOfThoughts.MaxNodes)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// Unset keys keep their defaults.
	assert.Equal(t, 3, cfg.TreeOfThoughts.BeamWidth)
	assert.Equal(t, 10, cfg.ChainOfThought.MaxSteps)

	tree := cfg.TreeConfig()
	assert.Equal(t, "DFS", tree.Algorithm)
	assert.Equal(t, 12, tree.MaxNodes)
	assert.Equal(t, "unpooled", cfg.PromptFrameworkConfig().Variance)
	assert.Equal(t, 60*time.Second, cfg.OracleConfig().Timeout)
}

func TestManagerEnvironmentOverrides(t *testing.T) {
	t.Setenv("KUBILITICS_REASONER_TREE_OF_THOUGHTS_MAX_NODES", "7")
	t.Setenv("KUBILITICS_REASONER_LOGGING_LEVEL", "warn")
	t.Setenv("OPENAI_API_KEY", "env-key")

	configPath := filepath.Join(t.TempDir(), "reasoner.yaml")
	content := `
llm:
  api_key: file-key
tree_of_thoughts:
  max_nodes: 30
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))

	mgr := NewManager(configPath)
	require.NoError(t, mgr.Load(context.Background()))

	cfg := mgr.Get()
	assert.Equal(t, 7, cfg.TreeOfThoughts.MaxNodes)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "env-key", cfg.LLM.APIKey)
}

func TestManagerMissingFile(t *testing.T) {
	mgr := NewManager(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, mgr.Load(context.Background()))

	cfg := mgr.Get()
	require.NotNil(t, cfg)
	assert.Equal(t, 50, cfg.TreeOfThoughts.MaxNodes)
}

func TestManagerValidation(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "reasoner.yaml")
	content := `
llm:
  provider: invalid-provider
database:
  type: oracle
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))

	mgr := NewManager(configPath)
	require.NoError(t, mgr.Load(context.Background()))

	err := mgr.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration validation failed")
	assert.Contains(t, err.Error(), "llm.provider")
	assert.Contains(t, err.Error(), "database.type")
}

func TestManagerMalformedFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "reasoner.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("llm: [unclosed"), 0o644))

	err := NewManager(configPath).Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

func TestManagerWatch(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "reasoner.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("tree_of_thoughts:\n  max_nodes: 10\n"), 0o644))

	mgr := NewManager(configPath)
	require.NoError(t, mgr.Load(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 8)
	require.NoError(t, mgr.Watch(ctx, func(c *Config) { changes <- c }))

	require.NoError(t, os.WriteFile(configPath, []byte("tree_of_thoughts:\n  max_nodes: 20\n"), 0o644))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case c := <-changes:
			if c.TreeOfThoughts.MaxNodes == 20 {
				assert.Equal(t, 20, mgr.Get().TreeOfThoughts.MaxNodes)
				return
			}
		case <-deadline:
			t.Fatal("config change not observed")
		}
	}
}

func TestWatchBeforeLoad(t *testing.T) {
	err := NewManager("").Watch(context.Background(), nil)
	assert.Error(t, err)
}
