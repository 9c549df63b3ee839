package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Package llm provides the language-model oracle consumed by the
// Chain-of-Thought and Tree-of-Thoughts strategies.
//
// Responsibilities:
//   - Define the Oracle interface: prompt in, completion out
//   - Implement an OpenAI-compatible provider (OpenAI, Ollama, custom base URL)
//   - Compose cross-cutting behavior as middleware around any Oracle
//
// Middleware (outermost first, as assembled by New):
//   1. Cache:        serves repeated temperature-0 prompts from an LRU
//   2. Token budget: enforces the per-request budget carried in the context
//   3. Retry:        exponential backoff, never retries a PermanentError
//   4. Rate limit:   token bucket shared by all requests of the process
//   5. Metrics:      per-attempt counters, latency and token estimates
//
// Unconfigured Mode:
//   When no provider or API key is configured, New returns an oracle that
//   fails every call with ErrProviderNotConfigured. Domain engines keep
//   working; LLM-backed strategies report StepGenerationFailure.

var (
	// ErrProviderNotConfigured is returned by the unconfigured oracle.
	ErrProviderNotConfigured = errors.New("llm provider not configured")
	// ErrBudgetExceeded is returned when a call would exceed the request's token budget.
	ErrBudgetExceeded = errors.New("token budget exceeded")
)

// GenerateOptions are the sampling parameters of one call.
type GenerateOptions struct {
	Temperature float32
	MaxTokens   int
}

// Oracle turns a prompt into a completion. Implementations must be safe for
// concurrent use and safe to retry.
type Oracle interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
	// Provider and Model label metrics and audit records.
	Provider() string
	Model() string
}

// PermanentError marks a failure that retrying cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as a PermanentError.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err carries a PermanentError.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}

// Config selects and tunes the oracle.
type Config struct {
	// Provider is one of openai, ollama, custom; empty disables the oracle.
	Provider string
	APIKey   string
	Model    string
	BaseURL  string
	// SystemPrompt is sent as the system message of every call.
	SystemPrompt string
	Timeout      time.Duration

	MaxRetries     int
	RetryBaseDelay time.Duration
	RateLimitRPS   float64
	RateLimitBurst int
	CacheSize      int
}

// Supported providers.
const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderCustom = "custom"
)

// New builds the configured oracle wrapped in the standard middleware chain.
func New(cfg Config, logger *zap.Logger) (Oracle, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Provider == "" || (cfg.Provider == ProviderOpenAI && cfg.APIKey == "") {
		logger.Warn("llm provider not configured; LLM-backed strategies are unavailable",
			zap.String("provider", cfg.Provider))
		return Unconfigured{}, nil
	}
	base, err := NewOpenAI(cfg)
	if err != nil {
		return nil, fmt.Errorf("create %s oracle: %w", cfg.Provider, err)
	}
	logger.Info("llm oracle initialized",
		zap.String("provider", base.Provider()),
		zap.String("model", base.Model()))
	return Chain(base,
		WithCache(cfg.CacheSize),
		WithTokenBudget(),
		WithRetry(cfg.MaxRetries, cfg.RetryBaseDelay),
		WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
		WithMetrics(),
		WithLogging(logger),
	), nil
}

// Unconfigured fails every call with ErrProviderNotConfigured.
type Unconfigured struct{}

func (Unconfigured) Generate(context.Context, string, GenerateOptions) (string, error) {
	return "", Permanent(ErrProviderNotConfigured)
}

func (Unconfigured) Provider() string { return "none" }
func (Unconfigured) Model() string    { return "none" }
