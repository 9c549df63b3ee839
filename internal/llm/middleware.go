package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kubilitics/kubilitics-reasoner/internal/metrics"
)

// Middleware decorates an Oracle.
type Middleware func(Oracle) Oracle

// Chain wraps base so that mws[0] is the outermost layer.
func Chain(base Oracle, mws ...Middleware) Oracle {
	o := base
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			o = mws[i](o)
		}
	}
	return o
}

// wrapped forwards the descriptive methods to the inner oracle.
type wrapped struct{ next Oracle }

func (w wrapped) Provider() string { return w.next.Provider() }
func (w wrapped) Model() string    { return w.next.Model() }

// ─── Retry ────────────────────────────────────────────────────────────────────

// WithRetry retries failed calls up to maxAttempts times with exponential
// backoff starting at baseDelay. PermanentError and context expiry stop it.
func WithRetry(maxAttempts int, baseDelay time.Duration) Middleware {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = 300 * time.Millisecond
	}
	return func(next Oracle) Oracle {
		return &retrying{wrapped: wrapped{next}, max: maxAttempts, base: baseDelay}
	}
}

type retrying struct {
	wrapped
	max  int
	base time.Duration
}

func (r *retrying) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	var last error
	for i := 0; i < r.max; i++ {
		if i > 0 {
			metrics.OracleRetries.Inc()
			timer := time.NewTimer(r.base * time.Duration(1<<(i-1)))
			select {
			case <-ctx.Done():
				timer.Stop()
				return "", ctx.Err()
			case <-timer.C:
			}
		}
		resp, err := r.next.Generate(ctx, prompt, opts)
		if err == nil {
			return resp, nil
		}
		if IsPermanent(err) {
			return "", err
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		last = err
	}
	return "", fmt.Errorf("after %d attempts: %w", r.max, last)
}

// ─── Rate limit ───────────────────────────────────────────────────────────────

// WithRateLimit throttles calls to rps with the given burst. rps <= 0
// disables throttling.
func WithRateLimit(rps float64, burst int) Middleware {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return func(next Oracle) Oracle {
		return &rateLimited{wrapped: wrapped{next}, limiter: limiter}
	}
}

type rateLimited struct {
	wrapped
	limiter *rate.Limiter
}

func (r *rateLimited) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}
	return r.next.Generate(ctx, prompt, opts)
}

// ─── Cache ────────────────────────────────────────────────────────────────────

// WithCache serves repeated temperature-0 prompts from an LRU of the given
// size. Sampled completions are never cached. size <= 0 disables caching.
func WithCache(size int) Middleware {
	if size <= 0 {
		return nil
	}
	return func(next Oracle) Oracle {
		cache, err := lru.New[string, string](size)
		if err != nil {
			return next
		}
		return &cached{wrapped: wrapped{next}, cache: cache}
	}
}

type cached struct {
	wrapped
	cache *lru.Cache[string, string]
}

func (c *cached) key(prompt string, opts GenerateOptions) string {
	h := sha256.New()
	h.Write([]byte(c.next.Provider() + "\x00" + c.next.Model() + "\x00" + strconv.Itoa(opts.MaxTokens) + "\x00"))
	h.Write([]byte(prompt))
	return hex.EncodeToString(h.Sum(nil))
}

func (c *cached) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	if opts.Temperature != 0 {
		return c.next.Generate(ctx, prompt, opts)
	}
	k := c.key(prompt, opts)
	if resp, ok := c.cache.Get(k); ok {
		metrics.OracleCacheHits.Inc()
		return resp, nil
	}
	resp, err := c.next.Generate(ctx, prompt, opts)
	if err != nil {
		return "", err
	}
	c.cache.Add(k, resp)
	return resp, nil
}

// ─── Metrics ──────────────────────────────────────────────────────────────────

// WithMetrics records request counts, latency and estimated tokens.
func WithMetrics() Middleware {
	return func(next Oracle) Oracle { return &metered{wrapped{next}} }
}

type metered struct{ wrapped }

func (m *metered) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	provider, model := m.next.Provider(), m.next.Model()
	start := time.Now()
	resp, err := m.next.Generate(ctx, prompt, opts)
	metrics.OracleRequestDuration.WithLabelValues(provider, model).Observe(time.Since(start).Seconds())
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.OracleRequestsTotal.WithLabelValues(provider, model, status).Inc()
	metrics.OracleTokens.WithLabelValues(provider, model, "input").Add(float64(EstimateTokens(prompt)))
	metrics.OracleTokens.WithLabelValues(provider, model, "output").Add(float64(EstimateTokens(resp)))
	return resp, err
}

// ─── Logging ──────────────────────────────────────────────────────────────────

// WithLogging logs every call at debug level and failures at warn level.
func WithLogging(logger *zap.Logger) Middleware {
	if logger == nil {
		return nil
	}
	return func(next Oracle) Oracle { return &logged{wrapped: wrapped{next}, logger: logger} }
}

type logged struct {
	wrapped
	logger *zap.Logger
}

func (l *logged) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	start := time.Now()
	resp, err := l.next.Generate(ctx, prompt, opts)
	fields := []zap.Field{
		zap.String("provider", l.next.Provider()),
		zap.String("model", l.next.Model()),
		zap.Int("prompt_chars", len(prompt)),
		zap.Int("response_chars", len(resp)),
		zap.Duration("latency", time.Since(start)),
	}
	if err != nil {
		l.logger.Warn("oracle call failed", append(fields, zap.Error(err))...)
		return resp, err
	}
	l.logger.Debug("oracle call", fields...)
	return resp, nil
}
