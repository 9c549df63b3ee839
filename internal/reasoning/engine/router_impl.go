package engine

// Package engine: concrete Router implementation.

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-reasoner/internal/llm"
	"github.com/kubilitics/kubilitics-reasoner/internal/metrics"
	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/types"
	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/validation"
)

const tracerName = "github.com/kubilitics/kubilitics-reasoner/internal/reasoning/engine"

// Config tunes routing.
type Config struct {
	// ComplexityWords and ComplexityClauses are the thresholds above which
	// an unclassified problem goes to Tree-of-Thoughts.
	ComplexityWords   int
	ComplexityClauses int
	// RetrievalK is the number of passages requested from the retriever.
	RetrievalK int
	// TokenBudget caps oracle tokens per request; 0 disables the budget.
	TokenBudget int
	// SubscriberBuffer sizes each subscriber channel.
	SubscriberBuffer int
}

// DefaultConfig returns the routing defaults.
func DefaultConfig() Config {
	return Config{
		ComplexityWords:   60,
		ComplexityClauses: 4,
		RetrievalK:        5,
		SubscriberBuffer:  64,
	}
}

// Router dispatches reasoning requests to strategies.
type Router struct {
	cfg        Config
	strategies map[types.StrategyKind]types.Strategy
	validate   *validator.Validate
	results    *validation.Validator
	retriever  Retriever
	sink       AuditSink
	logger     *zap.Logger
	tracer     trace.Tracer

	subsMu sync.Mutex
	subs   []*Subscriber
}

// Option configures a Router.
type Option func(*Router)

// WithRetriever enables knowledge retrieval.
func WithRetriever(r Retriever) Option { return func(rt *Router) { rt.retriever = r } }

// WithAuditSink sets the audit sink.
func WithAuditSink(s AuditSink) Option { return func(rt *Router) { rt.sink = s } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(rt *Router) { rt.logger = l } }

// WithResultValidator sets the validator used for include_validation.
func WithResultValidator(v *validation.Validator) Option { return func(rt *Router) { rt.results = v } }

// New creates a router over the given strategies. Each strategy is keyed by
// its Kind; registering two strategies of the same kind is an error.
func New(cfg Config, strategies []types.Strategy, opts ...Option) (*Router, error) {
	def := DefaultConfig()
	if cfg.ComplexityWords <= 0 {
		cfg.ComplexityWords = def.ComplexityWords
	}
	if cfg.ComplexityClauses <= 0 {
		cfg.ComplexityClauses = def.ComplexityClauses
	}
	if cfg.RetrievalK <= 0 {
		cfg.RetrievalK = def.RetrievalK
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = def.SubscriberBuffer
	}
	r := &Router{
		cfg:        cfg,
		strategies: make(map[types.StrategyKind]types.Strategy, len(strategies)),
		validate:   newRequestValidator(),
		logger:     zap.NewNop(),
		tracer:     otel.Tracer(tracerName),
	}
	for _, s := range strategies {
		if s == nil {
			continue
		}
		if _, dup := r.strategies[s.Kind()]; dup {
			return nil, fmt.Errorf("strategy %s registered twice", s.Kind())
		}
		r.strategies[s.Kind()] = s
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.results == nil {
		r.results = validation.New(validation.DefaultConfig())
	}
	return r, nil
}

// Strategy returns the registered strategy of the given kind.
func (r *Router) Strategy(kind types.StrategyKind) (types.Strategy, bool) {
	s, ok := r.strategies[kind]
	return s, ok
}

// Reset drops cached state in every strategy.
func (r *Router) Reset() {
	for _, s := range r.strategies {
		s.Reset()
	}
}

// ─── Subscribers ──────────────────────────────────────────────────────────────

// Subscribe registers a channel that receives every accepted step.
func (r *Router) Subscribe() *Subscriber {
	sub := &Subscriber{Ch: make(chan types.StepEvent, r.cfg.SubscriberBuffer)}
	r.subsMu.Lock()
	r.subs = append(r.subs, sub)
	r.subsMu.Unlock()
	return sub
}

// Unsubscribe removes the subscriber and closes its channel.
func (r *Router) Unsubscribe(sub *Subscriber) {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()
	for i, s := range r.subs {
		if s == sub {
			r.subs = append(r.subs[:i], r.subs[i+1:]...)
			close(sub.Ch)
			return
		}
	}
}

// Close closes every subscriber channel.
func (r *Router) Close() {
	r.subsMu.Lock()
	subs := r.subs
	r.subs = nil
	r.subsMu.Unlock()
	for _, s := range subs {
		close(s.Ch)
	}
}

func (r *Router) publish(ev types.StepEvent) {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()
	for _, s := range r.subs {
		select {
		case s.Ch <- ev:
		default:
		}
	}
}

// ─── Reason ───────────────────────────────────────────────────────────────────

// Reason answers one request. Every failure is reported in the result.
func (r *Router) Reason(ctx context.Context, req types.Request) *types.Result {
	start := time.Now()
	id := uuid.NewString()
	mode := types.ParseMode(string(req.Mode))
	if mode == "" {
		mode = types.ModeAuto
	}
	req.Mode = mode

	ctx, span := r.tracer.Start(ctx, "reason", trace.WithAttributes(
		attribute.String("reasoning.question_id", id),
		attribute.String("reasoning.mode", string(mode)),
	))
	defer span.End()

	res := r.reason(ctx, id, req)

	res.SetMeta("question_id", id)
	res.SetMeta("mode", string(mode))
	res.SetMeta("duration_ms", time.Since(start).Milliseconds())
	if req.IncludeValidation && res.ErrorKind != types.KindInputValidation {
		vr := r.results.ValidateResult(res)
		res.SetMeta("validation", vr)
	}
	res.Normalize()

	status := "success"
	if !res.Success {
		status = "failure"
		metrics.ErrorsTotal.WithLabelValues(string(res.ErrorKind)).Inc()
		span.SetStatus(codes.Error, res.Error)
	}
	strategy := string(res.StrategyUsed)
	if strategy == "" {
		strategy = "none"
	}
	metrics.RequestsTotal.WithLabelValues(strategy, status).Inc()
	metrics.RequestDuration.WithLabelValues(strategy).Observe(time.Since(start).Seconds())
	span.SetAttributes(
		attribute.String("reasoning.strategy", strategy),
		attribute.Bool("reasoning.success", res.Success),
		attribute.Int("reasoning.steps", len(res.Steps)),
		attribute.Float64("reasoning.confidence", res.OverallConfidence),
	)

	r.emit(ctx, id, res)
	r.logger.Info("reasoning finished",
		zap.String("question_id", id),
		zap.String("mode", string(mode)),
		zap.String("strategy", strategy),
		zap.Bool("success", res.Success),
		zap.String("error_kind", string(res.ErrorKind)),
		zap.Int("steps", len(res.Steps)),
		zap.Float64("confidence", res.OverallConfidence),
		zap.Duration("duration", time.Since(start)))
	return res
}

func (r *Router) reason(ctx context.Context, id string, req types.Request) *types.Result {
	if err := r.validate.Struct(req); err != nil {
		return types.NewResult("").Fail(types.KindInputValidation, "%s", describeValidation(err))
	}

	ctx, cancel := context.WithTimeout(ctx, req.Config.Timeout())
	defer cancel()
	if r.cfg.TokenBudget > 0 {
		ctx, _ = llm.WithRequestBudget(ctx, r.cfg.TokenBudget)
	}

	p := types.Problem{
		ID:        id,
		Statement: strings.TrimSpace(req.ProblemStatement),
		Config:    req.Config,
		Observer:  r.publish,
	}
	var retrievalErr error
	p.Knowledge, retrievalErr = r.retrieve(ctx, p.Statement)

	var res *types.Result
	switch req.Mode {
	case types.ModeAuto:
		res = r.auto(ctx, p)
	case types.ModeHybrid:
		res = r.hybrid(ctx, p)
	default:
		s, ok := r.strategies[types.StrategyKind(req.Mode)]
		if !ok {
			return types.NewResult("").Fail(types.KindNoStrategy, "no strategy registered for mode %s", req.Mode)
		}
		res = r.run(ctx, s, p)
		res.SetMeta("selected_by", "explicit")
	}
	if !res.Success && errors.Is(ctx.Err(), context.DeadlineExceeded) && res.ErrorKind != types.KindTimeout {
		res.Fail(types.KindTimeout, "timeout after %s: %s", req.Config.Timeout(), res.Error)
	}
	if retrievalErr != nil {
		res.SetMeta("retrieval_error", retrievalErr.Error())
	}
	if len(p.Knowledge) > 0 {
		res.SetMeta("retrieved", len(p.Knowledge))
	}
	return res
}

// run invokes one strategy under a child span.
func (r *Router) run(ctx context.Context, s types.Strategy, p types.Problem) *types.Result {
	ctx, span := r.tracer.Start(ctx, "strategy", trace.WithAttributes(
		attribute.String("reasoning.strategy", string(s.Kind())),
	))
	defer span.End()
	res := s.Reason(ctx, p)
	if res == nil {
		res = types.NewResult(s.Kind()).Fail(types.KindStepGeneration, "strategy returned no result")
	}
	if res.StrategyUsed == "" {
		res.StrategyUsed = s.Kind()
	}
	if !res.Success {
		span.SetStatus(codes.Error, res.Error)
	}
	return res
}

// retrieve fetches knowledge best first. Failures degrade to no knowledge.
func (r *Router) retrieve(ctx context.Context, query string) ([]string, error) {
	if r.retriever == nil || ctx.Err() != nil {
		return nil, nil
	}
	docs, err := r.retriever.Retrieve(ctx, query, r.cfg.RetrievalK)
	if err != nil {
		r.logger.Warn("knowledge retrieval failed, reasoning without it", zap.Error(err))
		return nil, err
	}
	sort.SliceStable(docs, func(i, j int) bool { return docs[i].Score > docs[j].Score })
	if len(docs) > r.cfg.RetrievalK {
		docs = docs[:r.cfg.RetrievalK]
	}
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		if c := strings.TrimSpace(d.Content); c != "" {
			out = append(out, c)
		}
	}
	return out, nil
}

// emit hands the audit record to the sink. The sink outlives the request
// deadline so failed and timed-out calls are still recorded.
func (r *Router) emit(ctx context.Context, id string, res *types.Result) {
	if r.sink == nil {
		return
	}
	rec := types.AuditRecord{
		QuestionID:      id,
		FinalPromptText: res.FinalPrompt,
		ReasoningType:   res.StrategyUsed,
		Steps:           res.Steps,
		Confidence:      res.OverallConfidence,
		Success:         res.Success,
		ErrorKind:       res.ErrorKind,
		CreatedAt:       time.Now().UTC(),
	}
	if err := r.sink.Emit(context.WithoutCancel(ctx), rec); err != nil {
		r.logger.Warn("audit emit failed", zap.String("question_id", id), zap.Error(err))
	}
}

// ─── Request validation ───────────────────────────────────────────────────────

func newRequestValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return v
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required", "notblank":
			msgs = append(msgs, fmt.Sprintf("%s must not be empty", fe.Field()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s], got %v", fe.Field(), fe.Param(), fe.Value()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		}
	}
	return "invalid request: " + strings.Join(msgs, "; ")
}
