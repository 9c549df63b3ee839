package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Reasoning service metrics for production monitoring
var (
	// Request metrics
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubilitics_reasoner_requests_total",
			Help: "Total number of reasoning requests",
		},
		[]string{"strategy", "status"}, // status: success/failure/rejected
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kubilitics_reasoner_request_duration_seconds",
			Help:    "Reasoning request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10), // 1ms to ~4min
		},
		[]string{"strategy"},
	)

	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubilitics_reasoner_errors_total",
			Help: "Total number of failed reasoning requests by error kind",
		},
		[]string{"kind"},
	)

	// Oracle metrics
	OracleRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubilitics_reasoner_oracle_requests_total",
			Help: "Total number of LLM oracle requests",
		},
		[]string{"provider", "model", "status"},
	)

	OracleRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kubilitics_reasoner_oracle_request_duration_seconds",
			Help:    "LLM oracle request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1min
		},
		[]string{"provider", "model"},
	)

	OracleTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubilitics_reasoner_oracle_tokens_total",
			Help: "Estimated LLM tokens consumed",
		},
		[]string{"provider", "model", "type"}, // type: input/output
	)

	OracleCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kubilitics_reasoner_oracle_cache_hits_total",
			Help: "Total number of oracle responses served from cache",
		},
	)

	OracleRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kubilitics_reasoner_oracle_retries_total",
			Help: "Total number of oracle retry attempts",
		},
	)

	BudgetExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kubilitics_reasoner_token_budget_exceeded_total",
			Help: "Total number of oracle calls rejected by the per-request token budget",
		},
	)

	// Strategy metrics
	TreeNodesExplored = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kubilitics_reasoner_tot_nodes_explored",
			Help:    "Nodes explored per Tree-of-Thoughts search",
			Buckets: prometheus.LinearBuckets(5, 5, 20),
		},
		[]string{"algorithm"},
	)

	ValidationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubilitics_reasoner_validation_failures_total",
			Help: "Total number of hard step validation failures",
		},
		[]string{"problem_type"},
	)

	StepRefinements = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kubilitics_reasoner_cot_refinements_total",
			Help: "Total number of Chain-of-Thought refinement attempts",
		},
	)

	// Prompt framework metrics
	PromptRenders = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubilitics_reasoner_prompt_renders_total",
			Help: "Total number of rendered prompts",
		},
		[]string{"template_id"},
	)

	TemplateOptimizations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubilitics_reasoner_template_optimizations_total",
			Help: "Total number of template optimizations that changed a template",
		},
		[]string{"template_id"},
	)

	ABTestVerdicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubilitics_reasoner_abtest_verdicts_total",
			Help: "Total number of significant A/B test evaluations",
		},
		[]string{"winner"},
	)

	// Audit metrics
	AuditEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kubilitics_reasoner_audit_events_dropped_total",
			Help: "Total number of audit records that could not be written",
		},
	)
)
