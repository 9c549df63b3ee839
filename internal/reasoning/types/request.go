package types

import "time"

// OutputFormat is the presentation format of a response.
type OutputFormat string

const (
	FormatJSON     OutputFormat = "json"
	FormatText     OutputFormat = "text"
	FormatMarkdown OutputFormat = "markdown"
	FormatHTML     OutputFormat = "html"
)

// DefaultTimeout applies when a request does not set timeout_seconds.
const DefaultTimeout = 300 * time.Second

// Request is the reasoning API surface handed over by the transport layer.
type Request struct {
	ProblemStatement  string        `json:"problem_statement" validate:"required,notblank"`
	Mode              Mode          `json:"mode,omitempty" validate:"omitempty,oneof=AUTO MATHEMATICAL LOGICAL CAUSAL CHAIN_OF_THOUGHT TREE_OF_THOUGHTS HYBRID"`
	ShowSteps         bool          `json:"show_steps"`
	OutputFormat      OutputFormat  `json:"output_format,omitempty" validate:"omitempty,oneof=json text markdown html"`
	IncludeValidation bool          `json:"include_validation"`
	Config            RequestConfig `json:"config"`
}

// RequestConfig holds per-request overrides. Nil fields fall back to the
// configured defaults, which keeps an explicit timeout_seconds of 0 meaningful.
type RequestConfig struct {
	MaxSteps           *int     `json:"max_steps,omitempty" validate:"omitempty,min=1,max=100"`
	MaxDepth           *int     `json:"max_depth,omitempty" validate:"omitempty,min=1,max=20"`
	MaxBranchingFactor *int     `json:"max_branching_factor,omitempty" validate:"omitempty,min=1,max=10"`
	MaxNodes           *int     `json:"max_nodes,omitempty" validate:"omitempty,min=1,max=1000"`
	BeamWidth          *int     `json:"beam_width,omitempty" validate:"omitempty,min=1,max=10"`
	SearchAlgorithm    string   `json:"search_algorithm,omitempty" validate:"omitempty,oneof=BFS DFS BEAM A*"`
	EvaluationStrategy string   `json:"evaluation_strategy,omitempty" validate:"omitempty,oneof=CONFIDENCE COMPLETENESS EFFICIENCY HYBRID"`
	EnableBacktracking *bool    `json:"enable_backtracking,omitempty"`
	EnableRefinement   *bool    `json:"enable_refinement,omitempty"`
	TimeoutSeconds     *float64 `json:"timeout_seconds,omitempty" validate:"omitempty,min=0"`
}

// Timeout resolves the wall-clock budget of the request.
func (c RequestConfig) Timeout() time.Duration {
	if c.TimeoutSeconds == nil {
		return DefaultTimeout
	}
	if *c.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(*c.TimeoutSeconds * float64(time.Second))
}

// IntOr returns *p or def when p is nil.
func IntOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

// BoolOr returns *p or def when p is nil.
func BoolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
