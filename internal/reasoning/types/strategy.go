package types

import (
	"context"
	"strings"
	"time"
)

// Strategy is implemented by every engine the router can dispatch to.
type Strategy interface {
	// Kind returns the dispatch-table key of the strategy.
	Kind() StrategyKind
	// CanHandle is a cheap keyword/pattern classifier.
	CanHandle(statement string) bool
	// Reason solves the problem. Failures are reported in the returned result,
	// never as panics or errors.
	Reason(ctx context.Context, p Problem) *Result
	// Reset drops any state cached between invocations.
	Reset()
}

// Problem is the per-invocation input handed to a strategy.
type Problem struct {
	ID        string
	Statement string
	Knowledge []string
	Config    RequestConfig

	// Observer, when set, is called for every accepted step.
	Observer func(StepEvent) `json:"-"`
}

// Emit forwards an accepted step to the observer, if any.
func (p Problem) Emit(kind StrategyKind, s Step) {
	if p.Observer == nil {
		return
	}
	p.Observer(StepEvent{QuestionID: p.ID, Strategy: kind, Step: s, Timestamp: time.Now()})
}

// Mode selects how the router picks a strategy.
type Mode string

const (
	ModeAuto           Mode = "AUTO"
	ModeMathematical   Mode = Mode(StrategyMathematical)
	ModeLogical        Mode = Mode(StrategyLogical)
	ModeCausal         Mode = Mode(StrategyCausal)
	ModeChainOfThought Mode = Mode(StrategyChainOfThought)
	ModeTreeOfThoughts Mode = Mode(StrategyTreeOfThoughts)
	ModeHybrid         Mode = Mode(StrategyHybrid)
)

var modeAliases = map[string]Mode{
	"":                 ModeAuto,
	"auto":             ModeAuto,
	"math":             ModeMathematical,
	"mathematical":     ModeMathematical,
	"logic":            ModeLogical,
	"logical":          ModeLogical,
	"causal":           ModeCausal,
	"cot":              ModeChainOfThought,
	"chain_of_thought": ModeChainOfThought,
	"tot":              ModeTreeOfThoughts,
	"tree_of_thoughts": ModeTreeOfThoughts,
	"hybrid":           ModeHybrid,
}

// ParseMode accepts canonical mode names and short aliases, case-insensitively.
// Unknown names are returned unchanged so request validation can reject them.
func ParseMode(s string) Mode {
	if m, ok := modeAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return m
	}
	return Mode(strings.ToUpper(strings.TrimSpace(s)))
}
