package llm

import (
	"context"
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/kubilitics/kubilitics-reasoner/internal/metrics"
)

// EstimateTokens uses the characters/4 heuristic.
func EstimateTokens(s string) int {
	return utf8.RuneCountInString(s) / 4
}

// Budget caps the tokens one reasoning request may spend across all of its
// oracle calls. It is safe for concurrent use by sibling tree expansions.
type Budget struct {
	mu       sync.Mutex
	limit    int
	input    int
	output   int
	reserved int
	calls    int
}

// NewBudget creates a budget; limit <= 0 means unlimited.
func NewBudget(limit int) *Budget {
	return &Budget{limit: limit}
}

// Usage is a snapshot of a budget.
type Usage struct {
	Limit        int `json:"limit"`
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	Calls        int `json:"calls"`
}

// Total returns the tokens spent.
func (u Usage) Total() int { return u.InputTokens + u.OutputTokens }

// Usage returns the current consumption.
func (b *Budget) Usage() Usage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Usage{Limit: b.limit, InputTokens: b.input, OutputTokens: b.output, Calls: b.calls}
}

// reserve books the worst-case cost of a call before it is made.
func (b *Budget) reserve(in, maxOut int) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	want := in + maxOut
	if b.limit > 0 && b.input+b.output+b.reserved+want > b.limit {
		return 0, fmt.Errorf("%w: call needs ~%d tokens, %d of %d spent",
			ErrBudgetExceeded, want, b.input+b.output, b.limit)
	}
	b.reserved += want
	return want, nil
}

// settle replaces a reservation with the actual cost.
func (b *Budget) settle(reserved, in, out int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reserved -= reserved
	b.input += in
	b.output += out
	b.calls++
}

type budgetKey struct{}

// WithRequestBudget attaches a fresh budget of limit tokens to ctx.
func WithRequestBudget(ctx context.Context, limit int) (context.Context, *Budget) {
	b := NewBudget(limit)
	return context.WithValue(ctx, budgetKey{}, b), b
}

// BudgetFrom returns the budget attached to ctx, if any.
func BudgetFrom(ctx context.Context) *Budget {
	b, _ := ctx.Value(budgetKey{}).(*Budget)
	return b
}

// WithTokenBudget enforces the budget attached to the call's context. Calls
// without a budget pass through.
func WithTokenBudget() Middleware {
	return func(next Oracle) Oracle { return &budgeted{wrapped{next}} }
}

type budgeted struct{ wrapped }

func (b *budgeted) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	budget := BudgetFrom(ctx)
	if budget == nil {
		return b.next.Generate(ctx, prompt, opts)
	}
	in := EstimateTokens(prompt)
	held, err := budget.reserve(in, opts.MaxTokens)
	if err != nil {
		metrics.BudgetExceeded.Inc()
		return "", Permanent(err)
	}
	resp, err := b.next.Generate(ctx, prompt, opts)
	budget.settle(held, in, EstimateTokens(resp))
	return resp, err
}
