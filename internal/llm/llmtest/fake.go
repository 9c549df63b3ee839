// Package llmtest provides scripted oracles for tests.
package llmtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/kubilitics/kubilitics-reasoner/internal/llm"
)

// Scripted replays canned responses. When Fn is set it takes precedence;
// otherwise Responses are returned in order and the last one repeats.
type Scripted struct {
	Responses []string
	Fn        func(ctx context.Context, prompt string, call int) (string, error)

	mu      sync.Mutex
	calls   int
	prompts []string
}

var _ llm.Oracle = (*Scripted)(nil)

func (s *Scripted) Provider() string { return "fake" }
func (s *Scripted) Model() string    { return "scripted" }

// Generate implements llm.Oracle.
func (s *Scripted) Generate(ctx context.Context, prompt string, _ llm.GenerateOptions) (string, error) {
	s.mu.Lock()
	call := s.calls
	s.calls++
	s.prompts = append(s.prompts, prompt)
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.Fn != nil {
		return s.Fn(ctx, prompt, call)
	}
	if len(s.Responses) == 0 {
		return "", fmt.Errorf("scripted oracle has no responses")
	}
	if call >= len(s.Responses) {
		call = len(s.Responses) - 1
	}
	return s.Responses[call], nil
}

// Calls returns the number of Generate invocations.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Prompts returns every prompt received, in call order.
func (s *Scripted) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts...)
}
