package engine

import (
	"context"
	"errors"

	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/types"
)

// Package engine provides the Strategy Router, the entry point of the
// reasoning subsystem.
//
// A call flows through:
//   Validate request → Retrieve knowledge → Select strategy → Reason →
//   Validate result (optional) → Emit audit record
//
// Responsibilities:
//   - Reject empty or malformed requests before any oracle call
//   - Classify AUTO requests: Mathematical > Logical > Causal, then a
//     complexity threshold chooses Tree-of-Thoughts or Chain-of-Thought
//   - Dispatch explicit modes through a table keyed by strategy kind
//   - Run HYBRID requests as a concurrent Chain-of-Thought and domain engine race
//   - Enforce the wall-clock budget and the per-request token budget
//   - Publish accepted steps to subscribers
//   - Emit one audit record per call to the configured sink
//
// Concurrency:
//   - Reason may be called from many goroutines; each call owns its problem,
//     prompt context and step accumulator
//   - Subscribers receive events through buffered channels; slow subscribers
//     drop events instead of blocking reasoning

// Knowledge is one retrieved passage.
type Knowledge struct {
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Retriever is the optional knowledge retrieval collaborator.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]Knowledge, error)
}

// RetrieverFunc adapts a function to Retriever.
type RetrieverFunc func(ctx context.Context, query string, k int) ([]Knowledge, error)

func (f RetrieverFunc) Retrieve(ctx context.Context, query string, k int) ([]Knowledge, error) {
	return f(ctx, query, k)
}

// AuditSink receives one record per reasoning call. Storage belongs to the sink.
type AuditSink interface {
	Emit(ctx context.Context, rec types.AuditRecord) error
}

// MultiSink fans a record out to every sink and joins their errors.
type MultiSink []AuditSink

func (m MultiSink) Emit(ctx context.Context, rec types.AuditRecord) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Emit(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Subscriber receives step events published by the router.
type Subscriber struct {
	Ch chan types.StepEvent
}
