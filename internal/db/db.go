package db

import (
	"context"

	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/prompt"
	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/types"
)

// Package db persists prompt templates, A/B tests and reasoning records.
//
// Responsibilities:
//   - Implement the prompt framework's Store (templates with their
//     performance statistics, A/B tests with per-arm score sums)
//   - Record one row per reasoning call (it is an engine audit sink)
//   - Run versioned schema migrations on open
//
// Backends:
//   sqlite   - modernc.org/sqlite, pure Go, single-writer
//   postgres - github.com/lib/pq
//
// Both are driven through sqlx. Queries are written with "?" or named
// parameters and rebound for the active driver.

// Store is the persistence interface of the reasoner.
type Store interface {
	prompt.Store
	ReasoningRecordStore

	// Close releases database resources.
	Close() error

	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error
}

// ─── Reasoning records ───────────────────────────────────────────────────────

// ReasoningRecordStore persists the audit record of each reasoning call.
type ReasoningRecordStore interface {
	// Emit appends a record. It satisfies the router's audit sink.
	Emit(ctx context.Context, rec types.AuditRecord) error

	// ListReasoningRecords returns the newest records first.
	ListReasoningRecords(ctx context.Context, limit int) ([]types.AuditRecord, error)

	// GetReasoningRecord returns the record of one question.
	GetReasoningRecord(ctx context.Context, questionID string) (*types.AuditRecord, error)
}
