package db

import (
	"context"
	"fmt"
	"strings"
)

// migrations are applied in order. {{ID}} expands to the dialect's
// auto-increment primary key column.
var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS prompt_templates (
    id               TEXT PRIMARY KEY,
    body             TEXT NOT NULL,
    domain_tags      TEXT NOT NULL DEFAULT '[]',
    variables        TEXT NOT NULL DEFAULT '{}',
    candidates       TEXT NOT NULL DEFAULT '{}',
    version          INTEGER NOT NULL DEFAULT 1,
    uses             BIGINT NOT NULL DEFAULT 0,
    avg_confidence   DOUBLE PRECISION NOT NULL DEFAULT 0,
    avg_success_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
    last_used        TEXT NOT NULL DEFAULT '',
    updated_at       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS ab_tests (
    id          TEXT PRIMARY KEY,
    template_a  TEXT NOT NULL,
    template_b  TEXT NOT NULL,
    split_a     DOUBLE PRECISION NOT NULL DEFAULT 0.5,
    active      INTEGER NOT NULL DEFAULT 1,
    created_at  TEXT NOT NULL,
    a_n         BIGINT NOT NULL DEFAULT 0,
    a_sum       DOUBLE PRECISION NOT NULL DEFAULT 0,
    a_sum_sq    DOUBLE PRECISION NOT NULL DEFAULT 0,
    b_n         BIGINT NOT NULL DEFAULT 0,
    b_sum       DOUBLE PRECISION NOT NULL DEFAULT 0,
    b_sum_sq    DOUBLE PRECISION NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_ab_tests_active ON ab_tests(active);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS reasoning_records (
    {{ID}},
    question_id     TEXT NOT NULL,
    reasoning_type  TEXT NOT NULL,
    prompt_text     TEXT NOT NULL DEFAULT '',
    steps           TEXT NOT NULL DEFAULT '[]',
    confidence      DOUBLE PRECISION NOT NULL DEFAULT 0,
    success         INTEGER NOT NULL DEFAULT 0,
    error_kind      TEXT NOT NULL DEFAULT '',
    created_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reasoning_records_question ON reasoning_records(question_id);
CREATE INDEX IF NOT EXISTS idx_reasoning_records_created_at ON reasoning_records(created_at DESC);
`,
	},
}

// migrate applies any unapplied migrations in order.
func (s *SQLStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at TEXT NOT NULL
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := s.db.GetContext(ctx, &count, s.db.Rebind(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`), m.version)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue
		}

		ddl := strings.ReplaceAll(m.sql, "{{ID}}", s.dialect.idColumn)
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		_, err = s.db.ExecContext(ctx, s.db.Rebind(`INSERT INTO schema_versions(version, applied_at) VALUES(?, ?)`),
			m.version, formatTime(now()))
		if err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}
