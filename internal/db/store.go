package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"  // postgres driver
	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)

	"github.com/kubilitics/kubilitics-reasoner/internal/config"
	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/prompt"
	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/types"
)

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

type dialect struct {
	driver   string
	idColumn string
}

var (
	sqliteDialect   = dialect{driver: "sqlite", idColumn: "id INTEGER PRIMARY KEY AUTOINCREMENT"}
	postgresDialect = dialect{driver: "postgres", idColumn: "id BIGSERIAL PRIMARY KEY"}
)

// SQLStore is the sqlx-backed implementation of Store.
type SQLStore struct {
	db      *sqlx.DB
	dialect dialect
}

var _ Store = (*SQLStore)(nil)

// Open connects to the configured database and runs pending migrations.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*SQLStore, error) {
	switch cfg.Type {
	case "sqlite":
		return NewSQLiteStore(ctx, cfg.SQLitePath)
	case "postgres":
		return NewPostgresStore(ctx, cfg.PostgresURL)
	default:
		return nil, fmt.Errorf("unsupported database type %q", cfg.Type)
	}
}

// NewSQLiteStore opens (or creates) a SQLite database at path.
func NewSQLiteStore(ctx context.Context, path string) (*SQLStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sqlx.ConnectContext(ctx, sqliteDialect.driver, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// One connection serializes writers and keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{`PRAGMA journal_mode=WAL`, `PRAGMA foreign_keys=ON`, `PRAGMA busy_timeout=5000`} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return newStore(ctx, db, sqliteDialect)
}

// NewPostgresStore connects to PostgreSQL.
func NewPostgresStore(ctx context.Context, url string) (*SQLStore, error) {
	db, err := sqlx.ConnectContext(ctx, postgresDialect.driver, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	return newStore(ctx, db, postgresDialect)
}

func newStore(ctx context.Context, db *sqlx.DB, d dialect) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: d}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close releases database resources.
func (s *SQLStore) Close() error { return s.db.Close() }

// Ping verifies the connection is alive.
func (s *SQLStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// ─── Templates ───────────────────────────────────────────────────────────────

type templateRow struct {
	ID             string  `db:"id"`
	Body           string  `db:"body"`
	DomainTags     string  `db:"domain_tags"`
	Variables      string  `db:"variables"`
	Candidates     string  `db:"candidates"`
	Version        int     `db:"version"`
	Uses           int64   `db:"uses"`
	AvgConfidence  float64 `db:"avg_confidence"`
	AvgSuccessRate float64 `db:"avg_success_rate"`
	LastUsed       string  `db:"last_used"`
	UpdatedAt      string  `db:"updated_at"`
}

// SaveTemplate creates or replaces a template and its statistics.
func (s *SQLStore) SaveTemplate(ctx context.Context, t prompt.Template) error {
	row := templateRow{
		ID:             t.ID,
		Body:           t.Body,
		DomainTags:     mustJSON(t.DomainTags, "[]"),
		Variables:      mustJSON(t.Variables, "{}"),
		Candidates:     mustJSON(t.Candidates, "{}"),
		Version:        t.Version,
		Uses:           t.Stats.Uses,
		AvgConfidence:  t.Stats.AvgConfidence,
		AvgSuccessRate: t.Stats.AvgSuccessRate,
		LastUsed:       formatTime(t.Stats.LastUsed),
		UpdatedAt:      formatTime(now()),
	}
	_, err := s.db.NamedExecContext(ctx, `
        INSERT INTO prompt_templates(id, body, domain_tags, variables, candidates, version, uses, avg_confidence, avg_success_rate, last_used, updated_at)
        VALUES(:id, :body, :domain_tags, :variables, :candidates, :version, :uses, :avg_confidence, :avg_success_rate, :last_used, :updated_at)
        ON CONFLICT(id) DO UPDATE SET
            body             = excluded.body,
            domain_tags      = excluded.domain_tags,
            variables        = excluded.variables,
            candidates       = excluded.candidates,
            version          = excluded.version,
            uses             = excluded.uses,
            avg_confidence   = excluded.avg_confidence,
            avg_success_rate = excluded.avg_success_rate,
            last_used        = excluded.last_used,
            updated_at       = excluded.updated_at
    `, row)
	if err != nil {
		return fmt.Errorf("upsert template %s: %w", t.ID, err)
	}
	return nil
}

// LoadTemplates returns every stored template ordered by id.
func (s *SQLStore) LoadTemplates(ctx context.Context) ([]prompt.Template, error) {
	var rows []templateRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM prompt_templates ORDER BY id ASC`); err != nil {
		return nil, fmt.Errorf("query templates: %w", err)
	}
	out := make([]prompt.Template, 0, len(rows))
	for _, r := range rows {
		t := prompt.Template{
			ID:      r.ID,
			Body:    r.Body,
			Version: r.Version,
			Stats: prompt.PerformanceStats{
				Uses:           r.Uses,
				AvgConfidence:  r.AvgConfidence,
				AvgSuccessRate: r.AvgSuccessRate,
				LastUsed:       parseTime(r.LastUsed),
			},
		}
		if err := unmarshalColumns(r.ID,
			column{"domain_tags", r.DomainTags, &t.DomainTags},
			column{"variables", r.Variables, &t.Variables},
			column{"candidates", r.Candidates, &t.Candidates},
		); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// ─── A/B tests ───────────────────────────────────────────────────────────────

type abTestRow struct {
	ID        string  `db:"id"`
	TemplateA string  `db:"template_a"`
	TemplateB string  `db:"template_b"`
	SplitA    float64 `db:"split_a"`
	Active    int     `db:"active"`
	CreatedAt string  `db:"created_at"`
	AN        int64   `db:"a_n"`
	ASum      float64 `db:"a_sum"`
	ASumSq    float64 `db:"a_sum_sq"`
	BN        int64   `db:"b_n"`
	BSum      float64 `db:"b_sum"`
	BSumSq    float64 `db:"b_sum_sq"`
}

// SaveABTest creates or replaces an A/B test snapshot.
func (s *SQLStore) SaveABTest(ctx context.Context, t prompt.ABTest) error {
	row := abTestRow{
		ID:        t.ID,
		TemplateA: t.TemplateA,
		TemplateB: t.TemplateB,
		SplitA:    t.SplitA,
		Active:    boolInt(t.Active),
		CreatedAt: formatTime(t.CreatedAt),
		AN:        t.A.N,
		ASum:      t.A.Sum,
		ASumSq:    t.A.SumSq,
		BN:        t.B.N,
		BSum:      t.B.Sum,
		BSumSq:    t.B.SumSq,
	}
	_, err := s.db.NamedExecContext(ctx, `
        INSERT INTO ab_tests(id, template_a, template_b, split_a, active, created_at, a_n, a_sum, a_sum_sq, b_n, b_sum, b_sum_sq)
        VALUES(:id, :template_a, :template_b, :split_a, :active, :created_at, :a_n, :a_sum, :a_sum_sq, :b_n, :b_sum, :b_sum_sq)
        ON CONFLICT(id) DO UPDATE SET
            active   = excluded.active,
            a_n      = excluded.a_n,
            a_sum    = excluded.a_sum,
            a_sum_sq = excluded.a_sum_sq,
            b_n      = excluded.b_n,
            b_sum    = excluded.b_sum,
            b_sum_sq = excluded.b_sum_sq
    `, row)
	if err != nil {
		return fmt.Errorf("upsert ab test %s: %w", t.ID, err)
	}
	return nil
}

// LoadABTests returns every stored test, oldest first.
func (s *SQLStore) LoadABTests(ctx context.Context) ([]prompt.ABTest, error) {
	var rows []abTestRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM ab_tests ORDER BY created_at ASC, id ASC`); err != nil {
		return nil, fmt.Errorf("query ab tests: %w", err)
	}
	out := make([]prompt.ABTest, 0, len(rows))
	for _, r := range rows {
		out = append(out, prompt.ABTest{
			ID:        r.ID,
			TemplateA: r.TemplateA,
			TemplateB: r.TemplateB,
			SplitA:    r.SplitA,
			Active:    r.Active != 0,
			CreatedAt: parseTime(r.CreatedAt),
			A:         prompt.VariantStats{N: r.AN, Sum: r.ASum, SumSq: r.ASumSq},
			B:         prompt.VariantStats{N: r.BN, Sum: r.BSum, SumSq: r.BSumSq},
		})
	}
	return out, nil
}

// ─── Reasoning records ───────────────────────────────────────────────────────

type recordRow struct {
	ID            int64   `db:"id"`
	QuestionID    string  `db:"question_id"`
	ReasoningType string  `db:"reasoning_type"`
	PromptText    string  `db:"prompt_text"`
	Steps         string  `db:"steps"`
	Confidence    float64 `db:"confidence"`
	Success       int     `db:"success"`
	ErrorKind     string  `db:"error_kind"`
	CreatedAt     string  `db:"created_at"`
}

func (r recordRow) record() (types.AuditRecord, error) {
	rec := types.AuditRecord{
		QuestionID:      r.QuestionID,
		FinalPromptText: r.PromptText,
		ReasoningType:   types.StrategyKind(r.ReasoningType),
		Confidence:      r.Confidence,
		Success:         r.Success != 0,
		ErrorKind:       types.ErrorKind(r.ErrorKind),
		CreatedAt:       parseTime(r.CreatedAt),
	}
	err := unmarshalColumns(r.QuestionID, column{"steps", r.Steps, &rec.Steps})
	return rec, err
}

// Emit appends one reasoning record.
func (s *SQLStore) Emit(ctx context.Context, rec types.AuditRecord) error {
	steps, err := json.Marshal(rec.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = now()
	}
	row := recordRow{
		QuestionID:    rec.QuestionID,
		ReasoningType: string(rec.ReasoningType),
		PromptText:    rec.FinalPromptText,
		Steps:         string(steps),
		Confidence:    rec.Confidence,
		Success:       boolInt(rec.Success),
		ErrorKind:     string(rec.ErrorKind),
		CreatedAt:     formatTime(created),
	}
	_, err = s.db.NamedExecContext(ctx, `
        INSERT INTO reasoning_records(question_id, reasoning_type, prompt_text, steps, confidence, success, error_kind, created_at)
        VALUES(:question_id, :reasoning_type, :prompt_text, :steps, :confidence, :success, :error_kind, :created_at)
    `, row)
	if err != nil {
		return fmt.Errorf("insert reasoning record: %w", err)
	}
	return nil
}

// ListReasoningRecords returns the newest records first.
func (s *SQLStore) ListReasoningRecords(ctx context.Context, limit int) ([]types.AuditRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []recordRow
	err := s.db.SelectContext(ctx, &rows,
		s.db.Rebind(`SELECT * FROM reasoning_records ORDER BY created_at DESC, id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("query reasoning records: %w", err)
	}
	out := make([]types.AuditRecord, 0, len(rows))
	for _, r := range rows {
		rec, err := r.record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// GetReasoningRecord returns the latest record of one question.
func (s *SQLStore) GetReasoningRecord(ctx context.Context, questionID string) (*types.AuditRecord, error) {
	var row recordRow
	err := s.db.GetContext(ctx, &row,
		s.db.Rebind(`SELECT * FROM reasoning_records WHERE question_id = ? ORDER BY id DESC LIMIT 1`), questionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("reasoning record %s: %w", questionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query reasoning record %s: %w", questionID, err)
	}
	rec, err := row.record()
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

var now = func() time.Time { return time.Now().UTC() }

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func mustJSON(v any, empty string) string {
	b, err := json.Marshal(v)
	if err != nil || string(b) == "null" {
		return empty
	}
	return string(b)
}

type column struct {
	name string
	raw  string
	dst  any
}

func unmarshalColumns(id string, cols ...column) error {
	for _, c := range cols {
		if c.raw == "" {
			continue
		}
		if err := json.Unmarshal([]byte(c.raw), c.dst); err != nil {
			return fmt.Errorf("decode %s of %s: %w", c.name, id, err)
		}
	}
	return nil
}
