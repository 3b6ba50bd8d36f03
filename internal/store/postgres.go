package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/valueup-cli/internal/db"
	"github.com/sells-group/valueup-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	var cfg db.PoolConfig
	if poolCfg != nil {
		cfg = db.PoolConfig{MaxConns: poolCfg.MaxConns, MinConns: poolCfg.MinConns}
	}
	pool, err := db.NewPool(ctx, connString, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool; Close leaves it open.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

var docCacheUpsert = func() string {
	q, err := db.UpsertSQL(db.UpsertConfig{
		Table:        "doc_cache",
		Columns:      []string{"entry_id", "method", "source_url", "content", "text", "cached_at", "expires_at"},
		ConflictKeys: []string{"entry_id"},
	})
	if err != nil {
		panic(err)
	}
	return q
}()

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	date_window TEXT NOT NULL,
	provider    TEXT NOT NULL,
	dry_run     BOOLEAN NOT NULL DEFAULT false,
	status      TEXT NOT NULL DEFAULT 'running',
	summary     JSONB,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS doc_cache (
	entry_id   TEXT PRIMARY KEY,
	method     TEXT NOT NULL,
	source_url TEXT NOT NULL DEFAULT '',
	content    BYTEA,
	text       TEXT,
	cached_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS provider_usage (
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id           TEXT NOT NULL DEFAULT '',
	entry_id         TEXT NOT NULL,
	provider         TEXT NOT NULL,
	model            TEXT NOT NULL DEFAULT '',
	input_tokens     BIGINT NOT NULL DEFAULT 0,
	output_tokens    BIGINT NOT NULL DEFAULT 0,
	estimated_tokens BIGINT NOT NULL DEFAULT 0,
	cost_usd         DOUBLE PRECISION NOT NULL DEFAULT 0,
	recorded_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_doc_cache_expires_at ON doc_cache(expires_at);
CREATE INDEX IF NOT EXISTS idx_usage_recorded_at ON provider_usage(recorded_at);
`

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, postgresMigration)
		return err
	})
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, run model.Run) (*model.Run, error) {
	run.ID = uuid.New().String()
	run.Status = model.RunStatusRunning
	run.CreatedAt = time.Now().UTC()
	run.UpdatedAt = run.CreatedAt

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, date_window, provider, dry_run, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ID, run.Window, run.Provider, run.DryRun, string(run.Status), run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return &run, nil
}

func (s *PostgresStore) FinishRun(ctx context.Context, runID string, status model.RunStatus, summary *model.RunSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal summary")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET summary = $1, status = $2, updated_at = $3 WHERE id = $4`,
		summaryJSON, string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, date_window, provider, dry_run, status, summary, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	)
	r, err := scanPgRun(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, date_window, provider, dry_run, status, summary, created_at, updated_at FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func scanPgRun(row pgx.Row) (*model.Run, error) {
	var r model.Run
	var status string
	var summaryJSON []byte
	if err := row.Scan(&r.ID, &r.Window, &r.Provider, &r.DryRun, &status, &summaryJSON, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Status = model.RunStatus(status)
	if len(summaryJSON) > 0 && string(summaryJSON) != "null" {
		r.Summary = &model.RunSummary{}
		if err := json.Unmarshal(summaryJSON, r.Summary); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal summary")
		}
	}
	return &r, nil
}

func (s *PostgresStore) GetCachedDocument(ctx context.Context, entryID string) (*CachedDocument, error) {
	var d CachedDocument
	var method string
	err := s.pool.QueryRow(ctx,
		`SELECT entry_id, method, source_url, content, text, cached_at, expires_at FROM doc_cache
		 WHERE entry_id = $1 AND expires_at > now()`,
		entryID,
	).Scan(&d.EntryID, &method, &d.SourceURL, &d.Content, &d.Text, &d.CachedAt, &d.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get cached document %s", entryID)
	}
	d.Method = model.ExtractionMethod(method)
	return &d, nil
}

func (s *PostgresStore) SetCachedDocument(ctx context.Context, doc CachedDocument, ttl time.Duration) error {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, docCacheUpsert,
		doc.EntryID, string(doc.Method), doc.SourceURL, doc.Content, doc.Text, now, now.Add(ttl),
	)
	return eris.Wrapf(err, "postgres: set cached document %s", doc.EntryID)
}

func (s *PostgresStore) DeleteExpiredDocuments(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM doc_cache WHERE expires_at <= now()`)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired documents")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) RecordUsage(ctx context.Context, rec UsageRecord) error {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now()
	}
	rec.RecordedAt = rec.RecordedAt.UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO provider_usage (id, run_id, entry_id, provider, model, input_tokens, output_tokens, estimated_tokens, cost_usd, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		uuid.New().String(), rec.RunID, rec.EntryID, rec.Provider, rec.Model,
		rec.InputTokens, rec.OutputTokens, rec.EstimatedTokens, rec.CostUSD, rec.RecordedAt,
	)
	return eris.Wrap(err, "postgres: record usage")
}

func (s *PostgresStore) UsageSince(ctx context.Context, since time.Time) (*UsageTotals, error) {
	var t UsageTotals
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0),
		        COALESCE(SUM(estimated_tokens), 0), COALESCE(SUM(cost_usd), 0)
		 FROM provider_usage WHERE recorded_at >= $1`,
		since.UTC(),
	).Scan(&t.Calls, &t.InputTokens, &t.OutputTokens, &t.EstimatedTokens, &t.CostUSD)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: usage since")
	}
	return &t, nil
}
