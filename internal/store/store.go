// Package store persists the run ledger, the retrieved-document cache and
// provider usage.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/valueup-cli/internal/config"
	"github.com/sells-group/valueup-cli/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// CachedDocument is a retrieved filing kept between runs so re-analysis
// does not download it again.
type CachedDocument struct {
	EntryID   string                 `json:"entry_id"`
	Method    model.ExtractionMethod `json:"extraction_method"`
	SourceURL string                 `json:"source_url"`
	Content   []byte                 `json:"-"`
	Text      *string                `json:"text,omitempty"`
	CachedAt  time.Time              `json:"cached_at"`
	ExpiresAt time.Time              `json:"expires_at"`
}

// UsageRecord is one provider call's token consumption.
type UsageRecord struct {
	RunID           string    `json:"run_id"`
	EntryID         string    `json:"entry_id"`
	Provider        string    `json:"provider"`
	Model           string    `json:"model"`
	InputTokens     int64     `json:"input_tokens"`
	OutputTokens    int64     `json:"output_tokens"`
	EstimatedTokens int64     `json:"estimated_tokens"`
	CostUSD         float64   `json:"cost_usd"`
	RecordedAt      time.Time `json:"recorded_at"`
}

// UsageTotals aggregates usage records.
type UsageTotals struct {
	Calls           int     `json:"calls"`
	InputTokens     int64   `json:"input_tokens"`
	OutputTokens    int64   `json:"output_tokens"`
	EstimatedTokens int64   `json:"estimated_tokens"`
	CostUSD         float64 `json:"cost_usd"`
}

// Store defines the local persistence interface.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, run model.Run) (*model.Run, error)
	FinishRun(ctx context.Context, runID string, status model.RunStatus, summary *model.RunSummary) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Document cache. GetCachedDocument returns nil, nil on a miss.
	GetCachedDocument(ctx context.Context, entryID string) (*CachedDocument, error)
	SetCachedDocument(ctx context.Context, doc CachedDocument, ttl time.Duration) error
	DeleteExpiredDocuments(ctx context.Context) (int, error)

	// Usage
	RecordUsage(ctx context.Context, rec UsageRecord) error
	UsageSince(ctx context.Context, since time.Time) (*UsageTotals, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open creates the store selected by cfg and runs migrations.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	var (
		st  Store
		err error
	)
	switch cfg.Driver {
	case "sqlite", "":
		st, err = NewSQLite(cfg.DatabaseURL)
	case "postgres":
		st, err = NewPostgres(ctx, cfg.DatabaseURL, &PoolConfig{MaxConns: cfg.MaxConns, MinConns: cfg.MinConns})
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}
