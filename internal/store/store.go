// Package store persists companies, documents, and risk metrics behind a
// driver-agnostic interface with SQLite and Postgres implementations.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/filing-analyzer/internal/config"
	"github.com/sells-group/filing-analyzer/internal/model"
)

// Sentinel errors surfaced by store implementations. Callers classify them
// with eris.Is / errors.Is.
var (
	ErrNotFound  = eris.New("store: not found")
	ErrDuplicate = eris.New("store: already exists")
)

// Store defines the persistence interface for the analyzer.
type Store interface {
	// Companies
	CreateCompany(ctx context.Context, c model.Company) error
	GetCompany(ctx context.Context, symbol string) (*model.Company, error)
	ListCompanies(ctx context.Context) ([]model.Company, error)

	// Documents
	CreateDocument(ctx context.Context, d model.Document) error
	GetDocumentByYear(ctx context.Context, symbol string, fiscalYear int) (*model.Document, error)
	ListDocuments(ctx context.Context, symbol string) ([]model.Document, error)

	// Risk metrics
	CreateRiskMetric(ctx context.Context, m model.RiskMetric) (int64, error)
	ListRiskMetrics(ctx context.Context, symbol string) ([]model.RiskMetric, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// New creates a Store from config, selecting the driver once at startup.
func New(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "sqlite", "":
		return NewSQLite(cfg.DatabaseURL)
	case "postgres":
		return NewPostgres(ctx, cfg.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}
