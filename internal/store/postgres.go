package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/filing-analyzer/internal/model"
)

// pgPool is the subset of pgxpool.Pool the store uses; pgxmock satisfies it
// in tests.
type pgPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool pgPool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS companies (
	symbol     TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	sector     TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS documents (
	id             TEXT PRIMARY KEY,
	company_symbol TEXT NOT NULL,
	doc_type       TEXT NOT NULL,
	fiscal_year    INTEGER NOT NULL,
	file_path      TEXT NOT NULL,
	page_count     INTEGER NOT NULL,
	word_count     INTEGER NOT NULL,
	uploaded_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS risk_metrics (
	id              BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	company_symbol  TEXT NOT NULL,
	fiscal_year     INTEGER NOT NULL,
	risk_categories JSONB NOT NULL,
	new_risks       JSONB NOT NULL,
	removed_risks   JSONB NOT NULL,
	sentiment_delta DOUBLE PRECISION NOT NULL,
	urgency_score   DOUBLE PRECISION NOT NULL,
	key_phrases     JSONB NOT NULL,
	summary         TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_documents_company ON documents(company_symbol, fiscal_year);
CREATE INDEX IF NOT EXISTS idx_risk_metrics_company ON risk_metrics(company_symbol, fiscal_year);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateCompany(ctx context.Context, c model.Company) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO companies (symbol, name, sector, created_at) VALUES ($1, $2, $3, $4)`,
		c.Symbol, c.Name, c.Sector, c.CreatedAt.UTC(),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return eris.Wrapf(ErrDuplicate, "postgres: company %s", c.Symbol)
		}
		return eris.Wrapf(err, "postgres: insert company %s", c.Symbol)
	}
	return nil
}

func (s *PostgresStore) GetCompany(ctx context.Context, symbol string) (*model.Company, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT symbol, name, sector, created_at FROM companies WHERE symbol = $1`,
		symbol,
	)

	var c model.Company
	err := row.Scan(&c.Symbol, &c.Name, &c.Sector, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: company %s", symbol)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan company")
	}
	return &c, nil
}

func (s *PostgresStore) ListCompanies(ctx context.Context) ([]model.Company, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT symbol, name, sector, created_at FROM companies ORDER BY symbol`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list companies")
	}
	defer rows.Close()

	var companies []model.Company
	for rows.Next() {
		var c model.Company
		if err := rows.Scan(&c.Symbol, &c.Name, &c.Sector, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan company")
		}
		companies = append(companies, c)
	}
	return companies, eris.Wrap(rows.Err(), "postgres: list companies iterate")
}

func (s *PostgresStore) CreateDocument(ctx context.Context, d model.Document) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO documents (id, company_symbol, doc_type, fiscal_year, file_path, page_count, word_count, uploaded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		d.ID, d.CompanySymbol, d.DocType, d.FiscalYear, d.FilePath, d.PageCount, d.WordCount, d.UploadedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: insert document %s", d.ID)
}

func (s *PostgresStore) GetDocumentByYear(ctx context.Context, symbol string, fiscalYear int) (*model.Document, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, company_symbol, doc_type, fiscal_year, file_path, page_count, word_count, uploaded_at
		 FROM documents WHERE company_symbol = $1 AND fiscal_year = $2
		 ORDER BY uploaded_at DESC LIMIT 1`,
		symbol, fiscalYear,
	)

	var d model.Document
	err := row.Scan(&d.ID, &d.CompanySymbol, &d.DocType, &d.FiscalYear, &d.FilePath, &d.PageCount, &d.WordCount, &d.UploadedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: document %s/%d", symbol, fiscalYear)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan document")
	}
	return &d, nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context, symbol string) ([]model.Document, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, company_symbol, doc_type, fiscal_year, file_path, page_count, word_count, uploaded_at
		 FROM documents WHERE company_symbol = $1 ORDER BY fiscal_year DESC`,
		symbol,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list documents")
	}
	defer rows.Close()

	var docs []model.Document
	for rows.Next() {
		var d model.Document
		if err := rows.Scan(&d.ID, &d.CompanySymbol, &d.DocType, &d.FiscalYear, &d.FilePath, &d.PageCount, &d.WordCount, &d.UploadedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan document")
		}
		docs = append(docs, d)
	}
	return docs, eris.Wrap(rows.Err(), "postgres: list documents iterate")
}

func (s *PostgresStore) CreateRiskMetric(ctx context.Context, m model.RiskMetric) (int64, error) {
	categories, newRisks, removedRisks, keyPhrases, err := marshalMetricFields(m)
	if err != nil {
		return 0, err
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO risk_metrics (company_symbol, fiscal_year, risk_categories, new_risks, removed_risks, sentiment_delta, urgency_score, key_phrases, summary, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`,
		m.CompanySymbol, m.FiscalYear, categories, newRisks, removedRisks,
		m.SentimentDelta, m.UrgencyScore, keyPhrases, m.Summary, m.CreatedAt.UTC(),
	)

	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, eris.Wrapf(err, "postgres: insert risk metric %s/%d", m.CompanySymbol, m.FiscalYear)
	}
	return id, nil
}

func (s *PostgresStore) ListRiskMetrics(ctx context.Context, symbol string) ([]model.RiskMetric, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, company_symbol, fiscal_year, risk_categories, new_risks, removed_risks, sentiment_delta, urgency_score, key_phrases, summary, created_at
		 FROM risk_metrics WHERE company_symbol = $1 ORDER BY fiscal_year`,
		symbol,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list risk metrics")
	}
	defer rows.Close()

	var metrics []model.RiskMetric
	for rows.Next() {
		var m model.RiskMetric
		var categories, newRisks, removedRisks, keyPhrases string
		if err := rows.Scan(&m.ID, &m.CompanySymbol, &m.FiscalYear, &categories, &newRisks, &removedRisks,
			&m.SentimentDelta, &m.UrgencyScore, &keyPhrases, &m.Summary, &m.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan risk metric")
		}
		if err := unmarshalMetricFields(&m, categories, newRisks, removedRisks, keyPhrases); err != nil {
			return nil, err
		}
		metrics = append(metrics, m)
	}
	return metrics, eris.Wrap(rows.Err(), "postgres: list risk metrics iterate")
}
