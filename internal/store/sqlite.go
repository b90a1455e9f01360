package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/filing-analyzer/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS companies (
	symbol     TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	sector     TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS documents (
	id             TEXT PRIMARY KEY,
	company_symbol TEXT NOT NULL,
	doc_type       TEXT NOT NULL,
	fiscal_year    INTEGER NOT NULL,
	file_path      TEXT NOT NULL,
	page_count     INTEGER NOT NULL,
	word_count     INTEGER NOT NULL,
	uploaded_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS risk_metrics (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	company_symbol  TEXT NOT NULL,
	fiscal_year     INTEGER NOT NULL,
	risk_categories TEXT NOT NULL,
	new_risks       TEXT NOT NULL,
	removed_risks   TEXT NOT NULL,
	sentiment_delta REAL NOT NULL,
	urgency_score   REAL NOT NULL,
	key_phrases     TEXT NOT NULL,
	summary         TEXT NOT NULL,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_documents_company ON documents(company_symbol, fiscal_year);
CREATE INDEX IF NOT EXISTS idx_risk_metrics_company ON risk_metrics(company_symbol, fiscal_year);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateCompany(ctx context.Context, c model.Company) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO companies (symbol, name, sector, created_at) VALUES (?, ?, ?, ?)`,
		c.Symbol, c.Name, c.Sector, c.CreatedAt.UTC(),
	)
	if err != nil {
		if isSQLiteConstraint(err) {
			return eris.Wrapf(ErrDuplicate, "sqlite: company %s", c.Symbol)
		}
		return eris.Wrapf(err, "sqlite: insert company %s", c.Symbol)
	}
	return nil
}

func (s *SQLiteStore) GetCompany(ctx context.Context, symbol string) (*model.Company, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT symbol, name, sector, created_at FROM companies WHERE symbol = ?`,
		symbol,
	)

	var c model.Company
	var sector sql.NullString
	err := row.Scan(&c.Symbol, &c.Name, &sector, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: company %s", symbol)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan company")
	}
	if sector.Valid {
		c.Sector = &sector.String
	}
	return &c, nil
}

func (s *SQLiteStore) ListCompanies(ctx context.Context) ([]model.Company, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT symbol, name, sector, created_at FROM companies ORDER BY symbol`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list companies")
	}
	defer rows.Close()

	var companies []model.Company
	for rows.Next() {
		var c model.Company
		var sector sql.NullString
		if err := rows.Scan(&c.Symbol, &c.Name, &sector, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan company")
		}
		if sector.Valid {
			c.Sector = &sector.String
		}
		companies = append(companies, c)
	}
	return companies, eris.Wrap(rows.Err(), "sqlite: list companies iterate")
}

func (s *SQLiteStore) CreateDocument(ctx context.Context, d model.Document) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, company_symbol, doc_type, fiscal_year, file_path, page_count, word_count, uploaded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.CompanySymbol, d.DocType, d.FiscalYear, d.FilePath, d.PageCount, d.WordCount, d.UploadedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: insert document %s", d.ID)
}

func (s *SQLiteStore) GetDocumentByYear(ctx context.Context, symbol string, fiscalYear int) (*model.Document, error) {
	// Fiscal year is unique per company by convention only; prefer the most
	// recent upload when the convention is violated.
	row := s.db.QueryRowContext(ctx,
		`SELECT id, company_symbol, doc_type, fiscal_year, file_path, page_count, word_count, uploaded_at
		 FROM documents WHERE company_symbol = ? AND fiscal_year = ?
		 ORDER BY uploaded_at DESC LIMIT 1`,
		symbol, fiscalYear,
	)

	var d model.Document
	err := row.Scan(&d.ID, &d.CompanySymbol, &d.DocType, &d.FiscalYear, &d.FilePath, &d.PageCount, &d.WordCount, &d.UploadedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: document %s/%d", symbol, fiscalYear)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan document")
	}
	return &d, nil
}

func (s *SQLiteStore) ListDocuments(ctx context.Context, symbol string) ([]model.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, company_symbol, doc_type, fiscal_year, file_path, page_count, word_count, uploaded_at
		 FROM documents WHERE company_symbol = ? ORDER BY fiscal_year DESC`,
		symbol,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list documents")
	}
	defer rows.Close()

	var docs []model.Document
	for rows.Next() {
		var d model.Document
		if err := rows.Scan(&d.ID, &d.CompanySymbol, &d.DocType, &d.FiscalYear, &d.FilePath, &d.PageCount, &d.WordCount, &d.UploadedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan document")
		}
		docs = append(docs, d)
	}
	return docs, eris.Wrap(rows.Err(), "sqlite: list documents iterate")
}

func (s *SQLiteStore) CreateRiskMetric(ctx context.Context, m model.RiskMetric) (int64, error) {
	categories, newRisks, removedRisks, keyPhrases, err := marshalMetricFields(m)
	if err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO risk_metrics (company_symbol, fiscal_year, risk_categories, new_risks, removed_risks, sentiment_delta, urgency_score, key_phrases, summary, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.CompanySymbol, m.FiscalYear, categories, newRisks, removedRisks,
		m.SentimentDelta, m.UrgencyScore, keyPhrases, m.Summary, m.CreatedAt.UTC(),
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: insert risk metric %s/%d", m.CompanySymbol, m.FiscalYear)
	}
	id, err := res.LastInsertId()
	return id, eris.Wrap(err, "sqlite: risk metric id")
}

func (s *SQLiteStore) ListRiskMetrics(ctx context.Context, symbol string) ([]model.RiskMetric, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, company_symbol, fiscal_year, risk_categories, new_risks, removed_risks, sentiment_delta, urgency_score, key_phrases, summary, created_at
		 FROM risk_metrics WHERE company_symbol = ? ORDER BY fiscal_year`,
		symbol,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list risk metrics")
	}
	defer rows.Close()

	var metrics []model.RiskMetric
	for rows.Next() {
		var m model.RiskMetric
		var categories, newRisks, removedRisks, keyPhrases string
		if err := rows.Scan(&m.ID, &m.CompanySymbol, &m.FiscalYear, &categories, &newRisks, &removedRisks,
			&m.SentimentDelta, &m.UrgencyScore, &keyPhrases, &m.Summary, &m.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan risk metric")
		}
		if err := unmarshalMetricFields(&m, categories, newRisks, removedRisks, keyPhrases); err != nil {
			return nil, err
		}
		metrics = append(metrics, m)
	}
	return metrics, eris.Wrap(rows.Err(), "sqlite: list risk metrics iterate")
}

// helpers

func isSQLiteConstraint(err error) bool {
	// modernc.org/sqlite reports constraint violations in the error text
	// (SQLITE_CONSTRAINT family).
	return err != nil && strings.Contains(err.Error(), "constraint")
}

func marshalMetricFields(m model.RiskMetric) (categories, newRisks, removedRisks, keyPhrases string, err error) {
	cat, err := json.Marshal(m.RiskCategories)
	if err != nil {
		return "", "", "", "", eris.Wrap(err, "store: marshal risk categories")
	}
	nr, err := json.Marshal(emptyIfNil(m.NewRisks))
	if err != nil {
		return "", "", "", "", eris.Wrap(err, "store: marshal new risks")
	}
	rr, err := json.Marshal(emptyIfNil(m.RemovedRisks))
	if err != nil {
		return "", "", "", "", eris.Wrap(err, "store: marshal removed risks")
	}
	kp, err := json.Marshal(emptyIfNil(m.KeyPhrases))
	if err != nil {
		return "", "", "", "", eris.Wrap(err, "store: marshal key phrases")
	}
	return string(cat), string(nr), string(rr), string(kp), nil
}

func unmarshalMetricFields(m *model.RiskMetric, categories, newRisks, removedRisks, keyPhrases string) error {
	if err := json.Unmarshal([]byte(categories), &m.RiskCategories); err != nil {
		return eris.Wrap(err, "store: unmarshal risk categories")
	}
	if err := json.Unmarshal([]byte(newRisks), &m.NewRisks); err != nil {
		return eris.Wrap(err, "store: unmarshal new risks")
	}
	if err := json.Unmarshal([]byte(removedRisks), &m.RemovedRisks); err != nil {
		return eris.Wrap(err, "store: unmarshal removed risks")
	}
	if err := json.Unmarshal([]byte(keyPhrases), &m.KeyPhrases); err != nil {
		return eris.Wrap(err, "store: unmarshal key phrases")
	}
	return nil
}

func emptyIfNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}
