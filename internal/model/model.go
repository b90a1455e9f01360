// Package model defines the core domain types shared across the analyzer.
package model

import (
	"strings"
	"time"
)

// Company is a tracked issuer. Rows are insert-only; the symbol is the sole
// key other tables reference, normalized to upper case at the API boundary.
type Company struct {
	Symbol    string    `json:"symbol"`
	Name      string    `json:"name"`
	Sector    *string   `json:"sector"`
	CreatedAt time.Time `json:"created_at"`
}

// NormalizeSymbol upper-cases and trims a ticker symbol. This is the only
// referential-integrity mechanism between companies and their documents.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Document is one uploaded filing. The raw upload and the extracted text
// live on disk next to the row; there is no transactional guarantee between
// the file writes and the insert.
type Document struct {
	ID            string    `json:"doc_id"`
	CompanySymbol string    `json:"company_symbol"`
	DocType       string    `json:"doc_type"`
	FiscalYear    int       `json:"fiscal_year"`
	FilePath      string    `json:"file_path"`
	PageCount     int       `json:"page_count"`
	WordCount     int       `json:"word_count"`
	UploadedAt    time.Time `json:"uploaded_at"`
}

// RiskAnalysis is the structured result parsed from the LLM response.
type RiskAnalysis struct {
	RiskCategories map[string]float64 `json:"risk_categories"`
	NewRisks       []string           `json:"new_risks"`
	RemovedRisks   []string           `json:"removed_risks"`
	SentimentDelta float64            `json:"sentiment_delta"`
	UrgencyScore   float64            `json:"urgency_score"`
	KeyPhrases     []string           `json:"key_phrases"`
	Summary        string             `json:"summary"`
}

// RiskMetric is one persisted analysis of a company's risk disclosure for a
// fiscal year. Re-analysis appends a new row; there is no uniqueness
// constraint on (company, year).
type RiskMetric struct {
	ID            int64  `json:"id"`
	CompanySymbol string `json:"company_symbol"`
	FiscalYear    int    `json:"fiscal_year"`
	RiskAnalysis
	CreatedAt time.Time `json:"created_at"`
}

// JobStatus is the lifecycle state of an analysis job.
type JobStatus string

// Job states. Completed and failed are terminal.
const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Job is an in-memory analysis job snapshot. Jobs are not persisted and are
// lost on restart.
type Job struct {
	ID       string        `json:"job_id"`
	Status   JobStatus     `json:"status"`
	Progress int           `json:"progress"`
	Message  string        `json:"message"`
	Result   *RiskAnalysis `json:"result,omitempty"`
}
