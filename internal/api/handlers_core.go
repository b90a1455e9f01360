package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/filing-analyzer/internal/extract"
	"github.com/sells-group/filing-analyzer/internal/llm"
	"github.com/sells-group/filing-analyzer/internal/model"
	"github.com/sells-group/filing-analyzer/internal/store"
)

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Annual Report Risk Analyzer API",
		"version": version,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"llm_provider":  s.runner.ProviderName(),
		"llm_available": s.runner.Available(),
	})
}

func (s *Server) handleCreateCompany(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Symbol string  `json:"symbol"`
		Name   string  `json:"name"`
		Sector *string `json:"sector"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	symbol := model.NormalizeSymbol(req.Symbol)
	if symbol == "" || strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "symbol and name are required")
		return
	}

	err := s.store.CreateCompany(r.Context(), model.Company{
		Symbol:    symbol,
		Name:      strings.TrimSpace(req.Name),
		Sector:    req.Sector,
		CreatedAt: time.Now().UTC(),
	})
	if eris.Is(err, store.ErrDuplicate) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("company %s already exists", symbol))
		return
	}
	if err != nil {
		zap.L().Error("api: create company", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"message": "company created",
		"symbol":  symbol,
	})
}

func (s *Server) handleListCompanies(w http.ResponseWriter, r *http.Request) {
	companies, err := s.store.ListCompanies(r.Context())
	if err != nil {
		zap.L().Error("api: list companies", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if companies == nil {
		companies = []model.Company{}
	}
	writeJSON(w, http.StatusOK, companies)
}

func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	// The size limit applies to the file part, not the whole request, so the
	// fast-path check and the body cap both allow for multipart framing.
	const multipartOverhead = 64 << 10
	if r.ContentLength > s.upload.MaxDocumentBytes+multipartOverhead {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("file too large: %d bytes", r.ContentLength))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.upload.MaxDocumentBytes+multipartOverhead)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart request")
		return
	}

	symbol := model.NormalizeSymbol(r.FormValue("company_symbol"))
	fiscalYear, err := strconv.Atoi(r.FormValue("fiscal_year"))
	if symbol == "" || err != nil {
		writeError(w, http.StatusBadRequest, "company_symbol and fiscal_year are required")
		return
	}
	docType := r.FormValue("doc_type")
	if docType == "" {
		docType = "annual_report"
	}

	if _, err := s.store.GetCompany(r.Context(), symbol); err != nil {
		if eris.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("company %s not found", symbol))
			return
		}
		zap.L().Error("api: look up company", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	if header.Size > s.upload.MaxDocumentBytes {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("file too large: %d bytes", header.Size))
		return
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if ext == "" {
		ext = ".pdf"
	}

	docID := uuid.New().String()
	path, err := s.docs.SaveUpload(docID, ext, file)
	if err != nil {
		zap.L().Error("api: save upload", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	res, err := extract.PDF(path)
	if err != nil {
		// The partial upload is useless without its text.
		if rmErr := s.docs.RemoveUpload(path); rmErr != nil {
			zap.L().Warn("api: cleanup after failed extraction", zap.Error(rmErr))
		}
		zap.L().Error("api: extract document",
			zap.String("doc_id", docID),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "text extraction failed")
		return
	}

	if _, err := s.docs.SaveExtracted(docID, res.Text); err != nil {
		zap.L().Error("api: save extracted text", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	doc := model.Document{
		ID:            docID,
		CompanySymbol: symbol,
		DocType:       docType,
		FiscalYear:    fiscalYear,
		FilePath:      path,
		PageCount:     res.PageCount,
		WordCount:     res.WordCount,
		UploadedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateDocument(r.Context(), doc); err != nil {
		zap.L().Error("api: create document", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"doc_id":         docID,
		"company_symbol": symbol,
		"fiscal_year":    fiscalYear,
		"page_count":     res.PageCount,
		"word_count":     res.WordCount,
		"message":        "document uploaded and text extracted",
	})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	symbol := model.NormalizeSymbol(chi.URLParam(r, "company_symbol"))

	if _, err := s.store.GetCompany(r.Context(), symbol); err != nil {
		if eris.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("company %s not found", symbol))
			return
		}
		zap.L().Error("api: look up company", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	docs, err := s.store.ListDocuments(r.Context(), symbol)
	if err != nil {
		zap.L().Error("api: list documents", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if docs == nil {
		docs = []model.Document{}
	}
	writeJSON(w, http.StatusOK, docs)
}

func (s *Server) handleTriggerAnalysis(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form")
		return
	}

	symbol := model.NormalizeSymbol(r.FormValue("company_symbol"))
	fiscalYear, err := strconv.Atoi(r.FormValue("fiscal_year"))
	if symbol == "" || err != nil {
		writeError(w, http.StatusBadRequest, "company_symbol and fiscal_year are required")
		return
	}

	jobID, err := s.runner.Submit(symbol, fiscalYear)
	if err != nil {
		if eris.Is(err, llm.ErrUnavailable) {
			writeError(w, http.StatusInternalServerError, "no LLM provider configured")
			return
		}
		zap.L().Error("api: submit analysis", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"job_id":  jobID,
		"message": "analysis started",
	})
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")

	job, ok := s.registry.Get(jobID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("job %s not found", jobID))
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	symbol := model.NormalizeSymbol(chi.URLParam(r, "company_symbol"))

	if _, err := s.store.GetCompany(r.Context(), symbol); err != nil {
		if eris.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("company %s not found", symbol))
			return
		}
		zap.L().Error("api: look up company", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	metrics, err := s.store.ListRiskMetrics(r.Context(), symbol)
	if err != nil {
		zap.L().Error("api: list risk metrics", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if metrics == nil {
		metrics = []model.RiskMetric{}
	}
	writeJSON(w, http.StatusOK, metrics)
}
