package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/filing-analyzer/internal/analysis"
	"github.com/sells-group/filing-analyzer/internal/config"
	"github.com/sells-group/filing-analyzer/internal/docstore"
	"github.com/sells-group/filing-analyzer/internal/store"
)

const analysisResponse = `{
	"risk_categories": {"cyber": 0.9},
	"new_risks": ["ransomware"],
	"removed_risks": [],
	"sentiment_delta": -0.2,
	"urgency_score": 8,
	"key_phrases": ["material impact"],
	"summary": "Risk tone worsened."
}`

type stubProvider struct {
	response string
	err      error
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Generate(context.Context, string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.response, nil
}

type testEnv struct {
	server  *Server
	handler http.Handler
	store   store.Store
	docs    *docstore.Dirs
	uploads string
}

func newTestEnv(t *testing.T, withProvider bool) *testEnv {
	t.Helper()

	dir := t.TempDir()
	st, err := store.New(context.Background(), config.StoreConfig{
		Driver:      "sqlite",
		DatabaseURL: filepath.Join(dir, "test.db"),
	})
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })

	uploads := filepath.Join(dir, "uploads")
	docs, err := docstore.New(uploads, filepath.Join(dir, "extracted"))
	require.NoError(t, err)

	registry := analysis.NewRegistry()
	var runner *analysis.Runner
	if withProvider {
		runner = analysis.NewRunner(st, docs, &stubProvider{response: analysisResponse}, registry)
	} else {
		runner = analysis.NewRunner(st, docs, nil, registry)
	}
	t.Cleanup(runner.Shutdown)

	srv := New(st, docs, runner, registry, config.UploadConfig{
		MaxDocumentBytes: 50 << 20,
		MaxMarketBytes:   20 << 20,
	})
	return &testEnv{server: srv, handler: srv.Router(), store: st, docs: docs, uploads: uploads}
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) getJSON(t *testing.T, path string, out any) *httptest.ResponseRecorder {
	t.Helper()
	rec := e.do(t, httptest.NewRequest(http.MethodGet, path, nil))
	if out != nil && rec.Code < 300 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec
}

func (e *testEnv) postJSON(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return e.do(t, req)
}

// multipartBody builds a multipart request body with one file part and any
// extra form fields.
func multipartBody(t *testing.T, filename string, file []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(file)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func (e *testEnv) createCompany(t *testing.T, symbol string) {
	t.Helper()
	rec := e.postJSON(t, "/api/companies", map[string]any{"symbol": symbol, "name": symbol + " Inc"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

// minimalPDF renders a valid one-page PDF containing one line of ASCII text.
func minimalPDF(text string) []byte {
	var buf bytes.Buffer
	offsets := make([]int, 6)
	buf.WriteString("%PDF-1.4\n")

	add := func(num int, body string) {
		offsets[num] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", num, body)
	}

	stream := fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", text)
	add(1, "<< /Type /Catalog /Pages 2 0 R >>")
	add(2, "<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	add(3, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] "+
		"/Resources << /Font << /F1 4 0 R >> >> /Contents 5 0 R >>")
	add(4, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")
	add(5, fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream))

	xrefStart := buf.Len()
	buf.WriteString("xref\n0 6\n0000000000 65535 f \n")
	for i := 1; i <= 5; i++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[i])
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size 6 /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", xrefStart)
	return buf.Bytes()
}

func TestRoot(t *testing.T) {
	e := newTestEnv(t, false)

	var body map[string]string
	rec := e.getJSON(t, "/", &body)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, version, body["version"])
	assert.NotEmpty(t, body["message"])
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t, false)

	var body map[string]any
	rec := e.getJSON(t, "/api/health", &body)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["llm_available"])

	e = newTestEnv(t, true)
	rec = e.getJSON(t, "/api/health", &body)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["llm_available"])
	assert.Equal(t, "stub", body["llm_provider"])
}

func TestCreateCompany(t *testing.T) {
	e := newTestEnv(t, false)

	rec := e.postJSON(t, "/api/companies", map[string]any{"symbol": "acme", "name": "Acme Corp"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"symbol":"ACME"`)

	// Duplicate, case-insensitively.
	rec = e.postJSON(t, "/api/companies", map[string]any{"symbol": "ACME", "name": "Other"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.postJSON(t, "/api/companies", map[string]any{"symbol": "", "name": "No Symbol"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.postJSON(t, "/api/companies", map[string]any{"symbol": "X", "name": "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListCompaniesOrderedBySymbol(t *testing.T) {
	e := newTestEnv(t, false)
	e.createCompany(t, "ZED")
	e.createCompany(t, "ALPHA")

	var companies []map[string]any
	rec := e.getJSON(t, "/api/companies", &companies)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, companies, 2)
	assert.Equal(t, "ALPHA", companies[0]["symbol"])
	assert.Equal(t, "ZED", companies[1]["symbol"])
}

func TestListCompaniesEmptyIsArray(t *testing.T) {
	e := newTestEnv(t, false)
	rec := e.getJSON(t, "/api/companies", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func uploadDocument(t *testing.T, e *testEnv, symbol string, year int, pdfData []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, "report.pdf", pdfData, map[string]string{
		"company_symbol": symbol,
		"fiscal_year":    fmt.Sprintf("%d", year),
	})
	req := httptest.NewRequest(http.MethodPost, "/api/documents/upload", body)
	req.Header.Set("Content-Type", contentType)
	return e.do(t, req)
}

func TestUploadDocument(t *testing.T) {
	e := newTestEnv(t, false)
	e.createCompany(t, "ACME")

	rec := uploadDocument(t, e, "ACME", 2024, minimalPDF("Risk factors include cyber attacks"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ACME", body["company_symbol"])
	assert.Equal(t, float64(2024), body["fiscal_year"])
	assert.Equal(t, float64(1), body["page_count"])
	assert.Equal(t, float64(5), body["word_count"])
	assert.NotEmpty(t, body["doc_id"])

	// Extracted text is readable under the returned id.
	text, err := e.docs.ReadExtracted(body["doc_id"].(string))
	require.NoError(t, err)
	assert.Contains(t, text, "Risk factors")
}

func TestUploadDocumentUnknownCompany(t *testing.T) {
	e := newTestEnv(t, false)

	rec := uploadDocument(t, e, "GHOST", 2024, minimalPDF("text"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "GHOST")
}

func TestUploadDocumentTooLarge(t *testing.T) {
	e := newTestEnv(t, false)
	e.createCompany(t, "ACME")
	e.server.upload.MaxDocumentBytes = 512

	rec := uploadDocument(t, e, "ACME", 2024, bytes.Repeat([]byte("x"), 2048))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "too large")
}

func TestUploadDocumentSizeBoundary(t *testing.T) {
	e := newTestEnv(t, false)
	e.createCompany(t, "ACME")

	pdf := minimalPDF("Risk factors include cyber attacks")

	// A file of exactly the limit is accepted even though the multipart
	// framing pushes the request body over it.
	e.server.upload.MaxDocumentBytes = int64(len(pdf))
	rec := uploadDocument(t, e, "ACME", 2024, pdf)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// One byte over the limit is rejected.
	e.server.upload.MaxDocumentBytes = int64(len(pdf)) - 1
	rec = uploadDocument(t, e, "ACME", 2023, pdf)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "too large")
}

func TestUploadDocumentExtractionFailureCleansUp(t *testing.T) {
	e := newTestEnv(t, false)
	e.createCompany(t, "ACME")

	rec := uploadDocument(t, e, "ACME", 2024, []byte("not a pdf at all"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	entries, err := filepath.Glob(filepath.Join(e.uploads, "*"))
	require.NoError(t, err)
	assert.Empty(t, entries, "failed upload should be removed")
}

func TestListDocumentsDescendingByYear(t *testing.T) {
	e := newTestEnv(t, false)
	e.createCompany(t, "ACME")
	require.Equal(t, http.StatusOK, uploadDocument(t, e, "ACME", 2022, minimalPDF("old")).Code)
	require.Equal(t, http.StatusOK, uploadDocument(t, e, "ACME", 2024, minimalPDF("new")).Code)

	var docs []map[string]any
	rec := e.getJSON(t, "/api/documents/ACME", &docs)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, docs, 2)
	assert.Equal(t, float64(2024), docs[0]["fiscal_year"])
	assert.Equal(t, float64(2022), docs[1]["fiscal_year"])
}

func TestListDocumentsUnknownCompany(t *testing.T) {
	e := newTestEnv(t, false)
	rec := e.getJSON(t, "/api/documents/GHOST", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func triggerAnalysis(t *testing.T, e *testEnv, symbol string, year int) *httptest.ResponseRecorder {
	t.Helper()
	form := fmt.Sprintf("company_symbol=%s&fiscal_year=%d", symbol, year)
	req := httptest.NewRequest(http.MethodPost, "/api/analysis/risk-evolution", strings.NewReader(form))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return e.do(t, req)
}

func TestAnalysisLifecycle(t *testing.T) {
	e := newTestEnv(t, true)
	e.createCompany(t, "ACME")
	require.Equal(t, http.StatusOK, uploadDocument(t, e, "ACME", 2024,
		minimalPDF("Risk factors include cyber attacks and regulation")).Code)

	rec := triggerAnalysis(t, e, "ACME", 2024)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var trig map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &trig))
	jobID := trig["job_id"]
	require.NotEmpty(t, jobID)

	var status map[string]any
	require.Eventually(t, func() bool {
		rec := e.getJSON(t, "/api/analysis/status/"+jobID, &status)
		return rec.Code == http.StatusOK &&
			(status["status"] == "completed" || status["status"] == "failed")
	}, 5*time.Second, 10*time.Millisecond)

	require.Equal(t, "completed", status["status"], status["message"])
	assert.Equal(t, float64(100), status["progress"])

	var results []map[string]any
	rec = e.getJSON(t, "/api/results/risk-evolution/ACME", &results)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, results, 1)
	assert.Equal(t, float64(8), results[0]["urgency_score"])
	assert.Equal(t, "Risk tone worsened.", results[0]["summary"])
}

func TestAnalysisWithoutProvider(t *testing.T) {
	e := newTestEnv(t, false)
	e.createCompany(t, "ACME")

	rec := triggerAnalysis(t, e, "ACME", 2024)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "no LLM provider")
}

func TestAnalysisMissingFields(t *testing.T) {
	e := newTestEnv(t, true)

	req := httptest.NewRequest(http.MethodPost, "/api/analysis/risk-evolution",
		strings.NewReader("company_symbol=ACME"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := e.do(t, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJobStatusUnknown(t *testing.T) {
	e := newTestEnv(t, false)
	rec := e.getJSON(t, "/api/analysis/status/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResultsUnknownCompany(t *testing.T) {
	e := newTestEnv(t, false)
	rec := e.getJSON(t, "/api/results/risk-evolution/GHOST", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResultsEmptyIsArray(t *testing.T) {
	e := newTestEnv(t, false)
	e.createCompany(t, "ACME")
	rec := e.getJSON(t, "/api/results/risk-evolution/ACME", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func TestCreateCompanyInvalidJSON(t *testing.T) {
	e := newTestEnv(t, false)
	req := httptest.NewRequest(http.MethodPost, "/api/companies", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rec := e.do(t, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
