package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func priceCSV(t *testing.T, n int) []byte {
	t.Helper()

	var b strings.Builder
	b.WriteString("Date,Open,High,Low,Close,Volume\n")
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		price := 100.0 + float64(i%9)
		fmt.Fprintf(&b, "%s,%.2f,%.2f,%.2f,%.2f,%d\n",
			day.AddDate(0, 0, i).Format("2006-01-02"),
			price, price+1, price-1, price+0.5, 1000+i*7)
	}
	return []byte(b.String())
}

func postFile(t *testing.T, e *testEnv, path, filename string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, filename, data, nil)
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", contentType)
	return e.do(t, req)
}

func TestUploadCSV(t *testing.T) {
	e := newTestEnv(t, false)

	rec := postFile(t, e, "/upload-csv", "prices.csv", priceCSV(t, 90))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(90), body["rows"])
	assert.Equal(t, "prices.csv", body["filename"])
	assert.Equal(t, "unknown", body["inferred_timeframe"])

	cols, ok := body["columns"].([]any)
	require.True(t, ok)
	assert.Contains(t, cols, "RSI")
	assert.Contains(t, cols, "ATR_14")
}

func TestUploadCSVTooShort(t *testing.T) {
	e := newTestEnv(t, false)

	rec := postFile(t, e, "/upload-csv", "prices.csv", priceCSV(t, 10))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "not enough data")
}

func TestUploadCSVGarbage(t *testing.T) {
	e := newTestEnv(t, false)

	rec := postFile(t, e, "/upload-csv", "noise.csv", []byte("nothing tabular here\nat all\n"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadCSVTooLarge(t *testing.T) {
	e := newTestEnv(t, false)
	e.server.upload.MaxMarketBytes = 256

	rec := postFile(t, e, "/upload-csv", "big.csv", priceCSV(t, 90))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestComputeIndicators(t *testing.T) {
	e := newTestEnv(t, false)

	rec := postFile(t, e, "/compute-indicators", "prices.csv", priceCSV(t, 90))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var rows []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 90)

	first := rows[0]
	assert.Equal(t, "2024-01-01 00:00:00", first["datetime"])
	for _, key := range []string{"open", "close", "RSI", "MACD", "MACD_signal", "EMA_10", "VWAP", "OBV", "ATR_14"} {
		assert.Contains(t, first, key)
	}
}

func TestBacktest(t *testing.T) {
	e := newTestEnv(t, false)

	rec := postFile(t, e, "/backtest", "prices.csv", priceCSV(t, 120))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "final_portfolio_value")
	assert.Contains(t, body, "n_trades")
	assert.Contains(t, body, "win_rate")

	_, ok := body["trades_sample"].([]any)
	assert.True(t, ok, "trades_sample should be an array")
}

func TestMarketEndpointsRequireFile(t *testing.T) {
	e := newTestEnv(t, false)
	for _, path := range []string{"/upload-csv", "/compute-indicators", "/backtest", "/upload-image"} {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader("plain"))
		req.Header.Set("Content-Type", "text/plain")
		rec := e.do(t, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestUploadImage(t *testing.T) {
	e := newTestEnv(t, false)

	png := append([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}, bytes.Repeat([]byte{0}, 64)...)
	rec := postFile(t, e, "/upload-image", "chart.png", png)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "chart.png", body["filename"])
	assert.Equal(t, float64(len(png)), body["size"])
	assert.Equal(t, true, body["processed"])
}

func TestUploadImageRejectsNonPNG(t *testing.T) {
	e := newTestEnv(t, false)

	rec := postFile(t, e, "/upload-image", "chart.gif", []byte("GIF89a..."))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
