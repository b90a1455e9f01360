package api

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/filing-analyzer/internal/market"
)

var pngMagic = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// readMarketUpload pulls the "file" part of a multipart request, enforcing
// the market size limit up front.
func (s *Server) readMarketUpload(w http.ResponseWriter, r *http.Request) ([]byte, string, bool) {
	if r.ContentLength > s.upload.MaxMarketBytes {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("file too large: %d bytes", r.ContentLength))
		return nil, "", false
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.upload.MaxMarketBytes)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart request")
		return nil, "", false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return nil, "", false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read file")
		return nil, "", false
	}
	return data, header.Filename, true
}

// parseBars dispatches on file extension: workbooks go through the XLSX
// reader, everything else is treated as delimited text.
func parseBars(data []byte, filename string) ([]market.Bar, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx", ".xls":
		return market.ParseXLSX(data)
	default:
		return market.ParseCSV(data)
	}
}

func writeMarketError(w http.ResponseWriter, err error) {
	switch {
	case eris.Is(err, market.ErrUnprocessable):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case eris.Is(err, market.ErrBadFormat):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		zap.L().Error("api: market ingest", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (s *Server) handleUploadCSV(w http.ResponseWriter, r *http.Request) {
	data, filename, ok := s.readMarketUpload(w, r)
	if !ok {
		return
	}

	bars, err := parseBars(data, filename)
	if err != nil {
		writeMarketError(w, err)
		return
	}

	f := market.ComputeIndicators(bars)
	writeJSON(w, http.StatusOK, map[string]any{
		"rows":               len(f.Bars),
		"columns":            f.Columns(),
		"inferred_timeframe": "unknown",
		"filename":           filename,
	})
}

func (s *Server) handleComputeIndicators(w http.ResponseWriter, r *http.Request) {
	data, filename, ok := s.readMarketUpload(w, r)
	if !ok {
		return
	}

	bars, err := parseBars(data, filename)
	if err != nil {
		writeMarketError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, market.ComputeIndicators(bars).Records())
}

func (s *Server) handleBacktest(w http.ResponseWriter, r *http.Request) {
	data, filename, ok := s.readMarketUpload(w, r)
	if !ok {
		return
	}

	bars, err := parseBars(data, filename)
	if err != nil {
		writeMarketError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, market.Backtest(market.ComputeIndicators(bars)))
}

func (s *Server) handleUploadImage(w http.ResponseWriter, r *http.Request) {
	data, filename, ok := s.readMarketUpload(w, r)
	if !ok {
		return
	}

	if !bytes.HasPrefix(data, pngMagic) {
		writeError(w, http.StatusUnprocessableEntity, "only PNG images are accepted")
		return
	}

	if _, err := s.docs.SaveUpload(uuid.New().String(), ".png", bytes.NewReader(data)); err != nil {
		zap.L().Error("api: save image", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"filename":  filename,
		"size":      len(data),
		"processed": true,
	})
}
