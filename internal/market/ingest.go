// Package market ingests OHLCV price series from CSV or XLSX uploads and
// computes the indicator and backtest outputs served by the companion API.
package market

import (
	"encoding/csv"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Sentinel errors map onto the API's response codes: ErrBadFormat is a file
// that cannot be read at all, ErrUnprocessable is a readable file whose
// contents fail validation.
var (
	ErrBadFormat     = eris.New("market: unreadable file")
	ErrUnprocessable = eris.New("market: invalid data")
)

// MinBars is the shortest series the indicator pipeline accepts; the longest
// lookback (EMA 100) is meaningless on fewer rows.
const MinBars = 60

// Bar is one normalized OHLCV row.
type Bar struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Column name variants accepted for each required field, checked in order.
var columnAliases = map[string][]string{
	"open":   {"open", "o", "open price"},
	"high":   {"high", "h", "high price"},
	"low":    {"low", "l", "low price"},
	"close":  {"close", "c", "last", "close price"},
	"volume": {"volume", "vol", "total traded qty", "totaltradedqty", "trdqty", "qty"},
}

var dateLayouts = []string{
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02-01-2006",
	"02/01/2006",
	"01/02/2006",
	"2006/01/02",
	"02-Jan-2006",
	"2-Jan-2006",
	"Jan 2, 2006",
	"20060102",
}

// ParseCSV decodes, sniffs the delimiter, and normalizes a CSV upload into a
// validated bar series.
func ParseCSV(data []byte) ([]Bar, error) {
	text, err := decodeText(data)
	if err != nil {
		return nil, err
	}

	table, err := sniffCSV(text)
	if err != nil {
		return nil, err
	}
	return normalize(table)
}

// ParseXLSX reads the first sheet of a workbook and normalizes it the same
// way as a CSV.
func ParseXLSX(data []byte) ([]Bar, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, eris.Wrapf(ErrBadFormat, "open xlsx: %v", err)
	}
	if len(f.Sheets) == 0 {
		return nil, eris.Wrap(ErrUnprocessable, "xlsx has no sheets")
	}

	var table [][]string
	for _, row := range f.Sheets[0].Rows {
		cells := make([]string, len(row.Cells))
		for i, cell := range row.Cells {
			cells[i] = cell.String()
		}
		table = append(table, cells)
	}
	return normalize(table)
}

// decodeText converts upload bytes to a UTF-8 string. A BOM wins if present;
// otherwise invalid UTF-8 is retried as Windows-1252, which covers the
// exports broker tools typically produce.
func decodeText(data []byte) (string, error) {
	out, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), data)
	if err == nil && utf8.Valid(out) {
		return string(out), nil
	}

	out, err = charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		return "", eris.Wrapf(ErrBadFormat, "decode: %v", err)
	}
	return string(out), nil
}

// sniffCSV tries each candidate delimiter and keeps the first parse that
// yields at least four columns, which rules out delimiters that collapse the
// header into one field.
func sniffCSV(text string) ([][]string, error) {
	for _, sep := range []rune{',', ';', '\t', '|'} {
		r := csv.NewReader(strings.NewReader(text))
		r.Comma = sep
		r.FieldsPerRecord = -1
		r.TrimLeadingSpace = true

		rows, err := r.ReadAll()
		if err != nil || len(rows) == 0 {
			continue
		}
		if len(rows[0]) >= 4 {
			return rows, nil
		}
	}
	return nil, eris.Wrap(ErrBadFormat, "no delimiter produced at least 4 columns")
}

// normalize maps header aliases onto the required OHLCV fields, parses the
// date column, then drops incomplete rows, sorts by time, and deduplicates
// timestamps keeping the last occurrence.
func normalize(table [][]string) ([]Bar, error) {
	if len(table) < 2 {
		return nil, eris.Wrap(ErrUnprocessable, "no data rows")
	}

	header := table[0]
	byName := make(map[string]int, len(header))
	for i, h := range header {
		byName[strings.ToLower(strings.TrimSpace(h))] = i
	}

	fields := make(map[string]int)
	for key, variants := range columnAliases {
		for _, v := range variants {
			if idx, ok := byName[v]; ok {
				fields[key] = idx
				break
			}
		}
	}
	if _, ok := fields["volume"]; !ok {
		for i, h := range header {
			lower := strings.ToLower(h)
			if strings.Contains(lower, "traded") && strings.Contains(lower, "qty") {
				fields["volume"] = i
				break
			}
		}
	}

	var missing []string
	for _, key := range []string{"open", "high", "low", "close", "volume"} {
		if _, ok := fields[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, eris.Wrapf(ErrUnprocessable, "missing required columns: %s (found: %s)",
			strings.Join(missing, ", "), strings.Join(header, ", "))
	}

	dateIdx := -1
	for i, h := range header {
		lower := strings.ToLower(h)
		if strings.Contains(lower, "date") || strings.Contains(lower, "time") || strings.Contains(lower, "timestamp") {
			dateIdx = i
			break
		}
	}
	if dateIdx < 0 {
		return nil, eris.Wrap(ErrUnprocessable, "no date/time column found")
	}

	cell := func(row []string, idx int) string {
		if idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	var bars []Bar
	for _, row := range table[1:] {
		if len(row) == 0 || (len(row) == 1 && row[0] == "") {
			continue
		}

		when, err := parseDate(cell(row, dateIdx))
		if err != nil {
			return nil, eris.Wrapf(ErrUnprocessable, "unparseable date %q", cell(row, dateIdx))
		}

		b := Bar{Time: when}
		ok := true
		for key, dst := range map[string]*float64{
			"open": &b.Open, "high": &b.High, "low": &b.Low, "close": &b.Close,
		} {
			v, err := parseNumber(cell(row, fields[key]))
			if err != nil {
				ok = false
				break
			}
			*dst = v
		}
		if !ok {
			// Rows with unparseable prices are dropped rather than rejected.
			continue
		}
		if v, err := parseNumber(cell(row, fields["volume"])); err == nil {
			b.Volume = v
		}

		bars = append(bars, b)
	}

	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })

	deduped := bars[:0]
	for i, b := range bars {
		if i+1 < len(bars) && bars[i+1].Time.Equal(b.Time) {
			continue
		}
		deduped = append(deduped, b)
	}
	bars = deduped

	if len(bars) < MinBars {
		return nil, eris.Wrapf(ErrUnprocessable, "not enough data: %d rows, need >= %d", len(bars), MinBars)
	}
	return bars, nil
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, eris.New("empty date")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, eris.Errorf("no layout matched %q", s)
}

func parseNumber(s string) (float64, error) {
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0, eris.New("empty number")
	}
	return strconv.ParseFloat(s, 64)
}
