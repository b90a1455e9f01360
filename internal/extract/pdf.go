// Package extract pulls plain text out of uploaded filings and locates
// named report sections within it.
package extract

import (
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/rotisserie/eris"
)

// ErrExtraction marks a document that could not be opened or parsed. The
// caller is expected to delete the uploaded file when it sees this.
var ErrExtraction = eris.New("extract: unreadable document")

// Result holds the extracted text and its metadata.
type Result struct {
	Text      string
	PageCount int
	WordCount int
}

var blankRuns = regexp.MustCompile(`\n{3,}`)

// PDF extracts the plain text of every page, joined by newlines, with runs
// of three or more blank lines collapsed to a single blank line. Word count
// is the number of whitespace-separated tokens.
func PDF(path string) (res *Result, err error) {
	// The pdf library panics on some malformed files.
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = eris.Wrapf(ErrExtraction, "%s: panic: %v", path, r)
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, eris.Wrapf(ErrExtraction, "%s: %v", path, err)
	}
	defer f.Close()

	pageCount := reader.NumPage()
	pages := make([]string, 0, pageCount)
	for i := 1; i <= pageCount; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, eris.Wrapf(ErrExtraction, "%s: page %d: %v", path, i, err)
		}
		pages = append(pages, text)
	}

	text := joinPages(pages)
	return &Result{
		Text:      text,
		PageCount: pageCount,
		WordCount: len(strings.Fields(text)),
	}, nil
}

func joinPages(pages []string) string {
	return blankRuns.ReplaceAllString(strings.Join(pages, "\n"), "\n\n")
}
