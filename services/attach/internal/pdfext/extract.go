// Package pdfext holds the PDF extraction logic run inside the isolated
// worker process. PDF parsers are prone to unrecoverable failures on
// malformed input, so this code never runs in the serving process.
package pdfext

import (
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Result is the worker's successful output.
type Result struct {
	Text string `json:"text"`
	Meta Meta   `json:"meta"`
}

// Meta carries extraction diagnostics.
type Meta struct {
	NumPages int    `json:"numPages"`
	Strategy string `json:"strategy"`
}

// Run extracts text from the PDF at path using a two-tier fallback chain:
// the high-level text API first, then the lower-level content-stream parser.
// Both failing yields a single combined error.
func Run(path string) (Result, error) {
	result, errA := extractWithTextAPI(path)
	if errA == nil {
		return result, nil
	}
	result, errB := extractWithContentStreams(path)
	if errB == nil {
		return result, nil
	}
	return Result{}, fmt.Errorf("all strategies failed: text api: %v; content streams: %v", errA, errB)
}

// extractWithTextAPI is Strategy A: per-page plain text via the high-level
// reader. Library panics on malformed files are converted to errors so the
// fallback chain keeps going.
func extractWithTextAPI(path string) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf reader panic: %v", r)
		}
	}()

	file, reader, err := pdf.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("open pdf: %w", err)
	}
	defer file.Close()

	totalPages := reader.NumPage()
	var sb strings.Builder
	for i := 1; i <= totalPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Skip problematic pages instead of failing entirely.
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			if sb.Len() > 0 {
				sb.WriteByte('\n')
			}
			sb.WriteString(text)
		}
	}
	if sb.Len() == 0 {
		return Result{}, fmt.Errorf("no text extracted")
	}
	return Result{
		Text: sb.String(),
		Meta: Meta{NumPages: totalPages, Strategy: "text_api"},
	}, nil
}
