package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"tutorchat/internal/util"
	"tutorchat/pkg/domain"
)

// Failure sentinels stored as extracted text when extraction fails. They are
// human-readable and safe to interpolate into a prompt; raw error detail
// stays in the logs.
const (
	spreadsheetFailedSentinel = "[Could not extract text: the spreadsheet appears to be corrupted or in an unsupported format.]"
	docxFailedSentinel        = "[Could not extract text: the document appears to be corrupted or in an unsupported format.]"
	pdfFailedSentinel         = "[Could not extract text from this PDF: it may be corrupted or use formatting that prevents text extraction.]"
	pdfGateEmptySentinel      = "[Could not extract text from this PDF: it appears to be an encrypted or image-based document.]"
	pdfGateShortSentinel      = "[Could not extract meaningful text from this PDF: it may be encrypted, image-based, or use formatting that prevents text extraction.]"
	timeoutSentinel           = "[Text extraction timed out for this file.]"
)

// Dispatch resolves an attachment's bytes, extracts text for its format, and
// writes exactly one terminal state. It is the only writer of extraction
// state. Extraction-domain errors are absorbed into a failed state with a
// sentinel; infrastructure errors (record missing, store or blob store
// unavailable) are returned to the caller, which owns any retry policy.
func (a *App) Dispatch(ctx context.Context, attachmentID string) (domain.Attachment, error) {
	// Concurrent triggers for the same id collapse into one extraction; the
	// store-side write-once guard backstops anything that slips through.
	result, err, _ := a.dispatchGroup.Do(attachmentID, func() (any, error) {
		return a.dispatch(ctx, attachmentID)
	})
	if err != nil {
		return domain.Attachment{}, err
	}
	return result.(domain.Attachment), nil
}

func (a *App) dispatch(ctx context.Context, attachmentID string) (domain.Attachment, error) {
	logger := util.AttachmentLogger(a.logger, attachmentID)

	att, err := a.store.Get(attachmentID)
	if err != nil {
		return domain.Attachment{}, fmt.Errorf("resolve attachment: %w", err)
	}
	if att.ExtractionState.Terminal() {
		// Write-once: a repeated trigger is a no-op.
		return att, nil
	}

	rc, err := a.blobs.Get(ctx, att.StoragePath)
	if err != nil {
		return domain.Attachment{}, fmt.Errorf("fetch attachment bytes: %w", err)
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return domain.Attachment{}, fmt.Errorf("read attachment bytes: %w", err)
	}

	format := classifyFormat(att.DeclaredMIMEType, att.FileName)
	logger.Info("extracting attachment", "format", string(format), "bytes", len(data))

	start := time.Now()
	text, meta, extractErr := a.extract(ctx, format, data, att.DeclaredMIMEType, logger)
	meta.DurationMS = time.Since(start).Milliseconds()
	meta.Method = string(format)

	state := domain.ExtractionSucceeded
	if extractErr != nil {
		state = domain.ExtractionFailed
		text = failureSentinel(format, extractErr)
		logger.Warn("extraction failed", "format", string(format), "error", extractErr)
	}

	if _, err := a.store.SetTerminalState(attachmentID, state, text, meta); err != nil {
		return domain.Attachment{}, fmt.Errorf("record extraction result: %w", err)
	}
	a.events.PublishExtracted(ctx, attachmentID, state)
	logger.Info("extraction finished", "state", string(state), "chars", len(text), "duration_ms", meta.DurationMS)

	return a.store.Get(attachmentID)
}

// extract runs the format-specific extractor. A returned error means the
// attachment fails with a sentinel; advisory outcomes (unsupported format,
// legacy doc, OCR degradation) return text with a nil error.
func (a *App) extract(ctx context.Context, format fileFormat, data []byte, mimeType string, logger *slog.Logger) (string, domain.ExtractionMeta, error) {
	var meta domain.ExtractionMeta
	switch format {
	case formatPlainText:
		return extractPlainText(data, mimeType), meta, nil
	case formatSpreadsheet:
		text, err := extractSpreadsheet(data)
		return text, meta, err
	case formatDocx:
		text, err := extractDocx(data)
		return text, meta, err
	case formatDocLegacy:
		// Never attempted; the advisory sentinel is the extraction result.
		return legacyDocSentinel, meta, nil
	case formatImage:
		return extractImageOCR(ctx, data, a.ocrCommand), meta, nil
	case formatPDF:
		result, err := a.pdfWorker.Extract(ctx, data)
		if err != nil {
			return "", meta, err
		}
		meta.Pages = result.Meta.NumPages
		if gateErr := a.qualityGate(result.Text); gateErr != nil {
			return "", meta, gateErr
		}
		return result.Text, meta, nil
	default:
		// Absence of a handler is not a failure.
		return "", meta, nil
	}
}

// errQualityGate marks a worker result rejected by the content-quality gate:
// the worker exited cleanly but produced nothing useful, the signature of an
// encrypted or image-only PDF.
type errQualityGate struct {
	empty bool
}

func (e errQualityGate) Error() string {
	if e.empty {
		return "quality gate: no text extracted"
	}
	return "quality gate: extracted text below minimum length"
}

func (a *App) qualityGate(text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return errQualityGate{empty: true}
	}
	if len([]rune(trimmed)) < a.minTextChars {
		return errQualityGate{}
	}
	return nil
}

func failureSentinel(format fileFormat, err error) string {
	if errors.Is(err, errWorkerTimeout) {
		return timeoutSentinel
	}
	var gateErr errQualityGate
	if errors.As(err, &gateErr) {
		if gateErr.empty {
			return pdfGateEmptySentinel
		}
		return pdfGateShortSentinel
	}
	switch format {
	case formatSpreadsheet:
		return spreadsheetFailedSentinel
	case formatDocx:
		return docxFailedSentinel
	case formatPDF:
		return pdfFailedSentinel
	default:
		return "[Could not extract text from this file.]"
	}
}
