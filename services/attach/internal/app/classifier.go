package app

import (
	"path/filepath"
	"strings"
)

// fileFormat is the extraction strategy chosen for an attachment.
type fileFormat string

const (
	formatPlainText   fileFormat = "plain_text"
	formatPDF         fileFormat = "pdf"
	formatDocx        fileFormat = "docx"
	formatDocLegacy   fileFormat = "doc_legacy"
	formatSpreadsheet fileFormat = "spreadsheet"
	formatImage       fileFormat = "image"
	formatUnsupported fileFormat = "unsupported"
)

const (
	mimeDocx = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	mimeDoc  = "application/msword"
)

var plainTextExtensions = map[string]bool{
	".txt":  true,
	".md":   true,
	".json": true,
	".csv":  true,
}

// classifyFormat maps a declared MIME type (possibly empty or unreliable) and
// a filename to an extraction strategy. Rules are checked in priority order;
// anything unrecognized is unsupported, which is not an error.
func classifyFormat(mimeType, filename string) fileFormat {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	ext := strings.ToLower(filepath.Ext(filename))

	switch {
	case strings.HasPrefix(mimeType, "text/") || plainTextExtensions[ext]:
		return formatPlainText
	case mimeType == "application/pdf" || ext == ".pdf":
		return formatPDF
	case mimeType == mimeDocx || ext == ".docx":
		return formatDocx
	case mimeType == mimeDoc || ext == ".doc":
		return formatDocLegacy
	case strings.Contains(mimeType, "spreadsheet") || ext == ".xlsx" || ext == ".xls":
		return formatSpreadsheet
	case strings.HasPrefix(mimeType, "image/"):
		return formatImage
	default:
		return formatUnsupported
	}
}
