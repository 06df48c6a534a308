package app

import (
	"fmt"
	"strings"

	"tutorchat/pkg/domain"
)

// ComposeContext merges attachment extraction results into the textual block
// appended to a message before it is handed to the conversation consumer.
// Attachments are emitted in the given order (their link order). The function
// is pure: it performs no I/O and never fails.
func ComposeContext(attachments []domain.Attachment) string {
	if len(attachments) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, att := range attachments {
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		switch att.ExtractionState {
		case domain.ExtractionSucceeded:
			text := ""
			if att.ExtractedText != nil {
				text = *att.ExtractedText
			}
			fmt.Fprintf(&sb, "[File: %s]\n%s", att.FileName, text)
		case domain.ExtractionFailed:
			// The stored sentinel is safe to show; raw error detail never
			// reaches the prompt.
			fmt.Fprintf(&sb, "[File: %s]\nContent could not be extracted from this file.", att.FileName)
		default:
			fmt.Fprintf(&sb, "[File: %s]\nFile processing in progress; content not yet available.", att.FileName)
		}
	}
	return sb.String()
}
