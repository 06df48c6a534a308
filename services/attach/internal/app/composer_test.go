package app

import (
	"strings"
	"testing"

	"tutorchat/pkg/domain"
)

func strPtr(s string) *string { return &s }

func TestComposeContextEmitsBlocksInOrder(t *testing.T) {
	attachments := []domain.Attachment{
		{
			FileName:        "notes.txt",
			ExtractionState: domain.ExtractionSucceeded,
			ExtractedText:   strPtr("line one\nline two"),
		},
		{
			FileName:        "slow.pdf",
			ExtractionState: domain.ExtractionPending,
		},
	}
	got := ComposeContext(attachments)

	first := strings.Index(got, "[File: notes.txt]")
	second := strings.Index(got, "[File: slow.pdf]")
	if first < 0 || second < 0 || first > second {
		t.Fatalf("blocks missing or out of order:\n%s", got)
	}
	if !strings.Contains(got, "line one\nline two") {
		t.Fatalf("succeeded block missing text:\n%s", got)
	}
	if !strings.Contains(got, "processing in progress") {
		t.Fatalf("pending block missing annotation:\n%s", got)
	}
}

func TestComposeContextFailedHidesErrorDetail(t *testing.T) {
	attachments := []domain.Attachment{
		{
			FileName:        "broken.xlsx",
			ExtractionState: domain.ExtractionFailed,
			ExtractedText:   strPtr(spreadsheetFailedSentinel),
		},
	}
	got := ComposeContext(attachments)
	if !strings.Contains(got, "[File: broken.xlsx]") {
		t.Fatalf("missing file label:\n%s", got)
	}
	if !strings.Contains(got, "could not be extracted") {
		t.Fatalf("missing advisory:\n%s", got)
	}
}

func TestComposeContextEmptyInput(t *testing.T) {
	if got := ComposeContext(nil); got != "" {
		t.Fatalf("ComposeContext(nil) = %q, want empty", got)
	}
}
