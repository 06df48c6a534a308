package pdfext

import (
	"strings"
	"testing"
)

func TestExtractTextFromStream(t *testing.T) {
	stream := []byte("BT\n/F1 12 Tf\n72 720 Td\n(Hello) Tj\n(World) Tj\nT*\n[(Second) -120 (line)] TJ\nET\n")
	got := extractTextFromStream(stream)
	if !strings.Contains(got, "HelloWorld") {
		t.Fatalf("extractTextFromStream() = %q, want HelloWorld run", got)
	}
	if !strings.Contains(got, "Secondline") {
		t.Fatalf("extractTextFromStream() = %q, want Secondline from TJ array", got)
	}
}

func TestExtractTextFromStreamEmpty(t *testing.T) {
	if got := extractTextFromStream([]byte("q\n1 0 0 1 0 0 cm\nQ\n")); got != "" {
		t.Fatalf("extractTextFromStream() = %q, want empty for no text operators", got)
	}
}

func TestDecodePDFString(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{`plain`, "plain"},
		{`with \(parens\)`, "with (parens)"},
		{`line\nbreak`, "line\nbreak"},
		{`tab\there`, "tab\there"},
		{`octal\040space`, "octal space"},
		{`back\\slash`, `back\slash`},
	}
	for _, tt := range tests {
		if got := decodePDFString([]byte(tt.raw)); got != tt.want {
			t.Fatalf("decodePDFString(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestCleanStreamTextCollapsesWhitespace(t *testing.T) {
	got := cleanStreamText("  a   b \x01 c\n\nd  ")
	if got != "a b c\n\nd" {
		t.Fatalf("cleanStreamText() = %q, want %q", got, "a b c\n\nd")
	}
}

func TestRunFailsOnMissingFile(t *testing.T) {
	if _, err := Run("/nonexistent/file.pdf"); err == nil {
		t.Fatalf("expected Run to fail for missing file")
	} else if !strings.Contains(err.Error(), "all strategies failed") {
		t.Fatalf("error = %v, want combined strategy failure", err)
	}
}
