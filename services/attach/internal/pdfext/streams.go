package pdfext

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// readerInit opens a PDF into a pdfcpu context, or reports why it cannot.
type readerInit struct {
	name string
	open func(path string) (*model.Context, error)
}

// The runtime behavior of PDF parsing varies wildly with document damage, so
// Strategy B resolves its reader from an ordered candidate list: the first
// initializer that yields a context wins.
var readerCandidates = []readerInit{
	{
		name: "relaxed",
		open: func(path string) (*model.Context, error) {
			return openContext(path, model.ValidationRelaxed)
		},
	},
	{
		name: "no-validation",
		open: func(path string) (*model.Context, error) {
			return openContext(path, model.ValidationNone)
		},
	},
}

func openContext(path string, validationMode int) (ctx *model.Context, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdfcpu panic: %v", r)
		}
	}()
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = validationMode
	ctx, _, _, _, err = api.ReadValidateAndOptimize(f, conf, time.Now())
	return ctx, err
}

// extractWithContentStreams is Strategy B: a lower-level pass over each
// page's content stream, decoding the text-showing operators directly.
func extractWithContentStreams(path string) (Result, error) {
	var ctx *model.Context
	var initErrs []string
	for _, candidate := range readerCandidates {
		opened, err := candidate.open(path)
		if err == nil {
			ctx = opened
			break
		}
		initErrs = append(initErrs, fmt.Sprintf("%s: %v", candidate.name, err))
	}
	if ctx == nil {
		return Result{}, fmt.Errorf("no reader available: %s", strings.Join(initErrs, "; "))
	}

	var sb strings.Builder
	for pageNr := 1; pageNr <= ctx.PageCount; pageNr++ {
		pageText := extractPageText(ctx, pageNr)
		if pageText == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(pageText)
	}
	if sb.Len() == 0 {
		return Result{}, fmt.Errorf("no text content found")
	}
	return Result{
		Text: sb.String(),
		Meta: Meta{NumPages: ctx.PageCount, Strategy: "content_streams"},
	}, nil
}

func extractPageText(ctx *model.Context, pageNr int) string {
	r, err := pdfcpu.ExtractPageContent(ctx, pageNr)
	if err != nil {
		return ""
	}
	data, err := io.ReadAll(r)
	if err != nil || len(data) == 0 {
		return ""
	}
	return extractTextFromStream(data)
}

// pdfStringRe matches PDF string literals in parentheses: (text here)
var pdfStringRe = regexp.MustCompile(`\(([^)]*)\)`)

// extractTextFromStream parses PDF content stream operators for text.
func extractTextFromStream(data []byte) string {
	var sb strings.Builder
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		// Tj and TJ text-showing operators.
		if bytes.HasSuffix(line, []byte("Tj")) || bytes.HasSuffix(line, []byte("TJ")) {
			for _, m := range pdfStringRe.FindAllSubmatch(line, -1) {
				sb.WriteString(decodePDFString(m[1]))
			}
		}
		// ' operator: move to next line and show text.
		if bytes.HasSuffix(line, []byte("'")) && bytes.Contains(line, []byte("(")) {
			for _, m := range pdfStringRe.FindAllSubmatch(line, -1) {
				sb.WriteByte('\n')
				sb.WriteString(decodePDFString(m[1]))
			}
		}
		// Positioning operators become whitespace.
		if bytes.HasSuffix(line, []byte("Td")) || bytes.HasSuffix(line, []byte("TD")) {
			if sb.Len() > 0 {
				sb.WriteByte(' ')
			}
		}
		if bytes.Equal(line, []byte("T*")) {
			sb.WriteByte('\n')
		}
	}
	return cleanStreamText(sb.String())
}

// decodePDFString handles basic PDF escape sequences.
func decodePDFString(raw []byte) string {
	var sb strings.Builder
	for i := 0; i < len(raw); i++ {
		if raw[i] != '\\' || i+1 >= len(raw) {
			sb.WriteByte(raw[i])
			continue
		}
		i++
		switch raw[i] {
		case 'n':
			sb.WriteByte('\n')
		case 'r':
			sb.WriteByte('\r')
		case 't':
			sb.WriteByte('\t')
		case '\\', '(', ')':
			sb.WriteByte(raw[i])
		default:
			if raw[i] >= '0' && raw[i] <= '7' {
				val := int(raw[i] - '0')
				for n := 0; n < 2 && i+1 < len(raw) && raw[i+1] >= '0' && raw[i+1] <= '7'; n++ {
					i++
					val = val*8 + int(raw[i]-'0')
				}
				sb.WriteByte(byte(val))
			} else {
				sb.WriteByte(raw[i])
			}
		}
	}
	return sb.String()
}

// cleanStreamText collapses whitespace and drops non-printable runes.
func cleanStreamText(text string) string {
	var sb strings.Builder
	prevSpace := false
	for _, r := range text {
		switch {
		case r == '\n':
			sb.WriteByte('\n')
			prevSpace = true
		case unicode.IsSpace(r):
			if !prevSpace && sb.Len() > 0 {
				sb.WriteByte(' ')
				prevSpace = true
			}
		case unicode.IsPrint(r):
			sb.WriteRune(r)
			prevSpace = false
		}
	}
	return strings.TrimSpace(sb.String())
}
