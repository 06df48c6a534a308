package app

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/xuri/excelize/v2"
	"golang.org/x/net/html"
)

// Advisory sentinels: extraction did not produce document text, but the
// attachment still succeeds so message composition is never blocked. The
// strings are safe to interpolate into a prompt.
const (
	legacyDocSentinel      = "[Legacy .doc file: text extraction is not supported for this format. Please convert to .docx or PDF.]"
	ocrUnavailableSentinel = "[OCR attempted but unavailable for this image]"
)

// extractPlainText decodes bytes as UTF-8, replacing invalid sequences.
// There is no failure path. HTML-flavored text additionally gets its markup
// stripped so prompts are not polluted with tags.
func extractPlainText(data []byte, mimeType string) string {
	text := strings.ToValidUTF8(string(data), string(utf8Replacement))
	if strings.EqualFold(strings.TrimSpace(mimeType), "text/html") {
		if stripped := stripHTML(text); stripped != "" {
			return stripped
		}
	}
	return text
}

const utf8Replacement = '�'

func stripHTML(raw string) string {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return ""
	}
	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		switch node.Type {
		case html.TextNode:
			buf.WriteString(node.Data)
			buf.WriteString(" ")
		case html.ElementNode:
			if node.Data == "script" || node.Data == "style" {
				return
			}
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
		if node.Type == html.ElementNode && (node.Data == "p" || node.Data == "br" || node.Data == "div" || node.Data == "li") {
			buf.WriteString("\n")
		}
	}
	walk(doc)
	return strings.TrimSpace(buf.String())
}

// extractSpreadsheet dumps every sheet of a workbook as a tab-separated
// table prefixed with the sheet name. A corrupt workbook is an extractor
// error, not a crash.
func extractSpreadsheet(data []byte) (string, error) {
	workbook, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("open workbook: %w", err)
	}
	defer workbook.Close()

	var sb strings.Builder
	for _, sheet := range workbook.GetSheetList() {
		rows, err := workbook.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("read sheet %q: %w", sheet, err)
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString("Sheet: ")
		sb.WriteString(sheet)
		sb.WriteString("\n")
		for _, row := range rows {
			sb.WriteString(strings.Join(row, "\t"))
			sb.WriteString("\n")
		}
	}
	return sb.String(), nil
}

// extractDocx reads paragraph text out of word/document.xml in the OOXML
// package. A malformed package is an extractor error.
func extractDocx(data []byte) (string, error) {
	zipReader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open docx package: %w", err)
	}
	var docFile *zip.File
	for _, f := range zipReader.File {
		if f.Name == "word/document.xml" {
			docFile = f
			break
		}
	}
	if docFile == nil {
		return "", fmt.Errorf("word/document.xml not found in package")
	}
	rc, err := docFile.Open()
	if err != nil {
		return "", fmt.Errorf("open document.xml: %w", err)
	}
	defer rc.Close()

	decoder := xml.NewDecoder(rc)
	var paragraphs []string
	var current strings.Builder
	var inParagraph bool
	for {
		tok, err := decoder.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "p" {
				inParagraph = true
				current.Reset()
			}
		case xml.CharData:
			if inParagraph {
				current.Write(t)
			}
		case xml.EndElement:
			if t.Name.Local == "p" && inParagraph {
				inParagraph = false
				if text := strings.TrimSpace(current.String()); text != "" {
					paragraphs = append(paragraphs, text)
				}
			}
		}
	}
	return strings.Join(paragraphs, "\n"), nil
}

// extractImageOCR runs the configured OCR command over a raster image.
// OCR failure is expected for a meaningful share of real images (no text,
// exotic encodings) and is never an extraction failure: it degrades to a
// fixed advisory sentinel.
func extractImageOCR(ctx context.Context, data []byte, ocrCommand string) string {
	if strings.TrimSpace(ocrCommand) == "" {
		return ocrUnavailableSentinel
	}
	binary, err := exec.LookPath(ocrCommand)
	if err != nil {
		return ocrUnavailableSentinel
	}
	tmpFile, err := os.CreateTemp("", "tutorchat-ocr-*")
	if err != nil {
		return ocrUnavailableSentinel
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)
	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return ocrUnavailableSentinel
	}
	tmpFile.Close()

	// tesseract <image> stdout
	cmd := exec.CommandContext(ctx, binary, tmpPath, "stdout")
	output, err := cmd.Output()
	if err != nil {
		return ocrUnavailableSentinel
	}
	return strings.TrimSpace(strings.ToValidUTF8(string(output), string(utf8Replacement)))
}
