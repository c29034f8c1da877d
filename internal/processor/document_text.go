// document_text.go - Plain-text conversion of Word uploads before they go to Gemini

package processor

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"
)

// ErrNoReadableText is returned when a Word file yields no text
var ErrNoReadableText = errors.New("no readable text in document")

// groundingMIMETypes are the document types Gemini accepts as file parts
var groundingMIMETypes = map[string]bool{
	"application/pdf": true,
	"text/plain":      true,
}

// SupportsGrounding reports whether a file of mimeType can be attached to a
// generation request
func SupportsGrounding(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	return groundingMIMETypes[mimeType]
}

// StagedDocument is the file actually pushed to the provider for a staged upload
type StagedDocument struct {
	Path      string
	MIMEType  string
	Converted bool
}

// PrepareDocument returns the file to upload for the staged file at path.
// pdf and txt go as they are; doc and docx are converted to a sibling
// "<name>.txt" holding their text.
func PrepareDocument(path string) (*StagedDocument, error) {
	ext := Extension(path)
	if ext != "doc" && ext != "docx" {
		return &StagedDocument{Path: path, MIMEType: MIMETypeFor(path)}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read staged file: %w", err)
	}

	var text string
	if ext == "docx" {
		text, err = ExtractDocxText(data)
		if err != nil {
			return nil, err
		}
	} else {
		text = ExtractLegacyDocText(data)
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrNoReadableText
	}

	textPath := path + ".txt"
	if err := os.WriteFile(textPath, []byte(text), 0644); err != nil {
		return nil, fmt.Errorf("failed to write extracted text: %w", err)
	}
	return &StagedDocument{Path: textPath, MIMEType: "text/plain", Converted: true}, nil
}

type docxDocument struct {
	Body struct {
		Paragraphs []docxParagraph `xml:"p"`
	} `xml:"body"`
}

type docxParagraph struct {
	Runs []struct {
		Text []struct {
			Content string `xml:",chardata"`
		} `xml:"t"`
	} `xml:"r"`
}

// ExtractDocxText returns the paragraph text of word/document.xml, one
// paragraph per line
func ExtractDocxText(data []byte) (string, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("invalid docx archive: %w", err)
	}

	for _, file := range reader.File {
		if file.Name != "word/document.xml" {
			continue
		}

		rc, err := file.Open()
		if err != nil {
			return "", fmt.Errorf("failed to open document.xml: %w", err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", fmt.Errorf("failed to read document.xml: %w", err)
		}

		var doc docxDocument
		if err := xml.Unmarshal(content, &doc); err != nil {
			return "", fmt.Errorf("failed to parse document.xml: %w", err)
		}

		lines := make([]string, 0, len(doc.Body.Paragraphs))
		for _, para := range doc.Body.Paragraphs {
			var b strings.Builder
			for _, run := range para.Runs {
				for _, t := range run.Text {
					b.WriteString(t.Content)
				}
			}
			lines = append(lines, b.String())
		}
		return strings.TrimSpace(strings.Join(lines, "\n")), nil
	}

	return "", ErrNoReadableText
}

// minTextRun is the shortest character run kept from a binary .doc
const minTextRun = 8

// ExtractLegacyDocText pulls readable runs out of a Word 97-2003 file.
// Word stores text either as UTF-16LE or as 8-bit characters, so both
// decodings are scanned and the one yielding more text wins.
func ExtractLegacyDocText(data []byte) string {
	wide := wideRuns(data)
	narrow := narrowRuns(data)
	if len(wide) >= len(narrow) {
		return wide
	}
	return narrow
}

func wideRuns(data []byte) string {
	var out, run strings.Builder
	runLen := 0
	flush := func() {
		if runLen >= minTextRun {
			out.WriteString(strings.TrimSpace(run.String()))
			out.WriteByte('\n')
		}
		run.Reset()
		runLen = 0
	}

	for i := 0; i+1 < len(data); i += 2 {
		r := rune(data[i]) | rune(data[i+1])<<8
		if isDocTextRune(r) {
			run.WriteRune(r)
			runLen++
			continue
		}
		flush()
	}
	flush()
	return strings.TrimSpace(out.String())
}

func narrowRuns(data []byte) string {
	var out, run strings.Builder
	flush := func() {
		if run.Len() >= minTextRun {
			out.WriteString(strings.TrimSpace(run.String()))
			out.WriteByte('\n')
		}
		run.Reset()
	}

	for _, c := range data {
		if (c >= 0x20 && c < 0x7f) || c == '\t' || c == '\r' || c == '\n' {
			run.WriteByte(c)
			continue
		}
		flush()
	}
	flush()
	return strings.TrimSpace(out.String())
}

// isDocTextRune limits wide decoding to Latin and Indic scripts; most other
// 16-bit values in binary data would decode as printable CJK.
func isDocTextRune(r rune) bool {
	switch {
	case r == '\t' || r == '\r' || r == '\n':
		return true
	case r >= 0x20 && r < 0x250:
		return unicode.IsPrint(r)
	case r >= 0x900 && r < 0xe00:
		return unicode.IsPrint(r) || unicode.Is(unicode.Mn, r) || unicode.Is(unicode.Mc, r)
	default:
		return false
	}
}
