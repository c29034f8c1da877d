// upload_validator.go - Extension allow-lists and filename sanitizing for staged uploads

package processor

import (
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// MaxRequestBytes caps the whole request body (50 MiB)
const MaxRequestBytes int64 = 50 * 1024 * 1024

var (
	// DocumentExtensions are accepted by /upload
	DocumentExtensions = []string{"pdf", "txt", "doc", "docx"}

	// ImageExtensions are accepted by /analyze
	ImageExtensions = []string{"jpg", "jpeg", "png"}
)

var documentMIMETypes = map[string]string{
	"pdf":  "application/pdf",
	"txt":  "text/plain",
	"doc":  "application/msword",
	"docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
}

// Extension returns the lower-cased suffix after the last '.', or "" when the
// name has no dot.
func Extension(filename string) string {
	idx := strings.LastIndex(filename, ".")
	if idx < 0 {
		return ""
	}
	return strings.ToLower(filename[idx+1:])
}

// IsAllowed reports whether filename carries an extension from allowList
func IsAllowed(filename string, allowList []string) bool {
	if !strings.Contains(filename, ".") {
		return false
	}
	ext := Extension(filename)
	for _, allowed := range allowList {
		if ext == allowed {
			return true
		}
	}
	return false
}

// MIMETypeFor maps a filename to the MIME type sent to Gemini
func MIMETypeFor(filename string) string {
	if mimeType, ok := documentMIMETypes[Extension(filename)]; ok {
		return mimeType
	}
	return "application/octet-stream"
}

// SanitizeFilename drops any directory part of name and reduces the rest to
// ASCII letters, digits, '_', '.' and '-'. Whitespace runs become a single
// '_' and leading or trailing '.' and '_' are trimmed, so the result can be
// empty.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	if name == "." || name == "/" {
		return ""
	}

	// Decompose accents so "é" keeps its base letter
	name = norm.NFKD.String(name)

	var b strings.Builder
	pendingSep := false
	for _, r := range name {
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			pendingSep = b.Len() > 0
		case r > 127:
			continue
		case isSafeFilenameRune(r):
			if pendingSep {
				b.WriteByte('_')
				pendingSep = false
			}
			b.WriteRune(r)
		}
	}

	return strings.Trim(b.String(), "._")
}

// StagedFilename is the name an upload is staged under: the sanitized name,
// or a random UUID with the original extension when sanitizing leaves no
// stem (names written entirely in non-Latin scripts).
func StagedFilename(original string) string {
	name := SanitizeFilename(original)
	if strings.LastIndex(name, ".") > 0 {
		return name
	}
	ext := SanitizeFilename(Extension(original))
	if ext == "" {
		return uuid.New().String()
	}
	return uuid.New().String() + "." + ext
}

func isSafeFilenameRune(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') ||
		r == '_' || r == '.' || r == '-'
}
