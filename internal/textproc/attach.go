package textproc

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/watchtower-cti/watchtower/internal/consts"
	"github.com/watchtower-cti/watchtower/internal/pkg/logs"
)

// Safe-type allow-lists for restricted mode and attachment text extraction.
// A file passes only when both its extension and MIME type are listed.
var (
	allowedExtensions = map[string]struct{}{
		".txt": {}, ".csv": {}, ".log": {}, ".sql": {}, ".xml": {},
		".dat": {}, ".db": {}, ".mdb": {}, ".json": {},
	}

	allowedMIMETypes = map[string]struct{}{
		"text/plain":              {},
		"text/csv":                {},
		"text/xml":                {},
		"application/sql":         {},
		"application/octet-stream": {},
		"application/x-sql":       {},
		"application/x-msaccess":  {},
		"application/json":        {},
	}
)

// IsSafeAttachment reports whether the (filename, MIME) pair is on both
// allow-lists. Missing filename or MIME means unsafe.
func IsSafeAttachment(filename, mime string) bool {
	if filename == "" || mime == "" {
		return false
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if _, ok := allowedExtensions[ext]; !ok {
		return false
	}
	_, ok := allowedMIMETypes[strings.ToLower(mime)]
	return ok
}

// ReadAttachmentText reads a classifier-safe attachment as UTF-8 for keyword
// search. Returns "" (and false) for unsafe types, oversized files, or read
// errors; failures are logged and never fatal.
func ReadAttachmentText(path, filename, mime string) (string, bool) {
	if !IsSafeAttachment(filename, mime) {
		return "", false
	}

	info, err := os.Stat(path)
	if err != nil {
		logs.Warn("[textproc] stat attachment %s: %v", path, err)
		return "", false
	}
	if info.Size() > consts.AttachmentReadCap {
		logs.Debug("[textproc] attachment %s too large for text scan (%d bytes)", filename, info.Size())
		return "", false
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		logs.Warn("[textproc] read attachment %s: %v", path, err)
		return "", false
	}

	// Invalid byte sequences are replaced rather than rejected; the result
	// only feeds case-insensitive substring search.
	return strings.ToValidUTF8(string(raw), "�"), true
}

// StripHTML removes tags and decodes entities from feed-sourced rich text.
func StripHTML(s string) string {
	return htmlStrip(s)
}
