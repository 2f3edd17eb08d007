package convert

import "strings"

var textualFormats = map[string]bool{
	"html": true, "txt": true, "text/plain": true,
	"md": true, "markdown": true, "text/markdown": true,
	"xlsx": true, "xls": true,
}

var markdownFormats = map[string]bool{"md": true, "markdown": true, "text/markdown": true}

// DocFormats are the paged sources that accept page_limit.
var DocFormats = map[string]bool{
	"doc": true, "docx": true, "ppt": true, "pptx": true, "html": true,
}

// AVFormats are the sources that accept duration_seconds.
var AVFormats = map[string]bool{
	"wav": true, "flac": true, "ogg": true, "aac": true,
	"avi": true, "mov": true, "mkv": true, "webm": true, "mpeg": true,
	"gif": true, "flv": true, "ts": true, "m4v": true, "3gp": true,
}

func NormalizeFormat(fmt string) string {
	return strings.ToLower(strings.TrimSpace(fmt))
}

var sourceFormatAliases = map[string]string{
	"application/pdf":       "pdf",
	"text/html":             "html",
	"application/xhtml+xml": "html",
	"htm":                   "html",
	"text/plain":            "text/plain",
	"plain":                 "text/plain",
	"text/markdown":         "text/markdown",
}

// NormalizeSourceFormat maps mime types and aliases to short forms.
func NormalizeSourceFormat(fmt string) string {
	raw := NormalizeFormat(fmt)
	if mapped, ok := sourceFormatAliases[raw]; ok {
		return mapped
	}
	return raw
}

func NormalizeTargetFormat(fmt string) string {
	if n := NormalizeFormat(fmt); n != "" {
		return n
	}
	return "pdf"
}

// PreferMarkdownTarget rewrites pdf targets to md for textual sources, so
// probing downstream sees markdown instead of a rendered page stream.
func PreferMarkdownTarget(sourceFormat, targetFormat string) string {
	source := NormalizeSourceFormat(sourceFormat)
	target := NormalizeTargetFormat(targetFormat)
	if textualFormats[source] && target == "pdf" {
		return "md"
	}
	return target
}

func IsMarkdownTarget(fmt string) bool {
	return markdownFormats[NormalizeTargetFormat(fmt)]
}
