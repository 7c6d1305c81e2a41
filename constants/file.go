package constants

import "strings"

// Artifact filenames. Deterministic per artifact kind so reprocessing
// overwrites blobs in place instead of accumulating versions.
const (
	FileRawContent      = "raw.html"
	FileReadableContent = "readable.html"
	FileMarkdown        = "content.md"
	FileText            = "content.txt"
	FilePDF             = "page.pdf"
	FileScreenshot      = "screenshot.png"
	FaviconPrefix       = "favicon"
)

// faviconExtByContentType maps an icon response content type to a file
// extension. Unknown types default to ico.
var faviconExtByContentType = map[string]string{
	"image/svg+xml":            "svg",
	"image/png":                "png",
	"image/ico":                "ico",
	"image/x-icon":             "ico",
	"image/vnd.microsoft.icon": "ico",
	"image/jpeg":               "jpg",
	"image/jpg":                "jpg",
	"image/gif":                "gif",
}

// FaviconExtForContentType returns the extension for an icon content type,
// ignoring any media-type parameters.
func FaviconExtForContentType(ct string) string {
	ct = strings.ToLower(strings.TrimSpace(ct))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if ext, ok := faviconExtByContentType[ct]; ok {
		return ext
	}
	return "ico"
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// IsHTML reports whether a MIME type goes through readability extraction.
func IsHTML(mimeType string) bool {
	mt := strings.ToLower(mimeType)
	return strings.HasPrefix(mt, "text/html") || strings.HasPrefix(mt, "application/xhtml")
}
