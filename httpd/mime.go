package httpd

import (
	"path/filepath"
	"strings"
)

// mimeTypes is the exact suffix table from spec §6. Unknown suffixes
// fall back to text/plain.
var mimeTypes = map[string]string{
	".html":  "text/html",
	".xml":   "text/xml",
	".xhtml": "application/xhtml+xml",
	".txt":   "text/plain",
	".rtf":   "application/rtf",
	".pdf":   "application/pdf",
	".doc":   "application/msword",
	".png":   "image/png",
	".gif":   "image/gif",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".au":    "audio/basic",
	".mpeg":  "video/mpeg",
	".mpg":   "video/mpeg",
	".avi":   "video/x-msvideo",
	".gz":    "application/x-gzip",
	".tar":   "application/x-tar",
	".css":   "text/css",
	".js":    "text/javascript",
}

// contentTypeFor maps a path's extension to a MIME type, defaulting to
// text/plain for unrecognised suffixes.
func contentTypeFor(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ct, ok := mimeTypes[ext]; ok {
		return ct
	}
	return "text/plain"
}
