package httpd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContentTypeForKnownSuffixes(t *testing.T) {
	cases := map[string]string{
		"index.html": "text/html",
		"a.xml":      "text/xml",
		"a.xhtml":    "application/xhtml+xml",
		"a.txt":      "text/plain",
		"a.rtf":      "application/rtf",
		"a.pdf":      "application/pdf",
		"a.doc":      "application/msword",
		"a.png":      "image/png",
		"a.gif":      "image/gif",
		"a.jpg":      "image/jpeg",
		"a.jpeg":     "image/jpeg",
		"a.au":       "audio/basic",
		"a.mpeg":     "video/mpeg",
		"a.mpg":      "video/mpeg",
		"a.avi":      "video/x-msvideo",
		"a.gz":       "application/x-gzip",
		"a.tar":      "application/x-tar",
		"a.css":      "text/css",
		"a.js":       "text/javascript",
	}
	for path, want := range cases {
		assert.Equal(t, want, contentTypeFor(path), path)
	}
}

func TestContentTypeForUnknownSuffixDefaultsToTextPlain(t *testing.T) {
	assert.Equal(t, "text/plain", contentTypeFor("a.unknown"))
	assert.Equal(t, "text/plain", contentTypeFor("noext"))
}
