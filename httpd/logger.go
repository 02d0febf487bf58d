package httpd

import (
	"os"

	"github.com/rs/zerolog"

	"github.com/yanksx233/httpd-go/logging"
)

// pkgLogger mirrors reactor's package-level logger (see reactor/logger.go)
// so the HTTP layer's protocol-failure and last-resort-abort logging
// shares the same sink convention.
var pkgLogger = logging.NewStructuredLogger(os.Stdout)

// SetLogger redirects every httpd component's log output to l.
func SetLogger(l zerolog.Logger) {
	pkgLogger = l
}

func loopLogger() *zerolog.Logger {
	return &pkgLogger
}
