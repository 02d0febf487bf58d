//go:build linux

package reactor

import (
	"os"

	"github.com/rs/zerolog"

	"github.com/yanksx233/httpd-go/logging"
)

// pkgLogger is the shared structured logger for all reactor components.
// It defaults to stdout (spec §6, "stdout default") and can be
// redirected to the async rolling sink via SetLogger.
var pkgLogger = logging.NewStructuredLogger(os.Stdout)

// SetLogger redirects every reactor component's log output to l,
// typically a logger writing into a *logging.AsyncLogger.
func SetLogger(l zerolog.Logger) {
	pkgLogger = l
}

// loopLogger exposes the shared logger to every file in this package.
func loopLogger() *zerolog.Logger {
	return &pkgLogger
}
