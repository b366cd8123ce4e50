package logger

import (
	"fmt"
	"io"
	"log"
	"os"
)

// New returns a stdlib-backed logger with a component prefix. It exists
// for third-party APIs that want a *log.Logger instead of slog (the cron
// runner, HTTP access logs).
func New(component string) *log.Logger {
	prefix := fmt.Sprintf("[%s] ", component)
	return log.New(os.Stdout, prefix, log.LstdFlags)
}

// Writer exposes the component logger as an io.Writer for libraries that
// log through a plain writer.
func Writer(component string) io.Writer {
	return New(component).Writer()
}
