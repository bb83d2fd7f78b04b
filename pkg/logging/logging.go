// Package logging configures the application-wide logger.
//
// Log records carry a category and an event field so that log lines from the
// background services (refreshers, reconnector, connection) can be filtered
// per subsystem.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Setup configures the global logger. level is one of debug, info, warn or
// error; anything else falls back to info.
func Setup(level string, out io.Writer) {
	if out == nil {
		out = os.Stderr
	}
	logrus.SetOutput(out)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})

	parsed, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logrus.SetLevel(parsed)
}

// ForCategory returns a logger entry scoped to a subsystem category.
func ForCategory(category string) *logrus.Entry {
	return logrus.WithField("category", category)
}

// WithEvent tags an entry with an event name within its category.
func WithEvent(entry *logrus.Entry, event string) *logrus.Entry {
	return entry.WithField("event", event)
}
