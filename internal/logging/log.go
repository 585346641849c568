// Package logging provides the process-wide structured logger used by every
// other package. A single logrus.Logger is configured once at startup from
// config.Config and handed to components as *logrus.Entry values scoped by
// component name, the way Allen1211-mrkv's common/log.go wires logrus
// across its master/node/replica binaries.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New builds a logrus.Logger at the given level ("debug", "info", "warn",
// "error") and format ("text" or "json"). An unrecognized level defaults to
// info; an unrecognized format defaults to text.
func New(level, format string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)

	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)

	return logger
}

// Component returns a logger entry tagged with the given component name,
// e.g. logging.Component(logger, "compactor").
func Component(logger *logrus.Logger, name string) *logrus.Entry {
	return logger.WithField("component", name)
}
