// Package logging configures the process-wide logrus logger.
package logging

import (
	"os"

	log "github.com/sirupsen/logrus"
)

// Setup applies level and format ("json" or "text") to the standard logger.
// An unknown level falls back to info.
func Setup(level, format string) {
	log.SetOutput(os.Stdout)

	switch format {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	lvl, err := log.ParseLevel(level)
	if err != nil {
		log.WithField("level", level).Warn("unknown log level, using info")
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
}

// Component returns an entry tagged with the emitting component.
func Component(name string) *log.Entry {
	return log.WithField("component", name)
}
