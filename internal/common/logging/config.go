package logging

import (
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	FormatText = "text"
	FormatJson = "json"
)

// Config controls the process-wide logrus logger.
type Config struct {
	// Log level, e.g. debug, info, warn, error
	Level string
	// Either text or json
	Format string
}

// ConfigureLogging sets up the standard logrus logger for an application.
// Empty fields fall back to info level and text output.
func ConfigureLogging(config Config) error {
	return configure(log.StandardLogger(), os.Stdout, config)
}

func configure(logger *log.Logger, out io.Writer, config Config) error {
	level := log.InfoLevel
	if config.Level != "" {
		parsed, err := log.ParseLevel(config.Level)
		if err != nil {
			return errors.WithStack(err)
		}
		level = parsed
	}

	switch strings.ToLower(config.Format) {
	case "", FormatText:
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	case FormatJson:
		logger.SetFormatter(&log.JSONFormatter{})
	default:
		return errors.Errorf("unknown log format: %s. Valid formats are %s and %s", config.Format, FormatText, FormatJson)
	}

	logger.SetOutput(out)
	logger.SetLevel(level)
	return nil
}
