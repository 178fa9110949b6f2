package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/i474232898/agroassist/internal/config"
)

// Setup creates a zerolog logger according to the provided configuration.
func Setup(cfg config.LoggingConfig) (zerolog.Logger, error) {
	return setup(cfg, os.Stdout)
}

func setup(cfg config.LoggingConfig, out io.Writer) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return zerolog.Logger{}, fmt.Errorf("parse log level: %w", err)
		}
		level = parsed
	}

	if strings.EqualFold(cfg.Format, "text") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	logger := zerolog.New(out).With().Timestamp().Str("service", "agroassist").Logger().Level(level)
	return logger, nil
}
