// Package logging builds the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	perrors "github.com/orchestra-mcp/pulse/src/errors"
	"github.com/rs/zerolog"
)

// Config selects level, format and an optional log file.
type Config struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // console or json
	File   string `mapstructure:"file"`
}

// New returns a logger writing to stderr, and additionally to cfg.File
// when set. The returned closer releases the file.
func New(cfg Config) (zerolog.Logger, io.Closer, error) {
	return newWithWriter(cfg, os.Stderr)
}

func newWithWriter(cfg Config, out io.Writer) (zerolog.Logger, io.Closer, error) {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		l, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return zerolog.Nop(), nil, perrors.WrapWithSuggestion(err, perrors.ErrConfig,
				"invalid log level "+cfg.Level, "use debug, info, warn or error")
		}
		level = l
	}

	var console io.Writer = out
	switch strings.ToLower(cfg.Format) {
	case "", "console":
		console = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	case "json":
	default:
		return zerolog.Nop(), nil, perrors.New(perrors.ErrConfig,
			"invalid log format "+cfg.Format, "use console or json")
	}

	writer := console
	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), nil, perrors.Wrap(err, perrors.ErrConfig, "cannot open log file "+cfg.File)
		}
		// The file always gets JSON so it stays machine-readable.
		writer = zerolog.MultiLevelWriter(console, f)
		closer = f
	}

	logger := zerolog.New(writer).Level(level).With().Timestamp().Logger()
	return logger, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
