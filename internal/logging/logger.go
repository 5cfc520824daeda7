package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/diode"
	"github.com/rs/zerolog/log"
)

// New builds the process logger and installs it as the zerolog global.
// format is "console" or "json". The returned func flushes the diode writer
// used by console output and must be called on shutdown.
func New(level, format string) (zerolog.Logger, func()) {
	zerolog.SetGlobalLevel(parseLevel(level))
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var (
		out     io.Writer = os.Stdout
		cleanup           = func() {}
	)

	if strings.ToLower(format) != "json" {
		// Non-blocking console output: ring buffer of 1000 entries, polled every 5ms.
		wr := diode.NewWriter(os.Stdout, 1000, 5*time.Millisecond, func(missed int) {
			fmt.Printf("Logger dropped %d messages\n", missed)
		})
		out = zerolog.ConsoleWriter{
			Out:        wr,
			TimeFormat: time.DateTime,
			PartsOrder: []string{
				zerolog.LevelFieldName,
				zerolog.TimestampFieldName,
				zerolog.MessageFieldName,
			},
		}
		cleanup = func() { _ = wr.Close() }
	}

	logger := zerolog.New(out).With().Timestamp().Logger()
	log.Logger = logger
	zerolog.DefaultContextLogger = &log.Logger

	return logger, cleanup
}

func parseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// NewContext returns ctx carrying logger.
func NewContext(ctx context.Context, logger zerolog.Logger) context.Context {
	return logger.WithContext(ctx)
}

// FromCtx returns the logger stored in ctx. Without one it falls back to the
// logger installed by New, or a disabled logger before New has run.
func FromCtx(ctx context.Context) *zerolog.Logger {
	return log.Ctx(ctx)
}
