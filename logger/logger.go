package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

var (
	log  Logger = NullLogger{}
	once sync.Once
)

// Options selects where and how log lines are written.
type Options struct {
	Level  string
	Format string // "json" or "console"
	File   string // empty means stderr
}

// InitLogger initializes the process-wide logger. Only the first call has an effect.
func InitLogger(opts Options) error {
	var initErr error
	once.Do(func() {
		l, err := New(opts)
		if err != nil {
			initErr = err
			return
		}
		log = l
	})
	return initErr
}

// GetLogger returns the logger instance
func GetLogger() Logger {
	return log
}

// New builds a zerolog-backed Logger from opts.
func New(opts Options) (Logger, error) {
	var out io.Writer = os.Stderr
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out = f
	}
	if strings.EqualFold(opts.Format, "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	level := zerolog.InfoLevel
	if opts.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = parsed
	}

	zl := zerolog.New(out).Level(level).With().Timestamp().Logger()
	return NewZerologAdapter(zl), nil
}

// NewZerologAdapter wraps an existing zerolog logger.
func NewZerologAdapter(zl zerolog.Logger) Logger {
	return &ZerologAdapter{logger: &zl}
}

// ZerologAdapter adapts zerolog.Logger to our Logger interface
type ZerologAdapter struct {
	logger *zerolog.Logger
}

func (z *ZerologAdapter) Debug(msg string) { z.logger.Debug().Msg(msg) }
func (z *ZerologAdapter) Info(msg string)  { z.logger.Info().Msg(msg) }
func (z *ZerologAdapter) Warn(msg string)  { z.logger.Warn().Msg(msg) }
func (z *ZerologAdapter) Error(msg string) { z.logger.Error().Msg(msg) }
func (z *ZerologAdapter) Fatal(msg string) { z.logger.Fatal().Msg(msg) }
func (z *ZerologAdapter) WithField(key string, value interface{}) Logger {
	newLogger := z.logger.With().Interface(key, value).Logger()
	return &ZerologAdapter{logger: &newLogger}
}
func (z *ZerologAdapter) WithError(err error) Logger {
	newLogger := z.logger.With().Err(err).Logger()
	return &ZerologAdapter{logger: &newLogger}
}
