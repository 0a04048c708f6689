// Package logger provides the structured logging interface used by the echo
// server and client, backed by zerolog, with optional daily-rotated log files.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Field represents a key-value pair for structured log output.
type Field struct {
	Key   string
	Value any
}

// Logger is an interface for structured logging. Implementations write log
// entries at different levels and support attaching structured fields.
// Loggers may be derived with With for session-scoped or component-scoped
// fields.
type Logger interface {
	// Debug logs a message at debug level with optional structured fields.
	Debug(msg string, fields ...Field)

	// Info logs a message at info level with optional structured fields.
	Info(msg string, fields ...Field)

	// Warn logs a message at warn level with optional structured fields.
	Warn(msg string, fields ...Field)

	// Error logs a message at error level with optional structured fields.
	Error(msg string, fields ...Field)

	// With returns a new Logger that includes the given fields in all
	// subsequent log entries. The original Logger is unchanged.
	//
	// Parameters:
	//   - fields: Key-value pairs to attach to the derived logger
	//
	// Returns:
	//   - A new Logger with the specified fields
	With(fields ...Field) Logger

	// Close releases resources held by the logger (e.g. file handles).
	// It is safe to call multiple times.
	Close() error
}

// Options controls how New builds a Logger.
type Options struct {
	// Service is added as the "service" field of every entry and names log files.
	Service string
	// Level is the minimum level written.
	Level zerolog.Level
	// Output receives human-readable console output. Defaults to os.Stderr.
	Output io.Writer
	// Dir, when non-empty, enables daily-rotated log files in that directory.
	Dir string
}

type zerologLogger struct {
	logger         zerolog.Logger
	fileWriter     *DailyFileWriter
	ownsFileWriter bool
}

// New builds a zerolog-backed Logger. Console output is written through
// zerolog.ConsoleWriter so it stays readable next to operator prompts; when
// opts.Dir is set, JSON entries are additionally written to daily log files.
//
// Parameters:
//   - opts: Service name, level, console output and optional log directory
//
// Returns:
//   - The Logger, or an error if the log directory or file cannot be created
func New(opts Options) (Logger, error) {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	var w io.Writer = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	var fileWriter *DailyFileWriter
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		fw, err := NewDailyFileWriter(opts.Service, opts.Dir)
		if err != nil {
			return nil, fmt.Errorf("failed to create file writer: %w", err)
		}

		fileWriter = fw
		w = zerolog.MultiLevelWriter(w, fw)
	}

	l := NewZerologLogger(zerolog.New(w), opts.Service, opts.Level).(*zerologLogger)
	l.fileWriter = fileWriter
	l.ownsFileWriter = fileWriter != nil
	return l, nil
}

// NewZerologLogger wraps an existing zerolog.Logger, adding the service name
// and a timestamp to all entries and filtering by level.
func NewZerologLogger(l zerolog.Logger, serviceName string, level zerolog.Level) Logger {
	return &zerologLogger{
		logger: l.With().Str("service", serviceName).Timestamp().Logger().Level(level),
	}
}

// Nop returns a Logger that discards everything.
func Nop() Logger {
	return NewZerologLogger(zerolog.Nop(), "", zerolog.Disabled)
}

// ParseLevel maps a level name such as "debug" or "WARN" to a zerolog level.
// An empty name means info.
//
// Parameters:
//   - name: The level name
//
// Returns:
//   - The zerolog level, or an error naming the unknown level
func ParseLevel(name string) (zerolog.Level, error) {
	if name == "" {
		return zerolog.InfoLevel, nil
	}

	level, err := zerolog.ParseLevel(strings.ToLower(name))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("unknown log level %q", name)
	}

	return level, nil
}

func (z *zerologLogger) Debug(msg string, fields ...Field) {
	z.logger.Debug().Fields(toMap(fields)).Msg(msg)
}

func (z *zerologLogger) Info(msg string, fields ...Field) {
	z.logger.Info().Fields(toMap(fields)).Msg(msg)
}

func (z *zerologLogger) Warn(msg string, fields ...Field) {
	z.logger.Warn().Fields(toMap(fields)).Msg(msg)
}

func (z *zerologLogger) Error(msg string, fields ...Field) {
	z.logger.Error().Fields(toMap(fields)).Msg(msg)
}

func (z *zerologLogger) With(fields ...Field) Logger {
	return &zerologLogger{
		logger:     z.logger.With().Fields(toMap(fields)).Logger(),
		fileWriter: z.fileWriter,
	}
}

func (z *zerologLogger) Close() error {
	if z.fileWriter != nil && z.ownsFileWriter {
		return z.fileWriter.Close()
	}

	return nil
}

// toMap converts a slice of Field into a map for zerolog.
func toMap(fields []Field) map[string]any {
	if len(fields) == 0 {
		return nil
	}

	m := make(map[string]any, len(fields))
	for _, f := range fields {
		m[f.Key] = f.Value
	}

	return m
}
