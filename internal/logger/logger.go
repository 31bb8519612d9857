// Package logger is the leveled key/value logger shared by the service, the
// browser guard and the alert store.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger logs a message followed by alternating key/value pairs.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
	Err(err error, msg string, kv ...any)
}

// Config selects the level and the writers.
type Config struct {
	// Level is one of debug, info, warn, error (defaults to info).
	Level string
	// Writers lists "console" and/or "file" (defaults to console).
	Writers []string
	// File is the path of the rotating log file used by the "file" writer.
	File string
	// MaxSizeMB and MaxBackups bound the rotating file (default 10 MB, 3 files).
	MaxSizeMB  int
	MaxBackups int
}

type zlog struct {
	z zerolog.Logger
}

// New builds a zerolog backed Logger.
func New(cfg Config) (Logger, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return nil, fmt.Errorf("logger: invalid level %q: %w", cfg.Level, err)
	}
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	writers := cfg.Writers
	if len(writers) == 0 {
		writers = []string{"console"}
	}
	var outs []io.Writer
	for _, w := range writers {
		switch strings.ToLower(w) {
		case "console":
			outs = append(outs, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
		case "file":
			if cfg.File == "" {
				return nil, fmt.Errorf("logger: file writer needs a file path")
			}
			maxSize, maxBackups := cfg.MaxSizeMB, cfg.MaxBackups
			if maxSize == 0 {
				maxSize = 10
			}
			if maxBackups == 0 {
				maxBackups = 3
			}
			outs = append(outs, &lumberjack.Logger{
				Filename:   cfg.File,
				MaxSize:    maxSize,
				MaxBackups: maxBackups,
			})
		default:
			return nil, fmt.Errorf("logger: unknown writer %q", w)
		}
	}

	return NewWithWriter(io.MultiWriter(outs...), level), nil
}

// NewWithWriter logs JSON lines to w at level and above.
func NewWithWriter(w io.Writer, level zerolog.Level) Logger {
	return &zlog{z: zerolog.New(w).Level(level).With().Timestamp().Logger()}
}

// NewNop discards everything.
func NewNop() Logger {
	return &zlog{z: zerolog.Nop()}
}

func (l *zlog) Debug(msg string, kv ...any) { fields(l.z.Debug(), kv).Msg(msg) }
func (l *zlog) Info(msg string, kv ...any)  { fields(l.z.Info(), kv).Msg(msg) }
func (l *zlog) Warn(msg string, kv ...any)  { fields(l.z.Warn(), kv).Msg(msg) }
func (l *zlog) Error(msg string, kv ...any) { fields(l.z.Error(), kv).Msg(msg) }

func (l *zlog) Err(err error, msg string, kv ...any) {
	fields(l.z.Error().Err(err), kv).Msg(msg)
}

func fields(e *zerolog.Event, kv []any) *zerolog.Event {
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		if i+1 >= len(kv) {
			e = e.Str(key, "(missing)")
			break
		}
		e = e.Interface(key, kv[i+1])
	}
	return e
}
