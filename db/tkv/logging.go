package tkv

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/dgraph-io/badger/v3"
)

// badgerLoggerAdapter routes badger's printf-style logging into slog
type badgerLoggerAdapter struct {
	slogger *slog.Logger
}

func (b *badgerLoggerAdapter) Errorf(format string, args ...interface{}) {
	b.slogger.Error(b.msg(format, args...))
}

func (b *badgerLoggerAdapter) Warningf(format string, args ...interface{}) {
	b.slogger.Warn(b.msg(format, args...))
}

func (b *badgerLoggerAdapter) Infof(format string, args ...interface{}) {
	b.slogger.Info(b.msg(format, args...))
}

func (b *badgerLoggerAdapter) Debugf(format string, args ...interface{}) {
	b.slogger.Debug(b.msg(format, args...))
}

func (b *badgerLoggerAdapter) msg(format string, args ...interface{}) string {
	return strings.TrimRight(fmt.Sprintf(format, args...), "\n")
}

func newLogger(slogger *slog.Logger) badger.Logger {
	return &badgerLoggerAdapter{slogger: slogger}
}

// withBadgerLevel maps a slog level onto badger's own logging levels. The
// level type itself is unexported by badger, so the mapping is applied to the
// options directly.
func withBadgerLevel(opts badger.Options, level slog.Level) badger.Options {
	switch {
	case level <= slog.LevelDebug:
		return opts.WithLoggingLevel(badger.DEBUG)
	case level <= slog.LevelInfo:
		return opts.WithLoggingLevel(badger.INFO)
	case level <= slog.LevelWarn:
		return opts.WithLoggingLevel(badger.WARNING)
	default:
		return opts.WithLoggingLevel(badger.ERROR)
	}
}
