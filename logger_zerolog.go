package mqtt

import (
	"io"
	"os"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// ZerologLogger adapts a zerolog.Logger to Logger.
type ZerologLogger struct {
	logger zerolog.Logger
	level  *atomic.Int32
}

// NewZerologLogger writes JSON records to w (stderr when nil).
func NewZerologLogger(w io.Writer, level LogLevel) *ZerologLogger {
	if w == nil {
		w = os.Stderr
	}
	return WrapZerolog(zerolog.New(w).With().Timestamp().Logger(), level)
}

// WrapZerolog uses an existing zerolog logger, for example one built with
// zerolog.ConsoleWriter.
func WrapZerolog(logger zerolog.Logger, level LogLevel) *ZerologLogger {
	l := &ZerologLogger{logger: logger, level: &atomic.Int32{}}
	l.level.Store(int32(level))
	return l
}

func (z *ZerologLogger) Debug(msg string, fields LogFields) {
	z.emit(LogLevelDebug, z.logger.Debug(), msg, fields)
}

func (z *ZerologLogger) Info(msg string, fields LogFields) {
	z.emit(LogLevelInfo, z.logger.Info(), msg, fields)
}

func (z *ZerologLogger) Warn(msg string, fields LogFields) {
	z.emit(LogLevelWarn, z.logger.Warn(), msg, fields)
}

func (z *ZerologLogger) Error(msg string, fields LogFields) {
	z.emit(LogLevelError, z.logger.Error(), msg, fields)
}

func (z *ZerologLogger) emit(level LogLevel, ev *zerolog.Event, msg string, fields LogFields) {
	if level < z.Level() {
		return
	}
	if len(fields) > 0 {
		// zerolog only recognises the unnamed map type.
		ev = ev.Fields(map[string]any(fields))
	}
	ev.Msg(msg)
}

// WithFields returns a child logger sharing the level of z.
func (z *ZerologLogger) WithFields(fields LogFields) Logger {
	return &ZerologLogger{
		logger: z.logger.With().Fields(map[string]any(fields)).Logger(),
		level:  z.level,
	}
}

func (z *ZerologLogger) Level() LogLevel { return LogLevel(z.level.Load()) }

func (z *ZerologLogger) SetLevel(level LogLevel) { z.level.Store(int32(level)) }
