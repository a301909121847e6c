package logging

import (
	"fmt"

	pionlog "github.com/pion/logging"
	"github.com/rs/zerolog"
)

// PionLoggerFactory routes pion's internal logging through zerolog.
type PionLoggerFactory struct {
	Logger zerolog.Logger
}

// NewPionLoggerFactory builds a factory whose scopes log under the "pion" module.
func NewPionLoggerFactory() *PionLoggerFactory {
	return &PionLoggerFactory{Logger: Module("pion")}
}

func (f *PionLoggerFactory) NewLogger(scope string) pionlog.LeveledLogger {
	return &pionLogger{log: f.Logger.With().Str("scope", scope).Logger()}
}

type pionLogger struct {
	log zerolog.Logger
}

func (l *pionLogger) Trace(msg string) { l.log.Trace().Msg(msg) }
func (l *pionLogger) Tracef(format string, args ...any) {
	l.log.Trace().Msg(fmt.Sprintf(format, args...))
}
func (l *pionLogger) Debug(msg string) { l.log.Debug().Msg(msg) }
func (l *pionLogger) Debugf(format string, args ...any) {
	l.log.Debug().Msg(fmt.Sprintf(format, args...))
}
func (l *pionLogger) Info(msg string) { l.log.Info().Msg(msg) }
func (l *pionLogger) Infof(format string, args ...any) {
	l.log.Info().Msg(fmt.Sprintf(format, args...))
}
func (l *pionLogger) Warn(msg string) { l.log.Warn().Msg(msg) }
func (l *pionLogger) Warnf(format string, args ...any) {
	l.log.Warn().Msg(fmt.Sprintf(format, args...))
}
func (l *pionLogger) Error(msg string) { l.log.Error().Msg(msg) }
func (l *pionLogger) Errorf(format string, args ...any) {
	l.log.Error().Msg(fmt.Sprintf(format, args...))
}
