package logging

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ParseLevel maps a LOG_LEVEL value to a zerolog level.
// Unknown values fall back to error, the production default.
func ParseLevel(l string) zerolog.Level {
	switch l {
	case "dev", "development", "debug":
		return zerolog.DebugLevel
	case "trace":
		return zerolog.TraceLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

func Init() {
	level := zerolog.ErrorLevel // default: production only shows errors

	if l, ok := os.LookupEnv("LOG_LEVEL"); ok {
		level = ParseLevel(l)
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(level)
}

// Module returns the global logger tagged with a module field.
func Module(name string) zerolog.Logger {
	return log.With().Str("module", name).Logger()
}
