package logging

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LevelEnv is the environment variable holding the log level.
const LevelEnv = "IMPORT_LOG_LEVEL"

// Init initializes the global logger for interactive use: console output on stderr.
// IMPORT_LOG_LEVEL controls the log level: debug, info, warn, error (default: info)
func Init() {
	setLevel()
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

// InitJSON initializes the global logger with one JSON object per line on
// stdout, for log collectors.
func InitJSON() {
	setLevel()
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func setLevel() {
	switch os.Getenv(LevelEnv) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
