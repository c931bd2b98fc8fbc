// Package logging configures the zerolog global logger for both binaries.
package logging

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init installs a console logger on stderr at InfoLevel. It runs before
// config is loaded so config.Load can log.
func Init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// SetLevel applies a configured level name; unknown names keep the current
// level.
func SetLevel(name string) {
	if name == "" {
		return
	}
	lvl, err := zerolog.ParseLevel(name)
	if err != nil {
		log.Warn().Err(err).Str("module", "logging").Str("level", name).Msg("unknown log level")
		return
	}
	zerolog.SetGlobalLevel(lvl)
}
