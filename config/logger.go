package config

import (
	"os"

	"github.com/rs/zerolog"
	l "github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
)

func setupLogger() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		// human readable output while debugging a bridge locally
		l.Logger = l.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "15:04:05",
		})
	}
}
