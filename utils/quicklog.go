package utils

import (
	"os"

	"github.com/rs/zerolog"
)

// Logger is the process-wide logger. It discards everything until InitLog is called.
var Logger = zerolog.Nop()

// InitLog switches Logger to structured output on stdout.
func InitLog() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}
