package telemetry

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogging configures the global zerolog logger: a human-readable
// console writer by default, JSON when MCPGATEWAY_ENV=production.
func InitLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if os.Getenv("MCPGATEWAY_ENV") == "production" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}
