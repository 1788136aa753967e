package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/tidectl/internal/logging"
)

// InitLogger installs the process-wide logger for one daemon, honoring the
// TIDECTL_LOG_* environment overrides, and stamps every event with the
// daemon name.
func InitLogger(app string) zerolog.Logger {
	logging.ConfigureRuntime()
	logger := log.Logger.With().Str("app", app).Logger()
	log.Logger = logger
	return logger
}
