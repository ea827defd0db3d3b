/*
main.go - Application entry point

PURPOSE:
  Starts the reminder reconciliation service or runs one-off commands
  against the configured source. Handles configuration, dependency
  injection, and graceful shutdown.

COMMANDS:
  serve                  HTTP API, dashboard view and periodic refresher
  reconcile --agent ID   Staged fetch + reconcile, printed as a table or JSON
  scenarios list         Demo scenarios
  scenarios load ID      Seed a demo scenario (sqlite only)

CONFIGURATION (viper):
  --config FILE          YAML file; otherwise ./reminderd.yaml or ./config/
  REMINDERD_*            Environment, e.g. REMINDERD_SOURCE_KIND=postgres
  REMINDER_GRACE_MS      Legacy millisecond override
  REMINDER_TOLERANCE_MS  Legacy millisecond override

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the refresher
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close the source
  5. Exit

EXAMPLES:
  # Serve the bundled SQLite mirror
  reminderd serve

  # Reconcile one agent against the admin API
  REMINDERD_SOURCE_KIND=http REMINDERD_SOURCE_HTTP_BASE_URL=https://admin.example/api \
    reminderd reconcile --agent front-desk --json

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Keys and defaults
*/
package main

import (
	"os"

	"github.com/rs/zerolog/log"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		log.Error().Err(err).Msg("reminderd failed")
		os.Exit(1)
	}
}
