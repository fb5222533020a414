// Trustplane: trust scoring and autonomy gating for AI agents.
//
// Agents are scored on twelve behavioral dimensions. The weighted
// aggregate maps to an autonomy tier (T0 sandbox through T6 sovereign),
// but tier changes only happen through the gate: every promotion must
// clear conjunctive per-dimension thresholds and every change lands in
// an append-only audit trail.
package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	Execute()
}
