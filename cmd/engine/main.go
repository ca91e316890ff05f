// Command engine runs the OHLCV market-data service: the serve
// subcommand exposes the client websocket and ops HTTP endpoints, and
// backfill/sweep drive the gap-fill coordinator from the command line.
// Grounded on the teacher's cmd/cryptorun/main.go wiring (zerolog
// console writer, cobra root command, golang.org/x/term TTY check).
package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const appName = "marketdata-engine"

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
	// else: leave the default JSON writer, the right shape for log
	// aggregation when stderr is redirected (systemd, containers).

	rootCmd := &cobra.Command{
		Use:   appName,
		Short: "OHLCV market-data engine: cache, backfill and live feeds behind one fetch API.",
	}
	rootCmd.PersistentFlags().String("config", "engine.yaml", "path to the engine's YAML config")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newBackfillCmd())
	rootCmd.AddCommand(newSweepCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
