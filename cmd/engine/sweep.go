package main

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/churst90/accessible-trader-sub001/internal/config"
)

func newSweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one gap-fill pass across every symbol of every configured provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			a, err := buildApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := context.Background()
			for _, p := range cfg.Providers {
				borrowed, err := a.registry.Get(ctx, p.Market, p.Provider, "", p.Testnet)
				if err != nil {
					log.Warn().Err(err).Str("provider", p.Provider).Msg("sweep: could not borrow plugin")
					continue
				}
				symbols, err := borrowed.GetSymbols(ctx, p.Market)
				borrowed.Release()
				if err != nil {
					log.Warn().Err(err).Str("provider", p.Provider).Msg("sweep: could not list symbols")
					continue
				}

				for _, symbol := range symbols {
					state, err := a.backfill.Run(ctx, p.Market, p.Provider, symbol)
					if err != nil {
						log.Warn().Err(err).Str("provider", p.Provider).Str("symbol", symbol).Msg("sweep: backfill failed")
						continue
					}
					log.Info().Str("provider", p.Provider).Str("symbol", symbol).Str("state", string(state)).Msg("sweep: backfill finished")
				}
			}
			return nil
		},
	}
	return cmd
}
