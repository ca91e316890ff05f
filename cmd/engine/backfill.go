package main

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/churst90/accessible-trader-sub001/internal/config"
)

func newBackfillCmd() *cobra.Command {
	var market, provider, symbol string
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Run one gap-fill pass for a single (market, provider, symbol)",
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

			state, err := a.backfill.Run(context.Background(), market, provider, symbol)
			if err != nil {
				return err
			}
			log.Info().Str("market", market).Str("provider", provider).Str("symbol", symbol).Str("state", string(state)).Msg("backfill finished")
			return nil
		},
	}
	cmd.Flags().StringVar(&market, "market", "", "market name, e.g. crypto")
	cmd.Flags().StringVar(&provider, "provider", "", "provider name, e.g. binance")
	cmd.Flags().StringVar(&symbol, "symbol", "", "symbol, e.g. BTC/USDT")
	cmd.MarkFlagRequired("market")
	cmd.MarkFlagRequired("provider")
	cmd.MarkFlagRequired("symbol")
	return cmd
}
