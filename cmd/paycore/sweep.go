package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire every created intent past its deadline, then exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := setupLogger(cfg.LogLevel, cfg.LogFormat)

			a, err := buildApp(cmd.Context(), cfg, nil, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.intents.SweepExpired(cmd.Context())
			if err != nil {
				return fmt.Errorf("sweeping: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "expired %d intents\n", n)
			return nil
		},
	}
}
