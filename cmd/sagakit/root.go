package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/sagakit/pkg/config"
	"github.com/dmitrymomot/sagakit/pkg/environment"
	"github.com/dmitrymomot/sagakit/pkg/logger"
)

type rootOptions struct {
	envFiles []string
	cfg      appConfig
	log      *slog.Logger
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "sagakit",
		Short: "Order saga orchestrator",
		Long: `sagakit drives order sagas through their lifecycle:
created, waiting for payment, waiting for shipping, finalized.
Unpaid orders are cancelled when the payment timeout expires.

Storage, timers and transport are chosen with STORE_DRIVER,
TIMER_DRIVER and TRANSPORT.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load[appConfig](config.WithEnvFiles(opts.envFiles...))
			if err != nil {
				return err
			}
			if err := cfg.validate(); err != nil {
				return err
			}
			opts.cfg = cfg

			opts.log = logger.New(
				logger.WithEnvironment(environment.Parse(cfg.Env), cfg.Service),
				logger.WithConfig(cfg.Log),
				logger.WithOutput(cmd.ErrOrStderr()),
			)
			logger.SetAsDefault(opts.log)
			return nil
		},
	}

	cmd.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", nil, "additional .env files to load")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))

	return cmd
}
