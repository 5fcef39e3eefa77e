package main

import (
	"context"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newRunCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the engine with an interactive console",
		Long: `Start the saga engine and read commands from stdin.

Each line is "<command> [order-id]" where command is create, pay or ship.
Enter q to quit.

Example:
  sagakit run
  STORE_DRIVER=postgres TIMER_DRIVER=postgres sagakit run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			a, err := newApp(ctx, root.cfg, root.log)
			if err != nil {
				return err
			}
			defer a.close()

			g, gctx := errgroup.WithContext(ctx)
			a.start(gctx, g)

			out := cmd.OutOrStdout()
			go printTransitions(gctx, a.feed, out)

			g.Go(func() error {
				defer cancel()
				return newConsole(a.bus, out).run(gctx, cmd.InOrStdin())
			})

			return wait(g, root.log)
		},
	}
}
