package main

import (
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/sagakit/pkg/httpapi"
	"github.com/dmitrymomot/sagakit/pkg/httpserver"
	"github.com/dmitrymomot/sagakit/pkg/statemachine"
)

func newServeCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run the background workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, root.cfg, root.log)
			if err != nil {
				return err
			}
			defer a.close()

			router := httpapi.New(httpapi.Options{
				Publisher:  a.bus,
				Reader:     a.orch,
				Checks:     a.checks,
				Logger:     root.log,
				Limiter:    a.limit,
				TrustProxy: root.cfg.TrustProxy,

				ReservedEvents: []statemachine.Event{a.orch.TimeoutEvent()},
			})
			server := httpserver.NewFromConfig(root.cfg.HTTP, httpserver.WithLogger(root.log))

			g, gctx := errgroup.WithContext(ctx)
			a.start(gctx, g)
			g.Go(server.Run(gctx, router))

			return wait(g, root.log)
		},
	}
}
