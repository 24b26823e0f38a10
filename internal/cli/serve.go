package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"ordergate/internal/httpapi"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server and the background monitor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := openApp(ctx, opts, true)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()
			cfg := app.Config
			log := app.Log.WithComponent("serve")

			deps := httpapi.Deps{
				Processor:        app,
				Tracker:          app.Tracker,
				Metrics:          app.Metrics.Handler(),
				WebhookSecret:    cfg.Webhook.Secret,
				GracePeriod:      cfg.Tracker.GracePeriod,
				TriggerPerMinute: cfg.Server.TriggerPerMinute,
				Log:              app.Log,
			}
			if app.Monitor != nil {
				deps.Monitor = app.Monitor
			}
			srv := httpapi.New(deps).HTTPServer(cfg.Server.Addr, cfg.Server.ReadTimeout, cfg.Server.WriteTimeout)

			g, gctx := errgroup.WithContext(ctx)
			if cfg.Monitor.Enabled && app.Monitor != nil {
				app.Monitor.Start(gctx)
			}
			g.Go(func() error {
				log.Info("listening", "addr", cfg.Server.Addr, "storage", app.Store.Driver())
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				log.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
				defer cancel()
				httpErr := srv.Shutdown(shutdownCtx)
				var monErr error
				if app.Monitor != nil {
					monErr = app.Monitor.Stop()
				}
				return errors.Join(httpErr, monErr)
			})
			return g.Wait()
		},
	}
}
