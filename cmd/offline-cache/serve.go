package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	offlinecache "github.com/always-cache/offline-cache"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the proxy and the control API",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		wk, err := newWorker(cfg, offlinecache.NewMetrics(reg))
		if err != nil {
			return err
		}
		defer wk.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		servers := []*http.Server{{
			Addr:              cfg.Listen,
			Handler:           wk,
			ReadHeaderTimeout: 10 * time.Second,
		}}
		if cfg.ControlListen != "" {
			servers = append(servers, &http.Server{
				Addr:              cfg.ControlListen,
				Handler:           newControlRouter(wk.Worker, reg, log.Logger),
				ReadHeaderTimeout: 10 * time.Second,
			})
		}
		for _, srv := range servers {
			srv := srv
			go func() {
				log.Info().Msgf("Listening on %s", srv.Addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error().Err(err).Str("addr", srv.Addr).Msg("Server error")
					stop()
				}
			}()
		}
		log.Info().Msgf("Proxying %s to %s (with hostname '%s')", cfg.Listen, cfg.Origin, cfg.OriginHost)

		go func() {
			if err := startWithRetry(ctx, wk.Worker); err != nil {
				if ctx.Err() == nil {
					log.Error().Err(err).Msg("Could not start worker")
				}
				return
			}
			wk.RunPeriodicSync(ctx, cfg.PeriodicSync.Interval)
		}()

		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Str("addr", srv.Addr).Msg("Shutdown error")
			}
		}
		return nil
	},
}

// startWithRetry installs and activates the worker,
// retrying a failed install with exponential backoff until ctx is done.
func startWithRetry(ctx context.Context, wk *offlinecache.Worker) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0
	return backoff.RetryNotify(
		func() error {
			err := wk.Start(ctx)
			if err != nil && !errors.Is(err, offlinecache.ErrInstallFailed) {
				return backoff.Permanent(err)
			}
			return err
		},
		backoff.WithContext(b, ctx),
		func(err error, next time.Duration) {
			log.Warn().Err(err).Msgf("Install failed, retrying in %s", next.Round(time.Second))
		},
	)
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
