package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/MrEthical07/authsession/httpapi"
	promexport "github.com/MrEthical07/authsession/metrics/export/prometheus"
	"github.com/MrEthical07/authsession/middleware"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func serveCmd(load func() (*runtime, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API until SIGINT or SIGTERM",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := load()
			if err != nil {
				return err
			}
			defer rt.Close()

			engine, err := rt.buildEngine(ctx)
			if err != nil {
				return err
			}
			if err := engine.Ping(ctx); err != nil {
				rt.log.Warn("store not reachable at startup", zap.Error(err))
			}

			opts := httpapi.Options{
				Logger:     rt.log,
				TrustProxy: rt.cfg.Server.TrustProxy,
				Metrics:    promexport.Handler(engine),
			}
			if rl := rt.cfg.Server.RateLimit; rl.Enabled {
				opts.RateLimit = &middleware.RateLimitConfig{RPS: rl.RPS, Burst: rl.Burst}
			}

			srv := &http.Server{
				Addr:         rt.cfg.Server.Addr,
				Handler:      httpapi.NewRouter(engine, opts),
				ReadTimeout:  rt.cfg.Server.ReadTimeout,
				WriteTimeout: rt.cfg.Server.WriteTimeout,
			}

			errCh := make(chan error, 1)
			go func() {
				rt.log.Info("listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			rt.log.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), rt.cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return err
			}
			return <-errCh
		},
	}
}
