package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/dataland/internal/api"
	"github.com/sells-group/dataland/internal/auth"
	"github.com/sells-group/dataland/internal/config"
)

var (
	servePort    int
	serveConsume bool
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the event consumer",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, config.ModeServe)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate")
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           buildRouter(env),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return eris.Wrap(srv.Shutdown(shutdownCtx), "server shutdown")
		})
		if serveConsume {
			consumer := env.newConsumer()
			g.Go(func() error {
				return consumer.Run(gctx)
			})
		}

		return g.Wait()
	},
}

// buildRouter mounts the API on the wired components. Request and sourcing
// routes need Postgres and are left out without it.
func buildRouter(env *appEnv) http.Handler {
	svc := api.Services{
		Datasets:   env.Datasets,
		DataPoints: env.DataPoints,
		Companies:  env.Companies,
		Verifier:   auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
		Ping:       env.Ping,
	}
	if env.Requests != nil {
		svc.Requests = env.Requests
	}
	if env.Sourcing != nil {
		svc.Sourcing = env.Sourcing
	}
	return api.NewRouter(svc, api.Options{
		CORSOrigins:    cfg.Server.CORSOrigins,
		RequestTimeout: cfg.Server.RequestTimeout(),
	})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveConsume, "consume", true, "run the event consumer in process")
	rootCmd.AddCommand(serveCmd)
}
