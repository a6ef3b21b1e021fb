package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/comigor/queryhub-go/internal/api"
	"github.com/comigor/queryhub-go/internal/logger"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(load configLoader) *cobra.Command {
	var dataPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load(os.Stdout)
			if err != nil {
				return err
			}
			a := newApp(cfg)
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if dataPath != "" {
				if err := a.loadFile(ctx, dataPath); err != nil {
					return err
				}
			}

			var archive api.HistoryLister
			if a.store != nil {
				archive = a.store
			}
			srv := &http.Server{
				Addr: net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
				Handler: api.NewHandler(api.Dependencies{
					Workspace:      a.ws,
					Runner:         a.runner,
					Ledger:         a.ledger,
					Archive:        archive,
					Options:        cfg.LLM.Options,
					MaxUploadBytes: cfg.Dataset.MaxBytes,
				}),
				ReadTimeout:  cfg.Server.ReadTimeout,
				WriteTimeout: cfg.Server.WriteTimeout,
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				logger.L.Info("starting server", "address", srv.Addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				logger.L.Info("shutting down server")
				return srv.Shutdown(shutdownCtx)
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&dataPath, "data", "", "Dataset to load at startup")
	return cmd
}
