package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"trichat/internal/api"
)

func NewServeCommand() *cobra.Command {
	var listenAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and Prometheus metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if listenAddr == "" {
				listenAddr = a.cfg.HTTPAddr
			}

			sched, err := a.newScheduler()
			if err != nil {
				return err
			}
			sched.Start()
			defer sched.Stop()

			srv := &http.Server{
				Addr:         listenAddr,
				Handler:      api.NewRouter(api.NewAPIHandler(a.coord, a.settings, a.recorder)),
				ReadTimeout:  15 * time.Second,
				WriteTimeout: a.cfg.ProviderTimeout + 30*time.Second,
				IdleTimeout:  120 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				log.WithField("addr", listenAddr).Info("starting HTTP server")
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

			log.Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return err
			}
			log.Info("server exited")
			return nil
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", "", "Address to listen on (default HTTP_ADDR or :8080)")
	return cmd
}

