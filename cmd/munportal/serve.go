package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"munportal/internal/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve the admin dashboard views",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		metrics.Init()

		ls, err := a.Listener()
		if err != nil {
			return err
		}
		srv := ls.Server

		errCh := make(chan error, 1)
		go func() {
			a.Logger.Info("listening", "addr", srv.Addr, "tls", ls.TLS.Enabled)
			var err error
			if ls.TLS.Enabled {
				err = srv.ListenAndServeTLS(ls.TLS.CertFile, ls.TLS.KeyFile)
			} else {
				err = srv.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		a.Logger.Info("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.Logger.Error("server shutdown error", "error", err)
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
