package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/spf13/cobra"

	"github.io/infrasutra/bulkmail/internal/api"
	"github.io/infrasutra/bulkmail/internal/relay"
)

func newServeCmd(a *app) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API for campaigns and progress streams",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			runner, err := a.openRunner(ctx)
			if err != nil {
				return err
			}
			if port == 0 {
				port = a.cfg.HTTPPort
			}
			apiServer := api.NewServer(a.cfg, a.db, runner, a.mailer, a.hub, a.logger)
			httpAddr := fmt.Sprintf(":%d", port)
			httpSrv := &http.Server{
				Addr:              httpAddr,
				Handler:           apiServer,
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("http server listening", "addr", httpAddr)
				if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return err
				}
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpSrv.Shutdown(shutdownCtx); err != nil {
				a.logger.Error("shutdown http", "error", err)
			}
			apiServer.Shutdown()
			return nil
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "HTTP port (HTTP_PORT when zero)")
	return cmd
}

func newRelayCmd(a *app) *cobra.Command {
	var port int
	var reject bool
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run a local SMTP relay that captures mail instead of delivering it",
		Long: `relay accepts mail on RELAY_PORT and keeps it in memory, logging each
message. Point SMTP_HOST at localhost and SMTP_PORT at the relay port to
dry-run a campaign.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			if port == 0 {
				port = a.cfg.RelayPort
			}
			authCfg := relay.AuthConfig{
				Enabled:  a.cfg.RelayAuthEnabled,
				Username: a.cfg.RelayUsername,
				Password: a.cfg.RelayPassword,
			}
			if authCfg.Enabled {
				a.logger.Info("relay auth enabled", "username", authCfg.Username)
			} else {
				a.logger.Warn("relay auth disabled; accepting unauthenticated connections")
			}
			srv := relay.New(a.logger, relay.Options{
				Addr:      fmt.Sprintf(":%d", port),
				Auth:      authCfg,
				RejectAll: reject,
			})

			errCh := make(chan error, 1)
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, smtp.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return err
				}
			case <-ctx.Done():
			}
			a.logger.Info("relay stopping", "captured", len(srv.Captures()))
			return srv.Close()
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "SMTP port (RELAY_PORT when zero)")
	cmd.Flags().BoolVar(&reject, "reject", false, "reject every message, to exercise failure handling")
	return cmd
}
