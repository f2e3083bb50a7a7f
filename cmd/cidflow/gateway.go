package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	runtimepkg "github.com/drblury/cidflow/internal/runtime"
	"github.com/drblury/cidflow/internal/runtime/gateway"
	loggingpkg "github.com/drblury/cidflow/internal/runtime/logging"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Serve the configured resources over HTTP",
	Long: `Serves every resource listed under gateway.resources as a REST collection
and forwards each request to the CRUD methods of its RPC service. The
X-Correlation-ID header is echoed, or minted when absent.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger()
		if err != nil {
			return err
		}
		conf, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		svc := runtimepkg.NewService(conf, logger, ctx, runtimepkg.ServiceDependencies{})
		defer svc.Close()

		client, err := svc.RPCClient()
		if err != nil {
			return err
		}
		gw, err := gateway.New(client, conf.Gateway, logger)
		if err != nil {
			return err
		}

		server := &http.Server{
			Addr:              conf.Gateway.Address,
			Handler:           gw.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		errs := make(chan error, 2)
		go func() {
			logger.Info("Starting gateway", loggingpkg.LogFields{
				"address":   server.Addr,
				"resources": len(conf.Gateway.Resources),
			})
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errs <- err
			}
		}()
		go func() {
			errs <- svc.Start(ctx)
		}()

		select {
		case <-ctx.Done():
		case err := <-errs:
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Gateway stopped", err, nil)
				return err
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	},
}
