// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jeranaias/chatgate/internal/gateway"
	"github.com/jeranaias/chatgate/internal/server"
	"github.com/jeranaias/chatgate/internal/storage"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		Long: `Run the HTTP gateway until interrupted.

Configuration comes from the config file, then CHATGATE_* and provider
key environment variables. --addr overrides server.addr.`,
		Example: `  chatgate serve
  chatgate serve --addr 0.0.0.0:8787 --config ./chatgate.toml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg.Clone()
			if addr != "" {
				cfg.Server.Addr = addr
			}

			logger := newLogger(cfg.Log, cmd.ErrOrStderr())

			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			gw := gateway.New(newRegistry(cfg), gatewayConfig(cfg)).
				WithStore(store, storage.NewLocks()).
				WithLogger(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.Debug("CONFIG_LOADED", "config", cfg.String())
			return server.New(cfg.Server, gw, store).WithLogger(logger).Run(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (host:port)")
	return cmd
}
