// Package main provides the CLI entry point for remsim-serverd, the RSPRO
// control-plane server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/remsim-project/remsim-core/internal/config"
	"github.com/remsim-project/remsim-core/internal/control"
	"github.com/remsim-project/remsim-core/internal/logging"
	"github.com/remsim-project/remsim-core/internal/metrics"
	"github.com/remsim-project/remsim-core/internal/rspro"
	"github.com/remsim-project/remsim-core/internal/server"
	"github.com/remsim-project/remsim-core/internal/wizard"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:     "remsim-serverd",
		Short:   "RSPRO control-plane server",
		Version: version,
	}
	root.AddCommand(serveCmd())
	root.AddCommand(initCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the control-plane server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			logger := logging.NewLogger(cfg.Log.Level, cfg.Log.Format)
			m := metrics.NewMetrics()

			core := server.New(server.Config{
				ListenAddr: cfg.Server.ListenAddr,
				Identity: rspro.Identity{
					Type:      rspro.ComponentServer,
					Name:      cfg.Server.Identity.Name,
					SWVersion: cfg.Server.Identity.SWVersion,
					HWVersion: cfg.Server.Identity.HWVersion,
				},
				AcceptRate:  rate.Limit(cfg.Server.AcceptRatePerSec),
				AcceptBurst: cfg.Server.AcceptBurst,
				Logger:      logger,
				Metrics:     m,
			})

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			serveErrCh := make(chan error, 1)
			go func() { serveErrCh <- core.Serve(ctx) }()

			var admin *control.Server
			if cfg.Admin.ListenAddr != "" {
				adminCfg := control.DefaultServerConfig()
				adminCfg.SocketPath = cfg.Admin.ListenAddr
				admin = control.NewServer(adminCfg, core, cfg.Server.Identity.Name, logger)
				if err := admin.Start(); err != nil {
					return fmt.Errorf("start admin surface: %w", err)
				}
				logger.Info("serverd: admin surface listening", slog.String("socket", cfg.Admin.ListenAddr))
			}

			logger.Info("serverd: listening", slog.String("addr", cfg.Server.ListenAddr))

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			select {
			case sig := <-sigCh:
				logger.Info("serverd: shutting down", slog.Any("signal", sig))
			case err := <-serveErrCh:
				if err != nil {
					logger.Error("serverd: accept loop exited", slog.Any("error", err))
				}
			}

			cancel()
			core.Close()
			if admin != nil {
				_ = admin.Stop()
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "./config.yaml", "Path to configuration file")
	return cmd
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Interactively create a starter config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := wizard.New().Run()
			return err
		},
	}
}
