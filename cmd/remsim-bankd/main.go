// Package main provides the CLI entry point for remsim-bankd, a bank
// emulator that dials an RSPRO server as a Bank and auto-acknowledges the
// mapping requests the server issues, having no real SIM hardware to answer
// for.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/remsim-project/remsim-core/internal/clientconn"
	"github.com/remsim-project/remsim-core/internal/config"
	"github.com/remsim-project/remsim-core/internal/logging"
	"github.com/remsim-project/remsim-core/internal/rspro"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:     "remsim-bankd",
		Short:   "Bank emulator that dials an RSPRO server",
		Version: version,
	}
	root.AddCommand(runCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the server and auto-acknowledge mapping requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			logger := logging.NewLogger(cfg.Log.Level, cfg.Log.Format)

			var fsm *clientconn.FSM
			fsm = clientconn.New(clientconn.Config{
				ServerAddr: cfg.Bankd.ServerAddr,
				Identity: rspro.Identity{
					Type:      rspro.ComponentBank,
					Name:      cfg.Bankd.Identity.Name,
					SWVersion: cfg.Bankd.Identity.SWVersion,
					HWVersion: cfg.Bankd.Identity.HWVersion,
				},
				BankID:   cfg.Bankd.BankID,
				NumSlots: cfg.Bankd.NumSlots,
				Logger:   logger,
				OnConnected: func() {
					logger.Info("bankd: connected", slog.String("server", cfg.Bankd.ServerAddr))
				},
				OnDisconnected: func() {
					logger.Warn("bankd: disconnected")
				},
				OnPDU: func(pdu *rspro.PDU) {
					switch pdu.Type {
					case rspro.MsgCreateMappingReq:
						req := pdu.CreateMappingReq
						if req == nil {
							return
						}
						logger.Info("bankd: create mapping",
							slog.Any("client", req.Client), slog.Any("bank", req.Bank))
						fsm.Send(&rspro.PDU{
							Type: rspro.MsgCreateMappingRes,
							CreateMappingRes: &rspro.CreateMappingRes{
								Result: rspro.ResultOk,
								Client: req.Client,
								Bank:   req.Bank,
							},
						})
					case rspro.MsgRemoveMappingReq:
						req := pdu.RemoveMappingReq
						if req == nil {
							return
						}
						logger.Info("bankd: remove mapping",
							slog.Any("client", req.Client), slog.Any("bank", req.Bank))
						fsm.Send(&rspro.PDU{
							Type: rspro.MsgRemoveMappingRes,
							RemoveMappingRes: &rspro.RemoveMappingRes{
								Result: rspro.ResultOk,
								Client: req.Client,
								Bank:   req.Bank,
							},
						})
					}
				},
			})

			go fsm.Run()
			fsm.Establish()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh

			logger.Info("bankd: shutting down")
			fsm.Close()
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "./config.yaml", "Path to configuration file")
	return cmd
}
