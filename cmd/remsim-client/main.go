// Package main provides the CLI entry point for remsim-client, a SIM-client
// emulator that dials an RSPRO server as a Client and logs the bank
// coordinates it is told to use.
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
		Use:     "remsim-client",
		Short:   "SIM-client emulator that dials an RSPRO server",
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
		Short: "Connect to the server and log bank reassignments",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			logger := logging.NewLogger(cfg.Log.Level, cfg.Log.Format)
			slot := rspro.ClientSlot{ClientID: cfg.Client.ClientID, SlotNr: cfg.Client.SlotNr}

			var fsm *clientconn.FSM
			fsm = clientconn.New(clientconn.Config{
				ServerAddr: cfg.Client.ServerAddr,
				Identity: rspro.Identity{
					Type:      rspro.ComponentClient,
					Name:      cfg.Client.Identity.Name,
					SWVersion: cfg.Client.Identity.SWVersion,
					HWVersion: cfg.Client.Identity.HWVersion,
				},
				ClientSlot: &slot,
				Logger:     logger,
				OnConnected: func() {
					logger.Info("client: connected", slog.String("server", cfg.Client.ServerAddr))
				},
				OnDisconnected: func() {
					logger.Warn("client: disconnected")
				},
				OnPDU: func(pdu *rspro.PDU) {
					if pdu.Type == rspro.MsgConfigClientBankReq && pdu.ConfigClientBankReq != nil {
						req := pdu.ConfigClientBankReq
						logger.Info("client: bank reassignment",
							slog.Any("bank_slot", req.Bank),
							slog.Uint64("ip", uint64(req.IP)),
							slog.Int("port", int(req.Port)))
						fsm.Send(&rspro.PDU{
							Type:                rspro.MsgConfigClientBankRes,
							ConfigClientBankRes: &rspro.ConfigClientBankRes{Result: rspro.ResultOk},
						})
					}
				},
			})

			go fsm.Run()
			fsm.Establish()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh

			logger.Info("client: shutting down")
			fsm.Close()
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "./config.yaml", "Path to configuration file")
	return cmd
}
