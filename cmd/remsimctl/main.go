// Package main provides remsimctl, a CLI for the admin control surface
// exposed by remsim-serverd over its Unix socket.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/remsim-project/remsim-core/internal/control"
	"github.com/remsim-project/remsim-core/internal/rspro"
)

var version = "dev"

func main() {
	var socketPath string

	root := &cobra.Command{
		Use:     "remsimctl",
		Short:   "Admin CLI for remsim-serverd",
		Version: version,
	}
	root.PersistentFlags().StringVar(&socketPath, "socket", "./data/remsim-control.sock", "Admin control socket path")

	root.AddCommand(statusCmd(&socketPath))
	root.AddCommand(peersCmd(&socketPath))
	root.AddCommand(mappingsCmd(&socketPath))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func statusCmd(socketPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show server identity, uptime and peer counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := control.NewClient(*socketPath)
			defer c.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			st, err := c.Status(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("identity:  %s\n", st.Identity)
			fmt.Printf("uptime:    %s\n", humanize.RelTime(time.Now().Add(-time.Duration(st.UptimeSecs)*time.Second), time.Now(), "", ""))
			fmt.Printf("clients:   %d\n", st.ClientsUp)
			fmt.Printf("banks:     %d\n", st.BanksUp)
			return nil
		},
	}
}

func peersCmd(socketPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "peers",
		Short: "List connected peers",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := control.NewClient(*socketPath)
			defer c.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			resp, err := c.Peers(ctx)
			if err != nil {
				return err
			}
			if len(resp.Peers) == 0 {
				fmt.Println("no peers connected")
				return nil
			}
			for _, p := range resp.Peers {
				fmt.Printf("%-24s %s\n", p.Identity, p.State)
			}
			return nil
		},
	}
}

func mappingsCmd(socketPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mappings",
		Short: "List live slot mappings",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := control.NewClient(*socketPath)
			defer c.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			resp, err := c.Mappings(ctx)
			if err != nil {
				return err
			}
			if len(resp.Mappings) == 0 {
				fmt.Println("no mappings")
				return nil
			}
			for _, m := range resp.Mappings {
				fmt.Printf("%-10s <-> %-10s %s\n", m.Bank.String(), m.Client.String(), m.State)
			}
			return nil
		},
	}
	cmd.AddCommand(mappingsAddCmd(socketPath))
	cmd.AddCommand(mappingsRmCmd(socketPath))
	return cmd
}

func mappingsAddCmd(socketPath *string) *cobra.Command {
	var bankID, bankSlot, clientID, clientSlot uint16

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a mapping between a bank slot and a client slot",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := control.NewClient(*socketPath)
			defer c.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			return c.AddMapping(ctx, control.AddMappingRequest{
				Bank:   rspro.BankSlot{BankID: bankID, SlotNr: bankSlot},
				Client: rspro.ClientSlot{ClientID: clientID, SlotNr: clientSlot},
			})
		},
	}
	cmd.Flags().Uint16Var(&bankID, "bank-id", 0, "Bank ID")
	cmd.Flags().Uint16Var(&bankSlot, "bank-slot", 0, "Bank slot number")
	cmd.Flags().Uint16Var(&clientID, "client-id", 0, "Client ID")
	cmd.Flags().Uint16Var(&clientSlot, "client-slot", 0, "Client slot number")
	return cmd
}

func mappingsRmCmd(socketPath *string) *cobra.Command {
	var bank, client string

	cmd := &cobra.Command{
		Use:   "rm",
		Short: "Remove a mapping, identified by either its bank or its client slot",
		Long:  "Identify the mapping to remove with --bank <bank-id>:<slot> or --client <client-id>:<slot>.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (bank == "") == (client == "") {
				return fmt.Errorf("exactly one of --bank or --client must be set")
			}

			c := control.NewClient(*socketPath)
			defer c.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			req := control.RemoveMappingRequest{}
			if bank != "" {
				slot, err := parseSlotPair(bank)
				if err != nil {
					return fmt.Errorf("--bank: %w", err)
				}
				bs := rspro.BankSlot{BankID: slot[0], SlotNr: slot[1]}
				req.Bank = &bs
			} else {
				slot, err := parseSlotPair(client)
				if err != nil {
					return fmt.Errorf("--client: %w", err)
				}
				cs := rspro.ClientSlot{ClientID: slot[0], SlotNr: slot[1]}
				req.Client = &cs
			}
			return c.RemoveMapping(ctx, req)
		},
	}
	cmd.Flags().StringVar(&bank, "bank", "", "Bank slot as <bank-id>:<slot>")
	cmd.Flags().StringVar(&client, "client", "", "Client slot as <client-id>:<slot>")
	return cmd
}

// parseSlotPair parses "<id>:<slot>" into a [id, slot] uint16 pair.
func parseSlotPair(s string) ([2]uint16, error) {
	var out [2]uint16
	var idPart, slotPart string
	for i, c := range s {
		if c == ':' {
			idPart, slotPart = s[:i], s[i+1:]
			break
		}
	}
	if idPart == "" || slotPart == "" {
		return out, fmt.Errorf("expected <id>:<slot>, got %q", s)
	}
	id, err := strconv.ParseUint(idPart, 10, 16)
	if err != nil {
		return out, fmt.Errorf("invalid id: %w", err)
	}
	slot, err := strconv.ParseUint(slotPart, 10, 16)
	if err != nil {
		return out, fmt.Errorf("invalid slot: %w", err)
	}
	out[0], out[1] = uint16(id), uint16(slot)
	return out, nil
}
