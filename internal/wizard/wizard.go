// Package wizard implements the interactive `init` command: a huh-driven
// form that asks which role this instance plays (server, client, bankd) and
// writes a starter YAML config via internal/config.
package wizard

import (
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/remsim-project/remsim-core/internal/config"
)

var (
	bannerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	hintStyle   = lipgloss.NewStyle().Faint(true)
)

// Result is the wizard's output: the fully-formed config and where it was
// written.
type Result struct {
	Config     *config.Config
	ConfigPath string
}

// Wizard drives the interactive config-authoring form.
type Wizard struct{}

// New creates a setup wizard.
func New() *Wizard {
	return &Wizard{}
}

// Run executes the interactive wizard and writes the resulting config.
func (w *Wizard) Run() (*Result, error) {
	fmt.Println(bannerStyle.Render("remsim-core setup"))
	fmt.Println(hintStyle.Render("Configure one role of a remote-SIM deployment."))
	fmt.Println()

	cfg := config.Default()

	var role string
	var configPath = "./config.yaml"

	roleForm := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title("Which role is this instance?").
			Options(
				huh.NewOption("Server (remsim-serverd)", "server"),
				huh.NewOption("Client (remsim-client)", "client"),
				huh.NewOption("Bank (remsim-bankd)", "bankd"),
			).
			Value(&role),
		huh.NewInput().
			Title("Config file path").
			Value(&configPath).
			Placeholder("./config.yaml").
			Validate(func(s string) error {
				if s == "" {
					return fmt.Errorf("config path is required")
				}
				return nil
			}),
	))
	if err := roleForm.Run(); err != nil {
		return nil, err
	}

	switch role {
	case "server":
		if err := askServer(cfg); err != nil {
			return nil, err
		}
	case "client":
		if err := askClient(cfg); err != nil {
			return nil, err
		}
	case "bankd":
		if err := askBankd(cfg); err != nil {
			return nil, err
		}
	}

	if err := askAdmin(cfg); err != nil {
		return nil, err
	}
	if err := askLogging(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("generated config is invalid: %w", err)
	}

	if err := writeConfig(cfg, configPath); err != nil {
		return nil, err
	}

	fmt.Println()
	fmt.Println(bannerStyle.Render("Wrote " + configPath))
	return &Result{Config: cfg, ConfigPath: configPath}, nil
}

func askServer(cfg *config.Config) error {
	return huh.NewForm(huh.NewGroup(
		huh.NewInput().Title("Listen address").Value(&cfg.Server.ListenAddr),
		huh.NewInput().Title("Identity name").Value(&cfg.Server.Identity.Name),
	)).Run()
}

func askClient(cfg *config.Config) error {
	var clientID, slotNr string
	clientID = strconv.Itoa(int(cfg.Client.ClientID))
	slotNr = strconv.Itoa(int(cfg.Client.SlotNr))

	err := huh.NewForm(huh.NewGroup(
		huh.NewInput().Title("Server address").Value(&cfg.Client.ServerAddr),
		huh.NewInput().Title("Identity name").Value(&cfg.Client.Identity.Name),
		huh.NewInput().Title("Client ID").Value(&clientID).Validate(validateUint16),
		huh.NewInput().Title("Slot number").Value(&slotNr).Validate(validateUint16),
	)).Run()
	if err != nil {
		return err
	}
	cfg.Client.ClientID = mustUint16(clientID)
	cfg.Client.SlotNr = mustUint16(slotNr)
	return nil
}

func askBankd(cfg *config.Config) error {
	var bankID, numSlots string
	bankID = strconv.Itoa(int(cfg.Bankd.BankID))
	numSlots = strconv.Itoa(int(cfg.Bankd.NumSlots))

	err := huh.NewForm(huh.NewGroup(
		huh.NewInput().Title("Server address").Value(&cfg.Bankd.ServerAddr),
		huh.NewInput().Title("Listen address for clients").Value(&cfg.Bankd.ListenAddr),
		huh.NewInput().Title("Identity name").Value(&cfg.Bankd.Identity.Name),
		huh.NewInput().Title("Bank ID").Value(&bankID).Validate(validateUint16),
		huh.NewInput().Title("Number of slots").Value(&numSlots).Validate(validateUint16),
	)).Run()
	if err != nil {
		return err
	}
	cfg.Bankd.BankID = mustUint16(bankID)
	cfg.Bankd.NumSlots = mustUint16(numSlots)
	return nil
}

func askAdmin(cfg *config.Config) error {
	var enable = cfg.Admin.ListenAddr != ""
	err := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().Title("Enable admin control surface?").Value(&enable),
	)).Run()
	if err != nil {
		return err
	}
	if !enable {
		cfg.Admin.ListenAddr = ""
		return nil
	}
	return huh.NewForm(huh.NewGroup(
		huh.NewInput().Title("Admin control socket path").Value(&cfg.Admin.ListenAddr),
	)).Run()
}

func askLogging(cfg *config.Config) error {
	return huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title("Log level").
			Options(
				huh.NewOption("debug", "debug"),
				huh.NewOption("info", "info"),
				huh.NewOption("warn", "warn"),
				huh.NewOption("error", "error"),
			).
			Value(&cfg.Log.Level),
		huh.NewSelect[string]().
			Title("Log format").
			Options(
				huh.NewOption("text", "text"),
				huh.NewOption("json", "json"),
			).
			Value(&cfg.Log.Format),
	)).Run()
}

func validateUint16(s string) error {
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return fmt.Errorf("must be a number between 0 and 65535")
	}
	_ = n
	return nil
}

func mustUint16(s string) uint16 {
	n, _ := strconv.ParseUint(s, 10, 16)
	return uint16(n)
}

func writeConfig(cfg *config.Config, path string) error {
	data, err := config.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
