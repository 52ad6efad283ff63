// Package config provides configuration parsing and validation for
// remsim-core's server, client and bankd processes.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration document, shared by all three processes;
// each reads only the sections relevant to its role.
type Config struct {
	Log    LogConfig    `yaml:"log"`
	Server ServerConfig `yaml:"server"`
	Client ClientConfig `yaml:"client"`
	Bankd  BankdConfig  `yaml:"bankd"`
	Admin  AdminConfig  `yaml:"admin"`
}

// LogConfig controls structured logging output shared across all roles.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is one of text or json.
	Format string `yaml:"format"`
}

// ServerConfig configures remsim-serverd.
type ServerConfig struct {
	// ListenAddr is the address the server accepts client and bank
	// connections on, e.g. ":9999".
	ListenAddr string `yaml:"listen_addr"`

	// Identity is the (name, sw_version, hw_version) tuple the server
	// presents to every peer during handshake.
	Identity IdentityConfig `yaml:"identity"`

	// AcceptRatePerSec and AcceptBurst bound how fast the accept loop
	// admits new TCP connections.
	AcceptRatePerSec float64 `yaml:"accept_rate_per_sec"`
	AcceptBurst      int     `yaml:"accept_burst"`

	Keepalive KeepaliveConfig `yaml:"keepalive"`
}

// ClientConfig configures remsim-client.
type ClientConfig struct {
	ServerAddr string         `yaml:"server_addr"`
	Identity   IdentityConfig `yaml:"identity"`

	// ClientID and SlotNr together form the ClientSlot this instance
	// claims on handshake. Dynamic allocation is not supported.
	ClientID uint16 `yaml:"client_id"`
	SlotNr   uint16 `yaml:"slot_nr"`

	Reconnect ReconnectConfig `yaml:"reconnect"`
	Keepalive KeepaliveConfig `yaml:"keepalive"`
}

// BankdConfig configures remsim-bankd.
type BankdConfig struct {
	ServerAddr string         `yaml:"server_addr"`
	Identity   IdentityConfig `yaml:"identity"`

	BankID   uint16 `yaml:"bank_id"`
	NumSlots uint16 `yaml:"num_slots"`

	// ListenAddr is read from the config file but nothing uses it:
	// remsim-bankd opens no listener, and the server tells clients to dial
	// its fixed bank port (9999) whatever this value is.
	ListenAddr string `yaml:"listen_addr"`

	Reconnect ReconnectConfig `yaml:"reconnect"`
	Keepalive KeepaliveConfig `yaml:"keepalive"`
}

// AdminConfig configures the admin HTTP surface exposed by remsim-serverd
// and consumed by remsimctl.
type AdminConfig struct {
	// ListenAddr is the Unix-domain-socket path the admin HTTP surface
	// listens on, e.g. "./data/remsim-control.sock". Empty disables the
	// admin surface.
	ListenAddr string `yaml:"listen_addr"`
}

// IdentityConfig is the user-facing form of rspro.Identity.
type IdentityConfig struct {
	Name      string `yaml:"name"`
	SWVersion string `yaml:"sw_version"`
	HWVersion string `yaml:"hw_version"`
}

// ReconnectConfig holds a tail delay for the backoff schedule. It is parsed
// from the config file, but no process reads it: the backoff package always
// uses its own fixed tail delay. The schedule's shape (the three immediate
// retries and the doubling steps) is fixed by protocol and not configurable.
type ReconnectConfig struct {
	// TailDelay is the steady-state delay once the schedule is exhausted.
	TailDelay time.Duration `yaml:"tail_delay"`
}

// KeepaliveConfig holds PING/PONG supervisor timing. It is parsed from the
// config file, but no process reads it: the supervisors always run with
// keepalive.DefaultInterval and keepalive.DefaultTimeout.
type KeepaliveConfig struct {
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Default returns a Config with default values for every field.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			ListenAddr:       ":9999",
			Identity:         IdentityConfig{Name: "remsim-serverd", SWVersion: "dev"},
			AcceptRatePerSec: 50,
			AcceptBurst:      10,
			Keepalive:        defaultKeepalive(),
		},
		Client: ClientConfig{
			ServerAddr: "127.0.0.1:9999",
			Identity:   IdentityConfig{Name: "remsim-client", SWVersion: "dev"},
			Reconnect:  defaultReconnect(),
			Keepalive:  defaultKeepalive(),
		},
		Bankd: BankdConfig{
			ServerAddr: "127.0.0.1:9999",
			Identity:   IdentityConfig{Name: "remsim-bankd", SWVersion: "dev"},
			ListenAddr: ":9998",
			NumSlots:   8,
			Reconnect:  defaultReconnect(),
			Keepalive:  defaultKeepalive(),
		},
		Admin: AdminConfig{
			ListenAddr: "./data/remsim-control.sock",
		},
	}
}

func defaultKeepalive() KeepaliveConfig {
	return KeepaliveConfig{Interval: 30 * time.Second, Timeout: 10 * time.Second}
}

func defaultReconnect() ReconnectConfig {
	return ReconnectConfig{TailDelay: 16 * time.Second}
}

// Marshal renders cfg as YAML, for the init wizard to write to disk.
func Marshal(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses configuration from YAML bytes, starting from Default and
// overlaying whatever the document sets.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// envVarRegex matches ${VAR} and ${VAR:-default} references.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		name := match[2 : len(match)-1]
		if idx := strings.Index(name, ":-"); idx != -1 {
			varName, defaultVal := name[:idx], name[idx+2:]
			if val, ok := os.LookupEnv(varName); ok {
				return val
			}
			return defaultVal
		}
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}

// Validate checks the configuration for internal consistency. It does not
// require every role's section to be fully populated: each process reads
// only the section its role uses, so config.Load is shared across all
// three without forcing an all-sections file.
func (c *Config) Validate() error {
	var errs []string

	if !isValidLogLevel(c.Log.Level) {
		errs = append(errs, fmt.Sprintf("invalid log.level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}
	if !isValidLogFormat(c.Log.Format) {
		errs = append(errs, fmt.Sprintf("invalid log.format: %s (must be text or json)", c.Log.Format))
	}

	if c.Server.AcceptRatePerSec < 0 {
		errs = append(errs, "server.accept_rate_per_sec must be >= 0")
	}
	if c.Server.Keepalive.Interval <= 0 || c.Server.Keepalive.Timeout <= 0 {
		errs = append(errs, "server.keepalive.interval and .timeout must be positive")
	}

	if c.Client.Keepalive.Interval <= 0 || c.Client.Keepalive.Timeout <= 0 {
		errs = append(errs, "client.keepalive.interval and .timeout must be positive")
	}

	if c.Bankd.NumSlots == 0 {
		errs = append(errs, "bankd.num_slots must be > 0")
	}
	if c.Bankd.Keepalive.Interval <= 0 || c.Bankd.Keepalive.Timeout <= 0 {
		errs = append(errs, "bankd.keepalive.interval and .timeout must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func isValidLogFormat(format string) bool {
	switch format {
	case "text", "json":
		return true
	default:
		return false
	}
}
