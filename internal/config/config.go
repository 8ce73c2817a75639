// Package config provides YAML configuration loading and validation for the
// centralmon aggregator and agent.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ServerConfig is the top-level configuration for the centralmond
// aggregator.
type ServerConfig struct {
	// ListenAddr is the address the monitor port binds to (agents, query
	// clients, and operator tooling all connect here). Defaults to ":4636".
	ListenAddr string `yaml:"listen_addr"`

	// StatusAddr is the listen address for the HTTP status API. Defaults to
	// "127.0.0.1:7234".
	StatusAddr string `yaml:"status_addr"`

	// TLS holds the server certificate and key presented to agents.
	// Required.
	TLS TLSConfig `yaml:"tls"`

	// CatalogDSN is the PostgreSQL connection string for the monitoring
	// catalog (e.g. "postgres://centralmon@db/centralmon"). Required.
	CatalogDSN string `yaml:"catalog_dsn"`

	// SyncInterval is how often, in seconds, host records are refreshed from
	// the catalog. Defaults to 300.
	SyncInterval int `yaml:"sync_interval"`

	// GatewayURL is the base URL of the messaging gateway used for chat,
	// email, and pager delivery. Notifications are disabled when empty.
	GatewayURL string `yaml:"gateway_url"`

	// ChatRoom is the chat room alarm announcements are posted to. Defaults
	// to "operations".
	ChatRoom string `yaml:"chat_room"`

	// JWTPublicKeyPath is the path to a PEM-encoded RSA public key used to
	// verify bearer tokens on the status API. Authentication is disabled
	// when empty.
	JWTPublicKeyPath string `yaml:"jwt_public_key_path"`

	// LogLevel sets the minimum log severity: "debug", "info", "warn", or
	// "error". Defaults to "info" when omitted.
	LogLevel string `yaml:"log_level"`
}

// AgentConfig is the top-level configuration for the centralmon agent.
type AgentConfig struct {
	// ServerAddr is the host:port of the centralmond aggregator. Required.
	ServerAddr string `yaml:"server_addr"`

	// CAPath is the path to a PEM-encoded CA certificate used to verify the
	// aggregator. The system roots are used when empty.
	CAPath string `yaml:"ca_path"`

	// Hostname overrides the name the agent registers under. Defaults to the
	// operating system hostname.
	Hostname string `yaml:"hostname"`

	// JournalPath is the SQLite file recording remediation script runs.
	// Defaults to "/var/lib/centralmon/journal.db".
	JournalPath string `yaml:"journal_path"`

	// ReconnectInterval caps, in seconds, the exponential backoff applied
	// between reconnection attempts after a lost server connection.
	// Defaults to 300.
	ReconnectInterval int `yaml:"reconnect_interval"`

	// LogLevel sets the minimum log severity: "debug", "info", "warn", or
	// "error". Defaults to "info" when omitted.
	LogLevel string `yaml:"log_level"`
}

// TLSConfig holds certificate and key paths.
type TLSConfig struct {
	// CertPath is the path to the PEM-encoded server certificate. Required.
	CertPath string `yaml:"cert_path"`

	// KeyPath is the path to the PEM-encoded private key. Required.
	KeyPath string `yaml:"key_path"`
}

// validLogLevels is the set of accepted log level strings.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// LoadServer reads the YAML file at path, unmarshals it into ServerConfig,
// applies defaults, and validates all required fields.
func LoadServer(path string) (*ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: cannot read %q: %w", path, err)
	}

	var cfg ServerConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: cannot parse %q: %w", path, err)
	}

	applyServerDefaults(&cfg)

	if err := validateServer(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed for %q: %w", path, err)
	}
	return &cfg, nil
}

// LoadAgent reads the YAML file at path, unmarshals it into AgentConfig,
// applies defaults, and validates all required fields.
func LoadAgent(path string) (*AgentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: cannot read %q: %w", path, err)
	}

	var cfg AgentConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: cannot parse %q: %w", path, err)
	}

	applyAgentDefaults(&cfg)

	if err := validateAgent(&cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed for %q: %w", path, err)
	}
	return &cfg, nil
}

// applyServerDefaults fills in zero-value optional fields.
func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":4636"
	}
	if cfg.StatusAddr == "" {
		cfg.StatusAddr = "127.0.0.1:7234"
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = 300
	}
	if cfg.ChatRoom == "" {
		cfg.ChatRoom = "operations"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

// applyAgentDefaults fills in zero-value optional fields.
func applyAgentDefaults(cfg *AgentConfig) {
	if cfg.JournalPath == "" {
		cfg.JournalPath = "/var/lib/centralmon/journal.db"
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 300
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

// validateServer checks required fields and enumerated values.
func validateServer(cfg *ServerConfig) error {
	var errs []error

	if cfg.TLS.CertPath == "" {
		errs = append(errs, errors.New("tls.cert_path is required"))
	}
	if cfg.TLS.KeyPath == "" {
		errs = append(errs, errors.New("tls.key_path is required"))
	}
	if cfg.CatalogDSN == "" {
		errs = append(errs, errors.New("catalog_dsn is required"))
	}
	if !validLogLevels[cfg.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level %q must be one of: debug, info, warn, error", cfg.LogLevel))
	}

	return errors.Join(errs...)
}

// validateAgent checks required fields and enumerated values.
func validateAgent(cfg *AgentConfig) error {
	var errs []error

	if cfg.ServerAddr == "" {
		errs = append(errs, errors.New("server_addr is required"))
	}
	if !validLogLevels[cfg.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level %q must be one of: debug, info, warn, error", cfg.LogLevel))
	}

	return errors.Join(errs...)
}
