package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/benkietzman/centralmon/internal/config"
)

// writeTemp writes content to a temp file and returns its path.
func writeTemp(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "config-*.yaml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	f.Close()
	return f.Name()
}

const validServerYAML = `
listen_addr: ":4636"
status_addr: "127.0.0.1:7300"
tls:
  cert_path: "/etc/centralmon/server.crt"
  key_path:  "/etc/centralmon/server.key"
catalog_dsn: "postgres://centralmon@db/centralmon"
sync_interval: 60
gateway_url: "http://gateway.example.com:8080"
chat_room: "monitoring"
log_level: debug
`

func TestLoadServer_Valid(t *testing.T) {
	path := writeTemp(t, validServerYAML)
	cfg, err := config.LoadServer(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.ListenAddr != ":4636" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.StatusAddr != "127.0.0.1:7300" {
		t.Errorf("StatusAddr = %q", cfg.StatusAddr)
	}
	if cfg.TLS.CertPath != "/etc/centralmon/server.crt" {
		t.Errorf("TLS.CertPath = %q", cfg.TLS.CertPath)
	}
	if cfg.CatalogDSN != "postgres://centralmon@db/centralmon" {
		t.Errorf("CatalogDSN = %q", cfg.CatalogDSN)
	}
	if cfg.SyncInterval != 60 {
		t.Errorf("SyncInterval = %d, want 60", cfg.SyncInterval)
	}
	if cfg.ChatRoom != "monitoring" {
		t.Errorf("ChatRoom = %q", cfg.ChatRoom)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
}

func TestLoadServer_Defaults(t *testing.T) {
	yaml := `
tls:
  cert_path: "/etc/centralmon/server.crt"
  key_path:  "/etc/centralmon/server.key"
catalog_dsn: "postgres://centralmon@db/centralmon"
`
	path := writeTemp(t, yaml)
	cfg, err := config.LoadServer(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ListenAddr != ":4636" {
		t.Errorf("default ListenAddr = %q, want %q", cfg.ListenAddr, ":4636")
	}
	if cfg.StatusAddr != "127.0.0.1:7234" {
		t.Errorf("default StatusAddr = %q, want %q", cfg.StatusAddr, "127.0.0.1:7234")
	}
	if cfg.SyncInterval != 300 {
		t.Errorf("default SyncInterval = %d, want 300", cfg.SyncInterval)
	}
	if cfg.ChatRoom != "operations" {
		t.Errorf("default ChatRoom = %q, want %q", cfg.ChatRoom, "operations")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("default LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
}

func TestLoadServer_MissingCatalogDSN(t *testing.T) {
	yaml := `
tls:
  cert_path: "/etc/centralmon/server.crt"
  key_path:  "/etc/centralmon/server.key"
`
	path := writeTemp(t, yaml)
	_, err := config.LoadServer(path)
	if err == nil {
		t.Fatal("expected error for missing catalog_dsn, got nil")
	}
	if !strings.Contains(err.Error(), "catalog_dsn") {
		t.Errorf("error %q does not mention catalog_dsn", err.Error())
	}
}

func TestLoadServer_MissingCertPath(t *testing.T) {
	yaml := `
tls:
  key_path: "/etc/centralmon/server.key"
catalog_dsn: "postgres://centralmon@db/centralmon"
`
	path := writeTemp(t, yaml)
	_, err := config.LoadServer(path)
	if err == nil {
		t.Fatal("expected error for missing tls.cert_path, got nil")
	}
	if !strings.Contains(err.Error(), "cert_path") {
		t.Errorf("error %q does not mention cert_path", err.Error())
	}
}

func TestLoadServer_InvalidLogLevel(t *testing.T) {
	yaml := `
tls:
  cert_path: "/etc/centralmon/server.crt"
  key_path:  "/etc/centralmon/server.key"
catalog_dsn: "postgres://centralmon@db/centralmon"
log_level: "verbose"
`
	path := writeTemp(t, yaml)
	_, err := config.LoadServer(path)
	if err == nil {
		t.Fatal("expected error for invalid log_level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error %q does not mention log_level", err.Error())
	}
}

const validAgentYAML = `
server_addr: "monitor.example.com:4636"
ca_path: "/etc/centralmon/ca.crt"
hostname: "web01"
journal_path: "/tmp/journal.db"
reconnect_interval: 30
log_level: warn
`

func TestLoadAgent_Valid(t *testing.T) {
	path := writeTemp(t, validAgentYAML)
	cfg, err := config.LoadAgent(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ServerAddr != "monitor.example.com:4636" {
		t.Errorf("ServerAddr = %q", cfg.ServerAddr)
	}
	if cfg.CAPath != "/etc/centralmon/ca.crt" {
		t.Errorf("CAPath = %q", cfg.CAPath)
	}
	if cfg.Hostname != "web01" {
		t.Errorf("Hostname = %q", cfg.Hostname)
	}
	if cfg.JournalPath != "/tmp/journal.db" {
		t.Errorf("JournalPath = %q", cfg.JournalPath)
	}
	if cfg.ReconnectInterval != 30 {
		t.Errorf("ReconnectInterval = %d, want 30", cfg.ReconnectInterval)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "warn")
	}
}

func TestLoadAgent_Defaults(t *testing.T) {
	path := writeTemp(t, `server_addr: "monitor.example.com:4636"`)
	cfg, err := config.LoadAgent(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.JournalPath != "/var/lib/centralmon/journal.db" {
		t.Errorf("default JournalPath = %q", cfg.JournalPath)
	}
	if cfg.ReconnectInterval != 300 {
		t.Errorf("default ReconnectInterval = %d, want 300", cfg.ReconnectInterval)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("default LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
}

func TestLoadAgent_MissingServerAddr(t *testing.T) {
	path := writeTemp(t, `log_level: info`)
	_, err := config.LoadAgent(path)
	if err == nil {
		t.Fatal("expected error for missing server_addr, got nil")
	}
	if !strings.Contains(err.Error(), "server_addr") {
		t.Errorf("error %q does not mention server_addr", err.Error())
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	missingPath := filepath.Join(t.TempDir(), "nonexistent.yaml")
	if _, err := config.LoadServer(missingPath); err == nil {
		t.Fatal("expected error for missing server config file, got nil")
	}
	if _, err := config.LoadAgent(missingPath); err == nil {
		t.Fatal("expected error for missing agent config file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeTemp(t, ":::invalid yaml:::")
	if _, err := config.LoadServer(path); err == nil {
		t.Fatal("expected error for invalid YAML, got nil")
	}
}
