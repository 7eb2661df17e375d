package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoad_Defaults(t *testing.T) {
	p := writeConfig(t, "server:\n  port: 9090\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port: got %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.Address != "0.0.0.0" {
		t.Errorf("address: got %q, want 0.0.0.0", cfg.Server.Address)
	}
	if cfg.Database.Path != "./docsync.db" {
		t.Errorf("database path: got %q, want ./docsync.db", cfg.Database.Path)
	}
	if cfg.Worker.WatchdogSecs != 600 {
		t.Errorf("watchdog: got %d, want 600", cfg.Worker.WatchdogSecs)
	}
	if cfg.SyncRules.ConflictResolution != "latest_timestamp" {
		t.Errorf("conflict resolution: got %q, want latest_timestamp", cfg.SyncRules.ConflictResolution)
	}
	if cfg.Server.ShutdownTimeoutSecs != 30 {
		t.Errorf("shutdown timeout: got %d, want 30", cfg.Server.ShutdownTimeoutSecs)
	}
}

func TestLoad_EmptyFile(t *testing.T) {
	p := writeConfig(t, "")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("default port: got %d, want 8080", cfg.Server.Port)
	}
	if cfg.Webhook.Port != 8787 {
		t.Errorf("default webhook port: got %d, want 8787", cfg.Webhook.Port)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	p := writeConfig(t, "{{invalid yaml}}")
	_, err := Load(p)
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoad_NonexistentFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestListenAddr(t *testing.T) {
	cfg := Config{Server: ServerConfig{Address: "127.0.0.1", Port: 8080}}
	if got := cfg.ListenAddr(); got != "127.0.0.1:8080" {
		t.Errorf("ListenAddr: got %q, want 127.0.0.1:8080", got)
	}
}

func TestWebhookAddr(t *testing.T) {
	cfg := Config{Webhook: WebhookConfig{Host: "0.0.0.0", Port: 8787}}
	if got := cfg.WebhookAddr(); got != "0.0.0.0:8787" {
		t.Errorf("WebhookAddr: got %q, want 0.0.0.0:8787", got)
	}
}

func TestLoad_OverrideDefaults(t *testing.T) {
	yaml := `
sides:
  cloud:
    url: "https://cloud.example.com"
    api_key: "ckey"
    api_secret: "csecret"
    name: "cloud"
  local:
    url: "http://local.internal:8000"
    api_key: "lkey"
    api_secret: "lsecret"
    name: "local"
sync_rules:
  doctypes: ["Customer", "Sales Order"]
  conflict_resolution: cloud_wins
server:
  address: "192.168.1.1"
  port: 3000
webhook:
  secret: "whsec"
  port: 9001
event_sink:
  kafka:
    enabled: true
    brokers: ["localhost:9092"]
    topic: "sync-events"
`
	p := writeConfig(t, yaml)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Sides.Cloud.URL != "https://cloud.example.com" {
		t.Errorf("cloud url: got %q", cfg.Sides.Cloud.URL)
	}
	if cfg.SyncRules.ConflictResolution != "cloud_wins" {
		t.Errorf("conflict resolution: got %q", cfg.SyncRules.ConflictResolution)
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("port: got %d", cfg.Server.Port)
	}
	if cfg.Webhook.Port != 9001 {
		t.Errorf("webhook port: got %d", cfg.Webhook.Port)
	}
	if !cfg.EventSink.Kafka.Enabled || cfg.EventSink.Kafka.Topic != "sync-events" {
		t.Errorf("kafka sink: got %+v", cfg.EventSink.Kafka)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	p := writeConfig(t, "sides:\n  cloud:\n    url: \"https://original.example.com\"\n")
	t.Setenv("DOCSYNC_CLOUD_URL", "https://overridden.example.com")
	t.Setenv("DOCSYNC_LOG_LEVEL", "debug")

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Sides.Cloud.URL != "https://overridden.example.com" {
		t.Errorf("cloud url override: got %q", cfg.Sides.Cloud.URL)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level override: got %q", cfg.Logging.Level)
	}
}
