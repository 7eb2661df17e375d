// Package config loads the docsync YAML configuration file and applies
// environment-variable overrides, mirroring the reference implementation's
// load-once-at-startup approach.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Sides     SidesConfig     `yaml:"sides"`
	SyncRules SyncRulesConfig `yaml:"sync_rules"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Worker    WorkerConfig    `yaml:"worker"`
	Sweeper   SweeperConfig   `yaml:"sweeper"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Database  DatabaseConfig  `yaml:"database"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	EventSink EventSinkConfig `yaml:"event_sink"`
}

type SideConfig struct {
	URL       string `yaml:"url"`
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	Name      string `yaml:"name"`
}

type SidesConfig struct {
	Cloud SideConfig `yaml:"cloud"`
	Local SideConfig `yaml:"local"`
}

type SyncRulesConfig struct {
	Doctypes           []string `yaml:"doctypes"`
	ExcludeFields      []string `yaml:"exclude_fields"`
	ConflictResolution string   `yaml:"conflict_resolution"`
}

type WebhookConfig struct {
	Secret string `yaml:"secret"`
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
}

type WorkerConfig struct {
	PollIntervalSecs int `yaml:"poll_interval_secs"`
	BatchSize        int `yaml:"batch_size"`
	WatchdogSecs     int `yaml:"watchdog_secs"`
}

type SweeperConfig struct {
	Enabled      bool `yaml:"enabled"`
	IntervalSecs int  `yaml:"interval_secs"`
	Limit        int  `yaml:"limit"`
}

type RateLimitConfig struct {
	IPRPS     float64 `yaml:"ip_rps"`
	IPBurst   int     `yaml:"ip_burst"`
	SideRPS   float64 `yaml:"side_rps"`
	SideBurst int     `yaml:"side_burst"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	AutoTLS  bool   `yaml:"auto_tls"`
	Domain   string `yaml:"domain"`
	CacheDir string `yaml:"cache_dir"`
}

type ServerConfig struct {
	Address             string    `yaml:"address"`
	Port                int       `yaml:"port"`
	ShutdownTimeoutSecs int       `yaml:"shutdown_timeout_secs"`
	TLS                 TLSConfig `yaml:"tls"`
}

type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: info)
}

type KafkaSinkConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type NATSSinkConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

type RedisSinkConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Channel string `yaml:"channel"`
}

type AMQPSinkConfig struct {
	Enabled    bool   `yaml:"enabled"`
	URL        string `yaml:"url"`
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routing_key"`
}

type PostgresSinkConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ConnString string `yaml:"conn_string"`
	Table      string `yaml:"table"`
}

type ElasticsearchSinkConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Index   string `yaml:"index"`
}

type EventSinkConfig struct {
	QueueSize     int                     `yaml:"queue_size"`
	Workers       int                     `yaml:"workers"`
	Kafka         KafkaSinkConfig         `yaml:"kafka"`
	NATS          NATSSinkConfig          `yaml:"nats"`
	Redis         RedisSinkConfig         `yaml:"redis"`
	AMQP          AMQPSinkConfig          `yaml:"amqp"`
	Postgres      PostgresSinkConfig      `yaml:"postgres"`
	Elasticsearch ElasticsearchSinkConfig `yaml:"elasticsearch"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{
		SyncRules: SyncRulesConfig{
			ConflictResolution: "latest_timestamp",
		},
		Webhook: WebhookConfig{
			Host: "0.0.0.0",
			Port: 8787,
		},
		Worker: WorkerConfig{
			PollIntervalSecs: 2,
			BatchSize:        10,
			WatchdogSecs:     600,
		},
		Sweeper: SweeperConfig{
			IntervalSecs: 300,
			Limit:        500,
		},
		RateLimit: RateLimitConfig{
			IPRPS:     20,
			IPBurst:   40,
			SideRPS:   50,
			SideBurst: 100,
		},
		Database: DatabaseConfig{
			Path: "./docsync.db",
		},
		Server: ServerConfig{
			Address:             "0.0.0.0",
			Port:                8080,
			ShutdownTimeoutSecs: 30,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		EventSink: EventSinkConfig{
			QueueSize: 1024,
			Workers:   4,
		},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over YAML config values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DOCSYNC_CLOUD_URL"); v != "" {
		cfg.Sides.Cloud.URL = v
	}
	if v := os.Getenv("DOCSYNC_CLOUD_API_KEY"); v != "" {
		cfg.Sides.Cloud.APIKey = v
	}
	if v := os.Getenv("DOCSYNC_CLOUD_API_SECRET"); v != "" {
		cfg.Sides.Cloud.APISecret = v
	}
	if v := os.Getenv("DOCSYNC_LOCAL_URL"); v != "" {
		cfg.Sides.Local.URL = v
	}
	if v := os.Getenv("DOCSYNC_LOCAL_API_KEY"); v != "" {
		cfg.Sides.Local.APIKey = v
	}
	if v := os.Getenv("DOCSYNC_LOCAL_API_SECRET"); v != "" {
		cfg.Sides.Local.APISecret = v
	}
	if v := os.Getenv("DOCSYNC_WEBHOOK_SECRET"); v != "" {
		cfg.Webhook.Secret = v
	}
	if v := os.Getenv("DOCSYNC_WEBHOOK_HOST"); v != "" {
		cfg.Webhook.Host = v
	}
	if v := os.Getenv("DOCSYNC_WEBHOOK_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Webhook.Port = p
		}
	}
	if v := os.Getenv("DOCSYNC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("DOCSYNC_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.Port)
}

func (c *Config) WebhookAddr() string {
	return fmt.Sprintf("%s:%d", c.Webhook.Host, c.Webhook.Port)
}
