package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/good-yellow-bee/hostdeck/internal/notifier"
)

// Environment variables carrying secrets. They never live in the YAML file.
const (
	envMasterKey     = "HOSTDECK_MASTER_KEY"
	envJWTSecret     = "HOSTDECK_JWT_SECRET"
	envSMTPPassword  = "HOSTDECK_SMTP_PASSWORD"
	envRedisPassword = "HOSTDECK_REDIS_PASSWORD"

	minJWTSecretLen = 32
)

// Config is the server configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Queue         QueueConfig         `yaml:"queue"`
	Redis         RedisConfig         `yaml:"redis"`
	Deploy        DeployConfig        `yaml:"deploy"`
	Monitor       MonitorConfig       `yaml:"monitor"`
	Alerts        AlertsConfig        `yaml:"alerts"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Webhook       WebhookConfig       `yaml:"webhook"`
	Verbose       bool                `yaml:"verbose"`

	MasterKey string `yaml:"-"`
	JWTSecret string `yaml:"-"`
}

// ServerConfig holds listener settings.
type ServerConfig struct {
	HTTPAddress string `yaml:"http_address"`
	// MetricsAddress serves /metrics on a separate listener. Empty disables it.
	MetricsAddress     string        `yaml:"metrics_address"`
	TokenTTL           time.Duration `yaml:"token_ttl"`
	AdminRatePerMinute int           `yaml:"admin_rate_per_minute"`
	TLS                TLSConfig     `yaml:"tls"`
}

// TLSConfig holds TLS settings for the HTTP listener.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// QueueConfig selects the job queue backend and sizes the worker pool.
type QueueConfig struct {
	Backend      string        `yaml:"backend"` // database | redis
	Workers      int           `yaml:"workers"`
	PollInterval time.Duration `yaml:"poll_interval"`
	RetryAfter   time.Duration `yaml:"retry_after"` // minimum lease; jobs with a longer timeout keep theirs
	Queues       []string      `yaml:"queues"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DeployConfig configures the deployment engine.
type DeployConfig struct {
	KeyDir      string        `yaml:"key_dir"`
	HookTimeout time.Duration `yaml:"hook_timeout"`
	// AuditLog is a JSON lines file. Empty disables the audit trail.
	AuditLog string        `yaml:"audit_log"`
	Lock     string        `yaml:"lock"` // local | redis
	LockTTL  time.Duration `yaml:"lock_ttl"`
}

// MonitorConfig configures host sampling.
type MonitorConfig struct {
	Disabled       bool          `yaml:"disabled"`
	Interval       time.Duration `yaml:"interval"`
	RetentionHours int           `yaml:"retention_hours"`
	DiskPath       string        `yaml:"disk_path"`
	ProcPath       string        `yaml:"proc_path"`
	MySQLDSN       string        `yaml:"mysql_dsn"`
}

type AlertsConfig struct {
	RulesFile string `yaml:"rules_file"`
}

// NotificationsConfig configures alert delivery. Slack is always available;
// email needs an SMTP section.
type NotificationsConfig struct {
	SMTP      *notifier.EmailConfig    `yaml:"smtp"`
	RateLimit notifier.RateLimitConfig `yaml:"rate_limit"`
}

type WebhookConfig struct {
	RatePerMinute int `yaml:"rate_per_minute"`
}

// LoadConfig loads configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg.setDefaults()
	return cfg, nil
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

func (c *Config) setDefaults() {
	if c.Server.HTTPAddress == "" {
		c.Server.HTTPAddress = ":8080"
	}
	if c.Server.TokenTTL == 0 {
		c.Server.TokenTTL = 12 * time.Hour
	}
	if c.Server.AdminRatePerMinute == 0 {
		c.Server.AdminRatePerMinute = 300
	}
	if c.Database.Path == "" {
		c.Database.Path = "./data/hostdeck.db"
	}
	if c.Queue.Backend == "" {
		c.Queue.Backend = "database"
	}
	if c.Queue.Workers == 0 {
		c.Queue.Workers = 2
	}
	if c.Queue.PollInterval == 0 {
		c.Queue.PollInterval = time.Second
	}
	if c.Queue.RetryAfter == 0 {
		c.Queue.RetryAfter = 90 * time.Second
	}
	if len(c.Queue.Queues) == 0 {
		c.Queue.Queues = []string{"deployments", "monitoring", "default"}
	}
	if c.Redis.Address == "" {
		c.Redis.Address = "127.0.0.1:6379"
	}
	if c.Deploy.KeyDir == "" {
		c.Deploy.KeyDir = "./data/keys"
	}
	if c.Deploy.HookTimeout == 0 {
		c.Deploy.HookTimeout = 300 * time.Second
	}
	if c.Deploy.Lock == "" {
		c.Deploy.Lock = "local"
	}
	if c.Deploy.LockTTL == 0 {
		c.Deploy.LockTTL = 30 * time.Minute
	}
	if c.Monitor.Interval == 0 {
		c.Monitor.Interval = time.Minute
	}
	if c.Monitor.RetentionHours == 0 {
		c.Monitor.RetentionHours = 24
	}
	if c.Notifications.RateLimit.MaxPerWindow == 0 {
		c.Notifications.RateLimit = notifier.DefaultRateLimitConfig()
	}
	if c.Webhook.RatePerMinute == 0 {
		c.Webhook.RatePerMinute = 30
	}
}

// loadDotEnv reads a .env file into the environment when one exists.
// Variables already set in the environment win.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// applyEnv copies secrets from the environment into the config.
func (c *Config) applyEnv() {
	c.MasterKey = os.Getenv(envMasterKey)
	c.JWTSecret = os.Getenv(envJWTSecret)
	if v := os.Getenv(envRedisPassword); v != "" {
		c.Redis.Password = v
	}
	if c.Notifications.SMTP != nil {
		c.Notifications.SMTP.Password = os.Getenv(envSMTPPassword)
	}
}

// usesRedis reports whether any component needs a Redis connection.
func (c *Config) usesRedis() bool {
	return c.Queue.Backend == "redis" || c.Deploy.Lock == "redis"
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.MasterKey == "" {
		return fmt.Errorf("%s environment variable is required", envMasterKey)
	}
	if len(c.JWTSecret) < minJWTSecretLen {
		return fmt.Errorf("%s must be at least %d characters", envJWTSecret, minJWTSecretLen)
	}

	if c.Server.TLS.Enabled && (c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "") {
		return fmt.Errorf("server.tls requires cert_file and key_file")
	}
	if c.Server.MetricsAddress != "" && c.Server.MetricsAddress == c.Server.HTTPAddress {
		return fmt.Errorf("server.metrics_address must differ from server.http_address")
	}

	switch c.Queue.Backend {
	case "database", "redis":
	default:
		return fmt.Errorf("queue.backend must be database or redis, got %q", c.Queue.Backend)
	}
	if c.Queue.Workers < 1 {
		return fmt.Errorf("queue.workers must be at least 1")
	}
	if c.Queue.PollInterval < 0 || c.Queue.RetryAfter < 0 {
		return fmt.Errorf("queue durations must be positive")
	}

	switch c.Deploy.Lock {
	case "local", "redis":
	default:
		return fmt.Errorf("deploy.lock must be local or redis, got %q", c.Deploy.Lock)
	}
	if c.Deploy.HookTimeout < 0 || c.Deploy.LockTTL < 0 {
		return fmt.Errorf("deploy durations must be positive")
	}

	if c.Monitor.Interval < 0 || c.Monitor.RetentionHours < 0 {
		return fmt.Errorf("monitor interval and retention must be positive")
	}

	if c.Notifications.SMTP != nil {
		if err := c.Notifications.SMTP.Validate(); err != nil {
			return fmt.Errorf("notifications.smtp: %w", err)
		}
	}
	if c.Webhook.RatePerMinute < 0 {
		return fmt.Errorf("webhook.rate_per_minute must be positive")
	}

	return nil
}
