package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/good-yellow-bee/hostdeck/internal/notifier"
)

const testJWTSecret = "0123456789abcdef0123456789abcdef"

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.MasterKey = "master-key"
	cfg.JWTSecret = testJWTSecret
	return cfg
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.HTTPAddress != ":8080" {
		t.Errorf("HTTPAddress = %q, want :8080", cfg.Server.HTTPAddress)
	}
	if cfg.Queue.Backend != "database" {
		t.Errorf("Queue.Backend = %q, want database", cfg.Queue.Backend)
	}
	if cfg.Queue.RetryAfter != 90*time.Second {
		t.Errorf("Queue.RetryAfter = %v, want 90s", cfg.Queue.RetryAfter)
	}
	if cfg.Deploy.Lock != "local" {
		t.Errorf("Deploy.Lock = %q, want local", cfg.Deploy.Lock)
	}
	if cfg.Monitor.Disabled {
		t.Error("monitoring should be enabled by default")
	}
	if cfg.Notifications.RateLimit.MaxPerWindow == 0 {
		t.Error("notification rate limit not defaulted")
	}
	if cfg.usesRedis() {
		t.Error("default config should not need redis")
	}
}

func TestLoadConfig(t *testing.T) {
	path := writeFile(t, "hostdeck.yaml", `
server:
  http_address: ":9090"
  metrics_address: "127.0.0.1:9100"
queue:
  backend: redis
  workers: 4
  poll_interval: 500ms
redis:
  address: "redis:6379"
  db: 2
deploy:
  lock: redis
  hook_timeout: 2m
monitor:
  interval: 30s
  mysql_dsn: "monitor:secret@tcp(127.0.0.1:3306)/"
alerts:
  rules_file: /etc/hostdeck/alerts.yaml
notifications:
  smtp:
    host: smtp.example.com
    port: 587
    from: alerts@example.com
webhook:
  rate_per_minute: 10
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Server.HTTPAddress != ":9090" {
		t.Errorf("HTTPAddress = %q", cfg.Server.HTTPAddress)
	}
	if cfg.Queue.Backend != "redis" || cfg.Queue.Workers != 4 {
		t.Errorf("Queue = %+v", cfg.Queue)
	}
	if cfg.Queue.PollInterval != 500*time.Millisecond {
		t.Errorf("PollInterval = %v, want 500ms", cfg.Queue.PollInterval)
	}
	if cfg.Redis.Address != "redis:6379" || cfg.Redis.DB != 2 {
		t.Errorf("Redis = %+v", cfg.Redis)
	}
	if cfg.Deploy.HookTimeout != 2*time.Minute {
		t.Errorf("HookTimeout = %v, want 2m", cfg.Deploy.HookTimeout)
	}
	if cfg.Deploy.LockTTL != 30*time.Minute {
		t.Errorf("LockTTL = %v, want default 30m", cfg.Deploy.LockTTL)
	}
	if cfg.Monitor.Interval != 30*time.Second {
		t.Errorf("Monitor.Interval = %v", cfg.Monitor.Interval)
	}
	if cfg.Notifications.SMTP == nil || cfg.Notifications.SMTP.Host != "smtp.example.com" {
		t.Errorf("SMTP = %+v", cfg.Notifications.SMTP)
	}
	if cfg.Webhook.RatePerMinute != 10 {
		t.Errorf("RatePerMinute = %d", cfg.Webhook.RatePerMinute)
	}
	if !cfg.usesRedis() {
		t.Error("redis backend should need redis")
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	path := writeFile(t, "bad.yaml", "server: [unclosed")
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected error for malformed yaml")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(envMasterKey, "from-env")
	t.Setenv(envJWTSecret, testJWTSecret)
	t.Setenv(envSMTPPassword, "smtp-pass")
	t.Setenv(envRedisPassword, "redis-pass")

	cfg := validConfig()
	path := writeFile(t, "smtp.yaml", "notifications:\n  smtp:\n    host: mail\n    port: 465\n    from: a@b.c\n")
	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	cfg.Notifications = loaded.Notifications
	cfg.applyEnv()

	if cfg.MasterKey != "from-env" {
		t.Errorf("MasterKey = %q", cfg.MasterKey)
	}
	if cfg.Redis.Password != "redis-pass" {
		t.Errorf("Redis.Password = %q", cfg.Redis.Password)
	}
	if cfg.Notifications.SMTP.Password != "smtp-pass" {
		t.Errorf("SMTP.Password = %q", cfg.Notifications.SMTP.Password)
	}
}

func TestLoadDotEnv(t *testing.T) {
	if err := loadDotEnv(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Fatalf("missing .env should be ignored: %v", err)
	}

	t.Setenv(envMasterKey, "")
	os.Unsetenv(envMasterKey)
	path := writeFile(t, ".env", envMasterKey+"=dotenv-key\n")
	if err := loadDotEnv(path); err != nil {
		t.Fatalf("loadDotEnv: %v", err)
	}
	if got := os.Getenv(envMasterKey); got != "dotenv-key" {
		t.Errorf("%s = %q, want dotenv-key", envMasterKey, got)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing master key", func(c *Config) { c.MasterKey = "" }, envMasterKey},
		{"short jwt secret", func(c *Config) { c.JWTSecret = "short" }, envJWTSecret},
		{"tls without files", func(c *Config) { c.Server.TLS.Enabled = true }, "cert_file"},
		{"metrics on api port", func(c *Config) { c.Server.MetricsAddress = c.Server.HTTPAddress }, "metrics_address"},
		{"unknown backend", func(c *Config) { c.Queue.Backend = "rabbit" }, "queue.backend"},
		{"no workers", func(c *Config) { c.Queue.Workers = -1 }, "queue.workers"},
		{"unknown lock", func(c *Config) { c.Deploy.Lock = "etcd" }, "deploy.lock"},
		{"negative hook timeout", func(c *Config) { c.Deploy.HookTimeout = -time.Second }, "deploy durations"},
		{"incomplete smtp", func(c *Config) { c.Notifications.SMTP = &notifier.EmailConfig{Host: "smtp", Port: 25} }, "notifications.smtp"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tc.wantErr)
			}
		})
	}
}
