package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Store.Driver != DriverSQLite {
		t.Errorf("Store.Driver = %q, want %q", cfg.Store.Driver, DriverSQLite)
	}
	if cfg.Store.Timeout != 5*time.Second {
		t.Errorf("Store.Timeout = %v, want 5s", cfg.Store.Timeout)
	}
	if cfg.Workflow.MaxRetries != 5 {
		t.Errorf("Workflow.MaxRetries = %d, want 5", cfg.Workflow.MaxRetries)
	}
	if cfg.SQLite.Path != filepath.Join(".taskflow", "taskflow.db") {
		t.Errorf("SQLite.Path = %q", cfg.SQLite.Path)
	}
	if cfg.Events.Enabled {
		t.Error("Events.Enabled should be false by default")
	}
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("Default config should be valid, got %v", errs)
	}
}

func TestLoad(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	path := filepath.Join(dir, "taskflow.yaml")
	content := `
logger:
  level: debug
store:
  driver: redis
  timeout: 2s
redis:
  addr: redis:6379
  prefix: "tf:"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	t.Setenv("TASKFLOW_WORKFLOW_MAX_RETRIES", "9")

	if err := Init(path); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Logger.Level != "debug" {
		t.Errorf("Logger.Level = %q, want debug", cfg.Logger.Level)
	}
	if cfg.Store.Driver != DriverRedis || cfg.Store.Timeout != 2*time.Second {
		t.Errorf("Store = %+v", cfg.Store)
	}
	if cfg.Redis.Addr != "redis:6379" || cfg.Redis.Prefix != "tf:" {
		t.Errorf("Redis = %+v", cfg.Redis)
	}
	if cfg.Workflow.MaxRetries != 9 {
		t.Errorf("Workflow.MaxRetries = %d, want 9 from env", cfg.Workflow.MaxRetries)
	}
	if cfg.HTTP.Addr != ":8000" {
		t.Errorf("HTTP.Addr = %q, want default", cfg.HTTP.Addr)
	}
}

func TestLoadWithoutFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Chdir(t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if err := Init(""); err != nil {
		t.Fatalf("Init without a config file failed: %v", err)
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.MCP.Name != "taskflow" {
		t.Errorf("MCP.Name = %q, want taskflow", cfg.MCP.Name)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad level", func(c *Config) { c.Logger.Level = "loud" }, "logger.level"},
		{"bad encoding", func(c *Config) { c.Logger.Encoding = "xml" }, "logger.encoding"},
		{"bad driver", func(c *Config) { c.Store.Driver = "postgres" }, "store.driver"},
		{"negative retries", func(c *Config) { c.Workflow.MaxRetries = -1 }, "workflow.max_retries"},
		{"missing sqlite path", func(c *Config) { c.SQLite.Path = "" }, "sqlite.path"},
		{"missing redis addr", func(c *Config) {
			c.Store.Driver = DriverRedis
			c.Redis.Addr = ""
		}, "redis.addr"},
		{"bad amqp url", func(c *Config) {
			c.Events.Enabled = true
			c.Events.AMQPURL = "http://broker"
		}, "events.amqp_url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			errs := cfg.Validate()
			if len(errs) != 1 {
				t.Fatalf("Expected 1 error, got %v", errs)
			}
			if errs[0].Field != tt.field {
				t.Errorf("Field = %q, want %q", errs[0].Field, tt.field)
			}
		})
	}
}

func TestValidationErrors(t *testing.T) {
	errs := ValidationErrors{
		{Field: "a", Value: 1, Message: "bad"},
		{Field: "b", Value: 2, Message: "worse"},
	}
	msg := errs.Error()
	if !strings.HasPrefix(msg, "2 validation errors") || !strings.Contains(msg, "b: worse (got: 2)") {
		t.Errorf("Unexpected message: %q", msg)
	}

	var err error = errs
	var target ValidationErrors
	if !errors.As(err, &target) || len(target) != 2 {
		t.Errorf("errors.As failed for ValidationErrors")
	}
}
