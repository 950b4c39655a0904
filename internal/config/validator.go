package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

func ValidDrivers() []string {
	return []string{DriverSQLite, DriverRedis}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError

	if !slices.Contains(ValidLogLevels(), c.Logger.Level) {
		errs = append(errs, ValidationError{"logger.level", c.Logger.Level, "must be one of " + strings.Join(ValidLogLevels(), ", ")})
	}
	if c.Logger.Encoding != "console" && c.Logger.Encoding != "json" {
		errs = append(errs, ValidationError{"logger.encoding", c.Logger.Encoding, "must be console or json"})
	}

	if !slices.Contains(ValidDrivers(), c.Store.Driver) {
		errs = append(errs, ValidationError{"store.driver", c.Store.Driver, "must be one of " + strings.Join(ValidDrivers(), ", ")})
	}
	if c.Store.Timeout < 0 {
		errs = append(errs, ValidationError{"store.timeout", c.Store.Timeout, "must not be negative"})
	}
	if c.Workflow.MaxRetries < 0 {
		errs = append(errs, ValidationError{"workflow.max_retries", c.Workflow.MaxRetries, "must not be negative"})
	}

	switch c.Store.Driver {
	case DriverSQLite:
		if c.SQLite.Path == "" {
			errs = append(errs, ValidationError{"sqlite.path", c.SQLite.Path, "is required"})
		}
		if c.SQLite.AutoSnapshot && c.SQLite.SnapshotPath == "" {
			errs = append(errs, ValidationError{"sqlite.snapshot_path", c.SQLite.SnapshotPath, "is required when auto_snapshot is on"})
		}
	case DriverRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, ValidationError{"redis.addr", c.Redis.Addr, "is required"})
		}
		if c.Redis.DB < 0 {
			errs = append(errs, ValidationError{"redis.db", c.Redis.DB, "must not be negative"})
		}
	}

	if c.Events.Enabled {
		if u, err := url.Parse(c.Events.AMQPURL); err != nil || (u.Scheme != "amqp" && u.Scheme != "amqps") {
			errs = append(errs, ValidationError{"events.amqp_url", c.Events.AMQPURL, "must be an amqp:// or amqps:// URL"})
		}
		if c.Events.Exchange == "" {
			errs = append(errs, ValidationError{"events.exchange", c.Events.Exchange, "is required"})
		}
	}

	return errs
}
