package config

import (
	"errors"
	"fmt"
	"net"

	"github.com/robfig/cron/v3"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateServer() error {
	if _, _, err := net.SplitHostPort(c.Server.Bind); err != nil {
		return fmt.Errorf("server.bind %q: %w", c.Server.Bind, err)
	}
	if c.Server.PublicHost != "" {
		if _, _, err := net.SplitHostPort(c.Server.PublicHost); err != nil {
			return fmt.Errorf("server.public_host %q: %w", c.Server.PublicHost, err)
		}
	}
	return nil
}

func (c *Config) validateQueue() error {
	if c.Queue.StaleAfterSeconds <= 0 {
		return errors.New("queue.stale_after_seconds must be positive")
	}
	if _, err := cron.ParseStandard(c.Queue.ReapSchedule); err != nil {
		return fmt.Errorf("queue.reap_schedule %q: %w", c.Queue.ReapSchedule, err)
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.DedupWindowSeconds < 0 {
		return errors.New("notifications.dedup_window_seconds must be >= 0")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format %q is not supported (use console or json)", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not supported", c.Logging.Level)
	}
	if c.Logging.RetentionRuns < 0 {
		return errors.New("logging.retention_runs must be >= 0")
	}
	return nil
}
