package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeServer()
	c.normalizeQueue()
	c.normalizeStore()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.AttachmentDir) == "" {
		c.Paths.AttachmentDir = defaultAttachmentDir
	}
	if c.Paths.AttachmentDir, err = expandPath(c.Paths.AttachmentDir); err != nil {
		return fmt.Errorf("paths.attachment_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeServer() {
	c.Server.Bind = strings.TrimSpace(c.Server.Bind)
	if c.Server.Bind == "" {
		c.Server.Bind = defaultBind
	}
	c.Server.PublicHost = strings.TrimSpace(c.Server.PublicHost)
	c.Server.APIToken = strings.TrimSpace(c.Server.APIToken)
	if c.Server.APIToken == "" {
		if value, ok := os.LookupEnv("OZONASSIST_API_TOKEN"); ok {
			c.Server.APIToken = strings.TrimSpace(value)
		}
	}
	origins := c.Server.AllowedOrigins[:0]
	for _, origin := range c.Server.AllowedOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	c.Server.AllowedOrigins = origins
	if c.Server.MaxUploadMiB <= 0 {
		c.Server.MaxUploadMiB = defaultMaxUploadMiB
	}
	if c.Server.EventBufferSize <= 0 {
		c.Server.EventBufferSize = defaultEventBufferSize
	}
}

func (c *Config) normalizeQueue() {
	c.Queue.ReapSchedule = strings.TrimSpace(c.Queue.ReapSchedule)
	if c.Queue.ReapSchedule == "" {
		c.Queue.ReapSchedule = defaultReapSchedule
	}
}

func (c *Config) normalizeStore() {
	if c.Store.BusyTimeoutMillis <= 0 {
		c.Store.BusyTimeoutMillis = defaultBusyTimeoutMillis
	}
	if c.Store.CacheKiB < 0 {
		c.Store.CacheKiB = defaultCacheKiB
	}
	if c.Attachments.ImportWorkers <= 0 {
		c.Attachments.ImportWorkers = defaultImportWorkers
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("OZONASSIST_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
