package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"ozonassist/internal/client"
	"ozonassist/internal/config"
)

type commandContext struct {
	serverFlag *string
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(serverFlag, configFlag *string) *commandContext {
	return &commandContext{
		serverFlag: serverFlag,
		configFlag: configFlag,
	}
}

func (c *commandContext) configPath() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, _, _, err := config.Load(c.configPath())
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

func (c *commandContext) serverURL() string {
	if c.serverFlag != nil {
		if value := strings.TrimSpace(*c.serverFlag); value != "" {
			return strings.TrimRight(value, "/")
		}
	}
	if cfg := c.configValue(); cfg != nil {
		return cfg.PublicBaseURL()
	}
	defaults := config.Default()
	return defaults.PublicBaseURL()
}

func (c *commandContext) client() *client.Client {
	return client.New(c.serverURL(), c.apiToken(), 30*time.Second)
}

func (c *commandContext) apiToken() string {
	if cfg := c.configValue(); cfg != nil {
		return cfg.Server.APIToken
	}
	return strings.TrimSpace(os.Getenv("OZONASSIST_API_TOKEN"))
}

// wrapDialError turns connection failures into a hint to start the daemon.
func wrapDialError(err error, server string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Errorf("connect to daemon: %s refused the connection; start it with `ozonassist daemon`", server)
	}
	return err
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
