package main

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tenk/internal/api"
	"tenk/internal/config"
	"tenk/internal/daemonrun"
	"tenk/internal/vision"
)

// uploadTimeoutMargin covers the upload itself and the daemon's own work
// around detection.
const uploadTimeoutMargin = 30 * time.Second

type commandContext struct {
	serverFlag *string
	tokenFlag  *string
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(serverFlag, tokenFlag, configFlag *string) *commandContext {
	return &commandContext{
		serverFlag: serverFlag,
		tokenFlag:  tokenFlag,
		configFlag: configFlag,
	}
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

func (c *commandContext) configPath() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

// serverURL resolves the daemon address: --server wins, then server.bind.
// Wildcard binds are dialled on loopback.
func (c *commandContext) serverURL() (string, error) {
	if c.serverFlag != nil && strings.TrimSpace(*c.serverFlag) != "" {
		return strings.TrimSpace(*c.serverFlag), nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return "", err
	}
	host, port, err := net.SplitHostPort(cfg.Server.Bind)
	if err != nil {
		return "", fmt.Errorf("server.bind %q: %w", cfg.Server.Bind, err)
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port), nil
}

func (c *commandContext) token() string {
	if c.tokenFlag != nil && strings.TrimSpace(*c.tokenFlag) != "" {
		return strings.TrimSpace(*c.tokenFlag)
	}
	if cfg, err := c.ensureConfig(); err == nil {
		return cfg.Server.APIToken
	}
	return ""
}

// location is tracker.timezone, or the machine zone when no config loads.
func (c *commandContext) location() *time.Location {
	if cfg, err := c.ensureConfig(); err == nil {
		return cfg.Location()
	}
	return time.Local
}

func (c *commandContext) withClient(fn func(*api.Client) error) error {
	return c.withHTTPClient(nil, fn)
}

// withUploadClient waits long enough for the daemon to finish every vision
// attempt of a photo detection before giving up on the response.
func (c *commandContext) withUploadClient(fn func(*api.Client) error) error {
	budget := vision.Budget(0)
	if cfg, err := c.ensureConfig(); err == nil {
		budget = daemonrun.DetectionBudget(cfg)
	}
	return c.withHTTPClient(&http.Client{Timeout: budget + uploadTimeoutMargin}, fn)
}

func (c *commandContext) withHTTPClient(httpClient *http.Client, fn func(*api.Client) error) error {
	base, err := c.serverURL()
	if err != nil {
		return err
	}
	client := api.NewClient(base, c.token(), httpClient)
	if err := fn(client); err != nil {
		return wrapDialError(err, client.BaseURL())
	}
	return nil
}

func wrapDialError(err error, address string) error {
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return fmt.Errorf("connect to daemon: %s refused the connection; start it with `tenk serve` or tenkd", address)
	case api.IsStatus(err, http.StatusUnauthorized):
		return fmt.Errorf("daemon rejected the request: set --token or server.api_token")
	default:
		return err
	}
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
