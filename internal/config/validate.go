package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/language"
)

// Validate ensures the configuration is usable. A missing vision API key is
// not an error here: the CLI can browse history without one, and the daemon
// checks RequireVision before serving detections.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateVision(); err != nil {
		return err
	}
	if err := c.validateImage(); err != nil {
		return err
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateTracker(); err != nil {
		return err
	}
	return nil
}

// RequireVision reports a descriptive error when the vision endpoint cannot be called.
func (c *Config) RequireVision() error {
	if strings.TrimSpace(c.Vision.APIKey) == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/tenk/config.toml"
		}
		return fmt.Errorf("vision.api_key is required. Set OPENAI_API_KEY (or OPENROUTER_API_KEY) or edit %s (create with 'tenk config init')", defaultPath)
	}
	return nil
}

func (c *Config) validateServer() error {
	if strings.TrimSpace(c.Server.Bind) == "" {
		return errors.New("server.bind must be set")
	}
	return ensurePositiveMap(map[string]int{
		"server.max_upload_mib":         c.Server.MaxUploadMiB,
		"server.session_ttl_minutes":    c.Server.SessionTTLMinutes,
		"server.sweep_interval_seconds": c.Server.SweepIntervalSeconds,
	})
}

func (c *Config) validateVision() error {
	if !strings.HasPrefix(c.Vision.BaseURL, "http://") && !strings.HasPrefix(c.Vision.BaseURL, "https://") {
		return fmt.Errorf("vision.base_url must be an http(s) URL, got %q", c.Vision.BaseURL)
	}
	if c.Vision.MaxTokens > 16384 {
		return errors.New("vision.max_tokens must be at most 16384")
	}
	return ensurePositiveMap(map[string]int{
		"vision.max_tokens":      c.Vision.MaxTokens,
		"vision.timeout_seconds": c.Vision.TimeoutSeconds,
	})
}

func (c *Config) validateImage() error {
	if c.Image.MaxWidth < 32 {
		return errors.New("image.max_width must be at least 32")
	}
	if c.Image.JPEGQuality < 1 || c.Image.JPEGQuality > 100 {
		return errors.New("image.jpeg_quality must be between 1 and 100")
	}
	if c.Image.MaxMegapixels < 1 || c.Image.MaxMegapixels > 1000 {
		return errors.New("image.max_megapixels must be between 1 and 1000")
	}
	return nil
}

func (c *Config) validateStore() error {
	switch c.Store.Backend {
	case "sqlite":
	case "mongo":
		if c.Store.MongoURI == "" {
			return errors.New("store.mongo_uri must be set when store.backend is mongo (or set MONGO_URI)")
		}
	default:
		return fmt.Errorf("store.backend: unsupported value %q (expected sqlite or mongo)", c.Store.Backend)
	}
	return nil
}

func (c *Config) validateTracker() error {
	if _, err := time.LoadLocation(c.Tracker.Timezone); err != nil {
		return fmt.Errorf("tracker.timezone: %w", err)
	}
	if c.Tracker.GoalHours <= 0 {
		return errors.New("tracker.goal_hours must be positive")
	}
	if c.Tracker.HistoryLimit > 500 {
		return errors.New("tracker.history_limit must be at most 500")
	}
	if _, err := language.Parse(c.Tracker.Locale); err != nil {
		return fmt.Errorf("tracker.locale: %w", err)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
