package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// envOverrides lists the environment variables that take precedence over the
// config file. Every variable that is set wins over the file value. Within a
// group of aliases the first set variable wins.
type envOverrides struct {
	VisionAPIKey     string `env:"TENK_VISION_API_KEY"`
	OpenRouterAPIKey string `env:"OPENROUTER_API_KEY"`
	OpenAIAPIKey     string `env:"OPENAI_API_KEY"`
	VisionModel      string `env:"TENK_VISION_MODEL"`
	MongoURI         string `env:"TENK_MONGO_URI"`
	LegacyMongoURI   string `env:"MONGO_URI"`
	StoreBackend     string `env:"TENK_STORE_BACKEND"`
	APIToken         string `env:"TENK_API_TOKEN"`
	Bind             string `env:"TENK_BIND"`
	Timezone         string `env:"TENK_TIMEZONE"`
	LogLevel         string `env:"TENK_LOG_LEVEL"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	var overrides envOverrides
	if err := ParseEnv(&overrides); err != nil {
		return err
	}

	if value := firstNonEmpty(overrides.VisionAPIKey, overrides.OpenRouterAPIKey, overrides.OpenAIAPIKey); value != "" {
		c.Vision.APIKey = value
	}
	if value := strings.TrimSpace(overrides.VisionModel); value != "" {
		c.Vision.Model = value
	}
	if value := firstNonEmpty(overrides.MongoURI, overrides.LegacyMongoURI); value != "" {
		c.Store.MongoURI = value
	}
	if value := strings.TrimSpace(overrides.StoreBackend); value != "" {
		c.Store.Backend = value
	}
	if value := strings.TrimSpace(overrides.APIToken); value != "" {
		c.Server.APIToken = value
	}
	if value := strings.TrimSpace(overrides.Bind); value != "" {
		c.Server.Bind = value
	}
	if value := strings.TrimSpace(overrides.Timezone); value != "" {
		c.Tracker.Timezone = value
	}
	if value := strings.TrimSpace(overrides.LogLevel); value != "" {
		c.Logging.Level = value
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
