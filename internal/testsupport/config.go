package testsupport

import (
	"path/filepath"
	"testing"

	"tenk/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Server.Bind = "127.0.0.1:0"
	cfgVal.Tracker.Timezone = "UTC"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// WithVisionKey sets the vision API key and endpoint on the test config.
func WithVisionKey(key, baseURL string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Vision.APIKey = key
		if baseURL != "" {
			b.cfg.Vision.BaseURL = baseURL
		}
	}
}

// WithAPIToken requires bearer authentication on the JSON API.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Server.APIToken = token
	}
}

// WithGoalHours overrides the progress goal.
func WithGoalHours(hours float64) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Tracker.GoalHours = hours
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}

// WithTimezone sets tracker.timezone.
func WithTimezone(name string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Tracker.Timezone = name
	}
}
