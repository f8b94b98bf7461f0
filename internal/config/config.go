package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
}

// Server contains the web UI and JSON API settings.
type Server struct {
	Bind                 string `toml:"bind"`
	APIToken             string `toml:"api_token"`
	MaxUploadMiB         int    `toml:"max_upload_mib"`
	SessionTTLMinutes    int    `toml:"session_ttl_minutes"`
	SweepIntervalSeconds int    `toml:"sweep_interval_seconds"`
}

// Vision contains connection settings for the hosted multimodal model.
type Vision struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	Prompt         string `toml:"prompt"`
	MaxTokens      int    `toml:"max_tokens"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	Referer        string `toml:"referer"`
	Title          string `toml:"title"`
}

// Image controls how uploaded photos are reduced before detection and storage.
type Image struct {
	MaxWidth      int `toml:"max_width"`
	JPEGQuality   int `toml:"jpeg_quality"`
	MaxMegapixels int `toml:"max_megapixels"`
}

// MaxPixels is the largest decoded image area accepted for a photo.
func (i Image) MaxPixels() int64 {
	return int64(i.MaxMegapixels) * 1_000_000
}

// Store selects and configures the document store backend.
type Store struct {
	Backend              string `toml:"backend"`
	MongoURI             string `toml:"mongo_uri"`
	MongoDatabase        string `toml:"mongo_database"`
	PlacementsCollection string `toml:"placements_collection"`
	SessionsCollection   string `toml:"sessions_collection"`
	DetectionsCollection string `toml:"detections_collection"`
}

// Tracker contains settings for timing and progress reporting.
type Tracker struct {
	Timezone     string  `toml:"timezone"`
	GoalHours    float64 `toml:"goal_hours"`
	HistoryLimit int     `toml:"history_limit"`
	Locale       string  `toml:"locale"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for tenk.
//
// Configuration sections by subsystem:
//   - Paths: data (sqlite, lock file) and log directories
//   - Server: bind address, API token, upload and session limits
//   - Vision: hosted multimodal model endpoint and prompt
//   - Image: photo reduction before detection
//   - Store: sqlite or mongo backend selection
//   - Tracker: timezone, goal hours, history size
//   - Logging: log format, level, and retention
type Config struct {
	Paths   Paths   `toml:"paths"`
	Server  Server  `toml:"server"`
	Vision  Vision  `toml:"vision"`
	Image   Image   `toml:"image"`
	Store   Store   `toml:"store"`
	Tracker Tracker `toml:"tracker"`
	Logging Logging `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/tenk/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("tenk.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the sqlite database location inside the data directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "tenk.db")
}

// LockPath returns the daemon single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "tenkd.lock")
}

// Location loads the tracker timezone. Validate guarantees it resolves.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Tracker.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// MaxUploadBytes converts the configured upload limit to bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.Server.MaxUploadMiB) << 20
}

// SessionTTL returns how long a non-terminal session may sit idle before the sweeper abandons it.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Server.SessionTTLMinutes) * time.Minute
}

// SweepInterval returns the stale-session sweeper period.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Server.SweepIntervalSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o600); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Redacted returns a copy safe to print: secrets are masked.
func (c Config) Redacted() Config {
	mask := func(value string) string {
		if strings.TrimSpace(value) == "" {
			return ""
		}
		return "********"
	}
	c.Vision.APIKey = mask(c.Vision.APIKey)
	c.Server.APIToken = mask(c.Server.APIToken)
	c.Store.MongoURI = mask(c.Store.MongoURI)
	return c
}

// Marshal renders the configuration as TOML.
func (c Config) Marshal() ([]byte, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}
