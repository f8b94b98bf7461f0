package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeServer()
	c.normalizeVision()
	c.normalizeImage()
	c.normalizeStore()
	c.normalizeTracker()
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
	return nil
}

func (c *Config) normalizeServer() {
	c.Server.Bind = strings.TrimSpace(c.Server.Bind)
	if c.Server.Bind == "" {
		c.Server.Bind = defaultBind
	}
	c.Server.APIToken = strings.TrimSpace(c.Server.APIToken)
	if c.Server.MaxUploadMiB <= 0 {
		c.Server.MaxUploadMiB = defaultMaxUploadMiB
	}
	if c.Server.SessionTTLMinutes <= 0 {
		c.Server.SessionTTLMinutes = defaultSessionTTLMinutes
	}
	if c.Server.SweepIntervalSeconds <= 0 {
		c.Server.SweepIntervalSeconds = defaultSweepIntervalSeconds
	}
}

func (c *Config) normalizeVision() {
	c.Vision.APIKey = strings.TrimSpace(c.Vision.APIKey)
	c.Vision.BaseURL = strings.TrimSpace(c.Vision.BaseURL)
	if c.Vision.BaseURL == "" {
		c.Vision.BaseURL = defaultVisionBaseURL
	}
	c.Vision.Model = strings.TrimSpace(c.Vision.Model)
	if c.Vision.Model == "" {
		c.Vision.Model = defaultVisionModel
	}
	c.Vision.Prompt = strings.TrimSpace(c.Vision.Prompt)
	if c.Vision.Prompt == "" {
		c.Vision.Prompt = defaultVisionPrompt
	}
	if c.Vision.MaxTokens <= 0 {
		c.Vision.MaxTokens = defaultVisionMaxTokens
	}
	if c.Vision.TimeoutSeconds <= 0 {
		c.Vision.TimeoutSeconds = defaultVisionTimeoutSeconds
	}
	c.Vision.Referer = strings.TrimSpace(c.Vision.Referer)
	c.Vision.Title = strings.TrimSpace(c.Vision.Title)
	if c.Vision.Title == "" {
		c.Vision.Title = defaultVisionTitle
	}
}

func (c *Config) normalizeImage() {
	if c.Image.MaxWidth <= 0 {
		c.Image.MaxWidth = defaultImageMaxWidth
	}
	if c.Image.JPEGQuality <= 0 {
		c.Image.JPEGQuality = defaultImageJPEGQuality
	}
	if c.Image.MaxMegapixels <= 0 {
		c.Image.MaxMegapixels = defaultImageMaxMegapixels
	}
}

func (c *Config) normalizeStore() {
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	if c.Store.Backend == "" {
		c.Store.Backend = defaultStoreBackend
	}
	c.Store.MongoURI = strings.TrimSpace(c.Store.MongoURI)
	c.Store.MongoDatabase = strings.TrimSpace(c.Store.MongoDatabase)
	if c.Store.MongoDatabase == "" {
		c.Store.MongoDatabase = defaultMongoDatabase
	}
	c.Store.PlacementsCollection = strings.TrimSpace(c.Store.PlacementsCollection)
	if c.Store.PlacementsCollection == "" {
		c.Store.PlacementsCollection = defaultPlacementsCollection
	}
	c.Store.SessionsCollection = strings.TrimSpace(c.Store.SessionsCollection)
	if c.Store.SessionsCollection == "" {
		c.Store.SessionsCollection = defaultSessionsCollection
	}
	c.Store.DetectionsCollection = strings.TrimSpace(c.Store.DetectionsCollection)
	if c.Store.DetectionsCollection == "" {
		c.Store.DetectionsCollection = defaultDetectionsCollection
	}
}

func (c *Config) normalizeTracker() {
	c.Tracker.Timezone = strings.TrimSpace(c.Tracker.Timezone)
	if c.Tracker.Timezone == "" {
		c.Tracker.Timezone = defaultTimezone
	}
	if c.Tracker.GoalHours <= 0 {
		c.Tracker.GoalHours = defaultGoalHours
	}
	if c.Tracker.HistoryLimit <= 0 {
		c.Tracker.HistoryLimit = defaultHistoryLimit
	}
	c.Tracker.Locale = strings.TrimSpace(c.Tracker.Locale)
	if c.Tracker.Locale == "" {
		c.Tracker.Locale = defaultLocale
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
