package config

const (
	defaultDataDir              = "~/.local/share/tenk"
	defaultLogDir               = "~/.local/share/tenk/logs"
	defaultBind                 = "127.0.0.1:7510"
	defaultMaxUploadMiB         = 10
	defaultSessionTTLMinutes    = 720
	defaultSweepIntervalSeconds = 60
	defaultVisionBaseURL        = "https://api.openai.com/v1/chat/completions"
	defaultVisionModel          = "gpt-4o"
	defaultVisionPrompt         = "Detect only visible objects. Return a clear list, no extra context."
	defaultVisionMaxTokens      = 300
	defaultVisionTimeoutSeconds = 60
	defaultVisionTitle          = "tenk"
	defaultImageMaxWidth        = 600
	defaultImageJPEGQuality     = 85
	defaultImageMaxMegapixels   = 50
	defaultStoreBackend         = "sqlite"
	defaultMongoDatabase        = "proyecto_10k"
	defaultPlacementsCollection = "ubicaciones"
	defaultSessionsCollection   = "sesiones"
	defaultDetectionsCollection = "detecciones"
	defaultTimezone             = "America/Bogota"
	defaultGoalHours            = 10000
	defaultHistoryLimit         = 10
	defaultLocale               = "es"
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultLogRetentionDays     = 30
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		Server: Server{
			Bind:                 defaultBind,
			MaxUploadMiB:         defaultMaxUploadMiB,
			SessionTTLMinutes:    defaultSessionTTLMinutes,
			SweepIntervalSeconds: defaultSweepIntervalSeconds,
		},
		Vision: Vision{
			BaseURL:        defaultVisionBaseURL,
			Model:          defaultVisionModel,
			Prompt:         defaultVisionPrompt,
			MaxTokens:      defaultVisionMaxTokens,
			TimeoutSeconds: defaultVisionTimeoutSeconds,
			Title:          defaultVisionTitle,
		},
		Image: Image{
			MaxWidth:      defaultImageMaxWidth,
			JPEGQuality:   defaultImageJPEGQuality,
			MaxMegapixels: defaultImageMaxMegapixels,
		},
		Store: Store{
			Backend:              defaultStoreBackend,
			MongoDatabase:        defaultMongoDatabase,
			PlacementsCollection: defaultPlacementsCollection,
			SessionsCollection:   defaultSessionsCollection,
			DetectionsCollection: defaultDetectionsCollection,
		},
		Tracker: Tracker{
			Timezone:     defaultTimezone,
			GoalHours:    defaultGoalHours,
			HistoryLimit: defaultHistoryLimit,
			Locale:       defaultLocale,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
