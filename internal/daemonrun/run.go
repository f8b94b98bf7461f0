package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"tenk/internal/config"
	"tenk/internal/daemon"
	"tenk/internal/imaging"
	"tenk/internal/logging"
	"tenk/internal/store"
	"tenk/internal/tracker"
	"tenk/internal/vision"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	Version     string
}

// Run starts the tenk daemon and blocks until SIGINT/SIGTERM, cancellation of
// cmdCtx, or a fatal server error.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	level := cfg.Logging.Level
	if strings.TrimSpace(opts.LogLevel) != "" {
		level = opts.LogLevel
	}
	logPath := filepath.Join(cfg.Paths.LogDir, logging.LogFileName)
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", logPath},
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	logConfigSnapshot(logger, cfg)

	st, err := store.Open(signalCtx, cfg)
	if err != nil {
		logging.WarnWithHint(logger, "open store failed", "check store.backend and store.mongo_uri", logging.Error(err))
		return err
	}

	detector := NewDetector(cfg)
	var trackerDetector tracker.Detector
	visionModel := ""
	if detector != nil {
		trackerDetector = detector
		visionModel = detector.Model()
	} else {
		logging.WarnWithHint(logger, "vision detector disabled", "set vision.api_key or TENK_VISION_API_KEY to enable photo detection")
	}

	service := NewService(cfg, st, trackerDetector, logger)
	d, err := daemon.New(cfg, st, service, logger, daemon.Options{
		Version:         opts.Version,
		VisionModel:     visionModel,
		DetectionBudget: DetectionBudget(cfg),
	})
	if err != nil {
		_ = st.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logger.Error("daemon start failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_start_failed"),
			logging.String(logging.FieldErrorHint, "check server.bind and that no other tenkd holds the lock"),
		)
		return err
	}

	// The pid file belongs to whichever process holds the daemon lock.
	pidPath := filepath.Join(cfg.Paths.DataDir, "tenkd.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	if err := d.Wait(); err != nil {
		logger.Error("daemon stopped with error", logging.Error(err))
		return err
	}
	logger.Info("tenk daemon shutting down")
	return nil
}

// NewDetector builds the vision client, or nil when no API key is configured.
func NewDetector(cfg *config.Config) *vision.Client {
	if cfg == nil || cfg.RequireVision() != nil {
		return nil
	}
	return vision.NewClient(vision.Config{
		APIKey:         cfg.Vision.APIKey,
		BaseURL:        cfg.Vision.BaseURL,
		Model:          cfg.Vision.Model,
		Prompt:         cfg.Vision.Prompt,
		MaxTokens:      cfg.Vision.MaxTokens,
		Referer:        cfg.Vision.Referer,
		Title:          cfg.Vision.Title,
		TimeoutSeconds: cfg.Vision.TimeoutSeconds,
		Locale:         cfg.Tracker.Locale,
	})
}

// DetectionBudget is the longest one photo detection may take with the
// configured vision timeout and retries.
func DetectionBudget(cfg *config.Config) time.Duration {
	return vision.Budget(time.Duration(cfg.Vision.TimeoutSeconds) * time.Second)
}

// PhotoOptions derives the upload reduction settings from config.
func PhotoOptions(cfg *config.Config) imaging.Options {
	return imaging.Options{
		MaxBytes:  cfg.MaxUploadBytes(),
		MaxPixels: cfg.Image.MaxPixels(),
		MaxWidth:  cfg.Image.MaxWidth,
		Quality:   cfg.Image.JPEGQuality,
	}
}

// NewService wires a tracker service from config.
func NewService(cfg *config.Config, st tracker.Store, detector tracker.Detector, logger *slog.Logger) *tracker.Service {
	return tracker.NewService(st, detector, tracker.Options{
		Photo:        PhotoOptions(cfg),
		GoalHours:    cfg.Tracker.GoalHours,
		HistoryLimit: cfg.Tracker.HistoryLimit,
		Logger:       logger,
	})
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logConfigSnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	logger.Info("config snapshot",
		logging.String(logging.FieldEventType, "config_snapshot"),
		logging.String("bind", cfg.Server.Bind),
		logging.Bool("api_token_present", strings.TrimSpace(cfg.Server.APIToken) != ""),
		logging.String("store_backend", cfg.Store.Backend),
		logging.Bool("vision_key_present", strings.TrimSpace(cfg.Vision.APIKey) != ""),
		logging.String("vision_model", cfg.Vision.Model),
		logging.String("timezone", cfg.Tracker.Timezone),
		logging.Any("goal_hours", cfg.Tracker.GoalHours),
	)
}
