package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// PruneLogs removes files in dir matching pattern whose modification time is
// older than retentionDays. The active log file is never removed. A
// retentionDays value of 0 disables pruning. It returns the number of files removed.
func PruneLogs(logger *slog.Logger, dir, pattern, active string, retentionDays int, now time.Time) int {
	dir = strings.TrimSpace(dir)
	if retentionDays <= 0 || dir == "" {
		return 0
	}
	if now.IsZero() {
		now = time.Now()
	}
	cutoff := now.AddDate(0, 0, -retentionDays)

	activeAbs := ""
	if strings.TrimSpace(active) != "" {
		if abs, err := filepath.Abs(active); err == nil {
			activeAbs = abs
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if pattern != "" {
			if ok, err := filepath.Match(pattern, name); err != nil || !ok {
				continue
			}
		}
		full := filepath.Join(dir, name)
		if abs, err := filepath.Abs(full); err == nil {
			full = abs
		}
		if full == activeAbs {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(full); err != nil {
			WarnWithHint(logger, "log retention remove failed", "check log_dir ownership and permissions",
				String("path", full), Error(err))
			continue
		}
		removed++
		if logger != nil {
			logger.Info("log pruned", String("path", full), String(FieldEventType, "log_pruned"))
		}
	}
	return removed
}
