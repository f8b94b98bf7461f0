package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"tenk/internal/api"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	statusLabelWidth = 20
	statusIndent     = "  "
	progressBarWidth = 30
)

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	statusText := statusKindLabel(kind)
	if message != "" {
		statusText = fmt.Sprintf("[%s] %s", statusText, message)
	} else {
		statusText = fmt.Sprintf("[%s]", statusText)
	}
	base := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", statusText)
	if colorize {
		if color := statusKindColor(kind); color != "" {
			return color + base + ansiReset
		}
	}
	return base
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func statusKindColor(kind statusKind) string {
	switch kind {
	case statusOK:
		return ansiGreen
	case statusWarn:
		return ansiYellow
	case statusError:
		return ansiRed
	case statusInfo:
		return ansiBlue
	default:
		return ""
	}
}

func renderSectionHeader(title string, colorize bool) []string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	if colorize {
		line = ansiBlue + line + ansiReset
		rule = ansiBlue + rule + ansiReset
	}
	return []string{line, rule}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func daemonStatusLines(status api.StatusView, colorize bool) []string {
	lines := renderSectionHeader("Daemon", colorize)
	running := "Running"
	if status.Version != "" {
		running += " (" + status.Version + ")"
	}
	if started, err := time.Parse(time.RFC3339, status.StartedAt); err == nil {
		running += ", started " + humanize.Time(started)
	}
	lines = append(lines, renderStatusLine("tenkd", statusOK, running, colorize))
	lines = append(lines, renderStatusLine("Store", statusInfo, status.StoreBackend, colorize))
	if status.VisionAvailable {
		lines = append(lines, renderStatusLine("Vision", statusOK, status.VisionModel, colorize))
	} else {
		lines = append(lines, renderStatusLine("Vision", statusWarn, "not configured (set vision.api_key)", colorize))
	}

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Sessions", colorize)...)
	lines = append(lines, renderStatusLine("Active", statusInfo, fmt.Sprintf("%d", status.ActiveSessions), colorize))
	phases := make([]string, 0, len(status.PhaseCounts))
	for phase := range status.PhaseCounts {
		phases = append(phases, phase)
	}
	sort.Strings(phases)
	for _, phase := range phases {
		lines = append(lines, fmt.Sprintf("%s%s%-*s %d", statusIndent, statusIndent, statusLabelWidth-2, phase+":", status.PhaseCounts[phase]))
	}

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Progress", colorize)...)
	lines = append(lines, progressLines(status.Progress)...)
	return lines
}

func progressLines(progress api.ProgressView) []string {
	return []string{
		fmt.Sprintf("%s%s %.2f%%", statusIndent, progressBar(progress.Fraction, progressBarWidth), progress.Percent),
		fmt.Sprintf("%s%s of %s hours (%s placed)", statusIndent,
			humanize.FormatFloat("#,###.##", progress.Hours),
			humanize.FormatFloat("#,###.", progress.GoalHours),
			formatSeconds(progress.TotalSeconds)),
	}
}

func progressBar(fraction float64, width int) string {
	fraction = min(max(fraction, 0), 1)
	filled := int(fraction * float64(width))
	if fraction > 0 && filled == 0 {
		filled = 1
	}
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", width-filled) + "]"
}

func formatSeconds(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, seconds/60%60, seconds%60)
}
