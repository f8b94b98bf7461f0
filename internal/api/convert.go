package api

import (
	"math"
	"slices"
	"time"

	"tenk/internal/tracker"
)

// FromSession converts a tracker session to its API representation. now drives
// the elapsed counter while an object is being placed.
func FromSession(session *tracker.Session, now time.Time, withImage bool) SessionView {
	if session == nil {
		return SessionView{}
	}
	view := SessionView{
		ID:         session.ID,
		Phase:      string(session.Phase),
		Detected:   nonNil(session.Detected),
		Order:      nonNil(session.Order),
		Placed:     nonNil(session.Placed),
		Pending:    nonNil(session.Pending()),
		Current:    session.Current,
		Source:     session.Source,
		TokensUsed: session.TokensUsed,
		StartedAt:  formatTime(session.StartedAt),
		CreatedAt:  formatTime(session.CreatedAt),
		UpdatedAt:  formatTime(session.UpdatedAt),
	}
	if session.Phase == tracker.PhasePlacing {
		view.ElapsedSeconds = session.Elapsed(now)
	}
	if withImage {
		view.ImageB64 = session.ImageB64
	}
	return view
}

// FromSessions converts a slice of sessions without images.
func FromSessions(sessions []*tracker.Session, now time.Time) []SessionView {
	out := make([]SessionView, 0, len(sessions))
	for _, session := range sessions {
		out = append(out, FromSession(session, now, false))
	}
	return out
}

// FromPlacement converts a recorded placement.
func FromPlacement(placement *tracker.Placement, withImage bool) PlacementView {
	if placement == nil {
		return PlacementView{}
	}
	view := PlacementView{
		ID:              placement.ID,
		SessionID:       placement.SessionID,
		Object:          placement.Object,
		Location:        placement.Location,
		StartedAt:       formatTime(placement.StartedAt),
		FinishedAt:      formatTime(placement.FinishedAt),
		DurationSeconds: placement.DurationSeconds,
		OrderIndex:      placement.OrderIndex,
		Source:          placement.Source,
	}
	if withImage {
		view.ImageB64 = placement.ImageB64
	}
	return view
}

// FromPlacements converts a history listing, preserving order.
func FromPlacements(placements []*tracker.Placement, withImages bool) []PlacementView {
	out := make([]PlacementView, 0, len(placements))
	for _, placement := range placements {
		out = append(out, FromPlacement(placement, withImages))
	}
	return out
}

// FromDetections converts detection audit records, keeping their order.
func FromDetections(records []*tracker.DetectionRecord) []DetectionView {
	views := make([]DetectionView, 0, len(records))
	for _, record := range records {
		if record == nil {
			continue
		}
		views = append(views, DetectionView{
			ID:         record.ID,
			Objects:    nonNil(record.Objects),
			Model:      record.Model,
			TokensUsed: record.TokensUsed,
			CreatedAt:  formatTime(record.CreatedAt),
		})
	}
	return views
}

// FromProgress converts a progress summary. Percent is rounded to two decimals.
func FromProgress(progress tracker.Progress) ProgressView {
	return ProgressView{
		TotalSeconds: progress.TotalSeconds,
		Hours:        progress.Hours,
		GoalHours:    progress.GoalHours,
		Fraction:     progress.Fraction,
		Percent:      math.Round(progress.Fraction*10000) / 100,
	}
}

// ParseTime reads a timestamp produced by this package.
func ParseTime(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	parsed, err := time.Parse(dateTimeFormat, value)
	if err != nil {
		return time.Time{}, false
	}
	return parsed, true
}

// LocalTimestamp renders a wire timestamp as wall-clock time in loc.
func LocalTimestamp(value string, loc *time.Location) string {
	parsed, ok := ParseTime(value)
	if !ok {
		return value
	}
	if loc == nil {
		loc = time.UTC
	}
	return parsed.In(loc).Format(LocalTimeLayout)
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(dateTimeFormat)
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return slices.Clone(values)
}
