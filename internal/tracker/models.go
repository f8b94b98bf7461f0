package tracker

import (
	"slices"
	"strings"
	"time"
)

// Phase represents where a session is in the wizard.
type Phase string

const (
	PhaseAwaitingPhoto Phase = "awaiting_photo"
	PhaseSelecting     Phase = "selecting"
	PhaseAwaitingStart Phase = "awaiting_start"
	PhasePlacing       Phase = "placing"
	PhaseCompleted     Phase = "completed"
	PhaseAbandoned     Phase = "abandoned"
)

var allPhases = []Phase{
	PhaseAwaitingPhoto,
	PhaseSelecting,
	PhaseAwaitingStart,
	PhasePlacing,
	PhaseCompleted,
	PhaseAbandoned,
}

// AllPhases returns every known phase in wizard order.
func AllPhases() []Phase {
	return slices.Clone(allPhases)
}

// ActivePhases returns the non-terminal phases.
func ActivePhases() []Phase {
	return []Phase{PhaseAwaitingPhoto, PhaseSelecting, PhaseAwaitingStart, PhasePlacing}
}

// ParsePhase converts a string to a Phase, reporting whether it is known.
func ParsePhase(value string) (Phase, bool) {
	phase := Phase(strings.ToLower(strings.TrimSpace(value)))
	return phase, slices.Contains(allPhases, phase)
}

// IsTerminal reports whether no further transitions are possible.
func (p Phase) IsTerminal() bool {
	return p == PhaseCompleted || p == PhaseAbandoned
}

// Session is one pass through the wizard for a single photo.
type Session struct {
	ID         string
	Phase      Phase
	Detected   []string
	Order      []string
	Placed     []string
	ImageB64   string
	Current    string
	StartedAt  time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Source     string
	TokensUsed int
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Detected = slices.Clone(s.Detected)
	clone.Order = slices.Clone(s.Order)
	clone.Placed = slices.Clone(s.Placed)
	return &clone
}

// Pending lists confirmed objects that have not been placed yet, in order.
func (s *Session) Pending() []string {
	pending := make([]string, 0, len(s.Order))
	for _, object := range s.Order {
		if !slices.Contains(s.Placed, object) {
			pending = append(pending, object)
		}
	}
	return pending
}

// Placement records one object put away.
type Placement struct {
	ID              string
	SessionID       string
	Object          string
	Location        string
	StartedAt       time.Time
	FinishedAt      time.Time
	DurationSeconds int64
	OrderIndex      int
	ImageB64        string
	Source          string
}

// IdempotencyKey identifies a placement attempt so retries never double count.
func (p *Placement) IdempotencyKey() string {
	return p.SessionID + "|" + p.Object + "|" + p.StartedAt.UTC().Format(time.RFC3339Nano)
}

// DetectionRecord is the audit trail of one vision request.
type DetectionRecord struct {
	ID         string
	SessionID  string
	Objects    []string
	Raw        string
	Model      string
	TokensUsed int
	CreatedAt  time.Time
}

// Progress summarizes time invested against the goal.
type Progress struct {
	TotalSeconds int64
	Hours        float64
	GoalHours    float64
	Fraction     float64
}

// NewProgress derives hours and the clamped goal fraction from a total.
func NewProgress(totalSeconds int64, goalHours float64) Progress {
	if totalSeconds < 0 {
		totalSeconds = 0
	}
	hours := float64(totalSeconds) / 3600
	fraction := 0.0
	if goalHours > 0 {
		fraction = min(max(hours/goalHours, 0), 1)
	}
	return Progress{
		TotalSeconds: totalSeconds,
		Hours:        hours,
		GoalHours:    goalHours,
		Fraction:     fraction,
	}
}
