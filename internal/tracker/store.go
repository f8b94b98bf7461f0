package tracker

import (
	"context"
	"time"
)

// Store persists sessions, placements and detection audit records.
//
// GetSession returns ErrNotFound for unknown ids. RecordPlacement returns
// ErrDuplicate when the placement's idempotency key already exists.
// PlacementByKey returns ErrNotFound when no placement carries the key.
// RecentPlacements returns newest first by StartedAt and DetectionsForSession
// oldest first.
type Store interface {
	SaveSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	ListSessions(ctx context.Context, phases ...Phase) ([]*Session, error)
	AbandonStale(ctx context.Context, cutoff time.Time) (int64, error)
	RecordPlacement(ctx context.Context, placement *Placement) error
	PlacementByKey(ctx context.Context, key string) (*Placement, error)
	RecentPlacements(ctx context.Context, limit int) ([]*Placement, error)
	TotalSeconds(ctx context.Context) (int64, error)
	RecordDetection(ctx context.Context, record *DetectionRecord) error
	DetectionsForSession(ctx context.Context, sessionID string) ([]*DetectionRecord, error)
	Close() error
}
