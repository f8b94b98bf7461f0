package mongo

import (
	"time"

	"tenk/internal/tracker"
)

type sessionDoc struct {
	ID         string     `bson:"_id"`
	Phase      string     `bson:"phase"`
	Detected   []string   `bson:"detected,omitempty"`
	Order      []string   `bson:"order,omitempty"`
	Placed     []string   `bson:"placed,omitempty"`
	ImageB64   string     `bson:"image_b64,omitempty"`
	Current    string     `bson:"current,omitempty"`
	StartedAt  *time.Time `bson:"started_at,omitempty"`
	CreatedAt  time.Time  `bson:"created_at"`
	UpdatedAt  time.Time  `bson:"updated_at"`
	Source     string     `bson:"source,omitempty"`
	TokensUsed int        `bson:"tokens_used"`
}

type placementDoc struct {
	ID              string    `bson:"_id,omitempty"`
	IdempotencyKey  string    `bson:"idempotency_key,omitempty"`
	SessionID       string    `bson:"session_id,omitempty"`
	Object          string    `bson:"objeto"`
	Location        string    `bson:"ubicacion"`
	StartedAt       time.Time `bson:"inicio"`
	FinishedAt      time.Time `bson:"fin"`
	DurationSeconds int64     `bson:"duracion_segundos"`
	OrderIndex      *int      `bson:"orden,omitempty"`
	ImageB64        string    `bson:"imagen_b64,omitempty"`
	Source          string    `bson:"fuente,omitempty"`
}

type detectionDoc struct {
	ID         string    `bson:"_id"`
	SessionID  string    `bson:"session_id"`
	Objects    []string  `bson:"objects"`
	Raw        string    `bson:"raw"`
	Model      string    `bson:"model,omitempty"`
	TokensUsed int       `bson:"tokens_used"`
	CreatedAt  time.Time `bson:"created_at"`
}

func toSessionDoc(s *tracker.Session) sessionDoc {
	doc := sessionDoc{
		ID:         s.ID,
		Phase:      string(s.Phase),
		Detected:   s.Detected,
		Order:      s.Order,
		Placed:     s.Placed,
		ImageB64:   s.ImageB64,
		Current:    s.Current,
		CreatedAt:  s.CreatedAt.UTC(),
		UpdatedAt:  s.UpdatedAt.UTC(),
		Source:     s.Source,
		TokensUsed: s.TokensUsed,
	}
	if !s.StartedAt.IsZero() {
		started := s.StartedAt.UTC()
		doc.StartedAt = &started
	}
	return doc
}

func (d sessionDoc) toSession() *tracker.Session {
	session := &tracker.Session{
		ID:         d.ID,
		Phase:      tracker.Phase(d.Phase),
		Detected:   d.Detected,
		Order:      d.Order,
		Placed:     d.Placed,
		ImageB64:   d.ImageB64,
		Current:    d.Current,
		CreatedAt:  d.CreatedAt.UTC(),
		UpdatedAt:  d.UpdatedAt.UTC(),
		Source:     d.Source,
		TokensUsed: d.TokensUsed,
	}
	if d.StartedAt != nil {
		session.StartedAt = d.StartedAt.UTC()
	}
	return session
}

func toPlacementDoc(p *tracker.Placement) placementDoc {
	index := p.OrderIndex
	return placementDoc{
		ID:              p.ID,
		IdempotencyKey:  p.IdempotencyKey(),
		SessionID:       p.SessionID,
		Object:          p.Object,
		Location:        p.Location,
		StartedAt:       p.StartedAt.UTC(),
		FinishedAt:      p.FinishedAt.UTC(),
		DurationSeconds: p.DurationSeconds,
		OrderIndex:      &index,
		ImageB64:        p.ImageB64,
		Source:          p.Source,
	}
}

// toPlacement tolerates legacy documents that only carry the original fields.
func (d placementDoc) toPlacement() *tracker.Placement {
	placement := &tracker.Placement{
		ID:              d.ID,
		SessionID:       d.SessionID,
		Object:          d.Object,
		Location:        d.Location,
		StartedAt:       d.StartedAt.UTC(),
		FinishedAt:      d.FinishedAt.UTC(),
		DurationSeconds: d.DurationSeconds,
		OrderIndex:      -1,
		ImageB64:        d.ImageB64,
		Source:          d.Source,
	}
	if d.OrderIndex != nil {
		placement.OrderIndex = *d.OrderIndex
	}
	return placement
}
