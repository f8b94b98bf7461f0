package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tenk/internal/tracker"
)

const sessionColumns = "id, phase, detected_json, order_json, placed_json, image_b64, current_object, started_at, created_at, updated_at, source, tokens_used"

// SaveSession inserts or replaces a session.
func (s *Store) SaveSession(ctx context.Context, session *tracker.Session) error {
	if session == nil || session.ID == "" {
		return errors.New("save session: id required")
	}
	detected, err := encodeList(session.Detected)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	order, err := encodeList(session.Order)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	placed, err := encodeList(session.Placed)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	created := session.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	updated := session.UpdatedAt
	if updated.IsZero() {
		updated = created
	}

	_, err = s.execWithRetry(ctx,
		`INSERT INTO sessions (`+sessionColumns+`)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET
             phase = excluded.phase, detected_json = excluded.detected_json,
             order_json = excluded.order_json, placed_json = excluded.placed_json,
             image_b64 = excluded.image_b64, current_object = excluded.current_object,
             started_at = excluded.started_at, updated_at = excluded.updated_at,
             source = excluded.source, tokens_used = excluded.tokens_used`,
		session.ID,
		string(session.Phase),
		detected,
		order,
		placed,
		nullableString(session.ImageB64),
		nullableString(session.Current),
		nullableTime(session.StartedAt),
		formatTime(created),
		formatTime(updated),
		nullableString(session.Source),
		session.TokensUsed,
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// GetSession fetches a session by id.
func (s *Store) GetSession(ctx context.Context, id string) (*tracker.Session, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tracker.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

// ListSessions returns sessions filtered by phase (all when none given), newest activity first.
func (s *Store) ListSessions(ctx context.Context, phases ...tracker.Phase) ([]*tracker.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions`
	args := make([]any, 0, len(phases))
	if len(phases) > 0 {
		query += ` WHERE phase IN (` + makePlaceholders(len(phases)) + `)`
		for _, phase := range phases {
			args = append(args, string(phase))
		}
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*tracker.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// AbandonStale marks non-terminal sessions last updated before cutoff as abandoned.
func (s *Store) AbandonStale(ctx context.Context, cutoff time.Time) (int64, error) {
	active := tracker.ActivePhases()
	args := []any{string(tracker.PhaseAbandoned), formatTime(s.now())}
	for _, phase := range active {
		args = append(args, string(phase))
	}
	args = append(args, formatTime(cutoff))

	res, err := s.execWithRetry(ctx,
		`UPDATE sessions
         SET phase = ?, current_object = NULL, started_at = NULL, updated_at = ?
         WHERE phase IN (`+makePlaceholders(len(active))+`) AND updated_at < ?`,
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("abandon stale sessions: %w", err)
	}
	return res.RowsAffected()
}

func scanSession(scanner interface{ Scan(dest ...any) error }) (*tracker.Session, error) {
	var (
		id         string
		phase      string
		detected   sql.NullString
		order      sql.NullString
		placed     sql.NullString
		imageB64   sql.NullString
		current    sql.NullString
		startedRaw sql.NullString
		createdRaw sql.NullString
		updatedRaw sql.NullString
		source     sql.NullString
		tokens     sql.NullInt64
	)
	if err := scanner.Scan(
		&id,
		&phase,
		&detected,
		&order,
		&placed,
		&imageB64,
		&current,
		&startedRaw,
		&createdRaw,
		&updatedRaw,
		&source,
		&tokens,
	); err != nil {
		return nil, err
	}

	session := &tracker.Session{
		ID:         id,
		Phase:      tracker.Phase(phase),
		ImageB64:   imageB64.String,
		Current:    current.String,
		StartedAt:  parseNullTime(startedRaw),
		CreatedAt:  parseNullTime(createdRaw),
		UpdatedAt:  parseNullTime(updatedRaw),
		Source:     source.String,
		TokensUsed: int(tokens.Int64),
	}
	var err error
	if session.Detected, err = decodeList(detected); err != nil {
		return nil, err
	}
	if session.Order, err = decodeList(order); err != nil {
		return nil, err
	}
	if session.Placed, err = decodeList(placed); err != nil {
		return nil, err
	}
	return session, nil
}
