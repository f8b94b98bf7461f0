package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"tenk/internal/tracker"
)

const placementColumns = "id, session_id, object, location, started_at, finished_at, duration_seconds, order_index, image_b64, source"

// RecordPlacement appends a placement. A repeated idempotency key returns tracker.ErrDuplicate.
func (s *Store) RecordPlacement(ctx context.Context, placement *tracker.Placement) error {
	if placement == nil || placement.ID == "" {
		return errors.New("record placement: id required")
	}
	_, err := s.execWithRetry(ctx,
		`INSERT INTO placements (idempotency_key, `+placementColumns+`)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		placement.IdempotencyKey(),
		placement.ID,
		placement.SessionID,
		placement.Object,
		placement.Location,
		formatTime(placement.StartedAt),
		formatTime(placement.FinishedAt),
		placement.DurationSeconds,
		placement.OrderIndex,
		nullableString(placement.ImageB64),
		nullableString(placement.Source),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return tracker.ErrDuplicate
		}
		return fmt.Errorf("record placement: %w", err)
	}
	return nil
}

// RecentPlacements returns up to limit placements, newest start first.
func (s *Store) RecentPlacements(ctx context.Context, limit int) ([]*tracker.Placement, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT `+placementColumns+` FROM placements ORDER BY started_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent placements: %w", err)
	}
	defer rows.Close()

	var placements []*tracker.Placement
	for rows.Next() {
		placement, err := scanPlacement(rows)
		if err != nil {
			return nil, fmt.Errorf("recent placements: %w", err)
		}
		placements = append(placements, placement)
	}
	return placements, rows.Err()
}

// PlacementByKey returns the placement stored under an idempotency key.
func (s *Store) PlacementByKey(ctx context.Context, key string) (*tracker.Placement, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+placementColumns+` FROM placements WHERE idempotency_key = ?`,
		key,
	)
	placement, err := scanPlacement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tracker.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("placement by key: %w", err)
	}
	return placement, nil
}

func scanPlacement(scanner interface{ Scan(dest ...any) error }) (*tracker.Placement, error) {
	var (
		p        tracker.Placement
		started  string
		finished string
		imageB64 sql.NullString
		source   sql.NullString
	)
	if err := scanner.Scan(
		&p.ID,
		&p.SessionID,
		&p.Object,
		&p.Location,
		&started,
		&finished,
		&p.DurationSeconds,
		&p.OrderIndex,
		&imageB64,
		&source,
	); err != nil {
		return nil, err
	}
	var err error
	if p.StartedAt, err = parseTimeString(started); err != nil {
		return nil, fmt.Errorf("started_at: %w", err)
	}
	if p.FinishedAt, err = parseTimeString(finished); err != nil {
		return nil, fmt.Errorf("finished_at: %w", err)
	}
	p.ImageB64 = imageB64.String
	p.Source = source.String
	return &p, nil
}

// TotalSeconds sums every recorded placement duration.
func (s *Store) TotalSeconds(ctx context.Context) (int64, error) {
	var total int64
	if err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT COALESCE(SUM(duration_seconds), 0) FROM placements`,
	).Scan(&total); err != nil {
		return 0, fmt.Errorf("total seconds: %w", err)
	}
	return total, nil
}

// RecordDetection stores the audit trail of one vision request.
func (s *Store) RecordDetection(ctx context.Context, record *tracker.DetectionRecord) error {
	if record == nil || record.ID == "" {
		return errors.New("record detection: id required")
	}
	objects, err := encodeList(record.Objects)
	if err != nil {
		return fmt.Errorf("record detection: %w", err)
	}
	created := record.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	if _, err := s.execWithRetry(ctx,
		`INSERT INTO detections (id, session_id, objects_json, raw, model, tokens_used, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.SessionID,
		objects,
		nullableString(record.Raw),
		nullableString(record.Model),
		record.TokensUsed,
		formatTime(created),
	); err != nil {
		return fmt.Errorf("record detection: %w", err)
	}
	return nil
}

// DetectionsForSession returns the detection audit records for a session, oldest first.
func (s *Store) DetectionsForSession(ctx context.Context, sessionID string) ([]*tracker.DetectionRecord, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT id, session_id, objects_json, raw, model, tokens_used, created_at
         FROM detections WHERE session_id = ? ORDER BY created_at`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list detections: %w", err)
	}
	defer rows.Close()

	var records []*tracker.DetectionRecord
	for rows.Next() {
		var (
			record     tracker.DetectionRecord
			objects    sql.NullString
			raw        sql.NullString
			model      sql.NullString
			createdRaw sql.NullString
		)
		if err := rows.Scan(&record.ID, &record.SessionID, &objects, &raw, &model, &record.TokensUsed, &createdRaw); err != nil {
			return nil, fmt.Errorf("list detections: %w", err)
		}
		if record.Objects, err = decodeList(objects); err != nil {
			return nil, err
		}
		record.Raw = raw.String
		record.Model = model.String
		record.CreatedAt = parseNullTime(createdRaw)
		records = append(records, &record)
	}
	return records, rows.Err()
}
