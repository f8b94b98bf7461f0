package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"tenk/internal/tracker"
)

const connectTimeout = 10 * time.Second

// Options names the database and collections used by the store.
type Options struct {
	URI                  string
	Database             string
	PlacementsCollection string
	SessionsCollection   string
	DetectionsCollection string
}

// Store persists tracker state in MongoDB.
type Store struct {
	client     *mongo.Client
	placements *mongo.Collection
	sessions   *mongo.Collection
	detections *mongo.Collection
	now        func() time.Time
}

// Open connects to MongoDB, verifies the connection, and ensures indexes.
func Open(ctx context.Context, opts Options) (*Store, error) {
	uri := strings.TrimSpace(opts.URI)
	if uri == "" {
		return nil, errors.New("open mongo store: uri required")
	}
	for name, value := range map[string]string{
		"database":              opts.Database,
		"placements collection": opts.PlacementsCollection,
		"sessions collection":   opts.SessionsCollection,
		"detections collection": opts.DetectionsCollection,
	} {
		if strings.TrimSpace(value) == "" {
			return nil, fmt.Errorf("open mongo store: %s required", name)
		}
	}

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri).SetAppName("tenk"))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(opts.Database)
	store := &Store{
		client:     client,
		placements: db.Collection(opts.PlacementsCollection),
		sessions:   db.Collection(opts.SessionsCollection),
		detections: db.Collection(opts.DetectionsCollection),
		now:        time.Now,
	}
	if err := store.ensureIndexes(connectCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return store, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.placements.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "idempotency_key", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"idempotency_key": bson.M{"$exists": true}}),
		},
		{Keys: bson.D{{Key: "inicio", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("ensure placement indexes: %w", err)
	}
	_, err = s.sessions.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "phase", Value: 1}, {Key: "updated_at", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("ensure session indexes: %w", err)
	}
	_, err = s.detections.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "session_id", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("ensure detection indexes: %w", err)
	}
	return nil
}

// Close disconnects the client.
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Ping verifies the server is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// SaveSession inserts or replaces a session document.
func (s *Store) SaveSession(ctx context.Context, session *tracker.Session) error {
	if session == nil || session.ID == "" {
		return errors.New("save session: id required")
	}
	doc := toSessionDoc(session)
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = s.now().UTC()
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = doc.CreatedAt
	}
	_, err := s.sessions.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// GetSession fetches a session by id.
func (s *Store) GetSession(ctx context.Context, id string) (*tracker.Session, error) {
	var doc sessionDoc
	err := s.sessions.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, tracker.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return doc.toSession(), nil
}

// ListSessions returns sessions filtered by phase (all when none given), newest activity first.
func (s *Store) ListSessions(ctx context.Context, phases ...tracker.Phase) ([]*tracker.Session, error) {
	filter := bson.M{}
	if len(phases) > 0 {
		filter["phase"] = bson.M{"$in": phaseStrings(phases)}
	}
	cursor, err := s.sessions.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	var docs []sessionDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	sessions := make([]*tracker.Session, 0, len(docs))
	for _, doc := range docs {
		sessions = append(sessions, doc.toSession())
	}
	return sessions, nil
}

// AbandonStale marks non-terminal sessions last updated before cutoff as abandoned.
func (s *Store) AbandonStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.sessions.UpdateMany(ctx,
		bson.M{
			"phase":      bson.M{"$in": phaseStrings(tracker.ActivePhases())},
			"updated_at": bson.M{"$lt": cutoff.UTC()},
		},
		bson.M{
			"$set":   bson.M{"phase": string(tracker.PhaseAbandoned), "updated_at": s.now().UTC()},
			"$unset": bson.M{"current": "", "started_at": ""},
		},
	)
	if err != nil {
		return 0, fmt.Errorf("abandon stale sessions: %w", err)
	}
	return res.ModifiedCount, nil
}

// RecordPlacement appends a placement. A repeated idempotency key returns tracker.ErrDuplicate.
func (s *Store) RecordPlacement(ctx context.Context, placement *tracker.Placement) error {
	if placement == nil || placement.ID == "" {
		return errors.New("record placement: id required")
	}
	if _, err := s.placements.InsertOne(ctx, toPlacementDoc(placement)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
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
	cursor, err := s.placements.Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "inicio", Value: -1}}).SetLimit(int64(limit)))
	if err != nil {
		return nil, fmt.Errorf("recent placements: %w", err)
	}
	var docs []placementDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("recent placements: %w", err)
	}
	placements := make([]*tracker.Placement, 0, len(docs))
	for _, doc := range docs {
		placements = append(placements, doc.toPlacement())
	}
	return placements, nil
}

// PlacementByKey returns the placement stored under an idempotency key.
func (s *Store) PlacementByKey(ctx context.Context, key string) (*tracker.Placement, error) {
	var doc placementDoc
	err := s.placements.FindOne(ctx, bson.M{"idempotency_key": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, tracker.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("placement by key: %w", err)
	}
	return doc.toPlacement(), nil
}

// TotalSeconds sums duracion_segundos across every placement document.
func (s *Store) TotalSeconds(ctx context.Context) (int64, error) {
	cursor, err := s.placements.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "total", Value: bson.D{{Key: "$sum", Value: "$duracion_segundos"}}},
		}}},
	})
	if err != nil {
		return 0, fmt.Errorf("total seconds: %w", err)
	}
	defer cursor.Close(ctx)

	var result struct {
		Total float64 `bson:"total"`
	}
	if !cursor.Next(ctx) {
		if err := cursor.Err(); err != nil {
			return 0, fmt.Errorf("total seconds: %w", err)
		}
		return 0, nil
	}
	if err := cursor.Decode(&result); err != nil {
		return 0, fmt.Errorf("total seconds: %w", err)
	}
	return int64(result.Total), nil
}

// RecordDetection stores the audit trail of one vision request.
func (s *Store) RecordDetection(ctx context.Context, record *tracker.DetectionRecord) error {
	if record == nil || record.ID == "" {
		return errors.New("record detection: id required")
	}
	created := record.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	doc := detectionDoc{
		ID:         record.ID,
		SessionID:  record.SessionID,
		Objects:    record.Objects,
		Raw:        record.Raw,
		Model:      record.Model,
		TokensUsed: record.TokensUsed,
		CreatedAt:  created.UTC(),
	}
	if _, err := s.detections.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("record detection: %w", err)
	}
	return nil
}

// DetectionsForSession returns the detection audit records for a session, oldest first.
func (s *Store) DetectionsForSession(ctx context.Context, sessionID string) ([]*tracker.DetectionRecord, error) {
	cursor, err := s.detections.Find(ctx, bson.M{"session_id": sessionID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list detections: %w", err)
	}
	var docs []detectionDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("list detections: %w", err)
	}
	records := make([]*tracker.DetectionRecord, 0, len(docs))
	for _, doc := range docs {
		records = append(records, &tracker.DetectionRecord{
			ID:         doc.ID,
			SessionID:  doc.SessionID,
			Objects:    doc.Objects,
			Raw:        doc.Raw,
			Model:      doc.Model,
			TokensUsed: doc.TokensUsed,
			CreatedAt:  doc.CreatedAt.UTC(),
		})
	}
	return records, nil
}

func phaseStrings(phases []tracker.Phase) []string {
	out := make([]string, 0, len(phases))
	for _, phase := range phases {
		out = append(out, string(phase))
	}
	return out
}
