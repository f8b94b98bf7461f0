package tracker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"tenk/internal/imaging"
	"tenk/internal/logging"
	"tenk/internal/vision"
)

// MaxHistoryLimit bounds History requests.
const MaxHistoryLimit = 500

// Detector lists the objects visible in a photo.
type Detector interface {
	Detect(ctx context.Context, dataURL string) (vision.Detection, error)
}

// Options configures a Service.
type Options struct {
	Photo        imaging.Options
	GoalHours    float64
	HistoryLimit int
	Clock        func() time.Time
	NewID        func() string
	Logger       *slog.Logger
}

// Service orchestrates sessions against a Store and a Detector.
type Service struct {
	store        Store
	detector     Detector
	photo        imaging.Options
	goalHours    float64
	historyLimit int
	now          func() time.Time
	newID        func() string
	logger       *slog.Logger
	locks        *keyedMutex
}

// NewService constructs a tracker service. A nil detector disables Detect.
func NewService(store Store, detector Detector, opts Options) *Service {
	svc := &Service{
		store:        store,
		detector:     detector,
		photo:        opts.Photo,
		goalHours:    opts.GoalHours,
		historyLimit: opts.HistoryLimit,
		now:          opts.Clock,
		newID:        opts.NewID,
		logger:       logging.NewComponentLogger(opts.Logger, "tracker"),
		locks:        newKeyedMutex(),
	}
	if svc.goalHours <= 0 {
		svc.goalHours = 10000
	}
	if svc.historyLimit <= 0 {
		svc.historyLimit = 10
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	if svc.newID == nil {
		svc.newID = uuid.NewString
	}
	return svc
}

// GoalHours reports the configured goal.
func (s *Service) GoalHours() float64 {
	return s.goalHours
}

// Now reports the service clock, so callers render timers consistently.
func (s *Service) Now() time.Time {
	return s.now()
}

// Begin creates a new session waiting for a photo.
func (s *Service) Begin(ctx context.Context, source string) (*Session, error) {
	session := NewSession(s.newID(), source, s.now())
	if err := s.store.SaveSession(ctx, session); err != nil {
		return nil, fmt.Errorf("begin session: %w", err)
	}
	s.sessionLogger(ctx, session).Info("session started", logging.String("source", session.Source))
	return session, nil
}

// Get loads a session by id.
func (s *Service) Get(ctx context.Context, id string) (*Session, error) {
	session, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return session, nil
}

// Detect reduces the uploaded photo, asks the detector for objects, and moves
// the session to selection.
func (s *Service) Detect(ctx context.Context, id string, upload io.Reader) (*Session, error) {
	return s.mutate(ctx, id, "detect", func(session *Session) error {
		if session.Phase != PhaseAwaitingPhoto {
			return transitionError("attach a photo", session.Phase)
		}
		if s.detector == nil {
			return ErrVisionUnavailable
		}
		photo, err := imaging.Prepare(upload, s.photo)
		if err != nil {
			return fmt.Errorf("prepare photo: %w", err)
		}
		logger := s.sessionLogger(ctx, session)
		logger.Debug("photo prepared",
			logging.String("format", photo.Format),
			logging.Int("width", photo.Width),
			logging.Int("height", photo.Height),
			logging.Int("jpeg_bytes", len(photo.JPEG)),
		)

		started := s.now()
		detection, detectErr := s.detector.Detect(ctx, photo.DataURL())
		if detectErr != nil && !errors.Is(detectErr, ErrNoObjects) {
			logging.WarnWithHint(logger, "detection failed", "check vision.api_key, vision.model and network access",
				logging.Error(detectErr))
			return detectErr
		}
		s.recordDetection(ctx, session, detection)
		logger.Info("objects detected",
			logging.Int("count", len(detection.Objects)),
			logging.Int("tokens_used", detection.TokensUsed),
			logging.Duration("elapsed", s.now().Sub(started)),
		)
		if detectErr != nil {
			return detectErr
		}
		return session.AttachDetection(photo.Base64, detection.Objects, "", detection.TokensUsed)
	})
}

// ConfirmOrder fixes the ordered selection of objects to put away.
func (s *Service) ConfirmOrder(ctx context.Context, id string, selection []string) (*Session, error) {
	return s.mutate(ctx, id, "confirm order", func(session *Session) error {
		return session.ConfirmOrder(selection)
	})
}

// Start begins timing object.
func (s *Service) Start(ctx context.Context, id, object string) (*Session, error) {
	return s.mutate(ctx, id, "start placement", func(session *Session) error {
		if err := session.StartPlacement(object, s.now()); err != nil {
			return err
		}
		s.sessionLogger(ctx, session).Info("placement started", logging.String("object", session.Current))
		return nil
	})
}

// Finish records where the current object was put and advances the session.
// The placement is stored before the session moves on; a store failure leaves
// the session placing so the call can be retried.
func (s *Service) Finish(ctx context.Context, id, location string) (*Session, *Placement, error) {
	var recorded *Placement
	session, err := s.mutate(ctx, id, "finish placement", func(session *Session) error {
		placement, err := session.PreparePlacement(location, s.now())
		if err != nil {
			return err
		}
		placement.ID = s.newID()
		logger := s.sessionLogger(ctx, session)
		if err := s.store.RecordPlacement(ctx, &placement); err != nil {
			if !errors.Is(err, ErrDuplicate) {
				return fmt.Errorf("record placement: %w", err)
			}
			stored, err := s.store.PlacementByKey(ctx, placement.IdempotencyKey())
			if err != nil {
				return fmt.Errorf("load recorded placement: %w", err)
			}
			placement = *stored
			logger.Info("placement already recorded; advancing session",
				logging.String("object", placement.Object),
				logging.String("placement_id", placement.ID))
		}
		if err := session.CommitPlacement(); err != nil {
			return err
		}
		recorded = &placement
		logger.Info("placement recorded",
			logging.String("object", placement.Object),
			logging.String("location", placement.Location),
			logging.Int64("duration_seconds", placement.DurationSeconds),
			logging.Int("remaining", len(session.Pending())),
		)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return session, recorded, nil
}

// Abandon ends a session early.
func (s *Service) Abandon(ctx context.Context, id string) (*Session, error) {
	return s.mutate(ctx, id, "abandon", func(session *Session) error {
		return session.Abandon(s.now())
	})
}

// Reset clears a session back to waiting for a photo.
func (s *Service) Reset(ctx context.Context, id string) (*Session, error) {
	return s.mutate(ctx, id, "reset", func(session *Session) error {
		session.Reset()
		return nil
	})
}

// Progress sums every recorded placement against the goal.
func (s *Service) Progress(ctx context.Context) (Progress, error) {
	total, err := s.store.TotalSeconds(ctx)
	if err != nil {
		return Progress{}, fmt.Errorf("progress: %w", err)
	}
	return NewProgress(total, s.goalHours), nil
}

// History returns the most recent placements. A non-positive limit uses the
// configured default.
func (s *Service) History(ctx context.Context, limit int) ([]*Placement, error) {
	if limit <= 0 {
		limit = s.historyLimit
	}
	limit = min(limit, MaxHistoryLimit)
	placements, err := s.store.RecentPlacements(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	return placements, nil
}

// Detections returns the vision audit trail of a session, oldest first.
func (s *Service) Detections(ctx context.Context, id string) ([]*DetectionRecord, error) {
	records, err := s.store.DetectionsForSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("detections for %s: %w", id, err)
	}
	return records, nil
}

// Sessions lists sessions, optionally filtered by phase.
func (s *Service) Sessions(ctx context.Context, phases ...Phase) ([]*Session, error) {
	sessions, err := s.store.ListSessions(ctx, phases...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// SweepStale abandons non-terminal sessions idle for longer than ttl. The
// bulk update only runs while no session operation is in flight, otherwise
// the sweep is skipped and a later call retries it.
func (s *Service) SweepStale(ctx context.Context, ttl time.Duration) (int64, error) {
	if ttl <= 0 {
		return 0, nil
	}
	release, ok := s.locks.tryExclusive()
	if !ok {
		s.logger.Debug("stale session sweep deferred; sessions busy")
		return 0, nil
	}
	defer release()
	cutoff := s.now().Add(-ttl)
	count, err := s.store.AbandonStale(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep stale sessions: %w", err)
	}
	if count > 0 {
		s.logger.Info("stale sessions abandoned",
			logging.Int64("count", count),
			logging.String("cutoff", cutoff.UTC().Format(time.RFC3339)),
			logging.String(logging.FieldEventType, "sessions_swept"),
		)
	}
	return count, nil
}

func (s *Service) mutate(ctx context.Context, id, op string, fn func(*Session) error) (*Session, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	session, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := fn(session); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	session.UpdatedAt = s.now()
	if err := s.store.SaveSession(ctx, session); err != nil {
		return nil, fmt.Errorf("%s: save session: %w", op, err)
	}
	return session, nil
}

func (s *Service) recordDetection(ctx context.Context, session *Session, detection vision.Detection) {
	record := &DetectionRecord{
		ID:         s.newID(),
		SessionID:  session.ID,
		Objects:    detection.Objects,
		Raw:        detection.Raw,
		Model:      detection.Model,
		TokensUsed: detection.TokensUsed,
		CreatedAt:  s.now(),
	}
	if err := s.store.RecordDetection(ctx, record); err != nil {
		logging.WarnWithHint(s.sessionLogger(ctx, session), "detection audit record not stored",
			"check store connectivity; the session continues without the audit entry",
			logging.Error(err))
	}
}

func (s *Service) sessionLogger(ctx context.Context, session *Session) *slog.Logger {
	ctx = logging.WithSessionID(ctx, session.ID)
	ctx = logging.WithPhase(ctx, string(session.Phase))
	return logging.WithContext(ctx, s.logger)
}
