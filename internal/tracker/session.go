package tracker

import (
	"slices"
	"strings"
	"time"
)

// NewSession returns a session waiting for its photo.
func NewSession(id, source string, now time.Time) *Session {
	return &Session{
		ID:        id,
		Phase:     PhaseAwaitingPhoto,
		Source:    strings.TrimSpace(source),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AttachDetection stores the reduced photo and detected objects and moves the
// session to selection. An empty object list leaves the session unchanged.
func (s *Session) AttachDetection(imageB64 string, objects []string, source string, tokens int) error {
	if s.Phase != PhaseAwaitingPhoto {
		return transitionError("attach a photo", s.Phase)
	}
	if len(objects) == 0 {
		return ErrNoObjects
	}
	s.ImageB64 = imageB64
	s.Detected = slices.Clone(objects)
	s.Order = nil
	s.Placed = nil
	if source = strings.TrimSpace(source); source != "" {
		s.Source = source
	}
	s.TokensUsed += max(tokens, 0)
	s.Phase = PhaseSelecting
	return nil
}

// ConfirmOrder fixes the ordered subset of detected objects to put away.
func (s *Session) ConfirmOrder(selection []string) error {
	if s.Phase != PhaseSelecting {
		return transitionError("confirm an order", s.Phase)
	}
	if len(selection) == 0 {
		return invalid("order", "select at least one object")
	}
	seen := make(map[string]struct{}, len(selection))
	order := make([]string, 0, len(selection))
	for _, object := range selection {
		object = strings.TrimSpace(object)
		if !slices.Contains(s.Detected, object) {
			return invalid("order", "%q was not detected in the photo", object)
		}
		if _, dup := seen[object]; dup {
			return invalid("order", "%q is selected more than once", object)
		}
		seen[object] = struct{}{}
		order = append(order, object)
	}
	s.Order = order
	s.Placed = nil
	s.Phase = PhaseAwaitingStart
	return nil
}

// StartPlacement starts the timer for object. An empty object selects the
// next pending one.
func (s *Session) StartPlacement(object string, now time.Time) error {
	if s.Phase != PhaseAwaitingStart {
		return transitionError("start a placement", s.Phase)
	}
	pending := s.Pending()
	object = strings.TrimSpace(object)
	if object == "" && len(pending) > 0 {
		object = pending[0]
	}
	if !slices.Contains(pending, object) {
		return invalid("object", "%q is not pending in the confirmed order", object)
	}
	s.Current = object
	s.StartedAt = now
	s.Phase = PhasePlacing
	return nil
}

// Elapsed reports whole seconds since the current placement started.
func (s *Session) Elapsed(now time.Time) int64 {
	if s.Phase != PhasePlacing || s.StartedAt.IsZero() {
		return 0
	}
	return wholeSeconds(s.StartedAt, now)
}

// PreparePlacement builds the record FinishPlacement would produce without
// changing the session.
func (s *Session) PreparePlacement(location string, now time.Time) (Placement, error) {
	if s.Phase != PhasePlacing {
		return Placement{}, transitionError("finish a placement", s.Phase)
	}
	location = strings.TrimSpace(location)
	if location == "" {
		return Placement{}, invalid("location", "must not be blank")
	}
	return Placement{
		SessionID:       s.ID,
		Object:          s.Current,
		Location:        location,
		StartedAt:       s.StartedAt,
		FinishedAt:      now,
		DurationSeconds: wholeSeconds(s.StartedAt, now),
		OrderIndex:      slices.Index(s.Order, s.Current),
		ImageB64:        s.ImageB64,
		Source:          s.Source,
	}, nil
}

// CommitPlacement marks the current object placed and advances the session.
func (s *Session) CommitPlacement() error {
	if s.Phase != PhasePlacing {
		return transitionError("finish a placement", s.Phase)
	}
	if !slices.Contains(s.Placed, s.Current) {
		s.Placed = append(s.Placed, s.Current)
	}
	s.Current = ""
	s.StartedAt = time.Time{}
	if len(s.Pending()) == 0 {
		s.Phase = PhaseCompleted
	} else {
		s.Phase = PhaseAwaitingStart
	}
	return nil
}

// FinishPlacement stops the timer and returns the record for the placed object.
func (s *Session) FinishPlacement(location string, now time.Time) (Placement, error) {
	placement, err := s.PreparePlacement(location, now)
	if err != nil {
		return Placement{}, err
	}
	if err := s.CommitPlacement(); err != nil {
		return Placement{}, err
	}
	return placement, nil
}

// Abandon ends a session that will not be finished.
func (s *Session) Abandon(now time.Time) error {
	if s.Phase.IsTerminal() {
		return transitionError("abandon", s.Phase)
	}
	s.Phase = PhaseAbandoned
	s.Current = ""
	s.StartedAt = time.Time{}
	s.UpdatedAt = now
	return nil
}

// Reset clears all wizard state so the session waits for a new photo.
func (s *Session) Reset() {
	s.Phase = PhaseAwaitingPhoto
	s.Detected = nil
	s.Order = nil
	s.Placed = nil
	s.ImageB64 = ""
	s.Current = ""
	s.StartedAt = time.Time{}
	s.TokensUsed = 0
}

func wholeSeconds(start, end time.Time) int64 {
	seconds := int64(end.Sub(start) / time.Second)
	if seconds < 0 {
		return 0
	}
	return seconds
}
