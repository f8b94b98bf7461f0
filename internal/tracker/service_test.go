package tracker_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"tenk/internal/imaging"
	"tenk/internal/testsupport"
	"tenk/internal/tracker"
	"tenk/internal/vision"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

type fixture struct {
	svc      *tracker.Service
	store    tracker.Store
	detector *testsupport.StubDetector
	clock    *fakeClock
}

func newFixture(t *testing.T, wrap func(tracker.Store) tracker.Store) fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	var store tracker.Store = testsupport.MustOpenStore(t, cfg)
	if wrap != nil {
		store = wrap(store)
	}
	detector := &testsupport.StubDetector{Objects: []string{"Taza", "Plato", "Vaso"}, Raw: "- taza\n- plato\n- vaso", TokensUsed: 640}
	clock := &fakeClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	svc := tracker.NewService(store, detector, tracker.Options{
		Photo:        imaging.Options{MaxWidth: 600, Quality: 80},
		GoalHours:    10000,
		HistoryLimit: 10,
		Clock:        clock.Now,
		NewID:        sequentialIDs(),
	})
	return fixture{svc: svc, store: store, detector: detector, clock: clock}
}

func (f fixture) detected(t *testing.T) *tracker.Session {
	t.Helper()
	ctx := context.Background()
	session, err := f.svc.Begin(ctx, "test")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	session, err = f.svc.Detect(ctx, session.ID, bytes.NewReader(testsupport.PNG(t, 800, 600)))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	return session
}

func TestServiceWizardRecordsPlacementsAndProgress(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	session := f.detected(t)
	if session.Phase != tracker.PhaseSelecting || session.TokensUsed != 640 {
		t.Fatalf("unexpected session after detect: %+v", session)
	}
	if f.detector.Calls() != 1 {
		t.Fatalf("expected one detector call, got %d", f.detector.Calls())
	}

	if _, err := f.svc.ConfirmOrder(ctx, session.ID, []string{"Plato", "Taza"}); err != nil {
		t.Fatalf("ConfirmOrder: %v", err)
	}
	for i, object := range []string{"Plato", "Taza"} {
		if _, err := f.svc.Start(ctx, session.ID, object); err != nil {
			t.Fatalf("Start %s: %v", object, err)
		}
		f.clock.Advance(time.Duration(30*(i+1)) * time.Second)
		_, placement, err := f.svc.Finish(ctx, session.ID, "Alacena")
		if err != nil {
			t.Fatalf("Finish %s: %v", object, err)
		}
		if placement.DurationSeconds != int64(30*(i+1)) {
			t.Fatalf("unexpected duration for %s: %d", object, placement.DurationSeconds)
		}
	}

	final, err := f.svc.Get(ctx, session.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if final.Phase != tracker.PhaseCompleted {
		t.Fatalf("expected completed, got %s", final.Phase)
	}

	progress, err := f.svc.Progress(ctx)
	if err != nil {
		t.Fatalf("Progress: %v", err)
	}
	if progress.TotalSeconds != 90 || progress.GoalHours != 10000 {
		t.Fatalf("unexpected progress: %+v", progress)
	}

	history, err := f.svc.History(ctx, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	got := make([]string, 0, len(history))
	for _, p := range history {
		got = append(got, p.Object)
	}
	if diff := cmp.Diff([]string{"Taza", "Plato"}, got); diff != "" {
		t.Fatalf("history mismatch (-want +got):\n%s", diff)
	}
}

func TestServiceDetectNoObjectsKeepsAwaitingPhoto(t *testing.T) {
	f := newFixture(t, nil)
	f.detector.Objects = nil
	ctx := context.Background()

	session, err := f.svc.Begin(ctx, "test")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	_, err = f.svc.Detect(ctx, session.ID, bytes.NewReader(testsupport.PNG(t, 64, 64)))
	if !errors.Is(err, tracker.ErrNoObjects) || tracker.Kind(err) != tracker.KindNoObjects {
		t.Fatalf("expected ErrNoObjects, got %v", err)
	}
	got, err := f.svc.Get(ctx, session.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Phase != tracker.PhaseAwaitingPhoto {
		t.Fatalf("expected awaiting_photo, got %s", got.Phase)
	}
}

func TestServiceDetectClassifiesFailures(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	session, err := f.svc.Begin(ctx, "test")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	_, err = f.svc.Detect(ctx, session.ID, bytes.NewReader([]byte("definitely not an image")))
	if tracker.Kind(err) != tracker.KindValidation {
		t.Fatalf("expected validation kind for bad upload, got %q (%v)", tracker.Kind(err), err)
	}
	if f.detector.Calls() != 0 {
		t.Fatal("detector must not be called for unreadable uploads")
	}

	f.detector.Err = &vision.UpstreamError{Err: errors.New("http 500")}
	_, err = f.svc.Detect(ctx, session.ID, bytes.NewReader(testsupport.PNG(t, 32, 32)))
	if tracker.Kind(err) != tracker.KindUpstream {
		t.Fatalf("expected upstream kind, got %q (%v)", tracker.Kind(err), err)
	}

	if _, err := f.svc.Detect(ctx, "missing", bytes.NewReader(nil)); tracker.Kind(err) != tracker.KindNotFound {
		t.Fatalf("expected not_found kind, got %v", err)
	}
}

func TestServiceDetectWithoutDetector(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	svc := tracker.NewService(testsupport.MustOpenStore(t, cfg), nil, tracker.Options{})
	ctx := context.Background()
	session, err := svc.Begin(ctx, "test")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	_, err = svc.Detect(ctx, session.ID, bytes.NewReader(testsupport.PNG(t, 10, 10)))
	if !errors.Is(err, tracker.ErrVisionUnavailable) || tracker.Kind(err) != tracker.KindConfiguration {
		t.Fatalf("expected ErrVisionUnavailable, got %v", err)
	}
}

// failingPlacements fails RecordPlacement a fixed number of times, and can
// simulate a write that landed but whose session save failed.
type failingPlacements struct {
	tracker.Store
	failures    int
	failSaveFor int
}

func (s *failingPlacements) RecordPlacement(ctx context.Context, p *tracker.Placement) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("disk full")
	}
	return s.Store.RecordPlacement(ctx, p)
}

func (s *failingPlacements) SaveSession(ctx context.Context, session *tracker.Session) error {
	if s.failSaveFor > 0 && session.Phase != tracker.PhasePlacing {
		s.failSaveFor--
		return errors.New("connection reset")
	}
	return s.Store.SaveSession(ctx, session)
}

func TestServiceFinishWritesPlacementBeforeAdvancing(t *testing.T) {
	wrapper := &failingPlacements{failures: 1}
	f := newFixture(t, func(inner tracker.Store) tracker.Store {
		wrapper.Store = inner
		return wrapper
	})
	ctx := context.Background()
	session := f.detected(t)
	if _, err := f.svc.ConfirmOrder(ctx, session.ID, []string{"Taza"}); err != nil {
		t.Fatalf("ConfirmOrder: %v", err)
	}
	if _, err := f.svc.Start(ctx, session.ID, "Taza"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.clock.Advance(45 * time.Second)

	if _, _, err := f.svc.Finish(ctx, session.ID, "Alacena"); err == nil {
		t.Fatal("expected finish to fail when the placement write fails")
	}
	got, err := f.svc.Get(ctx, session.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Phase != tracker.PhasePlacing || got.Current != "Taza" {
		t.Fatalf("failed write must leave the session placing: %+v", got)
	}

	f.clock.Advance(5 * time.Second)
	done, placement, err := f.svc.Finish(ctx, session.ID, "Alacena")
	if err != nil {
		t.Fatalf("retry Finish: %v", err)
	}
	if done.Phase != tracker.PhaseCompleted || placement.DurationSeconds != 50 {
		t.Fatalf("unexpected retry result: phase=%s duration=%d", done.Phase, placement.DurationSeconds)
	}
}

func TestServiceFinishRetryAfterSaveFailureDoesNotDoubleCount(t *testing.T) {
	wrapper := &failingPlacements{}
	f := newFixture(t, func(inner tracker.Store) tracker.Store {
		wrapper.Store = inner
		return wrapper
	})
	ctx := context.Background()
	session := f.detected(t)
	if _, err := f.svc.ConfirmOrder(ctx, session.ID, []string{"Taza"}); err != nil {
		t.Fatalf("ConfirmOrder: %v", err)
	}
	if _, err := f.svc.Start(ctx, session.ID, "Taza"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.clock.Advance(20 * time.Second)

	wrapper.failSaveFor = 1
	if _, _, err := f.svc.Finish(ctx, session.ID, "Alacena"); err == nil {
		t.Fatal("expected session save failure to surface")
	}
	history, err := f.svc.History(ctx, 0)
	if err != nil || len(history) != 1 {
		t.Fatalf("expected the first attempt stored, got %d (%v)", len(history), err)
	}
	stored := history[0]

	f.clock.Advance(5 * time.Second)
	_, placement, err := f.svc.Finish(ctx, session.ID, "Alacena")
	if err != nil {
		t.Fatalf("retry Finish: %v", err)
	}
	if diff := cmp.Diff(stored, placement); diff != "" {
		t.Fatalf("retry should report the stored placement (-stored +got):\n%s", diff)
	}
	progress, err := f.svc.Progress(ctx)
	if err != nil {
		t.Fatalf("Progress: %v", err)
	}
	if progress.TotalSeconds != 20 {
		t.Fatalf("expected a single 20s placement, got %d", progress.TotalSeconds)
	}
}

func TestServiceSerializesConcurrentFinish(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	session := f.detected(t)
	if _, err := f.svc.ConfirmOrder(ctx, session.ID, []string{"Taza", "Plato"}); err != nil {
		t.Fatalf("ConfirmOrder: %v", err)
	}
	if _, err := f.svc.Start(ctx, session.ID, "Taza"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.clock.Advance(10 * time.Second)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := f.svc.Finish(ctx, session.ID, "Mesa"); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			} else if tracker.Kind(err) != tracker.KindInvalidTransition {
				t.Errorf("unexpected error kind %q: %v", tracker.Kind(err), err)
			}
		}()
	}
	wg.Wait()
	if successes != 1 {
		t.Fatalf("expected exactly one successful finish, got %d", successes)
	}
	progress, err := f.svc.Progress(ctx)
	if err != nil {
		t.Fatalf("Progress: %v", err)
	}
	if progress.TotalSeconds != 10 {
		t.Fatalf("expected 10 seconds recorded, got %d", progress.TotalSeconds)
	}
}

func TestServiceSweepAndSessions(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	stale, err := f.svc.Begin(ctx, "test")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	f.clock.Advance(2 * time.Hour)
	fresh, err := f.svc.Begin(ctx, "test")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	count, err := f.svc.SweepStale(ctx, time.Hour)
	if err != nil {
		t.Fatalf("SweepStale: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 swept session, got %d", count)
	}
	abandoned, err := f.svc.Sessions(ctx, tracker.PhaseAbandoned)
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(abandoned) != 1 || abandoned[0].ID != stale.ID {
		t.Fatalf("unexpected abandoned sessions: %+v", abandoned)
	}
	active, err := f.svc.Sessions(ctx, tracker.ActivePhases()...)
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(active) != 1 || active[0].ID != fresh.ID {
		t.Fatalf("unexpected active sessions: %+v", active)
	}
	if count, err := f.svc.SweepStale(ctx, 0); err != nil || count != 0 {
		t.Fatalf("zero ttl should disable sweeping, got %d, %v", count, err)
	}
}

func TestServiceSweepSkipsWhileSessionBusy(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	session, err := f.svc.Begin(ctx, "test")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	f.clock.Advance(2 * time.Hour)

	f.detector.Started = make(chan struct{}, 1)
	f.detector.Block = make(chan struct{})
	photo := testsupport.PNG(t, 64, 64)
	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Detect(ctx, session.ID, bytes.NewReader(photo))
		done <- err
	}()
	<-f.detector.Started

	count, err := f.svc.SweepStale(ctx, time.Hour)
	if err != nil || count != 0 {
		t.Fatalf("sweep must not touch sessions while one is in flight, got %d, %v", count, err)
	}
	close(f.detector.Block)
	if err := <-done; err != nil {
		t.Fatalf("Detect: %v", err)
	}

	got, err := f.svc.Get(ctx, session.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Phase != tracker.PhaseSelecting {
		t.Fatalf("expected detection to win, got %s", got.Phase)
	}
	if count, err := f.svc.SweepStale(ctx, time.Hour); err != nil || count != 0 {
		t.Fatalf("freshly updated session must survive the next sweep, got %d, %v", count, err)
	}
}

func TestServiceDetectionsAuditTrail(t *testing.T) {
	f := newFixture(t, nil)
	session := f.detected(t)
	records, err := f.svc.Detections(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("Detections: %v", err)
	}
	if len(records) != 1 || records[0].TokensUsed != 640 || records[0].Model != "stub" {
		t.Fatalf("unexpected detections: %+v", records)
	}
	if diff := cmp.Diff([]string{"Taza", "Plato", "Vaso"}, records[0].Objects); diff != "" {
		t.Fatalf("objects mismatch (-want +got):\n%s", diff)
	}
}

func TestServiceAbandonAndReset(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	session := f.detected(t)

	abandoned, err := f.svc.Abandon(ctx, session.ID)
	if err != nil {
		t.Fatalf("Abandon: %v", err)
	}
	if abandoned.Phase != tracker.PhaseAbandoned {
		t.Fatalf("expected abandoned, got %s", abandoned.Phase)
	}
	if _, err := f.svc.Abandon(ctx, session.ID); tracker.Kind(err) != tracker.KindInvalidTransition {
		t.Fatalf("second abandon should be an invalid transition, got %v", err)
	}
	reset, err := f.svc.Reset(ctx, session.ID)
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if reset.Phase != tracker.PhaseAwaitingPhoto || reset.ImageB64 != "" {
		t.Fatalf("unexpected reset session: %+v", reset)
	}
}

func TestServiceHistoryCapsLimit(t *testing.T) {
	f := newFixture(t, nil)
	history, err := f.svc.History(context.Background(), tracker.MaxHistoryLimit*10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected empty history, got %d", len(history))
	}
}
