package sqlite_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	_ "modernc.org/sqlite"

	"tenk/internal/store/sqlite"
	"tenk/internal/testsupport"
	"tenk/internal/tracker"
)

func TestSaveAndGetSessionRoundTrip(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 10, 0, 0, 123456789, time.UTC)

	session := &tracker.Session{
		ID:         "s1",
		Phase:      tracker.PhasePlacing,
		Detected:   []string{"Taza", "Plato", "Vaso"},
		Order:      []string{"Plato", "Taza"},
		Placed:     []string{"Plato"},
		ImageB64:   "AAAA",
		Current:    "Taza",
		StartedAt:  base.Add(time.Minute),
		CreatedAt:  base,
		UpdatedAt:  base.Add(time.Minute),
		Source:     "web",
		TokensUsed: 812,
	}
	if err := store.SaveSession(ctx, session); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
	got, err := store.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if diff := cmp.Diff(session, got); diff != "" {
		t.Fatalf("session mismatch (-want +got):\n%s", diff)
	}

	session.Phase = tracker.PhaseCompleted
	session.Current = ""
	session.StartedAt = time.Time{}
	session.Placed = []string{"Plato", "Taza"}
	if err := store.SaveSession(ctx, session); err != nil {
		t.Fatalf("SaveSession update failed: %v", err)
	}
	got, err = store.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.Phase != tracker.PhaseCompleted || !got.StartedAt.IsZero() || got.Current != "" {
		t.Fatalf("unexpected updated session: %+v", got)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	if _, err := store.GetSession(context.Background(), "nope"); !errors.Is(err, tracker.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListSessionsFiltersByPhase(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	now := time.Now().UTC()
	phases := map[string]tracker.Phase{
		"a": tracker.PhaseAwaitingPhoto,
		"b": tracker.PhasePlacing,
		"c": tracker.PhaseCompleted,
	}
	offset := 0
	for id, phase := range phases {
		offset++
		stamp := now.Add(time.Duration(offset) * time.Second)
		if err := store.SaveSession(ctx, &tracker.Session{ID: id, Phase: phase, CreatedAt: stamp, UpdatedAt: stamp}); err != nil {
			t.Fatalf("SaveSession %s: %v", id, err)
		}
	}

	all, err := store.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i-1].UpdatedAt.Before(all[i].UpdatedAt) {
			t.Fatalf("expected newest first, got %v before %v", all[i-1].UpdatedAt, all[i].UpdatedAt)
		}
	}

	active, err := store.ListSessions(ctx, tracker.ActivePhases()...)
	if err != nil {
		t.Fatalf("ListSessions active failed: %v", err)
	}
	ids := make(map[string]bool)
	for _, s := range active {
		ids[s.ID] = true
	}
	if len(active) != 2 || !ids["a"] || !ids["b"] {
		t.Fatalf("unexpected active sessions: %v", ids)
	}
}

func TestAbandonStaleOnlyTouchesIdleActiveSessions(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	now := time.Now().UTC()
	old := now.Add(-2 * time.Hour)

	sessions := []*tracker.Session{
		{ID: "idle-placing", Phase: tracker.PhasePlacing, Current: "Taza", StartedAt: old, CreatedAt: old, UpdatedAt: old},
		{ID: "idle-done", Phase: tracker.PhaseCompleted, CreatedAt: old, UpdatedAt: old},
		{ID: "fresh", Phase: tracker.PhaseSelecting, CreatedAt: now, UpdatedAt: now},
	}
	for _, s := range sessions {
		if err := store.SaveSession(ctx, s); err != nil {
			t.Fatalf("SaveSession %s: %v", s.ID, err)
		}
	}

	count, err := store.AbandonStale(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("AbandonStale failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 abandoned session, got %d", count)
	}
	got, err := store.GetSession(ctx, "idle-placing")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.Phase != tracker.PhaseAbandoned || got.Current != "" || !got.StartedAt.IsZero() {
		t.Fatalf("unexpected abandoned session: %+v", got)
	}
	for id, want := range map[string]tracker.Phase{"idle-done": tracker.PhaseCompleted, "fresh": tracker.PhaseSelecting} {
		s, err := store.GetSession(ctx, id)
		if err != nil {
			t.Fatalf("GetSession %s: %v", id, err)
		}
		if s.Phase != want {
			t.Fatalf("session %s: expected %s, got %s", id, want, s.Phase)
		}
	}
}

func TestRecordPlacementIsIdempotent(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	placement := &tracker.Placement{
		ID: "p1", SessionID: "s1", Object: "Taza", Location: "Alacena",
		StartedAt: start, FinishedAt: start.Add(42 * time.Second), DurationSeconds: 42,
	}
	if err := store.RecordPlacement(ctx, placement); err != nil {
		t.Fatalf("RecordPlacement failed: %v", err)
	}
	retry := *placement
	retry.ID = "p1-retry"
	retry.FinishedAt = start.Add(50 * time.Second)
	retry.DurationSeconds = 50
	if err := store.RecordPlacement(ctx, &retry); !errors.Is(err, tracker.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	total, err := store.TotalSeconds(ctx)
	if err != nil {
		t.Fatalf("TotalSeconds failed: %v", err)
	}
	if total != 42 {
		t.Fatalf("expected total 42, got %d", total)
	}

	stored, err := store.PlacementByKey(ctx, retry.IdempotencyKey())
	if err != nil {
		t.Fatalf("PlacementByKey failed: %v", err)
	}
	if stored.ID != "p1" || stored.DurationSeconds != 42 {
		t.Fatalf("expected the original placement, got %+v", stored)
	}
	if _, err := store.PlacementByKey(ctx, "missing"); !errors.Is(err, tracker.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRecentPlacementsNewestFirstWithLimit(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	objects := []string{"Taza", "Plato", "Vaso"}
	for i, object := range objects {
		started := start.Add(time.Duration(i) * time.Minute)
		if err := store.RecordPlacement(ctx, &tracker.Placement{
			ID: object, SessionID: "s1", Object: object, Location: "Mesa",
			StartedAt: started, FinishedAt: started.Add(10 * time.Second), DurationSeconds: 10, OrderIndex: i,
		}); err != nil {
			t.Fatalf("RecordPlacement %s: %v", object, err)
		}
	}

	recent, err := store.RecentPlacements(ctx, 2)
	if err != nil {
		t.Fatalf("RecentPlacements failed: %v", err)
	}
	got := make([]string, 0, len(recent))
	for _, p := range recent {
		got = append(got, p.Object)
	}
	if diff := cmp.Diff([]string{"Vaso", "Plato"}, got); diff != "" {
		t.Fatalf("recent order mismatch (-want +got):\n%s", diff)
	}
	if recent[0].OrderIndex != 2 || !recent[0].StartedAt.Equal(start.Add(2*time.Minute)) {
		t.Fatalf("unexpected newest placement: %+v", recent[0])
	}

	total, err := store.TotalSeconds(ctx)
	if err != nil || total != 30 {
		t.Fatalf("TotalSeconds = %d, %v; want 30", total, err)
	}
}

func TestTotalSecondsEmpty(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	total, err := store.TotalSeconds(context.Background())
	if err != nil || total != 0 {
		t.Fatalf("TotalSeconds = %d, %v; want 0", total, err)
	}
}

func TestRecordDetection(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	record := &tracker.DetectionRecord{
		ID: "d1", SessionID: "s1", Objects: []string{"Taza"}, Raw: "- taza", Model: "gpt-4o", TokensUsed: 900,
		CreatedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	if err := store.RecordDetection(ctx, record); err != nil {
		t.Fatalf("RecordDetection failed: %v", err)
	}
	records, err := store.DetectionsForSession(ctx, "s1")
	if err != nil {
		t.Fatalf("DetectionsForSession failed: %v", err)
	}
	if diff := cmp.Diff([]*tracker.DetectionRecord{record}, records); diff != "" {
		t.Fatalf("detection mismatch (-want +got):\n%s", diff)
	}
}

func TestOpenRejectsSchemaMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tenk.db")
	store, err := sqlite.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	_ = store.Close()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	if _, err := db.Exec("UPDATE schema_version SET version = 999"); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	_ = db.Close()

	if _, err := sqlite.Open(path); !errors.Is(err, sqlite.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestOpenReusesExistingDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tenk.db")
	first, err := sqlite.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	ctx := context.Background()
	if err := first.SaveSession(ctx, tracker.NewSession("keep", "test", time.Now())); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
	_ = first.Close()

	second, err := sqlite.Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer second.Close()
	if _, err := second.GetSession(ctx, "keep"); err != nil {
		t.Fatalf("expected session to persist: %v", err)
	}
	if second.Path() != path {
		t.Fatalf("unexpected path %q", second.Path())
	}
}
