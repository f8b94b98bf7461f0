package daemon_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"

	"tenk/internal/api"
	"tenk/internal/testsupport"
	"tenk/internal/vision"
)

func TestAPIFullSessionFlow(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/api/sessions", api.CreateSessionRequest{Source: "cli"})
	expectStatus(t, rec, http.StatusCreated)
	created := decode[api.SessionResponse](t, rec)
	id := created.Session.ID
	if created.Session.Phase != "awaiting_photo" || created.Session.Source != "cli" {
		t.Fatalf("unexpected session: %+v", created.Session)
	}

	rec = h.upload(t, "/api/sessions/"+id+"/photo", "photo", testsupport.PNG(t, 1200, 800))
	expectStatus(t, rec, http.StatusOK)
	detected := decode[api.SessionResponse](t, rec)
	if diff := cmp.Diff([]string{"Libro", "Taza", "Cargador"}, detected.Session.Detected); diff != "" {
		t.Fatalf("detected mismatch (-want +got):\n%s", diff)
	}
	if detected.Session.ImageB64 != "" {
		t.Fatal("expected image to be omitted without images=1")
	}

	rec = h.do(t, http.MethodGet, "/api/sessions/"+id, nil)
	expectStatus(t, rec, http.StatusOK)
	loaded := decode[api.SessionResponse](t, rec)
	if len(loaded.Detections) != 1 || loaded.Detections[0].TokensUsed != 512 || loaded.Detections[0].Model != "stub" {
		t.Fatalf("expected the detection audit trail, got %+v", loaded.Detections)
	}

	rec = h.do(t, http.MethodPost, "/api/sessions/"+id+"/order", api.OrderRequest{Order: []string{"Taza", "Libro"}})
	expectStatus(t, rec, http.StatusOK)

	rec = h.do(t, http.MethodPost, "/api/sessions/"+id+"/start", nil)
	expectStatus(t, rec, http.StatusOK)
	started := decode[api.SessionResponse](t, rec)
	if started.Session.Phase != "placing" || started.Session.Current != "Taza" {
		t.Fatalf("expected to place Taza first, got %+v", started.Session)
	}

	rec = h.do(t, http.MethodPost, "/api/sessions/"+id+"/finish", api.FinishRequest{Location: "Cocina"})
	expectStatus(t, rec, http.StatusOK)
	finished := decode[api.SessionResponse](t, rec)
	if finished.Placement == nil || finished.Placement.Location != "Cocina" {
		t.Fatalf("expected placement in response, got %+v", finished.Placement)
	}
	if finished.Session.Phase != "awaiting_start" {
		t.Fatalf("expected awaiting_start, got %s", finished.Session.Phase)
	}

	rec = h.do(t, http.MethodPost, "/api/sessions/"+id+"/start", api.StartRequest{Object: "Libro"})
	expectStatus(t, rec, http.StatusOK)
	rec = h.do(t, http.MethodPost, "/api/sessions/"+id+"/finish", api.FinishRequest{Location: "Repisa"})
	expectStatus(t, rec, http.StatusOK)
	if got := decode[api.SessionResponse](t, rec).Session.Phase; got != "completed" {
		t.Fatalf("expected completed, got %s", got)
	}

	rec = h.do(t, http.MethodGet, "/api/history?limit=5&images=1", nil)
	expectStatus(t, rec, http.StatusOK)
	history := decode[api.HistoryResponse](t, rec)
	if len(history.Placements) != 2 {
		t.Fatalf("expected 2 placements, got %d", len(history.Placements))
	}
	if history.Placements[0].ImageB64 == "" {
		t.Fatal("expected thumbnails with images=1")
	}

	rec = h.do(t, http.MethodGet, "/api/status", nil)
	expectStatus(t, rec, http.StatusOK)
	status := decode[api.StatusView](t, rec)
	if status.StoreBackend != "sqlite" || !status.VisionAvailable || status.ActiveSessions != 0 {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestAPIErrorMapping(t *testing.T) {
	h := newHarness(t)
	created := decode[api.SessionResponse](t, h.do(t, http.MethodPost, "/api/sessions", nil))
	id := created.Session.ID

	cases := []struct {
		name   string
		rec    func() *httptest.ResponseRecorder
		status int
		kind   string
	}{
		{
			name:   "unknown session",
			rec:    func() *httptest.ResponseRecorder { return h.do(t, http.MethodGet, "/api/sessions/missing", nil) },
			status: http.StatusNotFound,
			kind:   "not_found",
		},
		{
			name: "start before photo",
			rec: func() *httptest.ResponseRecorder {
				return h.do(t, http.MethodPost, "/api/sessions/"+id+"/start", nil)
			},
			status: http.StatusConflict,
			kind:   "invalid_transition",
		},
		{
			name: "not an image",
			rec: func() *httptest.ResponseRecorder {
				return h.upload(t, "/api/sessions/"+id+"/photo", "photo", []byte("definitely not an image"))
			},
			status: http.StatusBadRequest,
			kind:   "validation",
		},
		{
			name: "oversized dimensions",
			rec: func() *httptest.ResponseRecorder {
				return h.upload(t, "/api/sessions/"+id+"/photo", "photo", testsupport.PNGHeader(30000, 30000))
			},
			status: http.StatusRequestEntityTooLarge,
			kind:   "validation",
		},
		{
			name: "missing photo field",
			rec: func() *httptest.ResponseRecorder {
				return h.upload(t, "/api/sessions/"+id+"/photo", "image", testsupport.PNG(t, 20, 20))
			},
			status: http.StatusBadRequest,
			kind:   "validation",
		},
		{
			name:   "bad phase filter",
			rec:    func() *httptest.ResponseRecorder { return h.do(t, http.MethodGet, "/api/sessions?phase=sleeping", nil) },
			status: http.StatusBadRequest,
			kind:   "validation",
		},
		{
			name:   "bad limit",
			rec:    func() *httptest.ResponseRecorder { return h.do(t, http.MethodGet, "/api/history?limit=-1", nil) },
			status: http.StatusBadRequest,
			kind:   "validation",
		},
		{
			name:   "unknown route",
			rec:    func() *httptest.ResponseRecorder { return h.do(t, http.MethodGet, "/api/nothing", nil) },
			status: http.StatusNotFound,
			kind:   "not_found",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := tc.rec()
			expectStatus(t, rec, tc.status)
			body := decode[api.ErrorResponse](t, rec)
			if body.Kind != tc.kind || body.Error == "" {
				t.Fatalf("unexpected error body: %+v", body)
			}
		})
	}
}

func TestAPIDetectionFailures(t *testing.T) {
	h := newHarness(t)
	create := func() string {
		return decode[api.SessionResponse](t, h.do(t, http.MethodPost, "/api/sessions", nil)).Session.ID
	}

	h.detector.Objects = nil
	id := create()
	rec := h.upload(t, "/api/sessions/"+id+"/photo", "photo", testsupport.PNG(t, 40, 40))
	expectStatus(t, rec, http.StatusUnprocessableEntity)

	h.detector.Err = &vision.UpstreamError{Err: errors.New("503 from provider")}
	rec = h.upload(t, "/api/sessions/"+id+"/photo", "photo", testsupport.PNG(t, 40, 40))
	expectStatus(t, rec, http.StatusBadGateway)

	rec = h.do(t, http.MethodGet, "/api/sessions/"+id, nil)
	if got := decode[api.SessionResponse](t, rec).Session.Phase; got != "awaiting_photo" {
		t.Fatalf("failed detection must leave the session waiting for a photo, got %s", got)
	}
}

func TestAPIRequiresToken(t *testing.T) {
	h := newHarness(t, testsupport.WithAPIToken("s3cret"))

	req := httptest.NewRequest(http.MethodGet, "/api/progress", nil)
	rec := httptest.NewRecorder()
	h.daemon.Handler().ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusUnauthorized)

	req = httptest.NewRequest(http.MethodGet, "/api/progress", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	h.daemon.Handler().ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusUnauthorized)

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec = httptest.NewRecorder()
	h.daemon.Handler().ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusOK)

	rec = h.do(t, http.MethodGet, "/api/progress", nil)
	expectStatus(t, rec, http.StatusOK)
	progress := decode[api.ProgressView](t, rec)
	if progress.GoalHours != 10000 || progress.TotalSeconds != 0 {
		t.Fatalf("unexpected progress: %+v", progress)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected request id header")
	}
}

func TestAPIListSessionsByPhase(t *testing.T) {
	h := newHarness(t)
	first := decode[api.SessionResponse](t, h.do(t, http.MethodPost, "/api/sessions", nil)).Session.ID
	second := decode[api.SessionResponse](t, h.do(t, http.MethodPost, "/api/sessions", nil)).Session.ID
	expectStatus(t, h.do(t, http.MethodPost, "/api/sessions/"+second+"/abandon", nil), http.StatusOK)

	rec := h.do(t, http.MethodGet, "/api/sessions?phase=awaiting_photo", nil)
	expectStatus(t, rec, http.StatusOK)
	listed := decode[api.SessionsResponse](t, rec)
	if len(listed.Sessions) != 1 || listed.Sessions[0].ID != first {
		t.Fatalf("expected only %s, got %+v", first, listed.Sessions)
	}

	rec = h.do(t, http.MethodPost, "/api/sessions/"+second+"/abandon", nil)
	expectStatus(t, rec, http.StatusConflict)
}
