package daemon_test

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tenk/internal/config"
	"tenk/internal/daemon"
	"tenk/internal/imaging"
	"tenk/internal/testsupport"
	"tenk/internal/tracker"
)

type harness struct {
	cfg      *config.Config
	daemon   *daemon.Daemon
	service  *tracker.Service
	store    tracker.Store
	detector *testsupport.StubDetector
	token    string
}

func newHarness(t *testing.T, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	st := testsupport.MustOpenStore(t, cfg)
	detector := &testsupport.StubDetector{Objects: []string{"Libro", "Taza", "Cargador"}, TokensUsed: 512}
	service := tracker.NewService(st, detector, tracker.Options{
		Photo: imaging.Options{
			MaxBytes:  cfg.MaxUploadBytes(),
			MaxPixels: cfg.Image.MaxPixels(),
			MaxWidth:  cfg.Image.MaxWidth,
			Quality:   cfg.Image.JPEGQuality,
		},
		GoalHours:    cfg.Tracker.GoalHours,
		HistoryLimit: cfg.Tracker.HistoryLimit,
	})
	d, err := daemon.New(cfg, st, service, nil, daemon.Options{Version: "test", VisionModel: "stub"})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	return &harness{cfg: cfg, daemon: d, service: service, store: st, detector: detector, token: cfg.Server.APIToken}
}

func (h *harness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	rec := httptest.NewRecorder()
	h.daemon.Handler().ServeHTTP(rec, req)
	return rec
}

func (h *harness) upload(t *testing.T, path string, field string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := multipartRequest(t, path, field, data)
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	rec := httptest.NewRecorder()
	h.daemon.Handler().ServeHTTP(rec, req)
	return rec
}

func multipartRequest(t *testing.T, path, field string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile(field, "photo.png")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", strings.TrimSpace(rec.Body.String()), err)
	}
	return out
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("expected status %d, got %d: %s", want, rec.Code, strings.TrimSpace(rec.Body.String()))
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}
