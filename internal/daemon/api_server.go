package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"tenk/internal/api"
	"tenk/internal/imaging"
	"tenk/internal/logging"
	"tenk/internal/tracker"
)

const maxJSONBody = 1 << 20

type apiServer struct {
	logger *slog.Logger
	daemon *Daemon
}

func newAPIServer(d *Daemon) *apiServer {
	return &apiServer{
		logger: logging.NewComponentLogger(d.logger, "api"),
		daemon: d,
	}
}

// register mounts the JSON API on r. Health stays reachable without a token so
// supervisors can check the daemon.
func (s *apiServer) register(r *mux.Router, token string) {
	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)

	sub := r.PathPrefix("/api").Subrouter()
	sub.Use(authMiddleware(token))
	sub.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	sub.HandleFunc("/progress", s.handleProgress).Methods(http.MethodGet)
	sub.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)
	sub.HandleFunc("/sessions", s.handleListSessions).Methods(http.MethodGet)
	sub.HandleFunc("/sessions", s.handleCreateSession).Methods(http.MethodPost)
	sub.HandleFunc("/sessions/{id}", s.handleGetSession).Methods(http.MethodGet)
	sub.HandleFunc("/sessions/{id}/photo", s.handlePhoto).Methods(http.MethodPost)
	sub.HandleFunc("/sessions/{id}/order", s.handleOrder).Methods(http.MethodPost)
	sub.HandleFunc("/sessions/{id}/start", s.handleStart).Methods(http.MethodPost)
	sub.HandleFunc("/sessions/{id}/finish", s.handleFinish).Methods(http.MethodPost)
	sub.HandleFunc("/sessions/{id}/abandon", s.handleAbandon).Methods(http.MethodPost)
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.daemon.Health(r.Context())
	status := http.StatusOK
	if health.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, health)
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.daemon.Status(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *apiServer) handleProgress(w http.ResponseWriter, r *http.Request) {
	progress, err := s.daemon.service.Progress(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromProgress(progress))
}

func (s *apiServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit := 0
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}
	placements, err := s.daemon.service.History(r.Context(), limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.HistoryResponse{
		Placements: api.FromPlacements(placements, flagValue(query.Get("images"))),
	})
}

func (s *apiServer) handleListSessions(w http.ResponseWriter, r *http.Request) {
	var phases []tracker.Phase
	for _, value := range r.URL.Query()["phase"] {
		for _, part := range strings.Split(value, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			phase, ok := tracker.ParsePhase(part)
			if !ok {
				s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown phase %q", strings.TrimSpace(part)))
				return
			}
			phases = append(phases, phase)
		}
	}
	sessions, err := s.daemon.service.Sessions(r.Context(), phases...)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.SessionsResponse{
		Sessions: api.FromSessions(sessions, s.daemon.service.Now()),
	})
}

func (s *apiServer) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req api.CreateSessionRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	source := strings.TrimSpace(req.Source)
	if source == "" {
		source = "api"
	}
	session, err := s.daemon.service.Begin(r.Context(), source)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeSession(w, r, http.StatusCreated, session, nil)
}

func (s *apiServer) handleGetSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, err := s.daemon.service.Get(ctx, mux.Vars(r)["id"])
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	detections, err := s.daemon.service.Detections(ctx, session.ID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.SessionResponse{
		Session:    api.FromSession(session, s.daemon.service.Now(), flagValue(r.URL.Query().Get("images"))),
		Detections: api.FromDetections(detections),
	})
}

func (s *apiServer) handlePhoto(w http.ResponseWriter, r *http.Request) {
	file, err := s.daemon.readUpload(w, r, "photo")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	defer file.Close()

	session, err := s.daemon.service.Detect(r.Context(), mux.Vars(r)["id"], file)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeSession(w, r, http.StatusOK, session, nil)
}

func (s *apiServer) handleOrder(w http.ResponseWriter, r *http.Request) {
	var req api.OrderRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	session, err := s.daemon.service.ConfirmOrder(r.Context(), mux.Vars(r)["id"], req.Order)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeSession(w, r, http.StatusOK, session, nil)
}

func (s *apiServer) handleStart(w http.ResponseWriter, r *http.Request) {
	var req api.StartRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	session, err := s.daemon.service.Start(r.Context(), mux.Vars(r)["id"], req.Object)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeSession(w, r, http.StatusOK, session, nil)
}

func (s *apiServer) handleFinish(w http.ResponseWriter, r *http.Request) {
	var req api.FinishRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	session, placement, err := s.daemon.service.Finish(r.Context(), mux.Vars(r)["id"], req.Location)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	view := api.FromPlacement(placement, false)
	s.writeSession(w, r, http.StatusOK, session, &view)
}

func (s *apiServer) handleAbandon(w http.ResponseWriter, r *http.Request) {
	session, err := s.daemon.service.Abandon(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeSession(w, r, http.StatusOK, session, nil)
}

func (s *apiServer) writeSession(w http.ResponseWriter, r *http.Request, status int, session *tracker.Session, placement *api.PlacementView) {
	withImage := flagValue(r.URL.Query().Get("images"))
	s.writeJSON(w, status, api.SessionResponse{
		Session:   api.FromSession(session, s.daemon.service.Now(), withImage),
		Placement: placement,
	})
}

// decodeJSON reads an optional JSON body. An empty body leaves dst untouched.
func (s *apiServer) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, maxJSONBody)
	decoder := json.NewDecoder(body)
	if err := decoder.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		s.writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func (s *apiServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := statusForError(err)
	if status >= http.StatusInternalServerError {
		logging.WithContext(r.Context(), s.logger).Error("api request failed",
			logging.String("path", r.URL.Path),
			logging.String("kind", kind),
			logging.Error(err),
		)
	}
	writeJSONError(w, status, err.Error(), kind)
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	writeJSONError(w, status, message, tracker.KindValidation)
}

func writeJSONError(w http.ResponseWriter, status int, message, kind string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: message, Kind: kind})
}

// statusForError maps tracker error kinds to HTTP statuses.
func statusForError(err error) (int, string) {
	var tooLarge *http.MaxBytesError
	if errors.Is(err, imaging.ErrTooLarge) || errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge, tracker.KindValidation
	}
	kind := tracker.Kind(err)
	switch kind {
	case tracker.KindValidation:
		return http.StatusBadRequest, kind
	case tracker.KindInvalidTransition, tracker.KindDuplicate:
		return http.StatusConflict, kind
	case tracker.KindNotFound:
		return http.StatusNotFound, kind
	case tracker.KindNoObjects:
		return http.StatusUnprocessableEntity, kind
	case tracker.KindUpstream:
		return http.StatusBadGateway, kind
	case tracker.KindConfiguration:
		return http.StatusServiceUnavailable, kind
	default:
		return http.StatusInternalServerError, tracker.KindInternal
	}
}

func flagValue(value string) bool {
	value = strings.TrimSpace(value)
	return value == "1" || strings.EqualFold(value, "true")
}
