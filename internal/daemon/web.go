package daemon

import (
	"cmp"
	"context"
	"crypto/subtle"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"

	"tenk/internal/api"
	"tenk/internal/logging"
	"tenk/internal/tracker"
)

const sessionCookie = "tenk_session"

//go:embed templates/*.html
var templateFS embed.FS

type webServer struct {
	logger *slog.Logger
	daemon *Daemon
	pages  *template.Template
	token  string
}

type wizardPage struct {
	Session         api.SessionView
	Progress        api.ProgressView
	History         []api.PlacementView
	Error           string
	VisionAvailable bool
	UploadLimit     string
	Timezone        string
}

type loginPage struct {
	Error string
}

func newWebServer(d *Daemon, token string) (*webServer, error) {
	loc := d.cfg.Location()
	pages, err := template.New("wizard.html").Funcs(template.FuncMap{
		"thumb": thumbURL,
		"clock": formatClock,
		"inc":   func(i int) int { return i + 1 },
		"hours": func(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) },
		"has":   slices.Contains[[]string, string],
		"local": func(value string) string { return api.LocalTimestamp(value, loc) },
	}).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &webServer{
		logger: logging.NewComponentLogger(d.logger, "web"),
		daemon: d,
		pages:  pages,
		token:  token,
	}, nil
}

func (s *webServer) register(r *mux.Router) {
	r.HandleFunc("/login", s.handleLoginForm).Methods(http.MethodGet)
	r.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	r.Handle("/", s.guard(s.handleIndex)).Methods(http.MethodGet)
	r.Handle("/photo", s.guard(s.handlePhoto)).Methods(http.MethodPost)
	r.Handle("/order", s.guard(s.handleOrder)).Methods(http.MethodPost)
	r.Handle("/start", s.guard(s.handleStart)).Methods(http.MethodPost)
	r.Handle("/finish", s.guard(s.handleFinish)).Methods(http.MethodPost)
	r.Handle("/abandon", s.guard(s.handleAbandon)).Methods(http.MethodPost)
	r.Handle("/reset", s.guard(s.handleReset)).Methods(http.MethodPost)
}

// guard requires the login cookie whenever server.api_token is set. Page
// loads are sent to the login form; form posts are refused outright.
func (s *webServer) guard(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if webAuthorized(r, s.token) {
			next(w, r)
			return
		}
		if r.Method == http.MethodGet {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		s.renderLogin(w, r, http.StatusUnauthorized, "Inicia sesión con el token del daemon.")
	})
}

func (s *webServer) handleLoginForm(w http.ResponseWriter, r *http.Request) {
	if webAuthorized(r, s.token) {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	s.renderLogin(w, r, http.StatusOK, "")
}

func (s *webServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.token == "" {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	supplied := strings.TrimSpace(r.PostFormValue("token"))
	if subtle.ConstantTimeCompare([]byte(supplied), []byte(s.token)) != 1 {
		logging.WithContext(r.Context(), s.logger).Warn("web login rejected",
			logging.String("remote", r.RemoteAddr))
		s.renderLogin(w, r, http.StatusUnauthorized, "Token incorrecto.")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     authCookie,
		Value:    webAuthValue(s.token),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *webServer) renderLogin(w http.ResponseWriter, r *http.Request, status int, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := s.pages.ExecuteTemplate(w, "login.html", loginPage{Error: message}); err != nil {
		logging.WithContext(r.Context(), s.logger).Error("render login", logging.Error(err))
	}
}

func (s *webServer) handleIndex(w http.ResponseWriter, r *http.Request) {
	session, err := s.currentSession(w, r)
	if err != nil {
		s.renderError(w, r, nil, err)
		return
	}
	s.render(w, r, http.StatusOK, session, "")
}

func (s *webServer) handlePhoto(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, func(ctx context.Context, id string) (*tracker.Session, error) {
		file, err := s.daemon.readUpload(w, r, "photo")
		if err != nil {
			return nil, err
		}
		defer file.Close()
		return s.daemon.service.Detect(ctx, id, file)
	})
}

func (s *webServer) handleOrder(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, func(ctx context.Context, id string) (*tracker.Session, error) {
		session, err := s.daemon.service.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := r.ParseForm(); err != nil {
			return nil, &tracker.ValidationError{Field: "order", Message: "unreadable form"}
		}
		return s.daemon.service.ConfirmOrder(ctx, id, selectionFromForm(session.Detected, r))
	})
}

func (s *webServer) handleStart(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, func(ctx context.Context, id string) (*tracker.Session, error) {
		return s.daemon.service.Start(ctx, id, r.PostFormValue("object"))
	})
}

func (s *webServer) handleFinish(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, func(ctx context.Context, id string) (*tracker.Session, error) {
		session, _, err := s.daemon.service.Finish(ctx, id, r.PostFormValue("location"))
		return session, err
	})
}

func (s *webServer) handleAbandon(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, func(ctx context.Context, id string) (*tracker.Session, error) {
		return s.daemon.service.Abandon(ctx, id)
	})
}

// handleReset clears an active session, or starts a new one once the current
// session has ended so its record stays intact.
func (s *webServer) handleReset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := sessionIDFromCookie(r)
	if id != "" {
		session, err := s.daemon.service.Get(ctx, id)
		if err == nil && !session.Phase.IsTerminal() {
			if _, err := s.daemon.service.Reset(ctx, id); err != nil {
				s.renderError(w, r, session, err)
				return
			}
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		}
	}
	if _, err := s.beginSession(w, r); err != nil {
		s.renderError(w, r, nil, err)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// mutate runs op against the cookie session, redirecting on success and
// re-rendering the page with the error otherwise.
func (s *webServer) mutate(w http.ResponseWriter, r *http.Request, op func(context.Context, string) (*tracker.Session, error)) {
	id := sessionIDFromCookie(r)
	if id == "" {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	if _, err := op(r.Context(), id); err != nil {
		current, getErr := s.daemon.service.Get(r.Context(), id)
		if getErr != nil {
			current = nil
		}
		s.renderError(w, r, current, err)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *webServer) currentSession(w http.ResponseWriter, r *http.Request) (*tracker.Session, error) {
	if id := sessionIDFromCookie(r); id != "" {
		session, err := s.daemon.service.Get(r.Context(), id)
		if err == nil {
			return session, nil
		}
		if !errors.Is(err, tracker.ErrNotFound) {
			return nil, err
		}
	}
	return s.beginSession(w, r)
}

func (s *webServer) beginSession(w http.ResponseWriter, r *http.Request) (*tracker.Session, error) {
	session, err := s.daemon.service.Begin(r.Context(), "web")
	if err != nil {
		return nil, err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    session.ID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(s.daemon.cfg.SessionTTL().Seconds()) + 3600,
	})
	return session, nil
}

func (s *webServer) renderError(w http.ResponseWriter, r *http.Request, session *tracker.Session, err error) {
	status, kind := statusForError(err)
	if status >= http.StatusInternalServerError {
		logging.WithContext(r.Context(), s.logger).Error("web request failed",
			logging.String("path", r.URL.Path),
			logging.String("kind", kind),
			logging.Error(err),
		)
	}
	s.render(w, r, status, session, userMessage(kind, err))
}

func (s *webServer) render(w http.ResponseWriter, r *http.Request, status int, session *tracker.Session, message string) {
	ctx := r.Context()
	data := wizardPage{
		Error:           message,
		VisionAvailable: s.daemon.opts.VisionModel != "",
		UploadLimit:     humanize.IBytes(uint64(max(s.daemon.cfg.MaxUploadBytes(), 0))),
		Timezone:        s.daemon.cfg.Location().String(),
	}
	if session != nil {
		data.Session = api.FromSession(session, s.daemon.service.Now(), true)
	}
	if progress, err := s.daemon.service.Progress(ctx); err == nil {
		data.Progress = api.FromProgress(progress)
	} else {
		logging.WithContext(ctx, s.logger).Warn("progress unavailable", logging.Error(err))
	}
	if history, err := s.daemon.service.History(ctx, 0); err == nil {
		data.History = api.FromPlacements(history, true)
	} else {
		logging.WithContext(ctx, s.logger).Warn("history unavailable", logging.Error(err))
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := s.pages.ExecuteTemplate(w, "wizard.html", data); err != nil {
		logging.WithContext(ctx, s.logger).Error("render wizard", logging.Error(err))
	}
}

func sessionIDFromCookie(r *http.Request) string {
	cookie, err := r.Cookie(sessionCookie)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(cookie.Value)
}

// selectionFromForm reads checked "pick" indexes and orders them by their
// "rank:<index>" inputs. Unranked picks keep detection order after ranked ones.
func selectionFromForm(detected []string, r *http.Request) []string {
	type pick struct {
		index int
		rank  int
	}
	var picks []pick
	for _, raw := range r.PostForm["pick"] {
		index, err := strconv.Atoi(raw)
		if err != nil || index < 0 || index >= len(detected) {
			continue
		}
		rank, err := strconv.Atoi(strings.TrimSpace(r.PostFormValue("rank:" + raw)))
		if err != nil || rank <= 0 {
			rank = len(detected) + index + 1
		}
		picks = append(picks, pick{index: index, rank: rank})
	}
	slices.SortStableFunc(picks, func(a, b pick) int {
		return cmp.Or(cmp.Compare(a.rank, b.rank), cmp.Compare(a.index, b.index))
	})
	selection := make([]string, 0, len(picks))
	for _, p := range picks {
		selection = append(selection, detected[p.index])
	}
	return selection
}

func userMessage(kind string, err error) string {
	switch kind {
	case tracker.KindNoObjects:
		return "No se detectaron objetos en la foto. Intenta con otra imagen."
	case tracker.KindUpstream:
		return "El servicio de visión no respondió. Intenta de nuevo en un momento."
	case tracker.KindConfiguration:
		return "La detección no está configurada: falta vision.api_key."
	case tracker.KindInternal:
		return "Error interno; revisa el registro del daemon."
	default:
		return err.Error()
	}
}

func thumbURL(b64 string) template.URL {
	if b64 == "" {
		return ""
	}
	return template.URL("data:image/jpeg;base64," + b64)
}

func formatClock(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, seconds/60%60, seconds%60)
}
