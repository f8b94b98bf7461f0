package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	"tenk/internal/api"
	"tenk/internal/config"
	"tenk/internal/logging"
	"tenk/internal/store"
	"tenk/internal/tracker"
)

// Options carries build and runtime details reported by Status.
type Options struct {
	Version     string
	VisionModel string
	// DetectionBudget is the longest a photo detection may take. Response
	// write deadlines are stretched to cover it.
	DetectionBudget time.Duration
}

const (
	defaultWriteTimeout = 120 * time.Second
	writeTimeoutMargin  = 30 * time.Second
	shutdownGrace       = 5 * time.Second
)

// Daemon serves the wizard and API and enforces single-instance execution.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   tracker.Store
	service *tracker.Service
	opts    Options
	handler http.Handler

	lockPath string
	lock     *flock.Flock

	mu        sync.Mutex
	running   atomic.Bool
	cancel    context.CancelFunc
	group     *errgroup.Group
	addr      string
	startedAt time.Time
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, st tracker.Store, service *tracker.Service, logger *slog.Logger, opts Options) (*Daemon, error) {
	if cfg == nil || st == nil || service == nil {
		return nil, errors.New("daemon requires config, store, and tracker service")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    st,
		service:  service,
		opts:     opts,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	web, err := newWebServer(d, strings.TrimSpace(cfg.Server.APIToken))
	if err != nil {
		return nil, err
	}
	d.handler = d.buildRouter(web)
	return d, nil
}

func (d *Daemon) buildRouter(web *webServer) http.Handler {
	router := mux.NewRouter()
	router.Use(requestLogger(logging.NewComponentLogger(d.logger, "http")))
	newAPIServer(d).register(router, strings.TrimSpace(d.cfg.Server.APIToken))
	web.register(router)
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			writeJSONError(w, http.StatusNotFound, "not found", tracker.KindNotFound)
			return
		}
		http.NotFound(w, r)
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed", tracker.KindValidation)
	})
	return router
}

// Handler exposes the HTTP routes, mainly for tests.
func (d *Daemon) Handler() http.Handler {
	return d.handler
}

// Start acquires the daemon lock, binds the listener and launches the HTTP
// server and stale-session sweeper. It returns once the listener is bound.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if err := d.cfg.EnsureDirectories(); err != nil {
		return err
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another tenk daemon instance is already running")
	}

	listener, err := net.Listen("tcp", d.cfg.Server.Bind)
	if err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("api listen: %w", err)
	}

	logging.PruneLogs(d.logger, d.cfg.Paths.LogDir, "tenk*.log", logging.LogFileName, d.cfg.Logging.RetentionDays, time.Now())

	runCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(runCtx)
	// Requests outlive the run context so shutdown can drain them; they are
	// cancelled only once the grace period ends.
	requestCtx, cancelRequests := context.WithCancel(context.WithoutCancel(ctx))
	server := &http.Server{
		Handler:           d.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      d.writeTimeout(),
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return requestCtx },
	}

	group.Go(func() error {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		defer cancelRequests()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api shutdown: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		d.sweepLoop(groupCtx)
		return nil
	})

	d.mu.Lock()
	d.cancel = cancel
	d.group = group
	d.addr = listener.Addr().String()
	d.startedAt = time.Now()
	d.mu.Unlock()
	d.running.Store(true)

	d.logger.Info("tenk daemon started",
		logging.String("address", d.addr),
		logging.String("lock", d.lockPath),
		logging.String("store", d.cfg.Store.Backend),
		logging.Bool("vision", d.opts.VisionModel != ""),
	)
	return nil
}

func (d *Daemon) writeTimeout() time.Duration {
	return max(defaultWriteTimeout, d.opts.DetectionBudget+writeTimeoutMargin)
}

// Wait blocks until the server and sweeper exit and reports the first failure.
func (d *Daemon) Wait() error {
	d.mu.Lock()
	group := d.group
	d.mu.Unlock()
	if group == nil {
		return nil
	}
	return group.Wait()
}

// Stop shuts down the HTTP server and sweeper and releases the daemon lock.
func (d *Daemon) Stop() error {
	if !d.running.Load() {
		return nil
	}
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	err := d.Wait()
	if unlockErr := d.lock.Unlock(); unlockErr != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(unlockErr))
	}
	d.running.Store(false)
	d.logger.Info("tenk daemon stopped")
	return err
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	stopErr := d.Stop()
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			return err
		}
	}
	return stopErr
}

// Addr reports the bound listener address while running.
func (d *Daemon) Addr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.addr
}

// LockPath reports the single-instance lock file.
func (d *Daemon) LockPath() string {
	return d.lockPath
}

// Status aggregates runtime information for the API and CLI.
func (d *Daemon) Status(ctx context.Context) (api.StatusView, error) {
	progress, err := d.service.Progress(ctx)
	if err != nil {
		return api.StatusView{}, err
	}
	sessions, err := d.service.Sessions(ctx, tracker.ActivePhases()...)
	if err != nil {
		return api.StatusView{}, err
	}
	counts := make(map[string]int, len(tracker.ActivePhases()))
	for _, phase := range tracker.ActivePhases() {
		counts[string(phase)] = 0
	}
	for _, session := range sessions {
		counts[string(session.Phase)]++
	}

	d.mu.Lock()
	startedAt := d.startedAt
	d.mu.Unlock()
	status := api.StatusView{
		Version:         d.opts.Version,
		StoreBackend:    d.cfg.Store.Backend,
		VisionModel:     d.opts.VisionModel,
		VisionAvailable: d.opts.VisionModel != "",
		ActiveSessions:  len(sessions),
		PhaseCounts:     counts,
		Progress:        api.FromProgress(progress),
	}
	if !startedAt.IsZero() {
		status.StartedAt = startedAt.UTC().Format(time.RFC3339)
	}
	return status, nil
}

// Health pings the store when the backend supports it.
func (d *Daemon) Health(ctx context.Context) api.HealthView {
	health := api.HealthView{Status: "ok", Store: d.cfg.Store.Backend}
	pinger, ok := d.store.(store.Pinger)
	if !ok {
		return health
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pinger.Ping(pingCtx); err != nil {
		health.Status = "degraded"
		health.Detail = err.Error()
	}
	return health
}

func (d *Daemon) sweepLoop(ctx context.Context) {
	interval := d.cfg.SweepInterval()
	ttl := d.cfg.SessionTTL()
	if interval <= 0 || ttl <= 0 {
		return
	}
	logger := logging.NewComponentLogger(d.logger, "sweeper")
	sweep := func() {
		if _, err := d.service.SweepStale(ctx, ttl); err != nil && ctx.Err() == nil {
			logging.WarnWithHint(logger, "stale session sweep failed", "check store connectivity",
				logging.Error(err))
		}
	}
	sweep()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}

// readUpload parses a multipart request and opens field, enforcing
// server.max_upload_mib on the whole body.
func (d *Daemon) readUpload(w http.ResponseWriter, r *http.Request, field string) (multipart.File, error) {
	if limit := d.cfg.MaxUploadBytes(); limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit+(1<<20))
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("upload: %w", err)
		}
		return nil, &tracker.ValidationError{Field: field, Message: "expected a multipart/form-data upload"}
	}
	file, _, err := r.FormFile(field)
	if err != nil {
		return nil, &tracker.ValidationError{Field: field, Message: "missing file"}
	}
	return file, nil
}
