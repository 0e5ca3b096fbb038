package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/shrike-backup/shrike/internal/store"
	shrikesync "github.com/shrike-backup/shrike/internal/sync"
)

const bearerPrefix = "Bearer "

// Syncer runs a sync and reports whether one is in flight
type Syncer interface {
	Execute(entries []store.Entry, settings store.Settings) (*shrikesync.Result, error)
	IsRunning() bool
}

// StatusResponse is the body of GET /status
type StatusResponse struct {
	Status       shrikesync.Status `json:"status"`
	EntriesCount int               `json:"entries_count"`
	Destination  string            `json:"destination"`
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error string `json:"error"`
}

// Server implements the authenticated trigger gateway
type Server struct {
	store   store.Store
	syncer  Syncer
	logger  *slog.Logger
	token   []byte
	limiter *limiter.Limiter
}

// Option configures a Server
type Option func(*Server)

// WithRateLimit limits requests per client IP, checked ahead of authorization
func WithRateLimit(rate limiter.Rate) Option {
	return func(s *Server) {
		s.limiter = limiter.New(memory.NewStore(), rate)
	}
}

// NewServer creates a gateway that authorizes requests against token.
// The token is fixed for the server's lifetime so that credentials are
// checked before the store is touched.
func NewServer(st store.Store, syncer Syncer, token string, logger *slog.Logger, opts ...Option) (*Server, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("webhook token must not be empty")
	}

	s := &Server{
		store:  st,
		syncer: syncer,
		logger: logger,
		token:  []byte(token),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Handler returns the HTTP routes of the gateway
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.authorize(s.handleStatus))
	mux.HandleFunc("POST /sync", s.authorize(s.handleSync))

	if s.limiter == nil {
		return mux
	}
	return stdlib.NewMiddleware(s.limiter,
		stdlib.WithLimitReachedHandler(func(w http.ResponseWriter, r *http.Request) {
			s.logger.Warn("rate limit exceeded", "remote", r.RemoteAddr, "path", r.URL.Path)
			writeJSON(w, http.StatusTooManyRequests, ErrorResponse{Error: "rate limit exceeded"})
		}),
		stdlib.WithErrorHandler(func(w http.ResponseWriter, r *http.Request, err error) {
			s.fail(w, r, err)
		}),
	).Handler(mux)
}

// Start serves on ln until ctx is cancelled. When syncOnStart is set, one
// sync runs before the listener starts accepting requests.
func (s *Server) Start(ctx context.Context, ln net.Listener, syncOnStart bool) error {
	if syncOnStart {
		s.logger.Info("performing initial sync before starting webhook server")
		if _, err := s.runSync(); err != nil {
			s.logger.Error("initial sync failed", "error", err)
		}
	}

	server := &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		// No WriteTimeout: POST /sync responds only after rsync exits.
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1 MB
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("webhook server starting", "addr", ln.Addr().String())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down webhook server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// authorize rejects requests without the expected bearer token before the
// wrapped handler can load anything
func (s *Server) authorize(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.verifyToken(r.Header.Get("Authorization")) {
			s.logger.Warn("rejecting unauthorized request",
				"method", r.Method,
				"path", r.URL.Path,
				"remote", r.RemoteAddr)
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
			return
		}
		next(w, r)
	}
}

// verifyToken checks an Authorization header value of the form "Bearer <token>"
func (s *Server) verifyToken(header string) bool {
	if !strings.HasPrefix(header, bearerPrefix) {
		return false
	}
	presented := []byte(strings.TrimPrefix(header, bearerPrefix))
	return subtle.ConstantTimeCompare(presented, s.token) == 1
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.LoadSettings()
	if err != nil {
		s.fail(w, r, shrikesync.StoreError(err, "failed to load settings"))
		return
	}
	entries, err := s.store.LoadItems()
	if err != nil {
		s.fail(w, r, shrikesync.StoreError(err, "failed to load entries"))
		return
	}

	destination, err := shrikesync.DestinationPath(settings)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	status := shrikesync.StatusIdle
	if s.syncer.IsRunning() {
		status = shrikesync.StatusRunning
	}

	writeJSON(w, http.StatusOK, StatusResponse{
		Status:       status,
		EntriesCount: len(entries),
		Destination:  destination,
	})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("sync requested", "remote", r.RemoteAddr)

	result, err := s.runSync()
	if err != nil {
		if errors.Is(err, errNoEntries) {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

var errNoEntries = errors.New("no entries to sync")

// runSync loads the store and runs the coordinator. It blocks for the whole
// rsync run; net/http gives each request its own goroutine.
func (s *Server) runSync() (*shrikesync.Result, error) {
	settings, err := s.store.LoadSettings()
	if err != nil {
		return nil, shrikesync.StoreError(err, "failed to load settings")
	}
	entries, err := s.store.LoadItems()
	if err != nil {
		return nil, shrikesync.StoreError(err, "failed to load entries")
	}
	if len(entries) == 0 {
		return nil, errNoEntries
	}

	result, err := s.syncer.Execute(entries, settings)
	if err != nil {
		return nil, err
	}

	if recorder, ok := s.store.(store.SyncRecorder); ok {
		if err := recorder.MarkSynced(store.IDs(entries), result.SyncedAt); err != nil {
			s.logger.Warn("failed to record sync time", "error", err)
		}
	}
	return result, nil
}

// fail reports err as an internal server error
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error("request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"kind", shrikesync.KindOf(err),
		"error", err)
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
