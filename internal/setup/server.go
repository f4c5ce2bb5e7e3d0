// Package setup serves the HTTP surface that collects the initial
// configuration and, once initialized, accepts password resets.
package setup

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"localauth/internal/diag"
	"localauth/internal/logging"
	"localauth/internal/passwd"
	"localauth/internal/reset"
	"localauth/internal/store"
)

const (
	requestIDHeader    = "X-Request-ID"
	maxBodyBytes       = 64 << 10
	generatedLength    = 16
	shutdownTimeout    = 10 * time.Second
	readHeaderTimeout  = 10 * time.Second
	radiusSecretBytes  = 16
	bootstrapTokenSize = 32
)

type ctxKey int

const requestIDKey ctxKey = 0

// Resetter changes one stored password.
type Resetter interface {
	Reset(ctx context.Context, req reset.Request) error
}

// Options configures a Server.
type Options struct {
	// Params are the Argon2id parameters used for SystemConfig hashes.
	Params passwd.Params
	// Resetter enables POST /api/reset-password. Nil in setup mode.
	Resetter Resetter
}

// Server handles the setup and management routes.
type Server struct {
	store    *store.Store
	params   passwd.Params
	resetter Resetter
	logger   *logging.Logger

	// serializes submissions so two forms cannot both pass the 409 check
	mu sync.Mutex
}

// New returns a Server writing to st.
func New(st *store.Store, opts Options, logger *logging.Logger) *Server {
	if opts.Params == (passwd.Params{}) {
		opts.Params = passwd.DefaultParams
	}
	return &Server{
		store:    st,
		params:   opts.Params,
		resetter: opts.Resetter,
		logger:   logger,
	}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestID)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleIndex)
	r.Get("/health", s.handleHealth)
	r.Get("/api/check-status", s.handleCheckStatus)
	r.Get("/api/generate-password", s.handleGeneratePassword)
	r.Post("/api/initialize", s.handleInitialize)
	if s.resetter != nil {
		r.Post("/api/reset-password", s.handleResetPassword)
	}
	return r
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.New().String()
		}
		w.Header().Set(requestIDHeader, id)

		start := time.Now()
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))

		s.logger.Debug("setup.request", "Request served", map[string]interface{}{
			"request_id":  id,
			"method":      r.Method,
			"path":        r.URL.Path,
			"duration_ms": time.Since(start).Milliseconds(),
		})
	})
}

// RequestID returns the id assigned to the request carried by ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.New("request body must be a JSON object with known fields")
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "healthy"})
}

func (s *Server) handleCheckStatus(w http.ResponseWriter, r *http.Request) {
	initialized, err := s.store.Initialized()
	if err != nil {
		s.internalError(w, r, "setup.status.error", err)
		return
	}
	exists, err := s.store.Exists()
	if err != nil {
		s.internalError(w, r, "setup.status.error", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"initialized":   initialized,
		"config_exists": exists,
	})
}

func (s *Server) handleGeneratePassword(w http.ResponseWriter, r *http.Request) {
	pw, err := passwd.Generate(generatedLength)
	if err != nil {
		s.internalError(w, r, "setup.generate.error", err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, map[string]any{"password": pw})
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, event string, err error) {
	s.logger.Error(event, "Request failed", map[string]interface{}{
		"request_id": RequestID(r.Context()),
		"path":       r.URL.Path,
		"error":      diag.Redact(err.Error()),
	})
	writeError(w, http.StatusInternalServerError, "internal error")
}

// Serve runs handler on addr until ctx is cancelled, then shuts down
// gracefully. A clean shutdown returns nil.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *logging.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("setup.serve.started", "Setup endpoint listening", map[string]interface{}{
			"addr": addr,
		})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("setup.serve.stopped", "Setup endpoint stopped", map[string]interface{}{
		"addr": addr,
	})
	return nil
}
