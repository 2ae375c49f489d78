// Package web exposes the mirror over a small JSON API.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"calmirror/internal/activity"
	"calmirror/internal/cache"
	"calmirror/internal/config"
	appLog "calmirror/internal/log"
	"calmirror/internal/model"
	"calmirror/internal/source"
	"calmirror/internal/syncer"
)

const (
	maxBodyBytes    = 1 << 20
	shutdownTimeout = 5 * time.Second
)

// Server provides HTTP APIs over the sync engine.
type Server struct {
	cfg    *config.Config
	engine *syncer.Engine
	filter activity.Filter
	now    func() time.Time
	mux    *http.ServeMux
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, engine *syncer.Engine) *Server {
	s := &Server{
		cfg:    cfg,
		engine: engine,
		filter: activity.Filter{Location: cfg.Location(), WeekStart: cfg.WeekStartDay()},
		now:    time.Now,
		mux:    http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// Run serves on cfg.Listen until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured. Empty
// credentials count as disabled.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="calmirror", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/events", s.handleEvents)
	s.mux.HandleFunc("/api/events/grouped", s.handleGrouped)
	s.mux.HandleFunc("/api/sync", s.handleSync)
	s.mux.HandleFunc("/api/cache", s.handleCache)
	s.mux.HandleFunc("/api/recommendations", s.handleRecommendations)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// eventsResponse is the JSON response shape for /api/events.
type eventsResponse struct {
	Events     []model.Event `json:"events"`
	Count      int           `json:"count"`
	ActiveOnly bool          `json:"active_only"`
}

// groupedResponse is the JSON response shape for /api/events/grouped.
type groupedResponse struct {
	Period   string                   `json:"period"`
	Start    time.Time                `json:"start"`
	End      time.Time                `json:"end"`
	TimeZone string                   `json:"timezone"`
	Days     map[string][]model.Event `json:"days"`
}

// handleEvents returns the mirrored events, syncing first when the cache
// has expired.
//
// GET /api/events?active=1
//   - active: only events still relevant now
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	events, ok := s.loadEvents(w, r)
	if !ok {
		return
	}

	activeOnly := parseBool(r.URL.Query().Get("active"))
	if activeOnly {
		events = s.filter.Active(events, s.now())
	}
	writeJSON(w, http.StatusOK, eventsResponse{Events: events, Count: len(events), ActiveOnly: activeOnly})
}

// handleGrouped buckets events by day over the day or week around now.
//
// GET /api/events/grouped?period=week&date=2025-06-02
//   - period: day or week (default week)
//   - date:   anchor date in the configured timezone (default today)
func (s *Server) handleGrouped(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()

	anchor := s.now()
	if d := q.Get("date"); d != "" {
		t, err := time.ParseInLocation(model.DateLayout, d, s.filter.Location)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		anchor = t
	}

	period := q.Get("period")
	var start, end time.Time
	switch period {
	case "", "week":
		period = "week"
		start, end = s.filter.WeekWindow(anchor)
	case "day":
		start, end = s.filter.DayWindow(anchor)
	default:
		writeError(w, http.StatusBadRequest, "period must be day or week")
		return
	}

	events, ok := s.loadEvents(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, groupedResponse{
		Period:   period,
		Start:    start,
		End:      end,
		TimeZone: s.filter.Location.String(),
		Days:     s.filter.GroupByPeriod(events, start, end),
	})
}

// handleSync runs a sync cycle.
//
// POST /api/sync?full=1
//   - full: ignore the stored cursor and replace the cache
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	full := parseBool(r.URL.Query().Get("full"))
	res, err := s.engine.SyncEvents(r.Context(), full)
	if err != nil {
		writeSyncError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCache(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.engine.Diagnostics(r.Context()))
	case http.MethodDelete:
		if err := s.engine.ClearEventCache(r.Context()); err != nil {
			appLog.Error("api cache clear failed", err)
			writeError(w, http.StatusInternalServerError, "failed to clear cache")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodDelete)
	}
}

// handleRecommendations stores opaque recommendation payloads.
//
// GET /api/recommendations?kind=week&fingerprint=abc   cached payload or 404
// PUT /api/recommendations?kind=week&fingerprint=abc   body is the payload
// DELETE /api/recommendations                          drop all of them
func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method == http.MethodDelete {
		n, err := s.engine.ClearAllRecommendations(ctx)
		if err != nil {
			appLog.Error("api recommendations clear failed", err)
			writeError(w, http.StatusInternalServerError, "failed to clear recommendations")
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"removed": n})
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodPut {
		methodNotAllowed(w, http.MethodGet, http.MethodPut, http.MethodDelete)
		return
	}

	q := r.URL.Query()
	kind, err := cache.ParseKind(q.Get("kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	fingerprint := q.Get("fingerprint")

	if r.Method == http.MethodGet {
		data, ok, err := s.engine.GetRecommendations(ctx, kind, fingerprint)
		if err != nil {
			appLog.Error("api recommendations read failed", err, "kind", string(kind))
			writeError(w, http.StatusInternalServerError, "failed to read recommendations")
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, "no cached recommendations")
			return
		}
		writeJSON(w, http.StatusOK, data)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "body too large")
		return
	}
	if !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "body must be JSON")
		return
	}
	if err := s.engine.SetRecommendations(ctx, kind, fingerprint, json.RawMessage(body)); err != nil {
		appLog.Error("api recommendations write failed", err, "kind", string(kind))
		writeError(w, http.StatusInternalServerError, "failed to store recommendations")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// loadEvents writes the error response itself and reports false on failure.
func (s *Server) loadEvents(w http.ResponseWriter, r *http.Request) ([]model.Event, bool) {
	res, err := s.engine.Events(r.Context())
	if err != nil {
		writeSyncError(w, err)
		return nil, false
	}
	return res.Events, true
}

func writeSyncError(w http.ResponseWriter, err error) {
	if errors.Is(err, source.ErrNoSource) {
		writeError(w, http.StatusServiceUnavailable, "no calendar source configured")
		return
	}
	appLog.Error("api sync failed", err)
	writeError(w, http.StatusBadGateway, "sync failed")
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method || (method == http.MethodGet && r.Method == http.MethodHead) {
		return true
	}
	methodNotAllowed(w, method)
	return false
}

func methodNotAllowed(w http.ResponseWriter, methods ...string) {
	w.Header().Set("Allow", strings.Join(methods, ", "))
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func parseBool(s string) bool {
	switch s {
	case "1", "true", "yes":
		return true
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
