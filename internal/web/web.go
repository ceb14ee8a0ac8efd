// Package web exposes materialization and the schedule calendar over HTTP.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ferdy/internal/calendar"
	"ferdy/internal/config"
	appLog "ferdy/internal/log"
	"ferdy/internal/materialize"
	"ferdy/internal/store"
)

// Materializer runs one brand's materialization.
type Materializer interface {
	Materialize(ctx context.Context, brandID string) (materialize.Result, error)
}

// Calendar builds month views.
type Calendar interface {
	Month(ctx context.Context, brandID string, year int, month time.Month) (calendar.MonthView, error)
}

// Pinger checks backing storage for /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options wires a Server.
type Options struct {
	Listen       string
	BasicAuth    config.BasicAuthConfig
	Materializer Materializer
	Calendar     Calendar
	Pinger       Pinger
	Now          func() time.Time
}

// Server provides the HTTP API.
type Server struct {
	opts Options
	mux  *http.ServeMux

	// Month views are derived from rules only and cached briefly.
	calMu    sync.RWMutex
	calCache map[string]calendarCache
}

type calendarCache struct {
	view      calendar.MonthView
	updatedAt time.Time
}

const calendarCacheTTL = 30 * time.Second

// NewServer constructs a new Server.
func NewServer(opts Options) *Server {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Server{
		opts:     opts,
		mux:      http.NewServeMux(),
		calCache: make(map[string]calendarCache),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.opts.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.opts.Listen)
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
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	appLog.Info("HTTP server stopped")
	return nil
}

func (s *Server) basicAuthEnabled() bool {
	return s.opts.BasicAuth.Username != "" && s.opts.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.opts.BasicAuth.Username
	password := s.opts.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Ferdy", charset="UTF-8"`)
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
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /drafts/generate", s.handleGenerate)
	s.mux.HandleFunc("GET /api/calendar", s.handleCalendar)
	s.mux.HandleFunc("GET /api/calendar.ics", s.handleCalendarICS)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.opts.Pinger != nil {
		if err := s.opts.Pinger.Ping(r.Context()); err != nil {
			appLog.Error("health check failed", err)
			http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type generateRequest struct {
	BrandID string `json:"brandId"`
}

// handleGenerate materializes drafts for one brand.
//
// POST /drafts/generate?brandId=<uuid>
// POST /drafts/generate  {"brandId": "<uuid>"}
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	brandID := strings.TrimSpace(r.URL.Query().Get("brandId"))
	if brandID == "" && r.Body != nil {
		var req generateRequest
		err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req)
		if err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		brandID = strings.TrimSpace(req.BrandID)
	}
	if !validBrandID(w, brandID) {
		return
	}

	// A disconnecting client must not cut a run short; the materializer
	// bounds it with its own timeout.
	ctx := context.WithoutCancel(r.Context())
	res, err := s.opts.Materializer.Materialize(ctx, brandID)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		// Committed drafts stay; a later run resumes from them.
		appLog.Warn("api materialize interrupted",
			"brand_id", brandID,
			"reason", err.Error(),
			"created", res.DraftsCreated,
			"skipped", res.DraftsSkipped,
		)
		res.Interrupted = true
		writeJSON(w, http.StatusOK, res)
		return
	}
	if err != nil {
		s.writeUpstreamError(w, "materialize", brandID, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleCalendar returns a brand's month view.
//
// GET /api/calendar?brandId=<uuid>&month=YYYY-MM
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	view, ok := s.monthView(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleCalendarICS returns a brand's month as an iCalendar feed.
//
// GET /api/calendar.ics?brandId=<uuid>&month=YYYY-MM
func (s *Server) handleCalendarICS(w http.ResponseWriter, r *http.Request) {
	view, ok := s.monthView(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="ferdy-`+view.Month+`.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, calendar.ICS(view, s.opts.Now()))
}

func (s *Server) monthView(w http.ResponseWriter, r *http.Request) (calendar.MonthView, bool) {
	q := r.URL.Query()
	brandID := strings.TrimSpace(q.Get("brandId"))
	if !validBrandID(w, brandID) {
		return calendar.MonthView{}, false
	}

	year, month := s.opts.Now().UTC().Year(), s.opts.Now().UTC().Month()
	if raw := q.Get("month"); raw != "" {
		y, m, err := calendar.ParseMonth(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return calendar.MonthView{}, false
		}
		year, month = y, m
	}

	key := brandID + "|" + time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).Format("2006-01")
	now := s.opts.Now()
	s.calMu.RLock()
	cached, hit := s.calCache[key]
	s.calMu.RUnlock()
	if hit && now.Sub(cached.updatedAt) < calendarCacheTTL {
		return cached.view, true
	}

	view, err := s.opts.Calendar.Month(r.Context(), brandID, year, month)
	if err != nil {
		s.writeUpstreamError(w, "calendar", brandID, err)
		return calendar.MonthView{}, false
	}

	s.calMu.Lock()
	s.calCache[key] = calendarCache{view: view, updatedAt: now}
	s.calMu.Unlock()
	return view, true
}

func validBrandID(w http.ResponseWriter, brandID string) bool {
	if brandID == "" {
		writeError(w, http.StatusBadRequest, "brandId is required")
		return false
	}
	if _, err := uuid.Parse(brandID); err != nil {
		writeError(w, http.StatusBadRequest, "brandId must be a UUID")
		return false
	}
	return true
}

func (s *Server) writeUpstreamError(w http.ResponseWriter, op, brandID string, err error) {
	switch {
	case errors.Is(err, materialize.ErrInvalidBrand):
		writeError(w, http.StatusBadRequest, "brandId is required")
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "brand not found")
	default:
		appLog.Error("api "+op+" failed", err, "brand_id", brandID)
		writeError(w, http.StatusInternalServerError, op+" failed")
	}
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
