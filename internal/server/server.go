// Package server exposes the scanner's page surface over HTTP.
//
// The routes mirror what a hosting page does with the scanner: list and
// select devices, press start, pick a format, read the result area and the
// canvas. Results and redirects are pushed to attached pages on /ws.
package server

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Merinorus/thebigfilmdatabase-website/dxscan"
	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"golang.org/x/time/rate"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Scanner is the controller surface the server drives
type Scanner interface {
	View(ctx context.Context) (dxscan.View, error)
	Activate(ctx context.Context, deviceID string) error
	SwitchDevice(ctx context.Context, deviceID string) error
	SetFormat(ctx context.Context, format string) error
	Snapshot(ctx context.Context) (*image.RGBA, error)
	Stats(ctx context.Context) (dxscan.Stats, error)
}

// Config contains configuration for the HTTP surface
type Config struct {
	// Addr is the listen address (e.g., ":8080")
	Addr string
	// RequestTimeout bounds each controller call
	RequestTimeout time.Duration
	// RateLimit is the per-client request rate in requests/second; 0 disables
	RateLimit float64
	// RateBurst is the per-client burst size
	RateBurst int
}

// Server serves the scanner page surface
type Server struct {
	cfg     Config
	scanner Scanner
	hub     *Hub
	router  *mux.Router
}

// New creates a server. hub may be nil if no page attaches over websocket.
func New(cfg Config, scanner Scanner, hub *Hub) (*Server, error) {
	if scanner == nil {
		return nil, fmt.Errorf("server: scanner is required")
	}
	if cfg.Addr == "" {
		return nil, fmt.Errorf("server: listen address is required")
	}
	if cfg.RateLimit < 0 || cfg.RateBurst < 0 {
		return nil, fmt.Errorf("server: rate limit must not be negative")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}

	s := &Server{cfg: cfg, scanner: scanner, hub: hub}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprintln(w, "OK")
	}).Methods("GET")

	// API routes stay on the root router so a method mismatch is a 405
	api := func(h http.HandlerFunc) http.Handler { return h }
	if s.cfg.RateLimit > 0 {
		burst := s.cfg.RateBurst
		if burst == 0 {
			burst = 1
		}
		limit := newRateLimiter(rate.Limit(s.cfg.RateLimit), burst).middleware
		api = func(h http.HandlerFunc) http.Handler { return limit(h) }
	}
	r.Handle("/api/devices", api(s.handleDevices)).Methods("GET")
	r.Handle("/api/activate", api(s.handleActivate)).Methods("POST")
	r.Handle("/api/device", api(s.handleSwitchDevice)).Methods("PUT")
	r.Handle("/api/format", api(s.handleFormat)).Methods("PUT")
	r.Handle("/api/view", api(s.handleView)).Methods("GET")
	r.Handle("/api/result", api(s.handleResult)).Methods("GET")
	r.Handle("/api/canvas.png", api(s.handleCanvas)).Methods("GET")
	r.Handle("/api/stats", api(s.handleStats)).Methods("GET")

	if s.hub != nil {
		r.HandleFunc("/ws", s.hub.ServeWS).Methods("GET")
	}
	return r
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server: listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if s.hub != nil {
		s.hub.Close()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	slog.Info("server: stopped")
	return nil
}

type devicesResponse struct {
	Options  []dxscan.DeviceInfo `json:"options"`
	Selected string              `json:"selected"`
}

type deviceRequest struct {
	DeviceID string `json:"deviceId"`
}

type formatRequest struct {
	Format string `json:"format"`
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	v, err := s.scanner.View(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	options := v.Options
	if options == nil {
		options = []dxscan.DeviceInfo{}
	}
	writeJSON(w, http.StatusOK, devicesResponse{Options: options, Selected: v.Selected})
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	var req deviceRequest
	// The start button sends no body; the selector value applies
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	if err := s.scanner.Activate(ctx, req.DeviceID); err != nil {
		writeError(w, err)
		return
	}
	s.handleView(w, r)
}

func (s *Server) handleSwitchDevice(w http.ResponseWriter, r *http.Request) {
	var req deviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	if err := s.scanner.SwitchDevice(ctx, req.DeviceID); err != nil {
		writeError(w, err)
		return
	}
	s.handleView(w, r)
}

func (s *Server) handleFormat(w http.ResponseWriter, r *http.Request) {
	var req formatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	if err := s.scanner.SetFormat(ctx, req.Format); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	v, err := s.scanner.View(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	v, err := s.scanner.View(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	if v.Result == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, v.Result)
}

func (s *Server) handleCanvas(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	img, err := s.scanner.Snapshot(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if err := png.Encode(w, img); err != nil {
		slog.Warn("server: failed to encode canvas", "error", err)
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	stats, err := s.scanner.Stats(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := statsResponse{Stats: stats}
	if s.hub != nil {
		resp.Clients = s.hub.Clients()
		resp.PushSent, resp.PushDropped = s.hub.Counts()
	}
	writeJSON(w, http.StatusOK, resp)
}

type statsResponse struct {
	dxscan.Stats
	Clients     int    `json:"clients"`
	PushSent    uint64 `json:"pushSent"`
	PushDropped uint64 `json:"pushDropped"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("server: failed to encode response", "error", err)
	}
}

// writeError maps controller errors to HTTP status codes
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, dxscan.ErrNotStarted), errors.Is(err, dxscan.ErrControllerClosed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.Is(err, dxscan.ErrNoDevice):
		status = http.StatusNotFound
	}
	slog.Warn("server: request failed", "status", status, "error", err)
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
