// Package api implements the HTTP API: health, version, the current
// control snapshot, the transition journal, a websocket event stream
// and the characteristic endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nugget/thingy-control/internal/buildinfo"
	"github.com/nugget/thingy-control/internal/characteristic"
	"github.com/nugget/thingy-control/internal/connwatch"
	"github.com/nugget/thingy-control/internal/control"
	"github.com/nugget/thingy-control/internal/events"
	"github.com/nugget/thingy-control/internal/journal"
)

// maxWriteBody bounds a characteristic write; every field is one byte.
const maxWriteBody = 64

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Snapshotter exposes the shared control state.
type Snapshotter interface {
	Snapshot() control.Control
}

// Journal is the read side of the transition journal.
type Journal interface {
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
	Counts(ctx context.Context, since time.Time) (map[string]int64, error)
}

// Server is the HTTP API server.
type Server struct {
	address  string
	port     int
	mode     string
	state    Snapshotter
	journal  Journal
	hub      *characteristic.Hub
	bus      *events.Bus
	watch    *connwatch.Manager
	logger   *slog.Logger
	server   *http.Server
	upgrader websocket.Upgrader
}

// NewServer creates a new API server.
func NewServer(address string, port int, mode string, state Snapshotter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address: address,
		port:    port,
		mode:    mode,
		state:   state,
		logger:  logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// SetJournal enables the transition endpoints.
func (s *Server) SetJournal(j Journal) { s.journal = j }

// SetHub enables the characteristic endpoints.
func (s *Server) SetHub(h *characteristic.Hub) { s.hub = h }

// SetBus enables the event stream.
func (s *Server) SetBus(b *events.Bus) { s.bus = b }

// SetConnWatch reports dependency health on /health.
func (s *Server) SetConnWatch(m *connwatch.Manager) { s.watch = m }

// Handler returns the routed handler with request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/version", s.handleVersion)

	mux.HandleFunc("GET /v1/control", s.handleControl)
	mux.HandleFunc("GET /v1/transitions", s.handleTransitions)
	mux.HandleFunc("GET /v1/transitions/counts", s.handleTransitionCounts)
	mux.HandleFunc("GET /v1/events", s.handleEvents)

	mux.HandleFunc("GET /v1/characteristics", s.handleCharacteristicList)
	mux.HandleFunc("GET /v1/characteristics/{field}", s.handleCharacteristicGet)
	mux.HandleFunc("PUT /v1/characteristics/{field}", s.handleCharacteristicWrite)
	mux.HandleFunc("GET /v1/characteristics/{field}/notify", s.handleCharacteristicNotify)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests. It returns http.ErrServerClosed
// after Shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	writeJSON(w, map[string]string{"error": message}, s.logger)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		s.errorResponse(w, http.StatusNotFound, "not found")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "Thingy",
		"version": buildinfo.Version,
		"mode":    s.mode,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Info(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	services := []connwatch.ServiceStatus{}
	if s.watch != nil {
		services = s.watch.Status()
		if !s.watch.Healthy() {
			status = "degraded"
		}
	}
	w.Header().Set("Content-Type", "application/json")
	if status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	writeJSON(w, map[string]any{
		"status":   status,
		"uptime":   buildinfo.Uptime().String(),
		"services": services,
	}, s.logger)
}

// ControlResponse is the current snapshot plus each field's wire value.
type ControlResponse struct {
	Control control.Control `json:"control"`
	Values  map[string]int8 `json:"values"`
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	c := s.state.Snapshot()
	resp := ControlResponse{Control: c, Values: make(map[string]int8)}
	for _, f := range control.Fields() {
		resp.Values[f.String()] = int8(c.Get(f))
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, resp, s.logger)
}

func (s *Server) handleTransitions(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "journal disabled")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			s.errorResponse(w, http.StatusBadRequest, "limit must be 1-1000")
			return
		}
		limit = n
	}
	entries, err := s.journal.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("journal query failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "journal error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"transitions": entries, "count": len(entries)}, s.logger)
}

func (s *Server) handleTransitionCounts(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "journal disabled")
		return
	}
	window := 24 * time.Hour
	if v := r.URL.Query().Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			s.errorResponse(w, http.StatusBadRequest, "window must be a positive duration")
			return
		}
		window = d
	}
	counts, err := s.journal.Counts(r.Context(), time.Now().Add(-window))
	if err != nil {
		s.logger.Error("journal count failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "journal error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"window": window.String(), "counts": counts}, s.logger)
}

// handleEvents streams bus events as JSON text messages until the
// client goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "event stream disabled")
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch := s.bus.Subscribe(64)
	defer s.bus.Unsubscribe(ch)

	// Reader goroutine notices the client closing.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(e); err != nil {
				s.logger.Debug("event stream write failed", "error", err)
				return
			}
		}
	}
}

// fieldFromPath resolves {field} or writes a 404.
func (s *Server) fieldFromPath(w http.ResponseWriter, r *http.Request) (control.FieldID, bool) {
	if s.hub == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "characteristics disabled")
		return 0, false
	}
	f, err := control.ParseField(r.PathValue("field"))
	if err != nil {
		s.errorResponse(w, http.StatusNotFound, err.Error())
		return 0, false
	}
	return f, true
}

func (s *Server) handleCharacteristicList(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "characteristics disabled")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"service":         control.ServiceUUID,
		"characteristics": s.hub.List(),
	}, s.logger)
}

func (s *Server) handleCharacteristicGet(w http.ResponseWriter, r *http.Request) {
	f, ok := s.fieldFromPath(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(s.hub.Value(f))
}

// handleCharacteristicWrite queues the raw request body as a peer
// write. Malformed payloads are accepted here and dropped by the
// field's source, as a radio peer's would be.
func (s *Server) handleCharacteristicWrite(w http.ResponseWriter, r *http.Request) {
	f, ok := s.fieldFromPath(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWriteBody+1))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "read body")
		return
	}
	if len(body) > maxWriteBody {
		s.errorResponse(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := s.hub.Write(ctx, f, body); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			s.errorResponse(w, http.StatusServiceUnavailable, "write queue full")
			return
		}
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleCharacteristicNotify(w http.ResponseWriter, r *http.Request) {
	f, ok := s.fieldFromPath(w, r)
	if !ok {
		return
	}
	s.hub.ServeNotify(w, r, f)
}
