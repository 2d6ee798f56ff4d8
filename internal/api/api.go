package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yok-tottii/EzCapture/internal/audio"
	"github.com/yok-tottii/EzCapture/internal/config"
	"github.com/yok-tottii/EzCapture/internal/events"
	"github.com/yok-tottii/EzCapture/internal/finalize"
	"github.com/yok-tottii/EzCapture/internal/logger"
	"github.com/yok-tottii/EzCapture/internal/metrics"
	"github.com/yok-tottii/EzCapture/internal/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Controller is the session surface the API drives. *session.Manager
// implements it.
type Controller interface {
	Discover() []audio.AudioSource
	Start(ctx context.Context, ids []string, kind session.Kind) (session.Session, error)
	StartMode(ctx context.Context, kind session.Kind) (session.Session, error)
	Stop() (session.Session, error)
	StopAndFinalize() (session.Session, string, error)
	Active() (session.Session, bool)
	FinalizeSession(id string) (string, error)
	Status() session.Status
	Recordings() ([]session.Recording, error)
	SetConfig(config session.Config)
}

// Handler manages API endpoints
type Handler struct {
	config     *config.Config
	configPath string
	sessions   Controller
	bus        *events.Bus
	metrics    *metrics.Metrics
	logger     *logger.Logger
	upgrader   websocket.Upgrader

	onSettingsChanged func(*config.Config) error // e.g. re-register the hotkey
}

// New creates a new API handler
func New(cfg *config.Config, sessions Controller, bus *events.Bus, m *metrics.Metrics, log *logger.Logger) *Handler {
	return &Handler{
		config:     cfg,
		configPath: config.GetConfigPath(),
		sessions:   sessions,
		bus:        bus,
		metrics:    m,
		logger:     log.With("api"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024 * 16,
		},
	}
}

// SetConfigPath sets where PUT /api/settings persists the configuration
func (h *Handler) SetConfigPath(path string) {
	h.configPath = path
}

// OnSettingsChanged registers a callback run after settings are saved
func (h *Handler) OnSettingsChanged(fn func(*config.Config) error) {
	h.onSettingsChanged = fn
}

// RegisterRoutes registers all API routes on the given mux
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/sources", h.handleSources)
	mux.HandleFunc("/api/session", h.handleSession)
	mux.HandleFunc("/api/session/start", h.handleSessionStart)
	mux.HandleFunc("/api/session/stop", h.handleSessionStop)
	mux.HandleFunc("/api/session/finalize", h.handleSessionFinalize)
	mux.HandleFunc("/api/status", h.handleStatus)
	mux.HandleFunc("/api/recordings", h.handleRecordings)
	mux.HandleFunc("/api/settings", h.handleSettings)
	mux.HandleFunc("/api/events", h.handleEvents)
	mux.Handle("/metrics", h.metrics.Handler())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// errorStatus maps engine errors to HTTP status codes
func errorStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrInvalidSessionID):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNoActiveSession),
		errors.Is(err, session.ErrSessionActive):
		return http.StatusConflict
	case errors.Is(err, session.ErrNoSourceStarted):
		return http.StatusServiceUnavailable
	case errors.Is(err, audio.ErrDeviceUnavailable),
		errors.Is(err, os.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, finalize.ErrEmptySession),
		errors.Is(err, finalize.ErrFormatMismatch):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// decodeBody decodes an optional JSON body into v. An empty body is not
// an error.
func decodeBody(r *http.Request, v interface{}) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// handleSources handles GET /api/sources
func (h *Handler) handleSources(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sources := h.sessions.Discover()
	if sources == nil {
		sources = []audio.AudioSource{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sources": sources,
	})
}

// handleSession handles GET /api/session
func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s, ok := h.sessions.Active()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]interface{}{"active": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"active":  true,
		"session": s,
	})
}

// StartRequest is the body of POST /api/session/start
type StartRequest struct {
	Mode      string   `json:"mode"`
	SourceIDs []string `json:"source_ids"`
}

// handleSessionStart handles POST /api/session/start
func (h *Handler) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req StartRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Mode == "" {
		req.Mode = h.config.Clone().DefaultMode
	}

	kind, err := session.ParseKind(req.Mode)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var s session.Session
	if len(req.SourceIDs) > 0 {
		s, err = h.sessions.Start(r.Context(), req.SourceIDs, kind)
	} else {
		s, err = h.sessions.StartMode(r.Context(), kind)
	}
	if err != nil {
		h.logger.Warn("Start %s failed: %v", kind, err)
		http.Error(w, fmt.Sprintf("Failed to start session: %v", err), errorStatus(err))
		return
	}

	writeJSON(w, http.StatusOK, s)
}

// StopRequest is the body of POST /api/session/stop
type StopRequest struct {
	Finalize bool `json:"finalize"`
}

// handleSessionStop handles POST /api/session/stop
func (h *Handler) handleSessionStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req StopRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if !req.Finalize {
		s, err := h.sessions.Stop()
		if err != nil {
			http.Error(w, err.Error(), errorStatus(err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"session": s})
		return
	}

	s, path, err := h.sessions.StopAndFinalize()
	if err != nil && s.ID == "" {
		http.Error(w, err.Error(), errorStatus(err))
		return
	}

	// The session stopped even if finalize failed
	resp := map[string]interface{}{"session": s, "final": path}
	if err != nil {
		resp["error"] = err.Error()
		writeJSON(w, errorStatus(err), resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// FinalizeRequest is the body of POST /api/session/finalize
type FinalizeRequest struct {
	SessionID string `json:"session_id"`
}

// handleSessionFinalize handles POST /api/session/finalize
func (h *Handler) handleSessionFinalize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req FinalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}

	path, err := h.sessions.FinalizeSession(req.SessionID)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to finalize: %v", err), errorStatus(err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": req.SessionID,
		"final":      path,
	})
}

// handleStatus handles GET /api/status
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.sessions.Status())
}

// handleRecordings handles GET /api/recordings
func (h *Handler) handleRecordings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	recs, err := h.sessions.Recordings()
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to list recordings: %v", err), http.StatusInternalServerError)
		return
	}
	if recs == nil {
		recs = []session.Recording{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"recordings": recs,
	})
}

// handleSettings handles GET and PUT /api/settings
func (h *Handler) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.getSettings(w, r)
	case http.MethodPut:
		h.putSettings(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// getSettings returns the current configuration
func (h *Handler) getSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.config.Clone())
}

// putSettings updates the configuration. New values apply to the next
// session.
func (h *Handler) putSettings(w http.ResponseWriter, r *http.Request) {
	var updates map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.config.Update(updates); err != nil {
		http.Error(w, fmt.Sprintf("Failed to update config: %v", err), http.StatusBadRequest)
		return
	}

	sc, err := h.config.SessionConfig()
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to apply config: %v", err), http.StatusInternalServerError)
		return
	}
	h.sessions.SetConfig(sc)

	if err := h.config.Save(h.configPath); err != nil {
		http.Error(w, fmt.Sprintf("Failed to save config: %v", err), http.StatusInternalServerError)
		return
	}

	if h.onSettingsChanged != nil {
		if err := h.onSettingsChanged(h.config); err != nil {
			h.logger.Warn("Settings saved but not applied: %v", err)
			writeJSON(w, http.StatusOK, map[string]string{
				"status":  "partial",
				"message": fmt.Sprintf("Settings saved but reload failed: %v", err),
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "success",
	})
}

// handleEvents handles GET /api/events, streaming bus events as JSON
// text frames until the client goes away
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ch, cancel := h.bus.Subscribe()
	defer cancel()

	// Reader: handles pongs and notices the client closing
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-gone:
			return
		case e, ok := <-ch:
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(e); err != nil {
				h.logger.Debug("Event client gone: %v", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
