package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
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

// fakeSessions records calls and returns canned results
type fakeSessions struct {
	mu        sync.Mutex
	sources   []audio.AudioSource
	active    *session.Session
	startErr  error
	finalErr  error
	started   []string
	kind      session.Kind
	finalized string
	config    session.Config
}

func (f *fakeSessions) Discover() []audio.AudioSource { return f.sources }

func (f *fakeSessions) Start(ctx context.Context, ids []string, kind session.Kind) (session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return session.Session{}, f.startErr
	}
	f.started = ids
	f.kind = kind
	f.active = &session.Session{ID: "s-1", SourceIDs: ids, Kind: kind}
	return *f.active, nil
}

func (f *fakeSessions) StartMode(ctx context.Context, kind session.Kind) (session.Session, error) {
	return f.Start(ctx, []string{"default_" + string(kind)}, kind)
}

func (f *fakeSessions) Stop() (session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active == nil {
		return session.Session{}, session.ErrNoActiveSession
	}
	s := *f.active
	f.active = nil
	return s, nil
}

func (f *fakeSessions) StopAndFinalize() (session.Session, string, error) {
	s, err := f.Stop()
	if err != nil {
		return s, "", err
	}
	if f.finalErr != nil {
		return s, "", f.finalErr
	}
	return s, "/tmp/" + s.ID + "/final.wav", nil
}

func (f *fakeSessions) Active() (session.Session, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active == nil {
		return session.Session{}, false
	}
	return *f.active, true
}

func (f *fakeSessions) FinalizeSession(id string) (string, error) {
	if f.finalErr != nil {
		return "", f.finalErr
	}
	f.finalized = id
	return "/tmp/" + id + "/final.wav", nil
}

func (f *fakeSessions) Status() session.Status {
	_, ok := f.Active()
	return session.Status{Recording: ok, Sources: []session.SourceStatus{}}
}

func (f *fakeSessions) Recordings() ([]session.Recording, error) {
	return []session.Recording{{ID: "old", Chunks: 3}}, nil
}

func (f *fakeSessions) SetConfig(c session.Config) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.config = c
}

func newTestHandler(t *testing.T) (*Handler, *fakeSessions, *config.Config) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.RecordingsRoot = t.TempDir()
	fake := &fakeSessions{
		sources: []audio.AudioSource{
			{ID: "mic_0", DisplayName: "Built-in", Kind: audio.Microphone},
		},
	}
	h := New(cfg, fake, events.New(8), metrics.New(), logger.Nop())
	h.SetConfigPath(filepath.Join(t.TempDir(), "config.json"))
	return h, fake, cfg
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func routes(h *Handler) *http.ServeMux {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return mux
}

func TestGetSources(t *testing.T) {
	h, _, _ := newTestHandler(t)

	w := do(routes(h), http.MethodGet, "/api/sources", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var response struct {
		Sources []audio.AudioSource `json:"sources"`
	}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(response.Sources) != 1 || response.Sources[0].ID != "mic_0" {
		t.Errorf("Unexpected sources %+v", response.Sources)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h, _, _ := newTestHandler(t)
	mux := routes(h)

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/sources"},
		{http.MethodGet, "/api/session/start"},
		{http.MethodGet, "/api/session/stop"},
		{http.MethodGet, "/api/session/finalize"},
		{http.MethodDelete, "/api/settings"},
		{http.MethodPost, "/api/status"},
	}

	for _, tt := range tests {
		if w := do(mux, tt.method, tt.path, ""); w.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s: expected 405, got %d", tt.method, tt.path, w.Code)
		}
	}
}

func TestStartWithDefaultMode(t *testing.T) {
	h, fake, _ := newTestHandler(t)

	w := do(routes(h), http.MethodPost, "/api/session/start", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body)
	}
	if fake.kind != session.KindMix {
		t.Errorf("Expected default mode mix, got %s", fake.kind)
	}
}

func TestStartWithSources(t *testing.T) {
	h, fake, _ := newTestHandler(t)

	body := `{"mode":"system","source_ids":["system_audio_pulse"]}`
	w := do(routes(h), http.MethodPost, "/api/session/start", body)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body)
	}

	var s session.Session
	if err := json.NewDecoder(w.Body).Decode(&s); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if s.Kind != session.KindSystem || len(fake.started) != 1 || fake.started[0] != "system_audio_pulse" {
		t.Errorf("Unexpected start %+v (ids %v)", s, fake.started)
	}
}

func TestStartErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{"bad json", "{", nil, http.StatusBadRequest},
		{"bad mode", `{"mode":"stereo"}`, nil, http.StatusBadRequest},
		{"nothing opened", `{"mode":"mic"}`, fmt.Errorf("%w: boom", session.ErrNoSourceStarted), http.StatusServiceUnavailable},
		{"no device", `{"mode":"system"}`, fmt.Errorf("lookup: %w", audio.ErrDeviceUnavailable), http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, fake, _ := newTestHandler(t)
			fake.startErr = tt.err

			w := do(routes(h), http.MethodPost, "/api/session/start", tt.body)
			if w.Code != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, w.Code)
			}
		})
	}
}

func TestSessionLifecycle(t *testing.T) {
	h, _, _ := newTestHandler(t)
	mux := routes(h)

	w := do(mux, http.MethodGet, "/api/session", "")
	if !strings.Contains(w.Body.String(), `"active":false`) {
		t.Errorf("Expected inactive session, got %s", w.Body)
	}

	do(mux, http.MethodPost, "/api/session/start", `{"mode":"mic"}`)

	w = do(mux, http.MethodGet, "/api/session", "")
	if !strings.Contains(w.Body.String(), `"active":true`) {
		t.Errorf("Expected active session, got %s", w.Body)
	}

	w = do(mux, http.MethodPost, "/api/session/stop", `{"finalize":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body)
	}
	var resp struct {
		Session session.Session `json:"session"`
		Final   string          `json:"final"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Session.ID != "s-1" || !strings.HasSuffix(resp.Final, "final.wav") {
		t.Errorf("Unexpected stop response %+v", resp)
	}

	// Nothing left to stop
	w = do(mux, http.MethodPost, "/api/session/stop", "")
	if w.Code != http.StatusConflict {
		t.Errorf("Expected status 409, got %d", w.Code)
	}
}

func TestStopFinalizeFailureStillReportsSession(t *testing.T) {
	h, fake, _ := newTestHandler(t)
	fake.finalErr = fmt.Errorf("finalize: %w", finalize.ErrEmptySession)
	mux := routes(h)

	do(mux, http.MethodPost, "/api/session/start", `{"mode":"mic"}`)
	w := do(mux, http.MethodPost, "/api/session/stop", `{"finalize":true}`)

	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("Expected status 422, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"id":"s-1"`) {
		t.Errorf("Expected stopped session in body, got %s", w.Body)
	}
}

func TestFinalizeSession(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{"ok", `{"session_id":"abc"}`, nil, http.StatusOK},
		{"missing id", `{}`, nil, http.StatusBadRequest},
		{"invalid id", `{"session_id":"../x"}`, fmt.Errorf("%w %q", session.ErrInvalidSessionID, "../x"), http.StatusBadRequest},
		{"still recording", `{"session_id":"abc"}`, session.ErrSessionActive, http.StatusConflict},
		{"mismatch", `{"session_id":"abc"}`, finalize.ErrFormatMismatch, http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, fake, _ := newTestHandler(t)
			fake.finalErr = tt.err

			w := do(routes(h), http.MethodPost, "/api/session/finalize", tt.body)
			if w.Code != tt.status {
				t.Errorf("Expected status %d, got %d: %s", tt.status, w.Code, w.Body)
			}
			if tt.status == http.StatusOK && fake.finalized != "abc" {
				t.Errorf("Expected session abc finalized, got %q", fake.finalized)
			}
		})
	}
}

func TestStatusAndRecordings(t *testing.T) {
	h, _, _ := newTestHandler(t)
	mux := routes(h)

	w := do(mux, http.MethodGet, "/api/status", "")
	var status session.Status
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatalf("Failed to decode status: %v", err)
	}
	if status.Recording {
		t.Error("Expected not recording")
	}

	w = do(mux, http.MethodGet, "/api/recordings", "")
	var recs struct {
		Recordings []session.Recording `json:"recordings"`
	}
	if err := json.NewDecoder(w.Body).Decode(&recs); err != nil {
		t.Fatalf("Failed to decode recordings: %v", err)
	}
	if len(recs.Recordings) != 1 || recs.Recordings[0].Chunks != 3 {
		t.Errorf("Unexpected recordings %+v", recs.Recordings)
	}
}

func TestGetSettings(t *testing.T) {
	h, _, cfg := newTestHandler(t)

	w := do(routes(h), http.MethodGet, "/api/settings", "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var response map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response["default_mode"] != cfg.DefaultMode {
		t.Errorf("Expected default_mode '%s', got '%v'", cfg.DefaultMode, response["default_mode"])
	}
}

func TestPutSettings(t *testing.T) {
	h, fake, cfg := newTestHandler(t)

	var applied *config.Config
	h.OnSettingsChanged(func(c *config.Config) error {
		applied = c
		return nil
	})

	body, _ := json.Marshal(map[string]interface{}{
		"chunk_seconds":    5,
		"separate_sources": true,
	})
	w := do(routes(h), http.MethodPut, "/api/settings", string(body))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body)
	}

	if cfg.ChunkSeconds != 5 || !cfg.SeparateSources {
		t.Errorf("Expected config updated, got %+v", cfg.Clone())
	}
	if fake.config.ChunkDuration != 5*time.Second || !fake.config.SeparateSources {
		t.Errorf("Expected session config applied, got %+v", fake.config)
	}
	if applied != cfg {
		t.Error("Expected settings callback with the live config")
	}

	saved, err := config.Load(h.configPath)
	if err != nil {
		t.Fatalf("Failed to load saved config: %v", err)
	}
	if saved.ChunkSeconds != 5 {
		t.Errorf("Expected saved chunk_seconds 5, got %v", saved.ChunkSeconds)
	}
}

func TestPutSettingsInvalid(t *testing.T) {
	h, _, _ := newTestHandler(t)
	mux := routes(h)

	w := do(mux, http.MethodPut, "/api/settings", "invalid")
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}

	w = do(mux, http.MethodPut, "/api/settings", `{"default_mode":"stereo"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestPutSettingsCallbackFailureIsPartial(t *testing.T) {
	h, _, _ := newTestHandler(t)
	h.OnSettingsChanged(func(*config.Config) error {
		return fmt.Errorf("hotkey in use")
	})

	w := do(routes(h), http.MethodPut, "/api/settings", `{"hotkey":{"key":"F9"}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "partial") {
		t.Errorf("Expected partial status, got %s", w.Body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h, _, _ := newTestHandler(t)
	h.metrics.ChunkWritten("mix", 1000, time.Millisecond)

	w := do(routes(h), http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "ezcapture_") {
		t.Errorf("Expected ezcapture metrics, got %s", w.Body)
	}
}

func TestEventsWebsocket(t *testing.T) {
	h, _, _ := newTestHandler(t)
	srv := httptest.NewServer(routes(h))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	// The subscription is registered once the handler runs
	deadline := time.Now().Add(2 * time.Second)
	for h.bus.Subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	h.bus.Publish(events.Event{
		Type:      events.ChunkCompleted,
		SessionID: "s-1",
		Data:      map[string]interface{}{"index": 1},
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got struct {
		Type      string                 `json:"type"`
		SessionID string                 `json:"session_id"`
		Data      map[string]interface{} `json:"data"`
	}
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if got.Type != string(events.ChunkCompleted) || got.SessionID != "s-1" || got.Data["index"] != float64(1) {
		t.Errorf("Unexpected event %+v", got)
	}
}

func TestEventsRequiresUpgrade(t *testing.T) {
	h, _, _ := newTestHandler(t)

	w := do(routes(h), http.MethodGet, "/api/events", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for plain GET, got %d", w.Code)
	}
}

func TestManagerImplementsController(t *testing.T) {
	var _ Controller = (*session.Manager)(nil)
}
