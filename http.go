package tour

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

var panoramaPath = regexp.MustCompile(`^/tours/([a-fA-F0-9]{40})/([a-fA-F0-9]{40})\.jpg$`)

// Server exposes the session hub over HTTP: WebSocket attachment, panorama
// uploads, and content-addressed panorama serving.
type Server struct {
	hub    *SessionHub
	store  *TourStore
	config HTTPConfig
	srv    *http.Server
}

// NewServer creates an HTTP server around a hub and its store.
func NewServer(hub *SessionHub, store *TourStore, cfg HTTPConfig) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":3030"
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10 * 1024 * 1024
	}
	return &Server{
		hub:    hub,
		store:  store,
		config: cfg,
	}
}

// Handler returns the HTTP handler for all tour endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/tours/", s.handleTours)
	return mux
}

// Start begins serving in the background.
func (s *Server) Start() {
	s.srv = &http.Server{
		Addr:    s.config.Addr,
		Handler: s.Handler(),
	}
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("tour: http server: %v", err)
		}
	}()
}

// Close shuts the server down gracefully.
func (s *Server) Close(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleTours(w http.ResponseWriter, r *http.Request) {
	if m := panoramaPath.FindStringSubmatch(r.URL.Path); m != nil {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.servePanorama(w, r, m[1], m[2])
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/tours/")
	if rest == "" || strings.Contains(rest, "/") {
		http.NotFound(w, r)
		return
	}
	id, err := SanitizeTourID(rest)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "reason": "invalid tour identity"})
		return
	}

	switch r.Method {
	case http.MethodGet:
		if !websocket.IsWebSocketUpgrade(r) {
			writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "reason": "websocket upgrade required"})
			return
		}
		s.handleAttach(w, r, id)
	case http.MethodPost:
		s.handleUpload(w, r, id)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleAttach(w http.ResponseWriter, r *http.Request, id string) {
	sess, err := s.hub.OpenSession(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		return
	}

	if _, err := s.hub.Attach(sess, conn); err != nil {
		log.Printf("tour: [%s] attach failed: %v", id, err)
		_ = conn.Close()
	}
}

func (s *Server) servePanorama(w http.ResponseWriter, r *http.Request, dir, file string) {
	if r.Header.Get("If-None-Match") == file {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	data, err := s.store.ReadAsset(r.Context(), dir+"/"+file+".jpg")
	if err != nil {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("ETag", file)
	_, _ = w.Write(data)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, id string) {
	sess, ok := s.hub.LookupSession(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "reason": "tour does not exist"})
		return
	}

	if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "image/jpeg") {
		writeJSON(w, http.StatusUnsupportedMediaType, map[string]any{"ok": false, "reason": "expected image/jpeg"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{"ok": false, "reason": "upload too large"})
		return
	}

	level := 0
	if v := r.URL.Query().Get("level"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			level = n
		}
	}

	res, err := s.hub.IngestPanorama(r.Context(), sess, body, level)
	if err != nil {
		log.Printf("tour: [%s] ingest failed: %v", id, err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "reason": "ingest failed"})
		return
	}
	if !res.Created {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "scene": res.SceneID})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("tour: failed to encode JSON response: %v", err)
	}
}
