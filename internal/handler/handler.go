package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"

	"groupchat/internal/config"
	"groupchat/internal/engine"
	"groupchat/internal/errs"
	"groupchat/internal/store"
	"groupchat/internal/upload"
)

// Handler holds application dependencies
type Handler struct {
	Config  config.Config
	Engine  *engine.Engine
	Users   store.UserStore
	Uploads *upload.Store
}

// New creates a new Handler with the given dependencies
func New(cfg config.Config, eng *engine.Engine, users store.UserStore, uploads *upload.Store) *Handler {
	return &Handler{
		Config:  cfg,
		Engine:  eng,
		Users:   users,
		Uploads: uploads,
	}
}

// SetupRouter configures and returns the HTTP router
func (h *Handler) SetupRouter() *mux.Router {
	r := mux.NewRouter()
	r.Use(accessLog)

	// REST API
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/ping", h.Ping).Methods(http.MethodGet)
	api.HandleFunc("/messages", h.GetMessages).Methods(http.MethodGet)
	api.HandleFunc("/messages/search", h.SearchMessages).Methods(http.MethodGet)
	api.HandleFunc("/message", h.CreateMessage).Methods(http.MethodPost)
	api.HandleFunc("/message/{id}", h.UpdateMessage).Methods(http.MethodPut)
	api.HandleFunc("/message/{id}", h.DeleteMessage).Methods(http.MethodDelete)
	api.HandleFunc("/login", h.Login).Methods(http.MethodPost)
	api.HandleFunc("/upload", h.UploadFile).Methods(http.MethodPost)

	// アップロード済みファイル
	r.PathPrefix(upload.URLPrefix).Handler(
		http.StripPrefix(upload.URLPrefix, http.FileServer(http.Dir(h.Uploads.Dir()))),
	).Methods(http.MethodGet)

	// WebSocket
	r.HandleFunc("/ws", h.HandleWebSocket).Methods(http.MethodGet)

	return r
}

// Ping handles GET /api/ping
func (h *Handler) Ping(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// accessLog logs one line per request once the handler has finished.
func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)
		log.Printf("[HTTP] %s %s -> %d (%s, %d bytes)", r.Method, r.URL, m.Code, m.Duration, m.Written)
	})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[HTTP] ❌ Failed to encode response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondEngineError maps the error taxonomy onto HTTP statuses. Internal
// details of persistence failures are logged, not returned.
func respondEngineError(w http.ResponseWriter, route string, err error, fallback string) {
	switch {
	case errors.Is(err, errs.ErrValidation), errors.Is(err, errs.ErrNotAuthenticated):
		log.Printf("[%s] ❌ Bad Request: %v", route, err)
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, errs.ErrNotFound):
		log.Printf("[%s] ❌ Not Found: %v", route, err)
		respondError(w, http.StatusNotFound, "Message not found")
	default:
		log.Printf("[%s] ❌ Internal error: %v", route, err)
		respondError(w, http.StatusInternalServerError, fallback)
	}
}
