package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/samber/lo"

	"groupchat/internal/engine"
	"groupchat/internal/model"
)

// リクエストボディの上限 (1MB)
const maxBodySize = 1 << 20

const (
	defaultSearchLimit = 50
	maxSearchLimit     = 200
)

type createMessageRequest struct {
	Username  string `json:"username" validate:"required"`
	Text      string `json:"text" validate:"required_without=FileURL"`
	FileURL   string `json:"fileUrl" validate:"required_without=Text"`
	ReplyToID *int64 `json:"replyToId"`
}

type updateMessageRequest struct {
	Text string `json:"text"`
}

// GetMessages handles GET /api/messages
// 全メッセージを古い順に返し、投稿者のアバターURLを付与する
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	log.Printf("[GET /api/messages] Request received from %s", r.RemoteAddr)

	messages, err := h.Engine.Messages(r.Context())
	if err != nil {
		respondEngineError(w, "GET /api/messages", err, "Database error")
		return
	}
	users, err := h.Users.Users(r.Context())
	if err != nil {
		respondEngineError(w, "GET /api/messages", err, "Database error")
		return
	}

	profiles := lo.SliceToMap(users, func(u model.User) (string, string) { return u.Username, u.ProfileURL })
	annotated := lo.Map(messages, func(msg model.Message, _ int) model.AnnotatedMessage {
		return model.AnnotatedMessage{Message: msg, ProfileURL: profiles[msg.Username]}
	})

	log.Printf("[GET /api/messages] ✅ Returned %d messages", len(annotated))
	respondJSON(w, http.StatusOK, annotated)
}

// CreateMessage handles POST /api/message
func (h *Handler) CreateMessage(w http.ResponseWriter, r *http.Request) {
	log.Printf("[POST /api/message] Request received from %s", r.RemoteAddr)

	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	var req createMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("[POST /api/message] ❌ Bad Request: %v", err)
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := engine.Validate(req); err != nil {
		respondEngineError(w, "POST /api/message", err, "Failed to create message")
		return
	}

	msg, err := h.Engine.Post(r.Context(), req.Username, engine.Send{
		Text:      req.Text,
		FileURL:   req.FileURL,
		ReplyToID: req.ReplyToID,
	})
	if err != nil {
		respondEngineError(w, "POST /api/message", err, "Failed to create message")
		return
	}

	log.Printf("[POST /api/message] ✅ Created message: ID=%d, User=%s", msg.ID, msg.Username)
	respondJSON(w, http.StatusCreated, msg)
}

// UpdateMessage handles PUT /api/message/{id}
func (h *Handler) UpdateMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := messageID(w, r, "PUT")
	if !ok {
		return
	}
	route := "PUT /api/message/" + strconv.FormatInt(id, 10)
	log.Printf("[%s] Request received from %s", route, r.RemoteAddr)

	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	var req updateMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("[%s] ❌ Bad Request: %v", route, err)
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	msg, err := h.Engine.Edit(r.Context(), engine.Edit{MessageID: id, Text: req.Text})
	if err != nil {
		respondEngineError(w, route, err, "Failed to update message")
		return
	}

	log.Printf("[%s] ✅ Updated successfully", route)
	respondJSON(w, http.StatusOK, msg)
}

// DeleteMessage handles DELETE /api/message/{id}
func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := messageID(w, r, "DELETE")
	if !ok {
		return
	}
	route := "DELETE /api/message/" + strconv.FormatInt(id, 10)
	log.Printf("[%s] Request received from %s", route, r.RemoteAddr)

	msg, err := h.Engine.Delete(r.Context(), engine.Delete{MessageID: id})
	if err != nil {
		respondEngineError(w, route, err, "Failed to delete message")
		return
	}

	log.Printf("[%s] ✅ Deleted successfully", route)
	respondJSON(w, http.StatusOK, msg)
}

// SearchMessages handles GET /api/messages/search?q=&limit=
func (h *Handler) SearchMessages(w http.ResponseWriter, r *http.Request) {
	log.Printf("[GET /api/messages/search] Request received from %s", r.RemoteAddr)

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		log.Printf("[GET /api/messages/search] ❌ Bad Request: missing q")
		respondError(w, http.StatusBadRequest, "q is required")
		return
	}

	limit := defaultSearchLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			log.Printf("[GET /api/messages/search] ❌ Bad Request: invalid limit %q", raw)
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxSearchLimit)
	}

	messages, err := h.Engine.Search(r.Context(), query, limit)
	if errors.Is(err, engine.ErrSearchDisabled) {
		respondError(w, http.StatusServiceUnavailable, "Search is disabled")
		return
	}
	if err != nil {
		respondEngineError(w, "GET /api/messages/search", err, "Search failed")
		return
	}

	log.Printf("[GET /api/messages/search] ✅ %d messages match %q", len(messages), query)
	respondJSON(w, http.StatusOK, messages)
}

func messageID(w http.ResponseWriter, r *http.Request, method string) (int64, bool) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		log.Printf("[%s /api/message/%s] ❌ Bad Request: invalid id", method, raw)
		respondError(w, http.StatusBadRequest, "Invalid message id")
		return 0, false
	}
	return id, true
}
