package handler

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"groupchat/internal/model"
)

// Login handles POST /api/login
// multipart: username (必須), avatar (任意の画像ファイル)
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	log.Printf("[POST /api/login] Request received from %s", r.RemoteAddr)

	r.Body = http.MaxBytesReader(w, r.Body, h.Config.MaxUploadSize)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		respondFormError(w, "POST /api/login", err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	username := strings.TrimSpace(r.FormValue("username"))
	if username == "" {
		log.Printf("[POST /api/login] ❌ Bad Request: missing username")
		respondError(w, http.StatusBadRequest, "username is required")
		return
	}

	user := model.User{Username: username}
	file, header, err := r.FormFile("avatar")
	switch {
	case errors.Is(err, http.ErrMissingFile):
	case err != nil:
		log.Printf("[POST /api/login] ❌ Bad Request: %v", err)
		respondError(w, http.StatusBadRequest, "Invalid avatar")
		return
	default:
		defer file.Close()
		stored, err := h.Uploads.Save(header.Filename, file)
		if err != nil {
			log.Printf("[POST /api/login] ❌ Failed to store avatar: %v", err)
			respondError(w, http.StatusInternalServerError, "Failed to store avatar")
			return
		}
		if !strings.HasPrefix(stored.MimeType, "image/") {
			_ = h.Uploads.Cleanup(r.Context(), stored.URL)
			log.Printf("[POST /api/login] ❌ Bad Request: avatar is %s", stored.MimeType)
			respondError(w, http.StatusBadRequest, "avatar must be an image")
			return
		}
		user.ProfileURL = stored.URL
	}

	saved, err := h.Users.SaveUser(r.Context(), user)
	if err != nil {
		if user.ProfileURL != "" {
			_ = h.Uploads.Cleanup(r.Context(), user.ProfileURL)
		}
		respondEngineError(w, "POST /api/login", err, "Failed to save user")
		return
	}

	log.Printf("[POST /api/login] ✅ %s logged in (avatar=%q)", saved.Username, saved.ProfileURL)
	respondJSON(w, http.StatusOK, saved)
}
