package handler

import (
	"errors"
	"log"
	"net/http"
)

// multipart のうちメモリに保持する上限。超えた分は一時ファイルに書き出される
const multipartMemory = 32 << 20

// UploadFile handles POST /api/upload
func (h *Handler) UploadFile(w http.ResponseWriter, r *http.Request) {
	log.Printf("[POST /api/upload] Request received from %s", r.RemoteAddr)

	r.Body = http.MaxBytesReader(w, r.Body, h.Config.MaxUploadSize)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		respondFormError(w, "POST /api/upload", err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		log.Printf("[POST /api/upload] ❌ Bad Request: %v", err)
		respondError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	stored, err := h.Uploads.Save(header.Filename, file)
	if err != nil {
		log.Printf("[POST /api/upload] ❌ Failed to store file: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to store file")
		return
	}

	log.Printf("[POST /api/upload] ✅ Stored %s (%s, %d bytes)", stored.URL, stored.MimeType, stored.Size)
	respondJSON(w, http.StatusCreated, stored)
}

func respondFormError(w http.ResponseWriter, route string, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		log.Printf("[%s] ❌ Payload too large (limit %d bytes)", route, tooLarge.Limit)
		respondError(w, http.StatusRequestEntityTooLarge, "File too large")
		return
	}
	log.Printf("[%s] ❌ Bad Request: %v", route, err)
	respondError(w, http.StatusBadRequest, "Invalid multipart form")
}
