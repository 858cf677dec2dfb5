package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// URLPrefix is the public path under which stored files are served.
const URLPrefix = "/uploads/"

// File describes a stored upload.
type File struct {
	URL      string `json:"fileUrl"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
}

// Store writes uploaded files to a local directory under random names.
type Store struct {
	dir string
}

// NewStore creates dir if it is missing and stores uploads in it.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the directory files are stored in.
func (s *Store) Dir() string { return s.dir }

// Save copies r to a new file, keeping the extension of originalName, and
// sniffs its media type.
func (s *Store) Save(originalName string, r io.Reader) (File, error) {
	ext := strings.ToLower(filepath.Ext(filepath.Base(originalName)))
	name := uuid.NewString() + ext
	path := filepath.Join(s.dir, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return File{}, fmt.Errorf("create upload: %w", err)
	}
	size, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return File{}, fmt.Errorf("write upload: %w", err)
	}

	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		_ = os.Remove(path)
		return File{}, fmt.Errorf("detect upload type: %w", err)
	}

	return File{URL: URLPrefix + name, MimeType: mtype.String(), Size: size}, nil
}

// Cleanup removes the stored file behind ref. References that do not point
// into this store (external URLs) are ignored.
func (s *Store) Cleanup(_ context.Context, ref string) error {
	name, ok := s.localName(ref)
	if !ok {
		return nil
	}
	err := os.Remove(filepath.Join(s.dir, name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove upload %s: %w", name, err)
	}
	log.Printf("[upload] 🗑️ Removed %s", name)
	return nil
}

func (s *Store) localName(ref string) (string, bool) {
	idx := strings.Index(ref, URLPrefix)
	if idx < 0 {
		return "", false
	}
	name := ref[idx+len(URLPrefix):]
	if name == "" || name != filepath.Base(name) || name == ".." {
		return "", false
	}
	return name, true
}
