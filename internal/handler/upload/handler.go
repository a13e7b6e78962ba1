package upload

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	model "github.com/zhouzirui/nova/internal/model/upload"
	"github.com/zhouzirui/nova/pkg/utils"
)

const formField = "file"

var errTooLarge = errors.New("file too large")

// Counter is told about every stored upload.
type Counter interface {
	FileUploaded(contentType string)
}

// Handler stores uploaded attachments on disk and serves them back.
type Handler struct {
	dir      string
	maxBytes int64
	counter  Counter
	log      zerolog.Logger
}

// New creates the upload handler storing files under dir.
func New(dir string, maxBytes int64, counter Counter, log zerolog.Logger) (*Handler, error) {
	if maxBytes <= 0 {
		maxBytes = model.MaxSize
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Handler{dir: dir, maxBytes: maxBytes, counter: counter, log: log}, nil
}

// RegisterRoutes mounts POST /upload on the authenticated API router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/upload", h.handleUpload)
}

// RegisterFileRoutes mounts GET /uploads/{name} for reading stored files.
func (h *Handler) RegisterFileRoutes(r chi.Router) {
	r.Get("/uploads/{name}", h.handleServe)
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	// Leave room for the multipart framing around the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+1<<20)

	mr, err := r.MultipartReader()
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "multipart form expected")
		return
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			utils.RespondError(w, http.StatusBadRequest, "file field is required")
			return
		}
		if err != nil {
			h.respondReadError(w, err)
			return
		}
		if part.FormName() != formField {
			part.Close()
			continue
		}

		file, err := h.store(part)
		part.Close()
		if err != nil {
			h.respondReadError(w, err)
			return
		}

		if h.counter != nil {
			h.counter.FileUploaded(file.Type)
		}
		h.log.Info().
			Str("id", file.ID).
			Str("type", file.Type).
			Int64("size", file.Size).
			Msg("file uploaded")
		utils.RespondSuccess(w, http.StatusCreated, file)
		return
	}
}

func (h *Handler) store(part *multipart.Part) (model.File, error) {
	contentType, ok := resolveType(part.Header.Get("Content-Type"), part.FileName())
	if !ok {
		return model.File{}, unsupportedTypeError(filepath.Ext(part.FileName()))
	}

	id := uuid.NewString()
	name := id + model.AllowedTypes[contentType]

	tmp, err := os.CreateTemp(h.dir, ".upload-*")
	if err != nil {
		return model.File{}, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, io.LimitReader(part, h.maxBytes+1))
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return model.File{}, err
	}
	if n > h.maxBytes {
		return model.File{}, errTooLarge
	}
	if err := os.Rename(tmp.Name(), filepath.Join(h.dir, name)); err != nil {
		return model.File{}, fmt.Errorf("store upload: %w", err)
	}

	return model.File{
		ID:   id,
		URL:  "/uploads/" + name,
		Name: filepath.Base(part.FileName()),
		Type: contentType,
		Size: n,
	}, nil
}

// resolveType trusts an allowed part Content-Type and otherwise falls back to
// the file extension.
func resolveType(header, fileName string) (string, bool) {
	if mediaType, _, err := mime.ParseMediaType(header); err == nil && model.Allowed(mediaType) {
		return mediaType, true
	}
	ext := strings.ToLower(filepath.Ext(fileName))
	if ext == ".jpeg" {
		ext = ".jpg"
	}
	for contentType, allowed := range model.AllowedTypes {
		if allowed == ext {
			return contentType, true
		}
	}
	return "", false
}

func (h *Handler) respondReadError(w http.ResponseWriter, err error) {
	var maxErr *http.MaxBytesError
	var typeErr unsupportedTypeError
	switch {
	case errors.Is(err, errTooLarge), errors.As(err, &maxErr):
		utils.RespondError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("file exceeds %d bytes", h.maxBytes))
	case errors.As(err, &typeErr):
		utils.RespondError(w, http.StatusUnsupportedMediaType, typeErr.Error())
	default:
		h.log.Warn().Err(err).Msg("upload failed")
		utils.RespondError(w, http.StatusBadRequest, "upload failed")
	}
}

type unsupportedTypeError string

func (e unsupportedTypeError) Error() string {
	return fmt.Sprintf("unsupported file type %q", string(e))
}

func (h *Handler) handleServe(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		utils.RespondError(w, http.StatusNotFound, "file not found")
		return
	}
	path := filepath.Join(h.dir, name)
	if _, err := os.Stat(path); err != nil {
		utils.RespondError(w, http.StatusNotFound, "file not found")
		return
	}
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	http.ServeFile(w, r, path)
}
