package api

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/kajgg/kaj-server/internal/auth"
	"github.com/kajgg/kaj-server/internal/file"
	"github.com/kajgg/kaj-server/internal/httputil"
	"github.com/kajgg/kaj-server/internal/ident"
	"github.com/kajgg/kaj-server/internal/model"
	"github.com/kajgg/kaj-server/internal/objstore"
)

// FileHandler serves the two-step upload flow: presign reserves records and
// hands out direct-to-storage URLs, complete verifies the uploads landed.
type FileHandler struct {
	files     file.Repository
	store     ObjectStore
	env       string
	publicURL string
	maxSize   int64
	maxBatch  int
	log       zerolog.Logger
}

// NewFileHandler creates a new file handler. store may be nil when object
// storage is not configured; uploads are then rejected. maxBatch caps how
// many uploads one presign request may reserve, matching the per-message
// file limit.
func NewFileHandler(
	files file.Repository,
	store ObjectStore,
	env, publicURL string,
	maxSize int64,
	maxBatch int,
	logger zerolog.Logger,
) *FileHandler {
	return &FileHandler{
		files:     files,
		store:     store,
		env:       env,
		publicURL: publicURL,
		maxSize:   maxSize,
		maxBatch:  maxBatch,
		log:       logger,
	}
}

type presignItem struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

type presignedUpload struct {
	File      model.File `json:"file"`
	UploadURL string     `json:"upload_url"`
	Method    string     `json:"method"`
}

// Presign handles POST /v1/files/presign. The body is a list of uploads to
// reserve; each comes back with a record and a URL to PUT the bytes to.
func (h *FileHandler) Presign(c *fiber.Ctx) error {
	current := auth.CurrentUser(c)

	if h.store == nil {
		return h.mapFileError(c, errStorageDisabled)
	}

	var items []presignItem
	if err := c.BodyParser(&items); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "Invalid request body")
	}
	if len(items) == 0 {
		return httputil.Fail(c, fiber.StatusBadRequest, "No files to presign")
	}
	if len(items) > h.maxBatch {
		return httputil.Fail(c, fiber.StatusBadRequest, "Too many files in one request")
	}

	out := make([]presignedUpload, 0, len(items))
	for _, item := range items {
		params := file.CreateParams{
			ID:       ident.New(),
			OwnerID:  current.ID,
			Name:     item.Name,
			MimeType: item.MimeType,
			Size:     item.Size,
		}
		if err := params.Validate(h.maxSize); err != nil {
			return h.mapFileError(c, err)
		}

		record, err := h.files.Create(c.Context(), params)
		if err != nil {
			return h.mapFileError(c, err)
		}

		uploadURL, err := h.store.PresignPut(c.Context(), record.Key(h.env), record.MimeType)
		if err != nil {
			h.log.Error().Err(err).Str("file_id", record.ID).Msg("Failed to presign upload")
			return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
		}

		out = append(out, presignedUpload{
			File:      record.ToModel(h.publicURL, h.env),
			UploadURL: uploadURL,
			Method:    "PUT",
		})
	}

	return httputil.Success(c, out)
}

type completeRequest struct {
	FileIDs []string `json:"file_ids"`
}

// Complete handles POST /v1/files/complete. Each file's stored object must
// exist and match the reserved size before the record is marked usable.
func (h *FileHandler) Complete(c *fiber.Ctx) error {
	current := auth.CurrentUser(c)

	if h.store == nil {
		return h.mapFileError(c, errStorageDisabled)
	}

	var body completeRequest
	if err := c.BodyParser(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, "Invalid request body")
	}
	if len(body.FileIDs) == 0 {
		return httputil.Fail(c, fiber.StatusBadRequest, "No files to complete")
	}

	out := make([]model.File, 0, len(body.FileIDs))
	for _, id := range body.FileIDs {
		record, err := h.files.GetByID(c.Context(), id)
		if err != nil {
			return h.mapFileError(c, err)
		}
		if record.OwnerID != current.ID {
			return h.mapFileError(c, file.ErrNotOwner)
		}

		size, err := h.store.Head(c.Context(), record.Key(h.env))
		if err != nil {
			if errors.Is(err, objstore.ErrNotFound) {
				return h.mapFileError(c, file.ErrNotUploaded)
			}
			h.log.Error().Err(err).Str("file_id", record.ID).Msg("Failed to stat uploaded object")
			return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
		}
		if size != record.Size {
			return h.mapFileError(c, file.ErrSizeMismatch)
		}

		updated, err := h.files.MarkUploaded(c.Context(), record.ID, time.Now())
		if err != nil {
			return h.mapFileError(c, err)
		}
		out = append(out, updated.ToModel(h.publicURL, h.env))
	}

	return httputil.Success(c, out)
}

// mapFileError translates upload errors to HTTP responses. Everything a
// client can cause comes back 400.
func (h *FileHandler) mapFileError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, file.ErrNotFound),
		errors.Is(err, file.ErrNotOwner),
		errors.Is(err, file.ErrNotUploaded),
		errors.Is(err, file.ErrTooLarge),
		errors.Is(err, file.ErrNameLength),
		errors.Is(err, file.ErrSizeInvalid),
		errors.Is(err, file.ErrSizeMismatch),
		errors.Is(err, errStorageDisabled):
		return httputil.Fail(c, fiber.StatusBadRequest, err.Error())
	default:
		h.log.Error().Err(err).Str("handler", "file").Msg("Unhandled file error")
		return httputil.Fail(c, fiber.StatusInternalServerError, "An internal error occurred")
	}
}
