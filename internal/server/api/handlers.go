package api

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"snapshelf/internal/core"
	"snapshelf/internal/server/database"
	"snapshelf/internal/server/service"
	"snapshelf/internal/server/session"
	"snapshelf/internal/server/storage"
)

// Handler contains the HTTP handlers for the photo API.
type Handler struct {
	svc  *service.UploadService
	repo database.Repository
}

// NewHandler creates a new handler with the given service dependency.
func NewHandler(svc *service.UploadService, repo database.Repository) *Handler {
	return &Handler{svc: svc, repo: repo}
}

type photoResponse struct {
	Checksum   string    `json:"checksum"`
	MimeType   string    `json:"mime_type"`
	CapturedAt time.Time `json:"captured_at"`
	IngestedAt time.Time `json:"ingested_at"`
	Comment    string    `json:"comment"`
}

func newPhotoResponse(p *database.Photo) photoResponse {
	return photoResponse{
		Checksum:   p.Checksum,
		MimeType:   p.MimeType,
		CapturedAt: p.CapturedAt,
		IngestedAt: p.IngestedAt,
		Comment:    p.Comment,
	}
}

type commitRequest struct {
	Comments map[string]string `json:"comments"`
}

// HandleUpload handles POST /api/uploads.
// Accepts a multipart form with one or more "files" fields and stages them
// in a new upload session.
func (h *Handler) HandleUpload(c echo.Context) error {
	form, err := c.MultipartForm()
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": "multipart form with 'files' fields is required",
		})
	}

	headers := form.File["files"]
	if len(headers) == 0 {
		headers = form.File["file"]
	}

	files := make([]service.UploadFile, 0, len(headers))
	for _, fh := range headers {
		src, err := fh.Open()
		if err != nil {
			closeOpened(files)
			return c.JSON(http.StatusInternalServerError, echo.Map{
				"error": "failed to read uploaded file",
			})
		}
		files = append(files, service.UploadFile{
			Filename: fh.Filename,
			Size:     fh.Size,
			Data:     src,
		})
	}

	result, err := h.svc.Begin(c.Request().Context(), files)
	if err != nil {
		return mapServiceError(c, err)
	}

	if result.Staged == 0 {
		kinds := make([]string, 0, len(result.Files))
		for _, f := range result.Files {
			kinds = append(kinds, f.Kind)
		}
		return c.JSON(failureStatus(kinds), result)
	}
	return c.JSON(http.StatusCreated, result)
}

func closeOpened(files []service.UploadFile) {
	for _, f := range files {
		f.Data.(multipart.File).Close()
	}
}

// HandlePreview handles GET /api/uploads/:session.
// Lists the photos staged in an upload session.
func (h *Handler) HandlePreview(c echo.Context) error {
	images, err := h.svc.Preview(c.Request().Context(), c.Param("session"))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"session_key": c.Param("session"),
		"images":      images,
	})
}

// HandleStagedPhoto serves a staged full-size image.
func (h *Handler) HandleStagedPhoto(c echo.Context) error {
	return h.serveStaged(c, storage.Full)
}

// HandleStagedThumb serves a staged thumbnail.
func (h *Handler) HandleStagedThumb(c echo.Context) error {
	return h.serveStaged(c, storage.Thumb)
}

func (h *Handler) serveStaged(c echo.Context, v storage.Variant) error {
	path, err := h.svc.StagedFile(c.Request().Context(), c.Param("session"), c.Param("checksum"), v)
	if err != nil {
		return mapServiceError(c, err)
	}
	c.Response().Header().Set("Cache-Control", "private, no-store")
	c.Response().Header().Set(echo.HeaderContentType, core.JPEGMimeType)
	return c.File(path)
}

// HandleCommit handles POST /api/uploads/:session/commit.
// Accepts an optional JSON body of per-checksum comments.
func (h *Handler) HandleCommit(c echo.Context) error {
	var req commitRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	result, err := h.svc.Finish(c.Request().Context(), c.Param("session"), req.Comments)
	if err != nil {
		return mapServiceError(c, err)
	}

	switch {
	case len(result.Failed) == 0:
		return c.JSON(http.StatusOK, result)
	case len(result.Committed) > 0:
		return c.JSON(http.StatusMultiStatus, result)
	default:
		kinds := make([]string, 0, len(result.Failed))
		for _, f := range result.Failed {
			kinds = append(kinds, f.Kind)
		}
		return c.JSON(failureStatus(kinds), result)
	}
}

// HandleDiscard handles DELETE /api/uploads/:session.
func (h *Handler) HandleDiscard(c echo.Context) error {
	if err := h.svc.Discard(c.Request().Context(), c.Param("session")); err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"message": "upload session discarded",
	})
}

// HandlePhoto handles GET /photos/:checksum.
func (h *Handler) HandlePhoto(c echo.Context) error {
	return h.servePhoto(c, storage.Full)
}

// HandleThumb handles GET /photos/:checksum/thumb.
func (h *Handler) HandleThumb(c echo.Context) error {
	return h.servePhoto(c, storage.Thumb)
}

func (h *Handler) servePhoto(c echo.Context, v storage.Variant) error {
	checksum := c.Param("checksum")
	photo, f, err := h.svc.OpenPhoto(c.Request().Context(), checksum, v)
	if err != nil {
		return mapServiceError(c, err)
	}
	defer f.Close()

	mimeType := photo.MimeType
	if v == storage.Thumb {
		mimeType = core.JPEGMimeType
	}

	// Content never changes for a checksum.
	hdr := c.Response().Header()
	hdr.Set(echo.HeaderContentType, mimeType)
	hdr.Set("ETag", `"`+checksum+"-"+v.String()+`"`)
	hdr.Set("Cache-Control", "public, max-age=31536000, immutable")

	http.ServeContent(c.Response(), c.Request(), "", photo.IngestedAt, f)
	return nil
}

// HandleGetPhoto handles GET /api/photos/:checksum.
func (h *Handler) HandleGetPhoto(c echo.Context) error {
	photo, err := h.svc.GetPhoto(c.Request().Context(), c.Param("checksum"))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, newPhotoResponse(photo))
}

// HandleUpdatePhoto handles PATCH /api/photos/:checksum.
// Edits the capture date and comment of a committed photo.
func (h *Handler) HandleUpdatePhoto(c echo.Context) error {
	var upd service.DetailsUpdate
	if err := c.Bind(&upd); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	photo, err := h.svc.UpdateDetails(c.Request().Context(), c.Param("checksum"), upd)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, newPhotoResponse(photo))
}

// HandleListPhotos handles GET /api/photos.
func (h *Handler) HandleListPhotos(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))

	photos, err := h.svc.ListPhotos(c.Request().Context(), limit, offset)
	if err != nil {
		return mapServiceError(c, err)
	}

	out := make([]photoResponse, 0, len(photos))
	for _, p := range photos {
		out = append(out, newPhotoResponse(p))
	}
	return c.JSON(http.StatusOK, echo.Map{"photos": out})
}

// HandleHealth handles GET /health.
// Returns the health status of the server, including database connectivity.
func (h *Handler) HandleHealth(c echo.Context) error {
	status := "healthy"
	dbStatus := "connected"

	if err := h.repo.HealthCheck(c.Request().Context()); err != nil {
		status = "degraded"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status":   status,
		"database": dbStatus,
	})
}

// HandleStats handles GET /api/stats.
func (h *Handler) HandleStats(c echo.Context) error {
	stats, err := h.svc.GetStats(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error": "failed to retrieve stats",
		})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"total_photos":       stats.TotalPhotos,
		"last_ingested_at":   stats.LastIngestedAt,
		"stored_files":       stats.StoredFiles,
		"storage_used_bytes": stats.StoredBytes,
		"storage_used_human": humanizeBytes(stats.StoredBytes),
	})
}

// mapServiceError translates service-layer errors into appropriate HTTP responses.
func mapServiceError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "photo not found"})
	case errors.Is(err, session.ErrSessionNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "upload session not found"})
	case errors.Is(err, session.ErrUnknownChecksum):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "photo not staged in this session"})
	case errors.Is(err, session.ErrSessionExists):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	case errors.Is(err, session.ErrIllegalState),
		errors.Is(err, session.ErrInvalidKey),
		errors.Is(err, storage.ErrInvalidChecksum),
		errors.Is(err, service.ErrNoFiles):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}

	kind := service.ErrorKind(err)
	msg := "internal server error"
	switch kind {
	case service.KindDuplicate:
		msg = err.Error()
	case service.KindDecode:
		msg = "file is not a supported image"
	case service.KindTooLarge:
		msg = "file exceeds maximum allowed size"
	case service.KindIO:
		msg = "storage unavailable"
	}
	return c.JSON(kindStatus(kind), echo.Map{"error": msg, "kind": kind})
}

// kindStatus is the HTTP status for a failure kind. Only 503 is safe to retry.
func kindStatus(kind string) int {
	switch kind {
	case service.KindDuplicate:
		return http.StatusConflict
	case service.KindDecode:
		return http.StatusUnprocessableEntity
	case service.KindTooLarge:
		return http.StatusRequestEntityTooLarge
	case service.KindIO:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// failureStatus is the status of a request in which every item failed.
// Items failing for different reasons yield 422; the body carries each kind.
func failureStatus(kinds []string) int {
	if len(kinds) == 0 {
		return http.StatusUnprocessableEntity
	}
	for _, k := range kinds[1:] {
		if k != kinds[0] {
			return http.StatusUnprocessableEntity
		}
	}
	return kindStatus(kinds[0])
}

// humanizeBytes formats a byte count into a human-readable string.
func humanizeBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
