package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/productivity-tools/m4a-notes/internal/api/middleware"
	"github.com/productivity-tools/m4a-notes/internal/metrics"
	"github.com/productivity-tools/m4a-notes/internal/storage"
)

// UploadPresigner issues pre-authorized upload URLs.
type UploadPresigner interface {
	PresignUpload(ctx context.Context, userID, fileName, contentType string) (storage.Upload, error)
}

type uploadRequest struct {
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
}

// UploadsHandler issues upload URLs from local object storage configuration.
type UploadsHandler struct {
	presigner UploadPresigner
	metrics   *metrics.PrometheusMetrics
	logger    zerolog.Logger
}

// NewUploadsHandler creates an UploadsHandler. m may be nil.
func NewUploadsHandler(p UploadPresigner, m *metrics.PrometheusMetrics, logger zerolog.Logger) *UploadsHandler {
	return &UploadsHandler{
		presigner: p,
		metrics:   m,
		logger:    logger.With().Str("component", "uploads_handler").Logger(),
	}
}

// RegisterRoutes registers upload routes.
func (h *UploadsHandler) RegisterRoutes(r gin.IRouter) {
	r.POST("/uploads", h.Create)
}

// Create returns {uploadUrl, objectKey, expiresAt} for an authenticated user.
// POST /api/uploads
func (h *UploadsHandler) Create(c *gin.Context) {
	uid := middleware.UserID(c)
	if uid == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var req uploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.metrics.RecordUploadURL("invalid")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	req.FileName = strings.TrimSpace(req.FileName)
	if req.FileName == "" {
		h.metrics.RecordUploadURL("invalid")
		c.JSON(http.StatusBadRequest, gin.H{"error": "fileName is required"})
		return
	}
	if !strings.HasSuffix(strings.ToLower(req.FileName), ".m4a") {
		h.metrics.RecordUploadURL("invalid")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Please upload only M4A audio files."})
		return
	}

	up, err := h.presigner.PresignUpload(c.Request.Context(), uid, req.FileName, req.ContentType)
	if err != nil {
		h.metrics.RecordUploadURL("error")
		h.logger.Error().Err(err).Str("user_id", uid).Msg("failed to presign upload")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get upload URL"})
		return
	}

	h.metrics.RecordUploadURL("ok")
	h.logger.Info().Str("user_id", uid).Str("object_key", up.ObjectKey).Msg("upload URL issued")
	c.JSON(http.StatusOK, up)
}
