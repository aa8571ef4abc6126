package handlers

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/productivity-tools/m4a-notes/internal/billing"
)

// maxWebhookBody caps billing provider payloads.
const maxWebhookBody = 1 << 20

// EventDispatcher applies a parsed billing event.
type EventDispatcher interface {
	Dispatch(ctx context.Context, ev billing.Event) (string, error)
}

// WebhookHandler receives billing provider notifications.
type WebhookHandler struct {
	intake EventDispatcher
	secret string
	logger zerolog.Logger
}

// NewWebhookHandler creates a WebhookHandler. Signature verification is
// enforced only when secret is non-empty.
func NewWebhookHandler(intake EventDispatcher, secret string, logger zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{
		intake: intake,
		secret: secret,
		logger: logger.With().Str("component", "webhook_handler").Logger(),
	}
}

// RegisterRoutes registers the webhook route.
func (h *WebhookHandler) RegisterRoutes(r gin.IRouter) {
	r.POST("/webhook", h.Receive)
}

// Receive verifies and dispatches one event. Once the body parses, the
// provider always gets 200 so handler failures do not trigger redelivery.
// POST /api/webhook
func (h *WebhookHandler) Receive(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
	if err != nil || len(body) > maxWebhookBody {
		h.logger.Warn().Err(err).Int("bytes", len(body)).Msg("unreadable webhook body")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Webhook processing failed"})
		return
	}

	if h.secret != "" {
		if err := billing.VerifySignature(c.GetHeader(billing.SignatureHeader), body, h.secret, time.Now()); err != nil {
			h.logger.Warn().Err(err).Str("client_ip", c.ClientIP()).Msg("webhook signature rejected")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
			return
		}
	}

	ev, err := billing.ParseEvent(body)
	if err != nil {
		h.logger.Warn().Err(err).Msg("webhook body is not an event")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Webhook processing failed"})
		return
	}

	if _, err := h.intake.Dispatch(c.Request.Context(), ev); err != nil {
		h.logger.Error().Err(err).Str("event_id", ev.EventID).Msg("webhook event not applied")
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}
