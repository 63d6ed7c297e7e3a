package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	obstracing "github.com/smallbiznis/billsync/internal/observability/tracing"
	webhookdomain "github.com/smallbiznis/billsync/internal/webhook/domain"
	"go.uber.org/zap"
)

const maxWebhookBodyBytes = 1 << 20

// HandleGatewayWebhook acknowledges every verified delivery. Only a bad signature
// (400) or an opted-in retry after a rolled back event (503) is answered otherwise.
func (s *Server) HandleGatewayWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.reconciler.Reconcile(c.Request.Context(), payload, c.GetHeader(HeaderGatewaySignature))
	c.Set(obstracing.KeyWebhookEvent, result.Event)
	c.Set(obstracing.KeyWebhookOutcome, string(result.Outcome))
	switch {
	case errors.Is(err, webhookdomain.ErrInvalidSignature):
		AbortWithError(c, newValidationError("signature", "invalid_signature", "invalid webhook signature"))
		return
	case errors.Is(err, webhookdomain.ErrRetryLater):
		AbortWithError(c, ErrServiceUnavailable)
		return
	case err != nil:
		s.log.Error("webhook reconcile returned unexpected error", zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
