package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	paymentdomain "github.com/luminahealthlabs/lumina/internal/payment/domain"
)

const maxWebhookBodyBytes = 1 << 20

// StripeWebhook ingests provider deliveries. Unhandled event types are
// acknowledged so the provider stops redelivering them; transient failures
// answer 503 so redelivery retries.
func (s *Server) StripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		AbortWithError(c, paymentdomain.ErrInvalidPayload)
		return
	}

	err = s.ingestsvc.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"received": true})
	case errors.Is(err, paymentdomain.ErrEventIgnored):
		c.JSON(http.StatusOK, gin.H{"received": true, "ignored": true})
	case errors.Is(err, paymentdomain.ErrRetryable):
		s.log.Warn("webhook processing deferred", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": gin.H{"message": "temporarily unavailable"}})
	default:
		AbortWithError(c, err)
	}
}
