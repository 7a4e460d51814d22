package server

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func accountIDFromPath(c *gin.Context) (snowflake.ID, error) {
	id, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		return 0, newValidationError("id", "invalid", "account id must be a valid id")
	}
	return id, nil
}

type grantSubscriptionRequest struct {
	AllowanceCents int64      `json:"allowance_cents"`
	Until          *time.Time `json:"until"`
}

// GrantSubscription is the out-of-band premium grant. It goes through the
// same cycle-reset primitive as provider-managed subscriptions.
func (s *Server) GrantSubscription(c *gin.Context) {
	accountID, err := accountIDFromPath(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req grantSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("body", "invalid_json", "request body must be valid JSON"))
		return
	}
	if req.AllowanceCents <= 0 {
		AbortWithError(c, newValidationError("allowance_cents", "invalid", "allowance must be positive"))
		return
	}

	if err := s.subsvc.GrantAdminSubscription(c.Request.Context(), accountID, req.AllowanceCents, req.Until); err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, gin.H{"granted": true})
}

func (s *Server) RevokeSubscription(c *gin.Context) {
	accountID, err := accountIDFromPath(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.subsvc.RevokeAdminSubscription(c.Request.Context(), accountID); err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, gin.H{"revoked": true})
}

type grantTopUpRequest struct {
	AmountCents int64      `json:"amount_cents"`
	ExpiresAt   *time.Time `json:"expires_at"`
}

func (s *Server) GrantTopUp(c *gin.Context) {
	accountID, err := accountIDFromPath(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req grantTopUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("body", "invalid_json", "request body must be valid JSON"))
		return
	}

	expiresAt := time.Now().UTC().AddDate(0, 0, s.cfg.Wallet.TopUpExpiryDays)
	if req.ExpiresAt != nil {
		expiresAt = *req.ExpiresAt
	}

	// Admin grants have no provider charge behind them; the source ref is the
	// caller's idempotency key when present so retried grants do not stack.
	sourceRef := idempotencyKeyFromHeader(c)
	if sourceRef == "" {
		sourceRef = "admin:" + uuid.NewString()
	} else {
		sourceRef = "admin:" + sourceRef
	}

	topup, err := s.walletsvc.GrantTopUp(c.Request.Context(), accountID, req.AmountCents, expiresAt, sourceRef)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, topup)
}
