package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

func accountIDFromHeader(c *gin.Context) (snowflake.ID, error) {
	raw := strings.TrimSpace(c.GetHeader("X-Account-ID"))
	if raw == "" {
		return 0, newValidationError("X-Account-ID", "required", "account header is required")
	}
	id, err := snowflake.ParseString(raw)
	if err != nil {
		return 0, newValidationError("X-Account-ID", "invalid", "account header must be a valid id")
	}
	return id, nil
}

func (s *Server) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) GetWallet(c *gin.Context) {
	accountID, err := accountIDFromHeader(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status, err := s.walletsvc.GetWalletStatus(c.Request.Context(), accountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, status)
}

type chargeRequest struct {
	AmountCents int64 `json:"amount_cents"`
}

func (s *Server) ChargeWallet(c *gin.Context) {
	accountID, err := accountIDFromHeader(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req chargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("body", "invalid_json", "request body must be valid JSON"))
		return
	}

	charged, err := s.walletsvc.ChargeCents(c.Request.Context(), accountID, req.AmountCents)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, gin.H{"charged": charged})
}

type consumeQuotaRequest struct {
	Units int `json:"units"`
}

func (s *Server) ConsumeQuota(c *gin.Context) {
	accountID, err := accountIDFromHeader(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req consumeQuotaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("body", "invalid_json", "request body must be valid JSON"))
		return
	}
	if req.Units <= 0 {
		req.Units = 1
	}

	allowed, err := s.walletsvc.ConsumeDailyQuota(c.Request.Context(), accountID, req.Units)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, gin.H{"allowed": allowed})
}

func (s *Server) GetUsage(c *gin.Context) {
	accountID, err := accountIDFromHeader(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	counters, err := s.usagesvc.GetMonthly(c.Request.Context(), accountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, counters)
}
