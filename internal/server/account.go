package server

import (
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	accountdomain "github.com/luminahealthlabs/lumina/internal/account/domain"
)

type createAccountRequest struct {
	Email string `json:"email"`
}

// CreateAccount provisions a ledger row ahead of the first provider event,
// so support can hand out admin top-ups before checkout completes.
func (s *Server) CreateAccount(c *gin.Context) {
	var req createAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("body", "invalid_json", "request body must be valid JSON"))
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		AbortWithError(c, newValidationError("email", "invalid", "email must be a valid address"))
		return
	}

	now := time.Now().UTC()
	account := &accountdomain.Account{
		ID:                   s.genID.Generate(),
		Email:                email,
		DailyQuotaLimit:      s.cfg.Wallet.DefaultDailyQuota,
		DailyQuotaResetAt:    now,
		WalletMonthlyResetAt: now,
	}

	if err := s.accounts.Insert(c.Request.Context(), s.db, account); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			AbortWithError(c, newValidationError("email", "duplicate", "an account with this email already exists"))
			return
		}
		AbortWithError(c, err)
		return
	}
	respondData(c, account)
}
