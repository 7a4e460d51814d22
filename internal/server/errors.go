package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	accountdomain "github.com/luminahealthlabs/lumina/internal/account/domain"
	affiliatedomain "github.com/luminahealthlabs/lumina/internal/affiliate/domain"
	paymentdomain "github.com/luminahealthlabs/lumina/internal/payment/domain"
	subscriptiondomain "github.com/luminahealthlabs/lumina/internal/subscription/domain"
	walletdomain "github.com/luminahealthlabs/lumina/internal/wallet/domain"
)

type validationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *validationError) Error() string { return e.Message }

func newValidationError(field, code, message string) error {
	return &validationError{Field: field, Code: code, Message: message}
}

// AbortWithError maps domain sentinel errors to HTTP statuses. Anything
// unrecognized is a 500 so transient failures stay retryable for callers.
func AbortWithError(c *gin.Context, err error) {
	var vErr *validationError
	if errors.As(err, &vErr) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": vErr})
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, accountdomain.ErrAccountNotFound),
		errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound),
		errors.Is(err, affiliatedomain.ErrAffiliateNotFound),
		errors.Is(err, walletdomain.ErrTopUpNotFound):
		status = http.StatusNotFound
	case errors.Is(err, walletdomain.ErrInvalidAmount),
		errors.Is(err, accountdomain.ErrInvalidAccount),
		errors.Is(err, affiliatedomain.ErrInvalidAffiliate),
		errors.Is(err, paymentdomain.ErrInvalidPayload),
		errors.Is(err, paymentdomain.ErrInvalidEvent):
		status = http.StatusBadRequest
	case errors.Is(err, paymentdomain.ErrInvalidSignature):
		status = http.StatusBadRequest
	case errors.Is(err, affiliatedomain.ErrAffiliateSuspended):
		status = http.StatusForbidden
	case errors.Is(err, paymentdomain.ErrRetryable):
		status = http.StatusServiceUnavailable
	}

	c.AbortWithStatusJSON(status, gin.H{"error": gin.H{"message": err.Error()}})
}
