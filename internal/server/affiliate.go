package server

import (
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type createAffiliateRequest struct {
	Name string `json:"name"`
}

func (s *Server) CreateAffiliate(c *gin.Context) {
	var req createAffiliateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("body", "invalid_json", "request body must be valid JSON"))
		return
	}

	affiliate, err := s.affiliatesvc.CreateAffiliate(c.Request.Context(), req.Name)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	respondData(c, affiliate)
}

// AffiliateRedirect records the click and bounces the visitor to the landing
// page with the click id attached. Unknown or suspended codes still redirect;
// they just carry no attribution.
func (s *Server) AffiliateRedirect(c *gin.Context) {
	code := c.Param("code")

	target, err := url.Parse(s.cfg.Affiliate.LandingURL)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	clickID, err := s.affiliatesvc.RecordClick(c.Request.Context(), code, c.Request.Referer())
	if err != nil {
		s.log.Info("affiliate click not recorded",
			zap.String("code", code),
			zap.Error(err))
		c.Redirect(http.StatusFound, target.String())
		return
	}

	query := target.Query()
	query.Set("ref", code)
	query.Set("click_id", clickID)
	target.RawQuery = query.Encode()
	c.Redirect(http.StatusFound, target.String())
}
