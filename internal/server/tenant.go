package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	tenantdomain "github.com/smallbiznis/billsync/internal/tenant/domain"
)

func (s *Server) ListPlans(c *gin.Context) {
	items, err := s.planSvc.ListActive(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (s *Server) UpdateBillingAddress(c *gin.Context) {
	tenantID, userID, ok := actor(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req tenantdomain.BillingAddress
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	item, err := s.tenantSvc.UpdateBillingAddress(c.Request.Context(), tenantID, userID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}
