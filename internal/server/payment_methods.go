package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	pmdomain "github.com/smallbiznis/billsync/internal/paymentmethod/domain"
)

type addPaymentMethodRequest struct {
	GatewayTokenID string           `json:"gateway_token_id"`
	Type           string           `json:"type" binding:"required"`
	IsDefault      bool             `json:"is_default"`
	Details        pmdomain.Details `json:"details"`
	ExpiresAt      *time.Time       `json:"expires_at"`
}

func (s *Server) ListPaymentMethods(c *gin.Context) {
	tenantID, _, ok := actor(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	items, err := s.paymentMethodSvc.List(c.Request.Context(), tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (s *Server) AddPaymentMethod(c *gin.Context) {
	tenantID, userID, ok := actor(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req addPaymentMethodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	item, err := s.paymentMethodSvc.Add(c.Request.Context(), pmdomain.AddRequest{
		TenantID:       tenantID,
		UserID:         userID,
		GatewayTokenID: strings.TrimSpace(req.GatewayTokenID),
		Type:           req.Type,
		IsDefault:      req.IsDefault,
		Details:        req.Details,
		ExpiresAt:      req.ExpiresAt,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": item})
}

func (s *Server) SetDefaultPaymentMethod(c *gin.Context) {
	tenantID, userID, ok := actor(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	item, err := s.paymentMethodSvc.SetDefault(c.Request.Context(), tenantID, userID, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}

func (s *Server) RemovePaymentMethod(c *gin.Context) {
	tenantID, userID, ok := actor(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	if err := s.paymentMethodSvc.Remove(c.Request.Context(), tenantID, userID, id); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
