package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	checkoutdomain "github.com/smallbiznis/billsync/internal/checkout/domain"
)

type initiateCheckoutRequest struct {
	PlanID       string `json:"plan_id"`
	PlanCode     string `json:"plan_code"`
	BillingCycle string `json:"billing_cycle" binding:"required"`
	Currency     string `json:"currency"`
}

type verifyCheckoutRequest struct {
	GatewaySubscriptionID string `json:"razorpay_subscription_id" binding:"required"`
	GatewayPaymentID      string `json:"razorpay_payment_id" binding:"required"`
	Signature             string `json:"razorpay_signature" binding:"required"`
}

func (s *Server) InitiateCheckout(c *gin.Context) {
	tenantID, userID, ok := actor(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req initiateCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	planID, err := parseOptionalSnowflakeID(req.PlanID)
	if err != nil {
		AbortWithError(c, newValidationError("plan_id", "invalid_plan_id", "invalid plan_id"))
		return
	}
	if planID == nil && strings.TrimSpace(req.PlanCode) == "" {
		AbortWithError(c, newValidationError("plan_id", "required", "plan_id or plan_code is required"))
		return
	}

	in := checkoutdomain.InitiateRequest{
		TenantID:     tenantID,
		UserID:       userID,
		PlanCode:     strings.TrimSpace(req.PlanCode),
		BillingCycle: strings.TrimSpace(req.BillingCycle),
		Currency:     strings.TrimSpace(req.Currency),
	}
	if planID != nil {
		in.PlanID = *planID
	}

	resp, err := s.checkoutSvc.Initiate(c.Request.Context(), in)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) VerifyCheckout(c *gin.Context) {
	tenantID, _, ok := actor(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req verifyCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.checkoutSvc.Verify(c.Request.Context(), checkoutdomain.VerifyRequest{
		TenantID:              tenantID,
		GatewaySubscriptionID: strings.TrimSpace(req.GatewaySubscriptionID),
		GatewayPaymentID:      strings.TrimSpace(req.GatewayPaymentID),
		Signature:             strings.TrimSpace(req.Signature),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"subscription": resp.Subscription,
		"plan":         resp.Plan,
	}})
}
