package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	subscriptiondomain "github.com/smallbiznis/billsync/internal/subscription/domain"
	"go.uber.org/zap"
)

type cancelSubscriptionRequest struct {
	AtPeriodEnd *bool `json:"at_period_end"`
}

type changePlanRequest struct {
	PlanID string `json:"plan_id" binding:"required"`
}

func (s *Server) GetCurrentSubscription(c *gin.Context) {
	tenantID, _, ok := actor(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	item, err := s.subscriptionSvc.CurrentForTenant(c.Request.Context(), tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}

func (s *Server) ListSubscriptions(c *gin.Context) {
	tenantID, _, ok := actor(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	items, err := s.subscriptionSvc.ListForTenant(c.Request.Context(), tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}

// CancelSubscription defaults to cancelling at the end of the current period.
func (s *Server) CancelSubscription(c *gin.Context) {
	var req cancelSubscriptionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}
	atPeriodEnd := true
	if req.AtPeriodEnd != nil {
		atPeriodEnd = *req.AtPeriodEnd
	}

	s.subscriptionAction(c, "subscription.cancel", func(r subscriptiondomain.TenantActionRequest) (*subscriptiondomain.Subscription, error) {
		r.AtPeriodEnd = atPeriodEnd
		return s.subscriptionSvc.CancelForTenant(c.Request.Context(), r)
	})
}

func (s *Server) ReactivateSubscription(c *gin.Context) {
	s.subscriptionAction(c, "subscription.reactivate", func(r subscriptiondomain.TenantActionRequest) (*subscriptiondomain.Subscription, error) {
		return s.subscriptionSvc.ReactivateForTenant(c.Request.Context(), r)
	})
}

func (s *Server) ChangeSubscriptionPlan(c *gin.Context) {
	var req changePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	planID, err := parseOptionalSnowflakeID(req.PlanID)
	if err != nil || planID == nil {
		AbortWithError(c, newValidationError("plan_id", "invalid_plan_id", "invalid plan_id"))
		return
	}

	s.subscriptionAction(c, "subscription.change_plan", func(r subscriptiondomain.TenantActionRequest) (*subscriptiondomain.Subscription, error) {
		r.PlanID = *planID
		return s.subscriptionSvc.ChangePlanForTenant(c.Request.Context(), r)
	})
}

func (s *Server) subscriptionAction(
	c *gin.Context,
	action string,
	fn func(subscriptiondomain.TenantActionRequest) (*subscriptiondomain.Subscription, error),
) {
	tenantID, userID, ok := actor(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	item, err := fn(subscriptiondomain.TenantActionRequest{TenantID: tenantID, UserID: userID})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.log.Info("billing action applied",
		zap.String("action", action),
		zap.String("tenant_id", tenantID.String()),
		zap.String("subscription_id", item.ID.String()),
		zap.String("status", string(item.Status)),
	)
	c.JSON(http.StatusOK, gin.H{"data": item})
}
