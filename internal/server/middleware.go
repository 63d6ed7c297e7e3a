package server

import (
	"math"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/billsync/internal/ratelimit"
	"github.com/smallbiznis/billsync/internal/tenantcontext"
	"go.uber.org/zap"
)

const (
	HeaderTenant           = "X-Tenant-ID"
	HeaderUser             = "X-User-ID"
	HeaderGatewaySignature = "X-Razorpay-Signature"

	contextTenantIDKey = "tenant_id"
	contextUserIDKey   = "user_id"
)

// TenantContext resolves the acting tenant and user set by the upstream auth proxy.
func TenantContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, err := snowflake.ParseString(strings.TrimSpace(c.GetHeader(HeaderTenant)))
		if err != nil || tenantID == 0 {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		userID := strings.TrimSpace(c.GetHeader(HeaderUser))
		if userID == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := tenantcontext.WithTenantID(c.Request.Context(), tenantID)
		ctx = tenantcontext.WithUserID(ctx, userID)
		c.Request = c.Request.WithContext(ctx)
		c.Set(contextTenantIDKey, tenantID.String())
		c.Set(contextUserIDKey, userID)
		c.Next()
	}
}

// actor returns the tenant and user resolved by TenantContext.
func actor(c *gin.Context) (snowflake.ID, string, bool) {
	tenantID, ok := tenantcontext.TenantIDFromContext(c.Request.Context())
	if !ok {
		return 0, "", false
	}
	userID, ok := tenantcontext.UserIDFromContext(c.Request.Context())
	if !ok {
		return 0, "", false
	}
	return tenantID, userID, true
}

// CheckoutRateLimit throttles checkout per tenant. Limiter failures let the request through.
func CheckoutRateLimit(limiter *ratelimit.CheckoutLimiter, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Enabled() {
			c.Next()
			return
		}
		tenantID, ok := tenantcontext.TenantIDFromContext(c.Request.Context())
		if !ok {
			c.Next()
			return
		}

		res, err := limiter.AllowTenant(c.Request.Context(), tenantID)
		if err != nil {
			log.Warn("checkout rate limit check failed", zap.String("tenant_id", tenantID.String()), zap.Error(err))
			c.Next()
			return
		}
		if !res.Allowed {
			log.Info("checkout rate limited",
				zap.String("tenant_id", tenantID.String()),
				zap.Int64("denied", res.Denied),
				zap.Duration("retry_after", res.RetryAfter),
			)
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
			AbortWithError(c, ErrTooManyRequests)
			return
		}
		c.Next()
	}
}
