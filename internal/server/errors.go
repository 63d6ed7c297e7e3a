package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	checkoutdomain "github.com/smallbiznis/billsync/internal/checkout/domain"
	gatewaydomain "github.com/smallbiznis/billsync/internal/gateway/domain"
	invoicedomain "github.com/smallbiznis/billsync/internal/invoice/domain"
	paymentdomain "github.com/smallbiznis/billsync/internal/payment/domain"
	pmdomain "github.com/smallbiznis/billsync/internal/paymentmethod/domain"
	plandomain "github.com/smallbiznis/billsync/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/billsync/internal/subscription/domain"
	tenantdomain "github.com/smallbiznis/billsync/internal/tenant/domain"
	"github.com/smallbiznis/billsync/pkg/db/pagination"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Code    string            `json:"code,omitempty"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
	ErrTooManyRequests    = errors.New("too_many_requests")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

// domainErrors maps every error a billing handler can surface to its response.
var domainErrors = []struct {
	target  error
	status  int
	kind    string
	message string
}{
	{tenantdomain.ErrForbidden, http.StatusForbidden, "forbidden", "forbidden: not the account owner"},

	{subscriptiondomain.ErrNoActiveSubscription, http.StatusNotFound, "not_found", "no active subscription"},
	{subscriptiondomain.ErrSubscriptionNotFound, http.StatusNotFound, "not_found", "subscription not found"},
	{plandomain.ErrPlanNotFound, http.StatusNotFound, "not_found", "plan not found"},
	{invoicedomain.ErrInvoiceNotFound, http.StatusNotFound, "not_found", "invoice not found"},
	{paymentdomain.ErrPaymentNotFound, http.StatusNotFound, "not_found", "payment not found"},
	{pmdomain.ErrPaymentMethodNotFound, http.StatusNotFound, "not_found", "payment method not found"},
	{tenantdomain.ErrTenantNotFound, http.StatusNotFound, "not_found", "tenant not found"},
	{ErrNotFound, http.StatusNotFound, "not_found", "not found"},
	{gorm.ErrRecordNotFound, http.StatusNotFound, "not_found", "not found"},

	{subscriptiondomain.ErrInvalidTransition, http.StatusConflict, "conflict", "cannot transition subscription"},
	{invoicedomain.ErrInvalidStatusTransition, http.StatusConflict, "conflict", "cannot transition invoice"},
	{checkoutdomain.ErrPaymentAlreadyTaken, http.StatusConflict, "conflict", "payment already recorded"},

	{checkoutdomain.ErrInvalidSignature, http.StatusBadRequest, "validation_error", "invalid payment signature"},
	{checkoutdomain.ErrInvalidCheckout, http.StatusBadRequest, "validation_error", "invalid checkout request"},
	{plandomain.ErrPlanInactive, http.StatusBadRequest, "validation_error", "plan is not available"},
	{plandomain.ErrPriceUnavailable, http.StatusBadRequest, "validation_error", "plan has no price for this cycle"},
	{plandomain.ErrInvalidBillingCycle, http.StatusBadRequest, "validation_error", "invalid billing cycle"},
	{subscriptiondomain.ErrInvalidPlan, http.StatusBadRequest, "validation_error", "invalid plan"},
	{subscriptiondomain.ErrInvalidCurrency, http.StatusBadRequest, "validation_error", "invalid currency"},
	{pmdomain.ErrInvalidMethodType, http.StatusBadRequest, "validation_error", "invalid payment method type"},
	{tenantdomain.ErrInvalidAddress, http.StatusBadRequest, "validation_error", "invalid billing address"},
	{pagination.ErrInvalidPageToken, http.StatusBadRequest, "validation_error", "invalid page token"},
	{ErrInvalidRequest, http.StatusBadRequest, "validation_error", "invalid request"},

	{checkoutdomain.ErrGatewayPlanMissing, http.StatusUnprocessableEntity, "gateway_error", "plan is not configured on the payment gateway"},
	{gatewaydomain.ErrRejected, http.StatusBadGateway, "gateway_error", "payment gateway rejected the request"},
	{gatewaydomain.ErrUnknownOutcome, http.StatusBadGateway, "gateway_error", "payment gateway did not answer; retry later"},
	{gatewaydomain.ErrNotConfigured, http.StatusServiceUnavailable, "service_unavailable", "payment gateway is not configured"},
	{ErrServiceUnavailable, http.StatusServiceUnavailable, "service_unavailable", "service unavailable"},

	{ErrUnauthorized, http.StatusUnauthorized, "unauthorized", "unauthorized"},
	{ErrTooManyRequests, http.StatusTooManyRequests, "rate_limited", "too many checkout attempts; retry later"},
}

func mapError(err error) (int, errorPayload) {
	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if err != nil {
		for _, d := range domainErrors {
			if errors.Is(err, d.target) {
				return d.status, errorPayload{
					Type:    d.kind,
					Code:    d.target.Error(),
					Message: d.message,
				}
			}
		}
	}

	return http.StatusInternalServerError, errorPayload{
		Type:    "internal_error",
		Message: "internal server error",
	}
}

// classifyErrorForLog reports the response type and code for request logs.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	if status >= http.StatusInternalServerError && payload.Code == "" {
		return payload.Type, ErrInternal.Error()
	}
	code := payload.Code
	if code == "" && len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}
