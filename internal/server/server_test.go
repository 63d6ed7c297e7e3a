package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/billsync/internal/billingtest"
	checkoutservice "github.com/smallbiznis/billsync/internal/checkout/service"
	"github.com/smallbiznis/billsync/internal/config"
	"github.com/smallbiznis/billsync/internal/gateway/gatewaytest"
	"github.com/smallbiznis/billsync/internal/idempotency"
	"github.com/smallbiznis/billsync/internal/observability"
	paymentdomain "github.com/smallbiznis/billsync/internal/payment/domain"
	pmrepository "github.com/smallbiznis/billsync/internal/paymentmethod/repository"
	pmservice "github.com/smallbiznis/billsync/internal/paymentmethod/service"
	"github.com/smallbiznis/billsync/internal/ratelimit"
	webhookservice "github.com/smallbiznis/billsync/internal/webhook/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testServer struct {
	*billingtest.Stack
	srv *Server
}

func newTestServer(t *testing.T, cfg config.Config, opts ...func(*ServerParams)) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := billingtest.New(t)
	log := zap.NewNop()
	params := ServerParams{
		Gin:             NewEngine(observability.Config{}, nil),
		Cfg:             cfg,
		Log:             log,
		PlanSvc:         s.Plans,
		TenantSvc:       s.Tenants,
		SubscriptionSvc: s.Subscriptions,
		PaymentSvc:      s.Payments,
		InvoiceSvc:      s.Invoices,
		PaymentMethodSvc: pmservice.NewService(pmservice.ServiceParam{
			DB: s.DB, Log: log, GenID: s.Node, Clock: s.Clock,
			Repo: pmrepository.Provide(), TenantRepo: s.TenantRepo, TenantSvc: s.Tenants,
		}),
		CheckoutSvc: checkoutservice.NewService(checkoutservice.ServiceParam{
			DB: s.DB, Log: log, Clock: s.Clock, Gateway: s.Gateway,
			PlanSvc: s.Plans, PlanRepo: s.PlanRepo, TenantSvc: s.Tenants, TenantRepo: s.TenantRepo,
			SubscriptionSvc: s.Subscriptions, PaymentSvc: s.Payments, InvoiceSvc: s.Invoices,
		}),
		Reconciler: webhookservice.NewReconciler(webhookservice.Params{
			DB: s.DB, Log: log, Cfg: cfg, Clock: s.Clock, Gateway: s.Gateway,
			Store:    idempotency.NewMemoryStore(time.Hour),
			PlanRepo: s.PlanRepo, TenantRepo: s.TenantRepo,
			SubscriptionSvc: s.Subscriptions, PaymentSvc: s.Payments, InvoiceSvc: s.Invoices,
		}),
	}
	for _, opt := range opts {
		opt(&params)
	}
	return &testServer{Stack: s, srv: NewServer(params)}
}

func (ts *testServer) do(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case []byte:
		reader = bytes.NewReader(v)
	default:
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(HeaderTenant, ts.Tenant.ID.String())
		req.Header.Set(HeaderUser, userID)
	}
	resp := httptest.NewRecorder()
	ts.srv.Engine().ServeHTTP(resp, req)
	return resp
}

func (ts *testServer) webhook(t *testing.T, body []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/gateway", bytes.NewReader(body))
	req.Header.Set(HeaderGatewaySignature, signature)
	resp := httptest.NewRecorder()
	ts.srv.Engine().ServeHTTP(resp, req)
	return resp
}

func decodeError(t *testing.T, resp *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var out errorResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	return out.Error
}

func chargeBody(subscriptionID, paymentID string) []byte {
	return gatewaytest.Event("subscription.charged", subscriptionID, billingtest.Now, billingtest.Now.AddDate(0, 1, 0), &gatewaytest.Payment{
		ID: paymentID, Amount: 117882, Currency: "INR", Method: "card", Status: "captured",
	})
}

func TestGatewayWebhookAcknowledgesDeliveries(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	ts.ActiveSubscription(t, "sub_http")
	body := chargeBody("sub_http", "pay_http")

	resp := ts.webhook(t, body, "bad")
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "validation_error", decodeError(t, resp).Type)

	for i := 0; i < 2; i++ {
		resp = ts.webhook(t, body, gatewaytest.WebhookSignature(body))
		require.Equal(t, http.StatusOK, resp.Code)
		assert.JSONEq(t, `{"status":"ok"}`, resp.Body.String())
	}
	assert.EqualValues(t, 1, ts.CountPayments(t))

	unknown := gatewaytest.Event("refund.processed", "", time.Time{}, time.Time{}, nil)
	assert.Equal(t, http.StatusOK, ts.webhook(t, unknown, gatewaytest.WebhookSignature(unknown)).Code)
}

func TestGatewayWebhookAsksForRetryWhenConfigured(t *testing.T) {
	cfg := config.Config{}
	cfg.Webhook.RetryOnPersistenceFailure = true
	ts := newTestServer(t, cfg)
	ts.ActiveSubscription(t, "sub_retry")
	require.NoError(t, ts.DB.Migrator().DropTable(&paymentdomain.Payment{}))

	body := chargeBody("sub_retry", "pay_retry")
	resp := ts.webhook(t, body, gatewaytest.WebhookSignature(body))
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
}

func TestTenantHeadersRequired(t *testing.T) {
	ts := newTestServer(t, config.Config{})

	resp := ts.do(t, http.MethodGet, "/api/v1/subscription", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = ts.do(t, http.MethodGet, "/api/v1/plans", "", nil)
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestBillingActionErrorsAreDistinguishable(t *testing.T) {
	ts := newTestServer(t, config.Config{})

	resp := ts.do(t, http.MethodPost, "/api/v1/subscription/cancel", billingtest.OwnerUserID, nil)
	require.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, "no active subscription", decodeError(t, resp).Message)

	ts.ActiveSubscription(t, "sub_actions")

	resp = ts.do(t, http.MethodPost, "/api/v1/subscription/cancel", "member", nil)
	require.Equal(t, http.StatusForbidden, resp.Code)
	assert.Equal(t, "forbidden: not the account owner", decodeError(t, resp).Message)

	resp = ts.do(t, http.MethodPost, "/api/v1/subscription/reactivate", billingtest.OwnerUserID, nil)
	require.Equal(t, http.StatusConflict, resp.Code)
	assert.Equal(t, "cannot transition subscription", decodeError(t, resp).Message)

	resp = ts.do(t, http.MethodPost, "/api/v1/subscription/cancel", billingtest.OwnerUserID, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var out struct {
		Data struct {
			Status            string `json:"status"`
			CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	assert.Equal(t, "ACTIVE", out.Data.Status)
	assert.True(t, out.Data.CancelAtPeriodEnd)

	resp = ts.do(t, http.MethodPost, "/api/v1/subscription/reactivate", billingtest.OwnerUserID, nil)
	assert.Equal(t, http.StatusOK, resp.Code)

	resp = ts.do(t, http.MethodPost, "/api/v1/subscription/change-plan", billingtest.OwnerUserID, map[string]string{"plan_id": ts.Pro.ID.String()})
	assert.Equal(t, http.StatusOK, resp.Code)

	resp = ts.do(t, http.MethodPost, "/api/v1/subscription/change-plan", billingtest.OwnerUserID, map[string]string{"plan_id": "abc"})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestReactivateAfterImmediateCancelConflicts(t *testing.T) {
	ts := newTestServer(t, config.Config{})
	ts.ActiveSubscription(t, "sub_ended")

	resp := ts.do(t, http.MethodPost, "/api/v1/subscription/cancel", billingtest.OwnerUserID, map[string]bool{"at_period_end": false})
	require.Equal(t, http.StatusOK, resp.Code)

	resp = ts.do(t, http.MethodPost, "/api/v1/subscription/reactivate", billingtest.OwnerUserID, nil)
	require.Equal(t, http.StatusConflict, resp.Code)
	assert.Equal(t, "cannot transition subscription", decodeError(t, resp).Message)
}

func TestCheckoutOverHTTP(t *testing.T) {
	ts := newTestServer(t, config.Config{})

	resp := ts.do(t, http.MethodPost, "/api/v1/checkout", billingtest.OwnerUserID, map[string]string{
		"plan_code": "basic", "billing_cycle": "monthly",
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var initiated struct {
		Data struct {
			GatewaySubscriptionID string `json:"gateway_subscription_id"`
			GatewayKeyID          string `json:"gateway_key_id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &initiated))
	assert.Equal(t, gatewaytest.KeyID, initiated.Data.GatewayKeyID)
	subID := initiated.Data.GatewaySubscriptionID

	resp = ts.do(t, http.MethodPost, "/api/v1/checkout/verify", billingtest.OwnerUserID, map[string]string{
		"razorpay_subscription_id": subID, "razorpay_payment_id": "pay_http", "razorpay_signature": "nope",
	})
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = ts.do(t, http.MethodPost, "/api/v1/checkout/verify", billingtest.OwnerUserID, map[string]string{
		"razorpay_subscription_id": subID,
		"razorpay_payment_id":      "pay_http",
		"razorpay_signature":       gatewaytest.PaymentSignature(subID, "pay_http"),
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = ts.do(t, http.MethodGet, "/api/v1/subscription", billingtest.OwnerUserID, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"status":"ACTIVE"`)

	resp = ts.do(t, http.MethodGet, "/api/v1/invoices?status=paid", billingtest.OwnerUserID, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var invoices struct {
		Data []struct {
			ID            string `json:"id"`
			InvoiceNumber string `json:"invoice_number"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &invoices))
	require.Len(t, invoices.Data, 1)
	assert.Equal(t, "INV/2026-27/00001", invoices.Data[0].InvoiceNumber)

	resp = ts.do(t, http.MethodGet, "/api/v1/invoices/"+invoices.Data[0].ID+"/pdf", billingtest.OwnerUserID, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "application/pdf", resp.Header().Get("Content-Type"))
	assert.Contains(t, resp.Header().Get("Content-Disposition"), "inv-2026-27-00001.pdf")
	assert.True(t, bytes.HasPrefix(resp.Body.Bytes(), []byte("%PDF")))

	resp = ts.do(t, http.MethodGet, "/api/v1/payments", billingtest.OwnerUserID, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"gateway_payment_id":"pay_http"`)

	resp = ts.do(t, http.MethodGet, "/api/v1/invoices/123", billingtest.OwnerUserID, nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestPaymentMethodRoutes(t *testing.T) {
	ts := newTestServer(t, config.Config{})

	add := func(last4 string, isDefault bool) string {
		resp := ts.do(t, http.MethodPost, "/api/v1/payment-methods", billingtest.OwnerUserID, map[string]any{
			"type": "card", "is_default": isDefault, "gateway_token_id": "token_" + last4,
			"details": map[string]any{"brand": "visa", "last4": "4242424242" + last4},
		})
		require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
		var out struct {
			Data struct {
				ID string `json:"id"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
		assert.NotContains(t, resp.Body.String(), "token_")
		return out.Data.ID
	}
	first := add("1111", true)
	second := add("2222", false)

	resp := ts.do(t, http.MethodPost, "/api/v1/payment-methods/"+second+"/default", billingtest.OwnerUserID, nil)
	require.Equal(t, http.StatusOK, resp.Code)

	resp = ts.do(t, http.MethodGet, "/api/v1/payment-methods", billingtest.OwnerUserID, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var list struct {
		Data []struct {
			ID        string `json:"id"`
			IsDefault bool   `json:"is_default"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &list))
	require.Len(t, list.Data, 2)
	assert.Equal(t, second, list.Data[0].ID)
	assert.True(t, list.Data[0].IsDefault)
	assert.False(t, list.Data[1].IsDefault)

	resp = ts.do(t, http.MethodDelete, "/api/v1/payment-methods/"+first, "member", nil)
	assert.Equal(t, http.StatusForbidden, resp.Code)
	resp = ts.do(t, http.MethodDelete, "/api/v1/payment-methods/"+first, billingtest.OwnerUserID, nil)
	assert.Equal(t, http.StatusNoContent, resp.Code)

	resp = ts.do(t, http.MethodPost, "/api/v1/payment-methods", billingtest.OwnerUserID, map[string]any{"type": "cheque"})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestMapErrorFallsBackToInternal(t *testing.T) {
	status, payload := mapError(errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "internal_error", payload.Type)

	kind, code := classifyErrorForLog(errors.New("boom"))
	assert.Equal(t, "internal_error", kind)
	assert.Equal(t, "internal_error", code)
}

func TestCheckoutRateLimitedPerTenant(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ts := newTestServer(t, config.Config{}, func(p *ServerParams) {
		p.CheckoutLimiter = ratelimit.New(client, 0.001, 1)
	})

	first := ts.do(t, http.MethodPost, "/api/v1/checkout", billingtest.OwnerUserID, map[string]any{})
	assert.NotEqual(t, http.StatusTooManyRequests, first.Code)

	second := ts.do(t, http.MethodPost, "/api/v1/checkout", billingtest.OwnerUserID, map[string]any{})
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))
	assert.Contains(t, second.Body.String(), "rate_limited")

	verify := ts.do(t, http.MethodPost, "/api/v1/checkout/verify", billingtest.OwnerUserID, map[string]any{})
	assert.NotEqual(t, http.StatusTooManyRequests, verify.Code)
}
