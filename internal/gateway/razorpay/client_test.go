package razorpay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/smallbiznis/billsync/internal/config"
	gatewaydomain "github.com/smallbiznis/billsync/internal/gateway/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(baseURL string, timeout time.Duration) *Client {
	return NewClient(config.GatewayConfig{
		BaseURL:       baseURL,
		KeyID:         "rzp_test",
		KeySecret:     "secret",
		WebhookSecret: "whsec",
		Timeout:       timeout,
	}, zap.NewNop())
}

func TestCreateCustomerUsesBasicAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "rzp_test", user)
		assert.Equal(t, "secret", pass)
		assert.Equal(t, "/customers", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Acme", body["name"])
		_, _ = w.Write([]byte(`{"id":"cust_123"}`))
	}))
	defer srv.Close()

	id, err := newTestClient(srv.URL, time.Second).CreateCustomer(context.Background(), gatewaydomain.CustomerRequest{Name: "Acme"})
	require.NoError(t, err)
	assert.Equal(t, "cust_123", id)
}

func TestCreateSubscriptionSetsTrialStart(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "plan_pro", body["plan_id"])
		assert.Equal(t, float64(12), body["total_count"])
		assert.Equal(t, float64(now.AddDate(0, 0, 14).Unix()), body["start_at"])
		_, _ = w.Write([]byte(`{"id":"sub_1","status":"created"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, time.Second)
	c.now = func() time.Time { return now }

	sub, err := c.CreateSubscription(context.Background(), gatewaydomain.SubscriptionRequest{
		CustomerID: "cust_1", PlanID: "plan_pro", TotalCount: 12, TrialDays: 14,
	})
	require.NoError(t, err)
	assert.Equal(t, "sub_1", sub.ID)
}

func TestClientErrorClassification(t *testing.T) {
	t.Run("rejected", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"code":"BAD_REQUEST_ERROR","description":"plan_id is invalid"}}`))
		}))
		defer srv.Close()

		_, err := newTestClient(srv.URL, time.Second).CreateCustomer(context.Background(), gatewaydomain.CustomerRequest{Name: "x"})
		assert.ErrorIs(t, err, gatewaydomain.ErrRejected)
		var apiErr *gatewaydomain.APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, "BAD_REQUEST_ERROR", apiErr.Code)
	})

	t.Run("server error is unknown outcome", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		_, err := newTestClient(srv.URL, time.Second).CreateCustomer(context.Background(), gatewaydomain.CustomerRequest{Name: "x"})
		assert.ErrorIs(t, err, gatewaydomain.ErrUnknownOutcome)
	})

	t.Run("timeout is unknown outcome", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
			_, _ = w.Write([]byte(`{"id":"late"}`))
		}))
		defer srv.Close()

		_, err := newTestClient(srv.URL, 20*time.Millisecond).CreateCustomer(context.Background(), gatewaydomain.CustomerRequest{Name: "x"})
		assert.ErrorIs(t, err, gatewaydomain.ErrUnknownOutcome)
	})

	t.Run("missing credentials", func(t *testing.T) {
		c := NewClient(config.GatewayConfig{BaseURL: "http://localhost"}, nil)
		_, err := c.CreateCustomer(context.Background(), gatewaydomain.CustomerRequest{Name: "x"})
		assert.ErrorIs(t, err, gatewaydomain.ErrNotConfigured)
	})
}

func TestVerifySignatures(t *testing.T) {
	c := newTestClient("http://localhost", time.Second)

	sig := Sign("secret", []byte("pay_1|sub_1"))
	assert.True(t, c.VerifyPaymentSignature("sub_1", "pay_1", sig))
	assert.False(t, c.VerifyPaymentSignature("sub_2", "pay_1", sig))
	assert.False(t, c.VerifyPaymentSignature("sub_1", "pay_1", ""))

	body := []byte(`{"event":"subscription.activated"}`)
	assert.True(t, c.VerifyWebhookSignature(body, Sign("whsec", body)))
	assert.False(t, c.VerifyWebhookSignature(append(body, ' '), Sign("whsec", body)))
	assert.False(t, c.VerifyWebhookSignature(body, Sign("secret", body)))
}

func TestParseWebhook(t *testing.T) {
	body := []byte(`{
		"entity":"event","account_id":"acc_1","event":"subscription.charged","created_at":1780000000,
		"payload":{
			"subscription":{"entity":{"id":"sub_1","plan_id":"plan_1","status":"active","current_start":1780000000,"current_end":1782592000,"paid_count":2}},
			"payment":{"entity":{"id":"pay_1","amount":118000,"currency":"inr","status":"captured","method":"upi","fee":2360,"tax":360,"order_id":null,"error_code":null}}
		}
	}`)

	event, err := ParseWebhook(body)
	require.NoError(t, err)
	assert.Equal(t, "subscription.charged", event.Name)
	require.NotNil(t, event.Subscription)
	assert.Equal(t, "sub_1", event.Subscription.ID)
	require.NotNil(t, event.Subscription.CurrentEnd)
	assert.Equal(t, int64(1782592000), event.Subscription.CurrentEnd.Unix())
	require.NotNil(t, event.Payment)
	assert.Equal(t, int64(118000), event.Payment.Amount)
	assert.Equal(t, "INR", event.Payment.Currency)
	assert.Equal(t, int64(2360), event.Payment.Fee)
	assert.Empty(t, event.Payment.OrderID)

	_, err = ParseWebhook([]byte(`not json`))
	assert.ErrorIs(t, err, gatewaydomain.ErrInvalidPayload)
	_, err = ParseWebhook([]byte(`{"payload":{}}`))
	assert.ErrorIs(t, err, gatewaydomain.ErrInvalidPayload)
}
