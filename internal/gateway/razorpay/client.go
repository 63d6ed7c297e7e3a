// Package razorpay is a minimal HTTP client for a Razorpay-style subscription gateway.
package razorpay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/billsync/internal/config"
	gatewaydomain "github.com/smallbiznis/billsync/internal/gateway/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const defaultTimeout = 10 * time.Second

type Params struct {
	fx.In

	Cfg config.Config
	Log *zap.Logger
}

type Client struct {
	baseURL       string
	keyID         string
	keySecret     string
	webhookSecret string
	http          *http.Client
	log           *zap.Logger
	now           func() time.Time
}

func New(p Params) gatewaydomain.Client {
	return NewClient(p.Cfg.Gateway, p.Log)
}

func NewClient(cfg config.GatewayConfig, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:       strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		keyID:         strings.TrimSpace(cfg.KeyID),
		keySecret:     strings.TrimSpace(cfg.KeySecret),
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		http:          &http.Client{Timeout: timeout},
		log:           log.Named("gateway.razorpay"),
		now:           time.Now,
	}
}

func (c *Client) KeyID() string { return c.keyID }

type customerResponse struct {
	ID string `json:"id"`
}

func (c *Client) CreateCustomer(ctx context.Context, req gatewaydomain.CustomerRequest) (string, error) {
	body := map[string]any{
		"name":          strings.TrimSpace(req.Name),
		"fail_existing": "0",
	}
	if email := strings.TrimSpace(req.Email); email != "" {
		body["email"] = email
	}
	if len(req.Notes) > 0 {
		body["notes"] = req.Notes
	}

	var resp customerResponse
	if err := c.do(ctx, http.MethodPost, "/customers", body, &resp); err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.ID) == "" {
		return "", gatewaydomain.ErrInvalidResponse
	}
	return resp.ID, nil
}

type subscriptionResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// CreateSubscription starts billing after TrialDays when positive, immediately otherwise.
func (c *Client) CreateSubscription(ctx context.Context, req gatewaydomain.SubscriptionRequest) (*gatewaydomain.Subscription, error) {
	body := map[string]any{
		"plan_id":         strings.TrimSpace(req.PlanID),
		"customer_id":     strings.TrimSpace(req.CustomerID),
		"total_count":     req.TotalCount,
		"customer_notify": 1,
	}
	if req.TrialDays > 0 {
		body["start_at"] = c.now().AddDate(0, 0, req.TrialDays).Unix()
	}
	if len(req.Notes) > 0 {
		body["notes"] = req.Notes
	}

	var resp subscriptionResponse
	if err := c.do(ctx, http.MethodPost, "/subscriptions", body, &resp); err != nil {
		return nil, err
	}
	if strings.TrimSpace(resp.ID) == "" {
		return nil, gatewaydomain.ErrInvalidResponse
	}
	return &gatewaydomain.Subscription{ID: resp.ID, Status: resp.Status}, nil
}

func (c *Client) VerifyPaymentSignature(subscriptionID, paymentID, signature string) bool {
	return verify(c.keySecret, PaymentSignaturePayload(subscriptionID, paymentID), signature)
}

func (c *Client) VerifyWebhookSignature(body []byte, signature string) bool {
	return verify(c.webhookSecret, body, signature)
}

func (c *Client) ParseWebhook(body []byte) (*gatewaydomain.WebhookEvent, error) {
	return ParseWebhook(body)
}

type errorResponse struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// do returns ErrUnknownOutcome for transport failures, timeouts and 5xx answers.
func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	if c.keyID == "" || c.keySecret == "" || c.baseURL == "" {
		return gatewaydomain.ErrNotConfigured
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.keyID, c.keySecret)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("gateway request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %s %s: %v", gatewaydomain.ErrUnknownOutcome, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		c.log.Warn("gateway server error",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
		)
		return fmt.Errorf("%w: %s %s returned %d", gatewaydomain.ErrUnknownOutcome, method, path, resp.StatusCode)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return &gatewaydomain.APIError{
			StatusCode:  resp.StatusCode,
			Code:        strings.TrimSpace(apiErr.Error.Code),
			Description: strings.TrimSpace(apiErr.Error.Description),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return gatewaydomain.ErrInvalidResponse
		}
		return fmt.Errorf("%w: %v", gatewaydomain.ErrInvalidResponse, err)
	}
	return nil
}
