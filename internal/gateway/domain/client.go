// Package domain defines the contract billsync expects from a payment gateway.
package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnknownOutcome means the request may or may not have taken effect on the gateway.
	ErrUnknownOutcome  = errors.New("gateway_unknown_outcome")
	ErrRejected        = errors.New("gateway_rejected")
	ErrInvalidPayload  = errors.New("invalid_webhook_payload")
	ErrNotConfigured   = errors.New("gateway_not_configured")
	ErrInvalidResponse = errors.New("gateway_invalid_response")
)

// APIError is a definitive 4xx answer from the gateway. It matches ErrRejected.
type APIError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway rejected request (%d %s): %s", e.StatusCode, e.Code, e.Description)
}

func (e *APIError) Is(target error) bool { return target == ErrRejected }

type CustomerRequest struct {
	Name  string
	Email string
	Notes map[string]string
}

type SubscriptionRequest struct {
	CustomerID string
	PlanID     string
	TotalCount int
	TrialDays  int
	Notes      map[string]string
}

type Subscription struct {
	ID     string
	Status string
}

// WebhookEvent is a parsed delivery. Amounts are minor units as sent by the gateway.
type WebhookEvent struct {
	Name         string
	AccountID    string
	CreatedAt    time.Time
	Subscription *SubscriptionEntity
	Payment      *PaymentEntity
}

type SubscriptionEntity struct {
	ID           string
	PlanID       string
	CustomerID   string
	Status       string
	CurrentStart *time.Time
	CurrentEnd   *time.Time
	PaidCount    int
}

type PaymentEntity struct {
	ID               string
	OrderID          string
	InvoiceID        string
	Status           string
	Amount           int64
	Currency         string
	Method           string
	Fee              int64
	Tax              int64
	ErrorCode        string
	ErrorDescription string
}

type Client interface {
	// KeyID is the public key handed to the checkout frontend.
	KeyID() string
	CreateCustomer(ctx context.Context, req CustomerRequest) (string, error)
	CreateSubscription(ctx context.Context, req SubscriptionRequest) (*Subscription, error)
	VerifyPaymentSignature(subscriptionID, paymentID, signature string) bool
	VerifyWebhookSignature(body []byte, signature string) bool
	ParseWebhook(body []byte) (*WebhookEvent, error)
}
