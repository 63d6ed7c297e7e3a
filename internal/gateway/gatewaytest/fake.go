// Package gatewaytest provides an in-memory gateway for tests.
package gatewaytest

import (
	"context"
	"fmt"
	"sync"

	gatewaydomain "github.com/smallbiznis/billsync/internal/gateway/domain"
	"github.com/smallbiznis/billsync/internal/gateway/razorpay"
	"github.com/stretchr/testify/mock"
)

const (
	KeyID         = "rzp_test_key"
	KeySecret     = "key_secret"
	WebhookSecret = "webhook_secret"
)

// Fake signs and verifies with the package constants. Gateway API calls go
// through mock.Mock; an expectation returning an empty id gets a generated one.
type Fake struct {
	mock.Mock

	// Default expectations installed by New. Unset them before registering
	// a test-specific return for the same method.
	DefaultCustomer     *mock.Call
	DefaultSubscription *mock.Call

	mu  sync.Mutex
	seq int
}

func New() *Fake {
	f := &Fake{}
	f.DefaultCustomer = f.On("CreateCustomer", mock.Anything, mock.Anything).Return("", nil).Maybe()
	f.DefaultSubscription = f.On("CreateSubscription", mock.Anything, mock.Anything).Return(nil, nil).Maybe()
	return f
}

// FailSubscriptions makes every following CreateSubscription return err.
func (f *Fake) FailSubscriptions(err error) {
	f.DefaultSubscription.Unset()
	f.On("CreateSubscription", mock.Anything, mock.Anything).Return(nil, err)
}

func (f *Fake) KeyID() string { return KeyID }

func (f *Fake) CreateCustomer(ctx context.Context, req gatewaydomain.CustomerRequest) (string, error) {
	args := f.Called(ctx, req)
	if err := args.Error(1); err != nil {
		return "", err
	}
	if id := args.String(0); id != "" {
		return id, nil
	}
	return fmt.Sprintf("cust_test_%d", f.next()), nil
}

func (f *Fake) CreateSubscription(ctx context.Context, req gatewaydomain.SubscriptionRequest) (*gatewaydomain.Subscription, error) {
	args := f.Called(ctx, req)
	if err := args.Error(1); err != nil {
		return nil, err
	}
	if sub, ok := args.Get(0).(*gatewaydomain.Subscription); ok && sub != nil {
		return sub, nil
	}
	return &gatewaydomain.Subscription{ID: fmt.Sprintf("sub_test_%d", f.next()), Status: "created"}, nil
}

func (f *Fake) next() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	return f.seq
}

func (f *Fake) VerifyPaymentSignature(subscriptionID, paymentID, signature string) bool {
	return signature != "" && signature == PaymentSignature(subscriptionID, paymentID)
}

func (f *Fake) VerifyWebhookSignature(body []byte, signature string) bool {
	return signature != "" && signature == WebhookSignature(body)
}

func (f *Fake) ParseWebhook(body []byte) (*gatewaydomain.WebhookEvent, error) {
	return razorpay.ParseWebhook(body)
}

func PaymentSignature(subscriptionID, paymentID string) string {
	return razorpay.Sign(KeySecret, razorpay.PaymentSignaturePayload(subscriptionID, paymentID))
}

func WebhookSignature(body []byte) string {
	return razorpay.Sign(WebhookSecret, body)
}
