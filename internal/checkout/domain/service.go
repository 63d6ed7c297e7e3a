// Package domain describes subscription checkout: creating the gateway subscription
// and confirming the first payment.
package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	plandomain "github.com/smallbiznis/billsync/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/billsync/internal/subscription/domain"
)

var (
	ErrInvalidSignature    = errors.New("invalid_payment_signature")
	ErrGatewayPlanMissing  = errors.New("gateway_plan_missing")
	ErrInvalidCheckout     = errors.New("invalid_checkout_request")
	ErrPaymentAlreadyTaken = errors.New("payment_recorded_concurrently")
)

type InitiateRequest struct {
	TenantID     snowflake.ID
	UserID       string
	PlanID       snowflake.ID
	PlanCode     string
	BillingCycle string
	Currency     string
}

type InitiateResponse struct {
	SubscriptionID        snowflake.ID `json:"subscription_id"`
	GatewaySubscriptionID string       `json:"gateway_subscription_id"`
	GatewayKeyID          string       `json:"gateway_key_id"`
	PlanName              string       `json:"plan_name"`
	AmountInMinorUnits    int64        `json:"amount_in_minor_units"`
	Currency              string       `json:"currency"`
}

type VerifyRequest struct {
	TenantID              snowflake.ID
	GatewaySubscriptionID string
	GatewayPaymentID      string
	Signature             string
}

type VerifyResponse struct {
	Subscription *subscriptiondomain.Subscription `json:"subscription"`
	Plan         *plandomain.Plan                 `json:"plan"`
}

type Service interface {
	Initiate(ctx context.Context, req InitiateRequest) (*InitiateResponse, error)
	// Verify activates the subscription, points the tenant at its plan and records
	// the payment in one transaction.
	Verify(ctx context.Context, req VerifyRequest) (*VerifyResponse, error)
}
