package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	tenantdomain "github.com/smallbiznis/billsync/internal/tenant/domain"
)

// SubscriptionCharge is one charged billing period of a subscription.
type SubscriptionCharge struct {
	TenantID         snowflake.ID
	SubscriptionID   snowflake.ID
	PlanName         string
	BillingCycle     string
	Currency         string
	Amount           int64
	PeriodStart      *time.Time
	PeriodEnd        *time.Time
	BillingAddress   tenantdomain.BillingAddress
	GatewayPaymentID string
}

// IssueRequest bills the charge as a single tax-exclusive line.
func (c SubscriptionCharge) IssueRequest() IssueRequest {
	subscriptionID := c.SubscriptionID
	description := strings.TrimSpace(c.PlanName)
	if cycle := strings.TrimSpace(c.BillingCycle); cycle != "" {
		description = fmt.Sprintf("%s (%s)", description, cycle)
	}

	req := IssueRequest{
		TenantID:       c.TenantID,
		SubscriptionID: &subscriptionID,
		Currency:       c.Currency,
		LineItems: []LineItem{{
			Description: description,
			Quantity:    1,
			UnitPrice:   c.Amount,
			Amount:      c.Amount,
		}},
		BillingAddress: c.BillingAddress,
		PeriodStart:    c.PeriodStart,
		PeriodEnd:      c.PeriodEnd,
	}
	if c.GatewayPaymentID != "" {
		req.Metadata = map[string]any{"gateway_payment_id": c.GatewayPaymentID}
	}
	return req
}
