package razorpay

import (
	"encoding/json"
	"strings"
	"time"

	gatewaydomain "github.com/smallbiznis/billsync/internal/gateway/domain"
)

type webhookEnvelope struct {
	Entity    string         `json:"entity"`
	AccountID string         `json:"account_id"`
	Event     string         `json:"event"`
	Payload   webhookPayload `json:"payload"`
	CreatedAt int64          `json:"created_at"`
}

type webhookPayload struct {
	Subscription *struct {
		Entity subscriptionEntity `json:"entity"`
	} `json:"subscription,omitempty"`
	Payment *struct {
		Entity paymentEntity `json:"entity"`
	} `json:"payment,omitempty"`
}

type subscriptionEntity struct {
	ID           string `json:"id"`
	PlanID       string `json:"plan_id"`
	CustomerID   string `json:"customer_id"`
	Status       string `json:"status"`
	CurrentStart *int64 `json:"current_start"`
	CurrentEnd   *int64 `json:"current_end"`
	PaidCount    int    `json:"paid_count"`
}

type paymentEntity struct {
	ID               string  `json:"id"`
	OrderID          *string `json:"order_id"`
	InvoiceID        *string `json:"invoice_id"`
	Status           string  `json:"status"`
	Amount           int64   `json:"amount"`
	Currency         string  `json:"currency"`
	Method           string  `json:"method"`
	Fee              *int64  `json:"fee"`
	Tax              *int64  `json:"tax"`
	ErrorCode        *string `json:"error_code"`
	ErrorDescription *string `json:"error_description"`
}

// ParseWebhook decodes a delivery body. Entities absent from the payload stay nil.
func ParseWebhook(body []byte) (*gatewaydomain.WebhookEvent, error) {
	var envelope webhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, gatewaydomain.ErrInvalidPayload
	}
	name := strings.TrimSpace(envelope.Event)
	if name == "" {
		return nil, gatewaydomain.ErrInvalidPayload
	}

	event := &gatewaydomain.WebhookEvent{
		Name:      name,
		AccountID: strings.TrimSpace(envelope.AccountID),
	}
	if envelope.CreatedAt > 0 {
		event.CreatedAt = time.Unix(envelope.CreatedAt, 0).UTC()
	}

	if s := envelope.Payload.Subscription; s != nil && strings.TrimSpace(s.Entity.ID) != "" {
		event.Subscription = &gatewaydomain.SubscriptionEntity{
			ID:           strings.TrimSpace(s.Entity.ID),
			PlanID:       strings.TrimSpace(s.Entity.PlanID),
			CustomerID:   strings.TrimSpace(s.Entity.CustomerID),
			Status:       strings.TrimSpace(s.Entity.Status),
			CurrentStart: unixTime(s.Entity.CurrentStart),
			CurrentEnd:   unixTime(s.Entity.CurrentEnd),
			PaidCount:    s.Entity.PaidCount,
		}
	}

	if p := envelope.Payload.Payment; p != nil && strings.TrimSpace(p.Entity.ID) != "" {
		event.Payment = &gatewaydomain.PaymentEntity{
			ID:               strings.TrimSpace(p.Entity.ID),
			OrderID:          deref(p.Entity.OrderID),
			InvoiceID:        deref(p.Entity.InvoiceID),
			Status:           strings.TrimSpace(p.Entity.Status),
			Amount:           p.Entity.Amount,
			Currency:         strings.ToUpper(strings.TrimSpace(p.Entity.Currency)),
			Method:           strings.TrimSpace(p.Entity.Method),
			Fee:              derefInt(p.Entity.Fee),
			Tax:              derefInt(p.Entity.Tax),
			ErrorCode:        deref(p.Entity.ErrorCode),
			ErrorDescription: deref(p.Entity.ErrorDescription),
		}
	}

	return event, nil
}

func unixTime(v *int64) *time.Time {
	if v == nil || *v <= 0 {
		return nil
	}
	t := time.Unix(*v, 0).UTC()
	return &t
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return strings.TrimSpace(*v)
}

func derefInt(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
