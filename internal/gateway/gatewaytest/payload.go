package gatewaytest

import (
	"encoding/json"
	"time"
)

// Payment describes the payment entity of a generated webhook body.
type Payment struct {
	ID               string
	Amount           int64
	Currency         string
	Method           string
	Fee              int64
	Tax              int64
	Status           string
	ErrorCode        string
	ErrorDescription string
}

// Event builds a gateway webhook body. Zero times and a nil payment are omitted.
func Event(name, subscriptionID string, currentStart, currentEnd time.Time, payment *Payment) []byte {
	payload := map[string]any{}

	if subscriptionID != "" {
		entity := map[string]any{
			"id":     subscriptionID,
			"entity": "subscription",
			"status": "active",
		}
		if !currentStart.IsZero() {
			entity["current_start"] = currentStart.Unix()
		}
		if !currentEnd.IsZero() {
			entity["current_end"] = currentEnd.Unix()
		}
		payload["subscription"] = map[string]any{"entity": entity}
	}

	if payment != nil {
		entity := map[string]any{
			"id":       payment.ID,
			"entity":   "payment",
			"amount":   payment.Amount,
			"currency": payment.Currency,
			"method":   payment.Method,
			"fee":      payment.Fee,
			"tax":      payment.Tax,
			"status":   payment.Status,
		}
		if payment.ErrorCode != "" {
			entity["error_code"] = payment.ErrorCode
			entity["error_description"] = payment.ErrorDescription
		}
		payload["payment"] = map[string]any{"entity": entity}
	}

	body, _ := json.Marshal(map[string]any{
		"entity":     "event",
		"account_id": "acc_test",
		"event":      name,
		"contains":   []string{"subscription", "payment"},
		"payload":    payload,
		"created_at": time.Now().Unix(),
	})
	return body
}
