package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type PaymentStatus string

const (
	PaymentStatusCreated    PaymentStatus = "created"
	PaymentStatusAuthorized PaymentStatus = "authorized"
	PaymentStatusCaptured   PaymentStatus = "captured"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusRefunded   PaymentStatus = "refunded"
)

// Payment is one settlement attempt reported by the gateway. Monetary fields are
// minor units and are written once by the first observer of the gateway payment id.
type Payment struct {
	ID               snowflake.ID      `json:"id" gorm:"primaryKey"`
	TenantID         snowflake.ID      `json:"tenant_id" gorm:"not null;index"`
	SubscriptionID   *snowflake.ID     `json:"subscription_id,omitempty" gorm:"index"`
	InvoiceID        *snowflake.ID     `json:"invoice_id,omitempty" gorm:"index"`
	GatewayPaymentID string            `json:"gateway_payment_id" gorm:"type:text;not null;uniqueIndex"`
	GatewayOrderID   *string           `json:"gateway_order_id,omitempty" gorm:"type:text"`
	Status           PaymentStatus     `json:"status" gorm:"type:text;not null"`
	Amount           int64             `json:"amount" gorm:"not null"`
	Currency         string            `json:"currency" gorm:"type:text;not null"`
	Method           string            `json:"method,omitempty" gorm:"type:text"`
	Fee              int64             `json:"fee" gorm:"not null;default:0"`
	TaxOnFee         int64             `json:"tax_on_fee" gorm:"not null;default:0"`
	ErrorCode        *string           `json:"error_code,omitempty" gorm:"type:text"`
	ErrorDescription *string           `json:"error_description,omitempty" gorm:"type:text"`
	CapturedAt       *time.Time        `json:"captured_at,omitempty"`
	FailedAt         *time.Time        `json:"failed_at,omitempty"`
	RefundedAt       *time.Time        `json:"refunded_at,omitempty"`
	RefundAmount     int64             `json:"refund_amount" gorm:"not null;default:0"`
	Metadata         datatypes.JSONMap `json:"metadata,omitempty" gorm:"type:jsonb"`
	CreatedAt        time.Time         `json:"created_at" gorm:"not null"`
	UpdatedAt        time.Time         `json:"updated_at" gorm:"not null"`
}

func (Payment) TableName() string { return "payments" }

// MarkCaptured records settlement. Fee and tax are only overwritten when reported.
func (p *Payment) MarkCaptured(fee, taxOnFee int64, now time.Time) error {
	switch p.Status {
	case PaymentStatusCreated, PaymentStatusAuthorized, PaymentStatusFailed, PaymentStatusCaptured:
	default:
		return ErrInvalidStatusTransition
	}
	if fee < 0 || taxOnFee < 0 {
		return ErrInvalidAmount
	}

	if p.Status != PaymentStatusCaptured {
		p.Status = PaymentStatusCaptured
		p.ErrorCode = nil
		p.ErrorDescription = nil
	}
	if p.CapturedAt == nil {
		p.CapturedAt = &now
	}
	if fee > 0 {
		p.Fee = fee
	}
	if taxOnFee > 0 {
		p.TaxOnFee = taxOnFee
	}
	p.UpdatedAt = now
	return nil
}

// MarkFailed records a failed attempt. A captured payment never falls back to failed.
func (p *Payment) MarkFailed(code, description string, now time.Time) error {
	switch p.Status {
	case PaymentStatusCreated, PaymentStatusAuthorized, PaymentStatusFailed:
	default:
		return ErrInvalidStatusTransition
	}

	p.Status = PaymentStatusFailed
	if code != "" {
		p.ErrorCode = &code
	}
	if description != "" {
		p.ErrorDescription = &description
	}
	if p.FailedAt == nil {
		p.FailedAt = &now
	}
	p.UpdatedAt = now
	return nil
}

// MarkRefunded accumulates refund_amount, capped at the captured amount.
func (p *Payment) MarkRefunded(amount int64, now time.Time) error {
	if p.Status != PaymentStatusCaptured && p.Status != PaymentStatusRefunded {
		return ErrInvalidStatusTransition
	}
	if amount <= 0 {
		return ErrInvalidAmount
	}

	total := p.RefundAmount + amount
	if total > p.Amount {
		total = p.Amount
	}
	p.RefundAmount = total
	p.Status = PaymentStatusRefunded
	p.RefundedAt = &now
	p.UpdatedAt = now
	return nil
}
