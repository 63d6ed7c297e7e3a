// Package domain contains persistence models for invoicing.
package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	tenantdomain "github.com/smallbiznis/billsync/internal/tenant/domain"
	"gorm.io/datatypes"
)

// InvoiceStatus represents invoice lifecycle states.
type InvoiceStatus string

const (
	InvoiceStatusIssued    InvoiceStatus = "issued"
	InvoiceStatusPaid      InvoiceStatus = "paid"
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
)

// LineItem is one billed line. Amounts are minor units.
type LineItem struct {
	Description string `json:"description"`
	Quantity    int64  `json:"quantity"`
	UnitPrice   int64  `json:"unit_price"`
	Amount      int64  `json:"amount"`
	TaxCode     string `json:"tax_code,omitempty"`
}

// Invoice is issued once per charged billing period. InvoiceNumber never changes after insert.
type Invoice struct {
	ID             snowflake.ID                                    `gorm:"primaryKey" json:"id"`
	TenantID       snowflake.ID                                    `gorm:"not null;index" json:"tenant_id"`
	SubscriptionID *snowflake.ID                                   `gorm:"index" json:"subscription_id,omitempty"`
	InvoiceNumber  string                                          `gorm:"type:text;not null;uniqueIndex" json:"invoice_number"`
	Status         InvoiceStatus                                   `gorm:"type:text;not null;index" json:"status"`
	Currency       string                                          `gorm:"type:text;not null" json:"currency"`
	Subtotal       int64                                           `gorm:"not null;default:0" json:"subtotal"`
	TaxAmount      int64                                           `gorm:"not null;default:0" json:"tax_amount"`
	Total          int64                                           `gorm:"not null;default:0" json:"total"`
	AmountPaid     int64                                           `gorm:"not null;default:0" json:"amount_paid"`
	AmountDue      int64                                           `gorm:"not null;default:0" json:"amount_due"`
	GSTDetails     datatypes.JSONType[GSTDetails]                  `gorm:"type:jsonb" json:"gst_details"`
	BillingAddress datatypes.JSONType[tenantdomain.BillingAddress] `gorm:"type:jsonb" json:"billing_address"`
	LineItems      datatypes.JSONSlice[LineItem]                   `gorm:"type:jsonb" json:"line_items"`
	PeriodStart    *time.Time                                      `json:"period_start,omitempty"`
	PeriodEnd      *time.Time                                      `json:"period_end,omitempty"`
	IssuedAt       *time.Time                                      `json:"issued_at,omitempty"`
	DueAt          *time.Time                                      `json:"due_at,omitempty"`
	PaidAt         *time.Time                                      `json:"paid_at,omitempty"`
	CancelledAt    *time.Time                                      `json:"cancelled_at,omitempty"`
	Metadata       datatypes.JSONMap                               `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt      time.Time                                       `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time                                       `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// InvoiceSequence is the per-scope counter row, e.g. scope "INV/2026-27/".
type InvoiceSequence struct {
	Scope     string    `gorm:"primaryKey;type:text"`
	LastValue int64     `gorm:"not null;default:0"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName sets the database table name.
func (InvoiceSequence) TableName() string { return "invoice_sequences" }

// MarkPaid settles the invoice in full. Paying a paid invoice is a no-op.
func (i *Invoice) MarkPaid(now time.Time) (bool, error) {
	switch i.Status {
	case InvoiceStatusPaid:
		return false, nil
	case InvoiceStatusIssued:
	default:
		return false, ErrInvalidStatusTransition
	}

	i.Status = InvoiceStatusPaid
	i.PaidAt = &now
	i.AmountPaid = i.Total
	i.AmountDue = 0
	i.UpdatedAt = now
	return true, nil
}

// MarkCancelled voids an issued invoice without touching its amounts.
func (i *Invoice) MarkCancelled(now time.Time) (bool, error) {
	switch i.Status {
	case InvoiceStatusCancelled:
		return false, nil
	case InvoiceStatusIssued:
	default:
		return false, ErrInvalidStatusTransition
	}

	i.Status = InvoiceStatusCancelled
	i.CancelledAt = &now
	i.UpdatedAt = now
	return true, nil
}

// AddLineItem appends item. Subtotal and total are left as the caller set them.
func (i *Invoice) AddLineItem(item LineItem, now time.Time) error {
	if i.Status != InvoiceStatusIssued {
		return ErrInvalidStatusTransition
	}
	item, err := normalizeLineItem(item)
	if err != nil {
		return err
	}
	i.LineItems = append(i.LineItems, item)
	i.UpdatedAt = now
	return nil
}

func normalizeLineItem(item LineItem) (LineItem, error) {
	item.Description = strings.TrimSpace(item.Description)
	item.TaxCode = strings.TrimSpace(item.TaxCode)
	if item.Description == "" {
		return LineItem{}, ErrInvalidLineItem
	}
	if item.Quantity <= 0 {
		item.Quantity = 1
	}
	if item.UnitPrice < 0 || item.Amount < 0 {
		return LineItem{}, ErrInvalidLineItem
	}
	if item.Amount == 0 {
		item.Amount = item.Quantity * item.UnitPrice
	}
	return item, nil
}

// SumLineItems returns the total of line amounts.
func SumLineItems(items []LineItem) (int64, []LineItem, error) {
	out := make([]LineItem, 0, len(items))
	var sum int64
	for _, item := range items {
		normalized, err := normalizeLineItem(item)
		if err != nil {
			return 0, nil, err
		}
		sum += normalized.Amount
		out = append(out, normalized)
	}
	return sum, out, nil
}
