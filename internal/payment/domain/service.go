package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billsync/pkg/db/pagination"
	"gorm.io/gorm"
)

var (
	ErrPaymentNotFound         = errors.New("payment_not_found")
	ErrInvalidGatewayPaymentID = errors.New("invalid_gateway_payment_id")
	ErrInvalidAmount           = errors.New("invalid_amount")
	ErrInvalidCurrency         = errors.New("invalid_currency")
	ErrInvalidStatusTransition = errors.New("invalid_payment_status_transition")
)

type Repository interface {
	// InsertIfAbsent inserts the row unless the gateway payment id exists and reports whether it wrote.
	InsertIfAbsent(ctx context.Context, db *gorm.DB, payment *Payment) (bool, error)
	Update(ctx context.Context, db *gorm.DB, payment *Payment) error
	FindByGatewayID(ctx context.Context, db *gorm.DB, gatewayPaymentID string) (*Payment, error)
	FindByGatewayIDForUpdate(ctx context.Context, db *gorm.DB, gatewayPaymentID string) (*Payment, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter, page pagination.Pagination) ([]Payment, error)
}

type ListFilter struct {
	TenantID       snowflake.ID
	SubscriptionID *snowflake.ID
	Status         PaymentStatus
}

// CreateAttrs are the first-writer attributes of a payment.
type CreateAttrs struct {
	TenantID       snowflake.ID
	SubscriptionID *snowflake.ID
	InvoiceID      *snowflake.ID
	GatewayOrderID string
	Status         PaymentStatus
	Amount         int64
	Currency       string
	Method         string
	Fee            int64
	TaxOnFee       int64
	Metadata       map[string]any
}

type ListResponse struct {
	Payments []Payment
	PageInfo pagination.PageInfo
}

type Service interface {
	// CreateIfAbsent returns the existing row untouched when the gateway id is already recorded.
	CreateIfAbsent(ctx context.Context, tx *gorm.DB, gatewayPaymentID string, attrs CreateAttrs) (*Payment, bool, error)
	LockByGatewayID(ctx context.Context, tx *gorm.DB, gatewayPaymentID string) (*Payment, error)
	MarkCaptured(ctx context.Context, tx *gorm.DB, payment *Payment, fee, taxOnFee int64) error
	MarkFailed(ctx context.Context, tx *gorm.DB, payment *Payment, code, description string) error
	MarkRefunded(ctx context.Context, tx *gorm.DB, payment *Payment, amount int64) error
	AttachInvoice(ctx context.Context, tx *gorm.DB, payment *Payment, invoiceID snowflake.ID) error
	GetByGatewayID(ctx context.Context, gatewayPaymentID string) (*Payment, error)
	ListForTenant(ctx context.Context, tenantID snowflake.ID, page pagination.Pagination) (ListResponse, error)
}
