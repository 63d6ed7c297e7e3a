package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	tenantdomain "github.com/smallbiznis/billsync/internal/tenant/domain"
	"github.com/smallbiznis/billsync/pkg/db/pagination"
	"gorm.io/gorm"
)

var (
	ErrInvoiceNotFound         = errors.New("invoice_not_found")
	ErrInvalidStatusTransition = errors.New("invalid_invoice_status_transition")
	ErrInvalidLineItem         = errors.New("invalid_line_item")
	ErrInvalidCurrency         = errors.New("invalid_currency")
	ErrInvalidTenant           = errors.New("invalid_tenant")
	ErrInvoiceNumberExhausted  = errors.New("invoice_number_conflict")
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	Update(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	FindByID(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*Invoice, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Invoice, error)
	FindLatestIssuedForSubscription(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) (*Invoice, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter, page pagination.Pagination) ([]Invoice, error)

	// LockSequence returns the counter row for scope, creating it when absent, locked for update.
	LockSequence(ctx context.Context, db *gorm.DB, scope string, now time.Time) (*InvoiceSequence, error)
	UpdateSequence(ctx context.Context, db *gorm.DB, scope string, value int64, now time.Time) error
	// LatestNumberInScope returns the highest invoice number starting with scope, or "".
	LatestNumberInScope(ctx context.Context, db *gorm.DB, scope string) (string, error)
}

type ListFilter struct {
	TenantID snowflake.ID
	Status   InvoiceStatus
}

type IssueRequest struct {
	TenantID       snowflake.ID
	SubscriptionID *snowflake.ID
	Currency       string
	LineItems      []LineItem
	BillingAddress tenantdomain.BillingAddress
	PeriodStart    *time.Time
	PeriodEnd      *time.Time
	Metadata       map[string]any
}

type ListResponse struct {
	Invoices []Invoice
	PageInfo pagination.PageInfo
}

// RenderedPDF is a generated invoice document.
type RenderedPDF struct {
	Filename string
	Content  []byte
}

type Service interface {
	GenerateInvoiceNumber(ctx context.Context, tx *gorm.DB, now time.Time) (string, error)
	Issue(ctx context.Context, tx *gorm.DB, req IssueRequest) (*Invoice, error)
	MarkAsPaid(ctx context.Context, tx *gorm.DB, invoice *Invoice) error
	MarkAsCancelled(ctx context.Context, tx *gorm.DB, invoice *Invoice) error
	AddLineItem(ctx context.Context, tx *gorm.DB, invoice *Invoice, item LineItem) error
	LockByID(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*Invoice, error)
	LatestIssuedForSubscription(ctx context.Context, tx *gorm.DB, subscriptionID snowflake.ID) (*Invoice, error)

	GetForTenant(ctx context.Context, tenantID, id snowflake.ID) (*Invoice, error)
	ListForTenant(ctx context.Context, tenantID snowflake.ID, status InvoiceStatus, page pagination.Pagination) (ListResponse, error)
	RenderPDF(ctx context.Context, tenantID, id snowflake.ID) (RenderedPDF, error)
}
