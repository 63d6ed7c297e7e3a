package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrTenantNotFound = errors.New("tenant_not_found")
	// ErrForbidden is returned when the acting user is not the account owner.
	ErrForbidden      = errors.New("forbidden_not_account_owner")
	ErrInvalidAddress = errors.New("invalid_billing_address")
)

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Tenant, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Tenant, error)
	UpdatePlan(ctx context.Context, db *gorm.DB, id, planID snowflake.ID, now time.Time) error
	UpdateGatewayCustomer(ctx context.Context, db *gorm.DB, id snowflake.ID, customerID string, now time.Time) error
	UpdateBillingAddress(ctx context.Context, db *gorm.DB, id snowflake.ID, address BillingAddress, now time.Time) error
}

type Service interface {
	GetByID(ctx context.Context, id snowflake.ID) (*Tenant, error)
	// AuthorizeOwner loads the tenant and fails with ErrForbidden unless userID owns it.
	AuthorizeOwner(ctx context.Context, tenantID snowflake.ID, userID string) (*Tenant, error)
	SetPlan(ctx context.Context, tx *gorm.DB, tenantID, planID snowflake.ID) error
	SetGatewayCustomer(ctx context.Context, tenantID snowflake.ID, customerID string) error
	UpdateBillingAddress(ctx context.Context, tenantID snowflake.ID, userID string, address BillingAddress) (*Tenant, error)
}
