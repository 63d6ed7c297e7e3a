package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrPaymentMethodNotFound = errors.New("payment_method_not_found")
	ErrInvalidMethodType     = errors.New("invalid_payment_method_type")
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, method *PaymentMethod) error
	FindByID(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*PaymentMethod, error)
	List(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]PaymentMethod, error)
	// ClearDefault unsets is_default on every method of the tenant.
	ClearDefault(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, now time.Time) error
	MarkDefault(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID, now time.Time) error
	Delete(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) error
}

type AddRequest struct {
	TenantID       snowflake.ID
	UserID         string
	GatewayTokenID string
	Type           string
	IsDefault      bool
	Details        Details
	ExpiresAt      *time.Time
}

type Service interface {
	Add(ctx context.Context, req AddRequest) (*PaymentMethod, error)
	SetDefault(ctx context.Context, tenantID snowflake.ID, userID string, id snowflake.ID) (*PaymentMethod, error)
	// Remove hard-deletes the method. A removed default is not replaced.
	Remove(ctx context.Context, tenantID snowflake.ID, userID string, id snowflake.ID) error
	List(ctx context.Context, tenantID snowflake.ID) ([]PaymentMethod, error)
}
