package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	plandomain "github.com/smallbiznis/billsync/internal/plan/domain"
	"gorm.io/gorm"
)

var (
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrNoActiveSubscription = errors.New("no_active_subscription")
	ErrInvalidTransition    = errors.New("invalid_state_transition")
	ErrInvalidPeriod        = errors.New("invalid_period")
	ErrInvalidPlan          = errors.New("invalid_plan")
	ErrInvalidAmount        = errors.New("invalid_amount")
	ErrInvalidCurrency      = errors.New("invalid_currency")
	ErrInvalidGatewayID     = errors.New("invalid_gateway_subscription_id")
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	Update(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	FindByGatewayID(ctx context.Context, db *gorm.DB, gatewaySubscriptionID string) (*Subscription, error)
	FindByGatewayIDForUpdate(ctx context.Context, db *gorm.DB, gatewaySubscriptionID string) (*Subscription, error)
	FindCurrentForTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, forUpdate bool) (*Subscription, error)
	FindLatestForTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, forUpdate bool) (*Subscription, error)
	ListForTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]Subscription, error)
	ListDeferredCancellationsDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]Subscription, error)
}

type CreateRequest struct {
	TenantID              snowflake.ID
	PlanID                snowflake.ID
	BillingCycle          plandomain.BillingCycle
	Currency              string
	Amount                int64
	GatewaySubscriptionID string
	GatewayCustomerID     string
	TrialDays             int
	Metadata              map[string]any
}

// TenantActionRequest identifies a user-driven billing action on the tenant's current subscription.
type TenantActionRequest struct {
	TenantID    snowflake.ID
	UserID      string
	AtPeriodEnd bool
	PlanID      snowflake.ID
}

// Service owns subscription lifecycle mutations. Methods that take a tx expect the
// subscription to have been loaded through LockByID or LockByGatewayID in that tx.
type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Subscription, error)
	GetByID(ctx context.Context, id snowflake.ID) (*Subscription, error)
	ListForTenant(ctx context.Context, tenantID snowflake.ID) ([]Subscription, error)
	CurrentForTenant(ctx context.Context, tenantID snowflake.ID) (*Subscription, error)

	LockByID(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*Subscription, error)
	LockByGatewayID(ctx context.Context, tx *gorm.DB, gatewaySubscriptionID string) (*Subscription, error)

	Activate(ctx context.Context, tx *gorm.DB, subscription *Subscription) error
	Cancel(ctx context.Context, tx *gorm.DB, subscription *Subscription, atPeriodEnd bool) error
	Reactivate(ctx context.Context, tx *gorm.DB, subscription *Subscription) error
	ChangePlan(ctx context.Context, tx *gorm.DB, subscription *Subscription, planID snowflake.ID) error
	MarkPending(ctx context.Context, tx *gorm.DB, subscription *Subscription) error
	MarkHalted(ctx context.Context, tx *gorm.DB, subscription *Subscription) error
	MarkCompleted(ctx context.Context, tx *gorm.DB, subscription *Subscription) error
	MarkCancelled(ctx context.Context, tx *gorm.DB, subscription *Subscription) error
	RefreshPeriod(ctx context.Context, tx *gorm.DB, subscription *Subscription, start, end *time.Time) error
	// ApplyCharge re-snapshots the cycle amount after a successful gateway charge.
	ApplyCharge(ctx context.Context, tx *gorm.DB, subscription *Subscription, amount int64) error

	CancelForTenant(ctx context.Context, req TenantActionRequest) (*Subscription, error)
	ReactivateForTenant(ctx context.Context, req TenantActionRequest) (*Subscription, error)
	ChangePlanForTenant(ctx context.Context, req TenantActionRequest) (*Subscription, error)

	ExpireDeferredCancellations(ctx context.Context, limit int) (int, error)
}
