package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/smallbiznis/billsync/internal/subscription/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// currentStatuses are the statuses a tenant can still act on.
var currentStatuses = []subscriptiondomain.SubscriptionStatus{
	subscriptiondomain.SubscriptionStatusActive,
	subscriptiondomain.SubscriptionStatusPending,
	subscriptiondomain.SubscriptionStatusHalted,
	subscriptiondomain.SubscriptionStatusCancelled,
}

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).Create(subscription).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	res := db.WithContext(ctx).
		Model(&subscriptiondomain.Subscription{}).
		Where("id = ?", subscription.ID).
		Updates(map[string]any{
			"plan_id":              subscription.PlanID,
			"status":               subscription.Status,
			"amount":               subscription.Amount,
			"current_period_start": subscription.CurrentPeriodStart,
			"current_period_end":   subscription.CurrentPeriodEnd,
			"cancel_at_period_end": subscription.CancelAtPeriodEnd,
			"cancelled_at":         subscription.CancelledAt,
			"ended_at":             subscription.EndedAt,
			"updated_at":           subscription.UpdatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return subscriptiondomain.ErrSubscriptionNotFound
	}
	return nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	return r.take(db.WithContext(ctx).Where("id = ?", id))
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	return r.take(db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id))
}

func (r *repo) FindByGatewayID(ctx context.Context, db *gorm.DB, gatewaySubscriptionID string) (*subscriptiondomain.Subscription, error) {
	return r.take(db.WithContext(ctx).Where("gateway_subscription_id = ?", gatewaySubscriptionID))
}

func (r *repo) FindByGatewayIDForUpdate(ctx context.Context, db *gorm.DB, gatewaySubscriptionID string) (*subscriptiondomain.Subscription, error) {
	return r.take(db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("gateway_subscription_id = ?", gatewaySubscriptionID))
}

func (r *repo) FindCurrentForTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, forUpdate bool) (*subscriptiondomain.Subscription, error) {
	q := db.WithContext(ctx)
	if forUpdate {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return r.take(q.
		Where("tenant_id = ?", tenantID).
		Where("status IN ?", currentStatuses).
		Where("ended_at IS NULL").
		Order("created_at DESC").
		Order("id DESC"))
}

// FindLatestForTenant returns the newest subscription whatever its status.
func (r *repo) FindLatestForTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, forUpdate bool) (*subscriptiondomain.Subscription, error) {
	q := db.WithContext(ctx)
	if forUpdate {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return r.take(q.
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		Order("id DESC"))
}

func (r *repo) ListForTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]subscriptiondomain.Subscription, error) {
	var items []subscriptiondomain.Subscription
	err := db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListDeferredCancellationsDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]subscriptiondomain.Subscription, error) {
	if limit <= 0 {
		limit = 100
	}
	var items []subscriptiondomain.Subscription
	err := db.WithContext(ctx).
		Where("cancel_at_period_end = ?", true).
		Where("ended_at IS NULL").
		Where("current_period_end IS NOT NULL AND current_period_end <= ?", now).
		Order("current_period_end ASC").
		Order("id ASC").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) take(q *gorm.DB) (*subscriptiondomain.Subscription, error) {
	var subscription subscriptiondomain.Subscription
	err := q.Take(&subscription).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &subscription, nil
}
