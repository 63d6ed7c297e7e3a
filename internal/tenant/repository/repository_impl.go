package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	tenantdomain "github.com/smallbiznis/billsync/internal/tenant/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() tenantdomain.Repository {
	return &repo{}
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*tenantdomain.Tenant, error) {
	return r.find(ctx, db.WithContext(ctx), id)
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*tenantdomain.Tenant, error) {
	return r.find(ctx, db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), id)
}

func (r *repo) find(_ context.Context, db *gorm.DB, id snowflake.ID) (*tenantdomain.Tenant, error) {
	var tenant tenantdomain.Tenant
	err := db.Where("id = ?", id).Take(&tenant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tenant, nil
}

func (r *repo) UpdatePlan(ctx context.Context, db *gorm.DB, id, planID snowflake.ID, now time.Time) error {
	return r.update(ctx, db, id, map[string]any{"plan_id": planID, "updated_at": now})
}

func (r *repo) UpdateGatewayCustomer(ctx context.Context, db *gorm.DB, id snowflake.ID, customerID string, now time.Time) error {
	return r.update(ctx, db, id, map[string]any{"gateway_customer_id": customerID, "updated_at": now})
}

func (r *repo) UpdateBillingAddress(ctx context.Context, db *gorm.DB, id snowflake.ID, address tenantdomain.BillingAddress, now time.Time) error {
	return r.update(ctx, db, id, map[string]any{
		"billing_address": datatypes.NewJSONType(address),
		"updated_at":      now,
	})
}

func (r *repo) update(ctx context.Context, db *gorm.DB, id snowflake.ID, values map[string]any) error {
	res := db.WithContext(ctx).
		Model(&tenantdomain.Tenant{}).
		Where("id = ?", id).
		Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return tenantdomain.ErrTenantNotFound
	}
	return nil
}
