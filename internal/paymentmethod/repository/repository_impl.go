package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billsync/internal/paymentmethod/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, method *domain.PaymentMethod) error {
	return db.WithContext(ctx).Create(method).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*domain.PaymentMethod, error) {
	var method domain.PaymentMethod
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Take(&method).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &method, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]domain.PaymentMethod, error) {
	var methods []domain.PaymentMethod
	err := db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("is_default DESC").
		Order("created_at DESC").
		Order("id DESC").
		Find(&methods).Error
	return methods, err
}

func (r *repo) ClearDefault(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.PaymentMethod{}).
		Where("tenant_id = ? AND is_default = ?", tenantID, true).
		Updates(map[string]any{"is_default": false, "updated_at": now}).Error
}

func (r *repo) MarkDefault(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID, now time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.PaymentMethod{}).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Updates(map[string]any{"is_default": true, "updated_at": now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrPaymentMethodNotFound
	}
	return nil
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) error {
	res := db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Delete(&domain.PaymentMethod{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrPaymentMethodNotFound
	}
	return nil
}
