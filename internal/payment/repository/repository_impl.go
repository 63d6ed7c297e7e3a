package repository

import (
	"context"
	"errors"

	"github.com/smallbiznis/billsync/internal/payment/domain"
	"github.com/smallbiznis/billsync/pkg/db/pagination"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertIfAbsent(ctx context.Context, db *gorm.DB, payment *domain.Payment) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "gateway_payment_id"}},
			DoNothing: true,
		}).
		Create(payment)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, payment *domain.Payment) error {
	res := db.WithContext(ctx).
		Model(&domain.Payment{}).
		Where("id = ?", payment.ID).
		Updates(map[string]any{
			"invoice_id":        payment.InvoiceID,
			"status":            payment.Status,
			"fee":               payment.Fee,
			"tax_on_fee":        payment.TaxOnFee,
			"error_code":        payment.ErrorCode,
			"error_description": payment.ErrorDescription,
			"captured_at":       payment.CapturedAt,
			"failed_at":         payment.FailedAt,
			"refunded_at":       payment.RefundedAt,
			"refund_amount":     payment.RefundAmount,
			"updated_at":        payment.UpdatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrPaymentNotFound
	}
	return nil
}

func (r *repo) FindByGatewayID(ctx context.Context, db *gorm.DB, gatewayPaymentID string) (*domain.Payment, error) {
	return r.take(db.WithContext(ctx).Where("gateway_payment_id = ?", gatewayPaymentID))
}

func (r *repo) FindByGatewayIDForUpdate(ctx context.Context, db *gorm.DB, gatewayPaymentID string) (*domain.Payment, error) {
	return r.take(db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("gateway_payment_id = ?", gatewayPaymentID))
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter, page pagination.Pagination) ([]domain.Payment, error) {
	q := db.WithContext(ctx).Model(&domain.Payment{}).Where("tenant_id = ?", filter.TenantID)
	if filter.SubscriptionID != nil {
		q = q.Where("subscription_id = ?", *filter.SubscriptionID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}

	q, err := pagination.Apply(q, page)
	if err != nil {
		return nil, err
	}

	var items []domain.Payment
	if err := q.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) take(q *gorm.DB) (*domain.Payment, error) {
	var payment domain.Payment
	err := q.Take(&payment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}
