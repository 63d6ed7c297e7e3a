package repository

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"
	invoicedomain "github.com/smallbiznis/billsync/internal/invoice/domain"
	"github.com/smallbiznis/billsync/pkg/db/pagination"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() invoicedomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, invoice *invoicedomain.Invoice) error {
	return db.WithContext(ctx).Create(invoice).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, invoice *invoicedomain.Invoice) error {
	res := db.WithContext(ctx).
		Model(&invoicedomain.Invoice{}).
		Where("id = ?", invoice.ID).
		Updates(map[string]any{
			"status":       invoice.Status,
			"amount_paid":  invoice.AmountPaid,
			"amount_due":   invoice.AmountDue,
			"line_items":   invoice.LineItems,
			"paid_at":      invoice.PaidAt,
			"cancelled_at": invoice.CancelledAt,
			"updated_at":   invoice.UpdatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return invoicedomain.ErrInvoiceNotFound
	}
	return nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, tenantID, id snowflake.ID) (*invoicedomain.Invoice, error) {
	return r.take(db.WithContext(ctx).Where("tenant_id = ? AND id = ?", tenantID, id))
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*invoicedomain.Invoice, error) {
	return r.take(db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id))
}

func (r *repo) FindLatestIssuedForSubscription(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) (*invoicedomain.Invoice, error) {
	return r.take(db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("subscription_id = ?", subscriptionID).
		Where("status = ?", invoicedomain.InvoiceStatusIssued).
		Order("issued_at DESC").
		Order("id DESC"))
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter invoicedomain.ListFilter, page pagination.Pagination) ([]invoicedomain.Invoice, error) {
	q := db.WithContext(ctx).Model(&invoicedomain.Invoice{}).Where("tenant_id = ?", filter.TenantID)
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}

	q, err := pagination.Apply(q, page)
	if err != nil {
		return nil, err
	}

	var items []invoicedomain.Invoice
	if err := q.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) LockSequence(ctx context.Context, db *gorm.DB, scope string, now time.Time) (*invoicedomain.InvoiceSequence, error) {
	seed := invoicedomain.InvoiceSequence{Scope: scope, UpdatedAt: now}
	if err := db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "scope"}}, DoNothing: true}).
		Create(&seed).Error; err != nil {
		return nil, err
	}

	var seq invoicedomain.InvoiceSequence
	err := db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("scope = ?", scope).
		Take(&seq).Error
	if err != nil {
		return nil, err
	}
	return &seq, nil
}

func (r *repo) UpdateSequence(ctx context.Context, db *gorm.DB, scope string, value int64, now time.Time) error {
	return db.WithContext(ctx).
		Model(&invoicedomain.InvoiceSequence{}).
		Where("scope = ?", scope).
		Updates(map[string]any{"last_value": value, "updated_at": now}).Error
}

func (r *repo) LatestNumberInScope(ctx context.Context, db *gorm.DB, scope string) (string, error) {
	var numbers []string
	err := db.WithContext(ctx).
		Model(&invoicedomain.Invoice{}).
		Where("SUBSTR(invoice_number, 1, ?) = ?", utf8.RuneCountInString(scope), scope).
		Order("LENGTH(invoice_number) DESC").
		Order("invoice_number DESC").
		Limit(1).
		Pluck("invoice_number", &numbers).Error
	if err != nil {
		return "", err
	}
	if len(numbers) == 0 {
		return "", nil
	}
	return numbers[0], nil
}

func (r *repo) take(q *gorm.DB) (*invoicedomain.Invoice, error) {
	var invoice invoicedomain.Invoice
	err := q.Take(&invoice).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}
