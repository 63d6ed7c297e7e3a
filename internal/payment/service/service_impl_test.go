package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billsync/internal/clock"
	paymentdomain "github.com/smallbiznis/billsync/internal/payment/domain"
	"github.com/smallbiznis/billsync/internal/payment/repository"
	"github.com/smallbiznis/billsync/pkg/db/dbtest"
	"github.com/smallbiznis/billsync/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (paymentdomain.Service, *gorm.DB) {
	t.Helper()
	db := dbtest.New(t, &paymentdomain.Payment{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)),
		Repo:  repository.Provide(),
	})
	return svc, db
}

func TestCreateIfAbsentFirstWriterWins(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	var first, second *paymentdomain.Payment
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		var created bool
		var err error
		first, created, err = svc.CreateIfAbsent(ctx, tx, "pay_001", paymentdomain.CreateAttrs{
			TenantID: 1,
			Status:   paymentdomain.PaymentStatusCaptured,
			Amount:   118000,
			Currency: "inr",
			Method:   "card",
		})
		require.True(t, created)
		return err
	}))

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		var created bool
		var err error
		second, created, err = svc.CreateIfAbsent(ctx, tx, "pay_001", paymentdomain.CreateAttrs{
			TenantID: 1,
			Status:   paymentdomain.PaymentStatusCreated,
			Amount:   1,
			Currency: "INR",
		})
		require.False(t, created)
		return err
	}))

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(118000), second.Amount)
	assert.Equal(t, paymentdomain.PaymentStatusCaptured, second.Status)
	assert.Equal(t, "INR", second.Currency)

	var count int64
	require.NoError(t, db.Model(&paymentdomain.Payment{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestStatusUpdatesPersist(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		_, _, err := svc.CreateIfAbsent(ctx, tx, "pay_002", paymentdomain.CreateAttrs{TenantID: 1, Amount: 5000, Currency: "INR"})
		return err
	}))

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		payment, err := svc.LockByGatewayID(ctx, tx, "pay_002")
		if err != nil {
			return err
		}
		return svc.MarkCaptured(ctx, tx, payment, 100, 18)
	}))

	err := db.Transaction(func(tx *gorm.DB) error {
		payment, err := svc.LockByGatewayID(ctx, tx, "pay_002")
		if err != nil {
			return err
		}
		return svc.MarkFailed(ctx, tx, payment, "GATEWAY_ERROR", "late failure")
	})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidStatusTransition)

	stored, err := svc.GetByGatewayID(ctx, "pay_002")
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.PaymentStatusCaptured, stored.Status)
	assert.Equal(t, int64(100), stored.Fee)
	assert.Equal(t, int64(18), stored.TaxOnFee)

	_, err = svc.GetByGatewayID(ctx, "pay_missing")
	assert.ErrorIs(t, err, paymentdomain.ErrPaymentNotFound)
}

func TestListForTenantPaginates(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	for _, id := range []string{"pay_a", "pay_b", "pay_c"} {
		require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
			_, _, err := svc.CreateIfAbsent(ctx, tx, id, paymentdomain.CreateAttrs{TenantID: 7, Amount: 100, Currency: "INR"})
			return err
		}))
	}
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		_, _, err := svc.CreateIfAbsent(ctx, tx, "pay_other", paymentdomain.CreateAttrs{TenantID: 8, Amount: 100, Currency: "INR"})
		return err
	}))

	page, err := svc.ListForTenant(ctx, 7, pagination.Pagination{PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page.Payments, 2)
	assert.True(t, page.PageInfo.HasMore)
	assert.Equal(t, "pay_c", page.Payments[0].GatewayPaymentID)

	next, err := svc.ListForTenant(ctx, 7, pagination.Pagination{PageSize: 2, PageToken: page.PageInfo.NextPageToken})
	require.NoError(t, err)
	require.Len(t, next.Payments, 1)
	assert.Equal(t, "pay_a", next.Payments[0].GatewayPaymentID)
	assert.False(t, next.PageInfo.HasMore)
}
