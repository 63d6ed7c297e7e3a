package service

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billsync/internal/clock"
	"github.com/smallbiznis/billsync/internal/config"
	invoicedomain "github.com/smallbiznis/billsync/internal/invoice/domain"
	"github.com/smallbiznis/billsync/internal/invoice/repository"
	"github.com/smallbiznis/billsync/internal/providers/pdf"
	tenantdomain "github.com/smallbiznis/billsync/internal/tenant/domain"
	tenantrepository "github.com/smallbiznis/billsync/internal/tenant/repository"
	tenantservice "github.com/smallbiznis/billsync/internal/tenant/service"
	"github.com/smallbiznis/billsync/pkg/db/dbtest"
	"github.com/smallbiznis/billsync/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db    *gorm.DB
	clock *clock.FakeClock
	svc   invoicedomain.Service
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	db := dbtest.New(t, &tenantdomain.Tenant{}, &invoicedomain.Invoice{}, &invoicedomain.InvoiceSequence{})
	clk := clock.NewFakeClock(now)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	require.NoError(t, db.Create(&tenantdomain.Tenant{ID: 1, Name: "Acme", OwnerUserID: "owner", CreatedAt: now, UpdatedAt: now}).Error)

	tenantSvc := tenantservice.NewService(tenantservice.ServiceParam{
		DB: db, Log: zap.NewNop(), Clock: clk, Repo: tenantrepository.Provide(),
	})
	svc := NewService(ServiceParam{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Clock:     clk,
		Billing:   config.NewStaticBillingConfigHolder(config.DefaultBillingConfig()),
		Repo:      repository.Provide(),
		TenantSvc: tenantSvc,
		PDF:       pdf.New(),
	})
	return &fixture{db: db, clock: clk, svc: svc}
}

func issueRequest(state string) invoicedomain.IssueRequest {
	return invoicedomain.IssueRequest{
		TenantID: 1,
		Currency: "INR",
		LineItems: []invoicedomain.LineItem{
			{Description: "Pro plan (monthly)", Quantity: 1, UnitPrice: 100000},
		},
		BillingAddress: tenantdomain.BillingAddress{City: "Pune", State: state},
	}
}

func (f *fixture) issue(t *testing.T, req invoicedomain.IssueRequest) *invoicedomain.Invoice {
	t.Helper()
	var out *invoicedomain.Invoice
	require.NoError(t, f.db.Transaction(func(tx *gorm.DB) error {
		var err error
		out, err = f.svc.Issue(context.Background(), tx, req)
		return err
	}))
	return out
}

func TestIssueComputesGstAndNumber(t *testing.T) {
	f := newFixture(t, time.Date(2026, 5, 10, 6, 0, 0, 0, time.UTC))

	intra := f.issue(t, issueRequest("Maharashtra"))
	assert.Equal(t, "INV/2026-27/00001", intra.InvoiceNumber)
	assert.Equal(t, int64(100000), intra.Subtotal)
	assert.Equal(t, int64(18000), intra.TaxAmount)
	assert.Equal(t, int64(118000), intra.Total)
	assert.Equal(t, int64(118000), intra.AmountDue)
	assert.Equal(t, invoicedomain.GSTTypeIntraState, intra.GSTDetails.Data().Type)
	assert.Equal(t, invoicedomain.InvoiceStatusIssued, intra.Status)

	inter := f.issue(t, issueRequest("Karnataka"))
	assert.Equal(t, "INV/2026-27/00002", inter.InvoiceNumber)
	assert.Equal(t, int64(18000), inter.GSTDetails.Data().IGST)

	stored, err := f.svc.GetForTenant(context.Background(), 1, inter.ID)
	require.NoError(t, err)
	assert.Equal(t, "Karnataka", stored.BillingAddress.Data().State)
	require.Len(t, stored.LineItems, 1)
	assert.Equal(t, int64(100000), stored.LineItems[0].Amount)
}

func TestInvoiceNumbersRestartEachFiscalYear(t *testing.T) {
	f := newFixture(t, time.Date(2027, 3, 31, 10, 0, 0, 0, time.UTC))

	last := f.issue(t, issueRequest("Maharashtra"))
	assert.Equal(t, "INV/2026-27/00001", last.InvoiceNumber)

	f.clock.Set(time.Date(2027, 4, 1, 0, 0, 0, 0, time.UTC))
	first := f.issue(t, issueRequest("Maharashtra"))
	assert.Equal(t, "INV/2027-28/00001", first.InvoiceNumber)
}

func TestInvoiceNumberSeedsFromExistingInvoices(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	f := newFixture(t, now)

	legacy := &invoicedomain.Invoice{
		ID: 999, TenantID: 1, InvoiceNumber: "INV/2026-27/00041", Status: invoicedomain.InvoiceStatusPaid,
		Currency: "INR", CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, f.db.Create(legacy).Error)

	next := f.issue(t, issueRequest("Maharashtra"))
	assert.Equal(t, "INV/2026-27/00042", next.InvoiceNumber)
}

func TestConcurrentIssueYieldsDistinctSequentialNumbers(t *testing.T) {
	f := newFixture(t, time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC))
	const n = 20

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers []string
		errs    []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := f.db.Transaction(func(tx *gorm.DB) error {
				inv, err := f.svc.Issue(context.Background(), tx, issueRequest("Maharashtra"))
				if err != nil {
					return err
				}
				mu.Lock()
				numbers = append(numbers, inv.InvoiceNumber)
				mu.Unlock()
				return nil
			})
			if err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	require.Len(t, numbers, n)
	sort.Strings(numbers)
	for i, number := range numbers {
		assert.Equal(t, fmt.Sprintf("INV/2026-27/%05d", i+1), number)
	}
}

// failInvoiceInserts makes the next n invoice inserts fail with a duplicate key.
func failInvoiceInserts(t *testing.T, db *gorm.DB, n int) *int {
	t.Helper()
	failed := 0
	err := db.Callback().Create().Before("gorm:create").Register("test:invoice_conflict", func(tx *gorm.DB) {
		if tx.Statement.Schema == nil || tx.Statement.Schema.Table != "invoices" || failed >= n {
			return
		}
		failed++
		_ = tx.AddError(gorm.ErrDuplicatedKey)
	})
	require.NoError(t, err)
	return &failed
}

func TestIssueRegeneratesNumberAfterConflict(t *testing.T) {
	f := newFixture(t, time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC))
	failed := failInvoiceInserts(t, f.db, 1)

	inv := f.issue(t, issueRequest("Maharashtra"))
	assert.Equal(t, 1, *failed)
	assert.Equal(t, "INV/2026-27/00002", inv.InvoiceNumber)

	var count int64
	require.NoError(t, f.db.Model(&invoicedomain.Invoice{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)

	var seq invoicedomain.InvoiceSequence
	require.NoError(t, f.db.First(&seq, "scope = ?", "INV/2026-27/").Error)
	assert.EqualValues(t, 2, seq.LastValue)
}

func TestIssueSkipsNumberTakenOutsideCounter(t *testing.T) {
	now := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	f := newFixture(t, now)
	first := f.issue(t, issueRequest("Maharashtra"))
	require.Equal(t, "INV/2026-27/00001", first.InvoiceNumber)

	require.NoError(t, f.db.Create(&invoicedomain.Invoice{
		ID: 555, TenantID: 1, InvoiceNumber: "INV/2026-27/00002", Status: invoicedomain.InvoiceStatusIssued,
		Currency: "INR", CreatedAt: now, UpdatedAt: now,
	}).Error)

	next := f.issue(t, issueRequest("Maharashtra"))
	assert.Equal(t, "INV/2026-27/00003", next.InvoiceNumber)
}

func TestIssueGivesUpAfterRepeatedConflicts(t *testing.T) {
	f := newFixture(t, time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC))
	failInvoiceInserts(t, f.db, numberAttempts)

	err := f.db.Transaction(func(tx *gorm.DB) error {
		_, err := f.svc.Issue(context.Background(), tx, issueRequest("Maharashtra"))
		return err
	})
	assert.ErrorIs(t, err, invoicedomain.ErrInvoiceNumberExhausted)
}

func TestMarkAsPaidPersists(t *testing.T) {
	f := newFixture(t, time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC))
	subID := snowflake.ID(77)
	req := issueRequest("Maharashtra")
	req.SubscriptionID = &subID
	issued := f.issue(t, req)
	ctx := context.Background()

	require.NoError(t, f.db.Transaction(func(tx *gorm.DB) error {
		inv, err := f.svc.LatestIssuedForSubscription(ctx, tx, subID)
		if err != nil {
			return err
		}
		return f.svc.MarkAsPaid(ctx, tx, inv)
	}))

	stored, err := f.svc.GetForTenant(ctx, 1, issued.ID)
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusPaid, stored.Status)
	assert.Equal(t, stored.Total, stored.AmountPaid)
	assert.Equal(t, int64(0), stored.AmountDue)

	err = f.db.Transaction(func(tx *gorm.DB) error {
		_, err := f.svc.LatestIssuedForSubscription(ctx, tx, subID)
		return err
	})
	assert.ErrorIs(t, err, invoicedomain.ErrInvoiceNotFound)
}

func TestListAndRenderPDF(t *testing.T) {
	f := newFixture(t, time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()
	first := f.issue(t, issueRequest("Maharashtra"))
	f.issue(t, issueRequest("Maharashtra"))

	page, err := f.svc.ListForTenant(ctx, 1, "", pagination.Pagination{PageSize: 1})
	require.NoError(t, err)
	require.Len(t, page.Invoices, 1)
	assert.True(t, page.PageInfo.HasMore)

	_, err = f.svc.GetForTenant(ctx, 2, first.ID)
	assert.ErrorIs(t, err, invoicedomain.ErrInvoiceNotFound)

	doc, err := f.svc.RenderPDF(ctx, 1, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "inv-2026-27-00001.pdf", doc.Filename)
	assert.True(t, bytes.HasPrefix(doc.Content, []byte("%PDF")))
}

func TestFormatRate(t *testing.T) {
	assert.Equal(t, "9%", formatRate(900))
	assert.Equal(t, "12.5%", formatRate(1250))
	assert.Equal(t, "0.25%", formatRate(25))
}
