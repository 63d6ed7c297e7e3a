// Package billingtest wires the billing services over an in-memory database for tests.
package billingtest

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billsync/internal/clock"
	"github.com/smallbiznis/billsync/internal/config"
	"github.com/smallbiznis/billsync/internal/gateway/gatewaytest"
	invoicedomain "github.com/smallbiznis/billsync/internal/invoice/domain"
	invoicerepository "github.com/smallbiznis/billsync/internal/invoice/repository"
	invoiceservice "github.com/smallbiznis/billsync/internal/invoice/service"
	paymentdomain "github.com/smallbiznis/billsync/internal/payment/domain"
	paymentrepository "github.com/smallbiznis/billsync/internal/payment/repository"
	paymentservice "github.com/smallbiznis/billsync/internal/payment/service"
	pmdomain "github.com/smallbiznis/billsync/internal/paymentmethod/domain"
	plandomain "github.com/smallbiznis/billsync/internal/plan/domain"
	planrepository "github.com/smallbiznis/billsync/internal/plan/repository"
	planservice "github.com/smallbiznis/billsync/internal/plan/service"
	"github.com/smallbiznis/billsync/internal/providers/pdf"
	subscriptiondomain "github.com/smallbiznis/billsync/internal/subscription/domain"
	subscriptionrepository "github.com/smallbiznis/billsync/internal/subscription/repository"
	subscriptionservice "github.com/smallbiznis/billsync/internal/subscription/service"
	tenantdomain "github.com/smallbiznis/billsync/internal/tenant/domain"
	tenantrepository "github.com/smallbiznis/billsync/internal/tenant/repository"
	tenantservice "github.com/smallbiznis/billsync/internal/tenant/service"
	"github.com/smallbiznis/billsync/pkg/db/dbtest"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const OwnerUserID = "owner"

// Now is the initial fake clock time, inside fiscal year 2026-27.
var Now = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

// Models lists every table the billing services touch.
func Models() []any {
	return []any{
		&plandomain.Plan{},
		&tenantdomain.Tenant{},
		&subscriptiondomain.Subscription{},
		&paymentdomain.Payment{},
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceSequence{},
		&pmdomain.PaymentMethod{},
	}
}

type Stack struct {
	DB      *gorm.DB
	Clock   *clock.FakeClock
	Node    *snowflake.Node
	Gateway *gatewaytest.Fake
	Billing *config.BillingConfigHolder

	Tenant *tenantdomain.Tenant
	Basic  *plandomain.Plan
	Pro    *plandomain.Plan
	Trial  *plandomain.Plan

	PlanRepo         plandomain.Repository
	TenantRepo       tenantdomain.Repository
	Plans            plandomain.Service
	Tenants          tenantdomain.Service
	Subscriptions    subscriptiondomain.Service
	Payments         paymentdomain.Service
	Invoices         invoicedomain.Service
	SubscriptionRepo subscriptiondomain.Repository
}

func New(t testing.TB) *Stack {
	t.Helper()
	return NewWithDB(t, dbtest.New(t, Models()...))
}

// NewWithDB builds the stack over db, which must already carry the Models tables.
func NewWithDB(t testing.TB, db *gorm.DB) *Stack {
	t.Helper()
	log := zap.NewNop()
	clk := clock.NewFakeClock(Now)
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}

	s := &Stack{
		DB:      db,
		Clock:   clk,
		Node:    node,
		Gateway: gatewaytest.New(),
		Billing: config.NewStaticBillingConfigHolder(config.DefaultBillingConfig()),

		PlanRepo:         planrepository.Provide(),
		TenantRepo:       tenantrepository.Provide(),
		SubscriptionRepo: subscriptionrepository.Provide(),
	}
	s.seed(t)

	s.Plans = planservice.NewService(planservice.ServiceParam{DB: db, Log: log, Repo: s.PlanRepo})
	s.Tenants = tenantservice.NewService(tenantservice.ServiceParam{DB: db, Log: log, Clock: clk, Repo: s.TenantRepo})
	s.Subscriptions = subscriptionservice.NewService(subscriptionservice.ServiceParam{
		DB: db, Log: log, GenID: node, Clock: clk,
		Repo: s.SubscriptionRepo, PlanRepo: s.PlanRepo, TenantSvc: s.Tenants,
	})
	s.Payments = paymentservice.NewService(paymentservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Repo: paymentrepository.Provide(),
	})
	s.Invoices = invoiceservice.NewService(invoiceservice.ServiceParam{
		DB: db, Log: log, GenID: node, Clock: clk, Billing: s.Billing,
		Repo: invoicerepository.Provide(), TenantSvc: s.Tenants, PDF: pdf.New(),
	})
	return s
}

func ptr[T any](v T) *T { return &v }

func (s *Stack) seed(t testing.TB) {
	t.Helper()
	s.Tenant = &tenantdomain.Tenant{
		ID:          1,
		Name:        "Acme Traders",
		Email:       "billing@acme.test",
		OwnerUserID: OwnerUserID,
		BillingAddress: datatypes.NewJSONType(tenantdomain.BillingAddress{
			City: "Pune", State: "Maharashtra", Country: "IN",
		}),
		CreatedAt: Now,
		UpdatedAt: Now,
	}
	s.Basic = &plandomain.Plan{
		ID: 100, Code: "basic", Name: "Basic",
		PriceINRMonthly: ptr(int64(99900)), PriceINRYearly: ptr(int64(999000)),
		GatewayPlanMonthly: ptr("plan_basic_m"), GatewayPlanYearly: ptr("plan_basic_y"),
		Active: true, CreatedAt: Now, UpdatedAt: Now,
	}
	s.Pro = &plandomain.Plan{
		ID: 200, Code: "pro", Name: "Pro",
		PriceINRMonthly:    ptr(int64(249900)),
		GatewayPlanMonthly: ptr("plan_pro_m"),
		Active:             true, CreatedAt: Now, UpdatedAt: Now,
	}
	s.Trial = &plandomain.Plan{
		ID: 300, Code: "trial", Name: "Starter",
		PriceINRMonthly:    ptr(int64(49900)),
		GatewayPlanMonthly: ptr("plan_starter_m"),
		TrialDays:          14,
		Active:             true, CreatedAt: Now, UpdatedAt: Now,
	}
	for _, row := range []any{s.Tenant, s.Basic, s.Pro, s.Trial} {
		if err := s.DB.Create(row).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

// ActiveSubscription creates an ACTIVE monthly Basic subscription with the given gateway id.
func (s *Stack) ActiveSubscription(t testing.TB, gatewayID string) *subscriptiondomain.Subscription {
	t.Helper()
	ctx := context.Background()
	sub, err := s.Subscriptions.Create(ctx, subscriptiondomain.CreateRequest{
		TenantID:              s.Tenant.ID,
		PlanID:                s.Basic.ID,
		BillingCycle:          plandomain.BillingCycleMonthly,
		Currency:              "INR",
		Amount:                99900,
		GatewaySubscriptionID: gatewayID,
		GatewayCustomerID:     "cust_test",
	})
	if err != nil {
		t.Fatalf("create subscription: %v", err)
	}
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		locked, err := s.Subscriptions.LockByID(ctx, tx, sub.ID)
		if err != nil {
			return err
		}
		if err := s.Subscriptions.Activate(ctx, tx, locked); err != nil {
			return err
		}
		start := s.Clock.Now()
		end := start.AddDate(0, 1, 0)
		if err := s.Subscriptions.RefreshPeriod(ctx, tx, locked, &start, &end); err != nil {
			return err
		}
		sub = locked
		return nil
	})
	if err != nil {
		t.Fatalf("activate subscription: %v", err)
	}
	return sub
}

// Reload reads the subscription outside any transaction.
func (s *Stack) Reload(t testing.TB, id snowflake.ID) *subscriptiondomain.Subscription {
	t.Helper()
	sub, err := s.Subscriptions.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("reload subscription: %v", err)
	}
	return sub
}

func (s *Stack) CountPayments(t testing.TB) int64 {
	t.Helper()
	var n int64
	if err := s.DB.Model(&paymentdomain.Payment{}).Count(&n).Error; err != nil {
		t.Fatalf("count payments: %v", err)
	}
	return n
}

func (s *Stack) CountInvoices(t testing.TB) int64 {
	t.Helper()
	var n int64
	if err := s.DB.Model(&invoicedomain.Invoice{}).Count(&n).Error; err != nil {
		t.Fatalf("count invoices: %v", err)
	}
	return n
}
