package service

import (
	"context"
	"errors"
	"testing"

	"github.com/smallbiznis/billsync/internal/billingtest"
	checkoutdomain "github.com/smallbiznis/billsync/internal/checkout/domain"
	gatewaydomain "github.com/smallbiznis/billsync/internal/gateway/domain"
	"github.com/smallbiznis/billsync/internal/gateway/gatewaytest"
	invoicedomain "github.com/smallbiznis/billsync/internal/invoice/domain"
	paymentdomain "github.com/smallbiznis/billsync/internal/payment/domain"
	plandomain "github.com/smallbiznis/billsync/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/billsync/internal/subscription/domain"
	tenantdomain "github.com/smallbiznis/billsync/internal/tenant/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newTestService(t *testing.T) (*billingtest.Stack, checkoutdomain.Service, *observer.ObservedLogs) {
	t.Helper()
	s := billingtest.New(t)
	core, logs := observer.New(zap.InfoLevel)
	svc := NewService(ServiceParam{
		DB:              s.DB,
		Log:             zap.New(core),
		Clock:           s.Clock,
		Gateway:         s.Gateway,
		PlanSvc:         s.Plans,
		PlanRepo:        s.PlanRepo,
		TenantSvc:       s.Tenants,
		TenantRepo:      s.TenantRepo,
		SubscriptionSvc: s.Subscriptions,
		PaymentSvc:      s.Payments,
		InvoiceSvc:      s.Invoices,
	})
	return s, svc, logs
}

func TestInitiateCreatesLocalSubscription(t *testing.T) {
	s, svc, _ := newTestService(t)
	ctx := context.Background()

	resp, err := svc.Initiate(ctx, checkoutdomain.InitiateRequest{
		TenantID: s.Tenant.ID, UserID: billingtest.OwnerUserID, PlanCode: "basic", BillingCycle: "monthly",
	})
	require.NoError(t, err)
	assert.Equal(t, gatewaytest.KeyID, resp.GatewayKeyID)
	assert.Equal(t, "Basic", resp.PlanName)
	assert.Equal(t, int64(99900), resp.AmountInMinorUnits)
	assert.Equal(t, "INR", resp.Currency)

	sub := s.Reload(t, resp.SubscriptionID)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusCreated, sub.Status)
	assert.Equal(t, resp.GatewaySubscriptionID, sub.GatewaySubscriptionID)
	assert.Equal(t, int64(99900), sub.Amount)

	s.Gateway.AssertNumberOfCalls(t, "CreateSubscription", 1)
	s.Gateway.AssertCalled(t, "CreateSubscription", mock.Anything, mock.MatchedBy(func(req gatewaydomain.SubscriptionRequest) bool {
		return req.PlanID == "plan_basic_m" && req.TotalCount == 120
	}))

	// The stored customer is reused.
	_, err = svc.Initiate(ctx, checkoutdomain.InitiateRequest{
		TenantID: s.Tenant.ID, UserID: billingtest.OwnerUserID, PlanCode: "pro", BillingCycle: "monthly",
	})
	require.NoError(t, err)
	s.Gateway.AssertNumberOfCalls(t, "CreateCustomer", 1)
}

func TestInitiateRejections(t *testing.T) {
	s, svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Initiate(ctx, checkoutdomain.InitiateRequest{TenantID: s.Tenant.ID, UserID: "member", PlanCode: "basic", BillingCycle: "monthly"})
	assert.ErrorIs(t, err, tenantdomain.ErrForbidden)

	_, err = svc.Initiate(ctx, checkoutdomain.InitiateRequest{TenantID: s.Tenant.ID, UserID: billingtest.OwnerUserID, PlanCode: "pro", BillingCycle: "yearly"})
	assert.ErrorIs(t, err, plandomain.ErrPriceUnavailable)

	s.Gateway.FailSubscriptions(gatewaydomain.ErrUnknownOutcome)
	_, err = svc.Initiate(ctx, checkoutdomain.InitiateRequest{TenantID: s.Tenant.ID, UserID: billingtest.OwnerUserID, PlanCode: "basic", BillingCycle: "monthly"})
	assert.ErrorIs(t, err, gatewaydomain.ErrUnknownOutcome)

	subs, err := s.Subscriptions.ListForTenant(ctx, s.Tenant.ID)
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestInitiateLogsOrphanedGatewaySubscription(t *testing.T) {
	s, svc, logs := newTestService(t)
	ctx := context.Background()
	s.ActiveSubscription(t, "sub_test_2")

	// The fake hands out sub_test_2 next, which collides with the existing row.
	_, err := svc.Initiate(ctx, checkoutdomain.InitiateRequest{
		TenantID: s.Tenant.ID, UserID: billingtest.OwnerUserID, PlanCode: "basic", BillingCycle: "monthly",
	})
	require.Error(t, err)
	assert.Equal(t, 1, logs.FilterMessage("checkout.orphaned_gateway_subscription").Len())
}

func initiate(t *testing.T, s *billingtest.Stack, svc checkoutdomain.Service, planCode string) *checkoutdomain.InitiateResponse {
	t.Helper()
	resp, err := svc.Initiate(context.Background(), checkoutdomain.InitiateRequest{
		TenantID: s.Tenant.ID, UserID: billingtest.OwnerUserID, PlanCode: planCode, BillingCycle: "monthly",
	})
	require.NoError(t, err)
	return resp
}

func TestVerifyActivatesAndRecordsPaymentOnce(t *testing.T) {
	s, svc, _ := newTestService(t)
	ctx := context.Background()
	resp := initiate(t, s, svc, "basic")

	req := checkoutdomain.VerifyRequest{
		TenantID:              s.Tenant.ID,
		GatewaySubscriptionID: resp.GatewaySubscriptionID,
		GatewayPaymentID:      "pay_first",
		Signature:             gatewaytest.PaymentSignature(resp.GatewaySubscriptionID, "pay_first"),
	}
	out, err := svc.Verify(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, out.Subscription.Status)
	assert.Equal(t, s.Basic.ID, out.Plan.ID)
	require.NotNil(t, out.Subscription.CurrentPeriodEnd)

	tenant, err := s.Tenants.GetByID(ctx, s.Tenant.ID)
	require.NoError(t, err)
	require.NotNil(t, tenant.PlanID)
	assert.Equal(t, s.Basic.ID, *tenant.PlanID)

	payment, err := s.Payments.GetByGatewayID(ctx, "pay_first")
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.PaymentStatusCaptured, payment.Status)
	// 999.00 plus 18% GST split as CGST and SGST.
	assert.Equal(t, int64(117882), payment.Amount)
	require.NotNil(t, payment.InvoiceID)

	invoice, err := s.Invoices.GetForTenant(ctx, s.Tenant.ID, *payment.InvoiceID)
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusPaid, invoice.Status)
	assert.Equal(t, "INV/2026-27/00001", invoice.InvoiceNumber)

	// A repeated verify is harmless.
	_, err = svc.Verify(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.CountPayments(t))
	assert.Equal(t, int64(1), s.CountInvoices(t))
}

func TestVerifyDuringTrialRecordsAuthorizationOnly(t *testing.T) {
	s, svc, _ := newTestService(t)
	ctx := context.Background()
	resp := initiate(t, s, svc, "trial")

	_, err := svc.Verify(ctx, checkoutdomain.VerifyRequest{
		GatewaySubscriptionID: resp.GatewaySubscriptionID,
		GatewayPaymentID:      "pay_auth",
		Signature:             gatewaytest.PaymentSignature(resp.GatewaySubscriptionID, "pay_auth"),
	})
	require.NoError(t, err)

	payment, err := s.Payments.GetByGatewayID(ctx, "pay_auth")
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.PaymentStatusAuthorized, payment.Status)
	assert.Equal(t, int64(0), s.CountInvoices(t))
}

func TestVerifyRejectsBadSignature(t *testing.T) {
	s, svc, _ := newTestService(t)
	ctx := context.Background()
	resp := initiate(t, s, svc, "basic")

	_, err := svc.Verify(ctx, checkoutdomain.VerifyRequest{
		GatewaySubscriptionID: resp.GatewaySubscriptionID,
		GatewayPaymentID:      "pay_x",
		Signature:             gatewaytest.PaymentSignature("sub_other", "pay_x"),
	})
	assert.ErrorIs(t, err, checkoutdomain.ErrInvalidSignature)

	sub := s.Reload(t, resp.SubscriptionID)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusCreated, sub.Status)
	assert.Equal(t, int64(0), s.CountPayments(t))
}

func TestVerifyUnknownSubscription(t *testing.T) {
	_, svc, _ := newTestService(t)
	_, err := svc.Verify(context.Background(), checkoutdomain.VerifyRequest{
		GatewaySubscriptionID: "sub_missing",
		GatewayPaymentID:      "pay_x",
		Signature:             gatewaytest.PaymentSignature("sub_missing", "pay_x"),
	})
	assert.True(t, errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound))
}
