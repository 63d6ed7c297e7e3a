package service

import (
	"context"
	"errors"
	"strings"

	checkoutdomain "github.com/smallbiznis/billsync/internal/checkout/domain"
	"github.com/smallbiznis/billsync/internal/clock"
	gatewaydomain "github.com/smallbiznis/billsync/internal/gateway/domain"
	invoicedomain "github.com/smallbiznis/billsync/internal/invoice/domain"
	obsmetrics "github.com/smallbiznis/billsync/internal/observability/metrics"
	"github.com/smallbiznis/billsync/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/billsync/internal/payment/domain"
	plandomain "github.com/smallbiznis/billsync/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/billsync/internal/subscription/domain"
	tenantdomain "github.com/smallbiznis/billsync/internal/tenant/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultCurrency = "INR"

type ServiceParam struct {
	fx.In

	DB              *gorm.DB
	Log             *zap.Logger
	Clock           clock.Clock
	Gateway         gatewaydomain.Client
	PlanSvc         plandomain.Service
	PlanRepo        plandomain.Repository
	TenantSvc       tenantdomain.Service
	TenantRepo      tenantdomain.Repository
	SubscriptionSvc subscriptiondomain.Service
	PaymentSvc      paymentdomain.Service
	InvoiceSvc      invoicedomain.Service
	ObsMetrics      *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	clock      clock.Clock
	gateway    gatewaydomain.Client
	plansvc    plandomain.Service
	planRepo   plandomain.Repository
	tenantsvc  tenantdomain.Service
	tenantRepo tenantdomain.Repository
	subsvc     subscriptiondomain.Service
	paymentsvc paymentdomain.Service
	invoicesvc invoicedomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p ServiceParam) checkoutdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("checkout.service"),

		clock:      p.Clock,
		gateway:    p.Gateway,
		plansvc:    p.PlanSvc,
		planRepo:   p.PlanRepo,
		tenantsvc:  p.TenantSvc,
		tenantRepo: p.TenantRepo,
		subsvc:     p.SubscriptionSvc,
		paymentsvc: p.PaymentSvc,
		invoicesvc: p.InvoiceSvc,
		obsMetrics: p.ObsMetrics,
	}
}

// Initiate makes every gateway call before the single local write.
func (s *Service) Initiate(ctx context.Context, req checkoutdomain.InitiateRequest) (resp *checkoutdomain.InitiateResponse, err error) {
	ctx, span := otel.Tracer("billsync/checkout").Start(ctx, "checkout.initiate")
	defer func() {
		tracing.End(span, err)
		s.obsMetrics.RecordCheckout(ctx, "initiate", outcome(err))
	}()

	tenant, err := s.tenantsvc.AuthorizeOwner(ctx, req.TenantID, req.UserID)
	if err != nil {
		return nil, err
	}
	plan, err := s.loadPlan(ctx, req)
	if err != nil {
		return nil, err
	}
	cycle, err := plandomain.ParseBillingCycle(req.BillingCycle)
	if err != nil {
		return nil, err
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = defaultCurrency
	}
	amount, ok := plan.Price(currency, cycle)
	if !ok {
		return nil, plandomain.ErrPriceUnavailable
	}
	gatewayPlanID, ok := plan.GatewayPlanID(cycle)
	if !ok {
		return nil, checkoutdomain.ErrGatewayPlanMissing
	}
	span.SetAttributes(
		attribute.String("tenant_id", tenant.ID.String()),
		attribute.String("plan_code", plan.Code),
		attribute.String("billing_cycle", string(cycle)),
	)

	customerID, err := s.ensureCustomer(ctx, tenant)
	if err != nil {
		return nil, err
	}

	gatewaySub, err := s.gateway.CreateSubscription(ctx, gatewaydomain.SubscriptionRequest{
		CustomerID: customerID,
		PlanID:     gatewayPlanID,
		TotalCount: cycle.TotalCount(),
		TrialDays:  plan.TrialDays,
		Notes: map[string]string{
			"tenant_id": tenant.ID.String(),
			"plan_code": plan.Code,
		},
	})
	if err != nil {
		s.log.Warn("gateway subscription create failed",
			zap.String("tenant_id", tenant.ID.String()),
			zap.String("plan_code", plan.Code),
			zap.Error(err),
		)
		return nil, err
	}

	subscription, err := s.subsvc.Create(ctx, subscriptiondomain.CreateRequest{
		TenantID:              tenant.ID,
		PlanID:                plan.ID,
		BillingCycle:          cycle,
		Currency:              currency,
		Amount:                amount,
		GatewaySubscriptionID: gatewaySub.ID,
		GatewayCustomerID:     customerID,
		TrialDays:             plan.TrialDays,
	})
	if err != nil {
		s.log.Error("checkout.orphaned_gateway_subscription",
			zap.String("tenant_id", tenant.ID.String()),
			zap.String("plan_id", plan.ID.String()),
			zap.String("gateway_subscription_id", gatewaySub.ID),
			zap.String("gateway_customer_id", customerID),
			zap.Error(err),
		)
		return nil, err
	}

	return &checkoutdomain.InitiateResponse{
		SubscriptionID:        subscription.ID,
		GatewaySubscriptionID: subscription.GatewaySubscriptionID,
		GatewayKeyID:          s.gateway.KeyID(),
		PlanName:              plan.Name,
		AmountInMinorUnits:    amount,
		Currency:              currency,
	}, nil
}

func (s *Service) loadPlan(ctx context.Context, req checkoutdomain.InitiateRequest) (*plandomain.Plan, error) {
	var (
		plan *plandomain.Plan
		err  error
	)
	switch {
	case req.PlanID != 0:
		plan, err = s.plansvc.GetByID(ctx, req.PlanID)
	case strings.TrimSpace(req.PlanCode) != "":
		plan, err = s.plansvc.GetByCode(ctx, req.PlanCode)
	default:
		return nil, checkoutdomain.ErrInvalidCheckout
	}
	if err != nil {
		return nil, err
	}
	if !plan.Active {
		return nil, plandomain.ErrPlanInactive
	}
	return plan, nil
}

// ensureCustomer reuses the tenant's gateway customer or creates one.
func (s *Service) ensureCustomer(ctx context.Context, tenant *tenantdomain.Tenant) (string, error) {
	if tenant.GatewayCustomerID != nil && strings.TrimSpace(*tenant.GatewayCustomerID) != "" {
		return strings.TrimSpace(*tenant.GatewayCustomerID), nil
	}

	customerID, err := s.gateway.CreateCustomer(ctx, gatewaydomain.CustomerRequest{
		Name:  tenant.Name,
		Email: tenant.Email,
		Notes: map[string]string{"tenant_id": tenant.ID.String()},
	})
	if err != nil {
		return "", err
	}
	if err := s.tenantsvc.SetGatewayCustomer(ctx, tenant.ID, customerID); err != nil {
		// The gateway deduplicates customers, so a later checkout recovers.
		s.log.Warn("failed to store gateway customer",
			zap.String("tenant_id", tenant.ID.String()),
			zap.String("gateway_customer_id", customerID),
			zap.Error(err),
		)
	}
	return customerID, nil
}

func (s *Service) Verify(ctx context.Context, req checkoutdomain.VerifyRequest) (resp *checkoutdomain.VerifyResponse, err error) {
	ctx, span := otel.Tracer("billsync/checkout").Start(ctx, "checkout.verify")
	defer func() {
		tracing.End(span, err)
		s.obsMetrics.RecordCheckout(ctx, "verify", outcome(err))
	}()

	gatewaySubID := strings.TrimSpace(req.GatewaySubscriptionID)
	gatewayPaymentID := strings.TrimSpace(req.GatewayPaymentID)
	if gatewaySubID == "" || gatewayPaymentID == "" {
		return nil, checkoutdomain.ErrInvalidCheckout
	}
	if !s.gateway.VerifyPaymentSignature(gatewaySubID, gatewayPaymentID, req.Signature) {
		s.log.Warn("checkout signature rejected",
			zap.String("gateway_subscription_id", gatewaySubID),
			zap.String("gateway_payment_id", gatewayPaymentID),
		)
		return nil, checkoutdomain.ErrInvalidSignature
	}

	var (
		subscription *subscriptiondomain.Subscription
		plan         *plandomain.Plan
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.subsvc.LockByGatewayID(ctx, tx, gatewaySubID)
		if err != nil {
			return err
		}
		if req.TenantID != 0 && sub.TenantID != req.TenantID {
			return subscriptiondomain.ErrSubscriptionNotFound
		}
		tenant, err := s.tenantRepo.FindByIDForUpdate(ctx, tx, sub.TenantID)
		if err != nil {
			return err
		}
		if tenant == nil {
			return tenantdomain.ErrTenantNotFound
		}
		p, err := s.planRepo.FindByID(ctx, tx, sub.PlanID)
		if err != nil {
			return err
		}
		if p == nil {
			return plandomain.ErrPlanNotFound
		}

		if err := s.subsvc.Activate(ctx, tx, sub); err != nil {
			return err
		}
		now := s.clock.Now()
		if sub.CurrentPeriodStart == nil {
			end := sub.BillingCycle.PeriodEnd(now)
			if err := s.subsvc.RefreshPeriod(ctx, tx, sub, &now, &end); err != nil {
				return err
			}
		}
		if err := s.tenantsvc.SetPlan(ctx, tx, sub.TenantID, sub.PlanID); err != nil {
			return err
		}
		if err := s.recordFirstPayment(ctx, tx, sub, tenant, p, gatewayPaymentID); err != nil {
			return err
		}

		subscription, plan = sub, p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("checkout verified",
		zap.String("subscription_id", subscription.ID.String()),
		zap.String("tenant_id", subscription.TenantID.String()),
		zap.String("gateway_subscription_id", gatewaySubID),
		zap.String("gateway_payment_id", gatewayPaymentID),
	)
	return &checkoutdomain.VerifyResponse{Subscription: subscription, Plan: plan}, nil
}

// recordFirstPayment stores the checkout payment once. During a trial the payment
// is only an authorization, so no invoice is issued until the first charge.
func (s *Service) recordFirstPayment(ctx context.Context, tx *gorm.DB, sub *subscriptiondomain.Subscription, tenant *tenantdomain.Tenant, plan *plandomain.Plan, gatewayPaymentID string) error {
	existing, err := s.paymentsvc.LockByGatewayID(ctx, tx, gatewayPaymentID)
	switch {
	case err == nil && existing != nil:
		return nil
	case err != nil && !errors.Is(err, paymentdomain.ErrPaymentNotFound):
		return err
	}

	subscriptionID := sub.ID
	attrs := paymentdomain.CreateAttrs{
		TenantID:       sub.TenantID,
		SubscriptionID: &subscriptionID,
		Currency:       sub.Currency,
		Metadata:       map[string]any{"source": "checkout"},
	}

	now := s.clock.Now()
	if sub.TrialEnd != nil && sub.TrialEnd.After(now) {
		attrs.Status = paymentdomain.PaymentStatusAuthorized
		_, created, err := s.paymentsvc.CreateIfAbsent(ctx, tx, gatewayPaymentID, attrs)
		if err == nil && !created {
			err = checkoutdomain.ErrPaymentAlreadyTaken
		}
		return err
	}

	invoice, err := s.invoicesvc.Issue(ctx, tx, invoicedomain.SubscriptionCharge{
		TenantID:         sub.TenantID,
		SubscriptionID:   sub.ID,
		PlanName:         plan.Name,
		BillingCycle:     string(sub.BillingCycle),
		Currency:         sub.Currency,
		Amount:           sub.Amount,
		PeriodStart:      sub.CurrentPeriodStart,
		PeriodEnd:        sub.CurrentPeriodEnd,
		BillingAddress:   tenant.BillingAddress.Data(),
		GatewayPaymentID: gatewayPaymentID,
	}.IssueRequest())
	if err != nil {
		return err
	}
	if err := s.invoicesvc.MarkAsPaid(ctx, tx, invoice); err != nil {
		return err
	}

	invoiceID := invoice.ID
	attrs.Status = paymentdomain.PaymentStatusCaptured
	attrs.Amount = invoice.Total
	attrs.InvoiceID = &invoiceID
	_, created, err := s.paymentsvc.CreateIfAbsent(ctx, tx, gatewayPaymentID, attrs)
	if err != nil {
		return err
	}
	if !created {
		// Someone recorded the payment without holding the subscription lock; roll back the invoice.
		return checkoutdomain.ErrPaymentAlreadyTaken
	}
	return nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, checkoutdomain.ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, gatewaydomain.ErrUnknownOutcome):
		return "gateway_unknown"
	case errors.Is(err, gatewaydomain.ErrRejected):
		return "gateway_rejected"
	default:
		return "failed"
	}
}
