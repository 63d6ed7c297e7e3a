package service

import (
	"context"
	"errors"
	"fmt"

	gatewaydomain "github.com/smallbiznis/billsync/internal/gateway/domain"
	invoicedomain "github.com/smallbiznis/billsync/internal/invoice/domain"
	paymentdomain "github.com/smallbiznis/billsync/internal/payment/domain"
	subscriptiondomain "github.com/smallbiznis/billsync/internal/subscription/domain"
	webhookdomain "github.com/smallbiznis/billsync/internal/webhook/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type handlerFunc func(ctx context.Context, tx *gorm.DB, event *gatewaydomain.WebhookEvent, log *zap.Logger) (webhookdomain.Outcome, error)

type subscriptionMutation func(ctx context.Context, tx *gorm.DB, subscription *subscriptiondomain.Subscription) error

func (r *Reconciler) handlerMap() map[webhookdomain.EventKind]handlerFunc {
	return map[webhookdomain.EventKind]handlerFunc{
		webhookdomain.EventSubscriptionActivated: r.onSubscription(r.activate),
		webhookdomain.EventSubscriptionCharged:   r.handleCharged,
		webhookdomain.EventSubscriptionCancelled: r.onSubscription(r.subsvc.MarkCancelled),
		webhookdomain.EventSubscriptionHalted:    r.onSubscription(r.subsvc.MarkHalted),
		webhookdomain.EventSubscriptionCompleted: r.onSubscription(r.subsvc.MarkCompleted),
		webhookdomain.EventSubscriptionResumed:   r.onSubscription(r.subsvc.Activate),
		webhookdomain.EventSubscriptionPending:   r.onSubscription(r.subsvc.MarkPending),
		webhookdomain.EventPaymentCaptured:       r.onPayment(r.capture),
		webhookdomain.EventPaymentFailed:         r.onPayment(r.fail),
	}
}

// lockSubscription returns nil when the gateway subscription is not known locally.
func (r *Reconciler) lockSubscription(ctx context.Context, tx *gorm.DB, event *gatewaydomain.WebhookEvent) (*subscriptiondomain.Subscription, error) {
	if event.Subscription == nil || event.Subscription.ID == "" {
		return nil, fmt.Errorf("%w: missing subscription entity", gatewaydomain.ErrInvalidPayload)
	}
	subscription, err := r.subsvc.LockByGatewayID(ctx, tx, event.Subscription.ID)
	if errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound) {
		return nil, nil
	}
	return subscription, err
}

func (r *Reconciler) onSubscription(mutate subscriptionMutation) handlerFunc {
	return func(ctx context.Context, tx *gorm.DB, event *gatewaydomain.WebhookEvent, log *zap.Logger) (webhookdomain.Outcome, error) {
		subscription, err := r.lockSubscription(ctx, tx, event)
		if err != nil {
			return webhookdomain.OutcomeFailed, err
		}
		if subscription == nil {
			log.Warn("subscription not found locally")
			return webhookdomain.OutcomeIgnored, nil
		}
		if err := mutate(ctx, tx, subscription); err != nil {
			return webhookdomain.OutcomeFailed, err
		}
		if event.Subscription != nil {
			start, end := event.Subscription.CurrentStart, event.Subscription.CurrentEnd
			if subscription.Status == subscriptiondomain.SubscriptionStatusActive && (start != nil || end != nil) {
				if err := r.subsvc.RefreshPeriod(ctx, tx, subscription, start, end); err != nil {
					return webhookdomain.OutcomeFailed, err
				}
			}
		}
		return webhookdomain.OutcomeProcessed, nil
	}
}

// activate falls back to now for a missing period start.
func (r *Reconciler) activate(ctx context.Context, tx *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	if err := r.subsvc.Activate(ctx, tx, subscription); err != nil {
		return err
	}
	if subscription.CurrentPeriodStart == nil {
		now := r.clock.Now()
		return r.subsvc.RefreshPeriod(ctx, tx, subscription, &now, nil)
	}
	return nil
}

func (r *Reconciler) handleCharged(ctx context.Context, tx *gorm.DB, event *gatewaydomain.WebhookEvent, log *zap.Logger) (webhookdomain.Outcome, error) {
	subscription, err := r.lockSubscription(ctx, tx, event)
	if err != nil {
		return webhookdomain.OutcomeFailed, err
	}
	if subscription == nil {
		log.Warn("subscription not found locally")
		return webhookdomain.OutcomeIgnored, nil
	}

	if err := r.activate(ctx, tx, subscription); err != nil {
		return webhookdomain.OutcomeFailed, err
	}
	if err := r.subsvc.RefreshPeriod(ctx, tx, subscription, event.Subscription.CurrentStart, event.Subscription.CurrentEnd); err != nil {
		return webhookdomain.OutcomeFailed, err
	}

	plan, err := r.planRepo.FindByID(ctx, tx, subscription.PlanID)
	if err != nil {
		return webhookdomain.OutcomeFailed, err
	}
	if plan != nil {
		if price, ok := plan.Price(subscription.Currency, subscription.BillingCycle); ok {
			if err := r.subsvc.ApplyCharge(ctx, tx, subscription, price); err != nil {
				return webhookdomain.OutcomeFailed, err
			}
		}
	}

	if event.Payment == nil || event.Payment.ID == "" {
		log.Info("charge event without payment entity")
		return webhookdomain.OutcomeProcessed, nil
	}

	payment, created, err := r.recordChargePayment(ctx, tx, subscription, event.Payment)
	if err != nil {
		return webhookdomain.OutcomeFailed, err
	}
	if payment.InvoiceID != nil {
		log.Info("charge already settled an invoice",
			zap.String("invoice_id", payment.InvoiceID.String()),
		)
		return webhookdomain.OutcomeProcessed, nil
	}

	invoice, err := r.invoicesvc.LatestIssuedForSubscription(ctx, tx, subscription.ID)
	switch {
	case errors.Is(err, invoicedomain.ErrInvoiceNotFound):
		if !created {
			return webhookdomain.OutcomeProcessed, nil
		}
		planName := ""
		if plan != nil {
			planName = plan.Name
		}
		invoice, err = r.issueForCharge(ctx, tx, subscription, planName, payment.GatewayPaymentID)
		if err != nil {
			return webhookdomain.OutcomeFailed, err
		}
	case err != nil:
		return webhookdomain.OutcomeFailed, err
	}

	if err := r.invoicesvc.MarkAsPaid(ctx, tx, invoice); err != nil {
		return webhookdomain.OutcomeFailed, err
	}
	if err := r.paymentsvc.AttachInvoice(ctx, tx, payment, invoice.ID); err != nil {
		return webhookdomain.OutcomeFailed, err
	}
	log.Info("charge reconciled",
		zap.String("invoice_number", invoice.InvoiceNumber),
		zap.Bool("payment_created", created),
	)
	return webhookdomain.OutcomeProcessed, nil
}

// recordChargePayment creates the captured payment, or captures a row another
// observer created first without touching its amount.
func (r *Reconciler) recordChargePayment(ctx context.Context, tx *gorm.DB, subscription *subscriptiondomain.Subscription, entity *gatewaydomain.PaymentEntity) (*paymentdomain.Payment, bool, error) {
	currency := entity.Currency
	if currency == "" {
		currency = subscription.Currency
	}
	subscriptionID := subscription.ID
	payment, created, err := r.paymentsvc.CreateIfAbsent(ctx, tx, entity.ID, paymentdomain.CreateAttrs{
		TenantID:       subscription.TenantID,
		SubscriptionID: &subscriptionID,
		GatewayOrderID: entity.OrderID,
		Status:         paymentdomain.PaymentStatusCaptured,
		Amount:         entity.Amount,
		Currency:       currency,
		Method:         entity.Method,
		Fee:            entity.Fee,
		TaxOnFee:       entity.Tax,
		Metadata:       map[string]any{"source": "webhook"},
	})
	if err != nil || created {
		return payment, created, err
	}

	locked, err := r.paymentsvc.LockByGatewayID(ctx, tx, entity.ID)
	if err != nil {
		return nil, false, err
	}
	switch locked.Status {
	case paymentdomain.PaymentStatusCreated, paymentdomain.PaymentStatusAuthorized, paymentdomain.PaymentStatusFailed:
		if err := r.paymentsvc.MarkCaptured(ctx, tx, locked, entity.Fee, entity.Tax); err != nil {
			return nil, false, err
		}
	}
	return locked, false, nil
}

func (r *Reconciler) issueForCharge(ctx context.Context, tx *gorm.DB, subscription *subscriptiondomain.Subscription, planName, gatewayPaymentID string) (*invoicedomain.Invoice, error) {
	tenant, err := r.tenantRepo.FindByID(ctx, tx, subscription.TenantID)
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		return nil, fmt.Errorf("%w: tenant %s", invoicedomain.ErrInvalidTenant, subscription.TenantID)
	}
	return r.invoicesvc.Issue(ctx, tx, invoicedomain.SubscriptionCharge{
		TenantID:         subscription.TenantID,
		SubscriptionID:   subscription.ID,
		PlanName:         planName,
		BillingCycle:     string(subscription.BillingCycle),
		Currency:         subscription.Currency,
		Amount:           subscription.Amount,
		PeriodStart:      subscription.CurrentPeriodStart,
		PeriodEnd:        subscription.CurrentPeriodEnd,
		BillingAddress:   tenant.BillingAddress.Data(),
		GatewayPaymentID: gatewayPaymentID,
	}.IssueRequest())
}

type paymentMutation func(ctx context.Context, tx *gorm.DB, payment *paymentdomain.Payment, entity *gatewaydomain.PaymentEntity) error

func (r *Reconciler) onPayment(mutate paymentMutation) handlerFunc {
	return func(ctx context.Context, tx *gorm.DB, event *gatewaydomain.WebhookEvent, log *zap.Logger) (webhookdomain.Outcome, error) {
		if event.Payment == nil || event.Payment.ID == "" {
			return webhookdomain.OutcomeFailed, fmt.Errorf("%w: missing payment entity", gatewaydomain.ErrInvalidPayload)
		}
		payment, err := r.paymentsvc.LockByGatewayID(ctx, tx, event.Payment.ID)
		if errors.Is(err, paymentdomain.ErrPaymentNotFound) {
			log.Warn("payment not found locally")
			return webhookdomain.OutcomeIgnored, nil
		}
		if err != nil {
			return webhookdomain.OutcomeFailed, err
		}
		if err := mutate(ctx, tx, payment, event.Payment); err != nil {
			return webhookdomain.OutcomeFailed, err
		}
		return webhookdomain.OutcomeProcessed, nil
	}
}

func (r *Reconciler) capture(ctx context.Context, tx *gorm.DB, payment *paymentdomain.Payment, entity *gatewaydomain.PaymentEntity) error {
	return r.paymentsvc.MarkCaptured(ctx, tx, payment, entity.Fee, entity.Tax)
}

func (r *Reconciler) fail(ctx context.Context, tx *gorm.DB, payment *paymentdomain.Payment, entity *gatewaydomain.PaymentEntity) error {
	return r.paymentsvc.MarkFailed(ctx, tx, payment, entity.ErrorCode, entity.ErrorDescription)
}
