package service

import (
	"context"
	"errors"

	"github.com/smallbiznis/billsync/internal/clock"
	"github.com/smallbiznis/billsync/internal/config"
	gatewaydomain "github.com/smallbiznis/billsync/internal/gateway/domain"
	"github.com/smallbiznis/billsync/internal/idempotency"
	invoicedomain "github.com/smallbiznis/billsync/internal/invoice/domain"
	obsmetrics "github.com/smallbiznis/billsync/internal/observability/metrics"
	"github.com/smallbiznis/billsync/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/billsync/internal/payment/domain"
	plandomain "github.com/smallbiznis/billsync/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/billsync/internal/subscription/domain"
	tenantdomain "github.com/smallbiznis/billsync/internal/tenant/domain"
	webhookdomain "github.com/smallbiznis/billsync/internal/webhook/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB              *gorm.DB
	Log             *zap.Logger
	Cfg             config.Config
	Clock           clock.Clock
	Gateway         gatewaydomain.Client
	Store           idempotency.Store
	PlanRepo        plandomain.Repository
	TenantRepo      tenantdomain.Repository
	SubscriptionSvc subscriptiondomain.Service
	PaymentSvc      paymentdomain.Service
	InvoiceSvc      invoicedomain.Service
	ObsMetrics      *obsmetrics.Metrics `optional:"true"`
}

type Reconciler struct {
	db  *gorm.DB
	log *zap.Logger

	retryOnPersistenceFailure bool

	clock      clock.Clock
	gateway    gatewaydomain.Client
	store      idempotency.Store
	planRepo   plandomain.Repository
	tenantRepo tenantdomain.Repository
	subsvc     subscriptiondomain.Service
	paymentsvc paymentdomain.Service
	invoicesvc invoicedomain.Service
	obsMetrics *obsmetrics.Metrics

	handlers map[webhookdomain.EventKind]handlerFunc
}

func NewReconciler(p Params) webhookdomain.Reconciler {
	return newReconciler(p)
}

func newReconciler(p Params) *Reconciler {
	r := &Reconciler{
		db:  p.DB,
		log: p.Log.Named("webhook.reconciler"),

		retryOnPersistenceFailure: p.Cfg.Webhook.RetryOnPersistenceFailure,

		clock:      p.Clock,
		gateway:    p.Gateway,
		store:      p.Store,
		planRepo:   p.PlanRepo,
		tenantRepo: p.TenantRepo,
		subsvc:     p.SubscriptionSvc,
		paymentsvc: p.PaymentSvc,
		invoicesvc: p.InvoiceSvc,
		obsMetrics: p.ObsMetrics,
	}
	r.handlers = r.handlerMap()
	return r
}

func (r *Reconciler) Reconcile(ctx context.Context, body []byte, signature string) (result webhookdomain.Result, err error) {
	ctx, span := otel.Tracer("billsync/webhook").Start(ctx, "webhook.reconcile")
	defer func() {
		span.SetAttributes(
			attribute.String("webhook.event", result.Event),
			attribute.String("webhook.outcome", string(result.Outcome)),
		)
		tracing.End(span, err)
		r.obsMetrics.RecordWebhookEvent(ctx, result.Event, string(result.Outcome))
	}()

	if !r.gateway.VerifyWebhookSignature(body, signature) {
		r.log.Warn("webhook signature rejected", zap.Int("bytes", len(body)))
		return webhookdomain.Result{Event: "unknown", Outcome: webhookdomain.OutcomeInvalidSignature}, webhookdomain.ErrInvalidSignature
	}

	key := idempotency.Key(body)
	result = webhookdomain.Result{Event: "unknown", IdempotencyKey: key}
	log := r.log.With(zap.String("idempotency_key", key))

	if r.isProcessed(ctx, log, key) {
		log.Debug("webhook already processed")
		result.Outcome = webhookdomain.OutcomeDuplicate
		return result, nil
	}

	release, acquired, err := r.store.Acquire(ctx, key)
	switch {
	case err != nil:
		log.Warn("webhook lock unavailable, continuing without it", zap.Error(err))
	case !acquired:
		log.Info("webhook delivery already in flight")
		result.Outcome = webhookdomain.OutcomeDuplicate
		if r.retryOnPersistenceFailure {
			return result, webhookdomain.ErrRetryLater
		}
		return result, nil
	default:
		defer release()
		if r.isProcessed(ctx, log, key) {
			result.Outcome = webhookdomain.OutcomeDuplicate
			return result, nil
		}
	}

	event, err := r.gateway.ParseWebhook(body)
	if err != nil {
		log.Error("webhook payload rejected", zap.Error(err))
		r.markProcessed(ctx, log, key)
		result.Outcome = webhookdomain.OutcomeFailed
		return result, nil
	}

	kind := webhookdomain.ParseEventKind(event.Name)
	result.Event = kind.String()
	log = log.With(eventFields(event)...)

	if kind == webhookdomain.EventUnknown {
		log.Info("webhook event ignored", zap.String("event_name", event.Name))
		r.markProcessed(ctx, log, key)
		result.Outcome = webhookdomain.OutcomeIgnored
		return result, nil
	}

	var outcome webhookdomain.Outcome
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var handlerErr error
		outcome, handlerErr = r.handlers[kind](ctx, tx, event, log)
		return handlerErr
	})

	switch {
	case err == nil:
		r.markProcessed(ctx, log, key)
		result.Outcome = outcome
		log.Info("webhook processed", zap.String("outcome", string(outcome)))
		return result, nil
	case isDomainError(err):
		log.Error("webhook event could not be applied", zap.Error(err))
		r.markProcessed(ctx, log, key)
		result.Outcome = webhookdomain.OutcomeFailed
		return result, nil
	default:
		log.Error("webhook event rolled back", zap.Error(err), zap.Bool("will_retry", r.retryOnPersistenceFailure))
		result.Outcome = webhookdomain.OutcomeFailed
		if r.retryOnPersistenceFailure {
			return result, errors.Join(webhookdomain.ErrRetryLater, err)
		}
		return result, nil
	}
}

// isProcessed treats an unreachable store as not processed; row-level
// create-if-absent still prevents duplicate payments.
func (r *Reconciler) isProcessed(ctx context.Context, log *zap.Logger, key string) bool {
	processed, err := r.store.IsProcessed(ctx, key)
	if err != nil {
		log.Warn("idempotency lookup failed", zap.Error(err))
		return false
	}
	return processed
}

func (r *Reconciler) markProcessed(ctx context.Context, log *zap.Logger, key string) {
	if err := r.store.MarkProcessed(ctx, key); err != nil {
		log.Warn("failed to mark webhook processed", zap.Error(err))
	}
}

func eventFields(event *gatewaydomain.WebhookEvent) []zap.Field {
	fields := []zap.Field{zap.String("event", event.Name)}
	if event.Subscription != nil {
		fields = append(fields, zap.String("gateway_subscription_id", event.Subscription.ID))
	}
	if event.Payment != nil {
		fields = append(fields, zap.String("gateway_payment_id", event.Payment.ID))
	}
	return fields
}

// isDomainError reports failures that a redelivery cannot fix.
func isDomainError(err error) bool {
	for _, target := range []error{
		gatewaydomain.ErrInvalidPayload,
		subscriptiondomain.ErrInvalidTransition,
		subscriptiondomain.ErrInvalidPeriod,
		subscriptiondomain.ErrInvalidAmount,
		subscriptiondomain.ErrInvalidCurrency,
		paymentdomain.ErrInvalidStatusTransition,
		paymentdomain.ErrInvalidAmount,
		paymentdomain.ErrInvalidCurrency,
		paymentdomain.ErrInvalidGatewayPaymentID,
		invoicedomain.ErrInvalidStatusTransition,
		invoicedomain.ErrInvalidLineItem,
		invoicedomain.ErrInvalidCurrency,
		invoicedomain.ErrInvalidTenant,
		tenantdomain.ErrTenantNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
