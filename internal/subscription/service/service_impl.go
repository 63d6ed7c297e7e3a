package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billsync/internal/clock"
	plandomain "github.com/smallbiznis/billsync/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/billsync/internal/subscription/domain"
	tenantdomain "github.com/smallbiznis/billsync/internal/tenant/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID     *snowflake.Node
	clock     clock.Clock
	repo      subscriptiondomain.Repository
	planRepo  plandomain.Repository
	tenantsvc tenantdomain.Service
}

type ServiceParam struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Repo      subscriptiondomain.Repository
	PlanRepo  plandomain.Repository
	TenantSvc tenantdomain.Service
}

func NewService(p ServiceParam) subscriptiondomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("subscription.service"),

		genID:     p.GenID,
		clock:     p.Clock,
		repo:      p.Repo,
		planRepo:  p.PlanRepo,
		tenantsvc: p.TenantSvc,
	}
}

func (s *Service) Create(ctx context.Context, req subscriptiondomain.CreateRequest) (*subscriptiondomain.Subscription, error) {
	if req.TenantID == 0 || req.PlanID == 0 {
		return nil, subscriptiondomain.ErrInvalidPlan
	}
	if req.BillingCycle != plandomain.BillingCycleMonthly && req.BillingCycle != plandomain.BillingCycleYearly {
		return nil, plandomain.ErrInvalidBillingCycle
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if len(currency) != 3 {
		return nil, subscriptiondomain.ErrInvalidCurrency
	}
	if req.Amount < 0 {
		return nil, subscriptiondomain.ErrInvalidAmount
	}
	gatewayID := strings.TrimSpace(req.GatewaySubscriptionID)
	if gatewayID == "" {
		return nil, subscriptiondomain.ErrInvalidGatewayID
	}

	now := s.clock.Now()
	subscription := &subscriptiondomain.Subscription{
		ID:                    s.genID.Generate(),
		TenantID:              req.TenantID,
		PlanID:                req.PlanID,
		Status:                subscriptiondomain.SubscriptionStatusCreated,
		BillingCycle:          req.BillingCycle,
		Currency:              currency,
		Amount:                req.Amount,
		GatewaySubscriptionID: gatewayID,
		GatewayCustomerID:     strings.TrimSpace(req.GatewayCustomerID),
		Metadata:              datatypes.JSONMap(req.Metadata),
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if req.TrialDays > 0 {
		trialEnd := now.AddDate(0, 0, req.TrialDays)
		subscription.TrialStart = &now
		subscription.TrialEnd = &trialEnd
	}

	if err := s.repo.Insert(ctx, s.db, subscription); err != nil {
		return nil, err
	}

	s.log.Info("subscription created",
		zap.String("subscription_id", subscription.ID.String()),
		zap.String("tenant_id", subscription.TenantID.String()),
		zap.String("gateway_subscription_id", subscription.GatewaySubscriptionID),
		zap.Int64("amount", subscription.Amount),
		zap.String("currency", subscription.Currency),
	)
	return subscription, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	subscription, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if subscription == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	return subscription, nil
}

func (s *Service) ListForTenant(ctx context.Context, tenantID snowflake.ID) ([]subscriptiondomain.Subscription, error) {
	return s.repo.ListForTenant(ctx, s.db, tenantID)
}

func (s *Service) CurrentForTenant(ctx context.Context, tenantID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	subscription, err := s.repo.FindCurrentForTenant(ctx, s.db, tenantID, false)
	if err != nil {
		return nil, err
	}
	if subscription == nil {
		return nil, subscriptiondomain.ErrNoActiveSubscription
	}
	return subscription, nil
}

func (s *Service) LockByID(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	subscription, err := s.repo.FindByIDForUpdate(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if subscription == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	return subscription, nil
}

func (s *Service) LockByGatewayID(ctx context.Context, tx *gorm.DB, gatewaySubscriptionID string) (*subscriptiondomain.Subscription, error) {
	gatewaySubscriptionID = strings.TrimSpace(gatewaySubscriptionID)
	if gatewaySubscriptionID == "" {
		return nil, subscriptiondomain.ErrInvalidGatewayID
	}
	subscription, err := s.repo.FindByGatewayIDForUpdate(ctx, tx, gatewaySubscriptionID)
	if err != nil {
		return nil, err
	}
	if subscription == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	return subscription, nil
}

func (s *Service) Activate(ctx context.Context, tx *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	return s.apply(ctx, tx, subscription, "activate", func(now time.Time) (bool, error) {
		return subscription.Activate(now)
	})
}

func (s *Service) Cancel(ctx context.Context, tx *gorm.DB, subscription *subscriptiondomain.Subscription, atPeriodEnd bool) error {
	return s.apply(ctx, tx, subscription, "cancel", func(now time.Time) (bool, error) {
		return true, subscription.Cancel(atPeriodEnd, now)
	})
}

func (s *Service) Reactivate(ctx context.Context, tx *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	return s.apply(ctx, tx, subscription, "reactivate", func(now time.Time) (bool, error) {
		return true, subscription.Reactivate(now)
	})
}

// ChangePlan repoints plan_id only. Amount and period follow on the next charge.
func (s *Service) ChangePlan(ctx context.Context, tx *gorm.DB, subscription *subscriptiondomain.Subscription, planID snowflake.ID) error {
	if subscription.IsTerminal() || subscription.Status == subscriptiondomain.SubscriptionStatusCreated {
		return &subscriptiondomain.InvalidStateTransitionError{
			From:   subscription.Status,
			To:     subscription.Status,
			Reason: "plan can only change on a running subscription",
		}
	}
	if subscription.PlanID == planID {
		return nil
	}

	plan, err := s.planRepo.FindByID(ctx, tx, planID)
	if err != nil {
		return err
	}
	if plan == nil {
		return plandomain.ErrPlanNotFound
	}
	if !plan.Active {
		return plandomain.ErrPlanInactive
	}
	if _, ok := plan.Price(subscription.Currency, subscription.BillingCycle); !ok {
		return plandomain.ErrPriceUnavailable
	}

	previous := subscription.PlanID
	return s.apply(ctx, tx, subscription, "change_plan", func(now time.Time) (bool, error) {
		subscription.PlanID = plan.ID
		subscription.UpdatedAt = now
		s.log.Info("subscription plan changed",
			zap.String("subscription_id", subscription.ID.String()),
			zap.String("from_plan_id", previous.String()),
			zap.String("to_plan_id", plan.ID.String()),
		)
		return true, nil
	})
}

func (s *Service) MarkPending(ctx context.Context, tx *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	return s.mark(ctx, tx, subscription, subscriptiondomain.SubscriptionStatusPending)
}

func (s *Service) MarkHalted(ctx context.Context, tx *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	return s.mark(ctx, tx, subscription, subscriptiondomain.SubscriptionStatusHalted)
}

func (s *Service) MarkCompleted(ctx context.Context, tx *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	return s.mark(ctx, tx, subscription, subscriptiondomain.SubscriptionStatusCompleted)
}

func (s *Service) MarkCancelled(ctx context.Context, tx *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	return s.mark(ctx, tx, subscription, subscriptiondomain.SubscriptionStatusCancelled)
}

func (s *Service) RefreshPeriod(ctx context.Context, tx *gorm.DB, subscription *subscriptiondomain.Subscription, start, end *time.Time) error {
	if start == nil && end == nil {
		return nil
	}
	return s.apply(ctx, tx, subscription, "refresh_period", func(now time.Time) (bool, error) {
		if err := subscription.SetPeriod(start, end, now); err != nil {
			return false, err
		}
		return true, nil
	})
}

func (s *Service) ApplyCharge(ctx context.Context, tx *gorm.DB, subscription *subscriptiondomain.Subscription, amount int64) error {
	if amount < 0 {
		return subscriptiondomain.ErrInvalidAmount
	}
	if subscription.Amount == amount {
		return nil
	}
	return s.apply(ctx, tx, subscription, "apply_charge", func(now time.Time) (bool, error) {
		subscription.Amount = amount
		subscription.UpdatedAt = now
		return true, nil
	})
}

func (s *Service) CancelForTenant(ctx context.Context, req subscriptiondomain.TenantActionRequest) (*subscriptiondomain.Subscription, error) {
	return s.forTenant(ctx, req, false, func(tx *gorm.DB, subscription *subscriptiondomain.Subscription) error {
		return s.Cancel(ctx, tx, subscription, req.AtPeriodEnd)
	})
}

func (s *Service) ReactivateForTenant(ctx context.Context, req subscriptiondomain.TenantActionRequest) (*subscriptiondomain.Subscription, error) {
	return s.forTenant(ctx, req, true, func(tx *gorm.DB, subscription *subscriptiondomain.Subscription) error {
		return s.Reactivate(ctx, tx, subscription)
	})
}

func (s *Service) ChangePlanForTenant(ctx context.Context, req subscriptiondomain.TenantActionRequest) (*subscriptiondomain.Subscription, error) {
	if req.PlanID == 0 {
		return nil, subscriptiondomain.ErrInvalidPlan
	}
	return s.forTenant(ctx, req, false, func(tx *gorm.DB, subscription *subscriptiondomain.Subscription) error {
		return s.ChangePlan(ctx, tx, subscription, req.PlanID)
	})
}

// ExpireDeferredCancellations ends deferred cancellations whose period is over.
// Each row is re-locked and re-checked in its own transaction.
func (s *Service) ExpireDeferredCancellations(ctx context.Context, limit int) (int, error) {
	due, err := s.repo.ListDeferredCancellationsDue(ctx, s.db, s.clock.Now(), limit)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, candidate := range due {
		var changed bool
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			subscription, err := s.LockByID(ctx, tx, candidate.ID)
			if err != nil {
				return err
			}
			return s.apply(ctx, tx, subscription, "expire_deferred_cancellation", func(now time.Time) (bool, error) {
				ok, err := subscription.ExpireDeferredCancellation(now)
				changed = ok
				return ok, err
			})
		})
		if err != nil {
			return expired, err
		}
		if changed {
			expired++
		}
	}
	return expired, nil
}

// forTenant locks the tenant's current subscription and applies fn. With
// includeEnded it falls back to the newest ended row, so the lifecycle
// rejects the action instead of reporting no subscription.
func (s *Service) forTenant(
	ctx context.Context,
	req subscriptiondomain.TenantActionRequest,
	includeEnded bool,
	fn func(tx *gorm.DB, subscription *subscriptiondomain.Subscription) error,
) (*subscriptiondomain.Subscription, error) {
	if _, err := s.tenantsvc.AuthorizeOwner(ctx, req.TenantID, req.UserID); err != nil {
		return nil, err
	}

	var result *subscriptiondomain.Subscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		subscription, err := s.repo.FindCurrentForTenant(ctx, tx, req.TenantID, true)
		if err != nil {
			return err
		}
		if subscription == nil && includeEnded {
			subscription, err = s.repo.FindLatestForTenant(ctx, tx, req.TenantID, true)
			if err != nil {
				return err
			}
		}
		if subscription == nil {
			return subscriptiondomain.ErrNoActiveSubscription
		}
		if err := fn(tx, subscription); err != nil {
			return err
		}
		result = subscription
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) mark(ctx context.Context, tx *gorm.DB, subscription *subscriptiondomain.Subscription, target subscriptiondomain.SubscriptionStatus) error {
	return s.apply(ctx, tx, subscription, "mark_"+strings.ToLower(string(target)), func(now time.Time) (bool, error) {
		return subscription.MarkStatus(target, now)
	})
}

// apply runs a lifecycle mutation against a row already locked in tx and persists it when changed.
func (s *Service) apply(
	ctx context.Context,
	tx *gorm.DB,
	subscription *subscriptiondomain.Subscription,
	action string,
	mutate func(now time.Time) (bool, error),
) error {
	from := subscription.Status
	changed, err := mutate(s.clock.Now())
	if err != nil {
		s.log.Warn("subscription transition rejected",
			zap.String("action", action),
			zap.String("subscription_id", subscription.ID.String()),
			zap.String("status", string(from)),
			zap.Error(err),
		)
		return err
	}
	if !changed {
		return nil
	}

	if err := s.repo.Update(ctx, tx, subscription); err != nil {
		return err
	}

	s.log.Info("subscription updated",
		zap.String("action", action),
		zap.String("subscription_id", subscription.ID.String()),
		zap.String("tenant_id", subscription.TenantID.String()),
		zap.String("from_status", string(from)),
		zap.String("to_status", string(subscription.Status)),
		zap.Bool("cancel_at_period_end", subscription.CancelAtPeriodEnd),
	)
	return nil
}
