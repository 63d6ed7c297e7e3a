package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billsync/internal/clock"
	obsmetrics "github.com/smallbiznis/billsync/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/billsync/internal/payment/domain"
	"github.com/smallbiznis/billsync/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       paymentdomain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       paymentdomain.Repository
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) CreateIfAbsent(ctx context.Context, tx *gorm.DB, gatewayPaymentID string, attrs paymentdomain.CreateAttrs) (*paymentdomain.Payment, bool, error) {
	gatewayPaymentID = strings.TrimSpace(gatewayPaymentID)
	if gatewayPaymentID == "" {
		return nil, false, paymentdomain.ErrInvalidGatewayPaymentID
	}
	if attrs.Amount < 0 || attrs.Fee < 0 || attrs.TaxOnFee < 0 {
		return nil, false, paymentdomain.ErrInvalidAmount
	}
	currency := strings.ToUpper(strings.TrimSpace(attrs.Currency))
	if len(currency) != 3 {
		return nil, false, paymentdomain.ErrInvalidCurrency
	}
	status := attrs.Status
	if status == "" {
		status = paymentdomain.PaymentStatusCreated
	}

	now := s.clock.Now()
	payment := &paymentdomain.Payment{
		ID:               s.genID.Generate(),
		TenantID:         attrs.TenantID,
		SubscriptionID:   attrs.SubscriptionID,
		InvoiceID:        attrs.InvoiceID,
		GatewayPaymentID: gatewayPaymentID,
		Status:           status,
		Amount:           attrs.Amount,
		Currency:         currency,
		Method:           strings.TrimSpace(attrs.Method),
		Fee:              attrs.Fee,
		TaxOnFee:         attrs.TaxOnFee,
		Metadata:         datatypes.JSONMap(attrs.Metadata),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if orderID := strings.TrimSpace(attrs.GatewayOrderID); orderID != "" {
		payment.GatewayOrderID = &orderID
	}
	switch status {
	case paymentdomain.PaymentStatusCaptured:
		payment.CapturedAt = &now
	case paymentdomain.PaymentStatusFailed:
		payment.FailedAt = &now
	}

	inserted, err := s.repo.InsertIfAbsent(ctx, tx, payment)
	if err != nil {
		return nil, false, err
	}
	if !inserted {
		existing, err := s.repo.FindByGatewayIDForUpdate(ctx, tx, gatewayPaymentID)
		if err != nil {
			return nil, false, err
		}
		if existing == nil {
			return nil, false, paymentdomain.ErrPaymentNotFound
		}
		s.log.Debug("payment already recorded",
			zap.String("gateway_payment_id", gatewayPaymentID),
			zap.String("payment_id", existing.ID.String()),
		)
		return existing, false, nil
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordPayment(ctx, string(payment.Status))
	}
	s.log.Info("payment recorded",
		zap.String("payment_id", payment.ID.String()),
		zap.String("gateway_payment_id", gatewayPaymentID),
		zap.String("tenant_id", payment.TenantID.String()),
		zap.String("status", string(payment.Status)),
		zap.Int64("amount", payment.Amount),
	)
	return payment, true, nil
}

func (s *Service) LockByGatewayID(ctx context.Context, tx *gorm.DB, gatewayPaymentID string) (*paymentdomain.Payment, error) {
	gatewayPaymentID = strings.TrimSpace(gatewayPaymentID)
	if gatewayPaymentID == "" {
		return nil, paymentdomain.ErrInvalidGatewayPaymentID
	}
	payment, err := s.repo.FindByGatewayIDForUpdate(ctx, tx, gatewayPaymentID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, paymentdomain.ErrPaymentNotFound
	}
	return payment, nil
}

func (s *Service) GetByGatewayID(ctx context.Context, gatewayPaymentID string) (*paymentdomain.Payment, error) {
	payment, err := s.repo.FindByGatewayID(ctx, s.db, strings.TrimSpace(gatewayPaymentID))
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, paymentdomain.ErrPaymentNotFound
	}
	return payment, nil
}

func (s *Service) MarkCaptured(ctx context.Context, tx *gorm.DB, payment *paymentdomain.Payment, fee, taxOnFee int64) error {
	if err := payment.MarkCaptured(fee, taxOnFee, s.clock.Now()); err != nil {
		return err
	}
	return s.update(ctx, tx, payment)
}

func (s *Service) MarkFailed(ctx context.Context, tx *gorm.DB, payment *paymentdomain.Payment, code, description string) error {
	if err := payment.MarkFailed(strings.TrimSpace(code), strings.TrimSpace(description), s.clock.Now()); err != nil {
		return err
	}
	return s.update(ctx, tx, payment)
}

func (s *Service) MarkRefunded(ctx context.Context, tx *gorm.DB, payment *paymentdomain.Payment, amount int64) error {
	if err := payment.MarkRefunded(amount, s.clock.Now()); err != nil {
		return err
	}
	return s.update(ctx, tx, payment)
}

func (s *Service) AttachInvoice(ctx context.Context, tx *gorm.DB, payment *paymentdomain.Payment, invoiceID snowflake.ID) error {
	if payment.InvoiceID != nil && *payment.InvoiceID == invoiceID {
		return nil
	}
	payment.InvoiceID = &invoiceID
	payment.UpdatedAt = s.clock.Now()
	return s.repo.Update(ctx, tx, payment)
}

func (s *Service) ListForTenant(ctx context.Context, tenantID snowflake.ID, page pagination.Pagination) (paymentdomain.ListResponse, error) {
	items, err := s.repo.List(ctx, s.db, paymentdomain.ListFilter{TenantID: tenantID}, page)
	if err != nil {
		return paymentdomain.ListResponse{}, err
	}
	items, info := pagination.BuildCursorPageInfo(items, page.Limit(), func(p paymentdomain.Payment) string {
		return p.ID.String()
	})
	return paymentdomain.ListResponse{Payments: items, PageInfo: info}, nil
}

func (s *Service) update(ctx context.Context, tx *gorm.DB, payment *paymentdomain.Payment) error {
	if err := s.repo.Update(ctx, tx, payment); err != nil {
		return err
	}
	if s.obsMetrics != nil {
		s.obsMetrics.RecordPayment(ctx, string(payment.Status))
	}
	s.log.Info("payment status updated",
		zap.String("payment_id", payment.ID.String()),
		zap.String("gateway_payment_id", payment.GatewayPaymentID),
		zap.String("status", string(payment.Status)),
	)
	return nil
}
