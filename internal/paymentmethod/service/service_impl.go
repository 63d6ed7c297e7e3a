package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billsync/internal/clock"
	pmdomain "github.com/smallbiznis/billsync/internal/paymentmethod/domain"
	tenantdomain "github.com/smallbiznis/billsync/internal/tenant/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       pmdomain.Repository
	TenantRepo tenantdomain.Repository
	TenantSvc  tenantdomain.Service
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID      *snowflake.Node
	clock      clock.Clock
	repo       pmdomain.Repository
	tenantRepo tenantdomain.Repository
	tenantsvc  tenantdomain.Service
}

func NewService(p ServiceParam) pmdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("paymentmethod.service"),

		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		tenantRepo: p.TenantRepo,
		tenantsvc:  p.TenantSvc,
	}
}

func (s *Service) Add(ctx context.Context, req pmdomain.AddRequest) (*pmdomain.PaymentMethod, error) {
	methodType, err := pmdomain.ParseMethodType(req.Type)
	if err != nil {
		return nil, err
	}
	if _, err := s.tenantsvc.AuthorizeOwner(ctx, req.TenantID, req.UserID); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	method := &pmdomain.PaymentMethod{
		ID:        s.genID.Generate(),
		TenantID:  req.TenantID,
		Type:      methodType,
		IsDefault: req.IsDefault,
		Details:   datatypes.NewJSONType(req.Details.Masked()),
		ExpiresAt: req.ExpiresAt,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if token := strings.TrimSpace(req.GatewayTokenID); token != "" {
		method.GatewayTokenID = &token
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if method.IsDefault {
			if err := s.lockTenant(ctx, tx, req.TenantID); err != nil {
				return err
			}
			if err := s.repo.ClearDefault(ctx, tx, req.TenantID, now); err != nil {
				return err
			}
		}
		return s.repo.Insert(ctx, tx, method)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("payment method added",
		zap.String("tenant_id", req.TenantID.String()),
		zap.String("payment_method_id", method.ID.String()),
		zap.String("type", string(method.Type)),
		zap.Bool("is_default", method.IsDefault),
	)
	return method, nil
}

// SetDefault clears every default of the tenant and sets id, all under the tenant row lock.
func (s *Service) SetDefault(ctx context.Context, tenantID snowflake.ID, userID string, id snowflake.ID) (*pmdomain.PaymentMethod, error) {
	if _, err := s.tenantsvc.AuthorizeOwner(ctx, tenantID, userID); err != nil {
		return nil, err
	}

	var method *pmdomain.PaymentMethod
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.lockTenant(ctx, tx, tenantID); err != nil {
			return err
		}
		found, err := s.repo.FindByID(ctx, tx, tenantID, id)
		if err != nil {
			return err
		}
		if found == nil {
			return pmdomain.ErrPaymentMethodNotFound
		}

		now := s.clock.Now()
		if err := s.repo.ClearDefault(ctx, tx, tenantID, now); err != nil {
			return err
		}
		if err := s.repo.MarkDefault(ctx, tx, tenantID, id, now); err != nil {
			return err
		}
		found.IsDefault = true
		found.UpdatedAt = now
		method = found
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("default payment method changed",
		zap.String("tenant_id", tenantID.String()),
		zap.String("payment_method_id", id.String()),
	)
	return method, nil
}

func (s *Service) Remove(ctx context.Context, tenantID snowflake.ID, userID string, id snowflake.ID) error {
	if _, err := s.tenantsvc.AuthorizeOwner(ctx, tenantID, userID); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, s.db, tenantID, id); err != nil {
		return err
	}
	s.log.Info("payment method removed",
		zap.String("tenant_id", tenantID.String()),
		zap.String("payment_method_id", id.String()),
	)
	return nil
}

func (s *Service) List(ctx context.Context, tenantID snowflake.ID) ([]pmdomain.PaymentMethod, error) {
	return s.repo.List(ctx, s.db, tenantID)
}

func (s *Service) lockTenant(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID) error {
	tenant, err := s.tenantRepo.FindByIDForUpdate(ctx, tx, tenantID)
	if err != nil {
		return err
	}
	if tenant == nil {
		return tenantdomain.ErrTenantNotFound
	}
	return nil
}
