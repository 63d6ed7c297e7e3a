package service

import (
	"context"
	"regexp"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billsync/internal/clock"
	tenantdomain "github.com/smallbiznis/billsync/internal/tenant/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var gstinPattern = regexp.MustCompile(`^[0-9]{2}[A-Z]{5}[0-9]{4}[A-Z][0-9A-Z]Z[0-9A-Z]$`)

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	repo  tenantdomain.Repository
}

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Repo  tenantdomain.Repository
}

func NewService(p ServiceParam) tenantdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("tenant.service"),
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (*tenantdomain.Tenant, error) {
	tenant, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		return nil, tenantdomain.ErrTenantNotFound
	}
	return tenant, nil
}

func (s *Service) AuthorizeOwner(ctx context.Context, tenantID snowflake.ID, userID string) (*tenantdomain.Tenant, error) {
	tenant, err := s.GetByID(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if !tenant.IsOwner(userID) {
		s.log.Warn("billing action rejected for non-owner",
			zap.String("tenant_id", tenantID.String()),
			zap.String("user_id", strings.TrimSpace(userID)),
		)
		return nil, tenantdomain.ErrForbidden
	}
	return tenant, nil
}

func (s *Service) SetPlan(ctx context.Context, tx *gorm.DB, tenantID, planID snowflake.ID) error {
	return s.repo.UpdatePlan(ctx, tx, tenantID, planID, s.clock.Now())
}

func (s *Service) SetGatewayCustomer(ctx context.Context, tenantID snowflake.ID, customerID string) error {
	return s.repo.UpdateGatewayCustomer(ctx, s.db, tenantID, strings.TrimSpace(customerID), s.clock.Now())
}

func (s *Service) UpdateBillingAddress(ctx context.Context, tenantID snowflake.ID, userID string, address tenantdomain.BillingAddress) (*tenantdomain.Tenant, error) {
	if _, err := s.AuthorizeOwner(ctx, tenantID, userID); err != nil {
		return nil, err
	}

	address = address.Normalize()
	if address.State == "" {
		return nil, tenantdomain.ErrInvalidAddress
	}
	if address.GSTIN != "" && !gstinPattern.MatchString(address.GSTIN) {
		return nil, tenantdomain.ErrInvalidAddress
	}

	if err := s.repo.UpdateBillingAddress(ctx, s.db, tenantID, address, s.clock.Now()); err != nil {
		return nil, err
	}
	return s.GetByID(ctx, tenantID)
}
