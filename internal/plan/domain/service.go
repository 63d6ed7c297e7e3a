package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrPlanNotFound        = errors.New("plan_not_found")
	ErrPlanInactive        = errors.New("plan_inactive")
	ErrPriceUnavailable    = errors.New("price_unavailable")
	ErrInvalidBillingCycle = errors.New("invalid_billing_cycle")
)

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Plan, error)
	FindByCode(ctx context.Context, db *gorm.DB, code string) (*Plan, error)
	ListActive(ctx context.Context, db *gorm.DB) ([]Plan, error)
}

type Service interface {
	GetByID(ctx context.Context, id snowflake.ID) (*Plan, error)
	GetByCode(ctx context.Context, code string) (*Plan, error)
	ListActive(ctx context.Context) ([]Plan, error)
}
