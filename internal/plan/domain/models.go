// Package domain contains the read-only plan catalog model.
package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type BillingCycle string

const (
	BillingCycleMonthly BillingCycle = "monthly"
	BillingCycleYearly  BillingCycle = "yearly"
)

func ParseBillingCycle(value string) (BillingCycle, error) {
	switch BillingCycle(strings.ToLower(strings.TrimSpace(value))) {
	case BillingCycleMonthly:
		return BillingCycleMonthly, nil
	case BillingCycleYearly:
		return BillingCycleYearly, nil
	default:
		return "", ErrInvalidBillingCycle
	}
}

// Plan is a catalog entry. Prices are tax-exclusive minor units per currency and cycle.
type Plan struct {
	ID                 snowflake.ID      `gorm:"primaryKey" json:"id"`
	Code               string            `gorm:"type:text;not null;uniqueIndex" json:"code"`
	Name               string            `gorm:"type:text;not null" json:"name"`
	Description        string            `gorm:"type:text" json:"description,omitempty"`
	PriceINRMonthly    *int64            `gorm:"column:price_inr_monthly" json:"price_inr_monthly,omitempty"`
	PriceINRYearly     *int64            `gorm:"column:price_inr_yearly" json:"price_inr_yearly,omitempty"`
	PriceUSDMonthly    *int64            `gorm:"column:price_usd_monthly" json:"price_usd_monthly,omitempty"`
	PriceUSDYearly     *int64            `gorm:"column:price_usd_yearly" json:"price_usd_yearly,omitempty"`
	TrialDays          int               `gorm:"not null;default:0" json:"trial_days"`
	GatewayPlanMonthly *string           `gorm:"column:gateway_plan_monthly;type:text" json:"-"`
	GatewayPlanYearly  *string           `gorm:"column:gateway_plan_yearly;type:text" json:"-"`
	Active             bool              `gorm:"not null;default:true" json:"active"`
	Features           datatypes.JSONMap `gorm:"type:jsonb" json:"features,omitempty"`
	CreatedAt          time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt          time.Time         `gorm:"not null" json:"updated_at"`
}

func (Plan) TableName() string { return "plans" }

// Price resolves price_<currency>_<cycle>.
func (p Plan) Price(currency string, cycle BillingCycle) (int64, bool) {
	var price *int64
	switch strings.ToUpper(strings.TrimSpace(currency)) + "_" + string(cycle) {
	case "INR_monthly":
		price = p.PriceINRMonthly
	case "INR_yearly":
		price = p.PriceINRYearly
	case "USD_monthly":
		price = p.PriceUSDMonthly
	case "USD_yearly":
		price = p.PriceUSDYearly
	}
	if price == nil || *price < 0 {
		return 0, false
	}
	return *price, true
}

func (p Plan) GatewayPlanID(cycle BillingCycle) (string, bool) {
	var id *string
	switch cycle {
	case BillingCycleMonthly:
		id = p.GatewayPlanMonthly
	case BillingCycleYearly:
		id = p.GatewayPlanYearly
	}
	if id == nil || strings.TrimSpace(*id) == "" {
		return "", false
	}
	return strings.TrimSpace(*id), true
}

// TotalCount is the number of billing cycles requested from the gateway for an open-ended plan.
func (c BillingCycle) TotalCount() int {
	if c == BillingCycleYearly {
		return 10
	}
	return 120
}

// PeriodEnd returns the end of the billing period that starts at start.
func (c BillingCycle) PeriodEnd(start time.Time) time.Time {
	if c == BillingCycleYearly {
		return start.AddDate(1, 0, 0)
	}
	return start.AddDate(0, 1, 0)
}
