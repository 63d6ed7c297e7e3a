// Package domain contains the subscription model and its lifecycle rules.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	plandomain "github.com/smallbiznis/billsync/internal/plan/domain"
	"gorm.io/datatypes"
)

// SubscriptionStatus mirrors the gateway subscription lifecycle.
type SubscriptionStatus string

const (
	SubscriptionStatusCreated   SubscriptionStatus = "CREATED"
	SubscriptionStatusActive    SubscriptionStatus = "ACTIVE"
	SubscriptionStatusPending   SubscriptionStatus = "PENDING"
	SubscriptionStatusHalted    SubscriptionStatus = "HALTED"
	SubscriptionStatusCancelled SubscriptionStatus = "CANCELLED"
	SubscriptionStatusCompleted SubscriptionStatus = "COMPLETED"
)

// Subscription is one tenant-plan commitment. Amount is the cycle price snapshot in
// minor units and is never re-derived from the plan outside a charge.
type Subscription struct {
	ID                    snowflake.ID            `gorm:"primaryKey" json:"id"`
	TenantID              snowflake.ID            `gorm:"not null;index" json:"tenant_id"`
	PlanID                snowflake.ID            `gorm:"not null;index" json:"plan_id"`
	Status                SubscriptionStatus      `gorm:"type:text;not null;index" json:"status"`
	BillingCycle          plandomain.BillingCycle `gorm:"type:text;not null" json:"billing_cycle"`
	Currency              string                  `gorm:"type:text;not null" json:"currency"`
	Amount                int64                   `gorm:"not null" json:"amount"`
	GatewaySubscriptionID string                  `gorm:"type:text;not null;uniqueIndex" json:"gateway_subscription_id"`
	GatewayCustomerID     string                  `gorm:"type:text" json:"gateway_customer_id"`
	CurrentPeriodStart    *time.Time              `json:"current_period_start,omitempty"`
	CurrentPeriodEnd      *time.Time              `gorm:"index" json:"current_period_end,omitempty"`
	TrialStart            *time.Time              `json:"trial_start,omitempty"`
	TrialEnd              *time.Time              `json:"trial_end,omitempty"`
	CancelAtPeriodEnd     bool                    `gorm:"not null;default:false" json:"cancel_at_period_end"`
	CancelledAt           *time.Time              `json:"cancelled_at,omitempty"`
	EndedAt               *time.Time              `json:"ended_at,omitempty"`
	Metadata              datatypes.JSONMap       `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt             time.Time               `gorm:"not null" json:"created_at"`
	UpdatedAt             time.Time               `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }
