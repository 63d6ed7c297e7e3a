// Package domain holds the billing view of a tenant account.
package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// BillingAddress is snapshotted onto invoices; State drives the GST split.
type BillingAddress struct {
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
	GSTIN      string `json:"gstin,omitempty"`
}

func (a BillingAddress) Normalize() BillingAddress {
	return BillingAddress{
		Line1:      strings.TrimSpace(a.Line1),
		Line2:      strings.TrimSpace(a.Line2),
		City:       strings.TrimSpace(a.City),
		State:      strings.TrimSpace(a.State),
		PostalCode: strings.TrimSpace(a.PostalCode),
		Country:    strings.ToUpper(strings.TrimSpace(a.Country)),
		GSTIN:      strings.ToUpper(strings.TrimSpace(a.GSTIN)),
	}
}

type Tenant struct {
	ID                snowflake.ID                       `gorm:"primaryKey" json:"id"`
	Name              string                             `gorm:"type:text;not null" json:"name"`
	Email             string                             `gorm:"type:text" json:"email,omitempty"`
	OwnerUserID       string                             `gorm:"type:text;not null;index" json:"owner_user_id"`
	PlanID            *snowflake.ID                      `gorm:"index" json:"plan_id,omitempty"`
	GatewayCustomerID *string                            `gorm:"type:text" json:"gateway_customer_id,omitempty"`
	BillingAddress    datatypes.JSONType[BillingAddress] `gorm:"type:jsonb" json:"billing_address"`
	CreatedAt         time.Time                          `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time                          `gorm:"not null" json:"updated_at"`
}

func (Tenant) TableName() string { return "tenants" }

func (t Tenant) IsOwner(userID string) bool {
	userID = strings.TrimSpace(userID)
	return userID != "" && userID == strings.TrimSpace(t.OwnerUserID)
}
