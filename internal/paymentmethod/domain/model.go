// Package domain models stored payment instruments. Only gateway tokens and masked
// display fields are kept; raw card or bank data never reaches this package.
package domain

import (
	"strings"
	"time"
	"unicode"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type MethodType string

const (
	MethodTypeCard       MethodType = "card"
	MethodTypeUPI        MethodType = "upi"
	MethodTypeNetbanking MethodType = "netbanking"
	MethodTypeWallet     MethodType = "wallet"
	MethodTypeEmandate   MethodType = "emandate"
)

func ParseMethodType(value string) (MethodType, error) {
	switch t := MethodType(strings.ToLower(strings.TrimSpace(value))); t {
	case MethodTypeCard, MethodTypeUPI, MethodTypeNetbanking, MethodTypeWallet, MethodTypeEmandate:
		return t, nil
	default:
		return "", ErrInvalidMethodType
	}
}

// Details holds display-only fields.
type Details struct {
	Brand    string `json:"brand,omitempty"`
	Network  string `json:"network,omitempty"`
	Last4    string `json:"last4,omitempty"`
	ExpMonth int    `json:"exp_month,omitempty"`
	ExpYear  int    `json:"exp_year,omitempty"`
	VPA      string `json:"vpa,omitempty"`
	Bank     string `json:"bank,omitempty"`
	Wallet   string `json:"wallet,omitempty"`
}

// Masked reduces any identifying value to its display form.
func (d Details) Masked() Details {
	out := Details{
		Brand:    strings.TrimSpace(d.Brand),
		Network:  strings.TrimSpace(d.Network),
		Last4:    lastDigits(d.Last4, 4),
		ExpMonth: d.ExpMonth,
		ExpYear:  d.ExpYear,
		VPA:      maskVPA(d.VPA),
		Bank:     strings.TrimSpace(d.Bank),
		Wallet:   strings.TrimSpace(d.Wallet),
	}
	if out.ExpMonth < 1 || out.ExpMonth > 12 {
		out.ExpMonth = 0
	}
	if out.ExpYear < 0 {
		out.ExpYear = 0
	}
	return out
}

func lastDigits(value string, n int) string {
	var digits []rune
	for _, r := range value {
		if unicode.IsDigit(r) {
			digits = append(digits, r)
		}
	}
	if len(digits) > n {
		digits = digits[len(digits)-n:]
	}
	return string(digits)
}

// maskVPA keeps the first two characters of the handle, e.g. "ab****@okbank".
func maskVPA(vpa string) string {
	vpa = strings.TrimSpace(vpa)
	if vpa == "" {
		return ""
	}
	handle, provider, found := strings.Cut(vpa, "@")
	if !found {
		provider = ""
	}
	keep := 2
	if len([]rune(handle)) <= keep {
		keep = 1
	}
	masked := string([]rune(handle)[:keep]) + "****"
	if provider != "" {
		masked += "@" + provider
	}
	return masked
}

type PaymentMethod struct {
	ID             snowflake.ID                `gorm:"primaryKey" json:"id"`
	TenantID       snowflake.ID                `gorm:"not null;index" json:"tenant_id"`
	GatewayTokenID *string                     `gorm:"type:text" json:"-"`
	Type           MethodType                  `gorm:"type:text;not null" json:"type"`
	IsDefault      bool                        `gorm:"not null;default:false" json:"is_default"`
	Details        datatypes.JSONType[Details] `gorm:"type:jsonb" json:"details"`
	ExpiresAt      *time.Time                  `json:"expires_at,omitempty"`
	CreatedAt      time.Time                   `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time                   `gorm:"not null" json:"updated_at"`
}

func (PaymentMethod) TableName() string { return "payment_methods" }
