package domain

import (
	"strings"

	"github.com/smallbiznis/billsync/internal/money"
)

type GSTType string

const (
	GSTTypeIntraState GSTType = "intra"
	GSTTypeInterState GSTType = "inter"
	GSTTypeNone       GSTType = "none"
)

// GSTRates are the configured GST rates in basis points.
type GSTRates struct {
	CGST money.BasisPoints
	SGST money.BasisPoints
	IGST money.BasisPoints
}

// GSTDetails is the tax breakdown snapshot stored on an invoice.
type GSTDetails struct {
	Type          GSTType `json:"type"`
	CGST          int64   `json:"cgst"`
	SGST          int64   `json:"sgst"`
	IGST          int64   `json:"igst"`
	TotalGST      int64   `json:"total_gst"`
	CGSTRateBps   int64   `json:"cgst_rate_bps"`
	SGSTRateBps   int64   `json:"sgst_rate_bps"`
	IGSTRateBps   int64   `json:"igst_rate_bps"`
	CustomerState string  `json:"customer_state,omitempty"`
	BusinessState string  `json:"business_state,omitempty"`
	GSTIN         string  `json:"gstin,omitempty"`
}

// CalculateGst splits tax on subtotal. Matching states (case-insensitive) are charged
// CGST and SGST, anything else IGST on the full subtotal.
func CalculateGst(subtotal int64, customerState, businessState string, rates GSTRates, gstin string) GSTDetails {
	customerState = strings.TrimSpace(customerState)
	businessState = strings.TrimSpace(businessState)

	details := GSTDetails{
		CustomerState: customerState,
		BusinessState: businessState,
		GSTIN:         strings.ToUpper(strings.TrimSpace(gstin)),
	}

	if customerState != "" && strings.EqualFold(customerState, businessState) {
		details.Type = GSTTypeIntraState
		details.CGSTRateBps = int64(rates.CGST)
		details.SGSTRateBps = int64(rates.SGST)
		details.CGST = money.ApplyRate(subtotal, rates.CGST)
		details.SGST = money.ApplyRate(subtotal, rates.SGST)
	} else {
		details.Type = GSTTypeInterState
		details.IGSTRateBps = int64(rates.IGST)
		details.IGST = money.ApplyRate(subtotal, rates.IGST)
	}

	details.TotalGST = details.CGST + details.SGST + details.IGST
	return details
}
