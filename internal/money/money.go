// Package money holds integer minor-unit arithmetic and display formatting.
// Amounts never pass through floating point.
package money

import (
	"strconv"
	"strings"
)

// BasisPoints is a rate in hundredths of a percent. 1800 is 18%.
type BasisPoints int64

// ApplyRate returns amount*rate rounded half-up to the nearest minor unit.
func ApplyRate(amount int64, rate BasisPoints) int64 {
	product := amount * int64(rate)
	if product < 0 {
		return -((-product + 5000) / 10000)
	}
	return (product + 5000) / 10000
}

// Decimals returns the minor-unit exponent for an ISO 4217 code.
func Decimals(currency string) int {
	switch strings.ToUpper(strings.TrimSpace(currency)) {
	case "JPY", "KRW", "VND":
		return 0
	default:
		return 2
	}
}

// Format renders minor units as a grouped major-unit string, e.g. 118000 INR -> "1,180.00".
// INR uses lakh/crore grouping.
func Format(amount int64, currency string) string {
	negative := amount < 0
	if negative {
		amount = -amount
	}

	decimals := Decimals(currency)
	divisor := int64(1)
	for i := 0; i < decimals; i++ {
		divisor *= 10
	}

	major := group(strconv.FormatInt(amount/divisor, 10), strings.EqualFold(strings.TrimSpace(currency), "INR"))
	out := major
	if decimals > 0 {
		minor := strconv.FormatInt(amount%divisor, 10)
		out += "." + strings.Repeat("0", decimals-len(minor)) + minor
	}
	if negative {
		return "-" + out
	}
	return out
}

// FormatWithCode renders "INR 1,180.00".
func FormatWithCode(amount int64, currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency)) + " " + Format(amount, currency)
}

func group(digits string, indian bool) string {
	if len(digits) <= 3 {
		return digits
	}

	head, tail := digits[:len(digits)-3], digits[len(digits)-3:]
	size := 3
	if indian {
		size = 2
	}

	var parts []string
	for len(head) > size {
		parts = append([]string{head[len(head)-size:]}, parts...)
		head = head[:len(head)-size]
	}
	parts = append([]string{head}, parts...)
	return strings.Join(append(parts, tail), ",")
}
