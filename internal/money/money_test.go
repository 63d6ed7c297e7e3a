package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApplyRate(t *testing.T) {
	assert.Equal(t, int64(90), ApplyRate(1000, 900))
	assert.Equal(t, int64(180), ApplyRate(1000, 1800))
	// 0.5 rounds up.
	assert.Equal(t, int64(1), ApplyRate(5, 1000))
	assert.Equal(t, int64(0), ApplyRate(4, 1000))
	assert.Equal(t, int64(-1), ApplyRate(-5, 1000))
	assert.Equal(t, int64(0), ApplyRate(0, 1800))
}

func TestFormat(t *testing.T) {
	tests := []struct {
		amount   int64
		currency string
		want     string
	}{
		{118000, "INR", "1,180.00"},
		{10000000, "INR", "1,00,000.00"},
		{1234567890, "inr", "1,23,45,678.90"},
		{10000000, "USD", "100,000.00"},
		{5, "USD", "0.05"},
		{-118000, "INR", "-1,180.00"},
		{1500, "JPY", "1,500"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Format(tt.amount, tt.currency), "%d %s", tt.amount, tt.currency)
	}
	assert.Equal(t, "INR 1,180.00", FormatWithCode(118000, "inr"))
}
