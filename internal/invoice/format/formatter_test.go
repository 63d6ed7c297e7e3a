package format

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFiscalYear(t *testing.T) {
	tests := []struct {
		at   time.Time
		want string
	}{
		{time.Date(2026, 4, 1, 0, 0, 0, 0, IST), "2026-27"},
		{time.Date(2027, 3, 31, 23, 59, 0, 0, IST), "2026-27"},
		{time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC), "2025-26"},
		// 31 March 19:00 UTC is already 1 April in India.
		{time.Date(2026, 3, 31, 19, 0, 0, 0, time.UTC), "2026-27"},
		{time.Date(2099, 6, 1, 0, 0, 0, 0, time.UTC), "2099-00"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FiscalYear(tt.at), tt.at.String())
	}
}

func TestFormatInvoiceNumber(t *testing.T) {
	at := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)

	got, err := FormatInvoiceNumber(DefaultInvoiceNumberTemplate, "INV", at, 42)
	require.NoError(t, err)
	assert.Equal(t, "INV/2026-27/00042", got)

	got, err = FormatInvoiceNumber("{PREFIX}-{YYYY}{MM}-{SEQ}", "BS", at, 7)
	require.NoError(t, err)
	assert.Equal(t, "BS-202605-7", got)

	_, err = FormatInvoiceNumber(DefaultInvoiceNumberTemplate, "INV", at, 0)
	assert.Error(t, err)
	_, err = FormatInvoiceNumber("{PREFIX}/{UNKNOWN}/{SEQ5}", "INV", at, 1)
	assert.Error(t, err)
}

func TestSequenceScopeAndParse(t *testing.T) {
	at := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)

	scope, err := SequenceScope(DefaultInvoiceNumberTemplate, "INV", at)
	require.NoError(t, err)
	assert.Equal(t, "INV/2026-27/", scope)

	seq, ok := ParseSequence("INV/2026-27/00123", scope)
	assert.True(t, ok)
	assert.Equal(t, int64(123), seq)

	_, ok = ParseSequence("INV/2025-26/00123", scope)
	assert.False(t, ok)
	_, ok = ParseSequence("INV/2026-27/abc", scope)
	assert.False(t, ok)

	_, err = SequenceScope("{PREFIX}/{FY}", "INV", at)
	assert.Error(t, err)
}
