package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkCaptured(t *testing.T) {
	now := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	p := &Payment{Status: PaymentStatusCreated, Amount: 118000}

	require.NoError(t, p.MarkCaptured(2360, 425, now))
	assert.Equal(t, PaymentStatusCaptured, p.Status)
	assert.Equal(t, int64(2360), p.Fee)
	assert.Equal(t, int64(425), p.TaxOnFee)
	assert.Equal(t, int64(118000), p.Amount)

	later := now.Add(time.Hour)
	require.NoError(t, p.MarkCaptured(0, 0, later))
	assert.Equal(t, int64(2360), p.Fee)
	assert.Equal(t, now, *p.CapturedAt)
}

func TestMarkFailedNeverOverridesCapture(t *testing.T) {
	now := time.Now().UTC()
	p := &Payment{Status: PaymentStatusCaptured}

	assert.ErrorIs(t, p.MarkFailed("BAD_REQUEST_ERROR", "declined", now), ErrInvalidStatusTransition)
	assert.Equal(t, PaymentStatusCaptured, p.Status)

	p = &Payment{Status: PaymentStatusAuthorized}
	require.NoError(t, p.MarkFailed("BAD_REQUEST_ERROR", "declined", now))
	require.NotNil(t, p.ErrorCode)
	assert.Equal(t, "BAD_REQUEST_ERROR", *p.ErrorCode)

	require.NoError(t, p.MarkCaptured(0, 0, now))
	assert.Nil(t, p.ErrorCode)
}

func TestMarkRefundedCapsAtAmount(t *testing.T) {
	now := time.Now().UTC()
	p := &Payment{Status: PaymentStatusCaptured, Amount: 1000}

	require.NoError(t, p.MarkRefunded(400, now))
	require.NoError(t, p.MarkRefunded(900, now))
	assert.Equal(t, int64(1000), p.RefundAmount)
	assert.Equal(t, PaymentStatusRefunded, p.Status)

	assert.ErrorIs(t, p.MarkRefunded(0, now), ErrInvalidAmount)
	assert.ErrorIs(t, (&Payment{Status: PaymentStatusFailed}).MarkRefunded(10, now), ErrInvalidStatusTransition)
}
