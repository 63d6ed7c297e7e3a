package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseEventKind(t *testing.T) {
	for _, kind := range KnownEventKinds() {
		assert.Equal(t, kind, ParseEventKind(kind.String()), kind.String())
	}
	assert.Equal(t, EventSubscriptionCharged, ParseEventKind(" Subscription.Charged "))
	assert.Equal(t, EventUnknown, ParseEventKind("subscription.paused"))
	assert.Equal(t, EventUnknown, ParseEventKind(""))
	assert.Equal(t, "unknown", EventUnknown.String())
	assert.Len(t, KnownEventKinds(), 9)
}

func TestIsSubscriptionEvent(t *testing.T) {
	assert.True(t, EventSubscriptionPending.IsSubscriptionEvent())
	assert.False(t, EventPaymentCaptured.IsSubscriptionEvent())
	assert.False(t, EventUnknown.IsSubscriptionEvent())
}
