package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateBillingConfig(t *testing.T) {
	require.NoError(t, validateBillingConfig(DefaultBillingConfig()))

	cfg := DefaultBillingConfig()
	cfg.InvoicePrefix = "INV/X"
	assert.Error(t, validateBillingConfig(cfg))

	cfg = DefaultBillingConfig()
	cfg.IGSTRateBps = 20000
	assert.Error(t, validateBillingConfig(cfg))

	cfg = DefaultBillingConfig()
	cfg.BusinessState = " "
	assert.Error(t, validateBillingConfig(cfg))
}

func TestNewBillingConfigHolderDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	holder, err := NewBillingConfigHolder(nil)
	require.NoError(t, err)

	cfg := holder.Get()
	assert.Equal(t, "INV", cfg.InvoicePrefix)
	assert.Equal(t, int64(900), cfg.CGSTRateBps)
	assert.Equal(t, int64(900), cfg.SGSTRateBps)
	assert.Equal(t, int64(1800), cfg.IGSTRateBps)
}

func TestLoadReadsGatewayAndWebhookSettings(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("GATEWAY_KEY_ID", "rzp_test_key")
	t.Setenv("WEBHOOK_RETRY_ON_PERSISTENCE_FAILURE", "true")
	t.Setenv("WEBHOOK_IDEMPOTENCY_TTL", "30m")

	cfg := Load()
	assert.Equal(t, "rzp_test_key", cfg.Gateway.KeyID)
	assert.True(t, cfg.Webhook.RetryOnPersistenceFailure)
	assert.Equal(t, "30m0s", cfg.Webhook.IdempotencyTTL.String())
}
