package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeeConfigPercentForCurrencyOverride(t *testing.T) {
	cfg := FeeConfig{
		DefaultPercent: "10",
		Currencies:     map[string]string{"USD": "2.5"},
	}

	assert.Equal(t, "10", cfg.PercentFor("VND").String())
	assert.Equal(t, "2.5", cfg.PercentFor("usd").String())
}

func TestFeeConfigEmptyDefaultIsZero(t *testing.T) {
	assert.True(t, FeeConfig{}.PercentFor("VND").IsZero())
}

func TestValidateFeeConfigRejectsOutOfRange(t *testing.T) {
	require.NoError(t, validateFeeConfig(FeeConfig{DefaultPercent: "100"}))
	assert.Error(t, validateFeeConfig(FeeConfig{DefaultPercent: "100.01"}))
	assert.Error(t, validateFeeConfig(FeeConfig{DefaultPercent: "-1"}))
	assert.Error(t, validateFeeConfig(FeeConfig{DefaultPercent: "0", Currencies: map[string]string{"USD": "abc"}}))
}

func TestValidateFeeConfigRejectsSubCentPercent(t *testing.T) {
	require.NoError(t, validateFeeConfig(FeeConfig{DefaultPercent: "10.55"}))
	require.NoError(t, validateFeeConfig(FeeConfig{DefaultPercent: "10.5000"}))

	err := validateFeeConfig(FeeConfig{DefaultPercent: "10.555"})
	assert.ErrorIs(t, err, errPercentScale)
	err = validateFeeConfig(FeeConfig{DefaultPercent: "5", Currencies: map[string]string{"USD": "2.125"}})
	assert.ErrorIs(t, err, errPercentScale)

	cfg := FeeConfig{DefaultPercent: "10", Currencies: map[string]string{"USD": "2.125"}}
	assert.Equal(t, "10", cfg.PercentFor("USD").String())
}

func TestWebhookSecretForProviderOverride(t *testing.T) {
	w := WebhookConfig{Secret: "shared", ProviderSecrets: map[string]string{"TAZAPAY": "taz"}}

	assert.Equal(t, "taz", w.SecretFor("tazapay"))
	assert.Equal(t, "shared", w.SecretFor("MOCK"))
}

func TestStaticHolderReturnsStoredConfig(t *testing.T) {
	holder := NewStaticFeeConfigHolder(FeeConfig{DefaultPercent: "7.5"})
	assert.Equal(t, "7.5", holder.PercentFor("VND").String())
}
