package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApplyDefaults_FillsZeroValues(t *testing.T) {
	c := &Config{}
	c.applyDefaults()

	assert.Equal(t, "8080", c.Server.Port)
	assert.Equal(t, 15, c.Server.ReadTimeoutSec)
	assert.Equal(t, 60, c.Server.IdleTimeoutSec)
	assert.Equal(t, []string{"*"}, c.Server.CORSAllowOrigins)
	assert.Equal(t, 20, c.Database.MaxOpenConns)
	assert.Equal(t, 300, c.Vault.RefreshSkewSec)
	assert.Equal(t, 5, c.Retry.MaxAttempts)
	assert.Equal(t, 2.0, c.Retry.Multiplier)
	assert.Equal(t, 100, c.Integrations.CRM.PageSize)
	assert.Equal(t, 50, c.Integrations.Expense.PageSize)
	assert.Equal(t, 1000, c.Events.ReplayBufferSize)
	assert.Equal(t, 30, c.WebSocket.PingIntervalSec)
	assert.Equal(t, 60, c.KPI.SnoozeSweepIntervalSec)
	assert.Equal(t, 10, c.Importers.HeaderScanRows)
	assert.Equal(t, 3600, c.Security.TokenTTLSec)
}

func TestApplyDefaults_DoesNotOverrideExplicitValues(t *testing.T) {
	c := &Config{}
	c.Server.Port = "9090"
	c.Retry.MaxAttempts = 3
	c.applyDefaults()

	assert.Equal(t, "9090", c.Server.Port)
	assert.Equal(t, 3, c.Retry.MaxAttempts)
}

func TestApplyEnvOverrides_OverridesFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "4000")
	t.Setenv("APP_ENV", "production")
	t.Setenv("DATABASE_URL", "postgres://test")
	t.Setenv("RETRY_MAX_ATTEMPTS", "9")
	t.Setenv("CORS_ALLOW_ORIGINS", "https://a.com, https://b.com")

	c := &Config{}
	c.applyEnvOverrides()

	assert.Equal(t, "4000", c.Server.Port)
	assert.Equal(t, "production", c.Server.Env)
	assert.Equal(t, "postgres://test", c.Database.DSN)
	assert.Equal(t, 9, c.Retry.MaxAttempts)
	assert.Equal(t, []string{"https://a.com", "https://b.com"}, c.Server.CORSAllowOrigins)
	assert.True(t, c.IsProduction())
}

func TestApplyEnvOverrides_InvalidIntFallsBackToDefault(t *testing.T) {
	t.Setenv("RETRY_MAX_ATTEMPTS", "not-a-number")
	c := &Config{}
	c.applyEnvOverrides()
	assert.Equal(t, 5, c.Retry.MaxAttempts)
}

func TestSplitCSV_TrimsAndDropsEmpty(t *testing.T) {
	out := splitCSV("a, b ,, c")
	assert.Equal(t, []string{"a", "b", "c"}, out)
}

func TestIsProductionAndIsDevelopment(t *testing.T) {
	c := &Config{}
	c.Server.Env = "development"
	assert.True(t, c.IsDevelopment())
	assert.False(t, c.IsProduction())
}

func TestGetPort_FallsBackWhenEmpty(t *testing.T) {
	c := &Config{}
	assert.Equal(t, "8080", c.GetPort())
	c.Server.Port = "1234"
	assert.Equal(t, "1234", c.GetPort())
}

func TestGetEnvInt_UsesDefaultWhenUnset(t *testing.T) {
	assert.Equal(t, 42, getEnvInt("CONFIG_TEST_UNSET_VAR", 42))
}

func TestGetEnvFloat_ParsesValidFloat(t *testing.T) {
	t.Setenv("CONFIG_TEST_FLOAT_VAR", "1.5")
	assert.Equal(t, 1.5, getEnvFloat("CONFIG_TEST_FLOAT_VAR", 0))
}

func TestGetEnvBool_ParsesTrueVariants(t *testing.T) {
	t.Setenv("CONFIG_TEST_BOOL_VAR", "1")
	assert.True(t, getEnvBool("CONFIG_TEST_BOOL_VAR", false))
}
