package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerGet_MergesOperatorOverrideOntoGlobal(t *testing.T) {
	m := &Manager{
		globalConfig: &Config{
			Retry:        RetryConfig{MaxAttempts: 5, Multiplier: 2},
			Integrations: IntegrationsConfig{CRM: PartnerConfig{PageSize: 100}},
		},
		operatorConfigs: map[string]Config{
			"op-1": {Retry: RetryConfig{MaxAttempts: 10}},
		},
	}

	effective := m.Get("op-1")
	assert.Equal(t, 10, effective.Retry.MaxAttempts)
	assert.Equal(t, 100, effective.Integrations.CRM.PageSize)
}

func TestManagerGet_UnknownOperatorReturnsGlobalUnchanged(t *testing.T) {
	m := &Manager{
		globalConfig:    &Config{Retry: RetryConfig{MaxAttempts: 5}},
		operatorConfigs: map[string]Config{},
	}

	effective := m.Get("unknown-operator")
	assert.Equal(t, 5, effective.Retry.MaxAttempts)
}

func TestManagerGet_ZeroValuedOverrideFieldsDoNotClobberGlobal(t *testing.T) {
	m := &Manager{
		globalConfig: &Config{
			Integrations: IntegrationsConfig{
				CRM:     PartnerConfig{PageSize: 100},
				Expense: PartnerConfig{PageSize: 50},
			},
		},
		operatorConfigs: map[string]Config{
			"op-1": {Retry: RetryConfig{MaxAttempts: 7}},
		},
	}

	effective := m.Get("op-1")
	assert.Equal(t, 100, effective.Integrations.CRM.PageSize)
	assert.Equal(t, 50, effective.Integrations.Expense.PageSize)
}

func TestManagerGlobal_ReturnsUnmergedCopy(t *testing.T) {
	m := &Manager{globalConfig: &Config{Retry: RetryConfig{MaxAttempts: 5}}}
	g := m.Global()
	assert.Equal(t, 5, g.Retry.MaxAttempts)
}

func TestNewManager_FallsBackWhenOperatorsFileMissing(t *testing.T) {
	dir := t.TempDir()
	masterPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(masterPath, []byte("server:\n  port: \"9999\"\n"), 0o644))

	m, err := NewManager(masterPath, filepath.Join(dir, "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "9999", m.Global().Server.Port)
	assert.Empty(t, m.operatorConfigs)
}

func TestNewManager_LoadsOperatorOverrides(t *testing.T) {
	dir := t.TempDir()
	masterPath := filepath.Join(dir, "config.yaml")
	operatorsPath := filepath.Join(dir, "operators.yaml")
	require.NoError(t, os.WriteFile(masterPath, []byte("server:\n  port: \"9999\"\n"), 0o644))
	require.NoError(t, os.WriteFile(operatorsPath, []byte("operators:\n  op-1:\n    retry:\n      max_attempts: 11\n"), 0o644))

	m, err := NewManager(masterPath, operatorsPath)
	require.NoError(t, err)
	assert.Equal(t, 11, m.Get("op-1").Retry.MaxAttempts)
}
