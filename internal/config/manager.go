package config

import (
	"os"
	"sync"

	"gopkg.in/yaml.v2"
)

// OperatorsConfig holds a map of per-operator config overrides. Operators
// occasionally need their own retry budgets or partner page sizes (e.g. a
// high-volume operator whose CRM sync should page faster).
type OperatorsConfig struct {
	Operators map[string]Config `yaml:"operators"`
}

// Manager layers a master config with optional per-operator overrides:
// a high-volume operator can carry its own retry budget or partner page
// size without a second config file.
type Manager struct {
	globalConfig     *Config
	operatorConfigs  map[string]Config
	mu               sync.RWMutex
}

// NewManager loads both the master config and the optional operator
// overrides file.
func NewManager(masterPath, operatorsPath string) (*Manager, error) {
	master, err := LoadConfig(masterPath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(operatorsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &Manager{globalConfig: master, operatorConfigs: make(map[string]Config)}, nil
		}
		return nil, err
	}
	defer f.Close()

	var oc OperatorsConfig
	if err := yaml.NewDecoder(f).Decode(&oc); err != nil {
		return nil, err
	}

	return &Manager{
		globalConfig:    master,
		operatorConfigs: oc.Operators,
	}, nil
}

// Get returns the effective config for an operator, merging operator
// overrides on top of the global config.
func (m *Manager) Get(operatorID string) *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	effective := *m.globalConfig

	if override, ok := m.operatorConfigs[operatorID]; ok {
		if override.Retry.MaxAttempts != 0 {
			effective.Retry = override.Retry
		}
		if override.Integrations.CRM.PageSize != 0 {
			effective.Integrations.CRM = override.Integrations.CRM
		}
		if override.Integrations.Expense.PageSize != 0 {
			effective.Integrations.Expense = override.Integrations.Expense
		}
		if override.KPI.ScheduledEvalIntervalSec != 0 {
			effective.KPI = override.KPI
		}
	}

	return &effective
}

// Global returns the unmerged master config.
func (m *Manager) Global() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg := *m.globalConfig
	return &cfg
}
