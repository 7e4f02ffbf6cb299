package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v2"
)

// =============================================================================
// Field Marketing Control Plane - Configuration with Environment Overrides
// =============================================================================

type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Vault        VaultConfig        `yaml:"vault"`
	Retry        RetryConfig        `yaml:"retry"`
	Integrations IntegrationsConfig `yaml:"integrations"`
	Events       EventsConfig       `yaml:"events"`
	WebSocket    WebSocketConfig    `yaml:"websocket"`
	KPI          KPIConfig          `yaml:"kpi"`
	Importers    ImportersConfig    `yaml:"importers"`
	Security     SecurityConfig     `yaml:"security"`
	Redis        RedisConfig        `yaml:"redis"`
}

type ServerConfig struct {
	Port             string   `yaml:"port"`
	Env              string   `yaml:"env"`
	Interface        string   `yaml:"interface"`
	ReadTimeoutSec   int      `yaml:"read_timeout_sec"`
	WriteTimeoutSec  int      `yaml:"write_timeout_sec"`
	IdleTimeoutSec   int      `yaml:"idle_timeout_sec"`
	ShutdownTimeout  int      `yaml:"shutdown_timeout_sec"`
	CORSAllowOrigins []string `yaml:"cors_allow_origins"`
}

// DatabaseConfig describes the Postgres-flavored relational store: the
// core depends on the schema/transactional semantics, not a specific
// product, but this deployment targets lib/pq over database/sql.
type DatabaseConfig struct {
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifeMins int    `yaml:"conn_max_life_minutes"`
}

// VaultConfig configures the credential vault. The AEAD key is taken as
// an explicit parameter rather than read ambiently by the vault itself —
// config is the one place allowed to read it from the environment, and a
// second key is supported for rotation cutover.
type VaultConfig struct {
	EncryptionKeyHex  string `yaml:"encryption_key_hex"`
	PreviousKeyHex    string `yaml:"previous_encryption_key_hex"`
	RefreshSkewSec    int    `yaml:"refresh_skew_sec"`
}

// RetryConfig supplies the default backoff parameters used when a
// caller doesn't override them.
type RetryConfig struct {
	MaxAttempts       int     `yaml:"max_attempts"`
	InitialDelayMs    int     `yaml:"initial_delay_ms"`
	MaxDelayMs        int     `yaml:"max_delay_ms"`
	Multiplier        float64 `yaml:"multiplier"`
}

// IntegrationsConfig holds partner endpoints for the CRM and expense clients.
type IntegrationsConfig struct {
	CRM     PartnerConfig `yaml:"crm"`
	Expense PartnerConfig `yaml:"expense"`
}

type PartnerConfig struct {
	BaseURL    string `yaml:"base_url"`
	PageSize   int    `yaml:"page_size"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// EventsConfig configures the domain event bus.
type EventsConfig struct {
	ReplayBufferSize int `yaml:"replay_buffer_size"`
}

// WebSocketConfig configures the real-time client registry.
type WebSocketConfig struct {
	PingIntervalSec int `yaml:"ping_interval_sec"`
	StaleAfterSec   int `yaml:"stale_after_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
}

// KPIConfig configures the threshold & alert engine.
type KPIConfig struct {
	SnoozeSweepIntervalSec   int      `yaml:"snooze_sweep_interval_sec"`
	ScheduledEvalIntervalSec int      `yaml:"scheduled_eval_interval_sec"`
	NotificationWorkerCount  int      `yaml:"notification_worker_count"`
	NotificationChannels     []string `yaml:"notification_channels"`
}

// ImportersConfig configures the bulk CSV importers.
type ImportersConfig struct {
	MaxErrorsRetained   int `yaml:"max_errors_retained"`
	MaxWarningsRetained int `yaml:"max_warnings_retained"`
	HeaderScanRows      int `yaml:"header_scan_rows"`
}

// SecurityConfig configures bearer-token auth.
type SecurityConfig struct {
	HMACSecret  string `yaml:"hmac_secret"`
	TokenTTLSec int    `yaml:"token_ttl_sec"`
}

// RedisConfig backs the distributed API rate limiter so every replica of
// this service enforces the same per-caller limit against a shared counter.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// =============================================================================
// Singleton Pattern with Environment Overrides
// =============================================================================

var (
	instance *Config
	once     sync.Once
)

// Get returns the singleton config instance.
func Get() *Config {
	once.Do(func() {
		cfg, err := LoadConfig(getEnv("CONFIG_PATH", "config.yaml"))
		if err != nil {
			slog.Warn("config: failed to load config file (using defaults)", "error", err)
		}
		if cfg == nil {
			cfg = &Config{}
		}
		cfg.applyEnvOverrides()
		instance = cfg
	})
	return instance
}

// LoadConfig loads config from a YAML file.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Server.Env = getEnv("APP_ENV", c.Server.Env)
	c.Server.Interface = getEnv("APP_INTERFACE", c.Server.Interface)

	c.Database.DSN = getEnv("DATABASE_URL", c.Database.DSN)
	if v := getEnvInt("DB_MAX_OPEN_CONNS", 0); v > 0 {
		c.Database.MaxOpenConns = v
	}
	if v := getEnvInt("DB_MAX_IDLE_CONNS", 0); v > 0 {
		c.Database.MaxIdleConns = v
	}

	c.Vault.EncryptionKeyHex = getEnv("VAULT_ENCRYPTION_KEY_HEX", c.Vault.EncryptionKeyHex)
	c.Vault.PreviousKeyHex = getEnv("VAULT_PREVIOUS_ENCRYPTION_KEY_HEX", c.Vault.PreviousKeyHex)
	if v := getEnvInt("VAULT_REFRESH_SKEW_SEC", 0); v > 0 {
		c.Vault.RefreshSkewSec = v
	}

	if v := getEnvInt("RETRY_MAX_ATTEMPTS", 0); v > 0 {
		c.Retry.MaxAttempts = v
	}
	if v := getEnvFloat("RETRY_MULTIPLIER", 0); v > 0 {
		c.Retry.Multiplier = v
	}

	c.Integrations.CRM.BaseURL = getEnv("CRM_BASE_URL", c.Integrations.CRM.BaseURL)
	c.Integrations.Expense.BaseURL = getEnv("EXPENSE_BASE_URL", c.Integrations.Expense.BaseURL)

	c.Security.HMACSecret = getEnv("AUTH_HMAC_SECRET", c.Security.HMACSecret)
	if v := getEnvInt("AUTH_TOKEN_TTL_SEC", 0); v > 0 {
		c.Security.TokenTTLSec = v
	}

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)

	if origins := getEnv("CORS_ALLOW_ORIGINS", ""); origins != "" {
		c.Server.CORSAllowOrigins = splitCSV(origins)
	}
	if v := getEnvInt("SERVER_READ_TIMEOUT_SEC", 0); v > 0 {
		c.Server.ReadTimeoutSec = v
	}
	if v := getEnvInt("SERVER_WRITE_TIMEOUT_SEC", 0); v > 0 {
		c.Server.WriteTimeoutSec = v
	}
	if v := getEnvInt("SERVER_IDLE_TIMEOUT_SEC", 0); v > 0 {
		c.Server.IdleTimeoutSec = v
	}
	if v := getEnvInt("SERVER_SHUTDOWN_TIMEOUT_SEC", 0); v > 0 {
		c.Server.ShutdownTimeout = v
	}

	c.applyDefaults()
}

// applyDefaults sets sensible defaults for zero-valued config fields.
func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.ReadTimeoutSec == 0 {
		c.Server.ReadTimeoutSec = 15
	}
	if c.Server.WriteTimeoutSec == 0 {
		c.Server.WriteTimeoutSec = 15
	}
	if c.Server.IdleTimeoutSec == 0 {
		c.Server.IdleTimeoutSec = 60
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30
	}
	if len(c.Server.CORSAllowOrigins) == 0 {
		c.Server.CORSAllowOrigins = []string{"*"}
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 20
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifeMins == 0 {
		c.Database.ConnMaxLifeMins = 30
	}
	if c.Vault.RefreshSkewSec == 0 {
		c.Vault.RefreshSkewSec = 300 // 5 minutes
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 5
	}
	if c.Retry.InitialDelayMs == 0 {
		c.Retry.InitialDelayMs = 1000
	}
	if c.Retry.MaxDelayMs == 0 {
		c.Retry.MaxDelayMs = 60000
	}
	if c.Retry.Multiplier == 0 {
		c.Retry.Multiplier = 2
	}
	if c.Integrations.CRM.PageSize == 0 {
		c.Integrations.CRM.PageSize = 100
	}
	if c.Integrations.CRM.TimeoutSec == 0 {
		c.Integrations.CRM.TimeoutSec = 30
	}
	if c.Integrations.Expense.PageSize == 0 {
		c.Integrations.Expense.PageSize = 50
	}
	if c.Integrations.Expense.TimeoutSec == 0 {
		c.Integrations.Expense.TimeoutSec = 30
	}
	if c.Events.ReplayBufferSize == 0 {
		c.Events.ReplayBufferSize = 1000
	}
	if c.WebSocket.PingIntervalSec == 0 {
		c.WebSocket.PingIntervalSec = 30 // reaper loop interval
	}
	if c.WebSocket.StaleAfterSec == 0 {
		c.WebSocket.StaleAfterSec = 60
	}
	if c.WebSocket.WriteTimeoutSec == 0 {
		c.WebSocket.WriteTimeoutSec = 5
	}
	if c.KPI.SnoozeSweepIntervalSec == 0 {
		c.KPI.SnoozeSweepIntervalSec = 60 // every minute
	}
	if c.KPI.ScheduledEvalIntervalSec == 0 {
		c.KPI.ScheduledEvalIntervalSec = 300
	}
	if len(c.KPI.NotificationChannels) == 0 {
		c.KPI.NotificationChannels = []string{"email", "slack", "sms"}
	}
	if c.KPI.NotificationWorkerCount == 0 {
		c.KPI.NotificationWorkerCount = 4
	}
	if c.Importers.MaxErrorsRetained == 0 {
		c.Importers.MaxErrorsRetained = 100
	}
	if c.Importers.MaxWarningsRetained == 0 {
		c.Importers.MaxWarningsRetained = 100
	}
	if c.Importers.HeaderScanRows == 0 {
		c.Importers.HeaderScanRows = 10
	}
	if c.Security.TokenTTLSec == 0 {
		c.Security.TokenTTLSec = 3600
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1"
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func splitCSV(s string) []string {
	parts := make([]string, 0)
	for _, p := range strings.Split(s, ",") {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

// =============================================================================
// Convenience Methods
// =============================================================================

func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

func (c *Config) GetPort() string {
	if c.Server.Port == "" {
		return "8080"
	}
	return c.Server.Port
}
