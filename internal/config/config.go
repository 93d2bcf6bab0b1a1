package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the promptrelay API configuration.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Relay    RelayConfig    `yaml:"relay"`
	Auth     AuthConfig     `yaml:"auth"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds the optional key-value store used for budget persistence.
// Empty addrs means no persistence (counters are in-memory only).
type DatabaseConfig struct {
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// UpstreamConfig holds completion API settings.
type UpstreamConfig struct {
	APIKey           string  `yaml:"api_key"`
	BaseURL          string  `yaml:"base_url"`
	Model            string  `yaml:"model"`
	MaxTokens        int     `yaml:"max_tokens"`
	Temperature      float32 `yaml:"temperature"`
	PresencePenalty  float32 `yaml:"presence_penalty"`
	FrequencyPenalty float32 `yaml:"frequency_penalty"`
	TimeoutSec       int     `yaml:"timeout_sec"`
}

// QuotaLimits holds per-window ceilings for one identity kind.
type QuotaLimits struct {
	RequestsPerHour int `yaml:"requests_per_hour"`
	TokensPerHour   int `yaml:"tokens_per_hour"`
}

// BudgetConfig holds process-wide upstream token budget settings.
type BudgetConfig struct {
	DailyTokenLimit   int64  `yaml:"daily_token_limit"`   // 0 = unlimited
	MonthlyTokenLimit int64  `yaml:"monthly_token_limit"` // 0 = unlimited
	Action            string `yaml:"action"`              // "reject" | "warn" (default)
}

// RelayConfig holds rate limiting, caching, and cleanup settings.
type RelayConfig struct {
	MaxPromptChars    int          `yaml:"max_prompt_chars"`
	RequestDelayMs    int          `yaml:"request_delay_ms"`
	CacheDurationMs   int          `yaml:"cache_duration_ms"`
	SessionExpiryMs   int          `yaml:"session_expiry_ms"`
	CleanupIntervalMs int          `yaml:"cleanup_interval_ms"`
	SessionLimits     QuotaLimits  `yaml:"session_limits"`
	IPLimits          QuotaLimits  `yaml:"ip_limits"`
	Budget            BudgetConfig `yaml:"budget"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 30
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Upstream.Model == "" {
		c.Upstream.Model = "gpt-4o-mini"
	}
	if c.Upstream.MaxTokens <= 0 {
		c.Upstream.MaxTokens = 300
	}
	if c.Upstream.Temperature <= 0 {
		c.Upstream.Temperature = 0.7
	}
	if c.Upstream.TimeoutSec <= 0 {
		c.Upstream.TimeoutSec = 30
	}
	if c.Relay.MaxPromptChars <= 0 {
		c.Relay.MaxPromptChars = 500
	}
	if c.Relay.RequestDelayMs <= 0 {
		c.Relay.RequestDelayMs = 1000
	}
	if c.Relay.CacheDurationMs <= 0 {
		c.Relay.CacheDurationMs = 3600000 // 1 hour
	}
	if c.Relay.SessionExpiryMs <= 0 {
		c.Relay.SessionExpiryMs = 7200000 // 2 hours
	}
	if c.Relay.CleanupIntervalMs <= 0 {
		c.Relay.CleanupIntervalMs = 3600000 // 1 hour
	}
	if c.Relay.SessionLimits.RequestsPerHour <= 0 {
		c.Relay.SessionLimits.RequestsPerHour = 50
	}
	if c.Relay.SessionLimits.TokensPerHour <= 0 {
		c.Relay.SessionLimits.TokensPerHour = 20000
	}
	if c.Relay.IPLimits.RequestsPerHour <= 0 {
		c.Relay.IPLimits.RequestsPerHour = 100
	}
	if c.Relay.IPLimits.TokensPerHour <= 0 {
		c.Relay.IPLimits.TokensPerHour = 50000
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if c.Upstream.APIKey == "" {
		return fmt.Errorf("upstream.api_key is required")
	}
	switch c.Relay.Budget.Action {
	case "", "warn", "reject":
		// ok
	default:
		return fmt.Errorf(
			"relay.budget.action must be \"warn\" or \"reject\", got %q",
			c.Relay.Budget.Action,
		)
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
