// Package config provides configuration management for the gateway.
// Configuration is loaded once at startup from a YAML file; account
// entries are immutable for the lifetime of the process.
package config

import "time"

// Account tiers. Tier affects the per-account connection budget, never
// routing eligibility.
const (
	TierPremium  = "premium"
	TierStandard = "standard"
)

// Default connection budgets applied when maxConnections is omitted.
const (
	DefaultPremiumMaxConnections  = 10
	DefaultStandardMaxConnections = 3
)

// Config holds all configuration for the gateway process.
type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
	Secrets   SecretsConfig   `json:"secrets" yaml:"secrets"`
	Upstream  UpstreamConfig  `json:"upstream" yaml:"upstream"`
	Accounts  []AccountConfig `json:"accounts" yaml:"accounts"`
	Pool      PoolConfig      `json:"pool" yaml:"pool"`
	RateLimit RateLimitConfig `json:"rateLimit" yaml:"rateLimit"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	ListenAddress   string   `json:"listenAddress" yaml:"listenAddress"`
	ReadTimeout     Duration `json:"readTimeout" yaml:"readTimeout"`
	WriteTimeout    Duration `json:"writeTimeout" yaml:"writeTimeout"`
	IdleTimeout     Duration `json:"idleTimeout" yaml:"idleTimeout"`
	ShutdownTimeout Duration `json:"shutdownTimeout" yaml:"shutdownTimeout"`

	// JWTSecret is the HS256 signing secret for caller tokens.
	JWTSecret string `json:"jwtSecret" yaml:"jwtSecret"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
	Output string `json:"output" yaml:"output"`
}

// SecretsConfig selects and configures the credential provider.
type SecretsConfig struct {
	// Provider is "env" or "vault".
	Provider string `json:"provider" yaml:"provider"`

	// EnvPrefix is the environment variable prefix for the env provider.
	EnvPrefix string `json:"envPrefix" yaml:"envPrefix"`

	Vault VaultConfig `json:"vault" yaml:"vault"`
}

// VaultConfig holds HashiCorp Vault connection settings.
type VaultConfig struct {
	Address    string   `json:"address" yaml:"address"`
	Token      string   `json:"token" yaml:"token"`
	Namespace  string   `json:"namespace" yaml:"namespace"`
	MountPoint string   `json:"mountPoint" yaml:"mountPoint"`
	Timeout    Duration `json:"timeout" yaml:"timeout"`
}

// UpstreamConfig holds broker API client settings.
type UpstreamConfig struct {
	BaseURL string   `json:"baseURL" yaml:"baseURL"`
	DataURL string   `json:"dataURL" yaml:"dataURL"`
	Timeout Duration `json:"timeout" yaml:"timeout"`

	// RequestsPerMinute paces calls per account toward the vendor cap.
	// Zero disables pacing.
	RequestsPerMinute int `json:"requestsPerMinute" yaml:"requestsPerMinute"`
}

// AccountConfig is the static configuration for one upstream account.
// Entries are immutable after load; hot reload is out of scope.
type AccountConfig struct {
	// ID uniquely identifies the account within the gateway.
	ID string `json:"id" yaml:"id"`

	// CredentialsRef is an opaque pointer into the secrets provider.
	// The raw material behind it is never logged or serialized.
	CredentialsRef string `json:"credentialsRef" yaml:"credentialsRef"`

	Enabled bool   `json:"enabled" yaml:"enabled"`
	Tier    string `json:"tier" yaml:"tier"`

	// MaxConnections bounds the account's pool. Zero means the tier
	// default.
	MaxConnections int `json:"maxConnections" yaml:"maxConnections"`

	// Region is an opaque hint reserved for multi-region routing.
	Region string `json:"region" yaml:"region"`
}

// PoolConfig holds connection pool and supervisor settings.
type PoolConfig struct {
	HealthCheckInterval Duration `json:"healthCheckInterval" yaml:"healthCheckInterval"`
	EvictionInterval    Duration `json:"evictionInterval" yaml:"evictionInterval"`
	IdleTimeout         Duration `json:"idleTimeout" yaml:"idleTimeout"`

	// BusyReuse enables handing out an in-use connection when the pool
	// is saturated, favoring availability over exclusivity.
	BusyReuse *bool `json:"busyReuse" yaml:"busyReuse"`
}

// BusyReuseEnabled reports the busy-reuse policy, defaulting to true.
func (p PoolConfig) BusyReuseEnabled() bool {
	if p.BusyReuse == nil {
		return true
	}
	return *p.BusyReuse
}

// RateLimitRule is one admission-control rule.
type RateLimitRule struct {
	Limit  int      `json:"limit" yaml:"limit"`
	Window Duration `json:"window" yaml:"window"`
}

// RateLimitConfig holds rate limiter settings.
type RateLimitConfig struct {
	// Backend is "redis" or "memory".
	Backend string `json:"backend" yaml:"backend"`

	Redis RedisConfig `json:"redis" yaml:"redis"`

	// SweepInterval bounds memory-backend growth by dropping empty
	// identifier buckets.
	SweepInterval Duration `json:"sweepInterval" yaml:"sweepInterval"`

	// Default applies to endpoints without an explicit rule.
	Default RateLimitRule `json:"default" yaml:"default"`

	// Rules maps endpoint names to rules.
	Rules map[string]RateLimitRule `json:"rules" yaml:"rules"`
}

// RuleFor returns the rule for an endpoint, falling back to the default.
func (r RateLimitConfig) RuleFor(endpoint string) RateLimitRule {
	if rule, ok := r.Rules[endpoint]; ok {
		return rule
	}
	return r.Default
}

// RedisConfig holds Redis connection settings for the rate limiter.
type RedisConfig struct {
	Address      string   `json:"address" yaml:"address"`
	Password     string   `json:"password" yaml:"password"`
	DB           int      `json:"db" yaml:"db"`
	Prefix       string   `json:"prefix" yaml:"prefix"`
	DialTimeout  Duration `json:"dialTimeout" yaml:"dialTimeout"`
	ReadTimeout  Duration `json:"readTimeout" yaml:"readTimeout"`
	WriteTimeout Duration `json:"writeTimeout" yaml:"writeTimeout"`
}

// Default returns a Config with default values applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddress:   ":8080",
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			IdleTimeout:     Duration(60 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Secrets: SecretsConfig{
			Provider:  "env",
			EnvPrefix: "ALPACA_",
		},
		Upstream: UpstreamConfig{
			BaseURL:           "https://paper-api.alpaca.markets",
			DataURL:           "https://data.alpaca.markets",
			Timeout:           Duration(10 * time.Second),
			RequestsPerMinute: 200,
		},
		Pool: PoolConfig{
			HealthCheckInterval: Duration(5 * time.Minute),
			EvictionInterval:    Duration(time.Minute),
			IdleTimeout:         Duration(30 * time.Minute),
		},
		RateLimit: RateLimitConfig{
			Backend:       "memory",
			SweepInterval: Duration(time.Minute),
			Default: RateLimitRule{
				Limit:  120,
				Window: Duration(time.Minute),
			},
			Redis: RedisConfig{
				Address:      "localhost:6379",
				Prefix:       "ratelimit:",
				DialTimeout:  Duration(5 * time.Second),
				ReadTimeout:  Duration(3 * time.Second),
				WriteTimeout: Duration(3 * time.Second),
			},
		},
	}
}

// applyDefaults fills zero values with defaults after unmarshaling.
func (c *Config) applyDefaults() {
	d := Default()

	if c.Server.ListenAddress == "" {
		c.Server.ListenAddress = d.Server.ListenAddress
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = d.Server.ReadTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = d.Server.WriteTimeout
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = d.Server.IdleTimeout
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = d.Server.ShutdownTimeout
	}

	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = d.Logging.Format
	}
	if c.Logging.Output == "" {
		c.Logging.Output = d.Logging.Output
	}

	if c.Secrets.Provider == "" {
		c.Secrets.Provider = d.Secrets.Provider
	}
	if c.Secrets.EnvPrefix == "" {
		c.Secrets.EnvPrefix = d.Secrets.EnvPrefix
	}

	if c.Upstream.BaseURL == "" {
		c.Upstream.BaseURL = d.Upstream.BaseURL
	}
	if c.Upstream.DataURL == "" {
		c.Upstream.DataURL = d.Upstream.DataURL
	}
	if c.Upstream.Timeout == 0 {
		c.Upstream.Timeout = d.Upstream.Timeout
	}

	if c.Pool.HealthCheckInterval == 0 {
		c.Pool.HealthCheckInterval = d.Pool.HealthCheckInterval
	}
	if c.Pool.EvictionInterval == 0 {
		c.Pool.EvictionInterval = d.Pool.EvictionInterval
	}
	if c.Pool.IdleTimeout == 0 {
		c.Pool.IdleTimeout = d.Pool.IdleTimeout
	}

	if c.RateLimit.Backend == "" {
		c.RateLimit.Backend = d.RateLimit.Backend
	}
	if c.RateLimit.SweepInterval == 0 {
		c.RateLimit.SweepInterval = d.RateLimit.SweepInterval
	}
	if c.RateLimit.Default.Limit == 0 {
		c.RateLimit.Default = d.RateLimit.Default
	}
	if c.RateLimit.Redis.Address == "" {
		c.RateLimit.Redis.Address = d.RateLimit.Redis.Address
	}
	if c.RateLimit.Redis.Prefix == "" {
		c.RateLimit.Redis.Prefix = d.RateLimit.Redis.Prefix
	}
	if c.RateLimit.Redis.DialTimeout == 0 {
		c.RateLimit.Redis.DialTimeout = d.RateLimit.Redis.DialTimeout
	}
	if c.RateLimit.Redis.ReadTimeout == 0 {
		c.RateLimit.Redis.ReadTimeout = d.RateLimit.Redis.ReadTimeout
	}
	if c.RateLimit.Redis.WriteTimeout == 0 {
		c.RateLimit.Redis.WriteTimeout = d.RateLimit.Redis.WriteTimeout
	}

	for i := range c.Accounts {
		a := &c.Accounts[i]
		if a.Tier == "" {
			a.Tier = TierStandard
		}
		if a.MaxConnections == 0 {
			switch a.Tier {
			case TierPremium:
				a.MaxConnections = DefaultPremiumMaxConnections
			default:
				a.MaxConnections = DefaultStandardMaxConnections
			}
		}
	}
}

// EnabledAccounts returns the account entries with Enabled set.
func (c *Config) EnabledAccounts() []AccountConfig {
	enabled := make([]AccountConfig, 0, len(c.Accounts))
	for _, a := range c.Accounts {
		if a.Enabled {
			enabled = append(enabled, a)
		}
	}
	return enabled
}
