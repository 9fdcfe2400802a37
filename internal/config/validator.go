package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a single configuration validation error.
type ValidationError struct {
	Path    string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Validate checks the configuration for fatal errors. A malformed
// account entry prevents startup.
func (c *Config) Validate() error {
	var errs ValidationErrors

	addErr := func(path, msg string) {
		errs = append(errs, ValidationError{Path: path, Message: msg})
	}

	if c.Server.JWTSecret == "" {
		addErr("server.jwtSecret", "jwt signing secret is required")
	}

	if len(c.Accounts) == 0 {
		addErr("accounts", "at least one account must be configured")
	}

	seen := make(map[string]bool, len(c.Accounts))
	enabled := 0
	for i, a := range c.Accounts {
		path := fmt.Sprintf("accounts[%d]", i)

		if a.ID == "" {
			addErr(path+".id", "account id is required")
		} else if seen[a.ID] {
			addErr(path+".id", fmt.Sprintf("duplicate account id %q", a.ID))
		}
		seen[a.ID] = true

		if a.CredentialsRef == "" {
			addErr(path+".credentialsRef", "credentials reference is required")
		}
		if a.Tier != TierPremium && a.Tier != TierStandard {
			addErr(path+".tier", fmt.Sprintf("unknown tier %q", a.Tier))
		}
		if a.MaxConnections <= 0 {
			addErr(path+".maxConnections", "must be greater than zero")
		}
		if a.Enabled {
			enabled++
		}
	}
	if len(c.Accounts) > 0 && enabled == 0 {
		addErr("accounts", "no accounts are enabled")
	}

	switch c.Secrets.Provider {
	case "env":
	case "vault":
		if c.Secrets.Vault.Address == "" {
			addErr("secrets.vault.address", "vault address is required")
		}
	default:
		addErr("secrets.provider", fmt.Sprintf("unknown provider %q", c.Secrets.Provider))
	}

	switch c.RateLimit.Backend {
	case "memory":
	case "redis":
		if c.RateLimit.Redis.Address == "" {
			addErr("rateLimit.redis.address", "redis address is required")
		}
	default:
		addErr("rateLimit.backend", fmt.Sprintf("unknown backend %q", c.RateLimit.Backend))
	}

	if c.RateLimit.Default.Limit <= 0 {
		addErr("rateLimit.default.limit", "must be greater than zero")
	}
	if c.RateLimit.Default.Window <= 0 {
		addErr("rateLimit.default.window", "must be greater than zero")
	}
	for name, rule := range c.RateLimit.Rules {
		if rule.Limit <= 0 {
			addErr("rateLimit.rules."+name+".limit", "must be greater than zero")
		}
		if rule.Window <= 0 {
			addErr("rateLimit.rules."+name+".window", "must be greater than zero")
		}
	}

	if c.Pool.HealthCheckInterval <= 0 {
		addErr("pool.healthCheckInterval", "must be greater than zero")
	}
	if c.Pool.EvictionInterval <= 0 {
		addErr("pool.evictionInterval", "must be greater than zero")
	}
	if c.Pool.IdleTimeout <= 0 {
		addErr("pool.idleTimeout", "must be greater than zero")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
