package pool

import "errors"

// Registry errors surfaced to callers. Everything else the pool
// encounters is absorbed internally with logging.
var (
	// ErrUnknownAccount is returned when an account id has no configuration.
	ErrUnknownAccount = errors.New("unknown account")

	// ErrAccountDisabled is returned for accounts present in configuration
	// but not enabled.
	ErrAccountDisabled = errors.New("account is disabled")

	// ErrNoEnabledAccounts is returned by the router when no account is
	// eligible for selection.
	ErrNoEnabledAccounts = errors.New("no enabled accounts")

	// ErrConnectionFailed is returned when a new connection cannot be
	// established and no existing connection can serve the request.
	ErrConnectionFailed = errors.New("failed to establish upstream connection")

	// ErrPoolSaturated is returned when the pool is full, no connection is
	// idle, and busy reuse is disabled.
	ErrPoolSaturated = errors.New("connection pool saturated")

	// ErrRegistryClosed is returned after Stop.
	ErrRegistryClosed = errors.New("pool registry is closed")
)
