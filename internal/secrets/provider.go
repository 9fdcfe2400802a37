// Package secrets resolves opaque credential references into upstream
// API credentials. The pool and registry only ever hold references;
// the raw material stays inside this package and internal/upstream.
package secrets

import (
	"context"
	"errors"
)

// Provider types.
const (
	ProviderTypeEnv   = "env"
	ProviderTypeVault = "vault"
)

// Common errors for credential providers.
var (
	// ErrCredentialsNotFound is returned when a reference cannot be resolved.
	ErrCredentialsNotFound = errors.New("credentials not found")

	// ErrInvalidRef is returned when the credential reference is malformed.
	ErrInvalidRef = errors.New("invalid credentials reference")

	// ErrProviderUnavailable is returned when the backing store cannot be reached.
	ErrProviderUnavailable = errors.New("credentials provider unavailable")
)

// Credentials holds one account's upstream API key pair. Never log or
// serialize this type.
type Credentials struct {
	APIKey    string
	APISecret string
}

// String implements fmt.Stringer and redacts the material so accidental
// logging stays harmless.
func (c *Credentials) String() string {
	return "credentials(redacted)"
}

// Provider resolves credential references.
type Provider interface {
	// Type returns the provider type.
	Type() string

	// GetCredentials resolves a reference to an API key pair.
	GetCredentials(ctx context.Context, ref string) (*Credentials, error)

	// Close releases provider resources.
	Close() error
}
