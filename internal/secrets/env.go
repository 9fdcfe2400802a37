package secrets

import (
	"context"
	"os"
	"strings"

	"go.uber.org/zap"
)

// DefaultEnvPrefix is the default prefix for environment variable credentials.
const DefaultEnvPrefix = "ALPACA_"

// EnvProvider resolves credential references from environment variables.
// A reference "PAPER_MAIN" with prefix "ALPACA_" reads
// ALPACA_PAPER_MAIN_API_KEY and ALPACA_PAPER_MAIN_API_SECRET.
type EnvProvider struct {
	prefix string
	logger *zap.Logger
}

// NewEnvProvider creates an environment variable credentials provider.
func NewEnvProvider(prefix string, logger *zap.Logger) *EnvProvider {
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnvProvider{prefix: prefix, logger: logger}
}

// Type implements Provider.
func (p *EnvProvider) Type() string {
	return ProviderTypeEnv
}

// normalizeEnvName converts a reference to an environment variable stem.
func (p *EnvProvider) normalizeEnvName(ref string) string {
	name := strings.ToUpper(ref)
	name = strings.ReplaceAll(name, "-", "_")
	name = strings.ReplaceAll(name, ".", "_")
	name = strings.ReplaceAll(name, "/", "_")
	return p.prefix + name
}

// GetCredentials implements Provider.
func (p *EnvProvider) GetCredentials(_ context.Context, ref string) (*Credentials, error) {
	if ref == "" {
		return nil, ErrInvalidRef
	}

	stem := p.normalizeEnvName(ref)
	key, keyOK := os.LookupEnv(stem + "_API_KEY")
	secret, secretOK := os.LookupEnv(stem + "_API_SECRET")
	if !keyOK || !secretOK {
		p.logger.Debug("credentials not found in environment",
			zap.String("ref", ref),
		)
		return nil, ErrCredentialsNotFound
	}

	return &Credentials{APIKey: key, APISecret: secret}, nil
}

// Close implements Provider.
func (p *EnvProvider) Close() error {
	return nil
}
