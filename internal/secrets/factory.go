package secrets

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/opitios-ai/alpaca-gateway/internal/config"
)

// NewProvider creates a credentials provider from configuration.
func NewProvider(cfg config.SecretsConfig, logger *zap.Logger) (Provider, error) {
	switch cfg.Provider {
	case ProviderTypeEnv, "":
		return NewEnvProvider(cfg.EnvPrefix, logger), nil
	case ProviderTypeVault:
		return NewVaultProvider(cfg.Vault, logger)
	default:
		return nil, fmt.Errorf("unknown secrets provider: %s", cfg.Provider)
	}
}
