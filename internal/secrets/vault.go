package secrets

import (
	"context"
	"errors"
	"fmt"
	"time"

	vaultapi "github.com/hashicorp/vault/api"
	"go.uber.org/zap"

	"github.com/opitios-ai/alpaca-gateway/internal/config"
)

// KV-v2 field names expected in each credentials secret.
const (
	vaultFieldAPIKey    = "api_key"
	vaultFieldAPISecret = "api_secret"
)

// VaultProvider resolves credential references from a HashiCorp Vault
// KV-v2 secrets engine. The reference is the secret path under the
// configured mount point.
type VaultProvider struct {
	client     *vaultapi.Client
	mountPoint string
	logger     *zap.Logger
}

// NewVaultProvider creates a Vault credentials provider.
func NewVaultProvider(cfg config.VaultConfig, logger *zap.Logger) (*VaultProvider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	apiConfig := vaultapi.DefaultConfig()
	apiConfig.Address = cfg.Address
	if cfg.Timeout > 0 {
		apiConfig.Timeout = cfg.Timeout.Duration()
	} else {
		apiConfig.Timeout = 30 * time.Second
	}

	client, err := vaultapi.NewClient(apiConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}

	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}
	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	mountPoint := cfg.MountPoint
	if mountPoint == "" {
		mountPoint = "secret"
	}

	return &VaultProvider{
		client:     client,
		mountPoint: mountPoint,
		logger:     logger,
	}, nil
}

// Type implements Provider.
func (p *VaultProvider) Type() string {
	return ProviderTypeVault
}

// GetCredentials implements Provider.
func (p *VaultProvider) GetCredentials(ctx context.Context, ref string) (*Credentials, error) {
	if ref == "" {
		return nil, ErrInvalidRef
	}

	secret, err := p.client.KVv2(p.mountPoint).Get(ctx, ref)
	if err != nil {
		if errors.Is(err, vaultapi.ErrSecretNotFound) {
			return nil, ErrCredentialsNotFound
		}
		p.logger.Warn("vault read failed",
			zap.String("ref", ref),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	key, keyOK := secret.Data[vaultFieldAPIKey].(string)
	sec, secOK := secret.Data[vaultFieldAPISecret].(string)
	if !keyOK || !secOK || key == "" || sec == "" {
		return nil, fmt.Errorf("%w: secret at %q is missing %s or %s",
			ErrCredentialsNotFound, ref, vaultFieldAPIKey, vaultFieldAPISecret)
	}

	return &Credentials{APIKey: key, APISecret: sec}, nil
}

// Close implements Provider.
func (p *VaultProvider) Close() error {
	return nil
}
