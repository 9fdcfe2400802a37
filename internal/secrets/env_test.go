package secrets

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opitios-ai/alpaca-gateway/internal/config"
)

func TestEnvProvider_GetCredentials(t *testing.T) {
	t.Setenv("ALPACA_PAPER_MAIN_API_KEY", "AKTEST")
	t.Setenv("ALPACA_PAPER_MAIN_API_SECRET", "sekret")

	p := NewEnvProvider("", nil)
	assert.Equal(t, ProviderTypeEnv, p.Type())

	creds, err := p.GetCredentials(context.Background(), "PAPER_MAIN")
	require.NoError(t, err)
	assert.Equal(t, "AKTEST", creds.APIKey)
	assert.Equal(t, "sekret", creds.APISecret)
}

func TestEnvProvider_RefNormalization(t *testing.T) {
	t.Setenv("GW_ACCT_A_1_API_KEY", "key")
	t.Setenv("GW_ACCT_A_1_API_SECRET", "secret")

	p := NewEnvProvider("GW_", nil)

	for _, ref := range []string{"acct-a.1", "acct-a/1", "ACCT_A_1"} {
		creds, err := p.GetCredentials(context.Background(), ref)
		require.NoError(t, err, "ref %s", ref)
		assert.Equal(t, "key", creds.APIKey)
	}
}

func TestEnvProvider_Missing(t *testing.T) {
	p := NewEnvProvider("NOPE_", nil)

	_, err := p.GetCredentials(context.Background(), "absent")
	assert.ErrorIs(t, err, ErrCredentialsNotFound)

	_, err = p.GetCredentials(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidRef)
}

func TestCredentials_StringRedacts(t *testing.T) {
	c := &Credentials{APIKey: "AKSECRET", APISecret: "hidden"}
	s := c.String()
	assert.NotContains(t, s, "AKSECRET")
	assert.NotContains(t, s, "hidden")
}

func TestNewProvider(t *testing.T) {
	p, err := NewProvider(config.SecretsConfig{Provider: "env"}, nil)
	require.NoError(t, err)
	assert.Equal(t, ProviderTypeEnv, p.Type())

	_, err = NewProvider(config.SecretsConfig{Provider: "consul"}, nil)
	assert.Error(t, err)
}
