package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
server:
  listenAddress: ":9090"
  jwtSecret: "test-secret"
accounts:
  - id: acct-premium
    credentialsRef: PREMIUM
    enabled: true
    tier: premium
  - id: acct-standard
    credentialsRef: STANDARD
    enabled: true
    tier: standard
    maxConnections: 5
  - id: acct-disabled
    credentialsRef: DISABLED
    enabled: false
    tier: standard
pool:
  healthCheckInterval: "5m"
  evictionInterval: "1m"
  idleTimeout: "30m"
rateLimit:
  backend: memory
  default:
    limit: 100
    window: "60s"
  rules:
    orders:
      limit: 10
      window: "60s"
`

func TestLoadFromReader_Valid(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(validYAML))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.ListenAddress)
	require.Len(t, cfg.Accounts, 3)

	// Tier defaults applied when maxConnections omitted.
	assert.Equal(t, DefaultPremiumMaxConnections, cfg.Accounts[0].MaxConnections)
	assert.Equal(t, 5, cfg.Accounts[1].MaxConnections)

	assert.Equal(t, 5*time.Minute, cfg.Pool.HealthCheckInterval.Duration())
	assert.Equal(t, time.Minute, cfg.Pool.EvictionInterval.Duration())
}

func TestLoadFromReader_Defaults(t *testing.T) {
	yaml := `
server:
  jwtSecret: "test-secret"
accounts:
  - id: a1
    credentialsRef: A1
    enabled: true
    tier: standard
`
	cfg, err := LoadFromReader(strings.NewReader(yaml))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.ListenAddress)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "env", cfg.Secrets.Provider)
	assert.Equal(t, "memory", cfg.RateLimit.Backend)
	assert.Equal(t, 120, cfg.RateLimit.Default.Limit)
	assert.True(t, cfg.Pool.BusyReuseEnabled())
}

func TestLoadFromReader_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "no accounts",
			yaml:    `server: {listenAddress: ":8080"}`,
			wantErr: "at least one account",
		},
		{
			name: "duplicate account id",
			yaml: `
accounts:
  - {id: a1, credentialsRef: A1, enabled: true, tier: standard}
  - {id: a1, credentialsRef: A2, enabled: true, tier: standard}
`,
			wantErr: "duplicate account id",
		},
		{
			name: "missing credentials ref",
			yaml: `
accounts:
  - {id: a1, enabled: true, tier: standard}
`,
			wantErr: "credentials reference is required",
		},
		{
			name: "unknown tier",
			yaml: `
accounts:
  - {id: a1, credentialsRef: A1, enabled: true, tier: gold}
`,
			wantErr: "unknown tier",
		},
		{
			name: "no enabled accounts",
			yaml: `
accounts:
  - {id: a1, credentialsRef: A1, enabled: false, tier: standard}
`,
			wantErr: "no accounts are enabled",
		},
		{
			name: "unknown rate limit backend",
			yaml: `
accounts:
  - {id: a1, credentialsRef: A1, enabled: true, tier: standard}
rateLimit:
  backend: etcd
`,
			wantErr: "unknown backend",
		},
		{
			name: "missing jwt secret",
			yaml: `
server: {listenAddress: ":8080"}
accounts:
  - {id: a1, credentialsRef: A1, enabled: true, tier: standard}
`,
			wantErr: "jwt signing secret is required",
		},
		{
			name: "negative max connections",
			yaml: `
accounts:
  - {id: a1, credentialsRef: A1, enabled: true, tier: standard, maxConnections: -1}
`,
			wantErr: "greater than zero",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromReader(strings.NewReader(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEnvVarSubstitution(t *testing.T) {
	t.Setenv("GW_TEST_ADDR", ":7070")

	yaml := `
server:
  listenAddress: "${GW_TEST_ADDR}"
  jwtSecret: "${GW_TEST_MISSING:-fallback}"
accounts:
  - {id: a1, credentialsRef: A1, enabled: true, tier: standard}
`
	cfg, err := LoadFromReader(strings.NewReader(yaml))
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.ListenAddress)
	assert.Equal(t, "fallback", cfg.Server.JWTSecret)
}

func TestEnabledAccounts(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(validYAML))
	require.NoError(t, err)

	enabled := cfg.EnabledAccounts()
	require.Len(t, enabled, 2)
	for _, a := range enabled {
		assert.True(t, a.Enabled)
		assert.NotEqual(t, "acct-disabled", a.ID)
	}
}

func TestRuleFor(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(validYAML))
	require.NoError(t, err)

	orders := cfg.RateLimit.RuleFor("orders")
	assert.Equal(t, 10, orders.Limit)

	fallback := cfg.RateLimit.RuleFor("quotes")
	assert.Equal(t, 100, fallback.Limit)
}

func TestDuration_Unmarshal(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{`"30s"`, 30 * time.Second},
		{`"5m"`, 5 * time.Minute},
		{`"1h30m"`, 90 * time.Minute},
		{`""`, 0},
		{`null`, 0},
	}

	for _, tt := range tests {
		var d Duration
		require.NoError(t, d.UnmarshalJSON([]byte(tt.in)))
		assert.Equal(t, tt.want, d.Duration(), "input %s", tt.in)
	}

	var d Duration
	assert.Error(t, d.UnmarshalJSON([]byte(`"not-a-duration"`)))
}
