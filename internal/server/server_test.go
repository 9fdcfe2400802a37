package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/opitios-ai/alpaca-gateway/internal/config"
	"github.com/opitios-ai/alpaca-gateway/internal/pool"
	"github.com/opitios-ai/alpaca-gateway/internal/ratelimit"
	"github.com/opitios-ai/alpaca-gateway/internal/secrets"
	"github.com/opitios-ai/alpaca-gateway/internal/upstream"
)

const testJWTSecret = "test-signing-secret"

// stubClient is a canned upstream client for handler tests.
type stubClient struct {
	mu        sync.Mutex
	verifyErr error
	orderErr  error
}

func (s *stubClient) Verify(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.verifyErr
}

func (s *stubClient) Account(ctx context.Context) (*upstream.AccountInfo, error) {
	return &upstream.AccountInfo{ID: "upstream-acct", Status: "ACTIVE", Cash: 1000}, nil
}

func (s *stubClient) PlaceOrder(ctx context.Context, req upstream.OrderRequest) (*upstream.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.orderErr != nil {
		return nil, s.orderErr
	}
	return &upstream.Order{ID: "order-1", Symbol: req.Symbol, Status: "accepted"}, nil
}

func (s *stubClient) Quote(ctx context.Context, symbol string) (*upstream.Quote, error) {
	return &upstream.Quote{Symbol: symbol, BidPrice: 100, AskPrice: 101}, nil
}

type stubSecrets struct{}

func (stubSecrets) Type() string { return "stub" }
func (stubSecrets) GetCredentials(ctx context.Context, ref string) (*secrets.Credentials, error) {
	return &secrets.Credentials{APIKey: "k", APISecret: "s"}, nil
}
func (stubSecrets) Close() error { return nil }

type serverFixture struct {
	client  *stubClient
	rateCfg config.RateLimitConfig
}

type fixtureOption func(*serverFixture)

func withRateRules(cfg config.RateLimitConfig) fixtureOption {
	return func(f *serverFixture) { f.rateCfg = cfg }
}

func withClient(client *stubClient) fixtureOption {
	return func(f *serverFixture) { f.client = client }
}

func newTestServer(t *testing.T, opts ...fixtureOption) *Server {
	t.Helper()

	f := &serverFixture{
		client: &stubClient{},
		rateCfg: config.RateLimitConfig{
			Backend: ratelimit.BackendMemory,
			Default: config.RateLimitRule{Limit: 100, Window: config.Duration(time.Minute)},
		},
	}
	for _, opt := range opts {
		opt(f)
	}

	accounts := []config.AccountConfig{
		{ID: "acct-1", CredentialsRef: "ref-1", Enabled: true, MaxConnections: 2},
		{ID: "acct-2", CredentialsRef: "ref-2", Enabled: true, MaxConnections: 2},
	}
	poolCfg := config.PoolConfig{
		HealthCheckInterval: config.Duration(time.Hour),
		EvictionInterval:    config.Duration(time.Hour),
		IdleTimeout:         config.Duration(time.Hour),
	}
	factory := func(creds *secrets.Credentials) upstream.Client { return f.client }

	registry := pool.NewRegistry(accounts, poolCfg, factory, stubSecrets{}, zap.NewNop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		registry.Stop(ctx)
	})

	limiter := ratelimit.NewLimiter(f.rateCfg, zap.NewNop())
	t.Cleanup(func() { _ = limiter.Close() })

	return New(
		config.ServerConfig{JWTSecret: testJWTSecret},
		Deps{
			Registry:  registry,
			Router:    pool.NewRouter(registry, 1),
			Limiter:   limiter,
			RateRules: f.rateCfg,
			Logger:    zap.NewNop(),
		},
	)
}

func signToken(t *testing.T, sub string) string {
	t.Helper()

	tok, err := jwt.NewBuilder().
		Subject(sub).
		IssuedAt(time.Now()).
		Expiration(time.Now().Add(time.Hour)).
		Build()
	require.NoError(t, err)

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, []byte(testJWTSecret)))
	require.NoError(t, err)
	return string(signed)
}

func doRequest(t *testing.T, s *Server, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, req)
	return w
}

func TestHealthzWithoutAuth(t *testing.T) {
	s := newTestServer(t)
	w := doRequest(t, s, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name  string
		token string
	}{
		{name: "missing token", token: ""},
		{name: "garbage token", token: "not-a-jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, s, http.MethodGet, "/api/v1/account", tt.token, "")
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestAccountEndpoint(t *testing.T) {
	s := newTestServer(t)
	token := signToken(t, "user-1")

	w := doRequest(t, s, http.MethodGet, "/api/v1/account", token, "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		AccountID string               `json:"account_id"`
		Account   upstream.AccountInfo `json:"account"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.AccountID)
	assert.Equal(t, "upstream-acct", resp.Account.ID)
}

func TestAccountEndpointPinned(t *testing.T) {
	s := newTestServer(t)
	token := signToken(t, "user-1")

	w := doRequest(t, s, http.MethodGet, "/api/v1/account?account_id=acct-2", token, "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		AccountID string `json:"account_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "acct-2", resp.AccountID)
}

func TestAccountEndpointUnknownAccount(t *testing.T) {
	s := newTestServer(t)
	token := signToken(t, "user-1")

	w := doRequest(t, s, http.MethodGet, "/api/v1/account?account_id=nope", token, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPlaceOrderHashRouting(t *testing.T) {
	s := newTestServer(t)
	token := signToken(t, "user-1")
	body := `{"symbol":"AAPL","qty":"1","side":"buy","type":"market","time_in_force":"day"}`

	var firstAccount string
	for i := 0; i < 3; i++ {
		w := doRequest(t, s, http.MethodPost, "/api/v1/orders", token, body)
		require.Equal(t, http.StatusCreated, w.Code)

		var resp struct {
			AccountID string         `json:"account_id"`
			Order     upstream.Order `json:"order"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "AAPL", resp.Order.Symbol)

		if firstAccount == "" {
			firstAccount = resp.AccountID
		} else {
			assert.Equal(t, firstAccount, resp.AccountID, "same symbol routes to the same account")
		}
	}
}

func TestPlaceOrderValidation(t *testing.T) {
	s := newTestServer(t)
	token := signToken(t, "user-1")

	w := doRequest(t, s, http.MethodPost, "/api/v1/orders", token, `{"side":"buy"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, s, http.MethodPost, "/api/v1/orders", token, `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQuoteEndpoint(t *testing.T) {
	s := newTestServer(t)
	token := signToken(t, "user-1")

	w := doRequest(t, s, http.MethodGet, "/api/v1/quotes/TSLA", token, "")
	require.Equal(t, http.StatusOK, w.Code)

	var quote upstream.Quote
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &quote))
	assert.Equal(t, "TSLA", quote.Symbol)
}

func TestPoolStatsEndpoint(t *testing.T) {
	s := newTestServer(t)
	token := signToken(t, "user-1")

	// Touch the pool first so stats have something to report.
	w := doRequest(t, s, http.MethodGet, "/api/v1/account?account_id=acct-1", token, "")
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(t, s, http.MethodGet, "/api/v1/pool/stats", token, "")
	require.Equal(t, http.StatusOK, w.Code)

	var stats pool.RegistryStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.TotalAccounts)
	assert.Equal(t, 1, stats.TotalConnections)
}

func TestConnectionFailureIsBadGateway(t *testing.T) {
	s := newTestServer(t, withClient(&stubClient{verifyErr: errors.New("refused")}))
	token := signToken(t, "user-1")

	w := doRequest(t, s, http.MethodGet, "/api/v1/account?account_id=acct-1", token, "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.NotContains(t, w.Body.String(), "refused", "upstream detail stays opaque")
}

func TestRateLimitRejectsWithHeaders(t *testing.T) {
	s := newTestServer(t, withRateRules(config.RateLimitConfig{
		Backend: ratelimit.BackendMemory,
		Default: config.RateLimitRule{Limit: 100, Window: config.Duration(time.Minute)},
		Rules: map[string]config.RateLimitRule{
			"quotes": {Limit: 2, Window: config.Duration(time.Minute)},
		},
	}))
	token := signToken(t, "user-1")

	for i := 0; i < 2; i++ {
		w := doRequest(t, s, http.MethodGet, "/api/v1/quotes/AAPL", token, "")
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := doRequest(t, s, http.MethodGet, "/api/v1/quotes/AAPL", token, "")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
}

// Users and endpoints are limited independently.
func TestRateLimitIsolation(t *testing.T) {
	s := newTestServer(t, withRateRules(config.RateLimitConfig{
		Backend: ratelimit.BackendMemory,
		Default: config.RateLimitRule{Limit: 100, Window: config.Duration(time.Minute)},
		Rules: map[string]config.RateLimitRule{
			"quotes": {Limit: 1, Window: config.Duration(time.Minute)},
		},
	}))
	alice := signToken(t, "alice")
	bob := signToken(t, "bob")

	w := doRequest(t, s, http.MethodGet, "/api/v1/quotes/AAPL", alice, "")
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(t, s, http.MethodGet, "/api/v1/quotes/AAPL", alice, "")
	require.Equal(t, http.StatusTooManyRequests, w.Code)

	// A different user is unaffected, and so is a different endpoint
	// for the limited user.
	w = doRequest(t, s, http.MethodGet, "/api/v1/quotes/AAPL", bob, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(t, s, http.MethodGet, "/api/v1/account", alice, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestShutdownWithoutStart(t *testing.T) {
	s := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Shutdown(ctx))
}
