package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/opitios-ai/alpaca-gateway/internal/config"
	"github.com/opitios-ai/alpaca-gateway/internal/secrets"
)

// Alpaca-style authentication headers.
const (
	headerAPIKey    = "APCA-API-KEY-ID"
	headerAPISecret = "APCA-API-SECRET-KEY"
)

// APIError is a non-2xx response from the broker API.
type APIError struct {
	Status  int    `json:"-"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("upstream api error: status=%d code=%d %s", e.Status, e.Code, e.Message)
}

// Factory builds a Client for one account's credentials. The pool calls
// it during connection construction so it never holds raw credentials.
type Factory func(creds *secrets.Credentials) Client

// NewFactory returns a Factory producing HTTP clients with shared
// transport settings and per-account request pacing.
func NewFactory(cfg config.UpstreamConfig) Factory {
	timeout := cfg.Timeout.Duration()
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}

	return func(creds *secrets.Credentials) Client {
		return newHTTPClient(cfg, creds, httpClient)
	}
}

// HTTPClient implements Client against the broker's REST API.
type HTTPClient struct {
	baseURL    string
	dataURL    string
	apiKey     string
	apiSecret  string
	httpClient *http.Client

	// limiter paces calls toward the vendor's per-account cap.
	limiter *rate.Limiter
}

var _ Client = (*HTTPClient)(nil)

func newHTTPClient(cfg config.UpstreamConfig, creds *secrets.Credentials, httpClient *http.Client) *HTTPClient {
	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		perSecond := rate.Limit(float64(cfg.RequestsPerMinute) / 60.0)
		limiter = rate.NewLimiter(perSecond, cfg.RequestsPerMinute/10+1)
	}

	return &HTTPClient{
		baseURL:    cfg.BaseURL,
		dataURL:    cfg.DataURL,
		apiKey:     creds.APIKey,
		apiSecret:  creds.APISecret,
		httpClient: httpClient,
		limiter:    limiter,
	}
}

// Verify implements Client.
func (c *HTTPClient) Verify(ctx context.Context) error {
	var out AccountInfo
	return c.do(ctx, http.MethodGet, c.baseURL+"/v2/account", nil, &out)
}

// Account implements Client.
func (c *HTTPClient) Account(ctx context.Context) (*AccountInfo, error) {
	var out AccountInfo
	if err := c.do(ctx, http.MethodGet, c.baseURL+"/v2/account", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PlaceOrder implements Client.
func (c *HTTPClient) PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	var out Order
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/v2/orders", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Quote implements Client.
func (c *HTTPClient) Quote(ctx context.Context, symbol string) (*Quote, error) {
	endpoint := c.dataURL + "/v2/stocks/" + url.PathEscape(symbol) + "/quotes/latest"

	// The data API nests the quote under "quote".
	var out struct {
		Symbol string `json:"symbol"`
		Quote  Quote  `json:"quote"`
	}
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		return nil, err
	}
	out.Quote.Symbol = out.Symbol
	return &out.Quote, nil
}

func (c *HTTPClient) do(ctx context.Context, method, endpoint string, body, out interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("request pacing interrupted: %w", err)
		}
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set(headerAPIKey, c.apiKey)
	req.Header.Set(headerAPISecret, c.apiSecret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		apiErr := &APIError{Status: resp.StatusCode}
		if decodeErr := json.NewDecoder(resp.Body).Decode(apiErr); decodeErr != nil {
			apiErr.Message = resp.Status
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
