// Package upstream provides the broker API client used by pooled
// connections. The pool treats a client as an opaque, reusable handle;
// only this package touches credential material and the wire protocol.
package upstream

import (
	"context"
	"time"
)

// Client is one account's handle to the broker API.
type Client interface {
	// Verify issues a cheap idempotent "who am I" call. It is the
	// liveness probe used by pool health checks.
	Verify(ctx context.Context) error

	// Account returns the trading account snapshot.
	Account(ctx context.Context) (*AccountInfo, error)

	// PlaceOrder submits an order.
	PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error)

	// Quote returns the latest quote for a symbol.
	Quote(ctx context.Context, symbol string) (*Quote, error)
}

// AccountInfo is the broker's view of a trading account.
type AccountInfo struct {
	ID          string  `json:"id"`
	Status      string  `json:"status"`
	Currency    string  `json:"currency"`
	Cash        float64 `json:"cash,string"`
	BuyingPower float64 `json:"buying_power,string"`
	Equity      float64 `json:"equity,string"`
}

// OrderRequest describes an order to submit.
type OrderRequest struct {
	Symbol      string   `json:"symbol"`
	Qty         float64  `json:"qty,string"`
	Side        string   `json:"side"`
	Type        string   `json:"type"`
	TimeInForce string   `json:"time_in_force"`
	LimitPrice  *float64 `json:"limit_price,string,omitempty"`
}

// Order is a submitted order as reported by the broker.
type Order struct {
	ID          string     `json:"id"`
	Symbol      string     `json:"symbol"`
	Qty         float64    `json:"qty,string"`
	Side        string     `json:"side"`
	Type        string     `json:"type"`
	Status      string     `json:"status"`
	SubmittedAt time.Time  `json:"submitted_at"`
	FilledAt    *time.Time `json:"filled_at,omitempty"`
}

// Quote is the latest bid/ask for a symbol.
type Quote struct {
	Symbol    string    `json:"symbol"`
	BidPrice  float64   `json:"bp"`
	BidSize   int       `json:"bs"`
	AskPrice  float64   `json:"ap"`
	AskSize   int       `json:"as"`
	Timestamp time.Time `json:"t"`
}
