package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/opitios-ai/alpaca-gateway/internal/pool"
	"github.com/opitios-ai/alpaca-gateway/internal/upstream"
)

type handlers struct {
	registry *pool.Registry
	router   *pool.Router
	logger   *zap.Logger
}

func newHandlers(registry *pool.Registry, router *pool.Router, logger *zap.Logger) *handlers {
	return &handlers{
		registry: registry,
		router:   router,
		logger:   logger,
	}
}

func (h *handlers) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// account returns the upstream account snapshot. The caller may pin an
// account with ?account_id=; otherwise the router picks one.
func (h *handlers) account(c *gin.Context) {
	accountID := c.Query("account_id")
	if accountID == "" {
		id, err := h.router.Pick(pool.StrategyRoundRobin, "")
		if err != nil {
			h.writePoolError(c, err)
			return
		}
		accountID = id
	}

	conn, err := h.registry.Acquire(c.Request.Context(), accountID)
	if err != nil {
		h.writePoolError(c, err)
		return
	}
	defer h.registry.Release(conn)

	start := time.Now()
	info, err := conn.Client().Account(c.Request.Context())
	if err != nil {
		conn.RecordError()
		h.writeUpstreamError(c, err)
		return
	}
	conn.RecordUse(time.Since(start))

	c.JSON(http.StatusOK, gin.H{
		"account_id": accountID,
		"account":    info,
	})
}

// placeOrder submits an order through a hash-routed account so a
// symbol's orders land on a stable account.
func (h *handlers) placeOrder(c *gin.Context) {
	var req upstream.OrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order payload"})
		return
	}
	if req.Symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required"})
		return
	}

	accountID, err := h.router.Pick(pool.StrategyHash, req.Symbol)
	if err != nil {
		h.writePoolError(c, err)
		return
	}

	conn, err := h.registry.Acquire(c.Request.Context(), accountID)
	if err != nil {
		h.writePoolError(c, err)
		return
	}
	defer h.registry.Release(conn)

	start := time.Now()
	order, err := conn.Client().PlaceOrder(c.Request.Context(), req)
	if err != nil {
		conn.RecordError()
		h.writeUpstreamError(c, err)
		return
	}
	conn.RecordUse(time.Since(start))

	c.JSON(http.StatusCreated, gin.H{
		"account_id": accountID,
		"order":      order,
	})
}

func (h *handlers) quote(c *gin.Context) {
	symbol := c.Param("symbol")

	accountID, err := h.router.Pick(pool.StrategyHash, symbol)
	if err != nil {
		h.writePoolError(c, err)
		return
	}

	conn, err := h.registry.Acquire(c.Request.Context(), accountID)
	if err != nil {
		h.writePoolError(c, err)
		return
	}
	defer h.registry.Release(conn)

	start := time.Now()
	quote, err := conn.Client().Quote(c.Request.Context(), symbol)
	if err != nil {
		conn.RecordError()
		h.writeUpstreamError(c, err)
		return
	}
	conn.RecordUse(time.Since(start))

	c.JSON(http.StatusOK, quote)
}

func (h *handlers) poolStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.registry.Stats())
}

// writePoolError maps pool sentinels to HTTP statuses. Messages stay
// opaque: no credential material, no other-account state.
func (h *handlers) writePoolError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, pool.ErrUnknownAccount):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown account"})
	case errors.Is(err, pool.ErrAccountDisabled):
		c.JSON(http.StatusForbidden, gin.H{"error": "account disabled"})
	case errors.Is(err, pool.ErrNoEnabledAccounts):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no accounts available"})
	case errors.Is(err, pool.ErrPoolSaturated), errors.Is(err, pool.ErrRegistryClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service unavailable"})
	case errors.Is(err, pool.ErrConnectionFailed):
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream connection failed"})
	default:
		h.logger.Error("pool error", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream connection failed"})
	}
}

func (h *handlers) writeUpstreamError(c *gin.Context, err error) {
	var apiErr *upstream.APIError
	if errors.As(err, &apiErr) {
		c.JSON(apiErr.Status, gin.H{"error": apiErr.Message})
		return
	}
	h.logger.Error("upstream error", zap.Error(err))
	c.JSON(http.StatusBadGateway, gin.H{"error": "upstream request failed"})
}
