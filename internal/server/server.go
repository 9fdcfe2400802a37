// Package server provides the HTTP surface of the gateway: JWT auth,
// per-user rate limiting and the trading endpoints backed by the
// connection pool.
package server

import (
	"context"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/opitios-ai/alpaca-gateway/internal/config"
	"github.com/opitios-ai/alpaca-gateway/internal/pool"
	"github.com/opitios-ai/alpaca-gateway/internal/ratelimit"
)

// ginModeOnce ensures gin.SetMode is only called once to avoid race conditions
var ginModeOnce sync.Once

// Server is the HTTP server wired to the pool registry and the rate
// limiter.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	logger     *zap.Logger
	cfg        config.ServerConfig

	mu      sync.Mutex
	running bool
}

// Deps carries the subsystems the HTTP layer depends on.
type Deps struct {
	Registry  *pool.Registry
	Router    *pool.Router
	Limiter   *ratelimit.Limiter
	RateRules config.RateLimitConfig
	Logger    *zap.Logger
}

// New creates the server and registers all routes.
func New(cfg config.ServerConfig, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	ginModeOnce.Do(func() {
		gin.SetMode(gin.ReleaseMode)
	})

	engine := gin.New()
	engine.Use(Recovery(deps.Logger))
	engine.Use(RequestLogging(deps.Logger))

	s := &Server{
		engine: engine,
		logger: deps.Logger,
		cfg:    cfg,
	}
	s.registerRoutes(deps)
	return s
}

func (s *Server) registerRoutes(deps Deps) {
	h := newHandlers(deps.Registry, deps.Router, s.logger)

	s.engine.GET("/healthz", h.healthz)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.engine.Group("/api/v1")
	api.Use(Auth([]byte(s.cfg.JWTSecret), s.logger))

	limited := func(endpoint string) gin.HandlerFunc {
		return RateLimit(deps.Limiter, deps.RateRules, endpoint, s.logger)
	}

	api.GET("/account", limited("account"), h.account)
	api.POST("/orders", limited("orders"), h.placeOrder)
	api.GET("/quotes/:symbol", limited("quotes"), h.quote)
	api.GET("/pool/stats", limited("pool_stats"), h.poolStats)
}

// Engine exposes the gin engine. Used by tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Start begins serving and blocks until the listener closes.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.httpServer = &http.Server{
		Addr:         s.cfg.ListenAddress,
		Handler:      s.engine,
		ReadTimeout:  s.cfg.ReadTimeout.Duration(),
		WriteTimeout: s.cfg.WriteTimeout.Duration(),
		IdleTimeout:  s.cfg.IdleTimeout.Duration(),
	}
	s.mu.Unlock()

	s.logger.Info("http server listening", zap.String("address", s.cfg.ListenAddress))

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.running = false
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
