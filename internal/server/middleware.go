package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"go.uber.org/zap"

	"github.com/opitios-ai/alpaca-gateway/internal/config"
	"github.com/opitios-ai/alpaca-gateway/internal/ratelimit"
)

const (
	// RequestIDHeader is the header name for request ID.
	RequestIDHeader = "X-Request-ID"

	// userIDKey is the gin context key holding the authenticated
	// caller's subject.
	userIDKey = "userID"
)

// RequestLogging logs each request with a request id, tagging failures
// at warn or error level.
func RequestLogging(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Header(RequestIDHeader, requestID)

		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("requestID", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("clientIP", c.ClientIP()),
		}

		switch {
		case status >= 500:
			logger.Error("request failed", fields...)
		case status >= 400:
			logger.Warn("request rejected", fields...)
		default:
			logger.Debug("request completed", fields...)
		}
	}
}

// Recovery converts handler panics into a 500 without leaking internals.
func Recovery(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("handler panic",
					zap.Any("panic", r),
					zap.String("path", c.Request.URL.Path),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": "internal server error",
				})
			}
		}()
		c.Next()
	}
}

// Auth validates the HS256 bearer token and stores the subject in the
// request context.
func Auth(secret []byte, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok, err := jwt.ParseRequest(c.Request,
			jwt.WithKey(jwa.HS256, secret),
			jwt.WithValidate(true),
		)
		if err != nil {
			logger.Debug("token rejected",
				zap.String("path", c.Request.URL.Path),
				zap.Error(err),
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or missing token",
			})
			return
		}

		sub := tok.Subject()
		if sub == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "token has no subject",
			})
			return
		}

		c.Set(userIDKey, sub)
		c.Next()
	}
}

// RateLimit enforces the endpoint's rule for the authenticated user.
// Rejections answer 429 with the standard X-RateLimit headers; the
// limiter itself never fails a request.
func RateLimit(
	limiter *ratelimit.Limiter,
	rules config.RateLimitConfig,
	endpoint string,
	logger *zap.Logger,
) gin.HandlerFunc {
	rule := rules.RuleFor(endpoint)

	return func(c *gin.Context) {
		if rule.Limit <= 0 {
			c.Next()
			return
		}

		identifier := "user:" + c.GetString(userIDKey) + ":" + endpoint
		d, _ := limiter.Allow(c.Request.Context(), identifier, rule.Limit, rule.Window.Duration())

		c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

		if !d.Allowed {
			logger.Debug("rate limit exceeded",
				zap.String("identifier", identifier),
				zap.Int("limit", d.Limit),
			)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate limit exceeded",
				"limit":   d.Limit,
				"current": d.Current,
			})
			return
		}
		c.Next()
	}
}
