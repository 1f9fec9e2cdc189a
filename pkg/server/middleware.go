package server

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sigweihq/companionpay/pkg/metrics"
	"github.com/sigweihq/companionpay/pkg/session"
	"github.com/sigweihq/companionpay/pkg/types"
	"golang.org/x/time/rate"
)

const (
	ctxUserID        = "user_id"
	ctxWalletAddress = "wallet_address"
)

// RequestLogger logs method, route, status and duration of every request
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}

// Instrument records request metrics labelled by route template
func Instrument(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		m.HTTPStarted()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.HTTPFinished(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}

// TokenParser validates session tokens
type TokenParser interface {
	Parse(token string) (*session.Claims, error)
}

// AuthRequired validates the bearer token and stores the caller in the context
func AuthRequired(tokens TokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, types.ErrorResponse{Error: "missing authorization header", Code: "unauthenticated"})
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, types.ErrorResponse{Error: "invalid authorization format", Code: "unauthenticated"})
			return
		}
		claims, err := tokens.Parse(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, types.ErrorResponse{Error: "invalid or expired token", Code: "unauthenticated"})
			return
		}
		c.Set(ctxUserID, claims.UserID)
		c.Set(ctxWalletAddress, claims.WalletAddress)
		c.Next()
	}
}

// GetUserID returns the authenticated user id (must be used after AuthRequired)
func GetUserID(c *gin.Context) string {
	return c.GetString(ctxUserID)
}

// RateLimiter is a token bucket per caller
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	limit    rate.Limit
	burst    int
	ttl      time.Duration
}

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*limiterEntry),
		limit:    rate.Limit(perSecond),
		burst:    burst,
		ttl:      10 * time.Minute,
	}
}

// Allow consumes a token for key
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	e, ok := r.limiters[key]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(r.limit, r.burst)}
		r.limiters[key] = e
		if len(r.limiters)%256 == 0 {
			r.evictLocked(now)
		}
	}
	e.lastSeen = now
	return e.lim.AllowN(now, 1)
}

func (r *RateLimiter) evictLocked(now time.Time) {
	for k, e := range r.limiters {
		if now.Sub(e.lastSeen) > r.ttl {
			delete(r.limiters, k)
		}
	}
}

// RateLimit limits by authenticated user, falling back to client IP
func RateLimit(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := GetUserID(c)
		if key == "" {
			key = c.ClientIP()
		}
		if !limiter.Allow(key) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, types.VerifyPaymentResponse{
				Success: false,
				Error:   "too many verification attempts, slow down",
				Code:    "rate_limited",
			})
			return
		}
		c.Next()
	}
}
