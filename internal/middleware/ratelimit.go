package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sst-nyc/registration-api/internal/service"
	"github.com/sst-nyc/registration-api/pkg/config"
	appErrors "github.com/sst-nyc/registration-api/pkg/errors"
	"github.com/sst-nyc/registration-api/pkg/response"
)

// rateLimitStore is the slice of the Redis client the limiter needs.
type rateLimitStore interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// RateLimit bounds public intake submissions per client IP inside a rolling
// window. IPs are stored as salted hashes, never in the clear. On Redis
// errors the limiter fails open so an outage cannot block registrations.
func RateLimit(client *redis.Client, cfg config.RateLimitConfig, metricsSvc *service.MetricsService, logger *zap.Logger) gin.HandlerFunc {
	var store rateLimitStore
	if client != nil {
		store = client
	}
	return rateLimit(store, cfg, metricsSvc, logger)
}

func rateLimit(store rateLimitStore, cfg config.RateLimitConfig, metricsSvc *service.MetricsService, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	window := cfg.Window
	if window <= 0 {
		window = time.Minute
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	return func(c *gin.Context) {
		if !cfg.Enabled || store == nil {
			c.Next()
			return
		}

		key := "ratelimit:intake:" + hashIP(c.ClientIP(), cfg.Salt)
		ctx := c.Request.Context()

		count, err := store.Incr(ctx, key).Result()
		if err != nil {
			logger.Warn("rate limiter unavailable", zap.Error(err))
			c.Next()
			return
		}
		if count == 1 {
			if err := store.Expire(ctx, key, window).Err(); err != nil {
				logger.Warn("failed to set rate limit window", zap.Error(err))
			}
		}

		if count > int64(maxAttempts) {
			if metricsSvc != nil {
				metricsSvc.ObserveRateLimited()
			}
			response.Error(c, appErrors.ErrRateLimited)
			c.Abort()
			return
		}
		c.Next()
	}
}

func hashIP(ip, salt string) string {
	sum := sha256.Sum256([]byte(salt + "|" + ip))
	return hex.EncodeToString(sum[:])
}
