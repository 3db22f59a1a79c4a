package middleware

import (
	"fmt"
	"time"

	apperrors "github.com/NomadCrew/nomad-crew-ledger/errors"
	"github.com/NomadCrew/nomad-crew-ledger/logger"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// WriteRateLimiter caps ledger writes per client IP and trip within a fixed
// window. The window starts at the first INCR; EXPIRE NX never moves it, so
// a client over the limit is released when it ends. If Redis is unavailable
// the request is let through.
//
// The client IP comes from gin's ClientIP, which honours forwarding headers
// only from the engine's trusted proxies.
func WriteRateLimiter(redisClient redis.UniversalClient, requestsPerWindow int, window time.Duration) gin.HandlerFunc {
	log := logger.GetLogger()

	return func(c *gin.Context) {
		ctx := c.Request.Context()
		key := writeRateKey(c.Param("id"), c.ClientIP())

		pipe := redisClient.TxPipeline()
		incr := pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, window)

		if _, err := pipe.Exec(ctx); err != nil {
			log.Warnw("Rate limit check failed, allowing request", "key", key, "error", err)
			c.Next()
			return
		}

		count := incr.Val()
		if count > int64(requestsPerWindow) {
			ttl, err := redisClient.TTL(ctx, key).Result()
			if err != nil || ttl <= 0 {
				ttl = window
			}

			c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", requestsPerWindow))
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", time.Now().Add(ttl).Unix()))
			c.Header("Retry-After", fmt.Sprintf("%d", int(ttl.Seconds())))

			_ = c.Error(apperrors.RateLimitExceeded("Too many ledger updates. Please try again later.", int(ttl.Seconds())))
			c.Abort()
			return
		}

		remaining := requestsPerWindow - int(count)
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", requestsPerWindow))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))

		c.Next()
	}
}

func writeRateKey(tripID, clientIP string) string {
	return fmt.Sprintf("ratelimit:ledger:write:%s:%s", tripID, clientIP)
}
