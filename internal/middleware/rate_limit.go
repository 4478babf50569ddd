package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const withdrawRateLimitPrefix = "rl:withdraw:"

// incrWindow counts one attempt and (re)arms the window whenever the counter
// has no expiry, so a lost EXPIRE can never pin the counter forever.
var incrWindow = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if redis.call("PTTL", KEYS[1]) < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// WithdrawRateLimit caps withdrawal attempts per wallet address (or client IP
// when the body carries none) to maxPerMin in a fixed one-minute window.
// Without Redis, or when Redis fails, requests pass through.
func WithdrawRateLimit(cache *redis.Client, maxPerMin int) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 5
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next()
		}
		var req struct {
			UserAddress string `json:"userAddress"`
		}
		_ = c.BodyParser(&req)
		subject := strings.ToLower(strings.TrimSpace(req.UserAddress))
		if subject == "" {
			subject = c.IP()
		}
		key := withdrawRateLimitPrefix + subject
		cnt, err := incrWindow.Run(c.UserContext(), cache, []string{key}, time.Minute.Milliseconds()).Int64()
		if err != nil {
			return c.Next() // fail-open on cache errors
		}
		if cnt > int64(maxPerMin) {
			return fiber.NewError(http.StatusTooManyRequests, "Too many withdrawal attempts. Please try again in a minute.")
		}
		return c.Next()
	}
}
