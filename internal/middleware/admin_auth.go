package middleware

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
)

// AdminKeyHeader carries the operator API key.
const AdminKeyHeader = "X-Admin-Key"

// AdminAuth guards operator endpoints with an API key checked against a
// bcrypt hash. An empty hash disables the endpoints entirely.
func AdminAuth(keyHash string) fiber.Handler {
	hash := []byte(strings.TrimSpace(keyHash))
	return func(c *fiber.Ctx) error {
		if len(hash) == 0 {
			return fiber.NewError(http.StatusForbidden, "admin API is disabled")
		}
		key := strings.TrimSpace(c.Get(AdminKeyHeader))
		if key == "" {
			return fiber.NewError(http.StatusUnauthorized, "missing admin key")
		}
		if err := bcrypt.CompareHashAndPassword(hash, []byte(key)); err != nil {
			return fiber.NewError(http.StatusUnauthorized, "invalid admin key")
		}
		c.Locals("admin", true)
		return c.Next()
	}
}
