package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/bynomo/bynomo/internal/session"
)

// RegisterSessionRoutes wires the wallet session resolver.
func RegisterSessionRoutes(r fiber.Router) {
	r.Post("/session/resolve", session.ResolveHandler)
}
