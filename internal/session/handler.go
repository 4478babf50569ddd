package session

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// ResolveHandler resolves the identity for the posted provider snapshot.
func ResolveHandler(c *fiber.Ctx) error {
	var in Input
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(http.StatusBadRequest, "Invalid request body")
	}
	return c.JSON(Resolve(in))
}
