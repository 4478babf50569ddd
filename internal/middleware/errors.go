package middleware

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"
)

const internalErrorMessage = "An error occurred processing your request"

// ErrorHandler renders handler errors as {"error": message}. Messages of
// *fiber.Error values are client-facing; anything else is logged and hidden
// behind a generic 500.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
		}

		requestID, _ := c.Locals(requestIDHeader).(string)
		logger.Error("unhandled request error",
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.String("request_id", requestID),
			slog.Any("error", err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": internalErrorMessage})
	}
}
