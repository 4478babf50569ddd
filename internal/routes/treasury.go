package routes

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

// treasuryView is the part of the signer the treasury route reads.
type treasuryView interface {
	Address() common.Address
	Balance(ctx context.Context) (decimal.Decimal, error)
}

// RegisterTreasuryRoutes exposes the treasury address and its live balance.
// Reading the balance also refreshes the treasury balance gauge.
func RegisterTreasuryRoutes(r fiber.Router, t treasuryView, currency string, logger *slog.Logger) {
	r.Get("/treasury", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
		defer cancel()

		balance, err := t.Balance(ctx)
		if err != nil {
			logger.Warn("treasury balance lookup failed", slog.Any("error", err))
			return fiber.NewError(http.StatusServiceUnavailable, "Treasury balance is temporarily unavailable")
		}
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"address":   t.Address().Hex(),
			"balance":   json.Number(balance.String()),
			"currency":  currency,
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
}
