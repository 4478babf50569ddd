package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/bynomo/bynomo/internal/deposit"
	"github.com/bynomo/bynomo/internal/wallet"
	"github.com/bynomo/bynomo/internal/withdrawal"
)

// BalanceHandlers groups the handlers mounted under /balance.
type BalanceHandlers struct {
	Withdraw *withdrawal.Handler
	Deposit  *deposit.Handler
	Wallet   *wallet.Handler
}

// RegisterBalanceRoutes wires the house balance endpoints. Withdrawals are
// rate limited before the idempotency check so replays still count.
func RegisterBalanceRoutes(r fiber.Router, h BalanceHandlers, rateLimit, idempotent fiber.Handler) {
	r.Post("/balance/withdraw", rateLimit, idempotent, h.Withdraw.Withdraw)
	r.Post("/balance/deposit", idempotent, h.Deposit.Deposit)
	r.Get("/balance/:address", h.Wallet.Balance)
}
