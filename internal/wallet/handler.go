package wallet

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/bynomo/bynomo/internal/ledger"
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type balanceResponse struct {
	UserAddress string      `json:"userAddress"`
	Currency    string      `json:"currency"`
	Balance     json.Number `json:"balance"`
	Status      string      `json:"status"`
	Tier        string      `json:"tier"`
	UpdatedAt   time.Time   `json:"updatedAt"`
	Timestamp   time.Time   `json:"timestamp"`
}

// Balance returns the house balance of a wallet.
func (h *Handler) Balance(c *fiber.Ctx) error {
	bal, err := h.service.Balance(c.UserContext(), c.Params("address"), c.Query("currency"))
	switch {
	case errors.Is(err, ErrInvalidAddress):
		return fiber.NewError(http.StatusBadRequest, "Invalid BNB (EVM) wallet address")
	case errors.Is(err, ledger.ErrAccountNotFound):
		return fiber.NewError(http.StatusNotFound, "User record not found")
	case err != nil:
		return err
	}
	return c.Status(http.StatusOK).JSON(balanceResponse{
		UserAddress: bal.Address,
		Currency:    bal.Currency,
		Balance:     json.Number(bal.Account.Balance.String()),
		Status:      string(bal.Account.Status),
		Tier:        string(bal.Account.Tier),
		UpdatedAt:   bal.Account.UpdatedAt,
		Timestamp:   bal.FetchedAt,
	})
}
