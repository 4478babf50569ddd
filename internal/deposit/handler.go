package deposit

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

// Handler exposes the deposit endpoint.
type Handler struct {
	service  *Service
	validate *validator.Validate
	logger   *slog.Logger
}

// NewHandler builds a deposit HTTP handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, validate: validator.New(), logger: logger}
}

type depositRequest struct {
	UserAddress string           `json:"userAddress" validate:"required"`
	Amount      *decimal.Decimal `json:"amount" validate:"required"`
	Currency    string           `json:"currency" validate:"omitempty,alphanum,max=10"`
	TxHash      string           `json:"txHash" validate:"required"`
}

type depositResponse struct {
	Success    bool        `json:"success"`
	TxHash     string      `json:"txHash"`
	NewBalance json.Number `json:"newBalance"`
	Duplicate  bool        `json:"duplicate,omitempty"`
}

// Deposit credits a client-submitted transfer to the ledger.
func (h *Handler) Deposit(c *fiber.Ctx) error {
	var req depositRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "Invalid request body")
	}
	req.UserAddress = strings.TrimSpace(req.UserAddress)
	req.TxHash = strings.TrimSpace(req.TxHash)
	if err := h.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 && verrs[0].Field() == "Currency" {
			return fiber.NewError(http.StatusBadRequest, "Invalid currency")
		}
		return fiber.NewError(http.StatusBadRequest, "Missing required fields: userAddress, amount, txHash")
	}

	res, err := h.service.Deposit(c.UserContext(), Request{
		Address:  req.UserAddress,
		Amount:   req.Amount,
		Currency: req.Currency,
		TxHash:   req.TxHash,
	})
	switch {
	case err == nil:
		return c.Status(http.StatusOK).JSON(depositResponse{
			Success:    true,
			TxHash:     res.TxHash,
			NewBalance: json.Number(res.NewBalance.String()),
			Duplicate:  res.Duplicate,
		})
	case errors.Is(err, ErrInvalidRequest):
		return fiber.NewError(http.StatusBadRequest, "Missing required fields: userAddress, amount, txHash")
	case errors.Is(err, ErrInvalidAddress):
		return fiber.NewError(http.StatusBadRequest, "Invalid BNB (EVM) wallet address")
	case errors.Is(err, ErrInvalidAmount):
		return fiber.NewError(http.StatusBadRequest, "Deposit amount must be greater than zero")
	case errors.Is(err, ErrInvalidTxHash):
		return fiber.NewError(http.StatusBadRequest, "Invalid transaction hash")
	case errors.Is(err, ErrUnverified):
		return fiber.NewError(http.StatusBadRequest, "Deposit transaction could not be verified on chain")
	case errors.Is(err, ErrServiceUnavailable):
		return fiber.NewError(http.StatusServiceUnavailable, "Deposit verification temporarily unavailable. Please try again later.")
	case errors.Is(err, ErrNotRecorded):
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error":  "Deposit received but the balance update failed. Support has been notified.",
			"txHash": res.TxHash,
		})
	default:
		h.logger.Error("deposit.unexpected_error", slog.Any("error", err))
		return fiber.NewError(http.StatusInternalServerError, "An error occurred processing your request")
	}
}
