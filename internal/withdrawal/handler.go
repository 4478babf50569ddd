package withdrawal

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/bynomo/bynomo/internal/ledger"
	"github.com/bynomo/bynomo/internal/middleware"
	"github.com/bynomo/bynomo/internal/treasury"
)

const pendingMessage = "A previous withdrawal for this account is awaiting reconciliation. Please contact support."

const unavailableMessage = "Withdrawal temporarily unavailable. The treasury may need to be topped up. Please try again later or contact support."

// Handler exposes the withdrawal endpoint.
type Handler struct {
	service  *Service
	validate *validator.Validate
	logger   *slog.Logger
}

// NewHandler builds a withdrawal HTTP handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, validate: validator.New(), logger: logger}
}

// withdrawRequest is the JSON body. Amount accepts a JSON number or a numeric
// string.
type withdrawRequest struct {
	UserAddress string           `json:"userAddress" validate:"required"`
	Amount      *decimal.Decimal `json:"amount" validate:"required"`
	Currency    string           `json:"currency" validate:"omitempty,alphanum,max=10"`
}

type withdrawResponse struct {
	Success    bool        `json:"success"`
	TxHash     string      `json:"txHash"`
	NewBalance json.Number `json:"newBalance,omitempty"`
	Warning    string      `json:"warning,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// Withdraw pays out from the treasury and debits the ledger.
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	var req withdrawRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "Invalid request body")
	}
	req.UserAddress = strings.TrimSpace(req.UserAddress)
	if err := h.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 && verrs[0].Field() == "Currency" {
			return fiber.NewError(http.StatusBadRequest, "Invalid currency")
		}
		return fiber.NewError(http.StatusBadRequest, "Missing required fields: userAddress, amount")
	}

	res, err := h.service.Withdraw(c.UserContext(), Request{
		Address:  req.UserAddress,
		Amount:   req.Amount,
		Currency: req.Currency,
	})
	if err != nil {
		return h.mapError(c, res, err)
	}

	if res.State == StateCompletedWithWarning {
		return c.Status(http.StatusOK).JSON(withdrawResponse{
			Success: true,
			TxHash:  res.TxHash,
			Warning: res.Warning,
			Error:   res.LedgerError,
		})
	}
	return c.Status(http.StatusOK).JSON(withdrawResponse{
		Success:    true,
		TxHash:     res.TxHash,
		NewBalance: json.Number(res.NewBalance.String()),
	})
}

func (h *Handler) mapError(c *fiber.Ctx, res Result, err error) error {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return fiber.NewError(http.StatusBadRequest, "Missing required fields: userAddress, amount")
	case errors.Is(err, ErrInvalidAddress):
		return fiber.NewError(http.StatusBadRequest, "Invalid BNB (EVM) wallet address")
	case errors.Is(err, ErrInvalidAmount):
		return fiber.NewError(http.StatusBadRequest, "Withdrawal amount must be greater than zero")
	case errors.Is(err, ledger.ErrAccountNotFound):
		return fiber.NewError(http.StatusNotFound, "User record not found")
	case errors.Is(err, ErrFrozen):
		return fiber.NewError(http.StatusForbidden, "Account is frozen. Withdrawals are disabled.")
	case errors.Is(err, ErrBanned):
		return fiber.NewError(http.StatusForbidden, "Account is banned.")
	case errors.Is(err, ErrInsufficientBalance):
		return fiber.NewError(http.StatusBadRequest, fmt.Sprintf("Insufficient house balance in %s", res.Currency))
	case errors.Is(err, ErrAccountBusy):
		return fiber.NewError(http.StatusConflict, "Another withdrawal for this account is in progress. Please wait for it to finish.")
	case errors.Is(err, ErrPendingReconciliation):
		return fiber.NewError(http.StatusConflict, pendingMessage)
	case errors.Is(err, ErrServiceUnavailable):
		return fiber.NewError(http.StatusServiceUnavailable, unavailableMessage)
	case errors.Is(err, ErrTransferFailed):
		var te *treasury.TransferError
		if errors.As(err, &te) && te.Submitted() {
			// A broadcast payout is settled by operators; replaying the
			// request must not reach the treasury again.
			middleware.MarkFinal(c)
		}
		body := fiber.Map{"error": "Withdrawal failed: " + transferReason(err)}
		if res.TxHash != "" {
			body["txHash"] = res.TxHash
		}
		return c.Status(http.StatusInternalServerError).JSON(body)
	default:
		h.logger.Error("withdrawal.unexpected_error", slog.Any("error", err))
		return fiber.NewError(http.StatusInternalServerError, "An error occurred processing your request")
	}
}

// transferReason renders a chain failure without leaking raw node output.
func transferReason(err error) string {
	var te *treasury.TransferError
	if !errors.As(err, &te) {
		return "transfer could not be completed"
	}
	switch te.Reason {
	case treasury.ReasonTimeout:
		return "transaction was not confirmed in time"
	case treasury.ReasonReverted:
		return "transaction reverted"
	case treasury.ReasonNonce:
		return "nonce conflict, please retry"
	default:
		return "transaction could not be submitted"
	}
}
