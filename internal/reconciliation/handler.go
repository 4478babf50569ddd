package reconciliation

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

// Handler exposes the operator reconciliation endpoints.
type Handler struct {
	service  *Service
	validate *validator.Validate
}

// NewHandler builds a reconciliation HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service, validate: validator.New()}
}

type resolveRequest struct {
	Note string `json:"note" validate:"required,max=2000"`
}

// List returns journal entries filtered by ?status= (open by default, "all"
// for everything).
func (h *Handler) List(c *fiber.Ctx) error {
	status := Status(strings.ToLower(c.Query("status", string(StatusOpen))))
	switch status {
	case StatusOpen, StatusResolved:
	case "all":
		status = ""
	default:
		return fiber.NewError(http.StatusBadRequest, "status must be open, resolved or all")
	}

	events, err := h.service.List(c.UserContext(), status)
	if err != nil {
		return err
	}
	if events == nil {
		events = []Event{}
	}
	return c.JSON(fiber.Map{"events": events})
}

// Resolve marks an event as settled.
func (h *Handler) Resolve(c *fiber.Ctx) error {
	var req resolveRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	req.Note = strings.TrimSpace(req.Note)
	if err := h.validate.Struct(req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "note is required")
	}

	event, err := h.service.Resolve(c.UserContext(), c.Params("id"), req.Note)
	switch {
	case errors.Is(err, ErrEventNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrAlreadyResolved):
		return fiber.NewError(http.StatusConflict, err.Error())
	case err != nil:
		return err
	}
	return c.JSON(event)
}
