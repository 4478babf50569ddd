package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/bynomo/bynomo/internal/reconciliation"
)

// RegisterReconciliationRoutes wires the operator view over the
// reconciliation journal. r must already be guarded by admin auth.
func RegisterReconciliationRoutes(r fiber.Router, h *reconciliation.Handler) {
	r.Get("/reconciliation", h.List)
	r.Post("/reconciliation/:id/resolve", h.Resolve)
}
