// handlers/admin.go
package handlers

import (
	"log/slog"

	"league-registration-system/middleware"
	"league-registration-system/models"
	"league-registration-system/services"
	"league-registration-system/store"

	"github.com/gofiber/fiber/v2"
)

func SetupAdminRoutes(app *fiber.App, svc *services.RegistrationService, sweeper *services.Sweeper, adminToken string, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	admin := app.Group("/api/admin", middleware.AdminAuthMiddleware(adminToken, logger))

	admin.Get("/registrations", func(c *fiber.Ctx) error {
		f := store.ListFilter{
			Status:        models.RegistrationStatus(c.Query("status")),
			PaymentStatus: models.PaymentStatus(c.Query("payment_status")),
			Page:          c.QueryInt("page", 1),
			Limit:         c.QueryInt("limit", 20),
		}
		regs, total, err := svc.List(c.UserContext(), f)
		if err != nil {
			return respondError(c, logger, err)
		}
		return c.JSON(fiber.Map{
			"success":       true,
			"registrations": regs,
			"total":         total,
			"page":          max(f.Page, 1),
		})
	})

	admin.Get("/registrations/:id", func(c *fiber.Ctx) error {
		reg, err := svc.Status(c.UserContext(), c.Params("id"))
		if err != nil {
			return respondError(c, logger, err)
		}
		return c.JSON(fiber.Map{"success": true, "registration": reg})
	})

	admin.Get("/registrations/:id/notifications", func(c *fiber.Ctx) error {
		attempts, err := svc.Attempts(c.UserContext(), c.Params("id"))
		if err != nil {
			return respondError(c, logger, err)
		}
		return c.JSON(fiber.Map{"success": true, "attempts": attempts})
	})

	admin.Post("/registrations/:id/cash-collected", func(c *fiber.Ctx) error {
		reg, err := svc.MarkCashCollected(c.UserContext(), c.Params("id"))
		if err != nil {
			return respondError(c, logger, err)
		}
		return c.JSON(fiber.Map{"success": true, "registration": reg})
	})

	admin.Post("/sweeps", func(c *fiber.Ctx) error {
		report, err := sweeper.RunOnce(c.UserContext())
		if err != nil {
			logger.Error("manual sweep reported errors", "err", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"success": false,
				"report":  report,
				"error":   err.Error(),
			})
		}
		return c.JSON(fiber.Map{"success": true, "report": report})
	})
}
