// handlers/registration.go
package handlers

import (
	"log/slog"
	"net/url"

	"league-registration-system/models"
	"league-registration-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupRegistrationRoutes(app *fiber.App, svc *services.RegistrationService, frontendURL string, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	api := app.Group("/api/registrations")

	api.Post("/", func(c *fiber.Ctx) error {
		var req services.RegisterRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"message": "Invalid request body",
			})
		}

		res, err := svc.Register(c.UserContext(), req)
		if err != nil {
			return respondError(c, logger, err)
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"success":         true,
			"registration_id": res.RegistrationID,
			"amount":          res.Amount,
			"redirect_url":    res.RedirectURL,
			"status":          res.Status,
		})
	})

	// The gateway sends the player back here after checkout.
	api.Get("/verify-payment/:id", func(c *fiber.Ctx) error {
		id := c.Params("id")
		reg, err := svc.Verify(c.UserContext(), id)
		if err != nil {
			return respondError(c, logger, err)
		}

		if c.Query("format") == "json" {
			return c.JSON(fiber.Map{
				"success":      true,
				"registration": reg.Public(),
			})
		}
		return c.Redirect(resultURL(frontendURL, reg), fiber.StatusFound)
	})

	api.Post("/callback", func(c *fiber.Ctx) error {
		var n services.MidtransNotification
		if err := c.BodyParser(&n); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"message": "Invalid notification body",
			})
		}

		outcome, err := svc.HandleCallback(c.UserContext(), n)
		if err != nil {
			return respondError(c, logger, err)
		}
		return c.JSON(fiber.Map{
			"success": true,
			"status":  outcome,
		})
	})

	api.Get("/:id", func(c *fiber.Ctx) error {
		reg, err := svc.Status(c.UserContext(), c.Params("id"))
		if err != nil {
			return respondError(c, logger, err)
		}
		return c.JSON(fiber.Map{
			"success":      true,
			"registration": reg.Public(),
		})
	})
}

// resultURL picks the frontend page for the registration's current state.
func resultURL(frontendURL string, reg *models.Registration) string {
	page := "/payment-pending"
	switch reg.Status {
	case models.RegistrationConfirmed:
		page = "/payment-success"
	case models.RegistrationCancelled:
		page = "/payment-failed"
	}
	return frontendURL + page + "?orderId=" + url.QueryEscape(reg.ID)
}
