// handlers/response.go
package handlers

import (
	"errors"
	"log/slog"

	"league-registration-system/services"

	"github.com/gofiber/fiber/v2"
)

// respondError maps service errors to HTTP responses.
func respondError(c *fiber.Ctx, logger *slog.Logger, err error) error {
	var verr *services.ValidationError
	var ierr *services.IntakeError
	switch {
	case errors.As(err, &verr):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Validation failed",
			"errors":  verr.Fields,
		})
	case errors.As(err, &ierr):
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"success": false,
			"message": ierr.Reason,
			"error":   ierr.Err.Error(),
		})
	case errors.Is(err, services.ErrRegistrationNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"message": "Registration not found",
		})
	case errors.Is(err, services.ErrInvalidTransition):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"success": false,
			"message": err.Error(),
		})
	case errors.Is(err, services.ErrInvalidSignature):
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"success": false,
			"message": "Invalid signature",
		})
	}

	logger.Error("request failed", "method", c.Method(), "path", c.Path(), "err", err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"success": false,
		"message": "Internal server error",
	})
}
