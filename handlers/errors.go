// handlers/errors.go
package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"guild-progression-system/services"
)

// statusFor maps a service error kind to its HTTP status.
func statusFor(kind services.Kind) int {
	switch kind {
	case services.KindInvalidInput:
		return fiber.StatusBadRequest
	case services.KindNotFound:
		return fiber.StatusNotFound
	case services.KindAlreadyInGuild,
		services.KindGuildFull,
		services.KindNotInGuild,
		services.KindLeaderMustTransfer,
		services.KindConflict:
		return fiber.StatusConflict
	case services.KindForbidden:
		return fiber.StatusForbidden
	case services.KindStoreUnavailable:
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

// writeError answers with {error, code}. Unclassified errors keep their
// detail out of the response.
func writeError(c *fiber.Ctx, log *zap.Logger, err error) error {
	kind := services.KindOf(err)
	status := statusFor(kind)
	msg := err.Error()
	if status >= fiber.StatusInternalServerError {
		log.Error("request failed",
			zap.String("path", c.Path()),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		if kind == services.KindUnknown {
			msg = "internal error"
		}
	}
	return c.Status(status).JSON(fiber.Map{
		"error": msg,
		"code":  string(kind),
	})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": msg,
		"code":  string(services.KindInvalidInput),
	})
}
