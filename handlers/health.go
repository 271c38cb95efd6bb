// handlers/health.go
package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"guild-progression-system/services"
)

// Version is stamped at build time with -ldflags "-X ...handlers.Version=...".
var Version = "dev"

// SetupHealthRoutes mounts /health and /metrics. They sit in front of the
// gateway auth so probes and scrapers do not need the service token.
func SetupHealthRoutes(app fiber.Router, progression *services.ProgressionService, log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}

	app.Get("/health", func(c *fiber.Ctx) error {
		now := time.Now().UTC()
		active, err := progression.ActiveUsers(c.UserContext(), now.Add(-24*time.Hour))
		if err != nil {
			log.Warn("health check: store unavailable", zap.Error(err))
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status":    "degraded",
				"timestamp": now,
				"version":   Version,
				"error":     err.Error(),
			})
		}
		return c.JSON(fiber.Map{
			"status":           "ok",
			"timestamp":        now,
			"version":          Version,
			"active_users_24h": active,
		})
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
}
