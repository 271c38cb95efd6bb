// handlers/admin_routes.go
package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"guild-progression-system/middleware"
	"guild-progression-system/services"
)

// AdminRole is the gateway role allowed on /admin.
const AdminRole = "admin"

func SetupAdminRoutes(router fiber.Router, guilds *services.GuildService, log *zap.Logger, guards ...fiber.Handler) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("http.admin")

	chain := []fiber.Handler{middleware.UserContextMiddleware(log), middleware.RequireRole(AdminRole, log)}
	group := router.Group("/admin", append(chain, guards...)...)

	// Runs the member-count reconciliation now instead of waiting for the scheduler.
	group.Post("/reconcile", func(c *fiber.Ctx) error {
		report, err := guilds.Reconcile(c.UserContext())
		if err != nil {
			return writeError(c, log, err)
		}
		log.Info("manual reconciliation",
			zap.String("user_id", middleware.UserID(c)),
			zap.Int("checked", report.Checked),
			zap.Int("repaired", report.Repaired),
		)
		return c.JSON(report)
	})
}
