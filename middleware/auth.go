// middleware/auth.go
package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const (
	localUserID    = "user_id"
	localUserRoles = "user_roles"
)

// UserContextMiddleware reads the identity the gateway verified (X-User-ID,
// X-User-Roles) into c.Locals. Requests without a user id are rejected.
func UserContextMiddleware(log *zap.Logger) fiber.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *fiber.Ctx) error {
		userID := strings.TrimSpace(c.Get("X-User-ID"))
		if userID == "" {
			log.Warn("[USER_CTX] X-User-ID missing", zap.String("path", c.Path()))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing X-User-ID, request must come through gateway with auth context",
				"code":  "UNAUTHORIZED",
			})
		}

		var roles []string
		for _, r := range strings.Split(c.Get("X-User-Roles"), ",") {
			if r = strings.TrimSpace(r); r != "" {
				roles = append(roles, r)
			}
		}

		c.Locals(localUserID, userID)
		c.Locals(localUserRoles, roles)
		return c.Next()
	}
}

// UserID returns the caller id set by UserContextMiddleware.
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals(localUserID).(string)
	return id
}

// UserRoles returns the caller roles set by UserContextMiddleware.
func UserRoles(c *fiber.Ctx) []string {
	roles, _ := c.Locals(localUserRoles).([]string)
	return roles
}

// HasRole reports whether the caller carries role.
func HasRole(c *fiber.Ctx, role string) bool {
	for _, r := range UserRoles(c) {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// RequireRole rejects callers that do not carry role. It must run after
// UserContextMiddleware.
func RequireRole(role string, log *zap.Logger) fiber.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *fiber.Ctx) error {
		if !HasRole(c, role) {
			log.Warn("[USER_CTX] role required",
				zap.String("user_id", UserID(c)),
				zap.String("role", role),
				zap.String("path", c.Path()),
			)
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "requires role " + role,
				"code":  "FORBIDDEN",
			})
		}
		return c.Next()
	}
}
