// handlers/guild_routes.go
package handlers

import (
	"context"
	"errors"
	"mime/multipart"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"guild-progression-system/middleware"
	"guild-progression-system/models"
	"guild-progression-system/services"
	"guild-progression-system/utils"
)

// EmblemUploader stores an emblem image and returns its public URL.
type EmblemUploader interface {
	UploadEmblem(ctx context.Context, fileHeader *multipart.FileHeader, guildID, name string) (string, error)
}

type joinRequest struct {
	GuildID string `json:"guild_id"`
}

type promoteRequest struct {
	TargetUserID string `json:"target_user_id"`
	NewRole      string `json:"new_role"`
}

func SetupGuildRoutes(router fiber.Router, guilds *services.GuildService, emblems EmblemUploader, log *zap.Logger, guards ...fiber.Handler) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("http.guilds")

	group := router.Group("/guilds", append([]fiber.Handler{middleware.UserContextMiddleware(log)}, guards...)...)

	group.Post("/create", func(c *fiber.Ctx) error {
		var in services.CreateGuildInput
		if err := c.BodyParser(&in); err != nil {
			return badRequest(c, "invalid JSON body")
		}
		in.UserID = middleware.UserID(c)

		guild, err := guilds.Create(c.UserContext(), in)
		if err != nil {
			return writeError(c, log, err)
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"success": true,
			"guild":   guild,
		})
	})

	group.Post("/join", func(c *fiber.Ctx) error {
		var req joinRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid JSON body")
		}

		member, err := guilds.Join(c.UserContext(), middleware.UserID(c), req.GuildID)
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(fiber.Map{
			"success":  true,
			"message":  "joined guild",
			"guild_id": member.GuildID,
		})
	})

	group.Post("/leave", func(c *fiber.Ctx) error {
		if err := guilds.Leave(c.UserContext(), middleware.UserID(c)); err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(fiber.Map{
			"success": true,
			"message": "left guild",
		})
	})

	group.Post("/promote", func(c *fiber.Ctx) error {
		var req promoteRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid JSON body")
		}

		if err := guilds.Promote(c.UserContext(), middleware.UserID(c), req.TargetUserID, req.NewRole); err != nil {
			return writeError(c, log, err)
		}

		msg := "member promoted to officer"
		if role, _ := services.ParsePromotionRole(req.NewRole); role == models.GuildRoleLeader {
			msg = "leadership transferred"
		}
		return c.JSON(fiber.Map{
			"success": true,
			"message": msg,
		})
	})

	group.Post("/emblem", func(c *fiber.Ctx) error {
		if emblems == nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "emblem storage is not configured",
				"code":  string(services.KindStoreUnavailable),
			})
		}

		fileHeader, err := c.FormFile("emblem")
		if err != nil {
			return badRequest(c, "multipart field 'emblem' is required")
		}

		userID := middleware.UserID(c)
		membership, err := guilds.MembershipOf(c.UserContext(), userID)
		if err != nil {
			return writeError(c, log, err)
		}
		if membership.Role.Rank() < models.GuildRoleOfficer.Rank() {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "only leaders and officers can change the emblem",
				"code":  string(services.KindForbidden),
			})
		}

		url, err := emblems.UploadEmblem(c.UserContext(), fileHeader, membership.Guild.ID, uuid.NewString())
		if err != nil {
			if errors.Is(err, utils.ErrInvalidImage) {
				return badRequest(c, err.Error())
			}
			log.Error("emblem upload failed", zap.String("guild_id", membership.Guild.ID), zap.Error(err))
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"error": "failed to store emblem",
				"code":  string(services.KindStoreUnavailable),
			})
		}

		guild, err := guilds.UpdateEmblem(c.UserContext(), userID, url)
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(fiber.Map{
			"success":    true,
			"emblem_url": guild.EmblemURL,
		})
	})

	group.Get("/leaderboard", func(c *fiber.Ctx) error {
		top, err := guilds.Leaderboard(c.UserContext(), c.QueryInt("limit", services.DefaultLeaderboardSize))
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(fiber.Map{"guilds": top})
	})

	group.Get("/mine", func(c *fiber.Ctx) error {
		m, err := guilds.MembershipOf(c.UserContext(), middleware.UserID(c))
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(m)
	})

	// Registered last so the static paths above win.
	group.Get("/:id", func(c *fiber.Ctx) error {
		details, err := guilds.Get(c.UserContext(), c.Params("id"))
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(details)
	})
}
