// handlers/progression_routes.go
package handlers

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"guild-progression-system/middleware"
	"guild-progression-system/services"
)

type awardRequest struct {
	ActivityType string          `json:"activity_type"`
	Category     string          `json:"category"`
	Metadata     json.RawMessage `json:"metadata"`
}

// SetupProgressionRoutes mounts /gamification. Handlers in guards run after
// the user context is resolved, so they can key on the caller.
func SetupProgressionRoutes(router fiber.Router, svc *services.Services, log *zap.Logger, guards ...fiber.Handler) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("http.gamification")

	// The gateway forwards /api/v1/gamification/* here with the caller's identity.
	group := router.Group("/gamification", append([]fiber.Handler{middleware.UserContextMiddleware(log)}, guards...)...)

	group.Post("/award", func(c *fiber.Ctx) error {
		var req awardRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid JSON body")
		}

		res, err := svc.Progression.Award(c.UserContext(), services.AwardInput{
			UserID:       middleware.UserID(c),
			ActivityType: req.ActivityType,
			Category:     req.Category,
			Metadata:     req.Metadata,
		})
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(res)
	})

	group.Post("/streak", func(c *fiber.Ctx) error {
		res, err := svc.Streaks.Touch(c.UserContext(), middleware.UserID(c))
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(res)
	})

	group.Get("/progress", func(c *fiber.Ctx) error {
		prog, err := svc.Progression.GetProgress(c.UserContext(), middleware.UserID(c))
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(prog)
	})

	group.Get("/history", func(c *fiber.Ctx) error {
		days := c.QueryInt("days", 0)
		history, err := svc.Progression.DailyHistory(c.UserContext(), middleware.UserID(c), days)
		if err != nil {
			return writeError(c, log, err)
		}
		return c.JSON(fiber.Map{"days": history})
	})

	group.Get("/leaderboard", func(c *fiber.Ctx) error {
		limit := c.QueryInt("limit", services.DefaultLeaderboardSize)
		top, err := svc.Progression.Leaderboard(c.UserContext(), limit)
		if err != nil {
			return writeError(c, log, err)
		}

		entries := make([]fiber.Map, 0, len(top))
		for i, p := range top {
			entries = append(entries, fiber.Map{
				"position":           i + 1,
				"user_id":            p.UserID,
				"total_points":       p.TotalPoints,
				"level":              p.Level,
				"streak_days":        p.StreakDays,
				"achievements_count": p.AchievementsCount,
			})
		}
		return c.JSON(fiber.Map{
			"leaderboard": entries,
			"total":       len(entries),
		})
	})

	group.Get("/achievements", func(c *fiber.Ctx) error {
		earned, err := svc.Achievements.Completed(c.UserContext(), middleware.UserID(c))
		if err != nil {
			return writeError(c, log, err)
		}

		response := make([]fiber.Map, 0, len(earned))
		for _, ua := range earned {
			response = append(response, fiber.Map{
				"code":        ua.Achievement.Code,
				"name":        ua.Achievement.Name,
				"description": ua.Achievement.Description,
				"icon_url":    ua.Achievement.IconURL,
				"earned_at":   ua.EarnedAt,
			})
		}
		return c.JSON(fiber.Map{"achievements": response})
	})

	group.Get("/achievements/stream", streamAchievements(svc.Achievements, log, streamPollInterval))
}
