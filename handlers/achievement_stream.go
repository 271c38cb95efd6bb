// handlers/achievement_stream.go
package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"guild-progression-system/middleware"
	"guild-progression-system/models"
	"guild-progression-system/services"
)

const streamPollInterval = 2 * time.Second

type unlockEvent struct {
	Code        string     `json:"code"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	IconURL     string     `json:"icon_url,omitempty"`
	EarnedAt    *time.Time `json:"earned_at"`
}

// writeUnlockEvents writes one "achievement" event per row and returns the
// newest earned_at seen, or cursor when rows is empty.
func writeUnlockEvents(w *bufio.Writer, rows []models.UserAchievement, cursor time.Time) (time.Time, error) {
	for _, ua := range rows {
		payload, err := json.Marshal(unlockEvent{
			Code:        ua.Achievement.Code,
			Name:        ua.Achievement.Name,
			Description: ua.Achievement.Description,
			IconURL:     ua.Achievement.IconURL,
			EarnedAt:    ua.EarnedAt,
		})
		if err != nil {
			return cursor, err
		}
		if _, err := fmt.Fprintf(w, "event: achievement\ndata: %s\n\n", payload); err != nil {
			return cursor, err
		}
		if ua.EarnedAt != nil && ua.EarnedAt.After(cursor) {
			cursor = *ua.EarnedAt
		}
	}
	return cursor, w.Flush()
}

// streamAchievements pushes the caller's new unlocks as server-sent events
// until the client goes away.
func streamAchievements(achievements *services.AchievementService, log *zap.Logger, every time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := middleware.UserID(c)
		done := c.Context().Done()

		c.Set(fiber.HeaderContentType, "text/event-stream")
		c.Set(fiber.HeaderCacheControl, "no-cache")
		c.Set(fiber.HeaderConnection, "keep-alive")
		c.Set("X-Accel-Buffering", "no")

		c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
			ticker := time.NewTicker(every)
			defer ticker.Stop()

			cursor := time.Now().UTC()
			if _, err := w.WriteString(":\n\n"); err != nil {
				return
			}
			if err := w.Flush(); err != nil {
				return
			}

			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					ctx, cancel := context.WithTimeout(context.Background(), every)
					rows, err := achievements.EarnedSince(ctx, userID, cursor)
					cancel()
					if err != nil {
						log.Warn("achievement stream poll failed", zap.String("user_id", userID), zap.Error(err))
						continue
					}
					if len(rows) == 0 {
						// keepalive, also detects a closed client
						if _, err := w.WriteString(":\n\n"); err != nil {
							return
						}
						if err := w.Flush(); err != nil {
							return
						}
						continue
					}
					if cursor, err = writeUnlockEvents(w, rows, cursor); err != nil {
						return
					}
				}
			}
		})
		return nil
	}
}
