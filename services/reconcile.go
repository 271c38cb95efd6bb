package services

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"guild-progression-system/models"
)

// ReconcileReport summarizes one reconciliation pass.
type ReconcileReport struct {
	Checked          int      `json:"checked"`
	Repaired         int      `json:"repaired"`
	LeaderMismatches []string `json:"leader_mismatches"`
}

// Reconcile recounts membership rows for every guild and repairs drifted
// member counts. Guilds whose leader row disagrees with LeaderID are logged
// and reported, not modified.
func (s *GuildService) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	var ids []string
	if err := s.DB.WithContext(ctx).Model(&models.Guild{}).Order("created_at ASC").Pluck("id", &ids).Error; err != nil {
		return nil, storeError("list guilds", err)
	}

	report := &ReconcileReport{LeaderMismatches: []string{}}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, storeError("reconcile guilds", err)
		}
		repaired, leaderOK, err := s.reconcileGuild(ctx, id)
		if err != nil {
			s.Log.Warn("guild reconciliation failed", zap.String("guild_id", id), zap.Error(err))
			continue
		}
		report.Checked++
		if repaired {
			report.Repaired++
		}
		if !leaderOK {
			report.LeaderMismatches = append(report.LeaderMismatches, id)
		}
	}

	s.Log.Info("guild reconciliation finished",
		zap.Int("checked", report.Checked),
		zap.Int("repaired", report.Repaired),
		zap.Int("leader_mismatches", len(report.LeaderMismatches)),
	)
	return report, nil
}

func (s *GuildService) reconcileGuild(ctx context.Context, guildID string) (repaired, leaderOK bool, err error) {
	unlock := s.guildLocks.Lock(guildID)
	defer unlock()

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		g, err := lockGuild(tx, guildID)
		if err != nil {
			return err
		}

		var count int64
		if err := tx.Model(&models.GuildMember{}).Where("guild_id = ?", guildID).Count(&count).Error; err != nil {
			return storeError("count members", err)
		}
		if int(count) != g.MemberCount {
			if err := tx.Model(g).Update("member_count", count).Error; err != nil {
				return storeError("repair member count", err)
			}
			s.Log.Warn("repaired guild member count",
				zap.String("guild_id", guildID),
				zap.Int("stored", g.MemberCount),
				zap.Int64("actual", count),
			)
			repaired = true
		}

		var leaders []string
		err = tx.Model(&models.GuildMember{}).
			Where("guild_id = ? AND role = ?", guildID, models.GuildRoleLeader).
			Pluck("user_id", &leaders).Error
		if err != nil {
			return storeError("read leaders", err)
		}
		leaderOK = len(leaders) == 1 && leaders[0] == g.LeaderID
		if !leaderOK {
			s.Log.Error("guild leader mismatch",
				zap.String("guild_id", guildID),
				zap.String("leader_id", g.LeaderID),
				zap.Strings("leader_rows", leaders),
			)
		}
		return nil
	})
	return repaired, leaderOK, err
}
