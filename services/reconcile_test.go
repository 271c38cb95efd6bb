package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guild-progression-system/models"
)

func TestReconcileRepairsMemberCount(t *testing.T) {
	svc, _ := newTestServices(t)
	healthy := createGuild(t, svc, "a", "Healthy")
	drifted := createGuild(t, svc, "b", "Drifted")
	joinGuild(t, svc, "b1", drifted.ID)

	require.NoError(t, svc.Guilds.DB.Model(&models.Guild{}).Where("id = ?", drifted.ID).Update("member_count", 7).Error)

	report, err := svc.Guilds.Reconcile(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Checked)
	assert.Equal(t, 1, report.Repaired)
	assert.Empty(t, report.LeaderMismatches)

	details, err := svc.Guilds.Get(t.Context(), drifted.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, details.MemberCount)
	assertGuildInvariants(t, svc, healthy.ID)
}

func TestReconcileReportsLeaderMismatch(t *testing.T) {
	svc, _ := newTestServices(t)
	g := createGuild(t, svc, "boss", "Broken")
	require.NoError(t, svc.Guilds.DB.Model(&models.Guild{}).Where("id = ?", g.ID).Update("leader_id", "someone-else").Error)

	report, err := svc.Guilds.Reconcile(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{g.ID}, report.LeaderMismatches)
	assert.Zero(t, report.Repaired)
}

func TestReconcileScheduler(t *testing.T) {
	svc, _ := newTestServices(t)
	g := createGuild(t, svc, "boss", "Scheduled")
	require.NoError(t, svc.Guilds.DB.Model(&models.Guild{}).Where("id = ?", g.ID).Update("member_count", 5).Error)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	_, err := svc.Guilds.StartReconcileScheduler(ctx, 20*time.Millisecond)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		var stored models.Guild
		if err := svc.Guilds.DB.Where("id = ?", g.ID).Take(&stored).Error; err != nil {
			return false
		}
		return stored.MemberCount == 1
	}, 2*time.Second, 20*time.Millisecond)
}
