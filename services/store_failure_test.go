package services

import (
	"errors"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"guild-progression-system/config"
)

func newMockServices(t *testing.T) (*Services, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	retry := testRetry()
	retry.MaxAttempts = 2
	return New(db, config.DefaultProgression(), retry, nil), mock
}

func TestTouchStoreUnavailableIsRetried(t *testing.T) {
	svc, mock := newMockServices(t)
	down := errors.New("dial tcp: connection refused")
	mock.ExpectBegin().WillReturnError(down)
	mock.ExpectBegin().WillReturnError(down)

	_, err := svc.Streaks.Touch(t.Context(), "u1")
	assert.Equal(t, KindStoreUnavailable, KindOf(err))
	assert.ErrorIs(t, err, down)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGuildJoinStoreUnavailable(t *testing.T) {
	svc, mock := newMockServices(t)
	mock.ExpectBegin().WillReturnError(errors.New("too many connections"))
	mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

	_, err := svc.Guilds.Join(t.Context(), "u1", uuid.NewString())
	assert.Equal(t, KindStoreUnavailable, KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLeaderboardStoreUnavailable(t *testing.T) {
	svc, mock := newMockServices(t)
	mock.ExpectQuery(`SELECT \* FROM "user_progress"`).WillReturnError(errors.New("read timeout"))

	_, err := svc.Progression.Leaderboard(t.Context(), 5)
	assert.Equal(t, KindStoreUnavailable, KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMalformedGuildIDIsNotFound(t *testing.T) {
	svc, mock := newMockServices(t)
	retries := retriesTotal.WithLabelValues("guild_join", string(KindStoreUnavailable))
	before := testutil.ToFloat64(retries)

	_, err := svc.Guilds.Join(t.Context(), "u1", "not-a-guild")
	assert.Equal(t, KindNotFound, KindOf(err))

	_, err = svc.Guilds.Get(t.Context(), "not-a-guild")
	assert.Equal(t, KindNotFound, KindOf(err))

	assert.Equal(t, before, testutil.ToFloat64(retries))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUppercaseGuildIDIsCanonicalized(t *testing.T) {
	svc, mock := newMockServices(t)
	id := uuid.NewString()
	mock.ExpectQuery(`SELECT \* FROM "guilds"`).
		WithArgs(id, 1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := svc.Guilds.Get(t.Context(), strings.ToUpper(id))
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}
