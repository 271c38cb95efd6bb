package handlers

import (
	"bufio"
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guild-progression-system/models"
)

func TestWriteUnlockEvents(t *testing.T) {
	cursor := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	first := cursor.Add(time.Minute)
	second := cursor.Add(2 * time.Minute)

	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	next, err := writeUnlockEvents(w, []models.UserAchievement{
		{EarnedAt: &first, Achievement: models.Achievement{Code: "FIRST_STEPS", Name: "First Steps"}},
		{EarnedAt: &second, Achievement: models.Achievement{Code: "POINTS_100", Name: "Getting Started"}},
	}, cursor)
	require.NoError(t, err)
	assert.Equal(t, second, next)

	out := buf.String()
	assert.Equal(t, 2, strings.Count(out, "event: achievement\n"))
	assert.Contains(t, out, `"code":"FIRST_STEPS"`)
	assert.Contains(t, out, `"name":"Getting Started"`)
	assert.True(t, strings.HasSuffix(out, "\n\n"))
}

func TestWriteUnlockEventsKeepsCursorWhenEmpty(t *testing.T) {
	cursor := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	next, err := writeUnlockEvents(bufio.NewWriter(&buf), nil, cursor)
	require.NoError(t, err)
	assert.Equal(t, cursor, next)
	assert.Zero(t, buf.Len())
}
