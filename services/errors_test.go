package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.Equal(t, KindUnknown, KindOf(errors.New("boom")))
	assert.Equal(t, KindGuildFull, KindOf(newError(KindGuildFull, "full")))

	wrapped := fmt.Errorf("join: %w", newError(KindNotFound, "missing"))
	assert.Equal(t, KindNotFound, KindOf(wrapped))
	assert.True(t, IsKind(wrapped, KindNotFound))
}

func TestRetryableKinds(t *testing.T) {
	retryable := map[Kind]bool{
		KindStoreUnavailable: true,
		KindConflict:         true,
	}
	for _, k := range []Kind{
		KindInvalidInput, KindNotFound, KindAlreadyInGuild, KindGuildFull, KindNotInGuild,
		KindLeaderMustTransfer, KindForbidden, KindStoreUnavailable, KindConflict, KindUnknown,
	} {
		assert.Equal(t, retryable[k], k.Retryable(), string(k))
	}
}

func TestStoreErrorClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"duplicate key", gorm.ErrDuplicatedKey, KindConflict},
		{"missing row", gorm.ErrRecordNotFound, KindNotFound},
		{"canceled", context.Canceled, KindStoreUnavailable},
		{"deadline", context.DeadlineExceeded, KindStoreUnavailable},
		{"driver failure", errors.New("connection reset by peer"), KindStoreUnavailable},
		{"service error passes through", newError(KindGuildFull, "full"), KindGuildFull},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := storeError("op", tc.err)
			assert.Equal(t, tc.want, KindOf(err))
			assert.ErrorIs(t, err, tc.err)
		})
	}
	assert.NoError(t, storeError("op", nil))
}

func TestErrorMessage(t *testing.T) {
	err := &Error{Kind: KindStoreUnavailable, Message: "read guild", Err: errors.New("eof")}
	assert.Equal(t, "read guild: eof", err.Error())
	assert.Equal(t, "guild full", newError(KindGuildFull, "guild %s", "full").Error())
}
