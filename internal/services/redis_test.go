package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coinflip-miniapp-backend/internal/models"
)

func TestRedisServiceUsers(t *testing.T) {
	rs, _ := newTestRedis(t)
	ctx := context.Background()

	_, err := rs.GetUser(ctx, 1)
	assert.ErrorIs(t, err, ErrUserNotFound)

	user := models.NewUser(&models.TelegramUser{ID: 1, FirstName: "Ann"}, time.Now().UTC())
	require.NoError(t, rs.CreateUser(ctx, user))
	assert.ErrorIs(t, rs.CreateUser(ctx, user), ErrUserExists)

	got, err := rs.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Ann", got.FirstName)
	assert.Equal(t, "en", got.LanguageCode)

	exists, err := rs.UserExists(ctx, 1)
	require.NoError(t, err)
	assert.True(t, exists)

	all, err := rs.GetAllUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRedisServiceWalletVersioning(t *testing.T) {
	rs, _ := newTestRedis(t)
	ctx := context.Background()

	wallet := models.NewWallet(1, "acct_1", time.Now().UTC())
	require.NoError(t, rs.CreateWallet(ctx, wallet))
	assert.ErrorIs(t, rs.CreateWallet(ctx, models.NewWallet(1, "acct_2", time.Now().UTC())), ErrWalletExists)

	a, err := rs.GetWallet(ctx, 1)
	require.NoError(t, err)
	b, err := rs.GetWallet(ctx, 1)
	require.NoError(t, err)

	a.Balance.Token = 10
	require.NoError(t, rs.SaveWallet(ctx, a))
	assert.Equal(t, int64(2), a.Version)

	// b still carries the version it was read at.
	b.Balance.Token = 20
	assert.ErrorIs(t, rs.SaveWallet(ctx, b), ErrWalletConflict)
	assert.Equal(t, int64(1), b.Version)

	stored, err := rs.GetWallet(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(10), stored.Balance.Token)
	assert.Equal(t, "acct_1", stored.Address)
}

func TestRedisServiceLockWallet(t *testing.T) {
	rs, mr := newTestRedis(t)
	ctx := context.Background()

	release, err := rs.LockWallet(ctx, 1, time.Second, 50*time.Millisecond)
	require.NoError(t, err)

	_, err = rs.LockWallet(ctx, 1, time.Second, 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrWalletBusy)

	release()
	assert.False(t, mr.Exists(fmt.Sprintf(KeyWalletLock, 1)))

	release2, err := rs.LockWallet(ctx, 1, time.Second, 50*time.Millisecond)
	require.NoError(t, err)
	defer release2()

	// A stale release must not drop someone else's lock.
	release()
	assert.True(t, mr.Exists(fmt.Sprintf(KeyWalletLock, 1)))
}

func TestRedisServiceLockExpires(t *testing.T) {
	rs, mr := newTestRedis(t)
	ctx := context.Background()

	_, err := rs.LockWallet(ctx, 1, time.Second, 0)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	release, err := rs.LockWallet(ctx, 1, time.Second, 0)
	require.NoError(t, err)
	release()
}

func TestRedisServiceSettlementJournal(t *testing.T) {
	rs, _ := newTestRedis(t)
	ctx := context.Background()

	created := time.Now().Add(-time.Hour).UTC()
	st := &models.Settlement{BetID: "bet-1", TelegramID: 1, Stage: models.StagePending, CreatedAt: created}
	require.NoError(t, rs.SaveSettlement(ctx, st))

	stale, err := rs.StalePendingSettlements(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, []string{"bet-1"}, stale)

	stale, err = rs.StalePendingSettlements(ctx, created.Add(-time.Minute))
	require.NoError(t, err)
	assert.Empty(t, stale)

	st.Stage = models.StageTransferred
	require.NoError(t, rs.SaveSettlement(ctx, st))

	stale, err = rs.StalePendingSettlements(ctx, time.Now())
	require.NoError(t, err)
	assert.Empty(t, stale)

	transferred, err := rs.TransferredSettlements(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"bet-1"}, transferred)

	got, err := rs.GetSettlement(ctx, "bet-1")
	require.NoError(t, err)
	assert.Equal(t, models.StageTransferred, got.Stage)

	require.NoError(t, rs.DeleteSettlement(ctx, "bet-1"))
	_, err = rs.GetSettlement(ctx, "bet-1")
	assert.ErrorIs(t, err, ErrSettlementNotFound)

	transferred, err = rs.TransferredSettlements(ctx)
	require.NoError(t, err)
	assert.Empty(t, transferred)
}

func TestRedisServiceHistoryPaging(t *testing.T) {
	rs, _ := newTestRedis(t)
	ctx := context.Background()

	user := models.NewUser(&models.TelegramUser{ID: 1, FirstName: "Ann"}, time.Now().UTC())
	require.NoError(t, rs.CreateUser(ctx, user))
	wallet := models.NewWallet(1, "acct_1", time.Now().UTC())
	require.NoError(t, rs.CreateWallet(ctx, wallet))

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 60; i++ {
		st := &models.Settlement{
			BetID:      fmt.Sprintf("bet-%02d", i),
			TelegramID: 1,
			WagerRaw:   1,
			NetRaw:     -1,
			Nonce:      int64(i),
		}
		entry := st.History(fmt.Sprintf("game-%02d", i), base.Add(time.Duration(i)*time.Second))
		require.NoError(t, rs.ApplySettlement(ctx, wallet, user, entry))
	}

	entries, total, err := rs.GetGameHistory(ctx, 1, 2, 25)
	require.NoError(t, err)
	assert.Equal(t, int64(60), total)
	require.Len(t, entries, 25)
	// Page two holds records 26-50, newest first.
	assert.Equal(t, "game-34", entries[0].ID)
	assert.Equal(t, "game-10", entries[24].ID)

	entries, _, err = rs.GetGameHistory(ctx, 1, 3, 25)
	require.NoError(t, err)
	assert.Len(t, entries, 10)

	entries, _, err = rs.GetGameHistory(ctx, 1, 4, 25)
	require.NoError(t, err)
	assert.Empty(t, entries)

	settled, err := rs.IsBetSettled(ctx, "bet-00")
	require.NoError(t, err)
	assert.True(t, settled)

	stored, err := rs.GetWallet(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(61), stored.Version)
}

func TestRedisServiceSessions(t *testing.T) {
	rs, _ := newTestRedis(t)
	ctx := context.Background()

	session := &models.UserSession{
		ID:           1,
		SessionID:    "sid",
		TelegramUser: &models.TelegramUser{ID: 1, FirstName: "Ann"},
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, rs.StoreUserSession(ctx, session, time.Hour))

	got, err := rs.GetUserSession(ctx, 1, "sid")
	require.NoError(t, err)
	assert.Equal(t, "Ann", got.TelegramUser.FirstName)

	require.NoError(t, rs.DeleteUserSession(ctx, 1, "sid"))
	_, err = rs.GetUserSession(ctx, 1, "sid")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRedisServiceRateLimit(t *testing.T) {
	rs, mr := newTestRedis(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := rs.CheckRateLimit(ctx, "42", "bet", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	ok, err := rs.CheckRateLimit(ctx, "42", "bet", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(time.Minute + time.Second)

	ok, err = rs.CheckRateLimit(ctx, "42", "bet", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
