package services

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"coinflip-miniapp-backend/internal/fairness"
	"coinflip-miniapp-backend/internal/ledger"
	"coinflip-miniapp-backend/internal/models"
)

const (
	testHouse       = "casino"
	testHouseFunds  = 1000
	testStartingBal = 100
)

// countingLedger wraps the memory ledger so tests can fail transfers on
// demand and count how many reached it. fail refuses the transfer; lost
// applies it and then reports lost anyway, like a response that never
// arrived.
type countingLedger struct {
	*ledger.Memory
	fail      error
	lost      error
	transfers int
}

func (l *countingLedger) Transfer(ctx context.Context, from, to string, amount decimal.Decimal) error {
	if l.fail != nil {
		return l.fail
	}
	l.transfers++
	if err := l.Memory.Transfer(ctx, from, to, amount); err != nil {
		return err
	}
	return l.lost
}

type testEnv struct {
	ctx      context.Context
	mr       *miniredis.Miniredis
	redis    *RedisService
	ledger   *countingLedger
	engine   *CoinFlipEngine
	accounts *AccountService
	stats    *StatsService
}

func testEngineConfig() EngineConfig {
	return EngineConfig{
		HouseWalletID:      testHouse,
		PlatformFeePercent: decimal.NewFromInt(5),
		TransferTimeout:    5 * time.Second,
		LockTTL:            10 * time.Second,
		LockWait:           100 * time.Millisecond,
		PendingAge:         10 * time.Minute,
	}
}

func newTestRedis(t *testing.T) (*RedisService, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisServiceWithClient(client), mr
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	rs, mr := newTestRedis(t)

	mem := ledger.NewMemory()
	mem.Mint(testHouse, decimal.NewFromInt(testHouseFunds))
	l := &countingLedger{Memory: mem}

	cfg := testEngineConfig()
	return &testEnv{
		ctx:      context.Background(),
		mr:       mr,
		redis:    rs,
		ledger:   l,
		engine:   NewCoinFlipEngine(rs, l, cfg),
		accounts: NewAccountService(rs, l, cfg, decimal.NewFromInt(testStartingBal)),
		stats:    NewStatsService(rs),
	}
}

// addPlayer registers a user with a funded wallet.
func (env *testEnv) addPlayer(t *testing.T, telegramID int64) *models.Wallet {
	t.Helper()

	_, err := env.accounts.Register(env.ctx, &models.TelegramUser{
		ID:        telegramID,
		FirstName: "Player",
		Username:  "player",
	})
	require.NoError(t, err)

	wallet, err := env.accounts.CreateWallet(env.ctx, telegramID)
	require.NoError(t, err)
	return wallet
}

func (env *testEnv) ledgerBalance(t *testing.T, address string) decimal.Decimal {
	t.Helper()

	bal, err := env.ledger.Balance(env.ctx, address)
	require.NoError(t, err)
	return bal
}

// fixedSeeds makes every generated commitment use seed and counts calls.
func (env *testEnv) fixedSeeds(seed string) *int {
	calls := 0
	env.engine.generate = func() (fairness.Commitment, error) {
		calls++
		return fairness.Commitment{ServerSeed: seed, ServerSeedHash: fairness.HashServerSeed(seed)}, nil
	}
	return &calls
}

func otherSide(side string) string {
	if side == fairness.Heads {
		return fairness.Tails
	}
	return fairness.Heads
}

func betRequest(telegramID int64, amount, choice, clientSeed string, nonce int64) *models.BetRequest {
	a := decimal.RequireFromString(amount)
	return &models.BetRequest{
		TelegramID: &telegramID,
		BetAmount:  &a,
		Choice:     choice,
		ClientSeed: clientSeed,
		Nonce:      &nonce,
	}
}
