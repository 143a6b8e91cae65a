package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coinflip-miniapp-backend/internal/config"
	"coinflip-miniapp-backend/internal/fairness"
	"coinflip-miniapp-backend/internal/ledger"
	"coinflip-miniapp-backend/internal/models"
	"coinflip-miniapp-backend/internal/services"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	router *gin.Engine
	jwt    *services.JWTService
	redis  *services.RedisService
}

func newTestServer(t *testing.T, authRequired bool) *testServer {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	rs := services.NewRedisServiceWithClient(client)

	cfg := &config.Config{
		JWTSecret:          "secret",
		JWTExpiry:          time.Hour,
		AuthRequired:       authRequired,
		CorsOrigins:        []string{"*"},
		HouseWalletID:      "casino",
		PlatformFeePercent: decimal.NewFromInt(5),
		StartingBalance:    decimal.NewFromInt(100),
		TransferTimeout:    5 * time.Second,
		WalletLockTTL:      10 * time.Second,
		WalletLockWait:     100 * time.Millisecond,
		BetRateLimit:       100,
	}

	mem := ledger.NewMemory()
	mem.Mint(cfg.HouseWalletID, decimal.NewFromInt(1000))

	engineCfg := services.NewEngineConfig(cfg)
	hub := NewWebSocketHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	engine := services.NewCoinFlipEngine(rs, mem, engineCfg)
	engine.SetBroadcaster(hub)

	jwtService := services.NewJWTService(cfg.JWTSecret, cfg.JWTExpiry)

	router := NewRouter(Dependencies{
		Config:   cfg,
		Redis:    rs,
		Engine:   engine,
		Accounts: services.NewAccountService(rs, mem, engineCfg, cfg.StartingBalance),
		Stats:    services.NewStatsService(rs),
		JWT:      jwtService,
		Hub:      hub,
	})

	return &testServer{router: router, jwt: jwtService, redis: rs}
}

func (s *testServer) do(t *testing.T, method, target string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) onboard(t *testing.T, telegramID int64, token string) {
	t.Helper()

	w := s.do(t, http.MethodPost, "/api/register", gin.H{"id": telegramID, "first_name": "Ann", "username": "ann"}, token)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, "/api/wallet", gin.H{"telegramId": telegramID}, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestRegisterAndWallet(t *testing.T) {
	s := newTestServer(t, false)
	s.onboard(t, 10, "")

	w := s.do(t, http.MethodPost, "/api/register", gin.H{"id": 10, "first_name": "Ann"}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "User already exists", decode[map[string]any](t, w)["error"])

	w = s.do(t, http.MethodGet, "/api/register?telegramId=10", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"exists":true}`, w.Body.String())

	w = s.do(t, http.MethodGet, "/api/wallet?telegramId=10", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	wallet := decode[models.WalletResponse](t, w)
	assert.NotEmpty(t, wallet.Address)
	assert.Equal(t, 100.0, wallet.Balance.TokenBalance)

	w = s.do(t, http.MethodPost, "/api/wallet", gin.H{"telegramId": 10}, "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodGet, "/api/user?telegramId=11", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/api/wallet", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBetFlow(t *testing.T) {
	s := newTestServer(t, false)
	s.onboard(t, 10, "")

	w := s.do(t, http.MethodGet, "/api/casino/next-hash?telegramId=10&clientSeed=abc&nonce=0", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	hash := decode[map[string]string](t, w)["serverSeedHash"]
	require.Len(t, hash, 64)

	w = s.do(t, http.MethodPost, "/api/casino/bet", gin.H{
		"telegramId": 10,
		"betAmount":  10,
		"choice":     "heads",
		"clientSeed": "abc",
		"nonce":      0,
	}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	res := decode[models.BetResult](t, w)
	assert.Equal(t, hash, res.ServerSeedHash)
	assert.Equal(t, fairness.HashServerSeed(res.ServerSeed), res.ServerSeedHash)
	if res.CoinResult == fairness.Heads {
		assert.True(t, res.Won)
		assert.Equal(t, 109.5, res.NewBalance)
	} else {
		assert.False(t, res.Won)
		assert.Equal(t, 90.0, res.NewBalance)
	}

	w = s.do(t, http.MethodPost, "/api/casino/verify", gin.H{
		"serverSeed":     res.ServerSeed,
		"serverSeedHash": hash,
		"clientSeed":     "abc",
		"nonce":          0,
	}, "")
	require.Equal(t, http.StatusOK, w.Code)
	v := decode[fairness.Verification](t, w)
	assert.True(t, v.HashMatches)
	assert.Equal(t, res.CoinResult, v.Outcome)
	assert.Equal(t, res.ResultHash, v.ResultHash)

	w = s.do(t, http.MethodGet, "/api/history?telegramId=10", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[models.HistoryPage](t, w)
	assert.Equal(t, int64(1), page.TotalRecords)
	assert.Equal(t, int64(1), page.TotalPages)
	require.Len(t, page.History, 1)
	assert.True(t, page.History[0].PreCommitted)

	w = s.do(t, http.MethodGet, "/api/leaderboard?sortBy=wins", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	board := decode[[]models.LeaderboardEntry](t, w)
	require.Len(t, board, 1)
	assert.Equal(t, "ann", board[0].Username)

	// Replaying the same client seed and nonce is refused.
	w = s.do(t, http.MethodPost, "/api/casino/bet", gin.H{
		"telegramId": 10,
		"betAmount":  1,
		"choice":     "tails",
		"clientSeed": "abc",
		"nonce":      0,
	}, "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestBetErrors(t *testing.T) {
	s := newTestServer(t, false)
	s.onboard(t, 10, "")

	tests := []struct {
		name string
		body gin.H
		want int
	}{
		{"missing fields", gin.H{"telegramId": 10}, http.StatusBadRequest},
		{"zero amount", gin.H{"telegramId": 10, "betAmount": 0, "choice": "heads", "clientSeed": "c", "nonce": 0}, http.StatusBadRequest},
		{"bad choice", gin.H{"telegramId": 10, "betAmount": 1, "choice": "side", "clientSeed": "c", "nonce": 0}, http.StatusBadRequest},
		{"negative nonce", gin.H{"telegramId": 10, "betAmount": 1, "choice": "heads", "clientSeed": "c", "nonce": -1}, http.StatusBadRequest},
		{"unknown user", gin.H{"telegramId": 99, "betAmount": 1, "choice": "heads", "clientSeed": "c", "nonce": 0}, http.StatusNotFound},
		{"insufficient", gin.H{"telegramId": 10, "betAmount": 500, "choice": "heads", "clientSeed": "c", "nonce": 0}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, "/api/casino/bet", tt.body, "")
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}

	w := s.do(t, http.MethodGet, "/api/casino/next-hash?telegramId=10&clientSeed=abc", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/api/history?telegramId=10&page=0", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/api/history?telegramId=10&limit=abc", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t, true)

	token, err := s.jwt.GenerateToken(10, "sid")
	require.NoError(t, err)

	w := s.do(t, http.MethodGet, "/api/leaderboard", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	s.onboard(t, 10, token)

	w = s.do(t, http.MethodGet, "/api/wallet?telegramId=10", nil, token)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/wallet?telegramId=11", nil, token)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodPost, "/api/casino/bet", gin.H{
		"telegramId": 11,
		"betAmount":  1,
		"choice":     "heads",
		"clientSeed": "c",
		"nonce":      0,
	}, token)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestMeAndLogout(t *testing.T) {
	s := newTestServer(t, false)
	s.onboard(t, 10, "")

	session := &models.UserSession{
		ID:           10,
		SessionID:    "sid",
		TelegramUser: &models.TelegramUser{ID: 10, FirstName: "Ann"},
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, s.redis.StoreUserSession(context.Background(), session, time.Hour))

	token, err := s.jwt.GenerateToken(10, "sid")
	require.NoError(t, err)

	w := s.do(t, http.MethodGet, "/api/me", nil, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode[map[string]any](t, w)
	assert.Contains(t, body, "wallet")
	assert.Contains(t, body, "stats")

	w = s.do(t, http.MethodPost, "/api/logout", nil, token)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/me", nil, token)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodGet, "/api/me", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthenticateRejectsBadInitData(t *testing.T) {
	s := newTestServer(t, false)

	w := s.do(t, http.MethodGet, "/auth/telegram", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/auth/telegram?initData=user%3D%7B%7D%26hash%3Dabc", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&models.ValidationError{Field: "betAmount", Message: "Bet amount is too large"}, http.StatusBadRequest},
		{services.ErrInsufficientBalance, http.StatusBadRequest},
		{services.ErrWalletNotFound, http.StatusNotFound},
		{services.ErrBetAlreadySettled, http.StatusConflict},
		{services.ErrSettlementPending, http.StatusConflict},
		{services.ErrWalletBusy, http.StatusConflict},
		{fmt.Errorf("%w: ledger timeout", services.ErrTransferFailed), http.StatusInternalServerError},
		{services.ErrHouseNotConfigured, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}
