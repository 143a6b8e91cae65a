package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"coinflip-miniapp-backend/internal/config"
	"coinflip-miniapp-backend/internal/models"
)

// RedisService stores users, wallets, history and the settlement journal as
// JSON documents.
type RedisService struct {
	client *redis.Client
}

func NewRedisService(ctx context.Context, cfg *config.Config) (*RedisService, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisService{client: client}, nil
}

// NewRedisServiceWithClient wraps an existing client.
func NewRedisServiceWithClient(client *redis.Client) *RedisService {
	return &RedisService{client: client}
}

func (s *RedisService) Close() error {
	return s.client.Close()
}

func (s *RedisService) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisService) getJSON(ctx context.Context, key string, dst any) error {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return nil
}

// Sessions

func (s *RedisService) StoreUserSession(ctx context.Context, session *models.UserSession, expiry time.Duration) error {
	key := fmt.Sprintf(KeyUserSession, session.ID, session.SessionID)

	data, err := json.Marshal(session)
	if err != nil {
		return err
	}

	return s.client.Set(ctx, key, data, expiry).Err()
}

func (s *RedisService) GetUserSession(ctx context.Context, userID int64, sessionID string) (*models.UserSession, error) {
	key := fmt.Sprintf(KeyUserSession, userID, sessionID)

	var session models.UserSession
	if err := s.getJSON(ctx, key, &session); err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	session.LastAccessed = time.Now()
	if updated, err := json.Marshal(session); err == nil {
		s.client.Set(ctx, key, updated, TTLUserSession)
	}

	return &session, nil
}

func (s *RedisService) DeleteUserSession(ctx context.Context, userID int64, sessionID string) error {
	key := fmt.Sprintf(KeyUserSession, userID, sessionID)
	return s.client.Del(ctx, key).Err()
}

// Users

// CreateUser stores a new user, failing with ErrUserExists if the Telegram id
// is already registered.
func (s *RedisService) CreateUser(ctx context.Context, user *models.User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}

	key := fmt.Sprintf(KeyUserInfo, user.TelegramID)
	ok, err := s.client.SetNX(ctx, key, data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	if !ok {
		return ErrUserExists
	}

	if err := s.client.SAdd(ctx, KeyUsers, user.TelegramID).Err(); err != nil {
		return fmt.Errorf("failed to index user: %w", err)
	}
	return nil
}

func (s *RedisService) GetUser(ctx context.Context, telegramID int64) (*models.User, error) {
	var user models.User
	if err := s.getJSON(ctx, fmt.Sprintf(KeyUserInfo, telegramID), &user); err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

func (s *RedisService) SaveUser(ctx context.Context, user *models.User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}
	return s.client.Set(ctx, fmt.Sprintf(KeyUserInfo, user.TelegramID), data, 0).Err()
}

func (s *RedisService) UserExists(ctx context.Context, telegramID int64) (bool, error) {
	n, err := s.client.Exists(ctx, fmt.Sprintf(KeyUserInfo, telegramID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check user: %w", err)
	}
	return n > 0, nil
}

// GetAllUsers loads every registered user.
func (s *RedisService) GetAllUsers(ctx context.Context) ([]*models.User, error) {
	ids, err := s.client.SMembers(ctx, KeyUsers).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	if len(ids) == 0 {
		return []*models.User{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = "user:" + id + ":info"
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}

	users := make([]*models.User, 0, len(values))
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var u models.User
		if err := json.Unmarshal([]byte(str), &u); err != nil {
			continue
		}
		users = append(users, &u)
	}
	return users, nil
}

// Wallets

// CreateWallet stores a new wallet at version 1, failing with ErrWalletExists
// if the user already has one.
func (s *RedisService) CreateWallet(ctx context.Context, wallet *models.Wallet) error {
	wallet.Version = 1
	data, err := json.Marshal(wallet)
	if err != nil {
		return fmt.Errorf("failed to marshal wallet: %w", err)
	}

	ok, err := s.client.SetNX(ctx, fmt.Sprintf(KeyWallet, wallet.TelegramID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to create wallet: %w", err)
	}
	if !ok {
		return ErrWalletExists
	}
	return nil
}

func (s *RedisService) GetWallet(ctx context.Context, telegramID int64) (*models.Wallet, error) {
	var wallet models.Wallet
	if err := s.getJSON(ctx, fmt.Sprintf(KeyWallet, telegramID), &wallet); err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrWalletNotFound
		}
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	wallet.Commitments()
	return &wallet, nil
}

// SaveWallet writes the wallet if nobody else changed it since it was read.
func (s *RedisService) SaveWallet(ctx context.Context, wallet *models.Wallet) error {
	return s.commitWallet(ctx, wallet, nil)
}

// commitWallet writes wallet under an optimistic version check and runs extra
// in the same MULTI/EXEC block. On success wallet.Version is bumped.
func (s *RedisService) commitWallet(ctx context.Context, wallet *models.Wallet, extra func(pipe redis.Pipeliner) error) error {
	key := fmt.Sprintf(KeyWallet, wallet.TelegramID)
	expected := wallet.Version
	updatedAt := wallet.UpdatedAt

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrWalletNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to read wallet: %w", err)
		}

		var current struct {
			Version int64 `json:"version"`
		}
		if err := json.Unmarshal(data, &current); err != nil {
			return fmt.Errorf("failed to unmarshal wallet: %w", err)
		}
		if current.Version != expected {
			return ErrWalletConflict
		}

		wallet.Version = expected + 1
		wallet.UpdatedAt = time.Now().UTC()
		payload, err := json.Marshal(wallet)
		if err != nil {
			return fmt.Errorf("failed to marshal wallet: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			if extra != nil {
				return extra(pipe)
			}
			return nil
		})
		return err
	}

	err := s.client.Watch(ctx, txf, key)
	if err != nil {
		wallet.Version = expected
		wallet.UpdatedAt = updatedAt
		if errors.Is(err, redis.TxFailedErr) {
			return ErrWalletConflict
		}
		return err
	}
	return nil
}

var releaseLockScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
	return 0
`)

// LockWallet serialises mutations of one wallet across requests and
// processes. It retries until wait elapses, then fails with ErrWalletBusy.
// The returned release func is safe to call once the context is gone.
func (s *RedisService) LockWallet(ctx context.Context, telegramID int64, ttl, wait time.Duration) (func(), error) {
	key := fmt.Sprintf(KeyWalletLock, telegramID)
	token := uuid.NewString()
	deadline := time.Now().Add(wait)

	for {
		ok, err := s.client.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to lock wallet: %w", err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, ErrWalletBusy
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryDelay):
		}
	}

	release := func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lockReleaseTimeout)
		defer cancel()
		releaseLockScript.Run(rctx, s.client, []string{key}, token)
	}
	return release, nil
}

// Settlement journal

func (s *RedisService) SaveSettlement(ctx context.Context, st *models.Settlement) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal settlement: %w", err)
	}

	score := float64(st.CreatedAt.UnixMicro())
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, fmt.Sprintf(KeySettlement, st.BetID), data, 0)
		switch st.Stage {
		case models.StageTransferred:
			pipe.ZRem(ctx, KeySettlementsPending, st.BetID)
			pipe.ZAdd(ctx, KeySettlementsTransferred, redis.Z{Score: score, Member: st.BetID})
		default:
			pipe.ZAdd(ctx, KeySettlementsPending, redis.Z{Score: score, Member: st.BetID})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save settlement: %w", err)
	}
	return nil
}

func (s *RedisService) GetSettlement(ctx context.Context, betID string) (*models.Settlement, error) {
	var st models.Settlement
	if err := s.getJSON(ctx, fmt.Sprintf(KeySettlement, betID), &st); err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSettlementNotFound
		}
		return nil, fmt.Errorf("failed to get settlement: %w", err)
	}
	return &st, nil
}

func (s *RedisService) DeleteSettlement(ctx context.Context, betID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removeSettlement(ctx, pipe, betID)
		return nil
	})
	return err
}

func removeSettlement(ctx context.Context, pipe redis.Pipeliner, betID string) {
	pipe.Del(ctx, fmt.Sprintf(KeySettlement, betID))
	pipe.ZRem(ctx, KeySettlementsPending, betID)
	pipe.ZRem(ctx, KeySettlementsTransferred, betID)
}

// TransferredSettlements lists bets whose funds moved but whose local state
// was never applied, oldest first.
func (s *RedisService) TransferredSettlements(ctx context.Context) ([]string, error) {
	return s.client.ZRange(ctx, KeySettlementsTransferred, 0, -1).Result()
}

// StalePendingSettlements lists journal entries still pending at cutoff.
func (s *RedisService) StalePendingSettlements(ctx context.Context, cutoff time.Time) ([]string, error) {
	return s.client.ZRangeByScore(ctx, KeySettlementsPending, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff.UnixMicro(), 10),
	}).Result()
}

func (s *RedisService) IsBetSettled(ctx context.Context, betID string) (bool, error) {
	n, err := s.client.Exists(ctx, fmt.Sprintf(KeyBetSettled, betID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check bet: %w", err)
	}
	return n > 0, nil
}

// ApplySettlement commits the local side of a settled bet in one MULTI/EXEC:
// wallet, user statistics, the history row, the settled marker and the
// journal cleanup.
func (s *RedisService) ApplySettlement(ctx context.Context, wallet *models.Wallet, user *models.User, entry *models.GameHistory) error {
	userData, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}
	historyData, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}

	return s.commitWallet(ctx, wallet, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, fmt.Sprintf(KeyUserInfo, user.TelegramID), userData, 0)
		pipe.Set(ctx, fmt.Sprintf(KeyHistory, entry.ID), historyData, 0)
		pipe.ZAdd(ctx, fmt.Sprintf(KeyUserHistory, entry.TelegramID), redis.Z{
			Score:  float64(entry.Timestamp.UnixMicro()),
			Member: entry.ID,
		})
		pipe.Set(ctx, fmt.Sprintf(KeyBetSettled, entry.BetID), entry.ID, 0)
		removeSettlement(ctx, pipe, entry.BetID)
		return nil
	})
}

// History

// GetGameHistory returns one page of a user's history, most recent first,
// and the total number of rows.
func (s *RedisService) GetGameHistory(ctx context.Context, telegramID, page, limit int64) ([]*models.GameHistory, int64, error) {
	key := fmt.Sprintf(KeyUserHistory, telegramID)

	total, err := s.client.ZCard(ctx, key).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count history: %w", err)
	}

	start := (page - 1) * limit
	if start >= total {
		return []*models.GameHistory{}, total, nil
	}

	ids, err := s.client.ZRevRange(ctx, key, start, start+limit-1).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get history ids: %w", err)
	}
	if len(ids) == 0 {
		return []*models.GameHistory{}, total, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = fmt.Sprintf(KeyHistory, id)
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load history: %w", err)
	}

	entries := make([]*models.GameHistory, 0, len(values))
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var entry models.GameHistory
		if err := json.Unmarshal([]byte(str), &entry); err != nil {
			continue
		}
		entries = append(entries, &entry)
	}
	return entries, total, nil
}

// Rate limiting

func (s *RedisService) CheckRateLimit(ctx context.Context, identity, action string, limit int, window time.Duration) (bool, error) {
	key := fmt.Sprintf(KeyRateLimit, identity, action)

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check rate limit: %w", err)
	}

	if count == 1 {
		s.client.Expire(ctx, key, window)
	}

	return count <= int64(limit), nil
}
