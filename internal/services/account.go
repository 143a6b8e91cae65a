package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"coinflip-miniapp-backend/internal/ledger"
	"coinflip-miniapp-backend/internal/models"
)

// AccountService handles registration and custodial wallet creation.
type AccountService struct {
	redisService    *RedisService
	ledger          ledger.Ledger
	houseWalletID   string
	startingBalance decimal.Decimal
	lockTTL         time.Duration
	lockWait        time.Duration
}

func NewAccountService(redisService *RedisService, l ledger.Ledger, cfg EngineConfig, startingBalance decimal.Decimal) *AccountService {
	return &AccountService{
		redisService:    redisService,
		ledger:          l,
		houseWalletID:   cfg.HouseWalletID,
		startingBalance: startingBalance,
		lockTTL:         cfg.LockTTL,
		lockWait:        cfg.LockWait,
	}
}

func (s *AccountService) Register(ctx context.Context, tg *models.TelegramUser) (*models.User, error) {
	if tg == nil || tg.ID == 0 {
		return nil, &models.ValidationError{Field: "id", Message: "Missing telegram user id"}
	}

	user := models.NewUser(tg, time.Now().UTC())
	if err := s.redisService.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	slog.Info("user registered", "telegram_id", user.TelegramID)
	return user, nil
}

func (s *AccountService) IsRegistered(ctx context.Context, telegramID int64) (bool, error) {
	return s.redisService.UserExists(ctx, telegramID)
}

func (s *AccountService) GetUser(ctx context.Context, telegramID int64) (*models.User, error) {
	return s.redisService.GetUser(ctx, telegramID)
}

// Touch refreshes the user's last visit, creating the user on first sight.
func (s *AccountService) Touch(ctx context.Context, tg *models.TelegramUser) (*models.User, error) {
	user, err := s.redisService.GetUser(ctx, tg.ID)
	if errors.Is(err, ErrUserNotFound) {
		user, err = s.Register(ctx, tg)
		if errors.Is(err, ErrUserExists) {
			return s.redisService.GetUser(ctx, tg.ID)
		}
		return user, err
	}
	if err != nil {
		return nil, err
	}

	user.LastVisited = time.Now().UTC()
	if err := s.redisService.SaveUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// CreateWallet opens a ledger account for a registered user and funds it
// with the starting grant from the house, if one is configured.
func (s *AccountService) CreateWallet(ctx context.Context, telegramID int64) (*models.Wallet, error) {
	if _, err := s.redisService.GetUser(ctx, telegramID); err != nil {
		return nil, err
	}

	release, err := s.redisService.LockWallet(ctx, telegramID, s.lockTTL, s.lockWait)
	if err != nil {
		return nil, err
	}
	defer release()

	if _, err := s.redisService.GetWallet(ctx, telegramID); err == nil {
		return nil, ErrWalletExists
	} else if !errors.Is(err, ErrWalletNotFound) {
		return nil, err
	}

	address, err := s.ledger.CreateAccount(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger account: %w", err)
	}

	wallet := models.NewWallet(telegramID, address, time.Now().UTC())

	if s.startingBalance.IsPositive() {
		if s.houseWalletID == "" {
			return nil, ErrHouseNotConfigured
		}
		raw, err := models.ToRaw(s.startingBalance)
		if err != nil {
			return nil, err
		}
		if err := s.ledger.Transfer(ctx, s.houseWalletID, address, s.startingBalance); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
		wallet.Balance.Token = raw
	}

	if err := s.redisService.CreateWallet(ctx, wallet); err != nil {
		return nil, err
	}

	slog.Info("wallet created", "telegram_id", telegramID, "address", address, "balance_raw", wallet.Balance.Token)
	return wallet, nil
}

func (s *AccountService) GetWallet(ctx context.Context, telegramID int64) (*models.Wallet, error) {
	if _, err := s.redisService.GetUser(ctx, telegramID); err != nil {
		return nil, err
	}
	return s.redisService.GetWallet(ctx, telegramID)
}
