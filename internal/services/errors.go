package services

import (
	"errors"

	"coinflip-miniapp-backend/internal/models"
)

var (
	ErrInvalidInput        = models.ErrInvalidInput
	ErrUserNotFound        = errors.New("user not found")
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrHouseNotConfigured  = errors.New("house wallet not configured")
	ErrTransferFailed      = errors.New("token transfer failed")
	ErrBetAlreadySettled   = errors.New("bet already settled")
	ErrSettlementPending   = errors.New("bet settlement awaiting confirmation")
	ErrWalletBusy          = errors.New("wallet is busy with another request")
	ErrWalletConflict      = errors.New("wallet was modified concurrently")
	ErrUserExists          = errors.New("user already exists")
	ErrWalletExists        = errors.New("wallet already exists")
	ErrSettlementNotFound  = errors.New("settlement not found")
	ErrSessionNotFound     = errors.New("session not found")
)
