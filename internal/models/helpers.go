package models

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TokenDecimals is the number of decimal places of the game token.
const TokenDecimals = 9

// betNamespace scopes the deterministic bet ids.
var betNamespace = uuid.MustParse("6f0b5c8e-5d2a-4c2e-9a47-2f1c0e8b7d31")

func GenerateHistoryID() string {
	return fmt.Sprintf("game_%s_%s",
		time.Now().Format("20060102"),
		uuid.New().String())
}

func GenerateSessionID() string {
	return uuid.New().String()
}

// BetID identifies a bet by its player and provably fair coordinates, so a
// retried or replayed settlement maps to the same id.
func BetID(telegramID int64, clientSeed string, nonce int64) string {
	name := strconv.FormatInt(telegramID, 10) + "|" + clientSeed + "|" + strconv.FormatInt(nonce, 10)
	return uuid.NewSHA1(betNamespace, []byte(name)).String()
}

func GenerateClientSeed() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate client seed: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// ErrAmountOutOfRange is returned for amounts whose raw value overflows int64.
var ErrAmountOutOfRange = errors.New("amount out of range")

// ToRaw converts a token amount to raw units, truncating below one raw unit.
func ToRaw(amount decimal.Decimal) (int64, error) {
	shifted := amount.Shift(TokenDecimals).Floor()
	if !shifted.BigInt().IsInt64() {
		return 0, fmt.Errorf("%w: %s", ErrAmountOutOfRange, amount)
	}
	return shifted.IntPart(), nil
}

func FromRaw(raw int64) decimal.Decimal {
	return decimal.New(raw, -TokenDecimals)
}

// PlatformFee is floor(raw * percent / 100).
func PlatformFee(raw int64, percent decimal.Decimal) int64 {
	if !percent.IsPositive() {
		return 0
	}
	return decimal.NewFromInt(raw).Mul(percent).Div(decimal.NewFromInt(100)).Floor().IntPart()
}

// TotalPages is ceil(total / limit).
func TotalPages(total, limit int64) int64 {
	if limit <= 0 {
		return 0
	}
	return (total + limit - 1) / limit
}
