package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"coinflip-miniapp-backend/internal/fairness"
)

// ErrInvalidInput is wrapped by every ValidationError.
var ErrInvalidInput = errors.New("invalid input")

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// BetRequest is the raw place-bet body. Pointer fields distinguish a missing
// value from a zero one.
type BetRequest struct {
	TelegramID *int64           `json:"telegramId"`
	BetAmount  *decimal.Decimal `json:"betAmount"`
	Choice     string           `json:"choice"`
	ClientSeed string           `json:"clientSeed"`
	Nonce      *int64           `json:"nonce"`
}

// Bet is a validated BetRequest.
type Bet struct {
	TelegramID int64
	Amount     decimal.Decimal
	AmountRaw  int64
	Choice     string
	ClientSeed string
	Nonce      int64
}

func (r *BetRequest) Validate() (*Bet, error) {
	var missing []string
	if r.TelegramID == nil || *r.TelegramID == 0 {
		missing = append(missing, "telegramId")
	}
	if r.BetAmount == nil {
		missing = append(missing, "betAmount")
	}
	if strings.TrimSpace(r.Choice) == "" {
		missing = append(missing, "choice")
	}
	if r.ClientSeed == "" {
		missing = append(missing, "clientSeed")
	}
	if r.Nonce == nil {
		missing = append(missing, "nonce")
	}
	if len(missing) > 0 {
		return nil, invalid(missing[0], "Missing required fields: %s", strings.Join(missing, ", "))
	}

	if !r.BetAmount.IsPositive() {
		return nil, invalid("betAmount", "Invalid bet amount")
	}
	raw, err := ToRaw(*r.BetAmount)
	if err != nil {
		return nil, invalid("betAmount", "Bet amount is too large")
	}
	if raw <= 0 {
		return nil, invalid("betAmount", "Bet amount is below the smallest token unit")
	}

	choice := strings.ToLower(strings.TrimSpace(r.Choice))
	if !fairness.ValidChoice(choice) {
		return nil, invalid("choice", "Invalid choice")
	}

	if *r.Nonce < 0 {
		return nil, invalid("nonce", "Invalid nonce")
	}

	return &Bet{
		TelegramID: *r.TelegramID,
		Amount:     *r.BetAmount,
		AmountRaw:  raw,
		Choice:     choice,
		ClientSeed: r.ClientSeed,
		Nonce:      *r.Nonce,
	}, nil
}

// BetResult is returned to the player after settlement and carries everything
// needed to verify the flip.
type BetResult struct {
	Won            bool    `json:"won"`
	NewBalance     float64 `json:"newBalance"`
	CoinResult     string  `json:"coinResult"`
	BetAmount      float64 `json:"betAmount"`
	PayoutAmount   float64 `json:"payoutAmount"`
	PlatformFee    float64 `json:"platformFee"`
	ServerSeed     string  `json:"serverSeed"`
	ServerSeedHash string  `json:"serverSeedHash"`
	ClientSeed     string  `json:"clientSeed"`
	Nonce          int64   `json:"nonce"`
	ResultHash     string  `json:"resultHash"`
	PreCommitted   bool    `json:"preCommitted"`
}

type VerifyRequest struct {
	ServerSeed     string `json:"serverSeed" binding:"required"`
	ServerSeedHash string `json:"serverSeedHash"`
	ClientSeed     string `json:"clientSeed" binding:"required"`
	Nonce          *int64 `json:"nonce" binding:"required"`
}

type WalletRequest struct {
	TelegramID int64 `json:"telegramId" binding:"required"`
}
