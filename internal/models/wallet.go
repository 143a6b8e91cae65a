package models

import (
	"strconv"
	"time"

	"coinflip-miniapp-backend/internal/fairness"
)

type Balance struct {
	// Token is the game token balance in raw units.
	Token int64 `json:"token"`
}

type Wallet struct {
	TelegramID int64   `json:"telegramId"`
	Address    string  `json:"address"`
	Balance    Balance `json:"balance"`

	// Provably fair commitments, keyed by client seed then nonce.
	ProvablyFairState CommitmentStore `json:"provablyFairState"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func NewWallet(telegramID int64, address string, now time.Time) *Wallet {
	return &Wallet{
		TelegramID:        telegramID,
		Address:           address,
		ProvablyFairState: CommitmentStore{},
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// Commitments returns the wallet's store, allocating it for wallets decoded
// without one.
func (w *Wallet) Commitments() CommitmentStore {
	if w.ProvablyFairState == nil {
		w.ProvablyFairState = CommitmentStore{}
	}
	return w.ProvablyFairState
}

type BalanceResponse struct {
	TokenBalance float64 `json:"tokenBalance"`
}

type WalletResponse struct {
	Address string          `json:"publicKey"`
	Balance BalanceResponse `json:"balance"`
}

func (w *Wallet) Response() WalletResponse {
	return WalletResponse{
		Address: w.Address,
		Balance: BalanceResponse{TokenBalance: FromRaw(w.Balance.Token).InexactFloat64()},
	}
}

// CommitmentStore maps client seed -> nonce -> commitment. Nonces are stored
// as decimal string keys so the document keeps its JSON shape.
type CommitmentStore map[string]map[string]fairness.Commitment

func nonceKey(nonce int64) string {
	return strconv.FormatInt(nonce, 10)
}

func (s CommitmentStore) Get(clientSeed string, nonce int64) (fairness.Commitment, bool) {
	c, ok := s[clientSeed][nonceKey(nonce)]
	return c, ok
}

// Set stores a leaf unless one already exists; existing leaves are immutable.
// It reports whether the leaf was written.
func (s CommitmentStore) Set(clientSeed string, nonce int64, c fairness.Commitment) bool {
	inner, ok := s[clientSeed]
	if !ok {
		inner = make(map[string]fairness.Commitment)
		s[clientSeed] = inner
	}

	key := nonceKey(nonce)
	if _, exists := inner[key]; exists {
		return false
	}
	inner[key] = c
	return true
}

// GetOrCreate returns the leaf for (clientSeed, nonce), generating and storing
// one with gen when absent.
func (s CommitmentStore) GetOrCreate(clientSeed string, nonce int64, gen func() (fairness.Commitment, error)) (fairness.Commitment, bool, error) {
	if c, ok := s.Get(clientSeed, nonce); ok {
		return c, false, nil
	}

	c, err := gen()
	if err != nil {
		return fairness.Commitment{}, false, err
	}
	s.Set(clientSeed, nonce, c)
	return c, true, nil
}
