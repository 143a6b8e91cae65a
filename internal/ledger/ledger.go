// Package ledger talks to the token ledger that actually holds player and
// house funds. Amounts cross this boundary in token units; the ledger owns
// the conversion to its own smallest unit.
package ledger

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrAccountNotFound   = errors.New("ledger account not found")
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	ErrInvalidTransfer   = errors.New("ledger: invalid transfer")
	ErrTransferRejected  = errors.New("ledger: transfer rejected")
	ErrLedgerUnavailable = errors.New("ledger unavailable")
)

// IsRejected reports whether err is a definitive refusal, meaning the ledger
// did not move any funds. Timeouts, transport failures and server errors are
// not rejections: the transfer may or may not have been applied.
func IsRejected(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrInvalidTransfer) ||
		errors.Is(err, ErrTransferRejected)
}

// Ledger is the external collaborator used for every fund movement.
type Ledger interface {
	// Transfer moves amount from one account to another. A nil error means the
	// ledger has accepted and confirmed the movement; see IsRejected for
	// telling failures apart.
	Transfer(ctx context.Context, from, to string, amount decimal.Decimal) error
	CreateAccount(ctx context.Context) (string, error)
	Balance(ctx context.Context, address string) (decimal.Decimal, error)
}
