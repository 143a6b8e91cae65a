package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Memory is an in-process Ledger for development and tests. The house
// account can be funded with Mint.
type Memory struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
}

func NewMemory() *Memory {
	return &Memory{balances: make(map[string]decimal.Decimal)}
}

func (m *Memory) CreateAccount(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	addr := "acct_" + uuid.New().String()
	m.balances[addr] = decimal.Zero
	return addr, nil
}

// Mint credits address out of thin air, creating the account if needed.
func (m *Memory) Mint(address string, amount decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.balances[address] = m.balances[address].Add(amount)
}

func (m *Memory) Transfer(ctx context.Context, from, to string, amount decimal.Decimal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !amount.IsPositive() || from == "" || to == "" {
		return fmt.Errorf("%w: %s -> %s amount %s", ErrInvalidTransfer, from, to, amount)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	src, ok := m.balances[from]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, from)
	}
	if _, ok := m.balances[to]; !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, to)
	}
	if src.LessThan(amount) {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientFunds, from, src, amount)
	}

	m.balances[from] = src.Sub(amount)
	m.balances[to] = m.balances[to].Add(amount)
	return nil
}

func (m *Memory) Balance(_ context.Context, address string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.balances[address]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrAccountNotFound, address)
	}
	return b, nil
}
