// Package vault defines the fund-transfer boundary used for reward payouts
// and protocol fee sweeps. The actual ETH and token transfer mechanics are
// external to the engine.
package vault

import (
	"context"
	"fmt"
	"sync"

	"github.com/deedchain/arbitration_layer/internal/app/domain/application"
)

// Vault moves funds out of the engine's custody to a principal.
type Vault interface {
	Transfer(ctx context.Context, to string, currency application.Currency, amount uint64) error
}

// Transfer is one recorded outbound payment.
type Transfer struct {
	To       string
	Currency application.Currency
	Amount   uint64
}

// Memory is an in-memory Vault for tests and local development. It records
// every transfer and can be told to fail specific recipients, which tests
// use to exercise the retryable-claim path.
type Memory struct {
	mu        sync.Mutex
	transfers []Transfer
	failing   map[string]error
}

var _ Vault = (*Memory)(nil)

// NewMemory creates an empty in-memory vault.
func NewMemory() *Memory {
	return &Memory{failing: make(map[string]error)}
}

// FailFor makes every transfer to the recipient fail until cleared.
func (m *Memory) FailFor(to string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failing, to)
		return
	}
	m.failing[to] = err
}

// Transfers returns a copy of the recorded transfers.
func (m *Memory) Transfers() []Transfer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transfer, len(m.transfers))
	copy(out, m.transfers)
	return out
}

// TotalTo sums the transfers made to one recipient in one currency.
func (m *Memory) TotalTo(to string, currency application.Currency) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total uint64
	for _, t := range m.transfers {
		if t.To == to && t.Currency == currency {
			total += t.Amount
		}
	}
	return total
}

// Transfer records an outbound payment.
func (m *Memory) Transfer(_ context.Context, to string, currency application.Currency, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err, ok := m.failing[to]; ok {
		return fmt.Errorf("transfer to %s: %w", to, err)
	}
	m.transfers = append(m.transfers, Transfer{To: to, Currency: currency, Amount: amount})
	return nil
}
