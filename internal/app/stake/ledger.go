// Package stake defines the stake-ledger boundary used for slashing. The
// engine only ever reads balances and applies slashes; deposits and
// withdrawals belong to the staking system outside this module.
package stake

import (
	"context"
	"fmt"
	"sync"

	"github.com/deedchain/arbitration_layer/internal/app/domain/committee"
)

// Ledger holds per-principal, per-role staked balances.
type Ledger interface {
	StakeOf(ctx context.Context, principal string, role committee.Role) (uint64, error)
	Slash(ctx context.Context, principal string, role committee.Role, amount uint64) error
}

type key struct {
	principal string
	role      committee.Role
}

// Memory is an in-memory Ledger for tests and local development.
type Memory struct {
	mu       sync.Mutex
	balances map[key]uint64
	slashed  map[key]uint64
}

var _ Ledger = (*Memory)(nil)

// NewMemory creates an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{
		balances: make(map[key]uint64),
		slashed:  make(map[key]uint64),
	}
}

// Deposit credits a principal's staked balance for a role.
func (m *Memory) Deposit(principal string, role committee.Role, amount uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[key{principal, role}] += amount
}

// StakeOf returns the current staked balance.
func (m *Memory) StakeOf(_ context.Context, principal string, role committee.Role) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[key{principal, role}], nil
}

// SlashedOf returns the total slashed from a principal's role balance.
func (m *Memory) SlashedOf(principal string, role committee.Role) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slashed[key{principal, role}]
}

// Slash reduces a principal's staked balance. Slashing more than the staked
// balance fails and leaves the balance untouched.
func (m *Memory) Slash(_ context.Context, principal string, role committee.Role, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key{principal, role}
	if m.balances[k] < amount {
		return fmt.Errorf("stake of %s/%s is %d, cannot slash %d", principal, role, m.balances[k], amount)
	}
	m.balances[k] -= amount
	m.slashed[k] += amount
	return nil
}
