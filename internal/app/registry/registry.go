// Package registry defines the role-registry boundary the engine consumes.
// Committee election and delegation live outside the engine; only the
// resolved role assignments are visible here.
package registry

import (
	"context"
	"sync"

	"github.com/deedchain/arbitration_layer/internal/app/domain/committee"
)

// RoleRegistry resolves role holders and stake requirements per committee.
type RoleRegistry interface {
	HasRole(ctx context.Context, committeeID, principal string, role committee.Role) (bool, error)
	MinimalStake(ctx context.Context, committeeID string, role committee.Role) (uint64, error)
}

type roleKey struct {
	committeeID string
	principal   string
	role        committee.Role
}

type stakeKey struct {
	committeeID string
	role        committee.Role
}

// Memory is an in-memory RoleRegistry for tests and local development.
type Memory struct {
	mu     sync.RWMutex
	roles  map[roleKey]bool
	stakes map[stakeKey]uint64
}

var _ RoleRegistry = (*Memory)(nil)

// NewMemory creates an empty in-memory registry.
func NewMemory() *Memory {
	return &Memory{
		roles:  make(map[roleKey]bool),
		stakes: make(map[stakeKey]uint64),
	}
}

// Grant assigns role to principal within a committee.
func (m *Memory) Grant(committeeID, principal string, role committee.Role) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles[roleKey{committeeID, principal, role}] = true
}

// Revoke removes a role assignment.
func (m *Memory) Revoke(committeeID, principal string, role committee.Role) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.roles, roleKey{committeeID, principal, role})
}

// SetMinimalStake sets the stake requirement for a role.
func (m *Memory) SetMinimalStake(committeeID string, role committee.Role, amount uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stakes[stakeKey{committeeID, role}] = amount
}

// HasRole reports whether principal holds role in the committee.
func (m *Memory) HasRole(_ context.Context, committeeID, principal string, role committee.Role) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.roles[roleKey{committeeID, principal, role}], nil
}

// MinimalStake returns the stake requirement for a role, zero if unset.
func (m *Memory) MinimalStake(_ context.Context, committeeID string, role committee.Role) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stakes[stakeKey{committeeID, role}], nil
}
