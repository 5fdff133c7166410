package committee

import "time"

// Role identifies one arbitration role within a committee. Each role maps to
// exactly one admission slot on an application governed by the committee.
type Role string

// PaymentMethod restricts which currencies a committee accepts for
// application fees.
type PaymentMethod string

const (
	PaymentMethodNone        PaymentMethod = "none"
	PaymentMethodETHOnly     PaymentMethod = "eth_only"
	PaymentMethodTokenOnly   PaymentMethod = "token_only"
	PaymentMethodETHAndToken PaymentMethod = "eth_and_token"
)

// Config is one committee configuration. It is referenced by applications and
// consumed read-only by the engine: thresholds, slot roles, fee policy and
// reward shares are all fixed here.
type Config struct {
	ID          string
	Name        string
	Description string

	// Roles is the full slot set (N). Threshold is the number of matching
	// votes required to resolve an application (M).
	Roles     []Role
	Threshold int

	// UnlockerRole may clear occupied slots on open applications.
	UnlockerRole Role

	PaymentMethod PaymentMethod

	// Per-weight-unit minimal fee rates in the smallest currency unit.
	MinimalFeeETH   uint64
	MinimalFeeToken uint64

	// ProtocolShareBps is the protocol's cut of every fee, in basis points.
	// The rest of the fee funds the participants reward pool.
	ProtocolShareBps uint32

	// RoleShares assigns proportional reward-share units per role. A role
	// missing from the table earns nothing.
	RoleShares map[Role]uint32

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TotalSlots returns N, the committee's slot count.
func (c Config) TotalSlots() int { return len(c.Roles) }

// HasSlotRole reports whether role is one of the committee's slot roles.
func (c Config) HasSlotRole(role Role) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// TotalShareUnits sums the reward-share units across all roles.
func (c Config) TotalShareUnits() uint64 {
	var total uint64
	for _, share := range c.RoleShares {
		total += uint64(share)
	}
	return total
}

// AllowsETH reports whether the committee accepts ETH fees.
func (c Config) AllowsETH() bool {
	return c.PaymentMethod == PaymentMethodETHOnly || c.PaymentMethod == PaymentMethodETHAndToken
}

// AllowsToken reports whether the committee accepts token fees.
func (c Config) AllowsToken() bool {
	return c.PaymentMethod == PaymentMethodTokenOnly || c.PaymentMethod == PaymentMethodETHAndToken
}
