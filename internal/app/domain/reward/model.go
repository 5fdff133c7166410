package reward

import (
	"time"

	"github.com/deedchain/arbitration_layer/internal/app/domain/application"
	"github.com/deedchain/arbitration_layer/internal/app/domain/committee"
)

// Account is one principal's claimable share of an application's reward pool.
// PaidOut transitions false to true exactly once.
type Account struct {
	ApplicationID string
	Principal     string
	Role          committee.Role
	Currency      application.Currency
	Owed          uint64
	PaidOut       bool
	PaidAt        *time.Time
	CreatedAt     time.Time
}

// RoleReward is the nominal reward a role earns on an application, computed
// from the committee share table. View data only.
type RoleReward struct {
	Role     committee.Role       `json:"role"`
	Currency application.Currency `json:"currency"`
	Amount   uint64               `json:"amount"`
}

// ProtocolBalance tracks the protocol's accrued and withdrawn fee totals in
// one currency, aggregated across all applications.
type ProtocolBalance struct {
	Currency  application.Currency
	Accrued   uint64
	Withdrawn uint64
}

// Outstanding returns the claimable portion of the balance.
func (b ProtocolBalance) Outstanding() uint64 {
	if b.Withdrawn >= b.Accrued {
		return 0
	}
	return b.Accrued - b.Withdrawn
}
