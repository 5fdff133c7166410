package application

import (
	"encoding/json"
	"time"

	"github.com/deedchain/arbitration_layer/internal/app/domain/committee"
)

// Status is the lifecycle state of an application.
type Status string

const (
	StatusNotExists Status = "not_exists"
	StatusSubmitted Status = "submitted"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusReverted  Status = "reverted"
	StatusClosed    Status = "closed"
	StatusCompleted Status = "completed"
)

// Currency is the fee currency of an application, fixed at submission.
type Currency string

const (
	CurrencyETH   Currency = "eth"
	CurrencyToken Currency = "token"
)

// Slot is one unit of admission capacity for a role. Occupant is empty while
// the slot is free.
type Slot struct {
	Occupant string    `json:"occupant,omitempty"`
	LockedAt time.Time `json:"locked_at,omitempty"`
}

// SlashFailure records a slash that could not be applied when an approval
// resolved. Failures are audit data; they never undo the resolution.
type SlashFailure struct {
	Target string         `json:"target"`
	Role   committee.Role `json:"role"`
	Amount uint64         `json:"amount"`
	Reason string         `json:"reason"`
	At     time.Time      `json:"at"`
}

// Application is one request under committee consensus. Applications are
// archived permanently once resolved; they are never deleted.
type Application struct {
	ID          string
	Kind        string
	Applicant   string
	CommitteeID string
	Status      Status

	Currency    Currency
	Fee         uint64
	ProtocolFee uint64
	RewardPool  uint64

	// Payload is opaque application-kind data, replaced atomically on
	// resubmission.
	Payload json.RawMessage

	Slots          map[committee.Role]Slot
	SlotsTaken     int
	SlotsThreshold int
	TotalSlots     int

	RevertReason      string
	WinningProposalID string
	ResolvedAt        *time.Time
	SlashFailures     []SlashFailure

	// RewardsAccrued flips once when reward accounts are materialized for the
	// terminal state, so a close after a reject cannot double-accrue.
	RewardsAccrued bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Open reports whether the application still accepts locks, proposals and
// votes.
func (a Application) Open() bool { return a.Status == StatusSubmitted }

// Terminal reports whether the application reached a one-way outcome state.
// Reverted is not terminal: the applicant may still resubmit.
func (a Application) Terminal() bool {
	switch a.Status {
	case StatusApproved, StatusRejected, StatusClosed, StatusCompleted:
		return true
	}
	return false
}

// Occupies reports whether principal currently holds any locked slot.
func (a Application) Occupies(principal string) bool {
	for _, slot := range a.Slots {
		if slot.Occupant == principal {
			return true
		}
	}
	return false
}

// Occupants returns the set of principals holding locked slots, keyed by role.
func (a Application) Occupants() map[committee.Role]string {
	out := make(map[committee.Role]string)
	for role, slot := range a.Slots {
		if slot.Occupant != "" {
			out[role] = slot.Occupant
		}
	}
	return out
}
