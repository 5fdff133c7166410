package proposal

import (
	"encoding/json"
	"time"

	"github.com/deedchain/arbitration_layer/internal/app/domain/committee"
)

// Action is the outcome a proposal argues for.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// SlashEntry instructs the stake ledger to reduce one principal's staked
// balance when the owning approval proposal wins.
type SlashEntry struct {
	Target string         `json:"target"`
	Role   committee.Role `json:"role"`
	Amount uint64         `json:"amount"`
}

// Proposal is one candidate outcome competing for threshold votes on an
// application.
type Proposal struct {
	ID            string
	ApplicationID string
	Proposer      string
	Action        Action
	Message       string

	// Payload carries outcome-specific data an approval commits: the new
	// state, a reward amount, a verdict. Opaque to the engine.
	Payload json.RawMessage

	Slashes []SlashEntry

	// VotesFor is the reverse index over vote records: the principals
	// currently backing this proposal. Populated on read, not authoritative.
	VotesFor []string

	CreatedAt time.Time
}

// VoteRecord is the single live vote a principal holds on an application.
// Casting a new vote moves the record; votes never accumulate.
type VoteRecord struct {
	ApplicationID string
	Principal     string
	ProposalID    string
	UpdatedAt     time.Time
}
