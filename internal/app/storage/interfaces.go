package storage

import (
	"context"
	"errors"

	"github.com/deedchain/arbitration_layer/internal/app/domain/application"
	"github.com/deedchain/arbitration_layer/internal/app/domain/committee"
	"github.com/deedchain/arbitration_layer/internal/app/domain/proposal"
	"github.com/deedchain/arbitration_layer/internal/app/domain/reward"
)

// ErrNotFound is wrapped by store implementations when a record does not
// exist.
var ErrNotFound = errors.New("not found")

// CommitteeStore persists committee configurations.
type CommitteeStore interface {
	CreateCommittee(ctx context.Context, cfg committee.Config) (committee.Config, error)
	UpdateCommittee(ctx context.Context, cfg committee.Config) (committee.Config, error)
	GetCommittee(ctx context.Context, id string) (committee.Config, error)
	ListCommittees(ctx context.Context) ([]committee.Config, error)
}

// ApplicationStore persists applications. Applications are never deleted;
// the store is the permanent audit archive.
type ApplicationStore interface {
	CreateApplication(ctx context.Context, app application.Application) (application.Application, error)
	UpdateApplication(ctx context.Context, app application.Application) (application.Application, error)
	GetApplication(ctx context.Context, id string) (application.Application, error)
	ListApplications(ctx context.Context, committeeID string) ([]application.Application, error)
}

// ProposalStore persists proposals and the per-principal vote records of one
// application. Vote records hold at most one live vote per principal; SetVote
// replaces atomically.
type ProposalStore interface {
	CreateProposal(ctx context.Context, prop proposal.Proposal) (proposal.Proposal, error)
	GetProposal(ctx context.Context, applicationID, proposalID string) (proposal.Proposal, error)
	ListProposals(ctx context.Context, applicationID string) ([]proposal.Proposal, error)

	SetVote(ctx context.Context, applicationID, principal, proposalID string) error
	GetVote(ctx context.Context, applicationID, principal string) (string, error)
	ListVotes(ctx context.Context, applicationID string) (map[string]string, error)
	CountVotes(ctx context.Context, applicationID, proposalID string) (int, error)

	// ClearProposals removes every proposal and vote record of an
	// application, used when a reverted application is resubmitted.
	ClearProposals(ctx context.Context, applicationID string) error
}

// RewardStore persists reward accounts and the aggregated protocol fee
// balances.
type RewardStore interface {
	CreateRewardAccount(ctx context.Context, acct reward.Account) (reward.Account, error)
	UpdateRewardAccount(ctx context.Context, acct reward.Account) (reward.Account, error)
	GetRewardAccount(ctx context.Context, applicationID, principal string) (reward.Account, error)
	ListRewardAccounts(ctx context.Context, applicationID string) ([]reward.Account, error)

	AddProtocolFee(ctx context.Context, currency application.Currency, amount uint64) error
	ProtocolBalance(ctx context.Context, currency application.Currency) (reward.ProtocolBalance, error)
	// SweepProtocolFee atomically marks the outstanding balance in one
	// currency as withdrawn and returns the swept amount. Sweeping an empty
	// balance returns zero.
	SweepProtocolFee(ctx context.Context, currency application.Currency) (uint64, error)
}
