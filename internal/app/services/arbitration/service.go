// Package arbitration manages competing proposals and reassignable votes on
// an application, resolves the application the instant any proposal reaches
// the committee threshold, and drives the resolution side effects: outcome
// commit, reward accrual and stake slashing.
package arbitration

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/deedchain/arbitration_layer/internal/app/domain/application"
	"github.com/deedchain/arbitration_layer/internal/app/domain/proposal"
	"github.com/deedchain/arbitration_layer/internal/app/engine"
	"github.com/deedchain/arbitration_layer/internal/app/metrics"
	"github.com/deedchain/arbitration_layer/internal/app/services/rewards"
	"github.com/deedchain/arbitration_layer/internal/app/stake"
	"github.com/deedchain/arbitration_layer/internal/app/storage"
	"github.com/deedchain/arbitration_layer/pkg/logger"
)

// Service runs proposal arbitration for applications.
type Service struct {
	apps      storage.ApplicationStore
	proposals storage.ProposalStore
	kinds     *engine.Registry
	stakes    stake.Ledger
	rewards   *rewards.Service
	seq       *engine.Sequencer
	log       *logger.Logger
}

// New constructs the arbitration service.
func New(apps storage.ApplicationStore, proposals storage.ProposalStore, kinds *engine.Registry,
	stakes stake.Ledger, rewardsSvc *rewards.Service, seq *engine.Sequencer, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("arbitration")
	}
	if seq == nil {
		seq = engine.NewSequencer()
	}
	return &Service{
		apps:      apps,
		proposals: proposals,
		kinds:     kinds,
		stakes:    stakes,
		rewards:   rewardsSvc,
		seq:       seq,
		log:       log,
	}
}

// VoteResult reports the effect of a vote or proposal creation.
type VoteResult struct {
	Proposal proposal.Proposal
	Tally    int
	Resolved bool
	Status   application.Status
}

// ProposeApproval creates an approval proposal with an optional outcome
// payload and slash instructions. The proposer must hold a locked slot on
// the application, not any particular role, and is counted as the
// proposal's first voter.
func (s *Service) ProposeApproval(ctx context.Context, applicationID, proposer, message string,
	outcomePayload json.RawMessage, slashes []proposal.SlashEntry) (VoteResult, error) {
	return s.propose(ctx, proposal.Proposal{
		ApplicationID: applicationID,
		Proposer:      proposer,
		Action:        proposal.ActionApprove,
		Message:       message,
		Payload:       outcomePayload,
		Slashes:       slashes,
	})
}

// ProposeReject creates a reject proposal. The proposer must hold a locked
// slot and is counted as the proposal's first voter.
func (s *Service) ProposeReject(ctx context.Context, applicationID, proposer, message string) (VoteResult, error) {
	return s.propose(ctx, proposal.Proposal{
		ApplicationID: applicationID,
		Proposer:      proposer,
		Action:        proposal.ActionReject,
		Message:       message,
	})
}

func (s *Service) propose(ctx context.Context, prop proposal.Proposal) (VoteResult, error) {
	var result VoteResult
	var effects *sideEffects

	err := s.seq.Do(func() error {
		app, err := s.apps.GetApplication(ctx, prop.ApplicationID)
		if err != nil {
			return err
		}
		if !app.Open() {
			return fmt.Errorf("application %s is %s: %w", app.ID, app.Status, engine.ErrApplicationNotOpen)
		}
		if !app.Occupies(prop.Proposer) {
			return fmt.Errorf("%s: %w", prop.Proposer, engine.ErrNotLocked)
		}

		prop, err = s.proposals.CreateProposal(ctx, prop)
		if err != nil {
			return err
		}

		// Self-vote: the proposer backs their own proposal at creation,
		// leaving whatever they voted for before.
		result, effects, err = s.castVote(ctx, app, prop, prop.Proposer)
		return err
	})
	if err != nil {
		return VoteResult{}, err
	}

	metrics.RecordVote(string(result.Proposal.Action))
	s.log.WithField("application_id", prop.ApplicationID).
		WithField("proposal_id", result.Proposal.ID).
		WithField("action", result.Proposal.Action).
		WithField("proposer", prop.Proposer).
		Info("proposal created")

	s.drainSideEffects(ctx, effects)
	return result, nil
}

// Vote moves the caller's single live vote to the given proposal. The prior
// proposal's tally is debited and the new one credited in the same state
// transition; votes never accumulate. Reaching the committee threshold
// resolves the application immediately and exclusively to that proposal's
// outcome.
func (s *Service) Vote(ctx context.Context, applicationID, voter, proposalID string) (VoteResult, error) {
	var result VoteResult
	var effects *sideEffects

	err := s.seq.Do(func() error {
		app, err := s.apps.GetApplication(ctx, applicationID)
		if err != nil {
			return err
		}
		if !app.Open() {
			return fmt.Errorf("application %s is %s: %w", app.ID, app.Status, engine.ErrApplicationNotOpen)
		}
		if !app.Occupies(voter) {
			return fmt.Errorf("%s: %w", voter, engine.ErrNotLocked)
		}

		prop, err := s.proposals.GetProposal(ctx, applicationID, proposalID)
		if err != nil {
			return fmt.Errorf("proposal %s: %w", proposalID, engine.ErrUnknownProposal)
		}

		result, effects, err = s.castVote(ctx, app, prop, voter)
		return err
	})
	if err != nil {
		return VoteResult{}, err
	}

	metrics.RecordVote(string(result.Proposal.Action))
	s.log.WithField("application_id", applicationID).
		WithField("proposal_id", proposalID).
		WithField("voter", voter).
		WithField("tally", result.Tally).
		Info("vote cast")

	s.drainSideEffects(ctx, effects)
	return result, nil
}

// castVote records the vote and runs the threshold check. Runs inside the
// serialized section. Threshold resolution mutates the application and
// accrues rewards before returning; external side effects are handed back
// for the caller to drain after the state has committed.
func (s *Service) castVote(ctx context.Context, app application.Application, prop proposal.Proposal, voter string) (VoteResult, *sideEffects, error) {
	if err := s.proposals.SetVote(ctx, app.ID, voter, prop.ID); err != nil {
		return VoteResult{}, nil, err
	}

	tally, err := s.proposals.CountVotes(ctx, app.ID, prop.ID)
	if err != nil {
		return VoteResult{}, nil, err
	}

	result := VoteResult{Proposal: prop, Tally: tally, Status: app.Status}
	if tally < app.SlotsThreshold {
		return result, nil, nil
	}

	effects, err := s.resolve(ctx, &app, prop)
	if err != nil {
		return VoteResult{}, nil, err
	}

	result.Resolved = true
	result.Status = app.Status
	return result, effects, nil
}

// sideEffects is the deferred queue of external calls a resolution triggers.
// It is drained only after the resolving transaction has committed, so a
// misbehaving stake ledger or outcome callback can never re-enter
// in-progress consensus state.
type sideEffects struct {
	app     application.Application
	winning proposal.Proposal
}

// resolve flips the application into its terminal outcome and accrues
// rewards for the locked-slot occupant set at this moment. The terminal
// status write is one-way.
func (s *Service) resolve(ctx context.Context, app *application.Application, winning proposal.Proposal) (*sideEffects, error) {
	now := time.Now().UTC()
	switch winning.Action {
	case proposal.ActionApprove:
		app.Status = application.StatusApproved
	case proposal.ActionReject:
		app.Status = application.StatusRejected
	default:
		return nil, fmt.Errorf("proposal %s has unknown action %q", winning.ID, winning.Action)
	}
	app.WinningProposalID = winning.ID
	app.ResolvedAt = &now

	if err := s.rewards.Accrue(ctx, app); err != nil {
		return nil, err
	}

	updated, err := s.apps.UpdateApplication(ctx, *app)
	if err != nil {
		return nil, err
	}
	*app = updated

	metrics.RecordResolution(app.Kind, string(app.Status))
	s.log.WithField("application_id", app.ID).
		WithField("proposal_id", winning.ID).
		WithField("status", app.Status).
		Info("application resolved")

	return &sideEffects{app: *app, winning: winning}, nil
}

// drainSideEffects applies slashing and the kind outcome commit after the
// resolution has been persisted. Each slash is applied independently; a
// failure is recorded on the application and reported, and never undoes the
// resolution or the remaining slashes.
func (s *Service) drainSideEffects(ctx context.Context, effects *sideEffects) {
	if effects == nil {
		return
	}
	app := effects.app

	var failures []application.SlashFailure
	if effects.winning.Action == proposal.ActionApprove {
		for _, entry := range effects.winning.Slashes {
			if err := s.stakes.Slash(ctx, entry.Target, entry.Role, entry.Amount); err != nil {
				metrics.RecordSlashFailure()
				s.log.WithError(err).
					WithField("application_id", app.ID).
					WithField("target", entry.Target).
					WithField("amount", entry.Amount).
					Error("slash failed")
				failures = append(failures, application.SlashFailure{
					Target: entry.Target,
					Role:   entry.Role,
					Amount: entry.Amount,
					Reason: err.Error(),
					At:     time.Now().UTC(),
				})
			}
		}
	}

	var nextStatus application.Status
	outcomeApplied := false
	if effects.winning.Action == proposal.ActionApprove {
		kind, err := s.kinds.Get(app.Kind)
		if err != nil {
			s.log.WithError(err).WithField("application_id", app.ID).Error("outcome kind lookup failed")
		} else {
			nextStatus, err = kind.ApplyOutcome(ctx, &app, effects.winning)
			if err != nil {
				s.log.WithError(err).
					WithField("application_id", app.ID).
					Error("outcome apply failed")
				nextStatus = ""
			} else {
				outcomeApplied = true
			}
		}
	}

	if len(failures) == 0 && nextStatus == "" && !outcomeApplied {
		return
	}

	err := s.seq.Do(func() error {
		current, err := s.apps.GetApplication(ctx, app.ID)
		if err != nil {
			return err
		}
		current.SlashFailures = append(current.SlashFailures, failures...)
		if outcomeApplied {
			current.Payload = app.Payload
		}
		if nextStatus != "" {
			current.Status = nextStatus
		}
		_, err = s.apps.UpdateApplication(ctx, current)
		return err
	})
	if err != nil {
		s.log.WithError(err).WithField("application_id", app.ID).Error("recording resolution side effects failed")
	}
}

// GetProposal returns one proposal with its current voter set.
func (s *Service) GetProposal(ctx context.Context, applicationID, proposalID string) (proposal.Proposal, error) {
	return s.proposals.GetProposal(ctx, applicationID, proposalID)
}

// ListProposals returns all proposals of one application.
func (s *Service) ListProposals(ctx context.Context, applicationID string) ([]proposal.Proposal, error) {
	return s.proposals.ListProposals(ctx, applicationID)
}

// GetProposalVotes returns the principals currently backing a proposal.
func (s *Service) GetProposalVotes(ctx context.Context, applicationID, proposalID string) ([]string, error) {
	prop, err := s.proposals.GetProposal(ctx, applicationID, proposalID)
	if err != nil {
		return nil, err
	}
	return prop.VotesFor, nil
}

// GetVotedFor returns the proposal a principal currently backs, empty if
// none.
func (s *Service) GetVotedFor(ctx context.Context, applicationID, principal string) (string, error) {
	return s.proposals.GetVote(ctx, applicationID, principal)
}
