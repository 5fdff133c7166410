package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/deedchain/arbitration_layer/internal/app/domain/application"
	"github.com/deedchain/arbitration_layer/internal/app/domain/committee"
	"github.com/deedchain/arbitration_layer/internal/app/domain/proposal"
	"github.com/deedchain/arbitration_layer/internal/app/domain/reward"
	"github.com/deedchain/arbitration_layer/internal/app/storage"
	"github.com/google/uuid"
)

type rewardKey struct {
	applicationID string
	principal     string
}

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local
// development.
type Store struct {
	mu               sync.RWMutex
	committees       map[string]committee.Config
	applications     map[string]application.Application
	proposals        map[string]map[string]proposal.Proposal // applicationID -> proposalID -> proposal
	votes            map[string]map[string]string            // applicationID -> principal -> proposalID
	rewardAccounts   map[rewardKey]reward.Account
	protocolBalances map[application.Currency]reward.ProtocolBalance
}

var _ storage.CommitteeStore = (*Store)(nil)
var _ storage.ApplicationStore = (*Store)(nil)
var _ storage.ProposalStore = (*Store)(nil)
var _ storage.RewardStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		committees:       make(map[string]committee.Config),
		applications:     make(map[string]application.Application),
		proposals:        make(map[string]map[string]proposal.Proposal),
		votes:            make(map[string]map[string]string),
		rewardAccounts:   make(map[rewardKey]reward.Account),
		protocolBalances: make(map[application.Currency]reward.ProtocolBalance),
	}
}

// CommitteeStore implementation ----------------------------------------------

func (s *Store) CreateCommittee(_ context.Context, cfg committee.Config) (committee.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	} else if _, exists := s.committees[cfg.ID]; exists {
		return committee.Config{}, fmt.Errorf("committee %s already exists", cfg.ID)
	}

	now := time.Now().UTC()
	cfg.CreatedAt = now
	cfg.UpdatedAt = now
	s.committees[cfg.ID] = cloneCommittee(cfg)
	return cfg, nil
}

func (s *Store) UpdateCommittee(_ context.Context, cfg committee.Config) (committee.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.committees[cfg.ID]
	if !ok {
		return committee.Config{}, fmt.Errorf("committee %s: %w", cfg.ID, storage.ErrNotFound)
	}
	cfg.CreatedAt = original.CreatedAt
	cfg.UpdatedAt = time.Now().UTC()
	s.committees[cfg.ID] = cloneCommittee(cfg)
	return cfg, nil
}

func (s *Store) GetCommittee(_ context.Context, id string) (committee.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.committees[id]
	if !ok {
		return committee.Config{}, fmt.Errorf("committee %s: %w", id, storage.ErrNotFound)
	}
	return cloneCommittee(cfg), nil
}

func (s *Store) ListCommittees(_ context.Context) ([]committee.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]committee.Config, 0, len(s.committees))
	for _, cfg := range s.committees {
		result = append(result, cloneCommittee(cfg))
	}
	return result, nil
}

// ApplicationStore implementation --------------------------------------------

func (s *Store) CreateApplication(_ context.Context, app application.Application) (application.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if app.ID == "" {
		app.ID = uuid.NewString()
	} else if _, exists := s.applications[app.ID]; exists {
		return application.Application{}, fmt.Errorf("application %s already exists", app.ID)
	}

	now := time.Now().UTC()
	app.CreatedAt = now
	app.UpdatedAt = now
	s.applications[app.ID] = cloneApplication(app)
	return app, nil
}

func (s *Store) UpdateApplication(_ context.Context, app application.Application) (application.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.applications[app.ID]
	if !ok {
		return application.Application{}, fmt.Errorf("application %s: %w", app.ID, storage.ErrNotFound)
	}
	app.CreatedAt = original.CreatedAt
	app.UpdatedAt = time.Now().UTC()
	s.applications[app.ID] = cloneApplication(app)
	return app, nil
}

func (s *Store) GetApplication(_ context.Context, id string) (application.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	app, ok := s.applications[id]
	if !ok {
		return application.Application{}, fmt.Errorf("application %s: %w", id, storage.ErrNotFound)
	}
	return cloneApplication(app), nil
}

func (s *Store) ListApplications(_ context.Context, committeeID string) ([]application.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]application.Application, 0)
	for _, app := range s.applications {
		if committeeID == "" || app.CommitteeID == committeeID {
			result = append(result, cloneApplication(app))
		}
	}
	return result, nil
}

// ProposalStore implementation -----------------------------------------------

func (s *Store) CreateProposal(_ context.Context, prop proposal.Proposal) (proposal.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prop.ID == "" {
		prop.ID = uuid.NewString()
	}
	byID, ok := s.proposals[prop.ApplicationID]
	if !ok {
		byID = make(map[string]proposal.Proposal)
		s.proposals[prop.ApplicationID] = byID
	}
	if _, exists := byID[prop.ID]; exists {
		return proposal.Proposal{}, fmt.Errorf("proposal %s already exists", prop.ID)
	}

	prop.CreatedAt = time.Now().UTC()
	prop.VotesFor = nil
	byID[prop.ID] = cloneProposal(prop)
	return prop, nil
}

func (s *Store) GetProposal(_ context.Context, applicationID, proposalID string) (proposal.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prop, ok := s.proposals[applicationID][proposalID]
	if !ok {
		return proposal.Proposal{}, fmt.Errorf("proposal %s: %w", proposalID, storage.ErrNotFound)
	}
	out := cloneProposal(prop)
	out.VotesFor = s.votesForLocked(applicationID, proposalID)
	return out, nil
}

func (s *Store) ListProposals(_ context.Context, applicationID string) ([]proposal.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]proposal.Proposal, 0, len(s.proposals[applicationID]))
	for id, prop := range s.proposals[applicationID] {
		out := cloneProposal(prop)
		out.VotesFor = s.votesForLocked(applicationID, id)
		result = append(result, out)
	}
	return result, nil
}

func (s *Store) SetVote(_ context.Context, applicationID, principal, proposalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.proposals[applicationID][proposalID]; !ok {
		return fmt.Errorf("proposal %s: %w", proposalID, storage.ErrNotFound)
	}
	byPrincipal, ok := s.votes[applicationID]
	if !ok {
		byPrincipal = make(map[string]string)
		s.votes[applicationID] = byPrincipal
	}
	byPrincipal[principal] = proposalID
	return nil
}

func (s *Store) GetVote(_ context.Context, applicationID, principal string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.votes[applicationID][principal], nil
}

func (s *Store) ListVotes(_ context.Context, applicationID string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string, len(s.votes[applicationID]))
	for principal, proposalID := range s.votes[applicationID] {
		out[principal] = proposalID
	}
	return out, nil
}

func (s *Store) CountVotes(_ context.Context, applicationID, proposalID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, votedFor := range s.votes[applicationID] {
		if votedFor == proposalID {
			count++
		}
	}
	return count, nil
}

func (s *Store) ClearProposals(_ context.Context, applicationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.proposals, applicationID)
	delete(s.votes, applicationID)
	return nil
}

func (s *Store) votesForLocked(applicationID, proposalID string) []string {
	var voters []string
	for principal, votedFor := range s.votes[applicationID] {
		if votedFor == proposalID {
			voters = append(voters, principal)
		}
	}
	return voters
}

// RewardStore implementation -------------------------------------------------

func (s *Store) CreateRewardAccount(_ context.Context, acct reward.Account) (reward.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := rewardKey{acct.ApplicationID, acct.Principal}
	if existing, exists := s.rewardAccounts[k]; exists {
		// One account per (application, principal); accruals merge.
		existing.Owed += acct.Owed
		s.rewardAccounts[k] = existing
		return existing, nil
	}

	acct.CreatedAt = time.Now().UTC()
	s.rewardAccounts[k] = acct
	return acct, nil
}

func (s *Store) UpdateRewardAccount(_ context.Context, acct reward.Account) (reward.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := rewardKey{acct.ApplicationID, acct.Principal}
	original, ok := s.rewardAccounts[k]
	if !ok {
		return reward.Account{}, fmt.Errorf("reward account %s/%s: %w", acct.ApplicationID, acct.Principal, storage.ErrNotFound)
	}
	acct.CreatedAt = original.CreatedAt
	s.rewardAccounts[k] = acct
	return acct, nil
}

func (s *Store) GetRewardAccount(_ context.Context, applicationID, principal string) (reward.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.rewardAccounts[rewardKey{applicationID, principal}]
	if !ok {
		return reward.Account{}, fmt.Errorf("reward account %s/%s: %w", applicationID, principal, storage.ErrNotFound)
	}
	return acct, nil
}

func (s *Store) ListRewardAccounts(_ context.Context, applicationID string) ([]reward.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]reward.Account, 0)
	for k, acct := range s.rewardAccounts {
		if k.applicationID == applicationID {
			result = append(result, acct)
		}
	}
	return result, nil
}

func (s *Store) AddProtocolFee(_ context.Context, currency application.Currency, amount uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bal := s.protocolBalances[currency]
	bal.Currency = currency
	bal.Accrued += amount
	s.protocolBalances[currency] = bal
	return nil
}

func (s *Store) ProtocolBalance(_ context.Context, currency application.Currency) (reward.ProtocolBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bal := s.protocolBalances[currency]
	bal.Currency = currency
	return bal, nil
}

func (s *Store) SweepProtocolFee(_ context.Context, currency application.Currency) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bal := s.protocolBalances[currency]
	out := bal.Outstanding()
	bal.Currency = currency
	bal.Withdrawn += out
	s.protocolBalances[currency] = bal
	return out, nil
}

// clone helpers ---------------------------------------------------------------

func cloneCommittee(cfg committee.Config) committee.Config {
	out := cfg
	out.Roles = append([]committee.Role(nil), cfg.Roles...)
	out.RoleShares = make(map[committee.Role]uint32, len(cfg.RoleShares))
	for role, share := range cfg.RoleShares {
		out.RoleShares[role] = share
	}
	return out
}

func cloneApplication(app application.Application) application.Application {
	out := app
	out.Payload = append([]byte(nil), app.Payload...)
	out.Slots = make(map[committee.Role]application.Slot, len(app.Slots))
	for role, slot := range app.Slots {
		out.Slots[role] = slot
	}
	out.SlashFailures = append([]application.SlashFailure(nil), app.SlashFailures...)
	return out
}

func cloneProposal(prop proposal.Proposal) proposal.Proposal {
	out := prop
	out.Payload = append([]byte(nil), prop.Payload...)
	out.Slashes = append([]proposal.SlashEntry(nil), prop.Slashes...)
	out.VotesFor = append([]string(nil), prop.VotesFor...)
	return out
}
