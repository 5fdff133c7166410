// Package rewards implements the reward ledger: proportional payout
// computation, single-claim reward accounts and the aggregated protocol fee
// sweep.
package rewards

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/deedchain/arbitration_layer/internal/app/domain/application"
	"github.com/deedchain/arbitration_layer/internal/app/domain/committee"
	"github.com/deedchain/arbitration_layer/internal/app/domain/reward"
	"github.com/deedchain/arbitration_layer/internal/app/engine"
	"github.com/deedchain/arbitration_layer/internal/app/metrics"
	"github.com/deedchain/arbitration_layer/internal/app/storage"
	"github.com/deedchain/arbitration_layer/internal/app/vault"
	"github.com/deedchain/arbitration_layer/pkg/logger"
)

// Service manages reward accounts and protocol fee balances.
type Service struct {
	committees storage.CommitteeStore
	apps       storage.ApplicationStore
	store      storage.RewardStore
	kinds      *engine.Registry
	vault      vault.Vault
	seq        *engine.Sequencer
	log        *logger.Logger

	// feeCollector is the single privileged principal allowed to sweep the
	// protocol fee balance.
	feeCollector string

	// claiming tracks reward claims whose vault transfer is in flight.
	// Guarded by seq; it keeps a slot claimed while the transfer runs
	// outside the serialized section.
	claiming map[string]struct{}
}

// New constructs the reward ledger service.
func New(committees storage.CommitteeStore, apps storage.ApplicationStore, store storage.RewardStore,
	kinds *engine.Registry, v vault.Vault, feeCollector string, seq *engine.Sequencer, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("rewards")
	}
	if seq == nil {
		seq = engine.NewSequencer()
	}
	return &Service{
		committees:   committees,
		apps:         apps,
		store:        store,
		kinds:        kinds,
		vault:        v,
		seq:          seq,
		log:          log,
		feeCollector: feeCollector,
		claiming:     make(map[string]struct{}),
	}
}

// ApplicationRewards computes each role's nominal reward on an application
// from the committee share table. Pure view: integer division per role, with
// the division remainder retained by the protocol fee bucket.
func (s *Service) ApplicationRewards(ctx context.Context, applicationID string) ([]reward.RoleReward, error) {
	app, err := s.apps.GetApplication(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	cfg, err := s.committees.GetCommittee(ctx, app.CommitteeID)
	if err != nil {
		return nil, err
	}

	rewards := make([]reward.RoleReward, 0, len(cfg.Roles))
	for _, role := range cfg.Roles {
		rewards = append(rewards, reward.RoleReward{
			Role:     role,
			Currency: app.Currency,
			Amount:   roleAmount(cfg, role, app.RewardPool),
		})
	}
	return rewards, nil
}

// Accrue materializes reward accounts for the locked-slot occupants of an
// application that just reached a terminal state. Eligibility is decoupled
// from voting: every occupant is paid regardless of which proposal they
// backed. The undistributed remainder and the protocol fee share accrue to
// the protocol balance. The caller persists the mutated application.
//
// Accrue runs inside the caller's serialized section and must not touch the
// sequencer.
func (s *Service) Accrue(ctx context.Context, app *application.Application) error {
	if app.RewardsAccrued {
		return nil
	}

	cfg, err := s.committees.GetCommittee(ctx, app.CommitteeID)
	if err != nil {
		return err
	}

	accounts, remainder, err := s.splitPool(*app, cfg)
	if err != nil {
		return err
	}

	var distributed uint64
	for _, acct := range accounts {
		if _, err := s.store.CreateRewardAccount(ctx, acct); err != nil {
			return fmt.Errorf("create reward account for %s: %w", acct.Principal, err)
		}
		distributed += acct.Owed
	}

	if err := s.store.AddProtocolFee(ctx, app.Currency, app.ProtocolFee+remainder); err != nil {
		return fmt.Errorf("accrue protocol fee: %w", err)
	}

	app.RewardsAccrued = true
	s.log.WithField("application_id", app.ID).
		WithField("distributed", distributed).
		WithField("protocol", app.ProtocolFee+remainder).
		Info("rewards accrued")
	return nil
}

// splitPool produces the reward accounts for an application. Kinds that
// implement engine.RewardSplitter (the custodian variant's hierarchical
// custodian/auditor split) override the default role-share distribution.
func (s *Service) splitPool(app application.Application, cfg committee.Config) ([]reward.Account, uint64, error) {
	if s.kinds != nil {
		if kind, err := s.kinds.Get(app.Kind); err == nil {
			if splitter, ok := kind.(engine.RewardSplitter); ok {
				return splitter.SplitRewardPool(app, cfg, app.RewardPool)
			}
		}
	}

	accounts := make([]reward.Account, 0, app.SlotsTaken)
	var distributed uint64
	for role, occupant := range app.Occupants() {
		amount := roleAmount(cfg, role, app.RewardPool)
		accounts = append(accounts, reward.Account{
			ApplicationID: app.ID,
			Principal:     occupant,
			Role:          role,
			Currency:      app.Currency,
			Owed:          amount,
		})
		distributed += amount
	}
	return accounts, app.RewardPool - distributed, nil
}

// ClaimReward pays out one occupant's reward account exactly once. A failed
// transfer aborts only this claim and leaves it retryable; the account is
// marked paid only after the transfer succeeds. The transfer itself runs
// outside the serialized section so a slow vault cannot stall consensus; the
// in-flight set keeps the claim exclusive in between.
func (s *Service) ClaimReward(ctx context.Context, applicationID, caller string) (reward.Account, error) {
	claimKey := applicationID + "/" + caller

	var acct reward.Account
	err := s.seq.Do(func() error {
		app, err := s.apps.GetApplication(ctx, applicationID)
		if err != nil {
			return err
		}
		if !app.Terminal() {
			return fmt.Errorf("application %s is %s: %w", app.ID, app.Status, engine.ErrNotResolved)
		}

		acct, err = s.store.GetRewardAccount(ctx, applicationID, caller)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("%s: %w", caller, engine.ErrNotEligible)
			}
			return err
		}
		if acct.PaidOut {
			return fmt.Errorf("%s on %s: %w", caller, applicationID, engine.ErrAlreadyPaid)
		}
		if _, busy := s.claiming[claimKey]; busy {
			return fmt.Errorf("claim by %s on %s is already in flight", caller, applicationID)
		}
		s.claiming[claimKey] = struct{}{}
		return nil
	})
	if err != nil {
		return reward.Account{}, err
	}

	var transferErr error
	if acct.Owed > 0 {
		transferErr = s.vault.Transfer(ctx, caller, acct.Currency, acct.Owed)
	}

	err = s.seq.Do(func() error {
		delete(s.claiming, claimKey)
		if transferErr != nil {
			return fmt.Errorf("reward transfer: %w", transferErr)
		}
		now := time.Now().UTC()
		acct.PaidOut = true
		acct.PaidAt = &now
		var err error
		acct, err = s.store.UpdateRewardAccount(ctx, acct)
		return err
	})
	if err != nil {
		return reward.Account{}, err
	}

	metrics.RecordRewardClaim(string(acct.Currency))
	s.log.WithField("application_id", applicationID).
		WithField("principal", caller).
		WithField("amount", acct.Owed).
		Info("reward claimed")
	return acct, nil
}

// ListAccounts returns the reward accounts of one application.
func (s *Service) ListAccounts(ctx context.Context, applicationID string) ([]reward.Account, error) {
	return s.store.ListRewardAccounts(ctx, applicationID)
}

// ProtocolBalance returns the protocol fee balance in one currency.
func (s *Service) ProtocolBalance(ctx context.Context, currency application.Currency) (reward.ProtocolBalance, error) {
	return s.store.ProtocolBalance(ctx, currency)
}

// ClaimProtocolFee sweeps the full outstanding protocol fee balance in one
// currency to the fee collector. Sweeping with nothing newly accrued
// transfers zero; that is idempotent success, not an error.
//
// Unlike ClaimReward, the transfer stays inside the serialized section: the
// swept amount must equal the transferred amount, and the balance keeps
// accruing between sections. The sweep has a single scheduled caller, so
// holding the sequencer for its transfer is the accepted cost.
func (s *Service) ClaimProtocolFee(ctx context.Context, caller string, currency application.Currency) (uint64, error) {
	if caller != s.feeCollector {
		return 0, fmt.Errorf("%s is not the fee collector: %w", caller, engine.ErrUnauthorized)
	}

	var swept uint64
	err := s.seq.Do(func() error {
		bal, err := s.store.ProtocolBalance(ctx, currency)
		if err != nil {
			return err
		}
		if bal.Outstanding() == 0 {
			return nil
		}
		if err := s.vault.Transfer(ctx, caller, currency, bal.Outstanding()); err != nil {
			return fmt.Errorf("protocol fee transfer: %w", err)
		}
		swept, err = s.store.SweepProtocolFee(ctx, currency)
		return err
	})
	if err != nil {
		return 0, err
	}

	if swept > 0 {
		s.log.WithField("currency", currency).
			WithField("amount", swept).
			Info("protocol fee swept")
	}
	return swept, nil
}

// roleAmount is the nominal reward of one role: pool * share / total units,
// integer division through a 128-bit intermediate.
func roleAmount(cfg committee.Config, role committee.Role, pool uint64) uint64 {
	return engine.ProRata(pool, uint64(cfg.RoleShares[role]), cfg.TotalShareUnits())
}
