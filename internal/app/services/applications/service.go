// Package applications implements the admission and lifecycle state machine
// for applications under committee consensus: submission, slot locking,
// unilateral revert, resubmission and close.
package applications

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/deedchain/arbitration_layer/internal/app/domain/application"
	"github.com/deedchain/arbitration_layer/internal/app/domain/committee"
	"github.com/deedchain/arbitration_layer/internal/app/engine"
	"github.com/deedchain/arbitration_layer/internal/app/metrics"
	"github.com/deedchain/arbitration_layer/internal/app/registry"
	"github.com/deedchain/arbitration_layer/internal/app/services/feeschedule"
	"github.com/deedchain/arbitration_layer/internal/app/stake"
	"github.com/deedchain/arbitration_layer/internal/app/storage"
	"github.com/deedchain/arbitration_layer/pkg/logger"
)

// RewardAccruer materializes reward accounts when an application reaches a
// terminal state. Implemented by the rewards service.
type RewardAccruer interface {
	Accrue(ctx context.Context, app *application.Application) error
}

// Service drives the application lifecycle.
type Service struct {
	committees storage.CommitteeStore
	apps       storage.ApplicationStore
	proposals  storage.ProposalStore
	fees       *feeschedule.Service
	kinds      *engine.Registry
	roles      registry.RoleRegistry
	stakes     stake.Ledger
	rewards    RewardAccruer
	seq        *engine.Sequencer
	log        *logger.Logger
}

// New constructs the application lifecycle service.
func New(committees storage.CommitteeStore, apps storage.ApplicationStore, proposals storage.ProposalStore,
	fees *feeschedule.Service, kinds *engine.Registry, roles registry.RoleRegistry, stakes stake.Ledger,
	rewards RewardAccruer, seq *engine.Sequencer, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("applications")
	}
	if seq == nil {
		seq = engine.NewSequencer()
	}
	return &Service{
		committees: committees,
		apps:       apps,
		proposals:  proposals,
		fees:       fees,
		kinds:      kinds,
		roles:      roles,
		stakes:     stakes,
		rewards:    rewards,
		seq:        seq,
		log:        log,
	}
}

// SubmitParams is the applicant input to Submit.
type SubmitParams struct {
	Kind        string
	CommitteeID string
	Applicant   string
	Payload     json.RawMessage
	PaidETH     uint64
	PaidToken   uint64
}

// Submit validates fee payment and admits a new application in the submitted
// state. The paid fee is split into the protocol share and the participants
// reward pool; both are fixed until a resubmission.
func (s *Service) Submit(ctx context.Context, p SubmitParams) (application.Application, error) {
	if p.Applicant == "" {
		return application.Application{}, fmt.Errorf("applicant is required")
	}

	kind, err := s.kinds.Get(p.Kind)
	if err != nil {
		return application.Application{}, err
	}
	if err := kind.ValidatePayload(p.Payload); err != nil {
		return application.Application{}, fmt.Errorf("invalid payload: %w", err)
	}

	cfg, err := s.committees.GetCommittee(ctx, p.CommitteeID)
	if err != nil {
		return application.Application{}, err
	}

	currency, paid, err := resolvePayment(cfg, p.PaidETH, p.PaidToken)
	if err != nil {
		return application.Application{}, err
	}
	if paid > feeschedule.MaxFee {
		return application.Application{}, fmt.Errorf("paid %d exceeds the maximum fee %d", paid, feeschedule.MaxFee)
	}

	weight := feeschedule.WeightOf(p.Payload)
	minimum, err := feeschedule.MinimumFee(cfg, currency, weight)
	if err != nil {
		return application.Application{}, err
	}
	if paid < minimum {
		return application.Application{}, fmt.Errorf("paid %d, minimum %d: %w", paid, minimum, engine.ErrInsufficientFee)
	}

	protocol, pool := feeschedule.FeeSplit(cfg, paid)

	slots := make(map[committee.Role]application.Slot, len(cfg.Roles))
	for _, role := range cfg.Roles {
		slots[role] = application.Slot{}
	}

	app := application.Application{
		Kind:           kind.Name(),
		Applicant:      p.Applicant,
		CommitteeID:    cfg.ID,
		Status:         application.StatusSubmitted,
		Currency:       currency,
		Fee:            paid,
		ProtocolFee:    protocol,
		RewardPool:     pool,
		Payload:        p.Payload,
		Slots:          slots,
		SlotsThreshold: cfg.Threshold,
		TotalSlots:     cfg.TotalSlots(),
	}

	err = s.seq.Do(func() error {
		app, err = s.apps.CreateApplication(ctx, app)
		return err
	})
	if err != nil {
		return application.Application{}, err
	}

	metrics.RecordSubmission(app.Kind)
	s.log.WithField("application_id", app.ID).
		WithField("kind", app.Kind).
		WithField("committee_id", app.CommitteeID).
		WithField("fee", app.Fee).
		Info("application submitted")
	return app, nil
}

// Lock occupies the role slot for the caller. The caller must hold the role
// in the application's committee, meet the role's minimal stake requirement,
// and the slot must be free. One principal holding several roles may lock
// several distinct slots.
func (s *Service) Lock(ctx context.Context, applicationID, caller string, role committee.Role) (application.Application, error) {
	var app application.Application
	err := s.seq.Do(func() error {
		var err error
		app, err = s.apps.GetApplication(ctx, applicationID)
		if err != nil {
			return err
		}
		if !app.Open() {
			return fmt.Errorf("application %s is %s: %w", app.ID, app.Status, engine.ErrApplicationNotOpen)
		}

		slot, known := app.Slots[role]
		if !known {
			return fmt.Errorf("committee %s has no %s slot: %w", app.CommitteeID, role, engine.ErrUnauthorized)
		}

		holds, err := s.roles.HasRole(ctx, app.CommitteeID, caller, role)
		if err != nil {
			return fmt.Errorf("role lookup: %w", err)
		}
		if !holds {
			return fmt.Errorf("%s does not hold %s: %w", caller, role, engine.ErrUnauthorized)
		}

		required, err := s.roles.MinimalStake(ctx, app.CommitteeID, role)
		if err != nil {
			return fmt.Errorf("stake requirement lookup: %w", err)
		}
		if required > 0 {
			staked, err := s.stakes.StakeOf(ctx, caller, role)
			if err != nil {
				return fmt.Errorf("stake lookup: %w", err)
			}
			if staked < required {
				return fmt.Errorf("%s stakes %d of the %d required for %s: %w",
					caller, staked, required, role, engine.ErrUnauthorized)
			}
		}

		if slot.Occupant != "" {
			return fmt.Errorf("slot %s held by %s: %w", role, slot.Occupant, engine.ErrSlotAlreadyTaken)
		}

		app.Slots[role] = application.Slot{Occupant: caller, LockedAt: time.Now().UTC()}
		app.SlotsTaken++
		app, err = s.apps.UpdateApplication(ctx, app)
		return err
	})
	if err != nil {
		return application.Application{}, err
	}

	s.log.WithField("application_id", app.ID).
		WithField("role", role).
		WithField("principal", caller).
		Info("slot locked")
	return app, nil
}

// Unlock clears an occupied slot. The caller must hold the committee's
// unlocker role; unlocking is only legal before the application reaches a
// terminal state.
func (s *Service) Unlock(ctx context.Context, applicationID, caller string, role committee.Role) (application.Application, error) {
	var app application.Application
	err := s.seq.Do(func() error {
		var err error
		app, err = s.apps.GetApplication(ctx, applicationID)
		if err != nil {
			return err
		}
		if app.Terminal() {
			return fmt.Errorf("application %s is %s: %w", app.ID, app.Status, engine.ErrApplicationNotOpen)
		}

		cfg, err := s.committees.GetCommittee(ctx, app.CommitteeID)
		if err != nil {
			return err
		}
		holds, err := s.roles.HasRole(ctx, app.CommitteeID, caller, cfg.UnlockerRole)
		if err != nil {
			return fmt.Errorf("role lookup: %w", err)
		}
		if !holds {
			return fmt.Errorf("%s does not hold %s: %w", caller, cfg.UnlockerRole, engine.ErrUnauthorized)
		}

		slot, known := app.Slots[role]
		if !known || slot.Occupant == "" {
			return fmt.Errorf("slot %s is not locked: %w", role, engine.ErrNotLocked)
		}

		app.Slots[role] = application.Slot{}
		app.SlotsTaken--
		app, err = s.apps.UpdateApplication(ctx, app)
		return err
	})
	if err != nil {
		return application.Application{}, err
	}

	s.log.WithField("application_id", app.ID).
		WithField("role", role).
		WithField("principal", caller).
		Warn("slot force-unlocked")
	return app, nil
}

// Revert is the unilateral veto: any locked-slot occupant can force an open
// application out of consideration, independent of threshold logic. Slot
// occupancies are preserved for a later resubmission.
func (s *Service) Revert(ctx context.Context, applicationID, caller, reason string) (application.Application, error) {
	var app application.Application
	err := s.seq.Do(func() error {
		var err error
		app, err = s.apps.GetApplication(ctx, applicationID)
		if err != nil {
			return err
		}
		if app.Status == application.StatusReverted {
			return fmt.Errorf("application %s: %w", app.ID, engine.ErrAlreadyReverted)
		}
		if !app.Open() {
			return fmt.Errorf("application %s is %s: %w", app.ID, app.Status, engine.ErrApplicationNotOpen)
		}
		if !app.Occupies(caller) {
			return fmt.Errorf("%s: %w", caller, engine.ErrNotLocked)
		}

		app.Status = application.StatusReverted
		app.RevertReason = reason
		app, err = s.apps.UpdateApplication(ctx, app)
		return err
	})
	if err != nil {
		return application.Application{}, err
	}

	s.log.WithField("application_id", app.ID).
		WithField("principal", caller).
		WithField("reason", reason).
		Warn("application reverted")
	return app, nil
}

// ResubmitParams is the applicant input to Resubmit.
type ResubmitParams struct {
	ApplicationID string
	Applicant     string
	Payload       json.RawMessage
	PaidETH       uint64
	PaidToken     uint64
}

// Resubmit re-opens a reverted application with a replacement payload. The
// already-paid fee is credited: only the delta up to the new minimum is
// required. All proposals and vote records are cleared; slot occupancies are
// preserved, occupants keep the revert veto if they disagree with the new
// payload.
func (s *Service) Resubmit(ctx context.Context, p ResubmitParams) (application.Application, error) {
	var app application.Application
	err := s.seq.Do(func() error {
		var err error
		app, err = s.apps.GetApplication(ctx, p.ApplicationID)
		if err != nil {
			return err
		}
		if app.Applicant != p.Applicant {
			return fmt.Errorf("only the applicant may resubmit: %w", engine.ErrUnauthorized)
		}
		if app.Status != application.StatusReverted {
			return fmt.Errorf("application %s is %s: %w", app.ID, app.Status, engine.ErrApplicationNotOpen)
		}

		kind, err := s.kinds.Get(app.Kind)
		if err != nil {
			return err
		}
		if err := kind.ValidatePayload(p.Payload); err != nil {
			return fmt.Errorf("invalid payload: %w", err)
		}

		additional, err := additionalPayment(app.Currency, p.PaidETH, p.PaidToken)
		if err != nil {
			return err
		}
		if additional > feeschedule.MaxFee-app.Fee {
			return fmt.Errorf("credited %d plus %d exceeds the maximum fee %d", app.Fee, additional, feeschedule.MaxFee)
		}

		cfg, err := s.committees.GetCommittee(ctx, app.CommitteeID)
		if err != nil {
			return err
		}
		minimum, err := feeschedule.MinimumFee(cfg, app.Currency, feeschedule.WeightOf(p.Payload))
		if err != nil {
			return err
		}
		if app.Fee+additional < minimum {
			return fmt.Errorf("credited %d plus %d, minimum %d: %w", app.Fee, additional, minimum, engine.ErrInsufficientFee)
		}

		if err := s.proposals.ClearProposals(ctx, app.ID); err != nil {
			return fmt.Errorf("clear proposals: %w", err)
		}

		app.Fee += additional
		app.ProtocolFee, app.RewardPool = feeschedule.FeeSplit(cfg, app.Fee)
		app.Payload = p.Payload
		app.Status = application.StatusSubmitted
		app.RevertReason = ""
		app, err = s.apps.UpdateApplication(ctx, app)
		return err
	})
	if err != nil {
		return application.Application{}, err
	}

	s.log.WithField("application_id", app.ID).
		WithField("fee", app.Fee).
		Info("application resubmitted")
	return app, nil
}

// Close finalizes bookkeeping on a reverted or rejected application. Only
// the applicant may close. Closing makes reward accounts claimable for the
// occupants the application still holds.
func (s *Service) Close(ctx context.Context, applicationID, caller string) (application.Application, error) {
	var app application.Application
	err := s.seq.Do(func() error {
		var err error
		app, err = s.apps.GetApplication(ctx, applicationID)
		if err != nil {
			return err
		}
		if app.Applicant != caller {
			return fmt.Errorf("only the applicant may close: %w", engine.ErrUnauthorized)
		}
		switch app.Status {
		case application.StatusReverted, application.StatusRejected:
		default:
			return fmt.Errorf("application %s is %s: %w", app.ID, app.Status, engine.ErrApplicationNotOpen)
		}

		app.Status = application.StatusClosed
		if s.rewards != nil && !app.RewardsAccrued {
			if err := s.rewards.Accrue(ctx, &app); err != nil {
				return fmt.Errorf("accrue rewards: %w", err)
			}
		}
		app, err = s.apps.UpdateApplication(ctx, app)
		return err
	})
	if err != nil {
		return application.Application{}, err
	}

	s.log.WithField("application_id", app.ID).Info("application closed")
	return app, nil
}

// Get returns one application.
func (s *Service) Get(ctx context.Context, applicationID string) (application.Application, error) {
	return s.apps.GetApplication(ctx, applicationID)
}

// List returns applications, optionally filtered by committee.
func (s *Service) List(ctx context.Context, committeeID string) ([]application.Application, error) {
	return s.apps.ListApplications(ctx, committeeID)
}

// resolvePayment derives the fee currency from which payment is non-zero and
// enforces the committee payment policy. Paying in both currencies at once
// is rejected outright.
func resolvePayment(cfg committee.Config, paidETH, paidToken uint64) (application.Currency, uint64, error) {
	if paidETH > 0 && paidToken > 0 {
		return "", 0, engine.ErrMixedCurrencyPayment
	}
	switch {
	case paidToken > 0:
		if !cfg.AllowsToken() {
			return "", 0, fmt.Errorf("committee %s does not accept token: %w", cfg.ID, engine.ErrPaymentMethodDisabled)
		}
		return application.CurrencyToken, paidToken, nil
	case paidETH > 0:
		if !cfg.AllowsETH() {
			return "", 0, fmt.Errorf("committee %s does not accept eth: %w", cfg.ID, engine.ErrPaymentMethodDisabled)
		}
		return application.CurrencyETH, paidETH, nil
	default:
		// Nothing paid: report against whichever currency the committee
		// accepts so the minimum-fee check carries a meaningful currency.
		if cfg.AllowsETH() {
			return application.CurrencyETH, 0, nil
		}
		if cfg.AllowsToken() {
			return application.CurrencyToken, 0, nil
		}
		return "", 0, fmt.Errorf("committee %s accepts no payment: %w", cfg.ID, engine.ErrPaymentMethodDisabled)
	}
}

// additionalPayment validates that a resubmission tops up in the
// application's fixed currency.
func additionalPayment(currency application.Currency, paidETH, paidToken uint64) (uint64, error) {
	if paidETH > 0 && paidToken > 0 {
		return 0, engine.ErrMixedCurrencyPayment
	}
	switch currency {
	case application.CurrencyETH:
		if paidToken > 0 {
			return 0, fmt.Errorf("fee currency is eth: %w", engine.ErrMixedCurrencyPayment)
		}
		return paidETH, nil
	case application.CurrencyToken:
		if paidETH > 0 {
			return 0, fmt.Errorf("fee currency is token: %w", engine.ErrMixedCurrencyPayment)
		}
		return paidToken, nil
	default:
		return 0, fmt.Errorf("unknown currency %q", currency)
	}
}
