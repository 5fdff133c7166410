package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/deedchain/arbitration_layer/internal/app/domain/application"
	"github.com/deedchain/arbitration_layer/internal/app/domain/committee"
	"github.com/deedchain/arbitration_layer/internal/app/domain/proposal"
	"github.com/deedchain/arbitration_layer/internal/app/domain/reward"
	"github.com/deedchain/arbitration_layer/internal/app/storage"
	"github.com/google/uuid"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.CommitteeStore = (*Store)(nil)
var _ storage.ApplicationStore = (*Store)(nil)
var _ storage.ProposalStore = (*Store)(nil)
var _ storage.RewardStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// --- CommitteeStore ---------------------------------------------------------

func (s *Store) CreateCommittee(ctx context.Context, cfg committee.Config) (committee.Config, error) {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	cfg.CreatedAt = now
	cfg.UpdatedAt = now

	rolesJSON, err := json.Marshal(cfg.Roles)
	if err != nil {
		return committee.Config{}, err
	}
	sharesJSON, err := json.Marshal(cfg.RoleShares)
	if err != nil {
		return committee.Config{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO arb_committees (id, name, description, roles, threshold, unlocker_role, payment_method,
			minimal_fee_eth, minimal_fee_token, protocol_share_bps, role_shares, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, cfg.ID, cfg.Name, cfg.Description, rolesJSON, cfg.Threshold, string(cfg.UnlockerRole), string(cfg.PaymentMethod),
		int64(cfg.MinimalFeeETH), int64(cfg.MinimalFeeToken), int64(cfg.ProtocolShareBps), sharesJSON, cfg.CreatedAt, cfg.UpdatedAt)
	if err != nil {
		return committee.Config{}, err
	}
	return cfg, nil
}

func (s *Store) UpdateCommittee(ctx context.Context, cfg committee.Config) (committee.Config, error) {
	existing, err := s.GetCommittee(ctx, cfg.ID)
	if err != nil {
		return committee.Config{}, err
	}
	cfg.CreatedAt = existing.CreatedAt
	cfg.UpdatedAt = time.Now().UTC()

	rolesJSON, err := json.Marshal(cfg.Roles)
	if err != nil {
		return committee.Config{}, err
	}
	sharesJSON, err := json.Marshal(cfg.RoleShares)
	if err != nil {
		return committee.Config{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE arb_committees
		SET name = $2, description = $3, roles = $4, threshold = $5, unlocker_role = $6, payment_method = $7,
			minimal_fee_eth = $8, minimal_fee_token = $9, protocol_share_bps = $10, role_shares = $11, updated_at = $12
		WHERE id = $1
	`, cfg.ID, cfg.Name, cfg.Description, rolesJSON, cfg.Threshold, string(cfg.UnlockerRole), string(cfg.PaymentMethod),
		int64(cfg.MinimalFeeETH), int64(cfg.MinimalFeeToken), int64(cfg.ProtocolShareBps), sharesJSON, cfg.UpdatedAt)
	if err != nil {
		return committee.Config{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return committee.Config{}, fmt.Errorf("committee %s: %w", cfg.ID, storage.ErrNotFound)
	}
	return cfg, nil
}

func (s *Store) GetCommittee(ctx context.Context, id string) (committee.Config, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, roles, threshold, unlocker_role, payment_method,
			minimal_fee_eth, minimal_fee_token, protocol_share_bps, role_shares, created_at, updated_at
		FROM arb_committees WHERE id = $1
	`, id)
	cfg, err := scanCommittee(row)
	if errors.Is(err, sql.ErrNoRows) {
		return committee.Config{}, fmt.Errorf("committee %s: %w", id, storage.ErrNotFound)
	}
	return cfg, err
}

func (s *Store) ListCommittees(ctx context.Context) ([]committee.Config, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, roles, threshold, unlocker_role, payment_method,
			minimal_fee_eth, minimal_fee_token, protocol_share_bps, role_shares, created_at, updated_at
		FROM arb_committees ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []committee.Config
	for rows.Next() {
		cfg, err := scanCommittee(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCommittee(row rowScanner) (committee.Config, error) {
	var cfg committee.Config
	var rolesJSON, sharesJSON []byte
	var unlocker, method string
	var feeETH, feeToken, shareBps int64

	err := row.Scan(&cfg.ID, &cfg.Name, &cfg.Description, &rolesJSON, &cfg.Threshold, &unlocker, &method,
		&feeETH, &feeToken, &shareBps, &sharesJSON, &cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		return committee.Config{}, err
	}
	cfg.UnlockerRole = committee.Role(unlocker)
	cfg.PaymentMethod = committee.PaymentMethod(method)
	cfg.MinimalFeeETH = uint64(feeETH)
	cfg.MinimalFeeToken = uint64(feeToken)
	cfg.ProtocolShareBps = uint32(shareBps)
	if err := json.Unmarshal(rolesJSON, &cfg.Roles); err != nil {
		return committee.Config{}, err
	}
	if err := json.Unmarshal(sharesJSON, &cfg.RoleShares); err != nil {
		return committee.Config{}, err
	}
	return cfg, nil
}

// --- ApplicationStore -------------------------------------------------------

func (s *Store) CreateApplication(ctx context.Context, app application.Application) (application.Application, error) {
	if app.ID == "" {
		app.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	app.CreatedAt = now
	app.UpdatedAt = now

	slotsJSON, failuresJSON, err := marshalApplicationJSON(app)
	if err != nil {
		return application.Application{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO arb_applications (id, kind, applicant, committee_id, status, currency, fee, protocol_fee,
			reward_pool, payload, slots, slots_taken, slots_threshold, total_slots, revert_reason,
			winning_proposal_id, resolved_at, slash_failures, rewards_accrued, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`, app.ID, app.Kind, app.Applicant, app.CommitteeID, string(app.Status), string(app.Currency),
		int64(app.Fee), int64(app.ProtocolFee), int64(app.RewardPool), []byte(app.Payload), slotsJSON,
		app.SlotsTaken, app.SlotsThreshold, app.TotalSlots, app.RevertReason,
		app.WinningProposalID, app.ResolvedAt, failuresJSON, app.RewardsAccrued, app.CreatedAt, app.UpdatedAt)
	if err != nil {
		return application.Application{}, err
	}
	return app, nil
}

func (s *Store) UpdateApplication(ctx context.Context, app application.Application) (application.Application, error) {
	app.UpdatedAt = time.Now().UTC()

	slotsJSON, failuresJSON, err := marshalApplicationJSON(app)
	if err != nil {
		return application.Application{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE arb_applications
		SET status = $2, currency = $3, fee = $4, protocol_fee = $5, reward_pool = $6, payload = $7,
			slots = $8, slots_taken = $9, revert_reason = $10, winning_proposal_id = $11, resolved_at = $12,
			slash_failures = $13, rewards_accrued = $14, updated_at = $15
		WHERE id = $1
	`, app.ID, string(app.Status), string(app.Currency), int64(app.Fee), int64(app.ProtocolFee),
		int64(app.RewardPool), []byte(app.Payload), slotsJSON, app.SlotsTaken, app.RevertReason,
		app.WinningProposalID, app.ResolvedAt, failuresJSON, app.RewardsAccrued, app.UpdatedAt)
	if err != nil {
		return application.Application{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return application.Application{}, fmt.Errorf("application %s: %w", app.ID, storage.ErrNotFound)
	}
	return app, nil
}

func (s *Store) GetApplication(ctx context.Context, id string) (application.Application, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, applicant, committee_id, status, currency, fee, protocol_fee, reward_pool, payload,
			slots, slots_taken, slots_threshold, total_slots, revert_reason, winning_proposal_id, resolved_at,
			slash_failures, rewards_accrued, created_at, updated_at
		FROM arb_applications WHERE id = $1
	`, id)
	app, err := scanApplication(row)
	if errors.Is(err, sql.ErrNoRows) {
		return application.Application{}, fmt.Errorf("application %s: %w", id, storage.ErrNotFound)
	}
	return app, err
}

func (s *Store) ListApplications(ctx context.Context, committeeID string) ([]application.Application, error) {
	query := `
		SELECT id, kind, applicant, committee_id, status, currency, fee, protocol_fee, reward_pool, payload,
			slots, slots_taken, slots_threshold, total_slots, revert_reason, winning_proposal_id, resolved_at,
			slash_failures, rewards_accrued, created_at, updated_at
		FROM arb_applications`
	args := []any{}
	if committeeID != "" {
		query += ` WHERE committee_id = $1`
		args = append(args, committeeID)
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []application.Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, app)
	}
	return out, rows.Err()
}

func marshalApplicationJSON(app application.Application) (slotsJSON, failuresJSON []byte, err error) {
	slotsJSON, err = json.Marshal(app.Slots)
	if err != nil {
		return nil, nil, err
	}
	failures := app.SlashFailures
	if failures == nil {
		failures = []application.SlashFailure{}
	}
	failuresJSON, err = json.Marshal(failures)
	if err != nil {
		return nil, nil, err
	}
	return slotsJSON, failuresJSON, nil
}

func scanApplication(row rowScanner) (application.Application, error) {
	var app application.Application
	var status, currency string
	var fee, protocolFee, rewardPool int64
	var payload, slotsJSON, failuresJSON []byte
	var resolvedAt sql.NullTime

	err := row.Scan(&app.ID, &app.Kind, &app.Applicant, &app.CommitteeID, &status, &currency,
		&fee, &protocolFee, &rewardPool, &payload, &slotsJSON, &app.SlotsTaken, &app.SlotsThreshold,
		&app.TotalSlots, &app.RevertReason, &app.WinningProposalID, &resolvedAt, &failuresJSON,
		&app.RewardsAccrued, &app.CreatedAt, &app.UpdatedAt)
	if err != nil {
		return application.Application{}, err
	}
	app.Status = application.Status(status)
	app.Currency = application.Currency(currency)
	app.Fee = uint64(fee)
	app.ProtocolFee = uint64(protocolFee)
	app.RewardPool = uint64(rewardPool)
	app.Payload = payload
	if resolvedAt.Valid {
		t := resolvedAt.Time
		app.ResolvedAt = &t
	}
	if err := json.Unmarshal(slotsJSON, &app.Slots); err != nil {
		return application.Application{}, err
	}
	if err := json.Unmarshal(failuresJSON, &app.SlashFailures); err != nil {
		return application.Application{}, err
	}
	return app, nil
}

// --- ProposalStore ----------------------------------------------------------

func (s *Store) CreateProposal(ctx context.Context, prop proposal.Proposal) (proposal.Proposal, error) {
	if prop.ID == "" {
		prop.ID = uuid.NewString()
	}
	prop.CreatedAt = time.Now().UTC()

	slashesJSON, err := json.Marshal(prop.Slashes)
	if err != nil {
		return proposal.Proposal{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO arb_proposals (id, application_id, proposer, action, message, payload, slashes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, prop.ID, prop.ApplicationID, prop.Proposer, string(prop.Action), prop.Message,
		[]byte(prop.Payload), slashesJSON, prop.CreatedAt)
	if err != nil {
		return proposal.Proposal{}, err
	}
	prop.VotesFor = nil
	return prop, nil
}

func (s *Store) GetProposal(ctx context.Context, applicationID, proposalID string) (proposal.Proposal, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, application_id, proposer, action, message, payload, slashes, created_at
		FROM arb_proposals WHERE application_id = $1 AND id = $2
	`, applicationID, proposalID)
	prop, err := scanProposal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return proposal.Proposal{}, fmt.Errorf("proposal %s: %w", proposalID, storage.ErrNotFound)
	}
	if err != nil {
		return proposal.Proposal{}, err
	}

	prop.VotesFor, err = s.votesFor(ctx, applicationID, proposalID)
	return prop, err
}

func (s *Store) ListProposals(ctx context.Context, applicationID string) ([]proposal.Proposal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, application_id, proposer, action, message, payload, slashes, created_at
		FROM arb_proposals WHERE application_id = $1 ORDER BY created_at
	`, applicationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []proposal.Proposal
	for rows.Next() {
		prop, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, prop)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		out[i].VotesFor, err = s.votesFor(ctx, applicationID, out[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func scanProposal(row rowScanner) (proposal.Proposal, error) {
	var prop proposal.Proposal
	var action string
	var payload, slashesJSON []byte

	err := row.Scan(&prop.ID, &prop.ApplicationID, &prop.Proposer, &action, &prop.Message,
		&payload, &slashesJSON, &prop.CreatedAt)
	if err != nil {
		return proposal.Proposal{}, err
	}
	prop.Action = proposal.Action(action)
	prop.Payload = payload
	if err := json.Unmarshal(slashesJSON, &prop.Slashes); err != nil {
		return proposal.Proposal{}, err
	}
	return prop, nil
}

func (s *Store) SetVote(ctx context.Context, applicationID, principal, proposalID string) error {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM arb_proposals WHERE application_id = $1 AND id = $2)
	`, applicationID, proposalID).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("proposal %s: %w", proposalID, storage.ErrNotFound)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO arb_votes (application_id, principal, proposal_id, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (application_id, principal)
		DO UPDATE SET proposal_id = EXCLUDED.proposal_id, updated_at = EXCLUDED.updated_at
	`, applicationID, principal, proposalID, time.Now().UTC())
	return err
}

func (s *Store) GetVote(ctx context.Context, applicationID, principal string) (string, error) {
	var proposalID string
	err := s.db.QueryRowContext(ctx, `
		SELECT proposal_id FROM arb_votes WHERE application_id = $1 AND principal = $2
	`, applicationID, principal).Scan(&proposalID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return proposalID, err
}

func (s *Store) ListVotes(ctx context.Context, applicationID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT principal, proposal_id FROM arb_votes WHERE application_id = $1
	`, applicationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var principal, proposalID string
		if err := rows.Scan(&principal, &proposalID); err != nil {
			return nil, err
		}
		out[principal] = proposalID
	}
	return out, rows.Err()
}

func (s *Store) CountVotes(ctx context.Context, applicationID, proposalID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM arb_votes WHERE application_id = $1 AND proposal_id = $2
	`, applicationID, proposalID).Scan(&count)
	return count, err
}

func (s *Store) ClearProposals(ctx context.Context, applicationID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM arb_votes WHERE application_id = $1`, applicationID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM arb_proposals WHERE application_id = $1`, applicationID)
	return err
}

func (s *Store) votesFor(ctx context.Context, applicationID, proposalID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT principal FROM arb_votes WHERE application_id = $1 AND proposal_id = $2 ORDER BY updated_at
	`, applicationID, proposalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var voters []string
	for rows.Next() {
		var principal string
		if err := rows.Scan(&principal); err != nil {
			return nil, err
		}
		voters = append(voters, principal)
	}
	return voters, rows.Err()
}

// --- RewardStore ------------------------------------------------------------

func (s *Store) CreateRewardAccount(ctx context.Context, acct reward.Account) (reward.Account, error) {
	acct.CreatedAt = time.Now().UTC()

	// Accruals to an existing (application, principal) account merge.
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO arb_reward_accounts (application_id, principal, role, currency, owed, paid_out, paid_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (application_id, principal)
		DO UPDATE SET owed = arb_reward_accounts.owed + EXCLUDED.owed
		RETURNING owed
	`, acct.ApplicationID, acct.Principal, string(acct.Role), string(acct.Currency),
		int64(acct.Owed), acct.PaidOut, acct.PaidAt, acct.CreatedAt)

	var owed int64
	if err := row.Scan(&owed); err != nil {
		return reward.Account{}, err
	}
	acct.Owed = uint64(owed)
	return acct, nil
}

func (s *Store) UpdateRewardAccount(ctx context.Context, acct reward.Account) (reward.Account, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE arb_reward_accounts
		SET owed = $3, paid_out = $4, paid_at = $5
		WHERE application_id = $1 AND principal = $2
	`, acct.ApplicationID, acct.Principal, int64(acct.Owed), acct.PaidOut, acct.PaidAt)
	if err != nil {
		return reward.Account{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return reward.Account{}, fmt.Errorf("reward account %s/%s: %w", acct.ApplicationID, acct.Principal, storage.ErrNotFound)
	}
	return acct, nil
}

func (s *Store) GetRewardAccount(ctx context.Context, applicationID, principal string) (reward.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT application_id, principal, role, currency, owed, paid_out, paid_at, created_at
		FROM arb_reward_accounts WHERE application_id = $1 AND principal = $2
	`, applicationID, principal)
	acct, err := scanRewardAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return reward.Account{}, fmt.Errorf("reward account %s/%s: %w", applicationID, principal, storage.ErrNotFound)
	}
	return acct, err
}

func (s *Store) ListRewardAccounts(ctx context.Context, applicationID string) ([]reward.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT application_id, principal, role, currency, owed, paid_out, paid_at, created_at
		FROM arb_reward_accounts WHERE application_id = $1 ORDER BY created_at
	`, applicationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []reward.Account
	for rows.Next() {
		acct, err := scanRewardAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, acct)
	}
	return out, rows.Err()
}

func scanRewardAccount(row rowScanner) (reward.Account, error) {
	var acct reward.Account
	var role, currency string
	var owed int64
	var paidAt sql.NullTime

	err := row.Scan(&acct.ApplicationID, &acct.Principal, &role, &currency, &owed, &acct.PaidOut, &paidAt, &acct.CreatedAt)
	if err != nil {
		return reward.Account{}, err
	}
	acct.Role = committee.Role(role)
	acct.Currency = application.Currency(currency)
	acct.Owed = uint64(owed)
	if paidAt.Valid {
		t := paidAt.Time
		acct.PaidAt = &t
	}
	return acct, nil
}

func (s *Store) AddProtocolFee(ctx context.Context, currency application.Currency, amount uint64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO arb_protocol_balances (currency, accrued, withdrawn)
		VALUES ($1, $2, 0)
		ON CONFLICT (currency)
		DO UPDATE SET accrued = arb_protocol_balances.accrued + EXCLUDED.accrued
	`, string(currency), int64(amount))
	return err
}

func (s *Store) ProtocolBalance(ctx context.Context, currency application.Currency) (reward.ProtocolBalance, error) {
	var accrued, withdrawn int64
	err := s.db.QueryRowContext(ctx, `
		SELECT accrued, withdrawn FROM arb_protocol_balances WHERE currency = $1
	`, string(currency)).Scan(&accrued, &withdrawn)
	if errors.Is(err, sql.ErrNoRows) {
		return reward.ProtocolBalance{Currency: currency}, nil
	}
	if err != nil {
		return reward.ProtocolBalance{}, err
	}
	return reward.ProtocolBalance{
		Currency:  currency,
		Accrued:   uint64(accrued),
		Withdrawn: uint64(withdrawn),
	}, nil
}

func (s *Store) SweepProtocolFee(ctx context.Context, currency application.Currency) (uint64, error) {
	row := s.db.QueryRowContext(ctx, `
		WITH prev AS (
			SELECT currency, accrued - withdrawn AS outstanding
			FROM arb_protocol_balances WHERE currency = $1
		)
		UPDATE arb_protocol_balances b
		SET withdrawn = b.accrued
		FROM prev
		WHERE b.currency = prev.currency AND prev.outstanding > 0
		RETURNING prev.outstanding
	`, string(currency))

	var swept int64
	err := row.Scan(&swept)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return uint64(swept), nil
}
