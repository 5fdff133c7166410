// Package migrations holds the embedded schema migrations for the
// PostgreSQL store and applies them in order at startup.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

// statements run in order; each must be idempotent.
var statements = []string{
	`CREATE TABLE IF NOT EXISTS arb_committees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		roles JSONB NOT NULL,
		threshold INTEGER NOT NULL,
		unlocker_role TEXT NOT NULL,
		payment_method TEXT NOT NULL,
		minimal_fee_eth BIGINT NOT NULL DEFAULT 0,
		minimal_fee_token BIGINT NOT NULL DEFAULT 0,
		protocol_share_bps BIGINT NOT NULL DEFAULT 0,
		role_shares JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS arb_applications (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		applicant TEXT NOT NULL,
		committee_id TEXT NOT NULL REFERENCES arb_committees (id),
		status TEXT NOT NULL,
		currency TEXT NOT NULL,
		fee BIGINT NOT NULL DEFAULT 0,
		protocol_fee BIGINT NOT NULL DEFAULT 0,
		reward_pool BIGINT NOT NULL DEFAULT 0,
		payload JSONB,
		slots JSONB NOT NULL,
		slots_taken INTEGER NOT NULL DEFAULT 0,
		slots_threshold INTEGER NOT NULL,
		total_slots INTEGER NOT NULL,
		revert_reason TEXT NOT NULL DEFAULT '',
		winning_proposal_id TEXT NOT NULL DEFAULT '',
		resolved_at TIMESTAMPTZ,
		slash_failures JSONB NOT NULL DEFAULT '[]',
		rewards_accrued BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS arb_proposals (
		id TEXT NOT NULL,
		application_id TEXT NOT NULL REFERENCES arb_applications (id),
		proposer TEXT NOT NULL,
		action TEXT NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		payload JSONB,
		slashes JSONB NOT NULL DEFAULT '[]',
		created_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (application_id, id)
	)`,

	`CREATE TABLE IF NOT EXISTS arb_votes (
		application_id TEXT NOT NULL,
		principal TEXT NOT NULL,
		proposal_id TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (application_id, principal),
		FOREIGN KEY (application_id, proposal_id) REFERENCES arb_proposals (application_id, id)
	)`,

	`CREATE TABLE IF NOT EXISTS arb_reward_accounts (
		application_id TEXT NOT NULL REFERENCES arb_applications (id),
		principal TEXT NOT NULL,
		role TEXT NOT NULL,
		currency TEXT NOT NULL,
		owed BIGINT NOT NULL DEFAULT 0,
		paid_out BOOLEAN NOT NULL DEFAULT FALSE,
		paid_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (application_id, principal)
	)`,

	`CREATE TABLE IF NOT EXISTS arb_protocol_balances (
		currency TEXT PRIMARY KEY,
		accrued BIGINT NOT NULL DEFAULT 0,
		withdrawn BIGINT NOT NULL DEFAULT 0
	)`,
}

// Apply runs every migration statement against the database.
func Apply(ctx context.Context, db *sql.DB) error {
	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}
