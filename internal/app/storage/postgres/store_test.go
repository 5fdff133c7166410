package postgres

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	_ "github.com/lib/pq"

	"github.com/deedchain/arbitration_layer/internal/app/domain/application"
	"github.com/deedchain/arbitration_layer/internal/app/domain/committee"
	"github.com/deedchain/arbitration_layer/internal/app/domain/proposal"
	"github.com/deedchain/arbitration_layer/internal/app/domain/reward"
	"github.com/deedchain/arbitration_layer/internal/app/storage"
	"github.com/deedchain/arbitration_layer/internal/platform/migrations"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	})
	return New(db), mock
}

func TestGetApplicationNotFound(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectQuery("SELECT (.+) FROM arb_applications WHERE id").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.GetApplication(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestGetApplicationScansJSONColumns(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now().UTC()

	columns := []string{
		"id", "kind", "applicant", "committee_id", "status", "currency", "fee", "protocol_fee",
		"reward_pool", "payload", "slots", "slots_taken", "slots_threshold", "total_slots",
		"revert_reason", "winning_proposal_id", "resolved_at", "slash_failures", "rewards_accrued",
		"created_at", "updated_at",
	}
	mock.ExpectQuery("SELECT (.+) FROM arb_applications WHERE id").
		WithArgs("app-1").
		WillReturnRows(sqlmock.NewRows(columns).AddRow(
			"app-1", "claim", "alice", "c1", "approved", "eth", int64(1000), int64(100),
			int64(900), []byte(`{"area":10}`), []byte(`{"judge":{"occupant":"judy","locked_at":"2026-01-01T00:00:00Z"}}`),
			1, 1, 1, "", "prop-1", now, []byte(`[]`), true, now, now,
		))

	app, err := store.GetApplication(context.Background(), "app-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if app.Status != application.StatusApproved || app.Fee != 1000 {
		t.Fatalf("app = %+v", app)
	}
	if app.Slots["judge"].Occupant != "judy" {
		t.Fatalf("slots = %+v", app.Slots)
	}
	if app.ResolvedAt == nil || !app.RewardsAccrued {
		t.Fatal("resolution columns not mapped")
	}
}

func TestSetVoteUpserts(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("app-1", "prop-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec("INSERT INTO arb_votes").
		WithArgs("app-1", "judy", "prop-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.SetVote(context.Background(), "app-1", "judy", "prop-1"); err != nil {
		t.Fatalf("set vote: %v", err)
	}
}

func TestSetVoteRejectsUnknownProposal(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("app-1", "ghost").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	err := store.SetVote(context.Background(), "app-1", "judy", "ghost")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestGetVoteEmptyWhenAbsent(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectQuery("SELECT proposal_id FROM arb_votes").
		WithArgs("app-1", "judy").
		WillReturnRows(sqlmock.NewRows([]string{"proposal_id"}))

	voted, err := store.GetVote(context.Background(), "app-1", "judy")
	if err != nil || voted != "" {
		t.Fatalf("vote = (%q, %v), want empty", voted, err)
	}
}

func TestCreateRewardAccountMerges(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectQuery("INSERT INTO arb_reward_accounts").
		WithArgs("app-1", "judy", "judge", "eth", int64(100), false, nil, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"owed"}).AddRow(int64(250)))

	acct, err := store.CreateRewardAccount(context.Background(), reward.Account{
		ApplicationID: "app-1",
		Principal:     "judy",
		Role:          "judge",
		Currency:      application.CurrencyETH,
		Owed:          100,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if acct.Owed != 250 {
		t.Fatalf("owed = %d, want merged 250", acct.Owed)
	}
}

func TestClearProposalsDeletesVotesFirst(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectExec("DELETE FROM arb_votes").
		WithArgs("app-1").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("DELETE FROM arb_proposals").
		WithArgs("app-1").
		WillReturnResult(sqlmock.NewResult(0, 2))

	if err := store.ClearProposals(context.Background(), "app-1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
}

func TestSweepProtocolFee(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectQuery("UPDATE arb_protocol_balances").
		WithArgs("eth").
		WillReturnRows(sqlmock.NewRows([]string{"outstanding"}).AddRow(int64(434)))

	swept, err := store.SweepProtocolFee(context.Background(), application.CurrencyETH)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept != 434 {
		t.Fatalf("swept = %d, want 434", swept)
	}

	// Nothing outstanding: the guarded update touches no row and sweeps zero.
	mock.ExpectQuery("UPDATE arb_protocol_balances").
		WithArgs("eth").
		WillReturnRows(sqlmock.NewRows([]string{"outstanding"}))

	swept, err = store.SweepProtocolFee(context.Background(), application.CurrencyETH)
	if err != nil || swept != 0 {
		t.Fatalf("second sweep = (%d, %v), want 0", swept, err)
	}
}

func TestProtocolBalanceDefaultsToZero(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectQuery("SELECT accrued, withdrawn FROM arb_protocol_balances").
		WithArgs("token").
		WillReturnRows(sqlmock.NewRows([]string{"accrued", "withdrawn"}))

	bal, err := store.ProtocolBalance(context.Background(), application.CurrencyToken)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal.Currency != application.CurrencyToken || bal.Outstanding() != 0 {
		t.Fatalf("balance = %+v", bal)
	}
}

func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := migrations.Apply(ctx, db); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	store := New(db)

	cfg, err := store.CreateCommittee(ctx, committee.Config{
		Name:          "integration",
		Roles:         []committee.Role{"judge"},
		Threshold:     1,
		PaymentMethod: committee.PaymentMethodETHOnly,
		MinimalFeeETH: 1,
		RoleShares:    map[committee.Role]uint32{"judge": 1},
	})
	if err != nil {
		t.Fatalf("create committee: %v", err)
	}

	app, err := store.CreateApplication(ctx, application.Application{
		Kind:           "claim",
		Applicant:      "alice",
		CommitteeID:    cfg.ID,
		Status:         application.StatusSubmitted,
		Currency:       application.CurrencyETH,
		Fee:            10,
		RewardPool:     10,
		Payload:        []byte(`{"narrative":"x","area":1}`),
		Slots:          map[committee.Role]application.Slot{"judge": {}},
		SlotsThreshold: 1,
		TotalSlots:     1,
	})
	if err != nil {
		t.Fatalf("create application: %v", err)
	}

	prop, err := store.CreateProposal(ctx, proposal.Proposal{
		ApplicationID: app.ID,
		Proposer:      "judy",
		Action:        proposal.ActionApprove,
	})
	if err != nil {
		t.Fatalf("create proposal: %v", err)
	}
	if err := store.SetVote(ctx, app.ID, "judy", prop.ID); err != nil {
		t.Fatalf("set vote: %v", err)
	}
	if n, err := store.CountVotes(ctx, app.ID, prop.ID); err != nil || n != 1 {
		t.Fatalf("count votes = (%d, %v), want 1", n, err)
	}
}
