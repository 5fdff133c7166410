package rewards

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/deedchain/arbitration_layer/internal/app/domain/application"
	"github.com/deedchain/arbitration_layer/internal/app/domain/committee"
	"github.com/deedchain/arbitration_layer/internal/app/engine"
	"github.com/deedchain/arbitration_layer/internal/app/kinds"
	"github.com/deedchain/arbitration_layer/internal/app/storage/memory"
	"github.com/deedchain/arbitration_layer/internal/app/vault"
)

const feeCollector = "collector"

type fixture struct {
	svc   *Service
	store *memory.Store
	vault *vault.Memory
	cfg   committee.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memory.New()
	v := vault.NewMemory()

	reg := engine.NewRegistry()
	for _, k := range []engine.Kind{kinds.Claim{}, kinds.CustodianChange{}} {
		if err := reg.Register(k); err != nil {
			t.Fatalf("register kind: %v", err)
		}
	}

	cfg, err := store.CreateCommittee(context.Background(), committee.Config{
		ID:               "claims-court",
		Roles:            []committee.Role{"judge", "clerk", "witness"},
		Threshold:        2,
		PaymentMethod:    committee.PaymentMethodETHOnly,
		MinimalFeeETH:    1,
		ProtocolShareBps: 1000,
		RoleShares: map[committee.Role]uint32{
			"judge": 2,
			"clerk": 1,
			// The witness role earns nothing.
		},
	})
	if err != nil {
		t.Fatalf("create committee: %v", err)
	}

	svc := New(store, store, store, reg, v, feeCollector, engine.NewSequencer(), nil)
	return &fixture{svc: svc, store: store, vault: v, cfg: cfg}
}

// seedResolved stores an approved claim application with the given occupants.
func (f *fixture) seedResolved(t *testing.T, pool, protocolFee uint64, occupants map[committee.Role]string) application.Application {
	t.Helper()

	now := time.Now().UTC()
	slots := make(map[committee.Role]application.Slot, len(f.cfg.Roles))
	taken := 0
	for _, role := range f.cfg.Roles {
		slot := application.Slot{}
		if principal, ok := occupants[role]; ok {
			slot = application.Slot{Occupant: principal, LockedAt: now}
			taken++
		}
		slots[role] = slot
	}

	app, err := f.store.CreateApplication(context.Background(), application.Application{
		Kind:           "claim",
		Applicant:      "alice",
		CommitteeID:    f.cfg.ID,
		Status:         application.StatusApproved,
		Currency:       application.CurrencyETH,
		Fee:            pool + protocolFee,
		ProtocolFee:    protocolFee,
		RewardPool:     pool,
		Slots:          slots,
		SlotsTaken:     taken,
		SlotsThreshold: f.cfg.Threshold,
		TotalSlots:     len(f.cfg.Roles),
		ResolvedAt:     &now,
	})
	if err != nil {
		t.Fatalf("create application: %v", err)
	}
	return app
}

func (f *fixture) accrue(t *testing.T, app application.Application) application.Application {
	t.Helper()
	ctx := context.Background()
	if err := f.svc.Accrue(ctx, &app); err != nil {
		t.Fatalf("accrue: %v", err)
	}
	app, err := f.store.UpdateApplication(ctx, app)
	if err != nil {
		t.Fatalf("update application: %v", err)
	}
	return app
}

func TestAccrueProportionalSplit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Pool 1000, shares judge 2 / clerk 1 over 3 units: 666 and 333, with a
	// remainder of 1 going to the protocol alongside the 100 fee share.
	app := f.seedResolved(t, 1000, 100, map[committee.Role]string{
		"judge":   "judy",
		"clerk":   "carl",
		"witness": "wes",
	})
	app = f.accrue(t, app)
	if !app.RewardsAccrued {
		t.Fatal("accrued flag not set")
	}

	judge, err := f.store.GetRewardAccount(ctx, app.ID, "judy")
	if err != nil {
		t.Fatalf("judge account: %v", err)
	}
	if judge.Owed != 666 {
		t.Fatalf("judge owed = %d, want 666", judge.Owed)
	}
	clerk, err := f.store.GetRewardAccount(ctx, app.ID, "carl")
	if err != nil {
		t.Fatalf("clerk account: %v", err)
	}
	if clerk.Owed != 333 {
		t.Fatalf("clerk owed = %d, want 333", clerk.Owed)
	}
	// A role with no share still gets an account, owed zero.
	witness, err := f.store.GetRewardAccount(ctx, app.ID, "wes")
	if err != nil {
		t.Fatalf("witness account: %v", err)
	}
	if witness.Owed != 0 {
		t.Fatalf("witness owed = %d, want 0", witness.Owed)
	}

	bal, err := f.svc.ProtocolBalance(ctx, application.CurrencyETH)
	if err != nil {
		t.Fatalf("protocol balance: %v", err)
	}
	if bal.Accrued != 101 {
		t.Fatalf("protocol accrued = %d, want 101", bal.Accrued)
	}

	// Idempotent: a second accrual changes nothing.
	app = f.accrue(t, app)
	bal, _ = f.svc.ProtocolBalance(ctx, application.CurrencyETH)
	if bal.Accrued != 101 {
		t.Fatalf("protocol accrued after re-accrue = %d, want 101", bal.Accrued)
	}
}

func TestClaimRewardPaysOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	app := f.seedResolved(t, 1000, 100, map[committee.Role]string{"judge": "judy"})
	f.accrue(t, app)

	acct, err := f.svc.ClaimReward(ctx, app.ID, "judy")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !acct.PaidOut || acct.PaidAt == nil {
		t.Fatal("account not marked paid")
	}
	if got := f.vault.TotalTo("judy", application.CurrencyETH); got != acct.Owed {
		t.Fatalf("transferred %d, want %d", got, acct.Owed)
	}

	if _, err := f.svc.ClaimReward(ctx, app.ID, "judy"); !errors.Is(err, engine.ErrAlreadyPaid) {
		t.Fatalf("err = %v, want ErrAlreadyPaid", err)
	}
	if _, err := f.svc.ClaimReward(ctx, app.ID, "stranger"); !errors.Is(err, engine.ErrNotEligible) {
		t.Fatalf("err = %v, want ErrNotEligible", err)
	}
}

func TestClaimRewardRequiresResolution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	app := f.seedResolved(t, 1000, 100, map[committee.Role]string{"judge": "judy"})
	app.Status = application.StatusSubmitted
	app.ResolvedAt = nil
	if _, err := f.store.UpdateApplication(ctx, app); err != nil {
		t.Fatalf("update: %v", err)
	}

	if _, err := f.svc.ClaimReward(ctx, app.ID, "judy"); !errors.Is(err, engine.ErrNotResolved) {
		t.Fatalf("err = %v, want ErrNotResolved", err)
	}
}

func TestClaimRewardTransferFailureIsRetryable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	app := f.seedResolved(t, 1000, 100, map[committee.Role]string{"judge": "judy"})
	f.accrue(t, app)

	f.vault.FailFor("judy", fmt.Errorf("vault unreachable"))
	if _, err := f.svc.ClaimReward(ctx, app.ID, "judy"); err == nil {
		t.Fatal("expected transfer failure")
	}

	// The account stays unpaid; a retry succeeds.
	acct, err := f.store.GetRewardAccount(ctx, app.ID, "judy")
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	if acct.PaidOut {
		t.Fatal("failed transfer must not mark the account paid")
	}

	f.vault.FailFor("judy", nil)
	if _, err := f.svc.ClaimReward(ctx, app.ID, "judy"); err != nil {
		t.Fatalf("retry: %v", err)
	}
}

// gateVault parks each transfer until released so tests can observe the
// engine while a payout is in flight.
type gateVault struct {
	*vault.Memory
	entered chan struct{}
	release chan struct{}
}

func (g *gateVault) Transfer(ctx context.Context, to string, currency application.Currency, amount uint64) error {
	g.entered <- struct{}{}
	<-g.release
	return g.Memory.Transfer(ctx, to, currency, amount)
}

func TestClaimRewardTransferDoesNotHoldSequencer(t *testing.T) {
	f := newFixture(t)
	gate := &gateVault{Memory: f.vault, entered: make(chan struct{}), release: make(chan struct{})}
	seq := engine.NewSequencer()
	svc := New(f.store, f.store, f.store, nil, gate, feeCollector, seq, nil)
	ctx := context.Background()

	app := f.seedResolved(t, 900, 100, map[committee.Role]string{"judge": "judy"})
	if err := svc.Accrue(ctx, &app); err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if _, err := f.store.UpdateApplication(ctx, app); err != nil {
		t.Fatalf("update application: %v", err)
	}

	claimErr := make(chan error, 1)
	go func() {
		_, err := svc.ClaimReward(ctx, app.ID, "judy")
		claimErr <- err
	}()
	<-gate.entered

	// A duplicate claim fails fast instead of queueing behind the vault.
	if _, err := svc.ClaimReward(ctx, app.ID, "judy"); err == nil {
		t.Fatal("expected the in-flight claim to reject a duplicate")
	}

	// Engine mutations keep flowing while the transfer hangs.
	done := make(chan struct{})
	go func() {
		_ = seq.Do(func() error { return nil })
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sequencer held during the vault transfer")
	}

	close(gate.release)
	if err := <-claimErr; err != nil {
		t.Fatalf("claim: %v", err)
	}

	acct, err := f.store.GetRewardAccount(ctx, app.ID, "judy")
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if !acct.PaidOut {
		t.Fatal("account not marked paid")
	}
	if got := f.vault.TotalTo("judy", application.CurrencyETH); got != 600 {
		t.Fatalf("paid %d, want 600", got)
	}
}

func TestClaimProtocolFee(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	app := f.seedResolved(t, 1000, 100, map[committee.Role]string{"judge": "judy"})
	f.accrue(t, app)

	if _, err := f.svc.ClaimProtocolFee(ctx, "mallory", application.CurrencyETH); !errors.Is(err, engine.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}

	// Pool 1000 to a lone judge at 2 of 3 units: 666 distributed, 334
	// remainder, plus the 100 protocol fee.
	swept, err := f.svc.ClaimProtocolFee(ctx, feeCollector, application.CurrencyETH)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept != 434 {
		t.Fatalf("swept = %d, want 434", swept)
	}
	if got := f.vault.TotalTo(feeCollector, application.CurrencyETH); got != 434 {
		t.Fatalf("transferred %d, want 434", got)
	}

	// Nothing newly accrued: the sweep is an idempotent zero.
	swept, err = f.svc.ClaimProtocolFee(ctx, feeCollector, application.CurrencyETH)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if swept != 0 {
		t.Fatalf("second sweep = %d, want 0", swept)
	}

	bal, err := f.svc.ProtocolBalance(ctx, application.CurrencyETH)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal.Outstanding() != 0 {
		t.Fatalf("outstanding = %d, want 0", bal.Outstanding())
	}
}

func TestCustodianHierarchicalSplit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	payload, _ := json.Marshal(map[string]any{
		"token_id":   "deed-3",
		"action":     "attach",
		"custodians": []string{"cust-a", "cust-b", "cust-c"},
		"auditor":    "aud-x",
	})
	app := f.seedResolved(t, 1000, 100, map[committee.Role]string{"judge": "judy"})
	app.Kind = "custodian_change"
	app.Payload = payload
	app, err := f.store.UpdateApplication(ctx, app)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	f.accrue(t, app)

	// 60% of 1000 over three custodians: 200 each. 40% to the auditor.
	for _, c := range []string{"cust-a", "cust-b", "cust-c"} {
		acct, err := f.store.GetRewardAccount(ctx, app.ID, c)
		if err != nil {
			t.Fatalf("%s account: %v", c, err)
		}
		if acct.Owed != 200 || acct.Role != kinds.RoleCustodian {
			t.Fatalf("%s owed = %d role = %s", c, acct.Owed, acct.Role)
		}
	}
	auditor, err := f.store.GetRewardAccount(ctx, app.ID, "aud-x")
	if err != nil {
		t.Fatalf("auditor account: %v", err)
	}
	if auditor.Owed != 400 || auditor.Role != kinds.RoleAuditor {
		t.Fatalf("auditor owed = %d role = %s", auditor.Owed, auditor.Role)
	}

	bal, err := f.svc.ProtocolBalance(ctx, application.CurrencyETH)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal.Accrued != 100 {
		t.Fatalf("protocol accrued = %d, want 100", bal.Accrued)
	}
}

func TestApplicationRewardsView(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	app := f.seedResolved(t, 900, 100, nil)
	views, err := f.svc.ApplicationRewards(ctx, app.ID)
	if err != nil {
		t.Fatalf("rewards view: %v", err)
	}
	byRole := make(map[committee.Role]uint64, len(views))
	for _, v := range views {
		byRole[v.Role] = v.Amount
	}
	if byRole["judge"] != 600 || byRole["clerk"] != 300 || byRole["witness"] != 0 {
		t.Fatalf("role rewards = %v", byRole)
	}
}
