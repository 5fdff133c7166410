package feeschedule

import (
	"context"
	"errors"
	"testing"

	"github.com/deedchain/arbitration_layer/internal/app/domain/application"
	"github.com/deedchain/arbitration_layer/internal/app/domain/committee"
	"github.com/deedchain/arbitration_layer/internal/app/engine"
	"github.com/deedchain/arbitration_layer/internal/app/storage/memory"
)

func TestWeightOf(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    uint64
	}{
		{"area", `{"area": 250, "narrative": "x"}`, 250},
		{"value", `{"value": 40}`, 40},
		{"area wins over value", `{"area": 7, "value": 40}`, 7},
		{"neither", `{"narrative": "x"}`, 1},
		{"zero area falls through", `{"area": 0, "value": 3}`, 3},
		{"empty payload", ``, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := WeightOf([]byte(tt.payload)); got != tt.want {
				t.Fatalf("WeightOf(%s) = %d, want %d", tt.payload, got, tt.want)
			}
		})
	}
}

func TestMinimumFee(t *testing.T) {
	cfg := committee.Config{
		ID:              "c1",
		PaymentMethod:   committee.PaymentMethodETHAndToken,
		MinimalFeeETH:   5,
		MinimalFeeToken: 120,
	}

	if got, err := MinimumFee(cfg, application.CurrencyETH, 10); err != nil || got != 50 {
		t.Fatalf("eth fee = (%d, %v), want 50", got, err)
	}
	if got, err := MinimumFee(cfg, application.CurrencyToken, 3); err != nil || got != 360 {
		t.Fatalf("token fee = (%d, %v), want 360", got, err)
	}
	// Weight zero is clamped to one unit.
	if got, err := MinimumFee(cfg, application.CurrencyETH, 0); err != nil || got != 5 {
		t.Fatalf("zero-weight fee = (%d, %v), want 5", got, err)
	}

	cfg.PaymentMethod = committee.PaymentMethodETHOnly
	if _, err := MinimumFee(cfg, application.CurrencyToken, 1); !errors.Is(err, engine.ErrPaymentMethodDisabled) {
		t.Fatalf("err = %v, want ErrPaymentMethodDisabled", err)
	}
}

func TestMinimumFeeRejectsOverflowingWeight(t *testing.T) {
	cfg := committee.Config{
		ID:            "c1",
		PaymentMethod: committee.PaymentMethodETHOnly,
		MinimalFeeETH: 100,
	}

	// The raw product wraps uint64 down to 84; the true minimum is not
	// payable, so admission must fail rather than collapse.
	if _, err := MinimumFee(cfg, application.CurrencyETH, 184_467_440_737_095_517); !errors.Is(err, engine.ErrInsufficientFee) {
		t.Fatalf("wrapping weight err = %v, want ErrInsufficientFee", err)
	}

	// A product that fits uint64 but exceeds MaxFee is rejected too.
	if _, err := MinimumFee(cfg, application.CurrencyETH, 100_000_000_000_000_000); !errors.Is(err, engine.ErrInsufficientFee) {
		t.Fatalf("over-cap weight err = %v, want ErrInsufficientFee", err)
	}

	// The cap itself is still payable territory.
	if got, err := MinimumFee(cfg, application.CurrencyETH, 10_000_000_000_000_000); err != nil || got != 1_000_000_000_000_000_000 {
		t.Fatalf("in-range fee = (%d, %v)", got, err)
	}
}

func TestFeeSplitCoversFee(t *testing.T) {
	cfg := committee.Config{ProtocolShareBps: 2500}
	for _, fee := range []uint64{0, 1, 3, 999, 10_000, 123_457} {
		protocol, pool := FeeSplit(cfg, fee)
		if protocol+pool != fee {
			t.Fatalf("fee %d: %d + %d != %d", fee, protocol, pool, fee)
		}
		if protocol != fee*2500/10_000 {
			t.Fatalf("fee %d: protocol = %d", fee, protocol)
		}
	}

	// No protocol share: the whole fee funds the pool.
	protocol, pool := FeeSplit(committee.Config{}, 500)
	if protocol != 0 || pool != 500 {
		t.Fatalf("split = (%d, %d), want (0, 500)", protocol, pool)
	}
}

func TestServiceMinimumFee(t *testing.T) {
	store := memory.New()
	cfg, err := store.CreateCommittee(context.Background(), committee.Config{
		ID:            "c1",
		PaymentMethod: committee.PaymentMethodETHOnly,
		MinimalFeeETH: 7,
	})
	if err != nil {
		t.Fatalf("create committee: %v", err)
	}

	svc := New(store)
	got, err := svc.MinimumFee(context.Background(), cfg.ID, application.CurrencyETH, 4)
	if err != nil || got != 28 {
		t.Fatalf("fee = (%d, %v), want 28", got, err)
	}
	if _, err := svc.MinimumFee(context.Background(), "missing", application.CurrencyETH, 1); err == nil {
		t.Fatal("expected unknown committee error")
	}
}
