// Package feeschedule computes minimal fees and fee splits for application
// submissions. All amounts are unsigned integers in the smallest currency
// unit; there is no floating point in any fee or reward computation.
package feeschedule

import (
	"context"
	"fmt"
	"math"

	"github.com/deedchain/arbitration_layer/internal/app/domain/application"
	"github.com/deedchain/arbitration_layer/internal/app/domain/committee"
	"github.com/deedchain/arbitration_layer/internal/app/engine"
	"github.com/deedchain/arbitration_layer/internal/app/storage"
	"github.com/tidwall/gjson"
)

const bpsDenominator = 10_000

// MaxFee bounds any single fee amount. Weights come straight from applicant
// payloads, so every fee product is overflow-checked against this cap; it
// also keeps stored amounts within the BIGINT column range.
const MaxFee = uint64(math.MaxInt64)

// Service resolves committee fee policy.
type Service struct {
	committees storage.CommitteeStore
}

// New constructs a fee schedule service.
func New(committees storage.CommitteeStore) *Service {
	return &Service{committees: committees}
}

// WeightOf extracts the application weight from an opaque payload. Kinds
// carry either an "area" (geo applications) or a declared "value"; payloads
// without either weigh one unit so the committee's base rate still applies.
func WeightOf(payload []byte) uint64 {
	if area := gjson.GetBytes(payload, "area"); area.Exists() && area.Uint() > 0 {
		return area.Uint()
	}
	if value := gjson.GetBytes(payload, "value"); value.Exists() && value.Uint() > 0 {
		return value.Uint()
	}
	return 1
}

// MinimumFee returns the minimal fee for the committee in the given currency
// at the given weight. A currency the committee's payment method excludes
// yields ErrPaymentMethodDisabled.
func (s *Service) MinimumFee(ctx context.Context, committeeID string, currency application.Currency, weight uint64) (uint64, error) {
	cfg, err := s.committees.GetCommittee(ctx, committeeID)
	if err != nil {
		return 0, err
	}
	return MinimumFee(cfg, currency, weight)
}

// MinimumFee computes the minimal fee from an already-loaded config.
func MinimumFee(cfg committee.Config, currency application.Currency, weight uint64) (uint64, error) {
	if weight == 0 {
		weight = 1
	}
	switch currency {
	case application.CurrencyETH:
		if !cfg.AllowsETH() {
			return 0, fmt.Errorf("committee %s does not accept eth: %w", cfg.ID, engine.ErrPaymentMethodDisabled)
		}
		return scaleFee(cfg.MinimalFeeETH, weight)
	case application.CurrencyToken:
		if !cfg.AllowsToken() {
			return 0, fmt.Errorf("committee %s does not accept token: %w", cfg.ID, engine.ErrPaymentMethodDisabled)
		}
		return scaleFee(cfg.MinimalFeeToken, weight)
	default:
		return 0, fmt.Errorf("unknown currency %q", currency)
	}
}

// scaleFee multiplies a committee rate by an applicant-supplied weight. A
// product that wraps uint64 or exceeds MaxFee means the true minimum is not
// payable, so no payment can satisfy it.
func scaleFee(rate, weight uint64) (uint64, error) {
	minimum := rate * weight
	if rate != 0 && (minimum/weight != rate || minimum > MaxFee) {
		return 0, fmt.Errorf("fee %d at weight %d exceeds the maximum payable fee: %w",
			rate, weight, engine.ErrInsufficientFee)
	}
	return minimum, nil
}

// FeeSplit divides a paid fee into the protocol share and the participants
// reward pool. Integer division assigns the remainder to the pool, so
// protocol + pool always equals the fee.
func FeeSplit(cfg committee.Config, fee uint64) (protocol, pool uint64) {
	protocol = engine.ProRata(fee, uint64(cfg.ProtocolShareBps), bpsDenominator)
	pool = fee - protocol
	return protocol, pool
}
