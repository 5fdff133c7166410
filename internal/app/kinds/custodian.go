package kinds

import (
	"context"
	"fmt"

	"github.com/deedchain/arbitration_layer/internal/app/domain/application"
	"github.com/deedchain/arbitration_layer/internal/app/domain/committee"
	"github.com/deedchain/arbitration_layer/internal/app/domain/proposal"
	"github.com/deedchain/arbitration_layer/internal/app/domain/reward"
	"github.com/deedchain/arbitration_layer/internal/app/engine"
	"github.com/tidwall/gjson"
)

// Custodian reward split, in basis points of the pool.
const (
	custodianShareBps = 6_000
	auditorShareBps   = 4_000
	bpsDenominator    = 10_000
)

const (
	// RoleCustodian and RoleAuditor label the hierarchical reward accounts of
	// custodian applications.
	RoleCustodian committee.Role = "custodian"
	RoleAuditor   committee.Role = "auditor"
)

// CustodianChange applications attach or detach custodians on a property
// token. The reward pool is split hierarchically: the custodian share is
// distributed equally among the named custodians and the rest goes to the
// single auditor named in the payload.
type CustodianChange struct{}

// Name implements engine.Kind.
func (CustodianChange) Name() string { return "custodian_change" }

// ValidatePayload checks the target token, the action and the participants.
func (CustodianChange) ValidatePayload(payload []byte) error {
	if !gjson.ValidBytes(payload) {
		return fmt.Errorf("payload is not valid JSON")
	}
	if gjson.GetBytes(payload, "token_id").String() == "" {
		return fmt.Errorf("token_id is required")
	}
	action := gjson.GetBytes(payload, "action").String()
	if action != "attach" && action != "detach" {
		return fmt.Errorf("action must be attach or detach, got %q", action)
	}
	custodians := gjson.GetBytes(payload, "custodians").Array()
	if len(custodians) == 0 {
		return fmt.Errorf("custodians is required")
	}
	for _, c := range custodians {
		if c.String() == "" {
			return fmt.Errorf("custodians must be non-empty principals")
		}
	}
	if gjson.GetBytes(payload, "auditor").String() == "" {
		return fmt.Errorf("auditor is required")
	}
	return nil
}

// ApplyOutcome implements engine.Kind. The custodian set change is external
// token state; the engine's record is complete once approved.
func (CustodianChange) ApplyOutcome(_ context.Context, _ *application.Application, _ proposal.Proposal) (application.Status, error) {
	return "", nil
}

// SplitRewardPool implements engine.RewardSplitter. 60% of the pool is
// distributed equally among the named custodians and 40% goes to the
// auditor, with every division remainder retained by the protocol. The same
// single-claim discipline applies to each account.
func (CustodianChange) SplitRewardPool(app application.Application, _ committee.Config, pool uint64) ([]reward.Account, uint64, error) {
	custodianResults := gjson.GetBytes(app.Payload, "custodians").Array()
	auditor := gjson.GetBytes(app.Payload, "auditor").String()
	if len(custodianResults) == 0 || auditor == "" {
		return nil, 0, fmt.Errorf("application %s payload names no custodians or auditor", app.ID)
	}

	custodianPool := engine.ProRata(pool, custodianShareBps, bpsDenominator)
	auditorAmount := engine.ProRata(pool, auditorShareBps, bpsDenominator)
	perCustodian := custodianPool / uint64(len(custodianResults))

	accounts := make([]reward.Account, 0, len(custodianResults)+1)
	var distributed uint64
	for _, c := range custodianResults {
		accounts = append(accounts, reward.Account{
			ApplicationID: app.ID,
			Principal:     c.String(),
			Role:          RoleCustodian,
			Currency:      app.Currency,
			Owed:          perCustodian,
		})
		distributed += perCustodian
	}
	accounts = append(accounts, reward.Account{
		ApplicationID: app.ID,
		Principal:     auditor,
		Role:          RoleAuditor,
		Currency:      app.Currency,
		Owed:          auditorAmount,
	})
	distributed += auditorAmount

	return accounts, pool - distributed, nil
}
