// Package kinds provides the concrete application variants served by the
// shared arbitration engine. Each kind supplies payload validation and the
// outcome commit; admission, voting, thresholds and rewards are generic.
package kinds

import (
	"context"
	"fmt"

	"github.com/deedchain/arbitration_layer/internal/app/domain/application"
	"github.com/deedchain/arbitration_layer/internal/app/domain/proposal"
	"github.com/tidwall/gjson"
)

// Claim applications assert ownership over an unregistered plot. The payload
// carries the claim narrative and the claimed area; an approval's verdict
// payload is opaque to the engine.
type Claim struct{}

// Name implements engine.Kind.
func (Claim) Name() string { return "claim" }

// ValidatePayload checks the claim narrative and area.
func (Claim) ValidatePayload(payload []byte) error {
	if !gjson.ValidBytes(payload) {
		return fmt.Errorf("payload is not valid JSON")
	}
	if gjson.GetBytes(payload, "narrative").String() == "" {
		return fmt.Errorf("narrative is required")
	}
	if gjson.GetBytes(payload, "area").Uint() == 0 {
		return fmt.Errorf("area must be positive")
	}
	return nil
}

// ApplyOutcome implements engine.Kind. A resolved claim carries its verdict
// in the winning proposal payload; no further state commit is needed.
func (Claim) ApplyOutcome(_ context.Context, _ *application.Application, _ proposal.Proposal) (application.Status, error) {
	return "", nil
}
