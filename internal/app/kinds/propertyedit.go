package kinds

import (
	"context"
	"fmt"

	"github.com/deedchain/arbitration_layer/internal/app/domain/application"
	"github.com/deedchain/arbitration_layer/internal/app/domain/proposal"
	"github.com/tidwall/gjson"
)

// PropertyEdit applications change the registered details of an existing
// property token. The winning approval's payload is the new property state
// and is committed over the application payload, after which the edit is
// complete.
type PropertyEdit struct{}

// Name implements engine.Kind.
func (PropertyEdit) Name() string { return "property_edit" }

// ValidatePayload checks the target token and the proposed details.
func (PropertyEdit) ValidatePayload(payload []byte) error {
	if !gjson.ValidBytes(payload) {
		return fmt.Errorf("payload is not valid JSON")
	}
	if gjson.GetBytes(payload, "token_id").String() == "" {
		return fmt.Errorf("token_id is required")
	}
	if gjson.GetBytes(payload, "area").Uint() == 0 {
		return fmt.Errorf("area must be positive")
	}
	return nil
}

// ApplyOutcome commits the approved state. When the winning proposal carries
// a replacement state it supersedes the applicant's proposed one; either
// way the edit moves straight to completed.
func (PropertyEdit) ApplyOutcome(_ context.Context, app *application.Application, winning proposal.Proposal) (application.Status, error) {
	if len(winning.Payload) > 0 {
		if !gjson.ValidBytes(winning.Payload) {
			return "", fmt.Errorf("winning payload is not valid JSON")
		}
		app.Payload = winning.Payload
	}
	return application.StatusCompleted, nil
}
