package kinds

import (
	"context"
	"fmt"
	"strings"

	"github.com/deedchain/arbitration_layer/internal/app/domain/application"
	"github.com/deedchain/arbitration_layer/internal/app/domain/proposal"
	"github.com/tidwall/gjson"
)

const (
	minContourPoints = 3
	maxContourPoints = 350
	maxGeohashLen    = 12
)

const geohashAlphabet = "0123456789bcdefghjkmnpqrstuvwxyz"

// GeoDataEdit applications modify the geographic contour of a property
// token. The contour is a list of geohash strings; geometry semantics stay
// outside the engine, only the encoding is checked here.
type GeoDataEdit struct{}

// Name implements engine.Kind.
func (GeoDataEdit) Name() string { return "geo_data_edit" }

// ValidatePayload checks the target token and the contour encoding.
func (GeoDataEdit) ValidatePayload(payload []byte) error {
	if !gjson.ValidBytes(payload) {
		return fmt.Errorf("payload is not valid JSON")
	}
	if gjson.GetBytes(payload, "token_id").String() == "" {
		return fmt.Errorf("token_id is required")
	}

	contour := gjson.GetBytes(payload, "contour").Array()
	if len(contour) < minContourPoints {
		return fmt.Errorf("contour needs at least %d points, got %d", minContourPoints, len(contour))
	}
	if len(contour) > maxContourPoints {
		return fmt.Errorf("contour exceeds %d points", maxContourPoints)
	}
	for i, point := range contour {
		if err := validateGeohash(point.String()); err != nil {
			return fmt.Errorf("contour[%d]: %w", i, err)
		}
	}
	return nil
}

// ApplyOutcome commits the approved contour when the winning proposal
// carries a corrected one.
func (GeoDataEdit) ApplyOutcome(_ context.Context, app *application.Application, winning proposal.Proposal) (application.Status, error) {
	if len(winning.Payload) > 0 && gjson.GetBytes(winning.Payload, "contour").Exists() {
		app.Payload = winning.Payload
	}
	return "", nil
}

func validateGeohash(gh string) error {
	if gh == "" || len(gh) > maxGeohashLen {
		return fmt.Errorf("geohash length must be 1..%d", maxGeohashLen)
	}
	for _, r := range strings.ToLower(gh) {
		if !strings.ContainsRune(geohashAlphabet, r) {
			return fmt.Errorf("invalid geohash character %q", r)
		}
	}
	return nil
}
