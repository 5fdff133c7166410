package kinds

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/deedchain/arbitration_layer/internal/app/domain/application"
	"github.com/deedchain/arbitration_layer/internal/app/domain/committee"
	"github.com/deedchain/arbitration_layer/internal/app/domain/proposal"
)

func TestClaimValidatePayload(t *testing.T) {
	k := Claim{}

	if err := k.ValidatePayload([]byte(`{"narrative":"squatter's rights","area":12}`)); err != nil {
		t.Fatalf("valid payload rejected: %v", err)
	}
	for name, payload := range map[string]string{
		"not json":      `{`,
		"no narrative":  `{"area":12}`,
		"zero area":     `{"narrative":"x","area":0}`,
		"missing area":  `{"narrative":"x"}`,
		"empty payload": ``,
	} {
		if err := k.ValidatePayload([]byte(payload)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestPropertyEditApplyOutcome(t *testing.T) {
	k := PropertyEdit{}
	app := &application.Application{Payload: json.RawMessage(`{"token_id":"d1","area":10}`)}

	// Without a winning payload the applicant's state stands.
	status, err := k.ApplyOutcome(context.Background(), app, proposal.Proposal{})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if status != application.StatusCompleted {
		t.Fatalf("status = %s, want %s", status, application.StatusCompleted)
	}
	if string(app.Payload) != `{"token_id":"d1","area":10}` {
		t.Fatalf("payload mutated: %s", app.Payload)
	}

	// A winning payload supersedes it.
	winning := proposal.Proposal{Payload: json.RawMessage(`{"token_id":"d1","area":11}`)}
	if _, err := k.ApplyOutcome(context.Background(), app, winning); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if string(app.Payload) != string(winning.Payload) {
		t.Fatalf("payload = %s, want winning payload", app.Payload)
	}

	// A malformed winning payload fails the commit.
	if _, err := k.ApplyOutcome(context.Background(), app, proposal.Proposal{Payload: json.RawMessage(`{`)}); err == nil {
		t.Fatal("expected error for malformed winning payload")
	}
}

func TestCustodianValidatePayload(t *testing.T) {
	k := CustodianChange{}

	valid := `{"token_id":"d1","action":"attach","custodians":["a","b"],"auditor":"x"}`
	if err := k.ValidatePayload([]byte(valid)); err != nil {
		t.Fatalf("valid payload rejected: %v", err)
	}
	for name, payload := range map[string]string{
		"no token":        `{"action":"attach","custodians":["a"],"auditor":"x"}`,
		"bad action":      `{"token_id":"d1","action":"replace","custodians":["a"],"auditor":"x"}`,
		"no custodians":   `{"token_id":"d1","action":"attach","custodians":[],"auditor":"x"}`,
		"empty custodian": `{"token_id":"d1","action":"attach","custodians":[""],"auditor":"x"}`,
		"no auditor":      `{"token_id":"d1","action":"detach","custodians":["a"]}`,
	} {
		if err := k.ValidatePayload([]byte(payload)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestCustodianSplitRewardPool(t *testing.T) {
	k := CustodianChange{}
	app := application.Application{
		ID:       "app-1",
		Currency: application.CurrencyToken,
		Payload:  json.RawMessage(`{"token_id":"d1","action":"attach","custodians":["a","b","c"],"auditor":"x"}`),
	}

	accounts, remainder, err := k.SplitRewardPool(app, committee.Config{}, 1000)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(accounts) != 4 {
		t.Fatalf("accounts = %d, want 4", len(accounts))
	}
	var total uint64
	for _, acct := range accounts {
		total += acct.Owed
		switch acct.Role {
		case RoleCustodian:
			if acct.Owed != 200 {
				t.Fatalf("custodian %s owed %d, want 200", acct.Principal, acct.Owed)
			}
		case RoleAuditor:
			if acct.Owed != 400 {
				t.Fatalf("auditor owed %d, want 400", acct.Owed)
			}
		default:
			t.Fatalf("unexpected role %s", acct.Role)
		}
	}
	if total+remainder != 1000 {
		t.Fatalf("split loses funds: %d + %d != 1000", total, remainder)
	}

	// An indivisible custodian share leaves the remainder with the protocol.
	_, remainder, err = k.SplitRewardPool(app, committee.Config{}, 1001)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if remainder == 0 {
		t.Fatal("expected a division remainder")
	}
}

func TestGeoDataEditValidatePayload(t *testing.T) {
	k := GeoDataEdit{}

	if err := k.ValidatePayload([]byte(`{"token_id":"d1","contour":["u4pruyd","u4pruyf","u4pruyc"]}`)); err != nil {
		t.Fatalf("valid payload rejected: %v", err)
	}

	// Too few points.
	if err := k.ValidatePayload([]byte(`{"token_id":"d1","contour":["u4pruyd","u4pruyf"]}`)); err == nil {
		t.Fatal("expected error for short contour")
	}

	// Too many points.
	points := make([]string, 351)
	for i := range points {
		points[i] = "u4pruyd"
	}
	big, _ := json.Marshal(map[string]any{"token_id": "d1", "contour": points})
	if err := k.ValidatePayload(big); err == nil {
		t.Fatal("expected error for oversized contour")
	}

	// Geohashes use a restricted base-32 alphabet: no a, i, l, o.
	if err := k.ValidatePayload([]byte(`{"token_id":"d1","contour":["u4pruyd","uailo","u4pruyc"]}`)); err == nil {
		t.Fatal("expected error for invalid geohash characters")
	}
	if err := k.ValidatePayload([]byte(`{"token_id":"d1","contour":["` + strings.Repeat("u", 13) + `","u4pruyf","u4pruyc"]}`)); err == nil {
		t.Fatal("expected error for overlong geohash")
	}
}

func TestGeoDataEditApplyOutcome(t *testing.T) {
	k := GeoDataEdit{}
	original := json.RawMessage(`{"token_id":"d1","contour":["u4pruyd","u4pruyf","u4pruyc"]}`)
	app := &application.Application{Payload: original}

	// A winning payload without a contour leaves the application untouched.
	if _, err := k.ApplyOutcome(context.Background(), app, proposal.Proposal{Payload: json.RawMessage(`{"note":"ok"}`)}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if string(app.Payload) != string(original) {
		t.Fatal("payload replaced without a corrected contour")
	}

	corrected := json.RawMessage(`{"token_id":"d1","contour":["u4pruyb","u4pruy9","u4pruyc"]}`)
	if _, err := k.ApplyOutcome(context.Background(), app, proposal.Proposal{Payload: corrected}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if string(app.Payload) != string(corrected) {
		t.Fatalf("payload = %s, want corrected contour", app.Payload)
	}
}
