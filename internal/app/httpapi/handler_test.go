package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	app "github.com/deedchain/arbitration_layer/internal/app"
)

const testSecret = "handler-test-secret"

type api struct {
	t       *testing.T
	handler http.Handler
}

func newAPI(t *testing.T) *api {
	t.Helper()

	application, err := app.New(app.Stores{}, app.Boundaries{}, app.Options{FeeCollector: "collector"}, nil)
	require.NoError(t, err)
	require.NoError(t, application.Start(context.Background()))
	t.Cleanup(func() { _ = application.Stop(context.Background()) })

	handler, err := NewHandler(application, Options{})
	require.NoError(t, err)
	return &api{t: t, handler: WithAuth(handler, testSecret)}
}

// do issues an authenticated request as principal and decodes the response.
func (a *api) do(principal, method, path string, body any, out any) *httptest.ResponseRecorder {
	a.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if principal != "" {
		token, err := IssueToken(testSecret, principal, time.Minute)
		require.NoError(a.t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp := httptest.NewRecorder()
	a.handler.ServeHTTP(resp, req)
	if out != nil && resp.Body.Len() > 0 {
		require.NoError(a.t, json.Unmarshal(resp.Body.Bytes(), out))
	}
	return resp
}

func (a *api) createCommittee(t *testing.T) string {
	t.Helper()
	var created struct{ ID string }
	resp := a.do("admin", http.MethodPost, "/committees", map[string]any{
		"name":               "claims court",
		"roles":              []string{"judge", "clerk", "notary"},
		"threshold":          2,
		"unlocker_role":      "registrar",
		"payment_method":     "eth_only",
		"minimal_fee_eth":    1,
		"protocol_share_bps": 1000,
		"role_shares":        map[string]uint32{"judge": 1, "clerk": 1, "notary": 1},
	}, &created)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	require.NotEmpty(t, created.ID)

	for principal, role := range map[string]string{"judy": "judge", "carl": "clerk", "nel": "notary"} {
		resp := a.do("admin", http.MethodPost, "/committees/"+created.ID+"/roles",
			map[string]string{"principal": principal, "role": role}, nil)
		require.Equal(t, http.StatusNoContent, resp.Code)
	}
	return created.ID
}

func TestAuthRequired(t *testing.T) {
	a := newAPI(t)

	resp := a.do("", http.MethodGet, "/committees", nil, nil)
	require.Equal(t, http.StatusUnauthorized, resp.Code)

	// Health stays open.
	resp = a.do("", http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, resp.Code)
}

func TestApplicationLifecycle(t *testing.T) {
	a := newAPI(t)
	committeeID := a.createCommittee(t)

	// Submit as alice; the principal comes from the token, not the body.
	var submitted struct {
		ID         string
		Status     string
		Fee        uint64
		RewardPool uint64
	}
	resp := a.do("alice", http.MethodPost, "/applications", map[string]any{
		"kind":         "claim",
		"committee_id": committeeID,
		"payload":      map[string]any{"narrative": "parcel 9 is mine", "area": 20},
		"paid_eth":     100,
	}, &submitted)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	require.Equal(t, "submitted", submitted.Status)
	require.Equal(t, uint64(100), submitted.Fee)

	// Underpaying maps to 402.
	resp = a.do("alice", http.MethodPost, "/applications", map[string]any{
		"kind":         "claim",
		"committee_id": committeeID,
		"payload":      map[string]any{"narrative": "parcel 10", "area": 20},
		"paid_eth":     5,
	}, nil)
	require.Equal(t, http.StatusPaymentRequired, resp.Code)

	appPath := "/applications/" + submitted.ID

	// Lock two slots.
	resp = a.do("judy", http.MethodPost, appPath+"/lock", map[string]string{"role": "judge"}, nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	resp = a.do("carl", http.MethodPost, appPath+"/lock", map[string]string{"role": "clerk"}, nil)
	require.Equal(t, http.StatusOK, resp.Code)

	// A second occupant on a taken slot conflicts.
	resp = a.do("judy", http.MethodPost, appPath+"/lock", map[string]string{"role": "judge"}, nil)
	require.Equal(t, http.StatusConflict, resp.Code)

	// An outsider cannot propose.
	resp = a.do("alice", http.MethodPost, appPath+"/proposals", map[string]any{"action": "approve"}, nil)
	require.Equal(t, http.StatusForbidden, resp.Code)

	var proposed struct {
		Proposal struct{ ID string }
		Tally    int
		Resolved bool
	}
	resp = a.do("judy", http.MethodPost, appPath+"/proposals", map[string]any{
		"action":  "approve",
		"message": "records check out",
	}, &proposed)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	require.Equal(t, 1, proposed.Tally)
	require.False(t, proposed.Resolved)

	// Carl's vote meets the threshold of two and resolves the application.
	var voted struct {
		Tally    int
		Resolved bool
		Status   string
	}
	resp = a.do("carl", http.MethodPost, appPath+"/votes", map[string]string{"proposal_id": proposed.Proposal.ID}, &voted)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	require.True(t, voted.Resolved)
	require.Equal(t, "approved", voted.Status)

	// Voting after resolution conflicts.
	resp = a.do("carl", http.MethodPost, appPath+"/votes", map[string]string{"proposal_id": proposed.Proposal.ID}, nil)
	require.Equal(t, http.StatusConflict, resp.Code)

	// Both occupants claim exactly once.
	var acct struct{ Owed uint64 }
	resp = a.do("judy", http.MethodPost, appPath+"/rewards/claim", nil, &acct)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	require.Equal(t, uint64(30), acct.Owed)

	resp = a.do("judy", http.MethodPost, appPath+"/rewards/claim", nil, nil)
	require.Equal(t, http.StatusConflict, resp.Code)

	// The non-occupant applicant is not eligible.
	resp = a.do("alice", http.MethodPost, appPath+"/rewards/claim", nil, nil)
	require.Equal(t, http.StatusForbidden, resp.Code)

	// Protocol fee: 10 fee share plus the notary's undistributed 30.
	var swept struct {
		Swept uint64 `json:"swept"`
	}
	resp = a.do("collector", http.MethodPost, "/protocol-fees/eth/claim", nil, &swept)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	require.Equal(t, uint64(40), swept.Swept)

	resp = a.do("alice", http.MethodPost, "/protocol-fees/eth/claim", nil, nil)
	require.Equal(t, http.StatusForbidden, resp.Code)
}

func TestRevertAndResubmitFlow(t *testing.T) {
	a := newAPI(t)
	committeeID := a.createCommittee(t)

	var submitted struct{ ID string }
	resp := a.do("alice", http.MethodPost, "/applications", map[string]any{
		"kind":         "claim",
		"committee_id": committeeID,
		"payload":      map[string]any{"narrative": "parcel 12", "area": 20},
		"paid_eth":     100,
	}, &submitted)
	require.Equal(t, http.StatusCreated, resp.Code)
	appPath := "/applications/" + submitted.ID

	resp = a.do("judy", http.MethodPost, appPath+"/lock", map[string]string{"role": "judge"}, nil)
	require.Equal(t, http.StatusOK, resp.Code)

	resp = a.do("judy", http.MethodPost, appPath+"/revert", map[string]string{"reason": "area overstated"}, nil)
	require.Equal(t, http.StatusOK, resp.Code)

	// Only the applicant resubmits.
	resp = a.do("judy", http.MethodPost, appPath+"/resubmit", map[string]any{
		"payload": map[string]any{"narrative": "parcel 12", "area": 15},
	}, nil)
	require.Equal(t, http.StatusForbidden, resp.Code)

	var resubmitted struct{ Status string }
	resp = a.do("alice", http.MethodPost, appPath+"/resubmit", map[string]any{
		"payload": map[string]any{"narrative": "parcel 12, corrected", "area": 15},
	}, &resubmitted)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	require.Equal(t, "submitted", resubmitted.Status)
}

func TestAuditTrailRecordsMutations(t *testing.T) {
	a := newAPI(t)
	a.createCommittee(t)

	var entries []struct {
		Principal string `json:"principal"`
		Method    string `json:"method"`
		Path      string `json:"path"`
	}
	resp := a.do("admin", http.MethodGet, "/audit", nil, &entries)
	require.Equal(t, http.StatusOK, resp.Code)
	require.NotEmpty(t, entries)
	require.Equal(t, "admin", entries[0].Principal)
	require.Equal(t, http.MethodPost, entries[0].Method)
	require.Equal(t, "/committees", entries[0].Path)
}
