// Package httpapi exposes the arbitration engine over REST. Callers
// authenticate with bearer tokens; the token subject is the principal every
// engine operation is attributed to.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	app "github.com/deedchain/arbitration_layer/internal/app"
	"github.com/deedchain/arbitration_layer/internal/app/domain/application"
	"github.com/deedchain/arbitration_layer/internal/app/domain/committee"
	"github.com/deedchain/arbitration_layer/internal/app/domain/proposal"
	"github.com/deedchain/arbitration_layer/internal/app/engine"
	"github.com/deedchain/arbitration_layer/internal/app/services/applications"
	"github.com/deedchain/arbitration_layer/internal/app/storage"
)

// handler bundles HTTP endpoints for the arbitration services.
type handler struct {
	app   *app.Application
	audit *auditLog
}

// Options configure the HTTP surface.
type Options struct {
	// AuditFile, when set, appends every mutating call to a JSONL file in
	// addition to the in-memory ring.
	AuditFile string
}

// NewHandler returns a router exposing the engine REST API.
func NewHandler(application *app.Application, opts Options) (http.Handler, error) {
	sink, err := newFileAuditSink(opts.AuditFile)
	if err != nil {
		return nil, fmt.Errorf("open audit sink: %w", err)
	}
	h := &handler{app: application, audit: newAuditLog(0, sink)}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)

	r.HandleFunc("/committees", h.createCommittee).Methods(http.MethodPost)
	r.HandleFunc("/committees", h.listCommittees).Methods(http.MethodGet)
	r.HandleFunc("/committees/{id}", h.getCommittee).Methods(http.MethodGet)
	r.HandleFunc("/committees/{id}", h.updateCommittee).Methods(http.MethodPut)
	r.HandleFunc("/committees/{id}/roles", h.grantRole).Methods(http.MethodPost)
	r.HandleFunc("/committees/{id}/roles/{role}/{principal}", h.revokeRole).Methods(http.MethodDelete)

	r.HandleFunc("/applications", h.submitApplication).Methods(http.MethodPost)
	r.HandleFunc("/applications", h.listApplications).Methods(http.MethodGet)
	r.HandleFunc("/applications/{id}", h.getApplication).Methods(http.MethodGet)
	r.HandleFunc("/applications/{id}/resubmit", h.resubmitApplication).Methods(http.MethodPost)
	r.HandleFunc("/applications/{id}/lock", h.lockSlot).Methods(http.MethodPost)
	r.HandleFunc("/applications/{id}/unlock", h.unlockSlot).Methods(http.MethodPost)
	r.HandleFunc("/applications/{id}/revert", h.revertApplication).Methods(http.MethodPost)
	r.HandleFunc("/applications/{id}/close", h.closeApplication).Methods(http.MethodPost)

	r.HandleFunc("/applications/{id}/proposals", h.createProposal).Methods(http.MethodPost)
	r.HandleFunc("/applications/{id}/proposals", h.listProposals).Methods(http.MethodGet)
	r.HandleFunc("/applications/{id}/proposals/{pid}", h.getProposal).Methods(http.MethodGet)
	r.HandleFunc("/applications/{id}/proposals/{pid}/votes", h.getProposalVotes).Methods(http.MethodGet)
	r.HandleFunc("/applications/{id}/votes", h.castVote).Methods(http.MethodPost)
	r.HandleFunc("/applications/{id}/votes/{principal}", h.getVotedFor).Methods(http.MethodGet)

	r.HandleFunc("/applications/{id}/rewards", h.applicationRewards).Methods(http.MethodGet)
	r.HandleFunc("/applications/{id}/rewards/accounts", h.rewardAccounts).Methods(http.MethodGet)
	r.HandleFunc("/applications/{id}/rewards/claim", h.claimReward).Methods(http.MethodPost)

	r.HandleFunc("/protocol-fees/{currency}", h.protocolBalance).Methods(http.MethodGet)
	r.HandleFunc("/protocol-fees/{currency}/claim", h.claimProtocolFee).Methods(http.MethodPost)

	r.HandleFunc("/audit", h.listAudit).Methods(http.MethodGet)

	return h.audit.middleware(r), nil
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- committees -------------------------------------------------------------

type committeePayload struct {
	Name             string                    `json:"name"`
	Description      string                    `json:"description"`
	Roles            []committee.Role          `json:"roles"`
	Threshold        int                       `json:"threshold"`
	UnlockerRole     committee.Role            `json:"unlocker_role"`
	PaymentMethod    string                    `json:"payment_method"`
	MinimalFeeETH    uint64                    `json:"minimal_fee_eth"`
	MinimalFeeToken  uint64                    `json:"minimal_fee_token"`
	ProtocolShareBps uint32                    `json:"protocol_share_bps"`
	RoleShares       map[committee.Role]uint32 `json:"role_shares"`
}

func (p committeePayload) config(id string) committee.Config {
	return committee.Config{
		ID:               id,
		Name:             p.Name,
		Description:      p.Description,
		Roles:            p.Roles,
		Threshold:        p.Threshold,
		UnlockerRole:     p.UnlockerRole,
		PaymentMethod:    committee.PaymentMethod(p.PaymentMethod),
		MinimalFeeETH:    p.MinimalFeeETH,
		MinimalFeeToken:  p.MinimalFeeToken,
		ProtocolShareBps: p.ProtocolShareBps,
		RoleShares:       p.RoleShares,
	}
}

func (h *handler) createCommittee(w http.ResponseWriter, r *http.Request) {
	var payload committeePayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cfg, err := h.app.Committees.Create(r.Context(), payload.config(""))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, cfg)
}

func (h *handler) updateCommittee(w http.ResponseWriter, r *http.Request) {
	var payload committeePayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cfg, err := h.app.Committees.Update(r.Context(), payload.config(mux.Vars(r)["id"]))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (h *handler) getCommittee(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.app.Committees.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (h *handler) listCommittees(w http.ResponseWriter, r *http.Request) {
	cfgs, err := h.app.Committees.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, cfgs)
}

func (h *handler) grantRole(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Principal string         `json:"principal"`
		Role      committee.Role `json:"role"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if payload.Principal == "" || payload.Role == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("principal and role are required"))
		return
	}
	if err := h.app.Committees.GrantRole(r.Context(), mux.Vars(r)["id"], payload.Principal, payload.Role); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) revokeRole(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.app.Committees.RevokeRole(r.Context(), vars["id"], vars["principal"], committee.Role(vars["role"])); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- applications -----------------------------------------------------------

func (h *handler) submitApplication(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Kind        string          `json:"kind"`
		CommitteeID string          `json:"committee_id"`
		Payload     json.RawMessage `json:"payload"`
		PaidETH     uint64          `json:"paid_eth"`
		PaidToken   uint64          `json:"paid_token"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	created, err := h.app.Applications.Submit(r.Context(), applications.SubmitParams{
		Kind:        payload.Kind,
		CommitteeID: payload.CommitteeID,
		Applicant:   Principal(r.Context()),
		Payload:     payload.Payload,
		PaidETH:     payload.PaidETH,
		PaidToken:   payload.PaidToken,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *handler) resubmitApplication(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Payload   json.RawMessage `json:"payload"`
		PaidETH   uint64          `json:"paid_eth"`
		PaidToken uint64          `json:"paid_token"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	updated, err := h.app.Applications.Resubmit(r.Context(), applications.ResubmitParams{
		ApplicationID: mux.Vars(r)["id"],
		Applicant:     Principal(r.Context()),
		Payload:       payload.Payload,
		PaidETH:       payload.PaidETH,
		PaidToken:     payload.PaidToken,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *handler) getApplication(w http.ResponseWriter, r *http.Request) {
	got, err := h.app.Applications.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, got)
}

func (h *handler) listApplications(w http.ResponseWriter, r *http.Request) {
	apps, err := h.app.Applications.List(r.Context(), r.URL.Query().Get("committee_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, apps)
}

func (h *handler) lockSlot(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Role committee.Role `json:"role"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	updated, err := h.app.Applications.Lock(r.Context(), mux.Vars(r)["id"], Principal(r.Context()), payload.Role)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *handler) unlockSlot(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Role committee.Role `json:"role"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	updated, err := h.app.Applications.Unlock(r.Context(), mux.Vars(r)["id"], Principal(r.Context()), payload.Role)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *handler) revertApplication(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	updated, err := h.app.Applications.Revert(r.Context(), mux.Vars(r)["id"], Principal(r.Context()), payload.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *handler) closeApplication(w http.ResponseWriter, r *http.Request) {
	updated, err := h.app.Applications.Close(r.Context(), mux.Vars(r)["id"], Principal(r.Context()))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// --- proposals and votes ----------------------------------------------------

func (h *handler) createProposal(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Action  string                `json:"action"`
		Message string                `json:"message"`
		Payload json.RawMessage       `json:"payload"`
		Slashes []proposal.SlashEntry `json:"slashes"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	applicationID := mux.Vars(r)["id"]
	proposer := Principal(r.Context())

	var result interface{}
	var err error
	switch proposal.Action(payload.Action) {
	case proposal.ActionApprove:
		result, err = h.app.Arbitration.ProposeApproval(r.Context(), applicationID, proposer, payload.Message, payload.Payload, payload.Slashes)
	case proposal.ActionReject:
		result, err = h.app.Arbitration.ProposeReject(r.Context(), applicationID, proposer, payload.Message)
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("action must be approve or reject, got %q", payload.Action))
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *handler) listProposals(w http.ResponseWriter, r *http.Request) {
	props, err := h.app.Arbitration.ListProposals(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, props)
}

func (h *handler) getProposal(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	prop, err := h.app.Arbitration.GetProposal(r.Context(), vars["id"], vars["pid"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prop)
}

func (h *handler) getProposalVotes(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	voters, err := h.app.Arbitration.GetProposalVotes(r.Context(), vars["id"], vars["pid"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"voters": voters, "count": len(voters)})
}

func (h *handler) castVote(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ProposalID string `json:"proposal_id"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := h.app.Arbitration.Vote(r.Context(), mux.Vars(r)["id"], Principal(r.Context()), payload.ProposalID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) getVotedFor(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	proposalID, err := h.app.Arbitration.GetVotedFor(r.Context(), vars["id"], vars["principal"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"proposal_id": proposalID})
}

// --- rewards ----------------------------------------------------------------

func (h *handler) applicationRewards(w http.ResponseWriter, r *http.Request) {
	rewards, err := h.app.Rewards.ApplicationRewards(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rewards)
}

func (h *handler) rewardAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.app.Rewards.ListAccounts(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

func (h *handler) claimReward(w http.ResponseWriter, r *http.Request) {
	acct, err := h.app.Rewards.ClaimReward(r.Context(), mux.Vars(r)["id"], Principal(r.Context()))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (h *handler) protocolBalance(w http.ResponseWriter, r *http.Request) {
	currency, err := parseCurrency(mux.Vars(r)["currency"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	bal, err := h.app.Rewards.ProtocolBalance(r.Context(), currency)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

func (h *handler) claimProtocolFee(w http.ResponseWriter, r *http.Request) {
	currency, err := parseCurrency(mux.Vars(r)["currency"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	swept, err := h.app.Rewards.ClaimProtocolFee(r.Context(), Principal(r.Context()), currency)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"swept": swept})
}

func (h *handler) listAudit(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	writeJSON(w, http.StatusOK, h.audit.listLimit(limit))
}

// --- helpers ----------------------------------------------------------------

func parseCurrency(raw string) (application.Currency, error) {
	switch application.Currency(raw) {
	case application.CurrencyETH:
		return application.CurrencyETH, nil
	case application.CurrencyToken:
		return application.CurrencyToken, nil
	default:
		return "", fmt.Errorf("unknown currency %q", raw)
	}
}

// writeDomainError maps the engine error taxonomy onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, engine.ErrUnknownProposal):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrUnauthorized), errors.Is(err, engine.ErrNotLocked),
		errors.Is(err, engine.ErrNotEligible):
		status = http.StatusForbidden
	case errors.Is(err, engine.ErrInsufficientFee), errors.Is(err, engine.ErrPaymentMethodDisabled),
		errors.Is(err, engine.ErrMixedCurrencyPayment):
		status = http.StatusPaymentRequired
	case errors.Is(err, engine.ErrSlotAlreadyTaken), errors.Is(err, engine.ErrApplicationNotOpen),
		errors.Is(err, engine.ErrAlreadyPaid), errors.Is(err, engine.ErrAlreadyReverted),
		errors.Is(err, engine.ErrNotResolved):
		status = http.StatusConflict
	}
	writeError(w, status, err)
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
