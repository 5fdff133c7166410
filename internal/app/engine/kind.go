package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/deedchain/arbitration_layer/internal/app/domain/application"
	"github.com/deedchain/arbitration_layer/internal/app/domain/committee"
	"github.com/deedchain/arbitration_layer/internal/app/domain/proposal"
	"github.com/deedchain/arbitration_layer/internal/app/domain/reward"
)

// Kind adapts one application variant (claim, property edit, custodian
// change, geo-data edit) onto the shared engine. A kind supplies payload
// validation and the outcome commit; admission, voting, thresholds and
// rewards are generic.
type Kind interface {
	// Name is the stable identifier applications reference.
	Name() string

	// ValidatePayload checks an applicant payload at submit and resubmit.
	ValidatePayload(payload []byte) error

	// ApplyOutcome commits the winning approval's payload against the
	// application. It runs after the resolution has been persisted; a
	// returned error is reported but never undoes the resolution. The
	// returned status, when non-empty, replaces the application status
	// (e.g. a property edit completes once its new state is committed).
	ApplyOutcome(ctx context.Context, app *application.Application, winning proposal.Proposal) (application.Status, error)
}

// RewardSplitter is an optional Kind extension that replaces the default
// role-share reward split with a kind-specific one, such as the custodian
// variant's hierarchical custodian/auditor split.
type RewardSplitter interface {
	// SplitRewardPool distributes the pool. The returned remainder is folded
	// into the protocol fee bucket so no unit is ever lost.
	SplitRewardPool(app application.Application, cfg committee.Config, pool uint64) (accounts []reward.Account, remainder uint64, err error)
}

// Registry resolves kinds by name. Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	kinds map[string]Kind
}

// NewRegistry creates an empty kind registry.
func NewRegistry() *Registry {
	return &Registry{kinds: make(map[string]Kind)}
}

// Register adds a kind. Registering a duplicate name is a programming error.
func (r *Registry) Register(k Kind) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.kinds[k.Name()]; exists {
		return fmt.Errorf("kind %s already registered", k.Name())
	}
	r.kinds[k.Name()] = k
	return nil
}

// Get returns the kind registered under name.
func (r *Registry) Get(name string) (Kind, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.kinds[name]
	if !ok {
		return nil, fmt.Errorf("unknown application kind %q", name)
	}
	return k, nil
}

// Names lists the registered kind names in stable order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.kinds))
	for name := range r.kinds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
