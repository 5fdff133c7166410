package app

import (
	"context"
	"fmt"

	"github.com/deedchain/arbitration_layer/internal/app/engine"
	"github.com/deedchain/arbitration_layer/internal/app/kinds"
	"github.com/deedchain/arbitration_layer/internal/app/registry"
	"github.com/deedchain/arbitration_layer/internal/app/services/applications"
	"github.com/deedchain/arbitration_layer/internal/app/services/arbitration"
	"github.com/deedchain/arbitration_layer/internal/app/services/committees"
	"github.com/deedchain/arbitration_layer/internal/app/services/feeschedule"
	"github.com/deedchain/arbitration_layer/internal/app/services/rewards"
	"github.com/deedchain/arbitration_layer/internal/app/stake"
	"github.com/deedchain/arbitration_layer/internal/app/storage"
	"github.com/deedchain/arbitration_layer/internal/app/storage/memory"
	"github.com/deedchain/arbitration_layer/internal/app/system"
	"github.com/deedchain/arbitration_layer/internal/app/vault"
	"github.com/deedchain/arbitration_layer/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Committees   storage.CommitteeStore
	Applications storage.ApplicationStore
	Proposals    storage.ProposalStore
	Rewards      storage.RewardStore
}

// Boundaries are the engine's external systems. Nil boundaries default to the
// in-memory implementations, which is the single-node deployment.
type Boundaries struct {
	Roles  committees.Roles
	Stakes stake.Ledger
	Vault  vault.Vault
}

// Options tune engine behavior.
type Options struct {
	// FeeCollector is the privileged principal allowed to sweep protocol fees.
	FeeCollector string
}

// Application ties the arbitration services together and manages their
// lifecycle. All state mutations across services share one sequencer.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Kinds        *engine.Registry
	Committees   *committees.Service
	Applications *applications.Service
	Arbitration  *arbitration.Service
	Rewards      *rewards.Service
	Fees         *feeschedule.Service
}

// New builds a fully initialised application with the provided stores and
// boundaries.
func New(stores Stores, boundaries Boundaries, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Committees == nil {
		stores.Committees = mem
	}
	if stores.Applications == nil {
		stores.Applications = mem
	}
	if stores.Proposals == nil {
		stores.Proposals = mem
	}
	if stores.Rewards == nil {
		stores.Rewards = mem
	}
	if boundaries.Roles == nil {
		boundaries.Roles = registry.NewMemory()
	}
	if boundaries.Stakes == nil {
		boundaries.Stakes = stake.NewMemory()
	}
	if boundaries.Vault == nil {
		boundaries.Vault = vault.NewMemory()
	}
	if opts.FeeCollector == "" {
		opts.FeeCollector = "protocol-fee-collector"
	}

	reg := engine.NewRegistry()
	for _, kind := range []engine.Kind{
		kinds.Claim{},
		kinds.PropertyEdit{},
		kinds.CustodianChange{},
		kinds.GeoDataEdit{},
	} {
		if err := reg.Register(kind); err != nil {
			return nil, fmt.Errorf("register kind %s: %w", kind.Name(), err)
		}
	}

	seq := engine.NewSequencer()
	feeService := feeschedule.New(stores.Committees)
	committeeService := committees.New(stores.Committees, boundaries.Roles, log)
	rewardService := rewards.New(stores.Committees, stores.Applications, stores.Rewards,
		reg, boundaries.Vault, opts.FeeCollector, seq, log)
	appService := applications.New(stores.Committees, stores.Applications, stores.Proposals,
		feeService, reg, boundaries.Roles, boundaries.Stakes, rewardService, seq, log)
	arbitrationService := arbitration.New(stores.Applications, stores.Proposals, reg,
		boundaries.Stakes, rewardService, seq, log)

	manager := system.NewManager()
	for _, name := range []string{"committees", "applications", "arbitration", "rewards"} {
		if err := manager.Register(system.NoopService{ServiceName: name}); err != nil {
			return nil, fmt.Errorf("register %s service: %w", name, err)
		}
	}

	return &Application{
		manager:      manager,
		log:          log,
		Kinds:        reg,
		Committees:   committeeService,
		Applications: appService,
		Arbitration:  arbitrationService,
		Rewards:      rewardService,
		Fees:         feeService,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
