// Package committees manages committee configurations and role membership.
package committees

import (
	"context"
	"fmt"

	"github.com/deedchain/arbitration_layer/internal/app/domain/committee"
	"github.com/deedchain/arbitration_layer/internal/app/registry"
	"github.com/deedchain/arbitration_layer/internal/app/storage"
	"github.com/deedchain/arbitration_layer/pkg/logger"
)

// Roles is the registry surface the service needs for membership changes.
// The in-memory registry satisfies it; chain-backed registries are read-only
// and manage membership elsewhere.
type Roles interface {
	registry.RoleRegistry
	Grant(committeeID, principal string, role committee.Role)
	Revoke(committeeID, principal string, role committee.Role)
}

// Service manages committee configuration.
type Service struct {
	store storage.CommitteeStore
	roles Roles
	log   *logger.Logger
}

// New constructs the committee service.
func New(store storage.CommitteeStore, roles Roles, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("committees")
	}
	return &Service{store: store, roles: roles, log: log}
}

// Create validates and stores a new committee configuration.
func (s *Service) Create(ctx context.Context, cfg committee.Config) (committee.Config, error) {
	if err := validate(cfg); err != nil {
		return committee.Config{}, err
	}
	cfg, err := s.store.CreateCommittee(ctx, cfg)
	if err != nil {
		return committee.Config{}, err
	}
	s.log.WithField("committee_id", cfg.ID).
		WithField("slots", cfg.TotalSlots()).
		WithField("threshold", cfg.Threshold).
		Info("committee created")
	return cfg, nil
}

// Update replaces a committee configuration. Existing applications keep the
// threshold and slot set captured at submission.
func (s *Service) Update(ctx context.Context, cfg committee.Config) (committee.Config, error) {
	if err := validate(cfg); err != nil {
		return committee.Config{}, err
	}
	cfg, err := s.store.UpdateCommittee(ctx, cfg)
	if err != nil {
		return committee.Config{}, err
	}
	s.log.WithField("committee_id", cfg.ID).Info("committee updated")
	return cfg, nil
}

// Get returns one committee.
func (s *Service) Get(ctx context.Context, id string) (committee.Config, error) {
	return s.store.GetCommittee(ctx, id)
}

// List returns all committees.
func (s *Service) List(ctx context.Context) ([]committee.Config, error) {
	return s.store.ListCommittees(ctx)
}

// GrantRole adds a principal to a committee role.
func (s *Service) GrantRole(ctx context.Context, committeeID, principal string, role committee.Role) error {
	if _, err := s.store.GetCommittee(ctx, committeeID); err != nil {
		return err
	}
	s.roles.Grant(committeeID, principal, role)
	s.log.WithField("committee_id", committeeID).
		WithField("principal", principal).
		WithField("role", role).
		Info("role granted")
	return nil
}

// RevokeRole removes a principal from a committee role. Slots the principal
// already holds stay locked.
func (s *Service) RevokeRole(ctx context.Context, committeeID, principal string, role committee.Role) error {
	if _, err := s.store.GetCommittee(ctx, committeeID); err != nil {
		return err
	}
	s.roles.Revoke(committeeID, principal, role)
	s.log.WithField("committee_id", committeeID).
		WithField("principal", principal).
		WithField("role", role).
		Info("role revoked")
	return nil
}

func validate(cfg committee.Config) error {
	if cfg.Name == "" {
		return fmt.Errorf("committee name is required")
	}
	if len(cfg.Roles) == 0 {
		return fmt.Errorf("committee needs at least one slot role")
	}
	seen := make(map[committee.Role]bool, len(cfg.Roles))
	for _, role := range cfg.Roles {
		if role == "" {
			return fmt.Errorf("slot roles must be non-empty")
		}
		if seen[role] {
			return fmt.Errorf("duplicate slot role %q", role)
		}
		seen[role] = true
	}
	if cfg.Threshold < 1 || cfg.Threshold > len(cfg.Roles) {
		return fmt.Errorf("threshold %d must be within 1..%d", cfg.Threshold, len(cfg.Roles))
	}
	if cfg.ProtocolShareBps > 10_000 {
		return fmt.Errorf("protocol share %d exceeds 10000 bps", cfg.ProtocolShareBps)
	}
	switch cfg.PaymentMethod {
	case committee.PaymentMethodNone, committee.PaymentMethodETHOnly,
		committee.PaymentMethodTokenOnly, committee.PaymentMethodETHAndToken:
	default:
		return fmt.Errorf("unknown payment method %q", cfg.PaymentMethod)
	}
	for role := range cfg.RoleShares {
		if !seen[role] {
			return fmt.Errorf("reward share for unknown role %q", role)
		}
	}
	return nil
}
